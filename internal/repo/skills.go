package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"skillswap/internal/domain"
)

const skillColumns = `id,name,category,active,usage_count,created_at`

func scanSkill(scan func(dest ...any) error) (domain.Skill, error) {
	var s domain.Skill
	var category, created string
	var active int
	if err := scan(&s.ID, &s.Name, &category, &active, &s.UsageCount, &created); err != nil {
		return s, err
	}
	s.Category = domain.SkillCategory(category)
	s.Active = active != 0
	ts, err := parseTS(created)
	if err != nil {
		return s, fmt.Errorf("skill %s created_at: %w", s.ID, err)
	}
	s.CreatedAt = ts
	return s, nil
}

// InsertSkill stores a skill under its normalized name.
func (r Repo) InsertSkill(ctx context.Context, s domain.Skill) (domain.Skill, error) {
	s.Name = domain.NormalizeSkillName(s.Name)
	if s.ID == "" || s.Name == "" {
		return s, errors.New("skill id and name required")
	}
	if !s.Category.Valid() {
		return s, fmt.Errorf("invalid skill category %q", s.Category)
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO skills(`+skillColumns+`) VALUES (?,?,?,?,?,?)`,
		s.ID, s.Name, string(s.Category), boolInt(s.Active), s.UsageCount, formatTS(s.CreatedAt))
	if isUniqueViolation(err) {
		return s, fmt.Errorf("skill %q: %w", s.Name, ErrUniqueViolation)
	}
	return s, err
}

func (r Repo) GetSkill(ctx context.Context, id string) (domain.Skill, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+skillColumns+` FROM skills WHERE id=?`, id)
	s, err := scanSkill(row.Scan)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) GetSkillByName(ctx context.Context, name string) (domain.Skill, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+skillColumns+` FROM skills WHERE name=?`, domain.NormalizeSkillName(name))
	s, err := scanSkill(row.Scan)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) ListSkills(ctx context.Context, category string, activeOnly bool) ([]domain.Skill, error) {
	q := sq.Select(skillColumns).From("skills").OrderBy("name")
	if category != "" {
		q = q.Where(sq.Eq{"category": category})
	}
	if activeOnly {
		q = q.Where(sq.Eq{"active": 1})
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Skill
	for rows.Next() {
		s, err := scanSkill(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) SetSkillActive(ctx context.Context, id string, active bool) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE skills SET active=? WHERE id=?`, boolInt(active), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSkill hard-deletes a skill. Skills referenced by any swap are kept
// and ErrReferenced is returned.
func (r Repo) DeleteSkill(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM skills WHERE id=?`, id)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("skill %s: %w", id, ErrReferenced)
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementSkillUsage bumps the usage counter once per distinct id.
func (r Repo) IncrementSkillUsage(ctx context.Context, tx *sql.Tx, ids ...string) error {
	seen := map[string]bool{}
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if _, err := r.q(tx).ExecContext(ctx, `UPDATE skills SET usage_count=usage_count+1 WHERE id=?`, id); err != nil {
			return fmt.Errorf("increment usage %s: %w", id, err)
		}
	}
	return nil
}
