package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"skillswap/internal/domain"
)

const userColumns = `id,COALESCE(display_name,''),suspended,average_rating,total_ratings,created_at`

func scanUser(scan func(dest ...any) error) (domain.User, error) {
	var u domain.User
	var suspended int
	var created string
	if err := scan(&u.ID, &u.DisplayName, &suspended, &u.Reputation.AverageRating, &u.Reputation.TotalRatings, &created); err != nil {
		return u, err
	}
	u.Suspended = suspended != 0
	ts, err := parseTS(created)
	if err != nil {
		return u, fmt.Errorf("user %s created_at: %w", u.ID, err)
	}
	u.CreatedAt = ts
	return u, nil
}

func (r Repo) InsertUser(ctx context.Context, u domain.User) error {
	if u.ID == "" {
		return errors.New("user id required")
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO users(id,display_name,suspended,average_rating,total_ratings,created_at) VALUES (?,?,?,?,?,?)`,
		u.ID, nullable(u.DisplayName), boolInt(u.Suspended), u.Reputation.AverageRating, u.Reputation.TotalRatings, formatTS(u.CreatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("user %s: %w", u.ID, ErrUniqueViolation)
	}
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	return r.getUser(ctx, nil, id)
}

func (r Repo) getUser(ctx context.Context, tx *sql.Tx, id string) (domain.User, error) {
	row := r.q(tx).QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id)
	u, err := scanUser(row.Scan)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}

func (r Repo) SetUserSuspended(ctx context.Context, id string, suspended bool) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE users SET suspended=? WHERE id=?`, boolInt(suspended), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) AddUserSkill(ctx context.Context, userID, skillID string, kind domain.SkillKind) error {
	if kind != domain.SkillOffered && kind != domain.SkillWanted {
		return fmt.Errorf("invalid skill kind %q", kind)
	}
	_, err := r.DB.ExecContext(ctx, `INSERT OR IGNORE INTO user_skills(user_id,skill_id,kind) VALUES (?,?,?)`, userID, skillID, string(kind))
	if isForeignKeyViolation(err) {
		return ErrNotFound
	}
	return err
}

func (r Repo) RemoveUserSkill(ctx context.Context, userID, skillID string, kind domain.SkillKind) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM user_skills WHERE user_id=? AND skill_id=? AND kind=?`, userID, skillID, string(kind))
	return err
}

// GetCapabilities returns the offered and wanted skill ids of a user.
func (r Repo) GetCapabilities(ctx context.Context, userID string) (domain.CapabilitySet, error) {
	set := domain.CapabilitySet{UserID: userID, Offered: []string{}, Wanted: []string{}}
	rows, err := r.DB.QueryContext(ctx, `SELECT skill_id, kind FROM user_skills WHERE user_id=? ORDER BY skill_id`, userID)
	if err != nil {
		return set, err
	}
	defer rows.Close()
	for rows.Next() {
		var skillID, kind string
		if err := rows.Scan(&skillID, &kind); err != nil {
			return set, err
		}
		switch domain.SkillKind(kind) {
		case domain.SkillOffered:
			set.Offered = append(set.Offered, skillID)
		case domain.SkillWanted:
			set.Wanted = append(set.Wanted, skillID)
		}
	}
	return set, rows.Err()
}

func (r Repo) GetReputation(ctx context.Context, userID string) (domain.Reputation, error) {
	var rep domain.Reputation
	err := r.DB.QueryRowContext(ctx, `SELECT average_rating,total_ratings FROM users WHERE id=?`, userID).
		Scan(&rep.AverageRating, &rep.TotalRatings)
	if err == sql.ErrNoRows {
		return rep, ErrNotFound
	}
	return rep, err
}

// ApplyRating folds one rating into the stored running average in a single
// statement, so concurrent writers cannot lose an update.
func (r Repo) ApplyRating(ctx context.Context, tx *sql.Tx, userID string, rating int) (domain.Reputation, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE users
SET average_rating = (average_rating * total_ratings + ?) / (total_ratings + 1),
    total_ratings = total_ratings + 1
WHERE id=?`, float64(rating), userID)
	if err != nil {
		return domain.Reputation{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Reputation{}, ErrNotFound
	}
	u, err := r.getUser(ctx, tx, userID)
	if err != nil {
		return domain.Reputation{}, err
	}
	return u.Reputation, nil
}

// RecomputeReputation rebuilds a user's score from the full feedback history.
// Maintenance only.
func (r Repo) RecomputeReputation(ctx context.Context, tx *sql.Tx, userID string) (domain.Reputation, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE users
SET average_rating = COALESCE((SELECT AVG(rating) FROM feedback WHERE to_user_id=?), 0),
    total_ratings = (SELECT COUNT(*) FROM feedback WHERE to_user_id=?)
WHERE id=?`, userID, userID, userID)
	if err != nil {
		return domain.Reputation{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Reputation{}, ErrNotFound
	}
	u, err := r.getUser(ctx, tx, userID)
	if err != nil {
		return domain.Reputation{}, err
	}
	return u.Reputation, nil
}
