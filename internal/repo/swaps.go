package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"skillswap/internal/domain"
)

var swapColumns = []string{
	"id", "requester_id", "responder_id", "offered_skill_id", "requested_skill_id", "status",
	"COALESCE(message,'')", "reason", "created_at", "accepted_at", "rejected_at", "cancelled_at", "completed_at",
}

const swapSelect = `SELECT id,requester_id,responder_id,offered_skill_id,requested_skill_id,status,COALESCE(message,''),reason,created_at,accepted_at,rejected_at,cancelled_at,completed_at FROM swaps`

func scanSwap(scan func(dest ...any) error) (domain.Swap, error) {
	var s domain.Swap
	var status, created string
	var reason, accepted, rejected, cancelled, completed sql.NullString
	if err := scan(&s.ID, &s.RequesterID, &s.ResponderID, &s.OfferedSkill, &s.RequestedSkill, &status,
		&s.Message, &reason, &created, &accepted, &rejected, &cancelled, &completed); err != nil {
		return s, err
	}
	s.Status = domain.SwapStatus(status)
	if reason.Valid {
		s.Reason = &reason.String
	}
	var err error
	if s.CreatedAt, err = parseTS(created); err != nil {
		return s, fmt.Errorf("swap %s created_at: %w", s.ID, err)
	}
	for _, f := range []struct {
		dst **time.Time
		src sql.NullString
	}{
		{&s.AcceptedAt, accepted},
		{&s.RejectedAt, rejected},
		{&s.CancelledAt, cancelled},
		{&s.CompletedAt, completed},
	} {
		if *f.dst, err = parseTSPtr(f.src); err != nil {
			return s, fmt.Errorf("swap %s: %w", s.ID, err)
		}
	}
	return s, nil
}

func (r Repo) GetSwap(ctx context.Context, id string) (domain.Swap, error) {
	return r.getSwap(ctx, nil, id)
}

// GetSwapTx reads a swap inside tx so the caller observes the state it is
// about to conditionally update.
func (r Repo) GetSwapTx(ctx context.Context, tx *sql.Tx, id string) (domain.Swap, error) {
	return r.getSwap(ctx, tx, id)
}

func (r Repo) getSwap(ctx context.Context, tx *sql.Tx, id string) (domain.Swap, error) {
	s, err := scanSwap(r.q(tx).QueryRowContext(ctx, swapSelect+` WHERE id=?`, id).Scan)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

// ExistsActivePair reports whether a pending or accepted swap exists for the
// unordered pair {a, b}.
func (r Repo) ExistsActivePair(ctx context.Context, tx *sql.Tx, a, b string) (bool, error) {
	lo, hi := domain.PairKey(a, b)
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT 1 FROM swaps WHERE pair_lo=? AND pair_hi=? AND status IN ('pending','accepted') LIMIT 1`, lo, hi).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// InsertSwap persists a new record. A second active record for the same pair
// violates swaps_active_pair and yields ErrUniqueViolation.
func (r Repo) InsertSwap(ctx context.Context, tx *sql.Tx, s domain.Swap) error {
	lo, hi := domain.PairKey(s.RequesterID, s.ResponderID)
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO swaps(id,requester_id,responder_id,pair_lo,pair_hi,offered_skill_id,requested_skill_id,status,message,reason,created_at,accepted_at,rejected_at,cancelled_at,completed_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.RequesterID, s.ResponderID, lo, hi, s.OfferedSkill, s.RequestedSkill, string(s.Status),
		nullable(s.Message), nullableStringPtr(s.Reason), formatTS(s.CreatedAt),
		formatTSPtr(s.AcceptedAt), formatTSPtr(s.RejectedAt), formatTSPtr(s.CancelledAt), formatTSPtr(s.CompletedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("swap %s: %w", s.ID, ErrUniqueViolation)
	}
	return err
}

// UpdateSwapWhere applies mutate to the record only while its status still
// equals expected. Otherwise it returns ErrConditionNotMet and writes nothing.
func (r Repo) UpdateSwapWhere(ctx context.Context, tx *sql.Tx, id string, expected domain.SwapStatus, mutate func(*domain.Swap)) (domain.Swap, error) {
	cur, err := r.getSwap(ctx, tx, id)
	if err != nil {
		return cur, err
	}
	if cur.Status != expected {
		return cur, fmt.Errorf("swap %s is %s, expected %s: %w", id, cur.Status, expected, ErrConditionNotMet)
	}
	next := cur
	mutate(&next)
	res, err := r.q(tx).ExecContext(ctx, `UPDATE swaps SET status=?, reason=?, accepted_at=?, rejected_at=?, cancelled_at=?, completed_at=?
WHERE id=? AND status=?`,
		string(next.Status), nullableStringPtr(next.Reason),
		formatTSPtr(next.AcceptedAt), formatTSPtr(next.RejectedAt), formatTSPtr(next.CancelledAt), formatTSPtr(next.CompletedAt),
		id, string(expected))
	if isUniqueViolation(err) {
		return cur, fmt.Errorf("swap %s: %w", id, ErrUniqueViolation)
	}
	if err != nil {
		return cur, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return cur, fmt.Errorf("swap %s: %w", id, ErrConditionNotMet)
	}
	return next, nil
}

// DeleteSwapWhere hard-deletes the record only while its status equals expected.
func (r Repo) DeleteSwapWhere(ctx context.Context, tx *sql.Tx, id string, expected domain.SwapStatus) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM swaps WHERE id=? AND status=?`, id, string(expected))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("swap %s: %w", id, ErrConditionNotMet)
	}
	return nil
}

// SwapFilter selects swaps where UserID is either party.
type SwapFilter struct {
	UserID string
	Status domain.SwapStatus
	Limit  int
	Offset int
}

func (f SwapFilter) where() sq.Sqlizer {
	cond := sq.And{sq.Or{sq.Eq{"requester_id": f.UserID}, sq.Eq{"responder_id": f.UserID}}}
	if f.Status != "" {
		cond = append(cond, sq.Eq{"status": string(f.Status)})
	}
	return cond
}

// ListSwapsByParticipant returns one page ordered newest first.
func (r Repo) ListSwapsByParticipant(ctx context.Context, f SwapFilter) ([]domain.Swap, error) {
	q := sq.Select(swapColumns...).From("swaps").Where(f.where()).OrderBy("created_at DESC", "id DESC")
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		q = q.Offset(uint64(f.Offset))
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
	res := []domain.Swap{}
	for rows.Next() {
		s, err := scanSwap(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) CountSwapsByParticipant(ctx context.Context, f SwapFilter) (int64, error) {
	query, args, err := sq.Select("COUNT(*)").From("swaps").Where(f.where()).ToSql()
	if err != nil {
		return 0, err
	}
	var n int64
	if err := r.DB.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// CountSwapsByStatus tallies every swap a user is party to.
func (r Repo) CountSwapsByStatus(ctx context.Context, userID string) (map[domain.SwapStatus]int64, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM swaps WHERE requester_id=? OR responder_id=? GROUP BY status`, userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[domain.SwapStatus]int64{}
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		res[domain.SwapStatus(status)] = n
	}
	return res, rows.Err()
}
