package repo

import (
	"context"
	"database/sql"
	"fmt"

	"skillswap/internal/domain"
)

const feedbackColumns = `id,swap_id,from_user_id,to_user_id,rating,COALESCE(comment,''),is_public,created_at`

func scanFeedback(scan func(dest ...any) error) (domain.Feedback, error) {
	var f domain.Feedback
	var public int
	var created string
	if err := scan(&f.ID, &f.SwapID, &f.FromUserID, &f.ToUserID, &f.Rating, &f.Comment, &public, &created); err != nil {
		return f, err
	}
	f.IsPublic = public != 0
	ts, err := parseTS(created)
	if err != nil {
		return f, fmt.Errorf("feedback %s created_at: %w", f.ID, err)
	}
	f.CreatedAt = ts
	return f, nil
}

// InsertFeedback stores one rating. A second submission by the same user for
// the same swap yields ErrUniqueViolation.
func (r Repo) InsertFeedback(ctx context.Context, tx *sql.Tx, f domain.Feedback) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO feedback(id,swap_id,from_user_id,to_user_id,rating,comment,is_public,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		f.ID, f.SwapID, f.FromUserID, f.ToUserID, f.Rating, nullable(f.Comment), boolInt(f.IsPublic), formatTS(f.CreatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("feedback for swap %s by %s: %w", f.SwapID, f.FromUserID, ErrUniqueViolation)
	}
	return err
}

func (r Repo) FeedbackExists(ctx context.Context, tx *sql.Tx, swapID, fromUserID string) (bool, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT 1 FROM feedback WHERE swap_id=? AND from_user_id=? LIMIT 1`, swapID, fromUserID).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) ListFeedbackForSwap(ctx context.Context, swapID string) ([]domain.Feedback, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+feedbackColumns+` FROM feedback WHERE swap_id=? ORDER BY created_at, id`, swapID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Feedback{}
	for rows.Next() {
		f, err := scanFeedback(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, f)
	}
	return res, rows.Err()
}

// FeedbackStats counts ratings given and received by a user along with the
// mean of the received ratings.
func (r Repo) FeedbackStats(ctx context.Context, userID string) (domain.FeedbackStats, error) {
	stats := domain.FeedbackStats{UserID: userID}
	err := r.DB.QueryRowContext(ctx, `SELECT
  (SELECT COUNT(*) FROM feedback WHERE from_user_id=?),
  (SELECT COUNT(*) FROM feedback WHERE to_user_id=?),
  (SELECT COALESCE(AVG(rating),0) FROM feedback WHERE to_user_id=?)`, userID, userID, userID).
		Scan(&stats.Given, &stats.Received, &stats.AverageRating)
	if err != nil {
		return stats, err
	}
	stats.Total = stats.Given + stats.Received
	return stats, nil
}
