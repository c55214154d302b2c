package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"skillswap/internal/domain"
	"skillswap/internal/events"
	"skillswap/internal/repo"
)

const (
	minRating = 1
	maxRating = 5
)

// SubmitFeedbackInput are parameters for rating the other party of a
// completed swap. ToUserID is optional and defaults to the counterparty.
type SubmitFeedbackInput struct {
	SwapID     string
	FromUserID string
	ToUserID   string
	Rating     int
	Comment    string
	IsPublic   bool
}

// SubmitFeedback records one rating and folds it into the recipient's
// reputation in the same transaction, so both become durable together.
// The feedback.recorded notification is sent after commit.
func (e Engine) SubmitFeedback(ctx context.Context, in SubmitFeedbackInput) (fb domain.Feedback, err error) {
	defer func() { e.Metrics.RecordFeedback(outcome(err)) }()

	if in.Rating < minRating || in.Rating > maxRating {
		return domain.Feedback{}, newError(KindValidation, "rating must be between %d and %d", minRating, maxRating).
			with("field", "rating")
	}
	in.Comment = strings.TrimSpace(in.Comment)
	if maxLen := e.cfg().Limits.CommentMax; utf8.RuneCountInString(in.Comment) > maxLen {
		return domain.Feedback{}, newError(KindValidation, "comment exceeds %d characters", maxLen).with("field", "comment")
	}

	r := e.store()
	var evt domain.Event
	var rep domain.Reputation
	err = r.InTx(ctx, func(tx *sql.Tx) error {
		s, err := r.GetSwapTx(ctx, tx, in.SwapID)
		if errors.Is(err, repo.ErrNotFound) {
			return swapNotFound(in.SwapID)
		}
		if err != nil {
			return err
		}
		if s.Status != domain.StatusCompleted {
			return newError(KindFeedbackNotAllowed, "feedback requires a completed swap, swap %s is %s", s.ID, s.Status).
				with("status", string(s.Status))
		}
		if !s.Involves(in.FromUserID) {
			return swapNotFound(in.SwapID)
		}
		to := s.Counterparty(in.FromUserID)
		if in.ToUserID != "" && in.ToUserID != to {
			return newError(KindValidation, "feedback must target the other party of the swap").with("field", "to_user_id")
		}
		exists, err := r.FeedbackExists(ctx, tx, s.ID, in.FromUserID)
		if err != nil {
			return err
		}
		if exists {
			return duplicateFeedback(s.ID, in.FromUserID)
		}
		fb = domain.Feedback{
			ID:         uuid.NewString(),
			SwapID:     s.ID,
			FromUserID: in.FromUserID,
			ToUserID:   to,
			Rating:     in.Rating,
			Comment:    in.Comment,
			IsPublic:   in.IsPublic,
			CreatedAt:  e.now(),
		}
		if err := r.InsertFeedback(ctx, tx, fb); err != nil {
			if errors.Is(err, repo.ErrUniqueViolation) {
				return duplicateFeedback(s.ID, in.FromUserID)
			}
			return fmt.Errorf("insert feedback: %w", err)
		}
		if rep, err = r.ApplyRating(ctx, tx, to, in.Rating); err != nil {
			return fmt.Errorf("apply rating: %w", err)
		}
		evt, err = e.writer().Append(ctx, tx, events.TypeFeedbackRecorded, "feedback", fb.ID, in.FromUserID, events.EventPayload{
			"swap_id":        s.ID,
			"to_user_id":     to,
			"rating":         in.Rating,
			"average_rating": rep.AverageRating,
			"total_ratings":  rep.TotalRatings,
		})
		return err
	})
	if err != nil {
		return domain.Feedback{}, err
	}
	e.log().Info("feedback recorded", zap.String("swap_id", fb.SwapID),
		zap.String("to_user_id", fb.ToUserID), zap.Int("rating", fb.Rating),
		zap.Float64("average_rating", rep.AverageRating))
	e.notify(ctx, evt)
	return fb, nil
}

func duplicateFeedback(swapID, fromUserID string) *Error {
	return newError(KindDuplicateFeedback, "user %s already left feedback on swap %s", fromUserID, swapID).
		with("swap_id", swapID)
}

func userNotFound(id string) *Error {
	return newError(KindUserNotFound, "user %s not found", id).with("user_id", id)
}

// GetStats aggregates the ratings a user has given and received.
func (e Engine) GetStats(ctx context.Context, userID string) (domain.FeedbackStats, error) {
	r := e.store()
	if _, err := r.GetUser(ctx, userID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.FeedbackStats{}, userNotFound(userID)
		}
		return domain.FeedbackStats{}, err
	}
	return r.FeedbackStats(ctx, userID)
}

func (e Engine) GetReputation(ctx context.Context, userID string) (domain.Reputation, error) {
	rep, err := e.store().GetReputation(ctx, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Reputation{}, userNotFound(userID)
	}
	return rep, err
}

// RecomputeReputation rebuilds a score from the full feedback history.
// Maintenance only; the submit path never calls it.
func (e Engine) RecomputeReputation(ctx context.Context, userID, actorID string) (domain.Reputation, error) {
	r := e.store()
	var rep domain.Reputation
	err := r.InTx(ctx, func(tx *sql.Tx) error {
		var err error
		rep, err = r.RecomputeReputation(ctx, tx, userID)
		if errors.Is(err, repo.ErrNotFound) {
			return userNotFound(userID)
		}
		if err != nil {
			return err
		}
		_, err = e.writer().Append(ctx, tx, events.TypeReputationRecomputed, "user", userID, actorID, events.EventPayload{
			"average_rating": rep.AverageRating,
			"total_ratings":  rep.TotalRatings,
		})
		return err
	})
	if err != nil {
		return domain.Reputation{}, err
	}
	e.log().Info("reputation recomputed", zap.String("user_id", userID),
		zap.Float64("average_rating", rep.AverageRating), zap.Int64("total_ratings", rep.TotalRatings))
	return rep, nil
}
