package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"skillswap/internal/config"
	"skillswap/internal/domain"
	"skillswap/internal/engine/auth"
	"skillswap/internal/events"
	"skillswap/internal/metrics"
	"skillswap/internal/repo"
)

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Sink    events.Sink
	Config  *config.Config
	Metrics *metrics.Manager
	Log     *zap.Logger
	Now     func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db, Retry: cfg.Retry},
		Events: events.Writer{},
		Sink:   events.NopSink{},
		Config: cfg,
		Log:    zap.NewNop(),
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) cfg() *config.Config {
	if e.Config != nil {
		return e.Config
	}
	return config.Default()
}

func (e Engine) log() *zap.Logger {
	if e.Log != nil {
		return e.Log
	}
	return zap.NewNop()
}

// writer stamps events with the engine clock unless the writer has its own.
func (e Engine) writer() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

// store returns the repo with retry observation bound to this engine.
func (e Engine) store() repo.Repo {
	r := e.Repo
	if r.DB == nil {
		r.DB = e.DB
	}
	r.OnRetry = func(err error, wait time.Duration) {
		e.Metrics.RecordStoreRetry()
		e.log().Warn("retrying store transaction", zap.Error(err), zap.Duration("wait", wait))
	}
	return r
}

// notify hands a committed event to the sink. Failures are logged only.
func (e Engine) notify(ctx context.Context, evt domain.Event) {
	if e.Sink == nil {
		return
	}
	if err := e.Sink.Notify(context.WithoutCancel(ctx), evt); err != nil {
		e.Metrics.RecordNotifyFailure()
		e.log().Warn("notification failed",
			zap.String("type", evt.Type), zap.String("entity_id", evt.EntityID), zap.Error(err))
	}
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if k := KindOf(err); k != "" {
		return string(k)
	}
	return "error"
}

// CreateNegotiationInput are parameters for proposing a swap.
type CreateNegotiationInput struct {
	RequesterID      string
	ResponderID      string
	OfferedSkillID   string
	RequestedSkillID string
	Message          string
}

// CreateNegotiation validates a proposal against the directory and catalog
// and persists it as pending. The duplicate-pair check and the insert share
// one write transaction; the partial unique index on the pair is the final
// word when two callers race.
func (e Engine) CreateNegotiation(ctx context.Context, in CreateNegotiationInput) (s domain.Swap, err error) {
	defer func() { e.Metrics.RecordNegotiation(outcome(err)) }()

	in.RequesterID = strings.TrimSpace(in.RequesterID)
	in.ResponderID = strings.TrimSpace(in.ResponderID)
	if in.RequesterID == in.ResponderID {
		return domain.Swap{}, newError(KindInvalidParticipants, "requester and responder must be different users")
	}
	if in.RequesterID == "" || in.ResponderID == "" {
		return domain.Swap{}, newError(KindValidation, "requester and responder are required")
	}
	if in.OfferedSkillID == "" || in.RequestedSkillID == "" {
		return domain.Swap{}, newError(KindValidation, "offered and requested skills are required")
	}
	if maxLen := e.cfg().Limits.MessageMax; utf8.RuneCountInString(in.Message) > maxLen {
		return domain.Swap{}, newError(KindValidation, "message exceeds %d characters", maxLen).with("field", "message")
	}

	r := e.store()
	for _, id := range []string{in.RequesterID, in.ResponderID} {
		if err := e.ensureUserAvailable(ctx, r, id); err != nil {
			return domain.Swap{}, err
		}
	}
	for _, id := range []string{in.OfferedSkillID, in.RequestedSkillID} {
		if err := e.ensureSkillActive(ctx, r, id); err != nil {
			return domain.Swap{}, err
		}
	}
	responderCaps, err := r.GetCapabilities(ctx, in.ResponderID)
	if err != nil {
		return domain.Swap{}, err
	}
	if !responderCaps.Offers(in.RequestedSkillID) {
		return domain.Swap{}, newError(KindSkillMismatch, "user %s does not offer skill %s", in.ResponderID, in.RequestedSkillID).
			with("skill_id", in.RequestedSkillID)
	}
	requesterCaps, err := r.GetCapabilities(ctx, in.RequesterID)
	if err != nil {
		return domain.Swap{}, err
	}
	if !requesterCaps.Offers(in.OfferedSkillID) {
		return domain.Swap{}, newError(KindSkillMismatch, "user %s does not offer skill %s", in.RequesterID, in.OfferedSkillID).
			with("skill_id", in.OfferedSkillID)
	}

	s = domain.Swap{
		ID:             uuid.NewString(),
		RequesterID:    in.RequesterID,
		ResponderID:    in.ResponderID,
		OfferedSkill:   in.OfferedSkillID,
		RequestedSkill: in.RequestedSkillID,
		Status:         domain.StatusPending,
		Message:        in.Message,
		CreatedAt:      e.now(),
	}
	duplicate := func() error {
		return newError(KindDuplicateNegotiation, "an active swap already exists between %s and %s", in.RequesterID, in.ResponderID)
	}
	err = r.InTx(ctx, func(tx *sql.Tx) error {
		exists, err := r.ExistsActivePair(ctx, tx, s.RequesterID, s.ResponderID)
		if err != nil {
			return err
		}
		if exists {
			return duplicate()
		}
		if err := r.InsertSwap(ctx, tx, s); err != nil {
			if errors.Is(err, repo.ErrUniqueViolation) {
				return duplicate()
			}
			return fmt.Errorf("insert swap: %w", err)
		}
		if err := r.IncrementSkillUsage(ctx, tx, s.OfferedSkill, s.RequestedSkill); err != nil {
			return err
		}
		_, err = e.writer().Append(ctx, tx, events.TypeSwapCreated, "swap", s.ID, s.RequesterID, events.EventPayload{
			"responder_id":       s.ResponderID,
			"offered_skill_id":   s.OfferedSkill,
			"requested_skill_id": s.RequestedSkill,
		})
		return err
	})
	if err != nil {
		return domain.Swap{}, err
	}
	e.log().Info("swap created", zap.String("swap_id", s.ID),
		zap.String("requester_id", s.RequesterID), zap.String("responder_id", s.ResponderID))
	return s, nil
}

func (e Engine) ensureUserAvailable(ctx context.Context, r repo.Repo, id string) error {
	u, err := r.GetUser(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return userNotFound(id)
	}
	if err != nil {
		return err
	}
	if u.Suspended {
		return newError(KindUserUnavailable, "user %s is unavailable", id).with("user_id", id)
	}
	return nil
}

func (e Engine) ensureSkillActive(ctx context.Context, r repo.Repo, id string) error {
	sk, err := r.GetSkill(ctx, id)
	if errors.Is(err, repo.ErrNotFound) || (err == nil && !sk.Active) {
		return newError(KindSkillNotFound, "skill %s not found", id).with("skill_id", id)
	}
	return err
}

func swapNotFound(id string) *Error {
	return newError(KindNotFound, "swap %s not found", id).with("swap_id", id)
}

// Transition moves a swap along one arrow of the lifecycle. The write is
// conditional on the status observed in the same transaction; a caller that
// loses a race gets InvalidTransition, never a silent overwrite.
func (e Engine) Transition(ctx context.Context, swapID, actorID string, action domain.Action, reason string) (updated domain.Swap, err error) {
	defer func() { e.Metrics.RecordTransition(string(action), outcome(err)) }()

	if !action.Valid() {
		return domain.Swap{}, newError(KindValidation, "unknown action %q", action).with("field", "action")
	}
	reason = strings.TrimSpace(reason)
	if reason != "" && !acceptsReason(action) {
		return domain.Swap{}, newError(KindValidation, "a reason is only accepted on reject or cancel").with("field", "reason")
	}
	if maxLen := e.cfg().Limits.ReasonMax; utf8.RuneCountInString(reason) > maxLen {
		return domain.Swap{}, newError(KindValidation, "reason exceeds %d characters", maxLen).with("field", "reason")
	}

	r := e.store()
	var evt domain.Event
	err = r.InTx(ctx, func(tx *sql.Tx) error {
		cur, err := r.GetSwapTx(ctx, tx, swapID)
		if errors.Is(err, repo.ErrNotFound) {
			return swapNotFound(swapID)
		}
		if err != nil {
			return err
		}
		role := auth.RoleOf(cur, actorID)
		if role == auth.RoleNone {
			return swapNotFound(swapID)
		}
		a, err := ensureSwapTransition(cur, role, action)
		if err != nil {
			return err
		}
		at := stampAfter(cur.LastStamp(), e.now())
		updated, err = r.UpdateSwapWhere(ctx, tx, swapID, cur.Status, func(s *domain.Swap) {
			applyArrow(s, a, at, reason)
		})
		if errors.Is(err, repo.ErrConditionNotMet) {
			return newError(KindInvalidTransition, "swap %s changed concurrently", swapID).wrap(err)
		}
		if err != nil {
			return err
		}
		payload := events.EventPayload{"from": string(cur.Status), "to": string(updated.Status)}
		if reason != "" {
			payload["reason"] = reason
		}
		evt, err = e.writer().Append(ctx, tx, a.event, "swap", swapID, actorID, payload)
		return err
	})
	if err != nil {
		return domain.Swap{}, err
	}
	e.log().Info("swap transitioned", zap.String("swap_id", swapID),
		zap.String("action", string(action)), zap.String("status", string(updated.Status)))
	if updated.Status == domain.StatusCompleted {
		e.notify(ctx, evt)
	}
	return updated, nil
}

// DeleteNegotiation hard-deletes a pending swap on behalf of its requester.
func (e Engine) DeleteNegotiation(ctx context.Context, swapID, requesterID string) (domain.Swap, error) {
	r := e.store()
	var deleted domain.Swap
	err := r.InTx(ctx, func(tx *sql.Tx) error {
		cur, err := r.GetSwapTx(ctx, tx, swapID)
		if errors.Is(err, repo.ErrNotFound) {
			return swapNotFound(swapID)
		}
		if err != nil {
			return err
		}
		role := auth.RoleOf(cur, requesterID)
		if role == auth.RoleNone {
			return swapNotFound(swapID)
		}
		if err := auth.Ensure(role, auth.OpDelete); err != nil {
			return newError(KindForbidden, "only the requester may delete a swap").wrap(err)
		}
		if cur.Status != domain.StatusPending {
			return newError(KindInvalidTransition, "cannot delete a %s swap", cur.Status).with("status", string(cur.Status))
		}
		if err := r.DeleteSwapWhere(ctx, tx, swapID, domain.StatusPending); err != nil {
			if errors.Is(err, repo.ErrConditionNotMet) {
				return newError(KindInvalidTransition, "swap %s changed concurrently", swapID).wrap(err)
			}
			return err
		}
		deleted = cur
		_, err = e.writer().Append(ctx, tx, events.TypeSwapDeleted, "swap", swapID, requesterID, nil)
		return err
	})
	if err != nil {
		return domain.Swap{}, err
	}
	e.log().Info("swap deleted", zap.String("swap_id", swapID))
	return deleted, nil
}

// GetSwap returns a swap to one of its parties.
func (e Engine) GetSwap(ctx context.Context, swapID, actorID string) (domain.Swap, error) {
	s, err := e.store().GetSwap(ctx, swapID)
	if errors.Is(err, repo.ErrNotFound) || (err == nil && !s.Involves(actorID)) {
		return domain.Swap{}, swapNotFound(swapID)
	}
	return s, err
}

// GetUserSwaps lists swaps userID is party to, newest first.
func (e Engine) GetUserSwaps(ctx context.Context, userID string, status domain.SwapStatus, page, limit int) (domain.SwapPage, error) {
	if status != "" && !status.Valid() {
		return domain.SwapPage{}, newError(KindValidation, "unknown status %q", status).with("field", "status")
	}
	cfg := e.cfg()
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = cfg.Listing.DefaultLimit
	}
	if limit > cfg.Listing.MaxLimit {
		limit = cfg.Listing.MaxLimit
	}
	r := e.store()
	if _, err := r.GetUser(ctx, userID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.SwapPage{}, userNotFound(userID)
		}
		return domain.SwapPage{}, err
	}
	filter := repo.SwapFilter{UserID: userID, Status: status, Limit: limit}
	total, err := r.CountSwapsByParticipant(ctx, filter)
	if err != nil {
		return domain.SwapPage{}, err
	}
	pages := int((total + int64(limit) - 1) / int64(limit))
	// Pages past the end are empty and never compute an offset.
	items := []domain.Swap{}
	if page <= pages {
		filter.Offset = (page - 1) * limit
		if items, err = r.ListSwapsByParticipant(ctx, filter); err != nil {
			return domain.SwapPage{}, err
		}
	}
	return domain.SwapPage{
		Items: items,
		PageInfo: domain.PageInfo{
			Page:       page,
			Limit:      limit,
			Total:      total,
			TotalPages: pages,
			HasNext:    page < pages,
		},
	}, nil
}

// ListEvents reads the audit log in append order.
func (e Engine) ListEvents(ctx context.Context, f repo.EventFilter) ([]domain.Event, error) {
	if f.Limit <= 0 || f.Limit > e.cfg().Listing.MaxLimit {
		f.Limit = e.cfg().Listing.MaxLimit
	}
	return e.store().ListEvents(ctx, f)
}
