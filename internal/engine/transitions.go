package engine

import (
	"time"

	"skillswap/internal/domain"
	"skillswap/internal/engine/auth"
	"skillswap/internal/events"
)

type arrow struct {
	to    domain.SwapStatus
	event string
}

// arrows is the lifecycle table. A missing (status, action) entry is illegal
// for every actor; role checks happen only once an arrow exists.
var arrows = map[domain.SwapStatus]map[domain.Action]arrow{
	domain.StatusPending: {
		domain.ActionAccept: {domain.StatusAccepted, events.TypeSwapAccepted},
		domain.ActionReject: {domain.StatusRejected, events.TypeSwapRejected},
		domain.ActionCancel: {domain.StatusCancelled, events.TypeSwapCancelled},
	},
	domain.StatusAccepted: {
		domain.ActionCancel:   {domain.StatusCancelled, events.TypeSwapCancelled},
		domain.ActionComplete: {domain.StatusCompleted, events.TypeSwapCompleted},
	},
}

func lookupArrow(from domain.SwapStatus, action domain.Action) (arrow, bool) {
	a, ok := arrows[from][action]
	return a, ok
}

// ensureSwapTransition validates (status, action, role) in the order the
// engine reports failures: illegal arrow before wrong role.
func ensureSwapTransition(s domain.Swap, role auth.Role, action domain.Action) (arrow, error) {
	a, ok := lookupArrow(s.Status, action)
	if !ok {
		return arrow{}, newError(KindInvalidTransition, "cannot %s a %s swap", action, s.Status).
			with("status", string(s.Status)).with("action", string(action))
	}
	if err := auth.Ensure(role, auth.Operation(action)); err != nil {
		return arrow{}, newError(KindForbidden, "%s", err.Error()).wrap(err)
	}
	return a, nil
}

// acceptsReason reports whether action may carry reason text.
func acceptsReason(action domain.Action) bool {
	return action == domain.ActionReject || action == domain.ActionCancel
}

// stampAfter returns now, or the instant right after prev when the clock has
// not moved past it, so lifecycle stamps strictly increase.
func stampAfter(prev, now time.Time) time.Time {
	now = now.UTC()
	if !now.After(prev) {
		return prev.UTC().Add(time.Nanosecond)
	}
	return now
}

// applyArrow stamps the field that belongs to the target status.
func applyArrow(s *domain.Swap, a arrow, at time.Time, reason string) {
	s.Status = a.to
	ts := at
	switch a.to {
	case domain.StatusAccepted:
		s.AcceptedAt = &ts
	case domain.StatusRejected:
		s.RejectedAt = &ts
	case domain.StatusCancelled:
		s.CancelledAt = &ts
	case domain.StatusCompleted:
		s.CompletedAt = &ts
	}
	if reason != "" {
		s.Reason = &reason
	}
}
