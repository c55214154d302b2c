package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skillswap/internal/domain"
	"skillswap/internal/engine/auth"
)

func TestArrowsTable(t *testing.T) {
	legal := map[domain.SwapStatus][]domain.Action{
		domain.StatusPending:  {domain.ActionAccept, domain.ActionReject, domain.ActionCancel},
		domain.StatusAccepted: {domain.ActionCancel, domain.ActionComplete},
	}
	for _, from := range domain.Statuses {
		for _, action := range domain.Actions {
			_, ok := lookupArrow(from, action)
			want := false
			for _, a := range legal[from] {
				if a == action {
					want = true
				}
			}
			assert.Equal(t, want, ok, "%s/%s", from, action)
			if from.Terminal() {
				assert.False(t, ok)
			}
		}
	}
}

func TestEnsureSwapTransitionReportsIllegalBeforeRole(t *testing.T) {
	s := domain.Swap{Status: domain.StatusCompleted}
	_, err := ensureSwapTransition(s, auth.RoleNone, domain.ActionAccept)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	s.Status = domain.StatusPending
	_, err = ensureSwapTransition(s, auth.RoleRequester, domain.ActionAccept)
	assert.ErrorIs(t, err, ErrForbidden)
	var fe auth.ForbiddenError
	assert.True(t, errors.As(err, &fe))

	a, err := ensureSwapTransition(s, auth.RoleResponder, domain.ActionAccept)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAccepted, a.to)
}

func TestStampAfter(t *testing.T) {
	prev := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, prev.Add(time.Nanosecond), stampAfter(prev, prev))
	assert.Equal(t, prev.Add(time.Nanosecond), stampAfter(prev, prev.Add(-time.Hour)))
	assert.Equal(t, prev.Add(time.Second), stampAfter(prev, prev.Add(time.Second)))
}

func TestApplyArrowSetsOnlyTargetStamp(t *testing.T) {
	at := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	s := domain.Swap{Status: domain.StatusPending}
	a, ok := lookupArrow(domain.StatusPending, domain.ActionReject)
	require.True(t, ok)
	applyArrow(&s, a, at, "busy")
	assert.Equal(t, domain.StatusRejected, s.Status)
	require.NotNil(t, s.RejectedAt)
	assert.Equal(t, at, *s.RejectedAt)
	assert.Nil(t, s.AcceptedAt)
	assert.Nil(t, s.CancelledAt)
	assert.Nil(t, s.CompletedAt)
	require.NotNil(t, s.Reason)
	assert.Equal(t, "busy", *s.Reason)
	assert.Equal(t, at, s.LastStamp())
}

func TestErrorMatchesByKind(t *testing.T) {
	err := newError(KindDuplicateFeedback, "already rated").with("swap_id", "s1")
	assert.ErrorIs(t, err, ErrDuplicateFeedback)
	assert.NotErrorIs(t, err, ErrDuplicateNegotiation)
	assert.Equal(t, KindDuplicateFeedback, KindOf(err))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.Equal(t, "s1", err.Details["swap_id"])
}
