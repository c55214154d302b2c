package engine_test

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"

	"skillswap/internal/config"
	"skillswap/internal/db"
	"skillswap/internal/domain"
	"skillswap/internal/engine"
	"skillswap/internal/migrate"
	"skillswap/internal/repo"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type testEnv struct {
	Engine engine.Engine
	Repo   repo.Repo
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	ctx := context.Background()
	require.NoError(t, migrate.Migrate(ctx, conn))
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Repo: eng.Repo, Ctx: ctx}
}

func (env testEnv) skill(t *testing.T, id, name string) {
	t.Helper()
	_, err := env.Repo.InsertSkill(env.Ctx, domain.Skill{
		ID: id, Name: name, Category: domain.CategoryOther, Active: true, CreatedAt: time.Now(),
	})
	require.NoError(t, err)
}

func (env testEnv) user(t *testing.T, id string, offers, wants []string) {
	t.Helper()
	require.NoError(t, env.Repo.InsertUser(env.Ctx, domain.User{ID: id, DisplayName: id, CreatedAt: time.Now()}))
	for _, s := range offers {
		require.NoError(t, env.Repo.AddUserSkill(env.Ctx, id, s, domain.SkillOffered))
	}
	for _, s := range wants {
		require.NoError(t, env.Repo.AddUserSkill(env.Ctx, id, s, domain.SkillWanted))
	}
}

// seedPair sets up u1 (offers guitar, wants spanish) and u2 (the reverse).
func seedPair(t *testing.T) testEnv {
	env := newTestEnv(t)
	env.skill(t, "guitar", "Guitar")
	env.skill(t, "spanish", "Spanish")
	env.user(t, "u1", []string{"guitar"}, []string{"spanish"})
	env.user(t, "u2", []string{"spanish"}, []string{"guitar"})
	return env
}

func (env testEnv) propose(t *testing.T) domain.Swap {
	t.Helper()
	s, err := env.Engine.CreateNegotiation(env.Ctx, engine.CreateNegotiationInput{
		RequesterID: "u1", ResponderID: "u2", OfferedSkillID: "guitar", RequestedSkillID: "spanish",
	})
	require.NoError(t, err)
	return s
}

func (env testEnv) completed(t *testing.T) domain.Swap {
	t.Helper()
	s := env.propose(t)
	_, err := env.Engine.Transition(env.Ctx, s.ID, "u2", domain.ActionAccept, "")
	require.NoError(t, err)
	s, err = env.Engine.Transition(env.Ctx, s.ID, "u1", domain.ActionComplete, "")
	require.NoError(t, err)
	return s
}

func TestScenarioA_CreatePending(t *testing.T) {
	env := seedPair(t)
	s := env.propose(t)
	assert.Equal(t, domain.StatusPending, s.Status)
	assert.NotEmpty(t, s.ID)

	stored, err := env.Engine.GetSwap(env.Ctx, s.ID, "u2")
	require.NoError(t, err)
	assert.Equal(t, s.ID, stored.ID)
	assert.True(t, stored.CreatedAt.Equal(s.CreatedAt))

	for _, id := range []string{"guitar", "spanish"} {
		sk, err := env.Repo.GetSkill(env.Ctx, id)
		require.NoError(t, err)
		assert.EqualValues(t, 1, sk.UsageCount, id)
	}
}

func TestScenarioB_AcceptThenAcceptAgain(t *testing.T) {
	env := seedPair(t)
	s := env.propose(t)

	accepted, err := env.Engine.Transition(env.Ctx, s.ID, "u2", domain.ActionAccept, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAccepted, accepted.Status)
	require.NotNil(t, accepted.AcceptedAt)

	_, err = env.Engine.Transition(env.Ctx, s.ID, "u2", domain.ActionAccept, "")
	assert.ErrorIs(t, err, engine.ErrInvalidTransition)
}

func TestScenarioC_CompleteAndRate(t *testing.T) {
	env := seedPair(t)
	s := env.completed(t)
	assert.Equal(t, domain.StatusCompleted, s.Status)

	fb, err := env.Engine.SubmitFeedback(env.Ctx, engine.SubmitFeedbackInput{SwapID: s.ID, FromUserID: "u1", Rating: 5})
	require.NoError(t, err)
	assert.Equal(t, "u2", fb.ToUserID)

	rep, err := env.Engine.GetReputation(env.Ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, 5.0, rep.AverageRating)
	assert.EqualValues(t, 1, rep.TotalRatings)
}

func TestScenarioD_DuplicateWhilePending(t *testing.T) {
	env := seedPair(t)
	env.propose(t)

	_, err := env.Engine.CreateNegotiation(env.Ctx, engine.CreateNegotiationInput{
		RequesterID: "u1", ResponderID: "u2", OfferedSkillID: "guitar", RequestedSkillID: "spanish",
	})
	assert.ErrorIs(t, err, engine.ErrDuplicateNegotiation)

	// the reversed pair is the same unordered pair
	_, err = env.Engine.CreateNegotiation(env.Ctx, engine.CreateNegotiationInput{
		RequesterID: "u2", ResponderID: "u1", OfferedSkillID: "spanish", RequestedSkillID: "guitar",
	})
	assert.ErrorIs(t, err, engine.ErrDuplicateNegotiation)
}

func TestScenarioE_OfferNotHeld(t *testing.T) {
	env := seedPair(t)
	env.skill(t, "piano", "Piano")

	_, err := env.Engine.CreateNegotiation(env.Ctx, engine.CreateNegotiationInput{
		RequesterID: "u1", ResponderID: "u2", OfferedSkillID: "piano", RequestedSkillID: "spanish",
	})
	assert.ErrorIs(t, err, engine.ErrSkillMismatch)

	page, err := env.Engine.GetUserSwaps(env.Ctx, "u1", "", 1, 10)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	sk, err := env.Repo.GetSkill(env.Ctx, "piano")
	require.NoError(t, err)
	assert.Zero(t, sk.UsageCount)
}

func TestCreateNegotiationPreconditions(t *testing.T) {
	env := seedPair(t)
	env.skill(t, "chess", "Chess")
	require.NoError(t, env.Repo.SetSkillActive(env.Ctx, "chess", false))
	require.NoError(t, env.Repo.AddUserSkill(env.Ctx, "u1", "chess", domain.SkillOffered))
	env.user(t, "u3", []string{"spanish"}, nil)
	require.NoError(t, env.Repo.SetUserSuspended(env.Ctx, "u3", true))

	cases := []struct {
		name string
		in   engine.CreateNegotiationInput
		want error
	}{
		{"self swap", engine.CreateNegotiationInput{RequesterID: "u1", ResponderID: "u1", OfferedSkillID: "guitar", RequestedSkillID: "spanish"}, engine.ErrInvalidParticipants},
		{"message too long", engine.CreateNegotiationInput{RequesterID: "u1", ResponderID: "u2", OfferedSkillID: "guitar", RequestedSkillID: "spanish", Message: strings.Repeat("x", 501)}, engine.ErrValidation},
		{"unknown requester", engine.CreateNegotiationInput{RequesterID: "ghost", ResponderID: "u2", OfferedSkillID: "guitar", RequestedSkillID: "spanish"}, engine.ErrUserNotFound},
		{"unknown responder", engine.CreateNegotiationInput{RequesterID: "u1", ResponderID: "ghost", OfferedSkillID: "guitar", RequestedSkillID: "spanish"}, engine.ErrUserNotFound},
		{"suspended responder", engine.CreateNegotiationInput{RequesterID: "u1", ResponderID: "u3", OfferedSkillID: "guitar", RequestedSkillID: "spanish"}, engine.ErrUserUnavailable},
		{"unknown skill", engine.CreateNegotiationInput{RequesterID: "u1", ResponderID: "u2", OfferedSkillID: "guitar", RequestedSkillID: "cello"}, engine.ErrSkillNotFound},
		{"inactive skill", engine.CreateNegotiationInput{RequesterID: "u1", ResponderID: "u2", OfferedSkillID: "chess", RequestedSkillID: "spanish"}, engine.ErrSkillNotFound},
		{"responder lacks skill", engine.CreateNegotiationInput{RequesterID: "u1", ResponderID: "u2", OfferedSkillID: "guitar", RequestedSkillID: "guitar"}, engine.ErrSkillMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.Engine.CreateNegotiation(env.Ctx, tc.in)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestNewNegotiationAllowedAfterTerminal(t *testing.T) {
	env := seedPair(t)
	s := env.propose(t)
	_, err := env.Engine.Transition(env.Ctx, s.ID, "u2", domain.ActionReject, "busy")
	require.NoError(t, err)

	again := env.propose(t)
	assert.NotEqual(t, s.ID, again.ID)
}

func TestConcurrentCreateSamePair(t *testing.T) {
	env := seedPair(t)
	const callers = 8

	var mu sync.Mutex
	var created, duplicates int
	var g errgroup.Group
	for i := 0; i < callers; i++ {
		requester, responder, offered, requested := "u1", "u2", "guitar", "spanish"
		if i%2 == 1 {
			requester, responder, offered, requested = "u2", "u1", "spanish", "guitar"
		}
		g.Go(func() error {
			_, err := env.Engine.CreateNegotiation(env.Ctx, engine.CreateNegotiationInput{
				RequesterID: requester, ResponderID: responder, OfferedSkillID: offered, RequestedSkillID: requested,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, engine.ErrDuplicateNegotiation):
				duplicates++
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 1, created)
	assert.Equal(t, callers-1, duplicates)
}

func TestConcurrentTransitionsOneWins(t *testing.T) {
	env := seedPair(t)
	s := env.propose(t)

	// accept and reject both leave pending and neither is legal afterwards
	actions := []domain.Action{domain.ActionAccept, domain.ActionReject}
	results := make([]error, len(actions))
	var g errgroup.Group
	for i, action := range actions {
		g.Go(func() error {
			_, results[i] = env.Engine.Transition(env.Ctx, s.ID, "u2", action, "")
			return nil
		})
	}
	require.NoError(t, g.Wait())

	var winner domain.Action
	for i, err := range results {
		if err == nil {
			require.Empty(t, winner, "both transitions succeeded")
			winner = actions[i]
			continue
		}
		assert.ErrorIs(t, err, engine.ErrInvalidTransition)
	}
	require.NotEmpty(t, winner)

	final, err := env.Engine.GetSwap(env.Ctx, s.ID, "u1")
	require.NoError(t, err)
	want := map[domain.Action]domain.SwapStatus{
		domain.ActionAccept: domain.StatusAccepted,
		domain.ActionReject: domain.StatusRejected,
	}[winner]
	assert.Equal(t, want, final.Status)
}

func TestTransitionLegality(t *testing.T) {
	// statuses reachable from pending by a legal path, with the actor that drives each step
	paths := map[domain.SwapStatus][]struct {
		actor  string
		action domain.Action
	}{
		domain.StatusPending:   nil,
		domain.StatusAccepted:  {{"u2", domain.ActionAccept}},
		domain.StatusRejected:  {{"u2", domain.ActionReject}},
		domain.StatusCancelled: {{"u1", domain.ActionCancel}},
		domain.StatusCompleted: {{"u2", domain.ActionAccept}, {"u1", domain.ActionComplete}},
	}
	legal := map[domain.SwapStatus][]domain.Action{
		domain.StatusPending:  {domain.ActionAccept, domain.ActionReject, domain.ActionCancel},
		domain.StatusAccepted: {domain.ActionCancel, domain.ActionComplete},
	}
	for status, steps := range paths {
		for _, action := range domain.Actions {
			isLegal := false
			for _, a := range legal[status] {
				if a == action {
					isLegal = true
				}
			}
			if isLegal {
				continue
			}
			t.Run(string(status)+"/"+string(action), func(t *testing.T) {
				env := seedPair(t)
				s := env.propose(t)
				for _, step := range steps {
					_, err := env.Engine.Transition(env.Ctx, s.ID, step.actor, step.action, "")
					require.NoError(t, err)
				}
				before, err := env.Engine.GetSwap(env.Ctx, s.ID, "u1")
				require.NoError(t, err)
				for _, actor := range []string{"u1", "u2"} {
					_, err := env.Engine.Transition(env.Ctx, s.ID, actor, action, "")
					assert.ErrorIs(t, err, engine.ErrInvalidTransition, actor)
				}
				after, err := env.Engine.GetSwap(env.Ctx, s.ID, "u1")
				require.NoError(t, err)
				assert.Equal(t, before, after)
			})
		}
	}
}

func TestTransitionRoles(t *testing.T) {
	env := seedPair(t)
	env.user(t, "u3", nil, nil)
	s := env.propose(t)

	_, err := env.Engine.Transition(env.Ctx, s.ID, "u1", domain.ActionAccept, "")
	assert.ErrorIs(t, err, engine.ErrForbidden)
	_, err = env.Engine.Transition(env.Ctx, s.ID, "u1", domain.ActionReject, "")
	assert.ErrorIs(t, err, engine.ErrForbidden)
	_, err = env.Engine.Transition(env.Ctx, s.ID, "u3", domain.ActionCancel, "")
	assert.ErrorIs(t, err, engine.ErrNotFound)
	_, err = env.Engine.Transition(env.Ctx, "missing", "u1", domain.ActionCancel, "")
	assert.ErrorIs(t, err, engine.ErrNotFound)
	_, err = env.Engine.Transition(env.Ctx, s.ID, "u2", domain.ActionAccept, "not allowed here")
	assert.ErrorIs(t, err, engine.ErrValidation)

	cancelled, err := env.Engine.Transition(env.Ctx, s.ID, "u2", domain.ActionCancel, "schedule clash")
	require.NoError(t, err)
	require.NotNil(t, cancelled.Reason)
	assert.Equal(t, "schedule clash", *cancelled.Reason)
	require.NotNil(t, cancelled.CancelledAt)
	assert.Nil(t, cancelled.AcceptedAt)
}

func TestTimestampsStrictlyIncrease(t *testing.T) {
	env := seedPair(t)
	s := env.completed(t)
	require.NotNil(t, s.AcceptedAt)
	require.NotNil(t, s.CompletedAt)
	assert.True(t, s.AcceptedAt.After(s.CreatedAt))
	assert.True(t, s.CompletedAt.After(*s.AcceptedAt))

	stored, err := env.Engine.GetSwap(env.Ctx, s.ID, "u1")
	require.NoError(t, err)
	assert.True(t, stored.CompletedAt.Equal(*s.CompletedAt))
}

func TestDeleteNegotiation(t *testing.T) {
	env := seedPair(t)
	env.user(t, "u3", nil, nil)
	s := env.propose(t)

	_, err := env.Engine.DeleteNegotiation(env.Ctx, s.ID, "u3")
	assert.ErrorIs(t, err, engine.ErrNotFound)
	_, err = env.Engine.DeleteNegotiation(env.Ctx, s.ID, "u2")
	assert.ErrorIs(t, err, engine.ErrForbidden)

	deleted, err := env.Engine.DeleteNegotiation(env.Ctx, s.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, s.ID, deleted.ID)
	_, err = env.Engine.GetSwap(env.Ctx, s.ID, "u1")
	assert.ErrorIs(t, err, engine.ErrNotFound)

	accepted := env.propose(t)
	_, err = env.Engine.Transition(env.Ctx, accepted.ID, "u2", domain.ActionAccept, "")
	require.NoError(t, err)
	_, err = env.Engine.DeleteNegotiation(env.Ctx, accepted.ID, "u1")
	assert.ErrorIs(t, err, engine.ErrInvalidTransition)
}

func TestFeedbackGating(t *testing.T) {
	env := seedPair(t)
	env.user(t, "u3", nil, nil)
	s := env.propose(t)

	for _, actor := range []string{"u1", "u2", "u3"} {
		_, err := env.Engine.SubmitFeedback(env.Ctx, engine.SubmitFeedbackInput{SwapID: s.ID, FromUserID: actor, Rating: 4})
		assert.ErrorIs(t, err, engine.ErrFeedbackNotAllowed, actor)
	}
	_, err := env.Engine.Transition(env.Ctx, s.ID, "u2", domain.ActionAccept, "")
	require.NoError(t, err)
	_, err = env.Engine.SubmitFeedback(env.Ctx, engine.SubmitFeedbackInput{SwapID: s.ID, FromUserID: "u1", Rating: 4})
	assert.ErrorIs(t, err, engine.ErrFeedbackNotAllowed)

	_, err = env.Engine.SubmitFeedback(env.Ctx, engine.SubmitFeedbackInput{SwapID: "missing", FromUserID: "u1", Rating: 4})
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestFeedbackValidationAndDuplicates(t *testing.T) {
	env := seedPair(t)
	env.user(t, "u3", nil, nil)
	s := env.completed(t)

	for _, rating := range []int{0, 6, -1} {
		_, err := env.Engine.SubmitFeedback(env.Ctx, engine.SubmitFeedbackInput{SwapID: s.ID, FromUserID: "u1", Rating: rating})
		assert.ErrorIs(t, err, engine.ErrValidation, rating)
	}
	_, err := env.Engine.SubmitFeedback(env.Ctx, engine.SubmitFeedbackInput{SwapID: s.ID, FromUserID: "u1", Rating: 3, Comment: strings.Repeat("c", 1001)})
	assert.ErrorIs(t, err, engine.ErrValidation)
	_, err = env.Engine.SubmitFeedback(env.Ctx, engine.SubmitFeedbackInput{SwapID: s.ID, FromUserID: "u3", Rating: 3})
	assert.ErrorIs(t, err, engine.ErrNotFound)
	_, err = env.Engine.SubmitFeedback(env.Ctx, engine.SubmitFeedbackInput{SwapID: s.ID, FromUserID: "u1", ToUserID: "u1", Rating: 3})
	assert.ErrorIs(t, err, engine.ErrValidation)

	_, err = env.Engine.SubmitFeedback(env.Ctx, engine.SubmitFeedbackInput{SwapID: s.ID, FromUserID: "u1", ToUserID: "u2", Rating: 3})
	require.NoError(t, err)
	_, err = env.Engine.SubmitFeedback(env.Ctx, engine.SubmitFeedbackInput{SwapID: s.ID, FromUserID: "u1", Rating: 5})
	assert.ErrorIs(t, err, engine.ErrDuplicateFeedback)

	rep, err := env.Engine.GetReputation(env.Ctx, "u2")
	require.NoError(t, err)
	assert.EqualValues(t, 1, rep.TotalRatings)
	assert.Equal(t, 3.0, rep.AverageRating)
}

func TestConcurrentDuplicateFeedback(t *testing.T) {
	env := seedPair(t)
	s := env.completed(t)

	const callers = 6
	errs := make([]error, callers)
	var g errgroup.Group
	for i := 0; i < callers; i++ {
		g.Go(func() error {
			_, errs[i] = env.Engine.SubmitFeedback(env.Ctx, engine.SubmitFeedbackInput{SwapID: s.ID, FromUserID: "u2", Rating: 4})
			return nil
		})
	}
	require.NoError(t, g.Wait())
	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, engine.ErrDuplicateFeedback)
	}
	assert.Equal(t, 1, ok)

	rep, err := env.Engine.GetReputation(env.Ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, rep.TotalRatings)
}

func TestReputationIsMeanOfRatings(t *testing.T) {
	env := newTestEnv(t)
	env.skill(t, "guitar", "Guitar")
	env.skill(t, "spanish", "Spanish")
	env.user(t, "target", []string{"spanish"}, nil)

	ratings := []int{5, 3, 4, 1, 2, 5}
	var g errgroup.Group
	for i, rating := range ratings {
		rater := "rater-" + string(rune('a'+i))
		env.user(t, rater, []string{"guitar"}, nil)
		s, err := env.Engine.CreateNegotiation(env.Ctx, engine.CreateNegotiationInput{
			RequesterID: rater, ResponderID: "target", OfferedSkillID: "guitar", RequestedSkillID: "spanish",
		})
		require.NoError(t, err)
		_, err = env.Engine.Transition(env.Ctx, s.ID, "target", domain.ActionAccept, "")
		require.NoError(t, err)
		_, err = env.Engine.Transition(env.Ctx, s.ID, rater, domain.ActionComplete, "")
		require.NoError(t, err)
		g.Go(func() error {
			_, err := env.Engine.SubmitFeedback(env.Ctx, engine.SubmitFeedbackInput{SwapID: s.ID, FromUserID: rater, Rating: rating})
			return err
		})
	}
	require.NoError(t, g.Wait())

	sum := 0
	for _, r := range ratings {
		sum += r
	}
	rep, err := env.Engine.GetReputation(env.Ctx, "target")
	require.NoError(t, err)
	assert.EqualValues(t, len(ratings), rep.TotalRatings)
	assert.InDelta(t, float64(sum)/float64(len(ratings)), rep.AverageRating, 1e-9)

	recomputed, err := env.Engine.RecomputeReputation(env.Ctx, "target", "admin")
	require.NoError(t, err)
	assert.InDelta(t, rep.AverageRating, recomputed.AverageRating, 1e-9)
	assert.Equal(t, rep.TotalRatings, recomputed.TotalRatings)

	stats, err := env.Engine.GetStats(env.Ctx, "target")
	require.NoError(t, err)
	assert.EqualValues(t, len(ratings), stats.Received)
	assert.Zero(t, stats.Given)
	assert.EqualValues(t, len(ratings), stats.Total)
}

func TestGetUserSwapsPaging(t *testing.T) {
	env := newTestEnv(t)
	env.skill(t, "guitar", "Guitar")
	env.skill(t, "spanish", "Spanish")
	env.user(t, "hub", []string{"spanish"}, nil)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 5; i++ {
		peer := "peer-" + string(rune('a'+i))
		env.user(t, peer, []string{"guitar"}, nil)
		at := base.Add(time.Duration(i) * time.Minute)
		env.Engine.Now = func() time.Time { return at }
		s, err := env.Engine.CreateNegotiation(env.Ctx, engine.CreateNegotiationInput{
			RequesterID: peer, ResponderID: "hub", OfferedSkillID: "guitar", RequestedSkillID: "spanish",
		})
		require.NoError(t, err)
		ids = append(ids, s.ID)
	}
	_, err := env.Engine.Transition(env.Ctx, ids[0], "hub", domain.ActionReject, "")
	require.NoError(t, err)

	page, err := env.Engine.GetUserSwaps(env.Ctx, "hub", "", 1, 2)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, ids[4], page.Items[0].ID)
	assert.Equal(t, ids[3], page.Items[1].ID)
	assert.EqualValues(t, 5, page.PageInfo.Total)
	assert.Equal(t, 3, page.PageInfo.TotalPages)
	assert.True(t, page.PageInfo.HasNext)

	last, err := env.Engine.GetUserSwaps(env.Ctx, "hub", "", 3, 2)
	require.NoError(t, err)
	require.Len(t, last.Items, 1)
	assert.Equal(t, ids[0], last.Items[0].ID)
	assert.False(t, last.PageInfo.HasNext)

	rejected, err := env.Engine.GetUserSwaps(env.Ctx, "hub", domain.StatusRejected, 1, 0)
	require.NoError(t, err)
	require.Len(t, rejected.Items, 1)
	assert.Equal(t, 20, rejected.PageInfo.Limit)

	beyond, err := env.Engine.GetUserSwaps(env.Ctx, "hub", "", 4, 2)
	require.NoError(t, err)
	assert.Empty(t, beyond.Items)
	assert.False(t, beyond.PageInfo.HasNext)

	huge, err := env.Engine.GetUserSwaps(env.Ctx, "hub", "", math.MaxInt64/10+1, 20)
	require.NoError(t, err)
	assert.Empty(t, huge.Items)
	assert.EqualValues(t, 5, huge.PageInfo.Total)

	_, err = env.Engine.GetUserSwaps(env.Ctx, "hub", "bogus", 1, 10)
	assert.ErrorIs(t, err, engine.ErrValidation)
	_, err = env.Engine.GetUserSwaps(env.Ctx, "nobody", "", 1, 10)
	assert.ErrorIs(t, err, engine.ErrUserNotFound)
}

type recordingSink struct {
	mu    sync.Mutex
	types []string
	fail  bool
}

func (s *recordingSink) Notify(_ context.Context, evt domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.types = append(s.types, evt.Type)
	if s.fail {
		return errors.New("sink down")
	}
	return nil
}

func TestNotificationsAfterCommit(t *testing.T) {
	env := seedPair(t)
	sink := &recordingSink{fail: true}
	env.Engine.Sink = sink

	s := env.completed(t)
	_, err := env.Engine.SubmitFeedback(env.Ctx, engine.SubmitFeedbackInput{SwapID: s.ID, FromUserID: "u2", Rating: 2})
	require.NoError(t, err, "a failing sink must not undo the write")

	assert.Equal(t, []string{"swap.completed", "feedback.recorded"}, sink.types)

	evts, err := env.Engine.ListEvents(env.Ctx, repo.EventFilter{EntityID: s.ID})
	require.NoError(t, err)
	var types []string
	for _, e := range evts {
		types = append(types, e.Type)
	}
	assert.Equal(t, []string{"swap.created", "swap.accepted", "swap.completed"}, types)
}

func TestEventsUseEngineClock(t *testing.T) {
	env := seedPair(t)
	at := time.Date(2030, 6, 1, 9, 30, 0, 0, time.UTC)
	env.Engine.Now = func() time.Time { return at }

	s := env.propose(t)
	assert.True(t, s.CreatedAt.Equal(at))

	evts, err := env.Engine.ListEvents(env.Ctx, repo.EventFilter{EntityID: s.ID})
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, at.Format(time.RFC3339Nano), evts[0].TS)
}
