package swapsdk_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skillswap/internal/config"
	"skillswap/internal/db"
	"skillswap/internal/domain"
	"skillswap/internal/engine"
	"skillswap/internal/migrate"
	"skillswap/internal/repo"
	"skillswap/internal/server"
	swapsdk "skillswap/sdk/go"
)

func newClients(t *testing.T) (*swapsdk.Client, *swapsdk.Client) {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, migrate.Migrate(ctx, conn))
	e := engine.New(conn, config.Default())

	now := time.Now()
	for _, sk := range []string{"guitar", "spanish"} {
		_, err := e.Repo.InsertSkill(ctx, domain.Skill{ID: sk, Name: sk, Category: domain.CategoryOther, Active: true, CreatedAt: now})
		require.NoError(t, err)
	}
	seed := []struct{ id, offers, wants string }{
		{"u1", "guitar", "spanish"},
		{"u2", "spanish", "guitar"},
	}
	for _, u := range seed {
		require.NoError(t, e.Repo.InsertUser(ctx, domain.User{ID: u.id, CreatedAt: now}))
		require.NoError(t, e.Repo.AddUserSkill(ctx, u.id, u.offers, domain.SkillOffered))
		require.NoError(t, e.Repo.AddUserSkill(ctx, u.id, u.wants, domain.SkillWanted))
		require.NoError(t, e.Repo.InsertAPIKey(ctx, domain.APIKey{
			ID: "key-" + u.id, UserID: u.id, KeyHash: repo.HashAPIKey("key-" + u.id), CreatedAt: now,
		}))
	}

	handler, err := server.New(server.Config{Engine: e, BasePath: "/v0"})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c1 := swapsdk.New(srv.URL)
	c1.APIKey = "key-u1"
	c2 := swapsdk.New(srv.URL)
	c2.APIKey = "key-u2"
	return c1, c2
}

func TestClientSwapFlow(t *testing.T) {
	ctx := context.Background()
	u1, u2 := newClients(t)

	skills, err := u1.Skills(ctx, "")
	require.NoError(t, err)
	assert.Len(t, skills, 2)

	s, err := u1.CreateSwap(ctx, "u2", "guitar", "spanish", "hola")
	require.NoError(t, err)
	assert.Equal(t, "pending", s.Status)

	_, err = u2.Accept(ctx, s.ID)
	require.NoError(t, err)
	s, err = u2.Complete(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "completed", s.Status)

	fb, err := u2.SubmitFeedback(ctx, s.ID, "", 3, "", false)
	require.NoError(t, err)
	assert.Equal(t, "u1", fb.ToUserID)
	assert.False(t, fb.IsPublic)

	rep, err := u2.Reputation(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3.0, rep.AverageRating)

	stats, err := u1.FeedbackStats(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Received)

	page, err := u1.UserSwaps(ctx, "u1", "", 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)

	evts, err := u2.Events(ctx, 10)
	require.NoError(t, err)
	require.Len(t, evts, 3)
	assert.Equal(t, "swap.accepted", evts[0].Type)
}

func TestClientDecodesErrorEnvelope(t *testing.T) {
	ctx := context.Background()
	u1, u2 := newClients(t)

	s, err := u1.CreateSwap(ctx, "u2", "guitar", "spanish", "")
	require.NoError(t, err)

	_, err = u1.Accept(ctx, s.ID)
	var apiErr *swapsdk.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Equal(t, "forbidden", apiErr.Code)

	_, err = u2.DeleteSwap(ctx, s.ID)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "forbidden", apiErr.Code)

	_, err = u1.Reject(ctx, s.ID, "")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "forbidden", apiErr.Code)

	deleted, err := u1.DeleteSwap(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, deleted.ID)

	_, err = u1.GetSwap(ctx, s.ID)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}
