package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yarnnn/orchestrator/pkg/models"
	"github.com/yarnnn/orchestrator/pkg/store"
)

func TestConnectionStore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "user-1")

	conn := &models.PlatformConnection{
		UserID:      "user-1",
		Provider:    models.PlatformSlack,
		Credentials: "sealed-blob",
		Scopes:      []string{"channels:history", "channels:read"},
	}
	require.NoError(t, s.Connections.Create(ctx, conn))

	t.Run("one connection per user and provider", func(t *testing.T) {
		dup := &models.PlatformConnection{
			UserID:      "user-1",
			Provider:    models.PlatformSlack,
			Credentials: "other-blob",
		}
		err := s.Connections.Create(ctx, dup)
		assert.ErrorIs(t, err, store.ErrAlreadyExists)
	})

	t.Run("get by user and provider", func(t *testing.T) {
		got, err := s.Connections.GetByUserAndProvider(ctx, "user-1", models.PlatformSlack)
		require.NoError(t, err)
		assert.Equal(t, conn.ID, got.ID)
		assert.Equal(t, models.ConnectionActive, got.Status)
		assert.Equal(t, []string{"channels:history", "channels:read"}, got.Scopes)

		_, err = s.Connections.GetByUserAndProvider(ctx, "user-1", models.PlatformNotion)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("landscape refresh preserves selections for surviving resources", func(t *testing.T) {
		now := time.Now().UTC()
		_, err := s.Connections.RefreshLandscape(ctx, conn.ID, []models.Resource{
			{ID: "C1", Name: "general", Kind: "channel"},
			{ID: "C2", Name: "eng", Kind: "channel"},
			{ID: "C3", Name: "random", Kind: "channel"},
		}, now)
		require.NoError(t, err)

		require.NoError(t, s.Connections.UpdateSelectedSources(ctx, conn.ID, []string{"C1", "C3"}))

		// C3 disappears from the catalog; the C1 selection must survive
		merged, err := s.Connections.RefreshLandscape(ctx, conn.ID, []models.Resource{
			{ID: "C1", Name: "general", Kind: "channel"},
			{ID: "C2", Name: "eng", Kind: "channel"},
		}, now.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, []string{"C1"}, merged.SelectedSources)
		assert.Len(t, merged.Resources, 2)
		require.NotNil(t, merged.RefreshedAt)
	})

	t.Run("selection ignores unknown resource IDs", func(t *testing.T) {
		require.NoError(t, s.Connections.UpdateSelectedSources(ctx, conn.ID, []string{"C2", "bogus"}))

		got, err := s.Connections.Get(ctx, conn.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"C2"}, got.Landscape.SelectedSources)
	})

	t.Run("status transitions", func(t *testing.T) {
		require.NoError(t, s.Connections.UpdateStatus(ctx, conn.ID, models.ConnectionExpired, "refresh token revoked"))

		got, err := s.Connections.Get(ctx, conn.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ConnectionExpired, got.Status)
		assert.Equal(t, "refresh token revoked", got.StatusDetail)

		active, err := s.Connections.ListActiveByUser(ctx, "user-1")
		require.NoError(t, err)
		assert.Empty(t, active)

		// New credentials reactivate the connection
		require.NoError(t, s.Connections.UpdateCredentials(ctx, conn.ID, "fresh-blob"))
		got, err = s.Connections.Get(ctx, conn.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ConnectionActive, got.Status)
		assert.Empty(t, got.StatusDetail)
	})
}

func TestUserListingFollowsConnections(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "user-a")
	seedUser(t, s, "user-b")

	require.NoError(t, s.Connections.Create(ctx, &models.PlatformConnection{
		UserID:      "user-a",
		Provider:    models.PlatformGmail,
		Credentials: "blob",
	}))

	users, err := s.Users.ListWithActiveConnections(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "user-a", users[0].UserID)
}
