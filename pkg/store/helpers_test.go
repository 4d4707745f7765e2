package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yarnnn/orchestrator/pkg/models"
	"github.com/yarnnn/orchestrator/pkg/store"
	"github.com/yarnnn/orchestrator/test/util"
)

// newTestStore spins up an isolated schema and returns a Store over it
func newTestStore(t *testing.T) *store.Store {
	db := util.SetupTestDatabase(t)
	return store.New(store.NewClientFromDB(db))
}

func seedUser(t *testing.T, s *store.Store, userID string) {
	t.Helper()
	err := s.Users.Upsert(context.Background(), models.UserSettings{
		UserID:   userID,
		Email:    userID + "@example.com",
		Tier:     models.TierPro,
		Timezone: "UTC",
	})
	require.NoError(t, err)
}

func seedDeliverable(t *testing.T, s *store.Store, userID string) *models.Deliverable {
	t.Helper()
	d := &models.Deliverable{
		UserID: userID,
		Title:  "Weekly standup notes",
		Prompt: "Summarize the week's engineering discussions",
		Type: models.TypeClassification{
			Binding:         models.BindingPlatformBound,
			PrimaryPlatform: models.PlatformSlack,
		},
		Schedule: models.Schedule{
			Frequency: "weekly",
			Day:       "monday",
			Time:      "09:00",
			Timezone:  "UTC",
		},
		Destinations: []models.Destination{
			{Platform: "email", Target: userID + "@example.com"},
		},
		Origin: models.OriginOnboarding,
	}
	require.NoError(t, s.Deliverables.Create(context.Background(), d))
	return d
}

func seedVersion(t *testing.T, s *store.Store, d *models.Deliverable) *models.DeliverableVersion {
	t.Helper()
	v := &models.DeliverableVersion{
		DeliverableID: d.ID,
		UserID:        d.UserID,
	}
	require.NoError(t, s.Versions.Create(context.Background(), v))
	return v
}

func ttlContent(userID string, platform models.Platform, sourceRef, body string, expires time.Time) models.PlatformContent {
	return models.PlatformContent{
		UserID:          userID,
		Platform:        platform,
		ResourceID:      "res-1",
		SourceRef:       sourceRef,
		Title:           "note",
		Body:            body,
		SourceTimestamp: time.Now().Add(-time.Hour),
		ExpiresAt:       &expires,
	}
}
