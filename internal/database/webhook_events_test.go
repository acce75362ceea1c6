package database

import (
	"context"
	"testing"
	"time"

	"wabagate/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookEvents_Lifecycle(t *testing.T) {
	db, clock := setupTestDB(t)
	ctx := context.Background()

	ev, err := db.InsertWebhookEvent(ctx, []byte(`{"object":"whatsapp_business_account"}`))
	require.NoError(t, err)

	claimed, err := db.ClaimWebhookEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, ev.ID, claimed[0].ID)
	assert.Equal(t, `{"object":"whatsapp_business_account"}`, string(claimed[0].Body))
	assert.Equal(t, 1, claimed[0].Attempts)

	again, err := db.ClaimWebhookEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, again, "processing events are not handed out twice")

	require.NoError(t, db.MarkWebhookEventProcessed(ctx, ev.ID, clock.now))
	got, err := db.GetWebhookEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WebhookEventProcessed, got.Status)
	require.NotNil(t, got.ProcessedAt)

	n, err := db.PurgeWebhookEvents(ctx, clock.now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestWebhookEvents_FailureRetriesUntilMax(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()

	ev, err := db.InsertWebhookEvent(ctx, []byte(`{}`))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		claimed, err := db.ClaimWebhookEvents(ctx, 10)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		require.NoError(t, db.MarkWebhookEventFailed(ctx, ev.ID, "db down", 2))
	}

	got, err := db.GetWebhookEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WebhookEventFailed, got.Status)
	assert.Equal(t, "db down", got.LastError)
}

func TestReleaseProcessingWebhookEvents(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()

	_, err := db.InsertWebhookEvent(ctx, []byte(`{}`))
	require.NoError(t, err)
	_, err = db.ClaimWebhookEvents(ctx, 10)
	require.NoError(t, err)

	n, err := db.ReleaseProcessingWebhookEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	claimed, err := db.ClaimWebhookEvents(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, claimed, 1)
}
