package database

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"wabagate/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedConversation(t *testing.T, db *Database, tenantID, phone string) *models.Conversation {
	t.Helper()
	c, err := db.UpsertConversationByPhone(context.Background(), tenantID, "acc-"+tenantID, phone, models.ConversationPatch{})
	require.NoError(t, err)
	return c
}

func TestCreateInboundMessage_DeduplicatesProviderID(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()
	c := seedConversation(t, db, "tenant-a", "+15550001")

	msg := &models.Message{
		ConversationID:    c.ID,
		TenantID:          "tenant-a",
		ProviderMessageID: "wamid.1",
		Type:              models.MessageTypeText,
		Body:              "hi",
		Payload:           json.RawMessage(`{"id":"wamid.1"}`),
	}
	created, err := db.CreateInboundMessage(ctx, msg)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = db.CreateInboundMessage(ctx, &models.Message{
		ConversationID: c.ID, TenantID: "tenant-a", ProviderMessageID: "wamid.1", Body: "dup",
	})
	require.NoError(t, err)
	assert.False(t, created)

	stored, err := db.FindMessageByProviderID(ctx, "wamid.1")
	require.NoError(t, err)
	assert.Equal(t, "hi", stored.Body)
	assert.Equal(t, models.DirectionInbound, stored.Direction)
	assert.JSONEq(t, `{"id":"wamid.1"}`, string(stored.Payload))
}

func TestCreateOutboundMessage_TemplateParamsRoundTrip(t *testing.T) {
	db, clock := setupTestDB(t)
	ctx := context.Background()
	c := seedConversation(t, db, "tenant-a", "+15550001")

	sentAt := clock.now
	require.NoError(t, db.CreateOutboundMessage(ctx, &models.Message{
		ConversationID:    c.ID,
		TenantID:          "tenant-a",
		ProviderMessageID: "wamid.out",
		Type:              models.MessageTypeTemplate,
		TemplateName:      "refill_reminder",
		TemplateLanguage:  "en_US",
		TemplateParams:    []string{"Ana", "Metformin"},
		Status:            models.MessageStatusSent,
		SentAt:            &sentAt,
	}))

	stored, err := db.FindMessageByProviderID(ctx, "wamid.out")
	require.NoError(t, err)
	assert.Equal(t, models.DirectionOutbound, stored.Direction)
	assert.Equal(t, []string{"Ana", "Metformin"}, stored.TemplateParams)
	require.NotNil(t, stored.SentAt)
	assert.True(t, stored.SentAt.Equal(sentAt))
}

func TestCreateMessage_RequiresConversation(t *testing.T) {
	db, _ := setupTestDB(t)
	_, err := db.CreateInboundMessage(context.Background(), &models.Message{TenantID: "t"})
	assert.Error(t, err)
}

func TestFindMessagesByConversation_OldestFirst(t *testing.T) {
	db, clock := setupTestDB(t)
	ctx := context.Background()
	c := seedConversation(t, db, "tenant-a", "+15550001")

	for _, body := range []string{"one", "two", "three"} {
		_, err := db.CreateInboundMessage(ctx, &models.Message{ConversationID: c.ID, TenantID: "tenant-a", Body: body})
		require.NoError(t, err)
		clock.Advance(time.Second)
	}

	page, err := db.FindMessagesByConversation(ctx, c.ID, 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "one", page[0].Body)
	assert.Equal(t, "two", page[1].Body)

	page, err = db.FindMessagesByConversation(ctx, c.ID, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "three", page[0].Body)

	latest, err := db.LatestInboundMessage(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "three", latest.Body)
}

func TestUpdateMessageStatus_Monotonic(t *testing.T) {
	db, clock := setupTestDB(t)
	ctx := context.Background()
	c := seedConversation(t, db, "tenant-a", "+15550001")
	require.NoError(t, db.CreateOutboundMessage(ctx, &models.Message{
		ConversationID: c.ID, TenantID: "tenant-a", ProviderMessageID: "wamid.s", Status: models.MessageStatusSent,
	}))

	readAt := clock.now.Add(time.Minute)
	applied, err := db.UpdateMessageStatus(ctx, "wamid.s", models.MessageStatusRead, StatusExtra{At: readAt})
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = db.UpdateMessageStatus(ctx, "wamid.s", models.MessageStatusDelivered, StatusExtra{})
	require.NoError(t, err)
	assert.False(t, applied, "late delivered must not regress read")

	applied, err = db.UpdateMessageStatus(ctx, "wamid.s", models.MessageStatusFailed, StatusExtra{Reason: "x"})
	require.NoError(t, err)
	assert.False(t, applied)

	m, err := db.FindMessageByProviderID(ctx, "wamid.s")
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusRead, m.Status)
	require.NotNil(t, m.ReadAt)
	require.NotNil(t, m.DeliveredAt, "read back-fills delivered")
	assert.True(t, m.ReadAt.Equal(readAt))
}

func TestUpdateMessageStatus_FailedIsTerminal(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()
	c := seedConversation(t, db, "tenant-a", "+15550001")
	require.NoError(t, db.CreateOutboundMessage(ctx, &models.Message{
		ConversationID: c.ID, TenantID: "tenant-a", ProviderMessageID: "wamid.f", Status: models.MessageStatusSent,
	}))

	applied, err := db.UpdateMessageStatus(ctx, "wamid.f", models.MessageStatusFailed, StatusExtra{Reason: "Re-engagement message"})
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = db.UpdateMessageStatus(ctx, "wamid.f", models.MessageStatusDelivered, StatusExtra{})
	require.NoError(t, err)
	assert.False(t, applied)

	m, err := db.FindMessageByProviderID(ctx, "wamid.f")
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusFailed, m.Status)
	assert.Equal(t, "Re-engagement message", m.StatusReason)
}

func TestUpdateMessageStatus_UnknownIDIsNoop(t *testing.T) {
	db, _ := setupTestDB(t)
	applied, err := db.UpdateMessageStatus(context.Background(), "wamid.missing", models.MessageStatusDelivered, StatusExtra{})
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestSearchMessages_TenantScoped(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()
	a := seedConversation(t, db, "tenant-a", "+15550001")
	b := seedConversation(t, db, "tenant-b", "+15550001")

	_, err := db.CreateInboundMessage(ctx, &models.Message{ConversationID: a.ID, TenantID: "tenant-a", Body: "need insulin refill"})
	require.NoError(t, err)
	_, err = db.CreateInboundMessage(ctx, &models.Message{ConversationID: a.ID, TenantID: "tenant-a", Type: models.MessageTypeImage, Caption: "insulin box"})
	require.NoError(t, err)
	_, err = db.CreateInboundMessage(ctx, &models.Message{ConversationID: b.ID, TenantID: "tenant-b", Body: "insulin too"})
	require.NoError(t, err)

	found, err := db.SearchMessages(ctx, "tenant-a", "insulin", 10)
	require.NoError(t, err)
	assert.Len(t, found, 2)
	for _, m := range found {
		assert.Equal(t, "tenant-a", m.TenantID)
	}

	found, err = db.SearchMessages(ctx, "tenant-a", "  ", 10)
	require.NoError(t, err)
	assert.Empty(t, found)
}
