package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"wabagate/internal/database"
	apperrors "wabagate/internal/errors"
	"wabagate/internal/models"
	"wabagate/pkg/whatsapp"
	"wabagate/pkg/whatsapp/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const customerPhone = "+15551234567"

type messagingFixture struct {
	db        *database.Database
	clock     *testClock
	client    *mockWhatsAppClient
	publisher *recordingPublisher
	svc       *MessagingService
	account   *models.Account
}

func newMessagingFixture(t *testing.T) *messagingFixture {
	t.Helper()
	db, clock := setupStore(t)
	client := &mockWhatsAppClient{}
	pub := &recordingPublisher{}
	svc := NewMessagingService(db, client, pub, MessagingConfig{SendTimeout: time.Second}, quietLogger())
	svc.SetClock(clock.Now)
	return &messagingFixture{
		db:        db,
		clock:     clock,
		client:    client,
		publisher: pub,
		svc:       svc,
		account:   seedActiveAccount(t, db, "tenant-a", "pnid-a"),
	}
}

func TestSendText_WithinSession(t *testing.T) {
	f := newMessagingFixture(t)
	conv := seedConversation(t, f.db, f.clock, f.account, customerPhone)
	f.clock.Advance(time.Hour)

	f.client.On("SendText", mock.Anything, "pnid-a", "EAAG-token-tenant-a", customerPhone, "hello there").
		Return(sendResponse("wamid.out1"), nil).Once()

	msg, err := f.svc.SendText(context.Background(), conv.ID, "hello there")
	require.NoError(t, err)
	f.client.AssertExpectations(t)

	assert.Equal(t, models.DirectionOutbound, msg.Direction)
	assert.Equal(t, models.MessageStatusSent, msg.Status)
	assert.Equal(t, "wamid.out1", msg.ProviderMessageID)

	stored, err := f.db.FindMessageByProviderID(context.Background(), "wamid.out1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "hello there", stored.Body)

	updated, err := f.db.FindConversation(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello there", updated.LastMessageBody)

	events := f.publisher.ofType(models.InboxEventMessageOutbound)
	require.Len(t, events, 1)
	assert.Equal(t, "tenant-a", events[0].TenantID)
}

func TestSendText_SessionExpiredRejectedBeforeProvider(t *testing.T) {
	f := newMessagingFixture(t)
	conv := seedConversation(t, f.db, f.clock, f.account, customerPhone)
	f.clock.Advance(25 * time.Hour)

	_, err := f.svc.SendText(context.Background(), conv.ID, "are you there?")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrSessionExpired))
	assert.Equal(t, 409, apperrors.HTTPStatus(err))
	f.client.AssertNotCalled(t, "SendText", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	updated, err := f.db.FindConversation(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.False(t, updated.SessionActive, "a lapsed session is flipped inactive")
}

func TestSendText_ProviderErrorIsClassified(t *testing.T) {
	f := newMessagingFixture(t)
	conv := seedConversation(t, f.db, f.clock, f.account, customerPhone)

	f.client.On("SendText", mock.Anything, "pnid-a", mock.Anything, customerPhone, "hi").
		Return(nil, &whatsapp.APIError{Endpoint: "messages", StatusCode: 400, Code: 131026, Message: "undeliverable"}).Once()

	_, err := f.svc.SendText(context.Background(), conv.ID, "hi")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeWhatsAppAPI, apperrors.GetCode(err))
	assert.False(t, apperrors.IsRetryable(err))

	msgs, err := f.db.FindMessagesByConversation(context.Background(), conv.ID, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs, "nothing is recorded for a rejected send")
}

func TestSendText_AccountNotConnected(t *testing.T) {
	f := newMessagingFixture(t)
	conv := seedConversation(t, f.db, f.clock, f.account, customerPhone)
	require.NoError(t, f.db.UpdateAccountStatus(context.Background(), "tenant-a", models.AccountStatusNeedsPhoneVerification))

	_, err := f.svc.SendText(context.Background(), conv.ID, "hi")
	assert.True(t, errors.Is(err, apperrors.ErrNotConnected))
}

func TestSendText_UnknownConversation(t *testing.T) {
	f := newMessagingFixture(t)
	_, err := f.svc.SendText(context.Background(), "missing", "hi")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestSendTemplate_ReopensExpiredSession(t *testing.T) {
	f := newMessagingFixture(t)
	ctx := context.Background()
	conv := seedConversation(t, f.db, f.clock, f.account, customerPhone)

	_, err := f.db.UpsertTemplate(ctx, &models.Template{
		TenantID:  "tenant-a",
		AccountID: f.account.ID,
		Name:      "order_update",
		Language:  "en",
		Category:  "utility",
		BodyText:  "Order {{1}} is {{2}}",
		Status:    models.TemplateStatusApproved,
	})
	require.NoError(t, err)

	f.clock.Advance(30 * time.Hour)
	_, err = f.svc.SendText(ctx, conv.ID, "too late")
	require.True(t, errors.Is(err, apperrors.ErrSessionExpired))

	f.client.On("SendTemplate", mock.Anything, "pnid-a", mock.Anything, customerPhone, types.TemplateMessage{
		Name: "order_update", Language: "en", Parameters: []string{"42", "shipped"},
	}).Return(sendResponse("wamid.tpl1"), nil).Once()

	msg, err := f.svc.SendTemplate(ctx, SendTemplateRequest{
		ConversationID: conv.ID,
		TemplateName:   "order_update",
		Parameters:     []string{"42", "shipped"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Order 42 is shipped", msg.Body)
	assert.Equal(t, models.MessageTypeTemplate, msg.Type)

	updated, err := f.db.FindConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.True(t, updated.SessionActive)
	assert.True(t, CanSendFreeForm(updated, f.clock.Now()))

	tpl, err := f.db.FindTemplate(ctx, "tenant-a", "order_update", "en")
	require.NoError(t, err)
	assert.Equal(t, 1, tpl.UsageCount)

	f.client.On("SendText", mock.Anything, "pnid-a", mock.Anything, customerPhone, "thanks for waiting").
		Return(sendResponse("wamid.out2"), nil).Once()
	_, err = f.svc.SendText(ctx, conv.ID, "thanks for waiting")
	require.NoError(t, err)
	f.client.AssertExpectations(t)
}

func TestSendTemplate_RejectsUnapprovedTemplate(t *testing.T) {
	f := newMessagingFixture(t)
	ctx := context.Background()
	conv := seedConversation(t, f.db, f.clock, f.account, customerPhone)

	_, err := f.db.UpsertTemplate(ctx, &models.Template{
		TenantID:  "tenant-a",
		AccountID: f.account.ID,
		Name:      "promo",
		Language:  "en",
		Category:  "marketing",
		BodyText:  "Sale!",
		Status:    models.TemplateStatusRejected,
	})
	require.NoError(t, err)

	_, err = f.svc.SendTemplate(ctx, SendTemplateRequest{ConversationID: conv.ID, TemplateName: "promo"})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.GetCode(err))
	f.client.AssertNotCalled(t, "SendTemplate", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRenderTemplateBody(t *testing.T) {
	assert.Equal(t, "Hi Ana, code 123", RenderTemplateBody("Hi {{1}}, code {{2}}", []string{"Ana", "123"}))
	assert.Equal(t, "No params", RenderTemplateBody("No params", nil))
	assert.Equal(t, "Hi {{2}}", RenderTemplateBody("Hi {{2}}", []string{"x"}))
}

func TestEnqueue(t *testing.T) {
	f := newMessagingFixture(t)
	ctx := context.Background()
	conv := seedConversation(t, f.db, f.clock, f.account, customerPhone)

	t.Run("exactly one of body or template", func(t *testing.T) {
		_, err := f.svc.Enqueue(ctx, EnqueueRequest{TenantID: "tenant-a", To: customerPhone})
		assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.GetCode(err))

		_, err = f.svc.Enqueue(ctx, EnqueueRequest{
			TenantID: "tenant-a", To: customerPhone, Body: "x",
			Template: &types.TemplateMessage{Name: "t"},
		})
		assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.GetCode(err))
	})

	t.Run("text to a conversation", func(t *testing.T) {
		item, err := f.svc.Enqueue(ctx, EnqueueRequest{TenantID: "tenant-a", ConversationID: conv.ID, Body: "queued hello"})
		require.NoError(t, err)
		assert.Equal(t, models.QueueStatusPending, item.Status)
		assert.Equal(t, 3, item.MaxAttempts)

		var payload types.SendRequest
		require.NoError(t, json.Unmarshal(item.Payload, &payload))
		assert.Equal(t, "15551234567", payload.To)
		assert.Equal(t, "queued hello", payload.Text.Body)

		got, err := f.svc.GetQueueItem(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, item.ID, got.ID)
	})

	t.Run("template to a bare number", func(t *testing.T) {
		item, err := f.svc.Enqueue(ctx, EnqueueRequest{
			TenantID: "tenant-a",
			To:       "+1 (555) 987-6543",
			Template: &types.TemplateMessage{Name: "welcome", Parameters: []string{"Ana"}},
		})
		require.NoError(t, err)

		var payload types.SendRequest
		require.NoError(t, json.Unmarshal(item.Payload, &payload))
		assert.Equal(t, "15559876543", payload.To)
		assert.Equal(t, "en", payload.Template.Language.Code)
	})

	t.Run("conversation of another tenant", func(t *testing.T) {
		_, err := f.svc.Enqueue(ctx, EnqueueRequest{TenantID: "tenant-b", ConversationID: conv.ID, Body: "x"})
		assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	})

	t.Run("text outside the session", func(t *testing.T) {
		f.clock.Advance(48 * time.Hour)
		_, err := f.svc.Enqueue(ctx, EnqueueRequest{TenantID: "tenant-a", ConversationID: conv.ID, Body: "late"})
		assert.True(t, errors.Is(err, apperrors.ErrSessionExpired))
	})

	_, err := f.svc.GetQueueItem(ctx, "missing")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestReadThread_ResetsUnread(t *testing.T) {
	f := newMessagingFixture(t)
	ctx := context.Background()
	conv := seedConversation(t, f.db, f.clock, f.account, customerPhone)

	_, err := f.db.CreateInboundMessage(ctx, &models.Message{
		ConversationID:    conv.ID,
		TenantID:          "tenant-a",
		ProviderMessageID: "wamid.in1",
		Body:              "hello",
		Status:            models.MessageStatusDelivered,
	})
	require.NoError(t, err)
	require.NoError(t, f.db.IncrementUnread(ctx, conv.ID))

	msgs, err := f.svc.ReadThread(ctx, conv.ID, 0, 50)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	updated, err := f.db.FindConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Zero(t, updated.UnreadCount)
}

func TestMarkRead_SendsReceiptForLatestInbound(t *testing.T) {
	f := newMessagingFixture(t)
	ctx := context.Background()
	conv := seedConversation(t, f.db, f.clock, f.account, customerPhone)

	for _, id := range []string{"wamid.in1", "wamid.in2"} {
		_, err := f.db.CreateInboundMessage(ctx, &models.Message{
			ConversationID:    conv.ID,
			TenantID:          "tenant-a",
			ProviderMessageID: id,
			Body:              id,
			Status:            models.MessageStatusDelivered,
		})
		require.NoError(t, err)
		f.clock.Advance(time.Minute)
	}
	require.NoError(t, f.db.IncrementUnread(ctx, conv.ID))

	f.client.On("MarkRead", mock.Anything, "pnid-a", mock.Anything, "wamid.in2").Return(nil).Once()
	require.NoError(t, f.svc.MarkRead(ctx, conv.ID))
	f.client.AssertExpectations(t)

	updated, err := f.db.FindConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Zero(t, updated.UnreadCount)
}

func TestConversationManagement(t *testing.T) {
	f := newMessagingFixture(t)
	ctx := context.Background()
	conv := seedConversation(t, f.db, f.clock, f.account, customerPhone)

	updated, err := f.svc.UpdateConversationStatus(ctx, conv.ID, models.ConversationStatusResolved)
	require.NoError(t, err)
	assert.Equal(t, models.ConversationStatusResolved, updated.Status)

	_, err = f.svc.UpdateConversationStatus(ctx, conv.ID, "bogus")
	assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.GetCode(err))

	updated, err = f.svc.AssignAgent(ctx, conv.ID, " agent-7 ")
	require.NoError(t, err)
	assert.Equal(t, "agent-7", updated.AssignedAgentID)

	assert.Len(t, f.publisher.ofType(models.InboxEventConversation), 2)

	list, err := f.svc.ListConversations(ctx, "tenant-a", models.ConversationFilter{Status: models.ConversationStatusResolved})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = f.svc.ListConversations(ctx, "tenant-a", models.ConversationFilter{Status: "nope"})
	assert.Error(t, err)
}
