package service

import (
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"wabagate/internal/database"
	"wabagate/internal/models"
	"wabagate/internal/vault"
	"wabagate/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testVaultSecret = "service-tests-vault-secret-0123456789"

type mockWhatsAppClient struct {
	mock.Mock
}

func (m *mockWhatsAppClient) GetBusinessAccount(ctx context.Context, token string) (*types.WABA, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.WABA), args.Error(1)
}

func (m *mockWhatsAppClient) GetPhoneNumbers(ctx context.Context, wabaID, token string) ([]types.PhoneNumber, error) {
	args := m.Called(ctx, wabaID, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.PhoneNumber), args.Error(1)
}

func (m *mockWhatsAppClient) SubscribeApp(ctx context.Context, wabaID, token string) error {
	return m.Called(ctx, wabaID, token).Error(0)
}

func (m *mockWhatsAppClient) SendText(ctx context.Context, phoneNumberID, token, to, body string) (*types.SendResponse, error) {
	args := m.Called(ctx, phoneNumberID, token, to, body)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.SendResponse), args.Error(1)
}

func (m *mockWhatsAppClient) SendTemplate(ctx context.Context, phoneNumberID, token, to string, tpl types.TemplateMessage) (*types.SendResponse, error) {
	args := m.Called(ctx, phoneNumberID, token, to, tpl)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.SendResponse), args.Error(1)
}

func (m *mockWhatsAppClient) Send(ctx context.Context, phoneNumberID, token string, payload json.RawMessage) (*types.SendResponse, error) {
	args := m.Called(ctx, phoneNumberID, token, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.SendResponse), args.Error(1)
}

func (m *mockWhatsAppClient) GetMediaURL(ctx context.Context, mediaID, token string) (*types.MediaInfo, error) {
	args := m.Called(ctx, mediaID, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.MediaInfo), args.Error(1)
}

func (m *mockWhatsAppClient) MarkRead(ctx context.Context, phoneNumberID, token, messageID string) error {
	return m.Called(ctx, phoneNumberID, token, messageID).Error(0)
}

func (m *mockWhatsAppClient) ListTemplates(ctx context.Context, wabaID, token string) ([]types.ProviderTemplate, error) {
	args := m.Called(ctx, wabaID, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.ProviderTemplate), args.Error(1)
}

func (m *mockWhatsAppClient) CreateTemplate(ctx context.Context, wabaID, token string, def types.TemplateDefinition) (*types.CreateTemplateResponse, error) {
	args := m.Called(ctx, wabaID, token, def)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.CreateTemplateResponse), args.Error(1)
}

func (m *mockWhatsAppClient) VerifyCode(ctx context.Context, phoneNumberID, token, code string) error {
	return m.Called(ctx, phoneNumberID, token, code).Error(0)
}

func sendResponse(id string) *types.SendResponse {
	var resp types.SendResponse
	if err := json.Unmarshal([]byte(`{"messaging_product":"whatsapp","messages":[{"id":"`+id+`"}]}`), &resp); err != nil {
		panic(err)
	}
	return &resp
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.InboxEvent
}

func (p *recordingPublisher) Publish(e models.InboxEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) ofType(t models.InboxEventType) []models.InboxEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []models.InboxEvent
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// memoryDeduper stands in for the shared cache.
type memoryDeduper struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (d *memoryDeduper) MarkSeen(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen == nil {
		d.seen = map[string]bool{}
	}
	if d.seen[id] {
		return false, nil
	}
	d.seen[id] = true
	return true, nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func setupStore(t *testing.T) (*database.Database, *testClock) {
	t.Helper()
	v, err := vault.New(testVaultSecret)
	require.NoError(t, err)

	db, err := database.New(filepath.Join(t.TempDir(), "service.db"), v)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	clock := &testClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	db.SetClock(clock.Now)
	return db, clock
}

// seedActiveAccount connects tenantID with a routable phone number and token.
func seedActiveAccount(t *testing.T, db *database.Database, tenantID, phoneNumberID string) *models.Account {
	t.Helper()
	waba := "waba-" + tenantID
	phone := "15550000001"
	token := "EAAG-token-" + tenantID
	status := models.AccountStatusActive
	name := "Acme " + tenantID
	acc, err := db.UpsertAccount(context.Background(), tenantID, models.AccountFields{
		WABAID:        &waba,
		PhoneNumberID: &phoneNumberID,
		PhoneNumber:   &phone,
		BusinessName:  &name,
		AccessToken:   &token,
		Status:        &status,
	})
	require.NoError(t, err)
	return acc
}

// seedConversation opens a session for customer phone at the clock's current time.
func seedConversation(t *testing.T, db *database.Database, clock *testClock, acc *models.Account, phone string) *models.Conversation {
	t.Helper()
	ctx := context.Background()
	active := true
	conv, err := db.UpsertConversationByPhone(ctx, acc.TenantID, acc.ID, phone, models.ConversationPatch{SessionActive: &active})
	require.NoError(t, err)
	require.NoError(t, db.UpdateCustomerMessageTime(ctx, conv.ID, clock.Now()))
	conv, err = db.FindConversation(ctx, conv.ID)
	require.NoError(t, err)
	return conv
}
