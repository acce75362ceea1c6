package whatsapp

import (
	"context"
	"encoding/json"

	"wabagate/pkg/whatsapp/types"
)

// Client is the Graph API surface the gateway depends on.
type Client interface {
	GetBusinessAccount(ctx context.Context, token string) (*types.WABA, error)
	GetPhoneNumbers(ctx context.Context, wabaID, token string) ([]types.PhoneNumber, error)
	SubscribeApp(ctx context.Context, wabaID, token string) error
	SendText(ctx context.Context, phoneNumberID, token, to, body string) (*types.SendResponse, error)
	SendTemplate(ctx context.Context, phoneNumberID, token, to string, tpl types.TemplateMessage) (*types.SendResponse, error)
	Send(ctx context.Context, phoneNumberID, token string, payload json.RawMessage) (*types.SendResponse, error)
	GetMediaURL(ctx context.Context, mediaID, token string) (*types.MediaInfo, error)
	MarkRead(ctx context.Context, phoneNumberID, token, messageID string) error
	ListTemplates(ctx context.Context, wabaID, token string) ([]types.ProviderTemplate, error)
	CreateTemplate(ctx context.Context, wabaID, token string, def types.TemplateDefinition) (*types.CreateTemplateResponse, error)
	VerifyCode(ctx context.Context, phoneNumberID, token, code string) error
}

var _ Client = (*WhatsAppClient)(nil)
