package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"wabagate/pkg/whatsapp/types"
)

const (
	DefaultBaseURL    = "https://graph.facebook.com"
	DefaultAPIVersion = "v17.0"
	defaultTimeout    = 15 * time.Second
	maxResponseBytes  = 1 << 20
)

var (
	ErrNoBusinessAccount = errors.New("no business accounts found")
	ErrNoWABA            = errors.New("no WhatsApp Business Accounts found")
	ErrMissingToken      = errors.New("access token is required")
)

// WhatsAppClient talks to the Graph API. It holds no tenant state; every call
// carries the access token of the account it acts for.
type WhatsAppClient struct {
	baseURL string
	client  *http.Client
}

func NewClient(cfg types.ClientConfig) *WhatsAppClient {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	version := strings.Trim(cfg.APIVersion, "/")
	if version == "" {
		version = DefaultAPIVersion
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &WhatsAppClient{
		baseURL: base + "/" + version,
		client:  &http.Client{Timeout: timeout},
	}
}

// GetBusinessAccount returns the first WABA reachable with token.
func (c *WhatsAppClient) GetBusinessAccount(ctx context.Context, token string) (*types.WABA, error) {
	var resp types.BusinessesResponse
	if err := c.do(ctx, http.MethodGet, types.EndpointMeBusinesses, token, nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.Businesses.Data) == 0 {
		return nil, ErrNoBusinessAccount
	}
	wabas := resp.Businesses.Data[0].WhatsAppBusinessAccounts.Data
	if len(wabas) == 0 {
		return nil, ErrNoWABA
	}
	return &wabas[0], nil
}

func (c *WhatsAppClient) GetPhoneNumbers(ctx context.Context, wabaID, token string) ([]types.PhoneNumber, error) {
	var resp types.PhoneNumbersResponse
	if err := c.do(ctx, http.MethodGet, "/"+url.PathEscape(wabaID)+types.EndpointPhoneNumbers, token, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// SubscribeApp subscribes the app to message and template webhooks for wabaID.
func (c *WhatsAppClient) SubscribeApp(ctx context.Context, wabaID, token string) error {
	body := map[string]interface{}{
		"subscribed_fields": []string{types.FieldMessages, types.FieldTemplateStatusUpdate},
	}
	var resp types.SuccessResponse
	return c.do(ctx, http.MethodPost, "/"+url.PathEscape(wabaID)+types.EndpointSubscribedApps, token, body, &resp)
}

func (c *WhatsAppClient) SendText(ctx context.Context, phoneNumberID, token, to, body string) (*types.SendResponse, error) {
	return c.sendRequest(ctx, phoneNumberID, token, BuildTextPayload(to, body))
}

func (c *WhatsAppClient) SendTemplate(ctx context.Context, phoneNumberID, token, to string, tpl types.TemplateMessage) (*types.SendResponse, error) {
	return c.sendRequest(ctx, phoneNumberID, token, BuildTemplatePayload(to, tpl))
}

// Send posts an already built payload, as stored in the outbound queue.
func (c *WhatsAppClient) Send(ctx context.Context, phoneNumberID, token string, payload json.RawMessage) (*types.SendResponse, error) {
	if !json.Valid(payload) {
		return nil, fmt.Errorf("invalid send payload")
	}
	return c.sendRequest(ctx, phoneNumberID, token, payload)
}

func (c *WhatsAppClient) sendRequest(ctx context.Context, phoneNumberID, token string, payload interface{}) (*types.SendResponse, error) {
	if phoneNumberID == "" {
		return nil, fmt.Errorf("phone number id is required")
	}
	var resp types.SendResponse
	if err := c.do(ctx, http.MethodPost, "/"+url.PathEscape(phoneNumberID)+types.EndpointMessages, token, payload, &resp); err != nil {
		return nil, err
	}
	if resp.MessageID() == "" {
		return &resp, fmt.Errorf("send response carried no message id")
	}
	return &resp, nil
}

// GetMediaURL resolves a media id to a short-lived download URL.
func (c *WhatsAppClient) GetMediaURL(ctx context.Context, mediaID, token string) (*types.MediaInfo, error) {
	var info types.MediaInfo
	if err := c.do(ctx, http.MethodGet, "/"+url.PathEscape(mediaID), token, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// MarkRead sends a read receipt for an inbound message.
func (c *WhatsAppClient) MarkRead(ctx context.Context, phoneNumberID, token, messageID string) error {
	body := types.SendRequest{
		MessagingProduct: types.MessagingProduct,
		Status:           types.StatusRead,
		MessageID:        messageID,
	}
	var resp types.SuccessResponse
	return c.do(ctx, http.MethodPost, "/"+url.PathEscape(phoneNumberID)+types.EndpointMessages, token, body, &resp)
}

func (c *WhatsAppClient) ListTemplates(ctx context.Context, wabaID, token string) ([]types.ProviderTemplate, error) {
	var resp types.TemplatesResponse
	if err := c.do(ctx, http.MethodGet, "/"+url.PathEscape(wabaID)+types.EndpointMessageTemplates, token, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (c *WhatsAppClient) CreateTemplate(ctx context.Context, wabaID, token string, def types.TemplateDefinition) (*types.CreateTemplateResponse, error) {
	var resp types.CreateTemplateResponse
	if err := c.do(ctx, http.MethodPost, "/"+url.PathEscape(wabaID)+types.EndpointMessageTemplates, token, def, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// VerifyCode submits the verification code received for a phone number.
func (c *WhatsAppClient) VerifyCode(ctx context.Context, phoneNumberID, token, code string) error {
	var resp types.SuccessResponse
	return c.do(ctx, http.MethodPost, "/"+url.PathEscape(phoneNumberID)+types.EndpointVerifyCode, token,
		map[string]string{"code": code}, &resp)
}

func (c *WhatsAppClient) do(ctx context.Context, method, path, token string, payload, out interface{}) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrMissingToken
	}

	var body io.Reader
	if payload != nil {
		var data []byte
		switch p := payload.(type) {
		case json.RawMessage:
			data = p
		default:
			var err error
			data, err = json.Marshal(payload)
			if err != nil {
				return fmt.Errorf("failed to marshal payload: %w", err)
			}
		}
		body = bytes.NewReader(data)
	}

	endpoint := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newAPIError(endpointName(path), resp.StatusCode, raw)
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// endpointName drops ids and query strings so errors and metrics group by route.
func endpointName(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) > 1 {
		return "/{id}/" + strings.Join(parts[1:], "/")
	}
	if parts[0] == "me" {
		return "/me"
	}
	return "/{id}"
}
