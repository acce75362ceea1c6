package types

import (
	"encoding/json"
	"time"
)

// ClientConfig configures the Graph API client.
type ClientConfig struct {
	BaseURL    string        `json:"base_url"`
	APIVersion string        `json:"api_version"`
	Timeout    time.Duration `json:"timeout"`
}

// TextBody is the text object of a send request.
type TextBody struct {
	Body       string `json:"body"`
	PreviewURL bool   `json:"preview_url,omitempty"`
}

// TemplateMessage names an approved template and its positional body parameters.
type TemplateMessage struct {
	Name       string   `json:"name"`
	Language   string   `json:"language"`
	Parameters []string `json:"parameters,omitempty"`
}

type TemplateLanguage struct {
	Code string `json:"code"`
}

type TemplateParameter struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type TemplateSendComponent struct {
	Type       string              `json:"type"`
	Parameters []TemplateParameter `json:"parameters,omitempty"`
}

type TemplateBody struct {
	Name       string                  `json:"name"`
	Language   TemplateLanguage        `json:"language"`
	Components []TemplateSendComponent `json:"components,omitempty"`
}

// SendRequest is the provider-ready body posted to /{phone-number-id}/messages.
type SendRequest struct {
	MessagingProduct string        `json:"messaging_product"`
	RecipientType    string        `json:"recipient_type,omitempty"`
	To               string        `json:"to,omitempty"`
	Type             string        `json:"type,omitempty"`
	Text             *TextBody     `json:"text,omitempty"`
	Template         *TemplateBody `json:"template,omitempty"`
	Status           string        `json:"status,omitempty"`
	MessageID        string        `json:"message_id,omitempty"`
}

// SendResponse is the provider's answer to a send.
type SendResponse struct {
	MessagingProduct string `json:"messaging_product"`
	Contacts         []struct {
		Input string `json:"input"`
		WaID  string `json:"wa_id"`
	} `json:"contacts"`
	Messages []struct {
		ID            string `json:"id"`
		MessageStatus string `json:"message_status,omitempty"`
	} `json:"messages"`
}

// MessageID returns the provider message id of the first accepted message.
func (r *SendResponse) MessageID() string {
	if r == nil || len(r.Messages) == 0 {
		return ""
	}
	return r.Messages[0].ID
}

type SuccessResponse struct {
	Success bool `json:"success"`
}

// WABA is a WhatsApp Business Account.
type WABA struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type Business struct {
	ID                       string `json:"id"`
	Name                     string `json:"name,omitempty"`
	WhatsAppBusinessAccounts struct {
		Data []WABA `json:"data"`
	} `json:"whatsapp_business_accounts"`
}

// BusinessesResponse is the body of GET /me?fields=businesses{whatsapp_business_accounts}.
type BusinessesResponse struct {
	ID         string `json:"id"`
	Businesses struct {
		Data []Business `json:"data"`
	} `json:"businesses"`
}

// PhoneNumber is a number registered under a WABA.
type PhoneNumber struct {
	ID                     string `json:"id"`
	DisplayPhoneNumber     string `json:"display_phone_number"`
	VerifiedName           string `json:"verified_name"`
	CodeVerificationStatus string `json:"code_verification_status,omitempty"`
	QualityRating          string `json:"quality_rating,omitempty"`
}

// Verified reports whether the number finished code verification.
func (p PhoneNumber) Verified() bool {
	return p.CodeVerificationStatus == "" || p.CodeVerificationStatus == "VERIFIED"
}

type PhoneNumbersResponse struct {
	Data []PhoneNumber `json:"data"`
}

// MediaInfo describes a media object. URL expires a few minutes after issue.
type MediaInfo struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256"`
	FileSize int64  `json:"file_size"`
}

type TemplateButton struct {
	Type        string `json:"type"`
	Text        string `json:"text"`
	URL         string `json:"url,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
}

type TemplateComponent struct {
	Type    string           `json:"type"`
	Format  string           `json:"format,omitempty"`
	Text    string           `json:"text,omitempty"`
	Buttons []TemplateButton `json:"buttons,omitempty"`
	Example json.RawMessage  `json:"example,omitempty"`
}

// TemplateDefinition is the body of a template creation request.
type TemplateDefinition struct {
	Name       string              `json:"name"`
	Language   string              `json:"language"`
	Category   string              `json:"category"`
	Components []TemplateComponent `json:"components"`
}

// ProviderTemplate is a template as listed by the provider.
type ProviderTemplate struct {
	ID             string              `json:"id"`
	Name           string              `json:"name"`
	Language       string              `json:"language"`
	Status         string              `json:"status"`
	Category       string              `json:"category"`
	RejectedReason string              `json:"rejected_reason,omitempty"`
	Components     []TemplateComponent `json:"components"`
}

// ComponentText returns the text of the first component of the given type.
func (t ProviderTemplate) ComponentText(componentType string) string {
	for _, c := range t.Components {
		if c.Type == componentType {
			return c.Text
		}
	}
	return ""
}

type TemplatesResponse struct {
	Data []ProviderTemplate `json:"data"`
}

type CreateTemplateResponse struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Category string `json:"category"`
}

// ErrorResponse is the Graph API error envelope.
type ErrorResponse struct {
	Error struct {
		Message      string `json:"message"`
		Type         string `json:"type"`
		Code         int    `json:"code"`
		ErrorSubcode int    `json:"error_subcode,omitempty"`
		FBTraceID    string `json:"fbtrace_id,omitempty"`
	} `json:"error"`
}
