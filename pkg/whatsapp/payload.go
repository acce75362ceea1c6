package whatsapp

import (
	"encoding/json"
	"strings"

	"wabagate/pkg/whatsapp/types"
)

// BuildTextPayload builds a free-form text send request.
func BuildTextPayload(to, body string) types.SendRequest {
	return types.SendRequest{
		MessagingProduct: types.MessagingProduct,
		RecipientType:    "individual",
		To:               NormalizeRecipient(to),
		Type:             types.MessageTypeText,
		Text:             &types.TextBody{Body: body},
	}
}

// BuildTemplatePayload builds a template send request. Parameters fill the
// body placeholders in order.
func BuildTemplatePayload(to string, tpl types.TemplateMessage) types.SendRequest {
	lang := tpl.Language
	if lang == "" {
		lang = "en"
	}
	body := &types.TemplateBody{
		Name:     tpl.Name,
		Language: types.TemplateLanguage{Code: lang},
	}
	if len(tpl.Parameters) > 0 {
		params := make([]types.TemplateParameter, len(tpl.Parameters))
		for i, p := range tpl.Parameters {
			params[i] = types.TemplateParameter{Type: "text", Text: p}
		}
		body.Components = []types.TemplateSendComponent{{Type: "body", Parameters: params}}
	}
	return types.SendRequest{
		MessagingProduct: types.MessagingProduct,
		RecipientType:    "individual",
		To:               NormalizeRecipient(to),
		Type:             types.MessageTypeTemplate,
		Template:         body,
	}
}

// MarshalPayload encodes a send request for storage in the outbound queue.
func MarshalPayload(req types.SendRequest) (json.RawMessage, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

// NormalizeRecipient strips the leading plus the provider does not expect.
func NormalizeRecipient(phone string) string {
	return strings.TrimPrefix(strings.TrimSpace(phone), "+")
}
