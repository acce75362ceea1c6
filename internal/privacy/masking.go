package privacy

import (
	"strings"
)

// MaskPhoneNumber masks a phone number showing only the last 4 digits
// Example: "+15550001234" -> "+*******1234"
func MaskPhoneNumber(phone string) string {
	if phone == "" {
		return ""
	}

	if strings.HasPrefix(phone, "+") {
		if len(phone) == 1 {
			return phone
		}
		return "+" + maskString(phone[1:], 4)
	}
	return maskString(phone, 4)
}

// MaskMessageID masks a provider message id. Provider ids are base64 after the
// "wamid." prefix, which is kept.
// Example: "wamid.ABCDEFWXYZ" -> "wamid.******WXYZ"
func MaskMessageID(messageID string) string {
	if messageID == "" {
		return ""
	}
	if strings.HasPrefix(messageID, "wamid.") {
		return "wamid." + maskString(strings.TrimPrefix(messageID, "wamid."), 4)
	}
	return maskString(messageID, 8)
}

// MaskToken never reveals more than the token length class and its last 4 characters.
func MaskToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	return "****" + token[len(token)-4:]
}

// MaskRoutingKey masks a provider phone-number id.
func MaskRoutingKey(id string) string {
	return maskString(id, 4)
}

// MaskBody hides message content.
func MaskBody(body string) string {
	if body == "" {
		return ""
	}
	return "[hidden]"
}

func maskString(s string, keepLast int) string {
	if s == "" {
		return ""
	}

	if len(s) <= keepLast {
		return strings.Repeat("*", len(s))
	}

	return strings.Repeat("*", len(s)-keepLast) + s[len(s)-keepLast:]
}

// MaskSensitiveFields applies the matching mask to well-known logging fields.
func MaskSensitiveFields(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}

	masked := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		s, ok := v.(string)
		if !ok {
			masked[k] = v
			continue
		}
		switch k {
		case "phone", "phone_number", "from", "to", "recipient":
			masked[k] = MaskPhoneNumber(s)
		case "message_id", "provider_message_id":
			masked[k] = MaskMessageID(s)
		case "routing_key", "phone_number_id":
			masked[k] = MaskRoutingKey(s)
		case "access_token", "temp_token", "token":
			masked[k] = MaskToken(s)
		case "body", "caption", "text":
			masked[k] = MaskBody(s)
		default:
			masked[k] = v
		}
	}

	return masked
}
