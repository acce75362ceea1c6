package validation

import (
	"fmt"
	"net/http"
	"strings"
	"unicode"
	"unicode/utf8"

	"wabagate/internal/constants"
	"wabagate/internal/errors"
)

// NormalizePhone returns phone in E.164 form with a leading plus, stripping
// spaces, dashes and parentheses.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return "+" + b.String()
}

// ValidatePhoneNumber validates an E.164 number, with or without the plus.
func ValidatePhoneNumber(phone string) error {
	if phone == "" {
		return errors.NewValidationError("phone", "cannot be empty")
	}

	digits := strings.TrimPrefix(phone, "+")
	for _, char := range digits {
		if !unicode.IsDigit(char) {
			return errors.NewValidationError("phone", "must contain only digits")
		}
	}

	if len(digits) < constants.MinPhoneDigits || len(digits) > constants.MaxPhoneDigits {
		return errors.NewValidationError("phone",
			fmt.Sprintf("must have between %d and %d digits", constants.MinPhoneDigits, constants.MaxPhoneDigits))
	}
	if digits[0] == '0' {
		return errors.NewValidationError("phone", "country code cannot start with 0")
	}

	return nil
}

// ValidateMessageBody validates a free-form text body.
func ValidateMessageBody(body string) error {
	if strings.TrimSpace(body) == "" {
		return errors.NewValidationError("body", "cannot be empty")
	}
	if utf8.RuneCountInString(body) > constants.MaxTextBodyLength {
		return errors.NewValidationError("body",
			fmt.Sprintf("too long (max %d characters)", constants.MaxTextBodyLength))
	}
	return nil
}

// ValidateTemplateName enforces the provider's naming rule: lowercase letters,
// digits and underscores.
func ValidateTemplateName(name string) error {
	if name == "" {
		return errors.NewValidationError("template_name", "cannot be empty")
	}
	if len(name) > constants.MaxTemplateNameLength {
		return errors.NewValidationError("template_name",
			fmt.Sprintf("too long (max %d characters)", constants.MaxTemplateNameLength))
	}
	for _, char := range name {
		if (char < 'a' || char > 'z') && (char < '0' || char > '9') && char != '_' {
			return errors.NewValidationError("template_name",
				"must contain only lowercase letters, digits and underscores")
		}
	}
	return nil
}

// ValidateLanguageCode accepts codes like "en" and "en_US".
func ValidateLanguageCode(code string) error {
	if code == "" {
		return errors.NewValidationError("language", "cannot be empty")
	}
	parts := strings.Split(code, "_")
	if len(parts) > 2 || len(parts[0]) < 2 || len(parts[0]) > 3 {
		return errors.NewValidationError("language", "must look like en or en_US")
	}
	for _, char := range parts[0] {
		if char < 'a' || char > 'z' {
			return errors.NewValidationError("language", "must look like en or en_US")
		}
	}
	if len(parts) == 2 {
		if len(parts[1]) < 2 || len(parts[1]) > 4 {
			return errors.NewValidationError("language", "must look like en or en_US")
		}
		for _, char := range parts[1] {
			if !unicode.IsLetter(char) && !unicode.IsDigit(char) {
				return errors.NewValidationError("language", "must look like en or en_US")
			}
		}
	}
	return nil
}

// ValidateTemplateParameters bounds the number and content of body parameters.
func ValidateTemplateParameters(params []string) error {
	if len(params) > constants.MaxTemplateParameters {
		return errors.NewValidationError("parameters",
			fmt.Sprintf("too many (max %d)", constants.MaxTemplateParameters))
	}
	for i, p := range params {
		if strings.TrimSpace(p) == "" {
			return errors.NewValidationError("parameters", fmt.Sprintf("parameter %d is empty", i+1))
		}
		if strings.ContainsAny(p, "\n\t") {
			return errors.NewValidationError("parameters",
				fmt.Sprintf("parameter %d cannot contain newlines or tabs", i+1))
		}
	}
	return nil
}

// ValidateTenantID validates an opaque tenant identifier.
func ValidateTenantID(tenantID string) error {
	if tenantID == "" {
		return errors.NewValidationError("tenant_id", "cannot be empty")
	}
	if len(tenantID) > constants.MaxTenantIDLength {
		return errors.NewValidationError("tenant_id",
			fmt.Sprintf("too long (max %d characters)", constants.MaxTenantIDLength))
	}
	for _, char := range tenantID {
		if !unicode.IsLetter(char) && !unicode.IsDigit(char) && char != '_' && char != '-' && char != '.' {
			return errors.NewValidationError("tenant_id",
				"must contain only letters, digits, dots, underscores and dashes")
		}
	}
	return nil
}

// ValidateMessageID validates a provider message id.
func ValidateMessageID(messageID string) error {
	if messageID == "" {
		return errors.NewValidationError("message_id", "cannot be empty")
	}
	if len(messageID) > constants.MaxMessageIDLength {
		return errors.NewValidationError("message_id",
			fmt.Sprintf("too long (max %d characters)", constants.MaxMessageIDLength))
	}
	if strings.ContainsAny(messageID, "\x00\n\r\t") {
		return errors.NewValidationError("message_id", "contains invalid characters")
	}
	return nil
}

// ValidateVerificationCode validates a 6-digit phone verification code.
func ValidateVerificationCode(code string) error {
	if len(code) != constants.VerificationCodeLength {
		return errors.NewValidationError("code",
			fmt.Sprintf("must be %d digits", constants.VerificationCodeLength))
	}
	for _, char := range code {
		if char < '0' || char > '9' {
			return errors.NewValidationError("code", "must contain only digits")
		}
	}
	return nil
}

// ValidateHTTPRequestSize rejects requests whose declared length exceeds maxSizeBytes.
func ValidateHTTPRequestSize(r *http.Request, maxSizeBytes int64) error {
	if r.ContentLength > maxSizeBytes {
		return errors.NewValidationError("body",
			fmt.Sprintf("request too large: %d bytes (max %d bytes)", r.ContentLength, maxSizeBytes))
	}
	return nil
}
