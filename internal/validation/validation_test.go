package validation

import (
	"net/http/httptest"
	"strings"
	"testing"

	"wabagate/internal/errors"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePhone(t *testing.T) {
	assert.Equal(t, "+15550001234", NormalizePhone("+1 (555) 000-1234"))
	assert.Equal(t, "+15550001234", NormalizePhone("15550001234"))
	assert.Equal(t, "", NormalizePhone("abc"))
}

func TestValidatePhoneNumber(t *testing.T) {
	tests := []struct {
		name        string
		phone       string
		expectError bool
	}{
		{name: "e164", phone: "+15550001234"},
		{name: "no plus", phone: "447911123456"},
		{name: "seven digits", phone: "+3531234"},
		{name: "empty", phone: "", expectError: true},
		{name: "too short", phone: "+12345", expectError: true},
		{name: "too long", phone: "+1234567890123456", expectError: true},
		{name: "letters", phone: "+1555abc1234", expectError: true},
		{name: "whatsapp suffix", phone: "15550001234@c.us", expectError: true},
		{name: "leading zero", phone: "+05550001234", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePhoneNumber(tt.phone)
			if tt.expectError {
				assert.Error(t, err)
				assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetCode(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateMessageBody(t *testing.T) {
	assert.NoError(t, ValidateMessageBody("Your order is ready"))
	assert.Error(t, ValidateMessageBody("   "))
	assert.NoError(t, ValidateMessageBody(strings.Repeat("é", 4096)), "limit counts characters, not bytes")
	assert.Error(t, ValidateMessageBody(strings.Repeat("a", 4097)))
}

func TestValidateTemplateName(t *testing.T) {
	assert.NoError(t, ValidateTemplateName("refill_reminder_v2"))
	assert.Error(t, ValidateTemplateName(""))
	assert.Error(t, ValidateTemplateName("Refill"))
	assert.Error(t, ValidateTemplateName("refill-reminder"))
	assert.Error(t, ValidateTemplateName(strings.Repeat("a", 513)))
}

func TestValidateLanguageCode(t *testing.T) {
	for _, ok := range []string{"en", "en_US", "pt_BR", "fil", "zh_HANS"} {
		assert.NoError(t, ValidateLanguageCode(ok), ok)
	}
	for _, bad := range []string{"", "e", "EN", "en-US", "en_US_x", "en_U"} {
		assert.Error(t, ValidateLanguageCode(bad), bad)
	}
}

func TestValidateTemplateParameters(t *testing.T) {
	assert.NoError(t, ValidateTemplateParameters(nil))
	assert.NoError(t, ValidateTemplateParameters([]string{"Ana", "Metformin"}))
	assert.Error(t, ValidateTemplateParameters([]string{"Ana", " "}))
	assert.Error(t, ValidateTemplateParameters([]string{"line\nbreak"}))
	assert.Error(t, ValidateTemplateParameters(make([]string, 21)))
}

func TestValidateTenantID(t *testing.T) {
	assert.NoError(t, ValidateTenantID("pharmacy-42"))
	assert.NoError(t, ValidateTenantID("store_1.eu"))
	assert.Error(t, ValidateTenantID(""))
	assert.Error(t, ValidateTenantID("a/b"))
	assert.Error(t, ValidateTenantID(strings.Repeat("t", 129)))
}

func TestValidateMessageID(t *testing.T) {
	assert.NoError(t, ValidateMessageID("wamid.HBgLMTU1NTAwMDEyMzQ="))
	assert.Error(t, ValidateMessageID(""))
	assert.Error(t, ValidateMessageID("wamid.\n"))
	assert.Error(t, ValidateMessageID(strings.Repeat("x", 257)))
}

func TestValidateVerificationCode(t *testing.T) {
	assert.NoError(t, ValidateVerificationCode("123456"))
	assert.Error(t, ValidateVerificationCode("12345"))
	assert.Error(t, ValidateVerificationCode("12345a"))
}

func TestValidateHTTPRequestSize(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(strings.Repeat("x", 100)))
	assert.NoError(t, ValidateHTTPRequestSize(req, 100))
	assert.Error(t, ValidateHTTPRequestSize(req, 99))
}
