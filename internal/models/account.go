package models

import "time"

type AccountStatus string

const (
	AccountStatusDisconnected           AccountStatus = "disconnected"
	AccountStatusTempTokenStored        AccountStatus = "temp_token_stored"
	AccountStatusNeedsPhoneVerification AccountStatus = "needs_phone_verification"
	AccountStatusNoPhone                AccountStatus = "no_phone"
	AccountStatusActive                 AccountStatus = "active"
)

// Account is one tenant's WhatsApp Business account. Tokens are plaintext only
// when the account was loaded with decryption requested.
type Account struct {
	ID             string        `db:"id" json:"id"`
	TenantID       string        `db:"tenant_id" json:"tenant_id"`
	WABAID         string        `db:"waba_id" json:"waba_id,omitempty"`
	PhoneNumberID  string        `db:"phone_number_id" json:"phone_number_id,omitempty"`
	PhoneNumber    string        `db:"phone_number" json:"phone_number,omitempty"`
	BusinessName   string        `db:"business_name" json:"business_name,omitempty"`
	Status         AccountStatus `db:"status" json:"status"`
	AccessToken    string        `db:"access_token" json:"-"`
	TempToken      string        `db:"temp_token" json:"-"`
	HasAccessToken bool          `json:"has_access_token"`
	HasTempToken   bool          `json:"has_temp_token"`
	LastWebhookAt  *time.Time    `db:"last_webhook_at" json:"last_webhook_at,omitempty"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time     `db:"updated_at" json:"updated_at"`
}

// CanSend reports whether the account has everything the provider needs to send.
func (a *Account) CanSend() bool {
	return a != nil && a.PhoneNumberID != "" && a.AccessToken != ""
}

// AccountFields is a partial update. Nil fields are left unchanged; an empty
// token string clears the stored token.
type AccountFields struct {
	WABAID        *string
	PhoneNumberID *string
	PhoneNumber   *string
	BusinessName  *string
	Status        *AccountStatus
	AccessToken   *string
	TempToken     *string
}
