package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"wabagate/internal/constants"
	apperrors "wabagate/internal/errors"
	"wabagate/internal/models"
	"wabagate/internal/retry"
	"wabagate/internal/validation"
	"wabagate/pkg/whatsapp"
	"wabagate/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
)

// ConnectionStore is the persistence the connection lifecycle uses.
type ConnectionStore interface {
	AccountStore
	TemplateStore
}

// ConnectionService walks a tenant's account through embedded signup:
// temp token, finalize, optional phone verification, active.
type ConnectionService struct {
	store   ConnectionStore
	client  whatsapp.Client
	backoff *retry.Backoff
	timeout time.Duration
	logger  *logrus.Logger
	errLog  *apperrors.Logger
}

func NewConnectionService(store ConnectionStore, client whatsapp.Client, timeout time.Duration, logger *logrus.Logger) *ConnectionService {
	if logger == nil {
		logger = logrus.New()
	}
	if timeout <= 0 {
		timeout = constants.DefaultQueueSendTimeoutSec * time.Second
	}
	return &ConnectionService{
		store:   store,
		client:  client,
		backoff: retry.NewBackoff(retry.DefaultBackoffConfig()),
		timeout: timeout,
		logger:  logger,
		errLog:  apperrors.FromLogrus(logger),
	}
}

// SetBackoff replaces the retry policy for provider calls. Tests use it to avoid sleeping.
func (s *ConnectionService) SetBackoff(b *retry.Backoff) {
	s.backoff = b
}

// ConnectionStatus is the operator view of a tenant's account.
type ConnectionStatus struct {
	Connected     bool                 `json:"connected"`
	Status        models.AccountStatus `json:"status"`
	WABAID        string               `json:"waba_id,omitempty"`
	PhoneNumber   string               `json:"phone_number,omitempty"`
	PhoneNumberID string               `json:"phone_number_id,omitempty"`
	BusinessName  string               `json:"business_name,omitempty"`
	LastWebhookAt *time.Time           `json:"last_webhook_at,omitempty"`
}

func statusOf(a *models.Account) *ConnectionStatus {
	if a == nil {
		return &ConnectionStatus{Status: models.AccountStatusDisconnected}
	}
	return &ConnectionStatus{
		Connected:     a.Status == models.AccountStatusActive,
		Status:        a.Status,
		WABAID:        a.WABAID,
		PhoneNumber:   a.PhoneNumber,
		PhoneNumberID: a.PhoneNumberID,
		BusinessName:  a.BusinessName,
		LastWebhookAt: a.LastWebhookAt,
	}
}

func (s *ConnectionService) call(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.backoff.RetryWithPredicate(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		return fn(callCtx)
	}, isRetryableProviderError)
}

// StoreTempToken saves the short-lived token returned by embedded signup.
func (s *ConnectionService) StoreTempToken(ctx context.Context, tenantID, tempToken string) (*ConnectionStatus, error) {
	if err := validation.ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	tempToken = strings.TrimSpace(tempToken)
	if tempToken == "" {
		return nil, apperrors.NewValidationError("temp_token", "cannot be empty")
	}

	status := models.AccountStatusTempTokenStored
	account, err := s.store.UpsertAccount(ctx, tenantID, models.AccountFields{
		TempToken: &tempToken,
		Status:    &status,
	})
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{LogFieldTenantID: tenantID}).Info("Temporary token stored")
	return statusOf(account), nil
}

// Finalize turns the stored temp token into a connected account: it looks up
// the WABA and its first phone number, subscribes the app to webhooks and
// promotes the token to the account's access token.
func (s *ConnectionService) Finalize(ctx context.Context, tenantID string) (*ConnectionStatus, error) {
	if err := validation.ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	account, err := s.store.FindAccountByTenant(ctx, tenantID, true)
	if err != nil {
		return nil, err
	}
	if account == nil || account.TempToken == "" {
		return nil, apperrors.NewNotFoundError("temporary token", tenantID).
			WithUserMessage("No temporary token found. Please reconnect.")
	}
	return s.connect(ctx, tenantID, account.TempToken, true)
}

// ManualToken connects with a pre-obtained long-lived system-user token.
func (s *ConnectionService) ManualToken(ctx context.Context, tenantID, accessToken string) (*ConnectionStatus, error) {
	if err := validation.ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return nil, apperrors.NewValidationError("access_token", "cannot be empty")
	}
	return s.connect(ctx, tenantID, accessToken, false)
}

func (s *ConnectionService) connect(ctx context.Context, tenantID, token string, fromSignup bool) (*ConnectionStatus, error) {
	var waba *types.WABA
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		waba, err = s.client.GetBusinessAccount(ctx, token)
		return err
	})
	if err != nil {
		return nil, providerError(err)
	}

	var phones []types.PhoneNumber
	err = s.call(ctx, func(ctx context.Context) error {
		var err error
		phones, err = s.client.GetPhoneNumbers(ctx, waba.ID, token)
		return err
	})
	if err != nil {
		return nil, providerError(err)
	}

	fields := logrus.Fields{LogFieldTenantID: tenantID, LogFieldWABAID: waba.ID}

	if len(phones) == 0 {
		status := models.AccountStatusNoPhone
		f := models.AccountFields{WABAID: &waba.ID, Status: &status}
		if !fromSignup {
			f.AccessToken = &token
		}
		if _, err := s.store.UpsertAccount(ctx, tenantID, f); err != nil {
			return nil, err
		}
		s.logger.WithFields(fields).Warn("No phone number registered on the business account")
		return nil, apperrors.NewNotFoundError("phone number", waba.ID).
			WithUserMessage("No phone number is registered on this WhatsApp Business Account.")
	}

	phone := phones[0]
	phoneNumber := validation.NormalizePhone(phone.DisplayPhoneNumber)
	empty := ""
	f := models.AccountFields{
		WABAID:        &waba.ID,
		PhoneNumberID: &phone.ID,
		PhoneNumber:   &phoneNumber,
		AccessToken:   &token,
		TempToken:     &empty,
	}
	if waba.Name != "" {
		f.BusinessName = &waba.Name
	} else if phone.VerifiedName != "" {
		f.BusinessName = &phone.VerifiedName
	}

	if fromSignup && !phone.Verified() {
		status := models.AccountStatusNeedsPhoneVerification
		f.Status = &status
		account, err := s.store.UpsertAccount(ctx, tenantID, f)
		if err != nil {
			return nil, err
		}
		logEntry(ctx, s.logger, fields).WithField(LogFieldRoutingKey, phone.ID).Info("Phone number needs verification")
		return statusOf(account), nil
	}

	if err := s.subscribe(ctx, waba.ID, token); err != nil {
		if !fromSignup {
			return nil, err
		}
		// Signup can still complete; SyncTemplates subscribes again.
		s.errLog.LogWarn(err, "Webhook subscription failed", fields)
	}

	status := models.AccountStatusActive
	f.Status = &status
	account, err := s.store.UpsertAccount(ctx, tenantID, f)
	if err != nil {
		return nil, err
	}
	logEntry(ctx, s.logger, fields).WithField(LogFieldRoutingKey, phone.ID).Info("WhatsApp account connected")
	return statusOf(account), nil
}

func (s *ConnectionService) subscribe(ctx context.Context, wabaID, token string) error {
	err := s.call(ctx, func(ctx context.Context) error {
		return s.client.SubscribeApp(ctx, wabaID, token)
	})
	return providerError(err)
}

// VerifyPhone submits the OTP for a phone number awaiting verification and
// activates the account once the provider accepts it.
func (s *ConnectionService) VerifyPhone(ctx context.Context, tenantID, code string) (*ConnectionStatus, error) {
	if err := validation.ValidateVerificationCode(code); err != nil {
		return nil, err
	}
	account, err := s.store.FindAccountByTenant(ctx, tenantID, true)
	if err != nil {
		return nil, err
	}
	if account == nil || account.PhoneNumberID == "" {
		return nil, apperrors.NewNotFoundError("phone number to verify", tenantID)
	}
	if account.AccessToken == "" {
		return nil, apperrors.NewStructuralTenantError(tenantID, "no access token")
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.client.VerifyCode(callCtx, account.PhoneNumberID, account.AccessToken, code); err != nil {
		return nil, providerError(err)
	}

	if account.WABAID != "" {
		if err := s.subscribe(ctx, account.WABAID, account.AccessToken); err != nil {
			s.errLog.LogWarn(err, "Webhook subscription failed", logrus.Fields{LogFieldTenantID: tenantID})
		}
	}
	if err := s.store.UpdateAccountStatus(ctx, tenantID, models.AccountStatusActive); err != nil {
		return nil, err
	}
	account.Status = models.AccountStatusActive
	s.logger.WithField(LogFieldTenantID, tenantID).Info("Phone number verified")
	return statusOf(account), nil
}

func (s *ConnectionService) Status(ctx context.Context, tenantID string) (*ConnectionStatus, error) {
	account, err := s.store.FindAccountByTenant(ctx, tenantID, false)
	if err != nil {
		return nil, err
	}
	return statusOf(account), nil
}

// Disconnect clears the tenant's tokens and routing key and marks the account
// disconnected. The row itself is not deleted: conversations and queue items
// reference it, and without a token or phone number id it can neither send
// nor receive webhooks. A later signup reuses the same row.
func (s *ConnectionService) Disconnect(ctx context.Context, tenantID string) error {
	account, err := s.store.FindAccountByTenant(ctx, tenantID, false)
	if err != nil {
		return err
	}
	if account == nil {
		return apperrors.NewNotFoundError("account", tenantID)
	}
	empty := ""
	status := models.AccountStatusDisconnected
	_, err = s.store.UpsertAccount(ctx, tenantID, models.AccountFields{
		PhoneNumberID: &empty,
		AccessToken:   &empty,
		TempToken:     &empty,
		Status:        &status,
	})
	if err != nil {
		return err
	}
	s.logger.WithField(LogFieldTenantID, tenantID).Info("WhatsApp account disconnected")
	return nil
}

func (s *ConnectionService) connectedAccount(ctx context.Context, tenantID string) (*models.Account, error) {
	account, err := s.store.FindAccountByTenant(ctx, tenantID, true)
	if err != nil {
		return nil, err
	}
	if account == nil || account.WABAID == "" || account.AccessToken == "" {
		return nil, apperrors.NewNotConnectedError(tenantID)
	}
	return account, nil
}

// SyncTemplates pulls the tenant's templates from the provider into the store.
func (s *ConnectionService) SyncTemplates(ctx context.Context, tenantID string) ([]*models.Template, error) {
	account, err := s.connectedAccount(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if err := s.subscribe(ctx, account.WABAID, account.AccessToken); err != nil {
		s.errLog.LogWarn(err, "Webhook subscription refresh failed", logrus.Fields{LogFieldTenantID: tenantID})
	}

	var remote []types.ProviderTemplate
	err = s.call(ctx, func(ctx context.Context) error {
		var err error
		remote, err = s.client.ListTemplates(ctx, account.WABAID, account.AccessToken)
		return err
	})
	if err != nil {
		return nil, providerError(err)
	}

	out := make([]*models.Template, 0, len(remote))
	for _, rt := range remote {
		tpl, err := s.store.UpsertTemplate(ctx, templateFromProvider(tenantID, account.ID, rt))
		if err != nil {
			return out, err
		}
		out = append(out, tpl)
	}
	s.logger.WithFields(logrus.Fields{
		LogFieldTenantID: tenantID,
		LogFieldCount:    len(out),
	}).Info("Templates synced")
	return out, nil
}

func templateFromProvider(tenantID, accountID string, rt types.ProviderTemplate) *models.Template {
	status, ok := models.ParseTemplateStatus(rt.Status)
	if !ok {
		status = models.TemplateStatusPending
	}
	t := &models.Template{
		TenantID:           tenantID,
		AccountID:          accountID,
		Name:               rt.Name,
		Language:           rt.Language,
		Category:           strings.ToLower(rt.Category),
		HeaderText:         rt.ComponentText("HEADER"),
		BodyText:           rt.ComponentText("BODY"),
		FooterText:         rt.ComponentText("FOOTER"),
		Status:             status,
		ProviderTemplateID: rt.ID,
		RejectedReason:     rt.RejectedReason,
	}
	for _, c := range rt.Components {
		if strings.EqualFold(c.Type, "BUTTONS") && len(c.Buttons) > 0 {
			if b, err := json.Marshal(c.Buttons); err == nil {
				t.Buttons = b
			}
		}
	}
	return t
}

// CreateTemplateRequest submits a new template for provider review.
type CreateTemplateRequest struct {
	Name       string                    `json:"name"`
	Language   string                    `json:"language"`
	Category   string                    `json:"category"`
	HeaderText string                    `json:"header_text,omitempty"`
	BodyText   string                    `json:"body_text"`
	FooterText string                    `json:"footer_text,omitempty"`
	Buttons    []types.TemplateButton    `json:"buttons,omitempty"`
	Components []types.TemplateComponent `json:"components,omitempty"`
}

func (r *CreateTemplateRequest) definition() (types.TemplateDefinition, error) {
	if r.Language == "" {
		r.Language = "en"
	}
	if err := validation.ValidateTemplateName(r.Name); err != nil {
		return types.TemplateDefinition{}, err
	}
	if err := validation.ValidateLanguageCode(r.Language); err != nil {
		return types.TemplateDefinition{}, err
	}
	category := strings.ToUpper(strings.TrimSpace(r.Category))
	switch category {
	case "MARKETING", "UTILITY", "AUTHENTICATION":
	default:
		return types.TemplateDefinition{}, apperrors.NewValidationError("category", "must be MARKETING, UTILITY or AUTHENTICATION")
	}

	def := types.TemplateDefinition{Name: r.Name, Language: r.Language, Category: category}
	if len(r.Components) > 0 {
		def.Components = r.Components
		return def, nil
	}
	if strings.TrimSpace(r.BodyText) == "" {
		return types.TemplateDefinition{}, apperrors.NewValidationError("body_text", "cannot be empty")
	}
	if r.HeaderText != "" {
		def.Components = append(def.Components, types.TemplateComponent{Type: "HEADER", Format: "TEXT", Text: r.HeaderText})
	}
	def.Components = append(def.Components, types.TemplateComponent{Type: "BODY", Text: r.BodyText})
	if r.FooterText != "" {
		def.Components = append(def.Components, types.TemplateComponent{Type: "FOOTER", Text: r.FooterText})
	}
	if len(r.Buttons) > 0 {
		def.Components = append(def.Components, types.TemplateComponent{Type: "BUTTONS", Buttons: r.Buttons})
	}
	return def, nil
}

// CreateTemplate submits a template to the provider and stores it as pending.
func (s *ConnectionService) CreateTemplate(ctx context.Context, tenantID string, req CreateTemplateRequest) (*models.Template, error) {
	def, err := req.definition()
	if err != nil {
		return nil, err
	}
	account, err := s.connectedAccount(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	resp, err := s.client.CreateTemplate(callCtx, account.WABAID, account.AccessToken, def)
	if err != nil {
		return nil, providerError(err)
	}

	status := models.TemplateStatusPending
	if st, ok := models.ParseTemplateStatus(resp.Status); ok {
		status = st
	}
	local := templateFromProvider(tenantID, account.ID, types.ProviderTemplate{
		ID:         resp.ID,
		Name:       def.Name,
		Language:   def.Language,
		Category:   def.Category,
		Components: def.Components,
	})
	local.Status = status
	tpl, err := s.store.UpsertTemplate(ctx, local)
	if err != nil {
		return nil, fmt.Errorf("template created at provider but not stored: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		LogFieldTenantID: tenantID,
		LogFieldTemplate: def.Name,
		LogFieldStatus:   status,
	}).Info("Template submitted for review")
	return tpl, nil
}

func (s *ConnectionService) ListTemplates(ctx context.Context, tenantID string) ([]*models.Template, error) {
	if err := validation.ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	return s.store.ListTemplates(ctx, tenantID)
}
