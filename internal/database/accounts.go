package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "wabagate/internal/errors"
	"wabagate/internal/models"
	"wabagate/internal/vault"
)

const accountColumns = `
	id, tenant_id, COALESCE(waba_id, ''), COALESCE(phone_number_id, ''),
	phone_number, business_name, status, access_token, temp_token,
	last_webhook_at, created_at, updated_at`

func (d *Database) scanAccount(row rowScanner, decrypt bool) (*models.Account, error) {
	var (
		a           models.Account
		lastWebhook sql.NullTime
	)
	if err := row.Scan(
		&a.ID, &a.TenantID, &a.WABAID, &a.PhoneNumberID,
		&a.PhoneNumber, &a.BusinessName, &a.Status, &a.AccessToken, &a.TempToken,
		&lastWebhook, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	a.LastWebhookAt = timePtr(lastWebhook)
	a.HasAccessToken = a.AccessToken != ""
	a.HasTempToken = a.TempToken != ""

	if !decrypt {
		a.AccessToken, a.TempToken = "", ""
		return &a, nil
	}

	var err error
	if a.AccessToken, err = d.vault.Decrypt(a.AccessToken, vault.KeyClassMessaging); err != nil {
		return nil, fmt.Errorf("failed to decrypt access token: %w", err)
	}
	if a.TempToken, err = d.vault.Decrypt(a.TempToken, vault.KeyClassMessaging); err != nil {
		return nil, fmt.Errorf("failed to decrypt temp token: %w", err)
	}
	return &a, nil
}

func (d *Database) findAccount(ctx context.Context, where string, arg interface{}, decrypt bool) (*models.Account, error) {
	row := d.db.QueryRowContext(ctx, "SELECT "+accountColumns+" FROM whatsapp_accounts WHERE "+where, arg)
	a, err := d.scanAccount(row, decrypt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return a, nil
}

// FindAccountByTenant returns the tenant's account or nil. Tokens are only
// decrypted when decrypt is true.
func (d *Database) FindAccountByTenant(ctx context.Context, tenantID string, decrypt bool) (*models.Account, error) {
	return d.findAccount(ctx, "tenant_id = ?", tenantID, decrypt)
}

// FindAccountByRoutingKey resolves the provider phone-number id carried by webhooks.
func (d *Database) FindAccountByRoutingKey(ctx context.Context, phoneNumberID string, decrypt bool) (*models.Account, error) {
	if phoneNumberID == "" {
		return nil, nil
	}
	return d.findAccount(ctx, "phone_number_id = ?", phoneNumberID, decrypt)
}

// FindAccountByWABA resolves business-account level webhooks such as template updates.
func (d *Database) FindAccountByWABA(ctx context.Context, wabaID string, decrypt bool) (*models.Account, error) {
	if wabaID == "" {
		return nil, nil
	}
	return d.findAccount(ctx, "waba_id = ?", wabaID, decrypt)
}

// UpsertAccount creates the tenant's account or patches the fields that are set.
// A routing key already owned by another tenant yields a CONFLICT error.
func (d *Database) UpsertAccount(ctx context.Context, tenantID string, f models.AccountFields) (*models.Account, error) {
	if tenantID == "" {
		return nil, apperrors.NewValidationError("tenant_id", "must not be empty")
	}

	cols := []string{}
	args := []interface{}{}
	set := func(col string, v interface{}) {
		cols = append(cols, col)
		args = append(args, v)
	}

	if f.WABAID != nil {
		set("waba_id", nullIfEmpty(*f.WABAID))
	}
	if f.PhoneNumberID != nil {
		set("phone_number_id", nullIfEmpty(*f.PhoneNumberID))
	}
	if f.PhoneNumber != nil {
		set("phone_number", *f.PhoneNumber)
	}
	if f.BusinessName != nil {
		set("business_name", *f.BusinessName)
	}
	if f.Status != nil {
		set("status", string(*f.Status))
	}
	if f.AccessToken != nil {
		enc, err := d.vault.Encrypt(*f.AccessToken, vault.KeyClassMessaging)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt access token: %w", err)
		}
		set("access_token", enc)
	}
	if f.TempToken != nil {
		enc, err := d.vault.Encrypt(*f.TempToken, vault.KeyClassMessaging)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt temp token: %w", err)
		}
		set("temp_token", enc)
	}

	now := d.timestamp()
	err := retryableDBOperation(ctx, func() error {
		tx, err := d.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		var id string
		err = tx.QueryRowContext(ctx, "SELECT id FROM whatsapp_accounts WHERE tenant_id = ?", tenantID).Scan(&id)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			insertCols := append([]string{"id", "tenant_id", "created_at", "updated_at"}, cols...)
			insertArgs := append([]interface{}{newID(), tenantID, now, now}, args...)
			placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(insertCols)), ", ")
			_, err = tx.ExecContext(ctx,
				"INSERT INTO whatsapp_accounts ("+strings.Join(insertCols, ", ")+") VALUES ("+placeholders+")",
				insertArgs...)
		case err != nil:
			return err
		default:
			assignments := make([]string, 0, len(cols)+1)
			for _, c := range cols {
				assignments = append(assignments, c+" = ?")
			}
			assignments = append(assignments, "updated_at = ?")
			updateArgs := append(append([]interface{}{}, args...), now, id)
			_, err = tx.ExecContext(ctx,
				"UPDATE whatsapp_accounts SET "+strings.Join(assignments, ", ")+" WHERE id = ?",
				updateArgs...)
		}
		if err != nil {
			return err
		}
		return tx.Commit()
	}, "upsert account")
	if err != nil {
		if isUniqueViolation(err) {
			routingKey := ""
			if f.PhoneNumberID != nil {
				routingKey = *f.PhoneNumberID
			}
			return nil, apperrors.NewConflictError("routing key", routingKey, err)
		}
		return nil, fmt.Errorf("failed to upsert account: %w", err)
	}

	return d.FindAccountByTenant(ctx, tenantID, false)
}

func (d *Database) UpdateAccountStatus(ctx context.Context, tenantID string, status models.AccountStatus) error {
	_, err := d.db.ExecContext(ctx,
		"UPDATE whatsapp_accounts SET status = ?, updated_at = ? WHERE tenant_id = ?",
		status, d.timestamp(), tenantID)
	if err != nil {
		return fmt.Errorf("failed to update account status: %w", err)
	}
	return nil
}

// TouchAccountWebhook records that a webhook for the routing key was just processed.
func (d *Database) TouchAccountWebhook(ctx context.Context, phoneNumberID string, at time.Time) error {
	_, err := d.db.ExecContext(ctx,
		"UPDATE whatsapp_accounts SET last_webhook_at = ? WHERE phone_number_id = ?",
		at.UTC(), phoneNumberID)
	if err != nil {
		return fmt.Errorf("failed to touch account webhook: %w", err)
	}
	return nil
}

// ListAccounts returns every account without tokens. Used by operator tooling.
func (d *Database) ListAccounts(ctx context.Context) ([]*models.Account, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT "+accountColumns+" FROM whatsapp_accounts ORDER BY tenant_id")
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var out []*models.Account
	for rows.Next() {
		a, err := d.scanAccount(rows, false)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (d *Database) DeleteAccount(ctx context.Context, tenantID string) error {
	_, err := d.db.ExecContext(ctx, "DELETE FROM whatsapp_accounts WHERE tenant_id = ?", tenantID)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	return nil
}
