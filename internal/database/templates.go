package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	apperrors "wabagate/internal/errors"
	"wabagate/internal/models"
)

const templateColumns = `
	id, tenant_id, account_id, name, language, category, header_text, body_text,
	footer_text, buttons, status, provider_template_id, rejected_reason,
	usage_count, last_used_at, created_at, updated_at`

func scanTemplate(row rowScanner) (*models.Template, error) {
	var (
		t        models.Template
		buttons  string
		lastUsed sql.NullTime
	)
	if err := row.Scan(
		&t.ID, &t.TenantID, &t.AccountID, &t.Name, &t.Language, &t.Category, &t.HeaderText, &t.BodyText,
		&t.FooterText, &buttons, &t.Status, &t.ProviderTemplateID, &t.RejectedReason,
		&t.UsageCount, &lastUsed, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if buttons != "" {
		t.Buttons = []byte(buttons)
	}
	t.LastUsedAt = timePtr(lastUsed)
	return &t, nil
}

// UpsertTemplate stores a template keyed by (tenant, name, language).
// Usage counters survive re-syncs.
func (d *Database) UpsertTemplate(ctx context.Context, t *models.Template) (*models.Template, error) {
	if t.TenantID == "" || t.Name == "" || t.Language == "" {
		return nil, apperrors.NewValidationError("template", "tenant, name and language are required")
	}
	if t.Status == "" {
		t.Status = models.TemplateStatusPending
	}
	now := d.timestamp()

	const query = `
		INSERT INTO templates (
			id, tenant_id, account_id, name, language, category, header_text, body_text,
			footer_text, buttons, status, provider_template_id, rejected_reason, created_at, updated_at
		) VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8, ?9, ?10, ?11, ?12, ?13, ?14, ?14)
		ON CONFLICT (tenant_id, name, language) DO UPDATE SET
			account_id = ?3,
			category = CASE WHEN ?6 = '' THEN templates.category ELSE ?6 END,
			header_text = ?7,
			body_text = CASE WHEN ?8 = '' THEN templates.body_text ELSE ?8 END,
			footer_text = ?9,
			buttons = ?10,
			status = ?11,
			provider_template_id = CASE WHEN ?12 = '' THEN templates.provider_template_id ELSE ?12 END,
			rejected_reason = ?13,
			updated_at = ?14`

	err := retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query,
			newID(), t.TenantID, t.AccountID, t.Name, t.Language, t.Category, t.HeaderText, t.BodyText,
			t.FooterText, string(t.Buttons), t.Status, t.ProviderTemplateID, t.RejectedReason, now)
		return err
	}, "upsert template")
	if err != nil {
		return nil, fmt.Errorf("failed to upsert template: %w", err)
	}
	return d.FindTemplate(ctx, t.TenantID, t.Name, t.Language)
}

// FindTemplate looks a template up by its (tenant, name, language) key.
func (d *Database) FindTemplate(ctx context.Context, tenantID, name, language string) (*models.Template, error) {
	row := d.db.QueryRowContext(ctx, "SELECT "+templateColumns+
		" FROM templates WHERE tenant_id = ? AND name = ? AND language = ?", tenantID, name, language)
	t, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return t, nil
}

// UpdateTemplateStatus applies a provider review decision.
func (d *Database) UpdateTemplateStatus(ctx context.Context, id string, status models.TemplateStatus, providerTemplateID, reason string) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE templates
		SET status = ?, rejected_reason = ?,
			provider_template_id = CASE WHEN ? = '' THEN provider_template_id ELSE ? END,
			updated_at = ?
		WHERE id = ?`,
		status, reason, providerTemplateID, providerTemplateID, d.timestamp(), id)
	if err != nil {
		return fmt.Errorf("failed to update template status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NewNotFoundError("template", id)
	}
	return nil
}

func (d *Database) IncrementTemplateUsage(ctx context.Context, id string, at time.Time) error {
	_, err := d.db.ExecContext(ctx,
		"UPDATE templates SET usage_count = usage_count + 1, last_used_at = ?, updated_at = ? WHERE id = ?",
		at.UTC(), d.timestamp(), id)
	if err != nil {
		return fmt.Errorf("failed to increment template usage: %w", err)
	}
	return nil
}

func (d *Database) ListTemplates(ctx context.Context, tenantID string) ([]*models.Template, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT "+templateColumns+
		" FROM templates WHERE tenant_id = ? ORDER BY name, language", tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	var out []*models.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
