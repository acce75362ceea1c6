package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "wabagate/internal/errors"
	"wabagate/internal/models"
)

const messageColumns = `
	id, conversation_id, tenant_id, direction, COALESCE(provider_message_id, ''), type,
	body, caption, media_id, media_url, media_mime_type, media_filename,
	template_name, template_language, template_params, from_phone, to_phone,
	status, status_reason, sent_at, delivered_at, read_at, payload, created_at, updated_at`

func scanMessage(row rowScanner) (*models.Message, error) {
	var (
		m                         models.Message
		params, payload           string
		sentAt, deliveredAt, read sql.NullTime
	)
	if err := row.Scan(
		&m.ID, &m.ConversationID, &m.TenantID, &m.Direction, &m.ProviderMessageID, &m.Type,
		&m.Body, &m.Caption, &m.MediaID, &m.MediaURL, &m.MediaMimeType, &m.MediaFilename,
		&m.TemplateName, &m.TemplateLanguage, &params, &m.FromPhone, &m.ToPhone,
		&m.Status, &m.StatusReason, &sentAt, &deliveredAt, &read, &payload, &m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if params != "" {
		if err := json.Unmarshal([]byte(params), &m.TemplateParams); err != nil {
			return nil, fmt.Errorf("failed to decode template params: %w", err)
		}
	}
	if payload != "" {
		m.Payload = json.RawMessage(payload)
	}
	m.SentAt = timePtr(sentAt)
	m.DeliveredAt = timePtr(deliveredAt)
	m.ReadAt = timePtr(read)
	return &m, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (d *Database) insertMessage(ctx context.Context, m *models.Message, ignoreDuplicate bool) (bool, error) {
	if m.ConversationID == "" || m.TenantID == "" {
		return false, apperrors.NewValidationError("message", "conversation and tenant are required")
	}
	var created bool
	err := retryableDBOperation(ctx, func() error {
		var err error
		created, err = d.execInsertMessage(ctx, d.db, m, ignoreDuplicate)
		return err
	}, "insert message")
	if err != nil {
		if isUniqueViolation(err) {
			return false, apperrors.NewConflictError("provider message id", m.ProviderMessageID, err)
		}
		return false, fmt.Errorf("failed to insert message: %w", err)
	}
	return created, nil
}

func (d *Database) execInsertMessage(ctx context.Context, ex execer, m *models.Message, ignoreDuplicate bool) (bool, error) {
	if m.ID == "" {
		m.ID = newID()
	}
	if m.Type == "" {
		m.Type = models.MessageTypeText
	}
	now := d.timestamp()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	var params string
	if len(m.TemplateParams) > 0 {
		b, err := json.Marshal(m.TemplateParams)
		if err != nil {
			return false, fmt.Errorf("failed to encode template params: %w", err)
		}
		params = string(b)
	}

	query := `INSERT INTO messages (
			id, conversation_id, tenant_id, direction, provider_message_id, type,
			body, caption, media_id, media_url, media_mime_type, media_filename,
			template_name, template_language, template_params, from_phone, to_phone,
			status, status_reason, sent_at, delivered_at, read_at, payload, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if ignoreDuplicate {
		query += " ON CONFLICT (provider_message_id) DO NOTHING"
	}

	res, err := ex.ExecContext(ctx, query,
		m.ID, m.ConversationID, m.TenantID, m.Direction, nullIfEmpty(m.ProviderMessageID), m.Type,
		m.Body, m.Caption, m.MediaID, m.MediaURL, m.MediaMimeType, m.MediaFilename,
		m.TemplateName, m.TemplateLanguage, params, m.FromPhone, m.ToPhone,
		m.Status, m.StatusReason, nullTime(m.SentAt), nullTime(m.DeliveredAt), nullTime(m.ReadAt),
		string(m.Payload), m.CreatedAt.UTC(), m.UpdatedAt,
	)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// CreateInboundMessage persists a customer message. A provider message id that
// was already stored is ignored and reported as created=false.
func (d *Database) CreateInboundMessage(ctx context.Context, m *models.Message) (bool, error) {
	m.Direction = models.DirectionInbound
	if m.Status == "" {
		m.Status = models.MessageStatusDelivered
	}
	return d.insertMessage(ctx, m, true)
}

// CreateOutboundMessage persists a message the gateway sent or is about to send.
func (d *Database) CreateOutboundMessage(ctx context.Context, m *models.Message) error {
	m.Direction = models.DirectionOutbound
	if m.Status == "" {
		m.Status = models.MessageStatusQueued
	}
	_, err := d.insertMessage(ctx, m, false)
	return err
}

// FindMessagesByConversation returns a page of the thread, oldest first.
func (d *Database) FindMessagesByConversation(ctx context.Context, conversationID string, offset, limit int) ([]*models.Message, error) {
	offset, limit = clampPage(offset, limit)
	rows, err := d.db.QueryContext(ctx, "SELECT "+messageColumns+` FROM messages
		WHERE conversation_id = ? ORDER BY created_at ASC, rowid ASC LIMIT ? OFFSET ?`,
		conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return collectMessages(rows)
}

func (d *Database) FindMessageByProviderID(ctx context.Context, providerMessageID string) (*models.Message, error) {
	if providerMessageID == "" {
		return nil, nil
	}
	row := d.db.QueryRowContext(ctx, "SELECT "+messageColumns+" FROM messages WHERE provider_message_id = ?", providerMessageID)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return m, nil
}

// LatestInboundMessage returns the newest customer message of a conversation.
func (d *Database) LatestInboundMessage(ctx context.Context, conversationID string) (*models.Message, error) {
	row := d.db.QueryRowContext(ctx, "SELECT "+messageColumns+` FROM messages
		WHERE conversation_id = ? AND direction = 'inbound'
		ORDER BY created_at DESC, rowid DESC LIMIT 1`, conversationID)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest inbound message: %w", err)
	}
	return m, nil
}

// StatusExtra carries side data for a status update.
type StatusExtra struct {
	At     time.Time
	Reason string
}

// UpdateMessageStatus moves a message forward along queued, sent, delivered,
// read. Failed is terminal. Unknown ids and regressions report applied=false
// with a nil error.
func (d *Database) UpdateMessageStatus(ctx context.Context, providerMessageID string, status models.MessageStatus, extra StatusExtra) (bool, error) {
	from := models.StatusesBefore(status)
	if len(from) == 0 {
		return false, nil
	}
	at := extra.At
	if at.IsZero() {
		at = d.timestamp()
	}
	at = at.UTC()

	sets := []string{"status = ?", "updated_at = ?"}
	args := []interface{}{status, d.timestamp()}
	switch status {
	case models.MessageStatusSent:
		sets = append(sets, "sent_at = COALESCE(sent_at, ?)")
		args = append(args, at)
	case models.MessageStatusDelivered:
		sets = append(sets, "delivered_at = COALESCE(delivered_at, ?)")
		args = append(args, at)
	case models.MessageStatusRead:
		sets = append(sets, "delivered_at = COALESCE(delivered_at, ?)", "read_at = COALESCE(read_at, ?)")
		args = append(args, at, at)
	case models.MessageStatusFailed:
		sets = append(sets, "status_reason = ?")
		args = append(args, extra.Reason)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(from)), ", ")
	args = append(args, providerMessageID)
	for _, st := range from {
		args = append(args, st)
	}

	var applied bool
	err := retryableDBOperation(ctx, func() error {
		res, err := d.db.ExecContext(ctx, "UPDATE messages SET "+strings.Join(sets, ", ")+
			" WHERE provider_message_id = ? AND status IN ("+placeholders+")", args...)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		applied = n > 0
		return nil
	}, "update message status")
	if err != nil {
		return false, fmt.Errorf("failed to update message status: %w", err)
	}
	return applied, nil
}

// SearchMessages finds a tenant's messages whose body or caption contains query.
func (d *Database) SearchMessages(ctx context.Context, tenantID, query string, limit int) ([]*models.Message, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	_, limit = clampPage(0, limit)
	like := "%" + escapeLike(query) + "%"
	rows, err := d.db.QueryContext(ctx, "SELECT "+messageColumns+` FROM messages
		WHERE tenant_id = ? AND (body LIKE ? ESCAPE '\' OR caption LIKE ? ESCAPE '\')
		ORDER BY created_at DESC LIMIT ?`, tenantID, like, like, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	return collectMessages(rows)
}

func collectMessages(rows *sql.Rows) ([]*models.Message, error) {
	defer rows.Close()
	var out []*models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
