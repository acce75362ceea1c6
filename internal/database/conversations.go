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
)

const conversationColumns = `
	id, tenant_id, account_id, phone, display_name, status, assigned_agent_id,
	last_message_body, last_message_at, last_customer_message_at,
	session_active, session_started_at, unread_count, created_at, updated_at`

func scanConversation(row rowScanner) (*models.Conversation, error) {
	var (
		c                                         models.Conversation
		lastMessage, lastCustomer, sessionStarted sql.NullTime
	)
	if err := row.Scan(
		&c.ID, &c.TenantID, &c.AccountID, &c.Phone, &c.DisplayName, &c.Status, &c.AssignedAgentID,
		&c.LastMessageBody, &lastMessage, &lastCustomer,
		&c.SessionActive, &sessionStarted, &c.UnreadCount, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	c.LastMessageAt = timePtr(lastMessage)
	c.LastCustomerMessageAt = timePtr(lastCustomer)
	c.SessionStartedAt = timePtr(sessionStarted)
	return &c, nil
}

func (d *Database) findConversation(ctx context.Context, where string, args ...interface{}) (*models.Conversation, error) {
	row := d.db.QueryRowContext(ctx, "SELECT "+conversationColumns+" FROM conversations WHERE "+where, args...)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return c, nil
}

func (d *Database) FindConversation(ctx context.Context, id string) (*models.Conversation, error) {
	return d.findConversation(ctx, "id = ?", id)
}

func (d *Database) FindConversationByPhone(ctx context.Context, tenantID, phone string) (*models.Conversation, error) {
	return d.findConversation(ctx, "tenant_id = ? AND phone = ?", tenantID, phone)
}

// UpsertConversationByPhone creates the (tenant, phone) conversation or applies
// the patch to it. last_message_at is refreshed either way.
func (d *Database) UpsertConversationByPhone(ctx context.Context, tenantID, accountID, phone string, p models.ConversationPatch) (*models.Conversation, error) {
	if tenantID == "" || phone == "" {
		return nil, apperrors.NewValidationError("conversation", "tenant and phone are required")
	}

	var displayName, lastBody, status, sessionActive interface{}
	if p.DisplayName != nil && *p.DisplayName != "" {
		displayName = *p.DisplayName
	}
	if p.LastMessageBody != nil {
		lastBody = *p.LastMessageBody
	}
	if p.Status != nil {
		status = string(*p.Status)
	}
	if p.SessionActive != nil {
		sessionActive = *p.SessionActive
	}

	now := d.timestamp()
	const query = `
		INSERT INTO conversations (
			id, tenant_id, account_id, phone, display_name, status, last_message_body,
			last_message_at, session_active, created_at, updated_at
		) VALUES (?1, ?2, ?3, ?4, COALESCE(?5, ''), COALESCE(?6, 'open'), COALESCE(?7, ''), ?8, COALESCE(?9, 0), ?8, ?8)
		ON CONFLICT (tenant_id, phone) DO UPDATE SET
			account_id = CASE WHEN ?3 = '' THEN conversations.account_id ELSE ?3 END,
			display_name = COALESCE(?5, conversations.display_name),
			status = COALESCE(?6, conversations.status),
			last_message_body = COALESCE(?7, conversations.last_message_body),
			session_active = COALESCE(?9, conversations.session_active),
			last_message_at = ?8,
			updated_at = ?8`

	err := retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query,
			newID(), tenantID, accountID, phone, displayName, status, lastBody, now, sessionActive)
		return err
	}, "upsert conversation")
	if err != nil {
		return nil, fmt.Errorf("failed to upsert conversation: %w", err)
	}
	return d.FindConversationByPhone(ctx, tenantID, phone)
}

func (d *Database) execConversation(ctx context.Context, op, query string, args ...interface{}) error {
	res, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NewNotFoundError("conversation", fmt.Sprint(args[len(args)-1]))
	}
	return nil
}

// customerTimeAssignments moves the customer message time and the session start
// forward to ?1. A message older than the stored customer time changes neither.
const customerTimeAssignments = `
	session_active = CASE WHEN last_customer_message_at IS NULL OR last_customer_message_at <= ?1
		THEN 1 ELSE session_active END,
	session_started_at = CASE WHEN session_started_at IS NULL OR session_started_at < ?1
		THEN ?1 ELSE session_started_at END,
	last_customer_message_at = CASE WHEN last_customer_message_at IS NULL OR last_customer_message_at < ?1
		THEN ?1 ELSE last_customer_message_at END`

// UpdateCustomerMessageTime records an inbound customer message. It re-opens the
// session unless a later customer message is already recorded.
func (d *Database) UpdateCustomerMessageTime(ctx context.Context, id string, at time.Time) error {
	return d.execConversation(ctx, "update customer message time",
		"UPDATE conversations SET "+customerTimeAssignments+", updated_at = ?2 WHERE id = ?3",
		at.UTC(), d.timestamp(), id)
}

// InboundRecord is one customer message and the conversation it lands in.
type InboundRecord struct {
	AccountID   string
	DisplayName string
	Preview     string
	CustomerAt  time.Time
	Message     *models.Message
}

// RecordInboundMessage stores a customer message and applies its conversation
// side effects in one transaction: the conversation is created if needed, the
// customer time moves forward, and the unread count goes up by one. A provider
// message id that is already stored changes nothing and reports created=false.
// The preview is only replaced when the message is not older than the latest
// recorded customer message.
func (d *Database) RecordInboundMessage(ctx context.Context, r InboundRecord) (*models.Conversation, bool, error) {
	m := r.Message
	if m == nil || m.TenantID == "" || m.FromPhone == "" {
		return nil, false, apperrors.NewValidationError("message", "tenant and sender are required")
	}
	m.Direction = models.DirectionInbound
	if m.Status == "" {
		m.Status = models.MessageStatusDelivered
	}
	at := r.CustomerAt.UTC()

	var (
		conv    *models.Conversation
		created bool
	)
	err := retryableDBOperation(ctx, func() error {
		tx, err := d.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		now := d.timestamp()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO conversations (id, tenant_id, account_id, phone, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (tenant_id, phone) DO NOTHING`,
			newID(), m.TenantID, r.AccountID, m.FromPhone, now, now)
		if err != nil {
			return err
		}
		var convID string
		err = tx.QueryRowContext(ctx, "SELECT id FROM conversations WHERE tenant_id = ? AND phone = ?",
			m.TenantID, m.FromPhone).Scan(&convID)
		if err != nil {
			return err
		}

		m.ConversationID = convID
		created, err = d.execInsertMessage(ctx, tx, m, true)
		if err != nil || !created {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE conversations SET
				account_id = CASE WHEN ?4 = '' THEN account_id ELSE ?4 END,
				display_name = CASE WHEN ?5 = '' THEN display_name ELSE ?5 END,
				last_message_body = CASE WHEN last_customer_message_at IS NULL OR last_customer_message_at <= ?1
					THEN ?6 ELSE last_message_body END,
				last_message_at = CASE WHEN last_customer_message_at IS NULL OR last_customer_message_at <= ?1
					THEN ?2 ELSE last_message_at END,
				unread_count = unread_count + 1,`+customerTimeAssignments+`,
				updated_at = ?2
			WHERE id = ?3`,
			at, now, convID, r.AccountID, r.DisplayName, r.Preview)
		if err != nil {
			return err
		}

		conv, err = scanConversation(tx.QueryRowContext(ctx,
			"SELECT "+conversationColumns+" FROM conversations WHERE id = ?", convID))
		if err != nil {
			return err
		}
		return tx.Commit()
	}, "record inbound message")
	if err != nil {
		return nil, false, fmt.Errorf("failed to record inbound message: %w", err)
	}
	if !created {
		existing, err := d.FindConversationByPhone(ctx, m.TenantID, m.FromPhone)
		return existing, false, err
	}
	return conv, true, nil
}

// ReactivateSession marks the session active after a template send without
// touching the customer message time.
func (d *Database) ReactivateSession(ctx context.Context, id string, at time.Time) error {
	return d.execConversation(ctx, "reactivate session", `
		UPDATE conversations SET session_active = 1, session_started_at = ?, updated_at = ? WHERE id = ?`,
		at.UTC(), d.timestamp(), id)
}

func (d *Database) ExpireSession(ctx context.Context, id string) error {
	return d.execConversation(ctx, "expire session",
		"UPDATE conversations SET session_active = 0, updated_at = ? WHERE id = ?", d.timestamp(), id)
}

// ExpireLapsedSessions clears session_active on every session opened before cutoff.
func (d *Database) ExpireLapsedSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := d.db.ExecContext(ctx, `
		UPDATE conversations SET session_active = 0, updated_at = ?
		WHERE session_active = 1 AND session_started_at IS NOT NULL AND session_started_at < ?`,
		d.timestamp(), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to expire lapsed sessions: %w", err)
	}
	return res.RowsAffected()
}

func (d *Database) IncrementUnread(ctx context.Context, id string) error {
	return d.execConversation(ctx, "increment unread",
		"UPDATE conversations SET unread_count = unread_count + 1, updated_at = ? WHERE id = ?", d.timestamp(), id)
}

func (d *Database) ResetUnread(ctx context.Context, id string) error {
	return d.execConversation(ctx, "reset unread",
		"UPDATE conversations SET unread_count = 0, updated_at = ? WHERE id = ?", d.timestamp(), id)
}

func (d *Database) UpdateConversationStatus(ctx context.Context, id string, status models.ConversationStatus) error {
	if !status.Valid() {
		return apperrors.NewValidationError("status", "unknown conversation status")
	}
	return d.execConversation(ctx, "update conversation status",
		"UPDATE conversations SET status = ?, updated_at = ? WHERE id = ?", status, d.timestamp(), id)
}

// AssignAgent sets the assigned agent. An empty agent id unassigns.
func (d *Database) AssignAgent(ctx context.Context, id, agentID string) error {
	return d.execConversation(ctx, "assign agent",
		"UPDATE conversations SET assigned_agent_id = ?, updated_at = ? WHERE id = ?", agentID, d.timestamp(), id)
}

// ListConversations returns a tenant's conversations, most recent activity first.
func (d *Database) ListConversations(ctx context.Context, tenantID string, f models.ConversationFilter) ([]*models.Conversation, error) {
	offset, limit := clampPage(f.Offset, f.Limit)

	where := []string{"tenant_id = ?"}
	args := []interface{}{tenantID}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		like := "%" + escapeLike(s) + "%"
		where = append(where, `(phone LIKE ? ESCAPE '\' OR display_name LIKE ? ESCAPE '\' OR last_message_body LIKE ? ESCAPE '\')`)
		args = append(args, like, like, like)
	}
	args = append(args, limit, offset)

	rows, err := d.db.QueryContext(ctx, "SELECT "+conversationColumns+" FROM conversations WHERE "+
		strings.Join(where, " AND ")+
		" ORDER BY last_message_at IS NULL, last_message_at DESC LIMIT ? OFFSET ?", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var out []*models.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
