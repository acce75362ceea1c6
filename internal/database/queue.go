package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	apperrors "wabagate/internal/errors"
	"wabagate/internal/models"
)

const queueColumns = `
	id, tenant_id, conversation_id, payload, status, attempts, max_attempts,
	next_attempt_at, last_error, provider_message_id, claimed_by, claimed_at,
	sent_at, replay_of, created_at, updated_at`

func scanQueueItem(row rowScanner) (*models.QueueItem, error) {
	var (
		q               models.QueueItem
		payload         string
		claimedAt, sent sql.NullTime
	)
	if err := row.Scan(
		&q.ID, &q.TenantID, &q.ConversationID, &payload, &q.Status, &q.Attempts, &q.MaxAttempts,
		&q.NextAttemptAt, &q.LastError, &q.ProviderMessageID, &q.ClaimedBy, &claimedAt,
		&sent, &q.ReplayOf, &q.CreatedAt, &q.UpdatedAt,
	); err != nil {
		return nil, err
	}
	q.Payload = json.RawMessage(payload)
	q.ClaimedAt = timePtr(claimedAt)
	q.SentAt = timePtr(sent)
	return &q, nil
}

func collectQueueItems(rows *sql.Rows) ([]*models.QueueItem, error) {
	defer rows.Close()
	var out []*models.QueueItem
	for rows.Next() {
		q, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// EnqueueOutbound stores a pending item eligible immediately.
func (d *Database) EnqueueOutbound(ctx context.Context, item *models.QueueItem) error {
	if item.TenantID == "" {
		return apperrors.NewValidationError("tenant_id", "must not be empty")
	}
	if !json.Valid(item.Payload) {
		return apperrors.NewValidationError("payload", "must be valid JSON")
	}
	if item.MaxAttempts <= 0 {
		return apperrors.NewValidationError("max_attempts", "must be positive")
	}
	if item.ID == "" {
		item.ID = newID()
	}
	now := d.timestamp()
	item.Status = models.QueueStatusPending
	item.Attempts = 0
	if item.NextAttemptAt.IsZero() {
		item.NextAttemptAt = now
	}
	item.CreatedAt, item.UpdatedAt = now, now

	err := retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, `
			INSERT INTO outbound_queue (
				id, tenant_id, conversation_id, payload, status, attempts, max_attempts,
				next_attempt_at, replay_of, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?)`,
			item.ID, item.TenantID, item.ConversationID, string(item.Payload), item.Status, item.MaxAttempts,
			item.NextAttemptAt.UTC(), item.ReplayOf, now, now)
		return err
	}, "enqueue outbound")
	if err != nil {
		return fmt.Errorf("failed to enqueue outbound message: %w", err)
	}
	return nil
}

// ListEligibleOutbound returns pending or failed items with attempts left whose
// next attempt time has passed, oldest eligible first.
func (d *Database) ListEligibleOutbound(ctx context.Context, now time.Time, limit int) ([]*models.QueueItem, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT "+queueColumns+` FROM outbound_queue
		WHERE status IN ('pending', 'failed') AND attempts < max_attempts AND next_attempt_at <= ?
		ORDER BY next_attempt_at ASC, created_at ASC LIMIT ?`, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list eligible outbound: %w", err)
	}
	return collectQueueItems(rows)
}

// ClaimOutbound atomically moves an eligible item to processing for workerID.
// It returns false when another worker got there first.
func (d *Database) ClaimOutbound(ctx context.Context, id, workerID string, now time.Time) (bool, error) {
	var claimed bool
	err := retryableDBOperation(ctx, func() error {
		res, err := d.db.ExecContext(ctx, `
			UPDATE outbound_queue
			SET status = 'processing', claimed_by = ?, claimed_at = ?, updated_at = ?
			WHERE id = ? AND status IN ('pending', 'failed') AND attempts < max_attempts`,
			workerID, now.UTC(), d.timestamp(), id)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		claimed = n == 1
		return nil
	}, "claim outbound")
	if err != nil {
		return false, fmt.Errorf("failed to claim outbound item: %w", err)
	}
	return claimed, nil
}

func (d *Database) MarkOutboundSent(ctx context.Context, id, providerMessageID string, at time.Time) error {
	return d.updateOutbound(ctx, "mark outbound sent", `
		UPDATE outbound_queue
		SET status = 'sent', provider_message_id = ?, sent_at = ?, last_error = '',
			claimed_by = '', claimed_at = NULL, updated_at = ?
		WHERE id = ? AND status = 'processing'`,
		providerMessageID, at.UTC(), d.timestamp(), id)
}

// MarkOutboundFailed records a failed attempt and schedules the next one.
func (d *Database) MarkOutboundFailed(ctx context.Context, id, lastError string, nextAttemptAt time.Time) error {
	return d.updateOutbound(ctx, "mark outbound failed", `
		UPDATE outbound_queue
		SET status = 'failed', attempts = attempts + 1, last_error = ?, next_attempt_at = ?,
			claimed_by = '', claimed_at = NULL, updated_at = ?
		WHERE id = ? AND status = 'processing'`,
		lastError, nextAttemptAt.UTC(), d.timestamp(), id)
}

// MarkOutboundPermanentlyFailed records a final failed attempt.
func (d *Database) MarkOutboundPermanentlyFailed(ctx context.Context, id, lastError string) error {
	return d.updateOutbound(ctx, "mark outbound permanently failed", `
		UPDATE outbound_queue
		SET status = 'permanently_failed', attempts = attempts + 1, last_error = ?,
			claimed_by = '', claimed_at = NULL, updated_at = ?
		WHERE id = ? AND status = 'processing'`,
		lastError, d.timestamp(), id)
}

// ReleaseOutboundClaim hands a claimed item back without consuming an attempt.
func (d *Database) ReleaseOutboundClaim(ctx context.Context, id string, nextAttemptAt time.Time) error {
	return d.updateOutbound(ctx, "release outbound claim", `
		UPDATE outbound_queue
		SET status = CASE WHEN attempts = 0 THEN 'pending' ELSE 'failed' END, next_attempt_at = ?,
			claimed_by = '', claimed_at = NULL, updated_at = ?
		WHERE id = ? AND status = 'processing'`,
		nextAttemptAt.UTC(), d.timestamp(), id)
}

func (d *Database) updateOutbound(ctx context.Context, op, query string, args ...interface{}) error {
	var n int64
	err := retryableDBOperation(ctx, func() error {
		res, err := d.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		return nil
	}, op)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if n == 0 {
		return apperrors.NewNotFoundError("claimed queue item", fmt.Sprint(args[len(args)-1]))
	}
	return nil
}

// ReleaseStaleOutboundClaims returns items stuck in processing since before
// cutoff to the failed state so they are retried. Attempts are unchanged.
func (d *Database) ReleaseStaleOutboundClaims(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := d.db.ExecContext(ctx, `
		UPDATE outbound_queue
		SET status = 'failed', claimed_by = '', claimed_at = NULL,
			last_error = 'claim expired', updated_at = ?
		WHERE status = 'processing' AND claimed_at < ?`,
		d.timestamp(), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to release stale claims: %w", err)
	}
	return res.RowsAffected()
}

func (d *Database) GetOutbound(ctx context.Context, id string) (*models.QueueItem, error) {
	row := d.db.QueryRowContext(ctx, "SELECT "+queueColumns+" FROM outbound_queue WHERE id = ?", id)
	q, err := scanQueueItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue item: %w", err)
	}
	return q, nil
}

// ListOutbound returns items with the given status, newest first. An empty status lists all.
func (d *Database) ListOutbound(ctx context.Context, status models.QueueStatus, limit int) ([]*models.QueueItem, error) {
	_, limit = clampPage(0, limit)
	var (
		rows *sql.Rows
		err  error
	)
	if status == "" {
		rows, err = d.db.QueryContext(ctx, "SELECT "+queueColumns+
			" FROM outbound_queue ORDER BY created_at DESC LIMIT ?", limit)
	} else {
		rows, err = d.db.QueryContext(ctx, "SELECT "+queueColumns+
			" FROM outbound_queue WHERE status = ? ORDER BY created_at DESC LIMIT ?", status, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list queue items: %w", err)
	}
	return collectQueueItems(rows)
}

// ReplayOutbound copies a permanently failed item into a new pending item.
// The original keeps its terminal status.
func (d *Database) ReplayOutbound(ctx context.Context, id string, maxAttempts int) (*models.QueueItem, error) {
	orig, err := d.GetOutbound(ctx, id)
	if err != nil {
		return nil, err
	}
	if orig == nil {
		return nil, apperrors.NewNotFoundError("queue item", id)
	}
	if orig.Status != models.QueueStatusPermanentlyFailed {
		return nil, apperrors.NewValidationError("status", "only permanently failed items can be replayed")
	}
	if maxAttempts <= 0 {
		maxAttempts = orig.MaxAttempts
	}

	replay := &models.QueueItem{
		TenantID:       orig.TenantID,
		ConversationID: orig.ConversationID,
		Payload:        orig.Payload,
		MaxAttempts:    maxAttempts,
		ReplayOf:       orig.ID,
	}
	if err := d.EnqueueOutbound(ctx, replay); err != nil {
		return nil, err
	}
	return replay, nil
}

// QueueStats counts items per status.
func (d *Database) QueueStats(ctx context.Context) (map[models.QueueStatus]int, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM outbound_queue GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to count queue items: %w", err)
	}
	defer rows.Close()

	stats := make(map[models.QueueStatus]int)
	for rows.Next() {
		var (
			status models.QueueStatus
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan queue stats: %w", err)
		}
		stats[status] = count
	}
	return stats, rows.Err()
}
