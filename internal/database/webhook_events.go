package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"wabagate/internal/models"
)

const webhookEventColumns = `id, body, status, attempts, last_error, received_at, processed_at`

func scanWebhookEvent(row rowScanner) (*models.WebhookEvent, error) {
	var (
		e         models.WebhookEvent
		processed sql.NullTime
	)
	if err := row.Scan(&e.ID, &e.Body, &e.Status, &e.Attempts, &e.LastError, &e.ReceivedAt, &processed); err != nil {
		return nil, err
	}
	e.ProcessedAt = timePtr(processed)
	return &e, nil
}

// InsertWebhookEvent durably stores a verified webhook body before it is acknowledged.
func (d *Database) InsertWebhookEvent(ctx context.Context, body []byte) (*models.WebhookEvent, error) {
	e := &models.WebhookEvent{
		ID:         newID(),
		Body:       body,
		Status:     models.WebhookEventPending,
		ReceivedAt: d.timestamp(),
	}
	err := retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx,
			"INSERT INTO webhook_events (id, body, status, received_at) VALUES (?, ?, ?, ?)",
			e.ID, e.Body, e.Status, e.ReceivedAt)
		return err
	}, "insert webhook event")
	if err != nil {
		return nil, fmt.Errorf("failed to store webhook event: %w", err)
	}
	return e, nil
}

// ClaimWebhookEvents moves up to limit pending events to processing and returns them.
func (d *Database) ClaimWebhookEvents(ctx context.Context, limit int) ([]*models.WebhookEvent, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT "+webhookEventColumns+
		" FROM webhook_events WHERE status = 'pending' ORDER BY received_at ASC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhook events: %w", err)
	}
	var pending []*models.WebhookEvent
	for rows.Next() {
		e, err := scanWebhookEvent(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan webhook event: %w", err)
		}
		pending = append(pending, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	claimed := pending[:0]
	for _, e := range pending {
		res, err := d.db.ExecContext(ctx,
			"UPDATE webhook_events SET status = 'processing', attempts = attempts + 1 WHERE id = ? AND status = 'pending'",
			e.ID)
		if err != nil {
			return claimed, fmt.Errorf("failed to claim webhook event: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			e.Status = models.WebhookEventProcessing
			e.Attempts++
			claimed = append(claimed, e)
		}
	}
	return claimed, nil
}

func (d *Database) MarkWebhookEventProcessed(ctx context.Context, id string, at time.Time) error {
	_, err := d.db.ExecContext(ctx,
		"UPDATE webhook_events SET status = 'processed', last_error = '', processed_at = ? WHERE id = ?",
		at.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark webhook event processed: %w", err)
	}
	return nil
}

// MarkWebhookEventFailed records an error. Events with attempts left go back to pending.
func (d *Database) MarkWebhookEventFailed(ctx context.Context, id, lastError string, maxAttempts int) error {
	_, err := d.db.ExecContext(ctx, `
		UPDATE webhook_events
		SET status = CASE WHEN attempts >= ? THEN 'failed' ELSE 'pending' END, last_error = ?
		WHERE id = ?`, maxAttempts, lastError, id)
	if err != nil {
		return fmt.Errorf("failed to mark webhook event failed: %w", err)
	}
	return nil
}

// ReleaseProcessingWebhookEvents returns events left in processing by a crashed process to pending.
func (d *Database) ReleaseProcessingWebhookEvents(ctx context.Context) (int64, error) {
	res, err := d.db.ExecContext(ctx, "UPDATE webhook_events SET status = 'pending' WHERE status = 'processing'")
	if err != nil {
		return 0, fmt.Errorf("failed to release webhook events: %w", err)
	}
	return res.RowsAffected()
}

func (d *Database) GetWebhookEvent(ctx context.Context, id string) (*models.WebhookEvent, error) {
	row := d.db.QueryRowContext(ctx, "SELECT "+webhookEventColumns+" FROM webhook_events WHERE id = ?", id)
	e, err := scanWebhookEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook event: %w", err)
	}
	return e, nil
}

// PurgeWebhookEvents deletes processed events received before cutoff.
func (d *Database) PurgeWebhookEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := d.db.ExecContext(ctx,
		"DELETE FROM webhook_events WHERE status = 'processed' AND received_at < ?", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge webhook events: %w", err)
	}
	return res.RowsAffected()
}
