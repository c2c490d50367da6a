package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrDuplicateDelivery is returned when a delivery id has already been
// recorded. Callers treat it as "already handled" and answer the sender
// with success.
var ErrDuplicateDelivery = errors.New("webhook delivery already recorded")

// WebhookStore handles webhook subscription and delivery-log operations.
type WebhookStore struct {
	db *Database
}

// NewWebhookStore creates a new webhook store.
func NewWebhookStore(db *Database) *WebhookStore {
	return &WebhookStore{db: db}
}

// SaveSubscription creates or replaces the repository's hook record.
func (s *WebhookStore) SaveSubscription(ctx context.Context, repoID, hookID int64, secret string, events []string) error {
	eventsJSON, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("failed to marshal events: %w", err)
	}

	query := `
		INSERT INTO webhook_subscriptions (repository_id, hook_id, secret, events)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(repository_id) DO UPDATE SET
			hook_id = excluded.hook_id,
			secret = excluded.secret,
			events = excluded.events,
			is_active = 1
	`
	_, err = s.db.ExecContext(ctx, query, repoID, hookID, secret, string(eventsJSON))
	return err
}

// GetSubscription returns the repository's hook record, or nil if none.
func (s *WebhookStore) GetSubscription(ctx context.Context, repoID int64) (*WebhookSubscription, error) {
	var sub WebhookSubscription
	err := s.db.GetContext(ctx, &sub,
		`SELECT * FROM webhook_subscriptions WHERE repository_id = ?`, repoID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// DeleteSubscription removes the repository's hook record.
func (s *WebhookStore) DeleteSubscription(ctx context.Context, repoID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM webhook_subscriptions WHERE repository_id = ?`, repoID)
	return err
}

// RecordDelivery logs an inbound delivery. The subscription's
// total_deliveries counter increments on every receipt, duplicates
// included; the delivery row itself is the idempotency boundary, so a
// replayed delivery id returns ErrDuplicateDelivery with the counter
// bump still committed.
func (s *WebhookStore) RecordDelivery(ctx context.Context, repoID int64, deliveryID, eventType string, payload []byte) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE webhook_subscriptions
		SET total_deliveries = total_deliveries + 1, last_delivery_at = ?
		WHERE repository_id = ?`, time.Now().UTC(), repoID)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO webhook_deliveries (delivery_id, repository_id, event_type, payload)
		VALUES (?, ?, ?, ?)`, deliveryID, repoID, eventType, payload)
	if err != nil {
		if isUniqueViolation(err) {
			if cerr := tx.Commit(); cerr != nil {
				return cerr
			}
			return ErrDuplicateDelivery
		}
		return err
	}

	return tx.Commit()
}

// MarkProcessed flags a delivery as successfully handled.
func (s *WebhookStore) MarkProcessed(ctx context.Context, deliveryID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE webhook_deliveries
		SET processed = 1, processed_at = ?, error_message = ''
		WHERE delivery_id = ?`, time.Now().UTC(), deliveryID)
	return err
}

// MarkFailed records a processing failure on the delivery and bumps the
// subscription's failure counter.
func (s *WebhookStore) MarkFailed(ctx context.Context, deliveryID, message string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var repoID int64
	err = tx.GetContext(ctx, &repoID,
		`SELECT repository_id FROM webhook_deliveries WHERE delivery_id = ?`, deliveryID)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE webhook_deliveries SET error_message = ? WHERE delivery_id = ?`,
		message, deliveryID)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE webhook_subscriptions
		SET failed_deliveries = failed_deliveries + 1
		WHERE repository_id = ?`, repoID)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// GetDelivery returns a logged delivery by its provider-issued id, or
// nil if absent.
func (s *WebhookStore) GetDelivery(ctx context.Context, deliveryID string) (*WebhookDelivery, error) {
	var d WebhookDelivery
	err := s.db.GetContext(ctx, &d,
		`SELECT * FROM webhook_deliveries WHERE delivery_id = ?`, deliveryID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}
