package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jwalitptl/caresync/internal/model"
	"github.com/jwalitptl/caresync/internal/repository"
)

type idempotencyRepository struct {
	BaseRepository
}

func NewIdempotencyRepository(base BaseRepository) repository.IdempotencyRepository {
	return &idempotencyRepository{base}
}

func (r *idempotencyRepository) Reserve(ctx context.Context, key, requestHash string) (bool, error) {
	query := `
		INSERT INTO sync_idempotency_keys (key, request_hash, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query, key, requestHash)
	if err != nil {
		return false, fmt.Errorf("failed to reserve idempotency key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *idempotencyRepository) Lookup(ctx context.Context, key string) (*model.IdempotencyRecord, error) {
	query := `
		SELECT key, request_hash, response_status, response_body, created_at, completed_at
		FROM sync_idempotency_keys
		WHERE key = $1
	`
	var rec model.IdempotencyRecord
	if err := r.db.GetContext(ctx, &rec, query, key); err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

// Store records the response for key. A row already bound to a different
// hash is left untouched.
func (r *idempotencyRepository) Store(ctx context.Context, key, requestHash string, status int, body []byte) error {
	query := `
		INSERT INTO sync_idempotency_keys (key, request_hash, response_status, response_body, created_at, completed_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (key) DO UPDATE
		SET response_status = EXCLUDED.response_status,
			response_body = EXCLUDED.response_body,
			completed_at = EXCLUDED.completed_at
		WHERE sync_idempotency_keys.request_hash = EXCLUDED.request_hash
	`
	if _, err := r.db.ExecContext(ctx, query, key, requestHash, status, string(body)); err != nil {
		return fmt.Errorf("failed to store idempotent response: %w", err)
	}
	return nil
}

// DeleteCompletedBefore also drops reservations that never completed.
func (r *idempotencyRepository) DeleteCompletedBefore(ctx context.Context, before time.Time) (int64, error) {
	query := `
		DELETE FROM sync_idempotency_keys
		WHERE COALESCE(completed_at, created_at) < $1
	`
	res, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete idempotency keys: %w", err)
	}
	return res.RowsAffected()
}
