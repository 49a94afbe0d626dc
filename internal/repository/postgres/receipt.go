package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jwalitptl/caresync/internal/model"
	"github.com/jwalitptl/caresync/internal/repository"
)

type receiptRepository struct {
	BaseRepository
}

func NewReceiptRepository(base BaseRepository) repository.ReceiptRepository {
	return &receiptRepository{base}
}

func (r *receiptRepository) Insert(ctx context.Context, opID, payloadHash string) (bool, error) {
	query := `
		INSERT INTO sync_op_receipts (op_id, payload_hash, status, created_at, updated_at)
		VALUES ($1, $2, 'processing', NOW(), NOW())
		ON CONFLICT (op_id) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query, opID, payloadHash)
	if err != nil {
		return false, fmt.Errorf("failed to insert receipt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *receiptRepository) Get(ctx context.Context, opID string) (*model.OpReceipt, error) {
	query := `
		SELECT op_id, payload_hash, status, result, error, created_at, updated_at
		FROM sync_op_receipts
		WHERE op_id = $1
	`
	var rec model.OpReceipt
	if err := r.db.GetContext(ctx, &rec, query, opID); err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

func (r *receiptRepository) MarkFailed(ctx context.Context, opID, message string) error {
	query := `
		UPDATE sync_op_receipts
		SET status = 'failed', error = $2, updated_at = NOW()
		WHERE op_id = $1 AND status = 'processing'
	`
	if _, err := r.db.ExecContext(ctx, query, opID, message); err != nil {
		return fmt.Errorf("failed to mark receipt failed: %w", err)
	}
	return nil
}

// DeleteBefore keeps receipts still in processing.
func (r *receiptRepository) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	query := `
		DELETE FROM sync_op_receipts
		WHERE status <> 'processing' AND updated_at < $1
	`
	res, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete receipts: %w", err)
	}
	return res.RowsAffected()
}
