package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/caresync/internal/model"
)

var (
	// ErrNotFound is returned when a single-row lookup matches nothing.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a write collides with a unique key.
	ErrDuplicate = errors.New("record already exists")
)

// VersionOutcome is the result of a conditional update guarded by a version
// column.
type VersionOutcome int

const (
	VersionUpdated VersionOutcome = iota + 1
	VersionConflict
	VersionNotFound
)

func (o VersionOutcome) String() string {
	switch o {
	case VersionUpdated:
		return "updated"
	case VersionConflict:
		return "conflict"
	case VersionNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// All repository interfaces in one file
type (
	// IdempotencyRepository is the request-level replay ledger.
	IdempotencyRepository interface {
		// Reserve inserts key with hash. It returns false, without error, when
		// the key already exists.
		Reserve(ctx context.Context, key, requestHash string) (bool, error)
		// Lookup returns ErrNotFound when the key is absent.
		Lookup(ctx context.Context, key string) (*model.IdempotencyRecord, error)
		Store(ctx context.Context, key, requestHash string, status int, body []byte) error
		DeleteCompletedBefore(ctx context.Context, before time.Time) (int64, error)
	}

	// ReceiptRepository stores one receipt per operation id.
	ReceiptRepository interface {
		// Insert creates a processing receipt. It returns false, without
		// error, when the op id already has a receipt.
		Insert(ctx context.Context, opID, payloadHash string) (bool, error)
		// Get returns ErrNotFound when no receipt exists.
		Get(ctx context.Context, opID string) (*model.OpReceipt, error)
		MarkFailed(ctx context.Context, opID, message string) error
		DeleteBefore(ctx context.Context, before time.Time) (int64, error)
	}

	CaseRecordRepository interface {
		// ApplyOperation upserts rec by its natural key, records a domain event
		// and marks the receipt for opID applied, all in one transaction.
		ApplyOperation(ctx context.Context, opID string, rec *model.CaseRecord) (*model.CaseRecord, error)
		// Upsert writes rec by its natural key and records the same event
		// as ApplyOperation, without touching any receipt.
		Upsert(ctx context.Context, rec *model.CaseRecord) (*model.CaseRecord, error)
		Get(ctx context.Context, id uuid.UUID) (*model.CaseRecord, error)
		List(ctx context.Context, filters model.CaseRecordFilters) ([]*model.CaseRecord, error)
		UpdateVersioned(ctx context.Context, id uuid.UUID, expectedVersion int64, patch map[string]interface{}) (VersionOutcome, *model.CaseRecord, error)
	}

	CareReceiverRepository interface {
		Get(ctx context.Context, id uuid.UUID) (*model.CareReceiver, error)
		List(ctx context.Context, filters model.CareReceiverFilters) ([]*model.CareReceiver, error)
		UpdateVersioned(ctx context.Context, id uuid.UUID, expectedVersion int64, patch map[string]interface{}) (VersionOutcome, *model.CareReceiver, error)
		// Delete reports whether a row was removed.
		Delete(ctx context.Context, id uuid.UUID) (bool, error)
	}

	OutboxRepository interface {
		Create(ctx context.Context, event *model.OutboxEvent) error
		// ClaimPending leases up to limit due events so concurrent workers
		// skip them.
		ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]*model.OutboxEvent, error)
		MarkProcessed(ctx context.Context, id uuid.UUID) error
		MarkRetry(ctx context.Context, id uuid.UUID, errMsg string, retryAt time.Time) error
		MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}
)
