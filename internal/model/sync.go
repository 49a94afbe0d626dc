package model

import (
	"encoding/json"
	"time"
)

// OperationType tags the effect an outbox operation applies on the server.
type OperationType string

const OperationUpsertCaseRecord OperationType = "upsert_case_record"

// MaxSyncBatchSize bounds the number of operations in one sync request.
const MaxSyncBatchSize = 50

// IdempotencyHeader carries the request-level idempotency key.
const IdempotencyHeader = "Idempotency-Key"

// ReplayedHeader marks a response served from the idempotency ledger.
const ReplayedHeader = "Idempotent-Replayed"

// SyncRequest is the body of POST /api/v1/sync/case-records.
type SyncRequest struct {
	SyncRequestID string   `json:"syncRequestId"`
	DeviceID      string   `json:"deviceId" validate:"required,max=128"`
	Ops           []SyncOp `json:"ops" validate:"required,min=1,max=50,dive"`
}

// SyncOp is one operation of a sync batch. Each op carries its own routing
// fields so the server can apply it independently.
type SyncOp struct {
	OpID          string          `json:"opId" validate:"required,max=128"`
	DedupeKey     string          `json:"dedupeKey" validate:"required,max=512"`
	ServiceID     string          `json:"serviceId" validate:"required"`
	UserID        string          `json:"userId" validate:"required"`
	RecordDate    string          `json:"recordDate" validate:"required,ymd"`
	OperationType OperationType   `json:"operationType" validate:"required,oneof=upsert_case_record"`
	Payload       json.RawMessage `json:"payload" validate:"required"`
}

// OpStatus is the per-operation outcome reported to the client.
type OpStatus string

const (
	OpApplied        OpStatus = "applied"
	OpAlreadyApplied OpStatus = "already_applied"
	OpFailed         OpStatus = "failed"
	OpProcessing     OpStatus = "processing"
)

type SyncOpResult struct {
	OpID   string          `json:"opId"`
	Status OpStatus        `json:"status"`
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// SyncResponse is the 200/202 body of a sync request.
type SyncResponse struct {
	OK      bool           `json:"ok"`
	Results []SyncOpResult `json:"results"`
}

// ReceiptStatus is the server-side state of an operation id.
type ReceiptStatus string

const (
	ReceiptProcessing ReceiptStatus = "processing"
	ReceiptApplied    ReceiptStatus = "applied"
	ReceiptFailed     ReceiptStatus = "failed"
)

// OpReceipt records the outcome of an operation id for a given payload hash.
type OpReceipt struct {
	OpID        string        `db:"op_id" json:"opId"`
	PayloadHash string        `db:"payload_hash" json:"payloadHash"`
	Status      ReceiptStatus `db:"status" json:"status"`
	Result      []byte        `db:"result" json:"result,omitempty"`
	Error       *string       `db:"error" json:"error,omitempty"`
	CreatedAt   time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time     `db:"updated_at" json:"updatedAt"`
}

// IdempotencyRecord maps a request key to the body hash it was first seen
// with and, once finished, the response that was returned.
type IdempotencyRecord struct {
	Key            string     `db:"key"`
	RequestHash    string     `db:"request_hash"`
	ResponseStatus *int       `db:"response_status"`
	ResponseBody   []byte     `db:"response_body"`
	CreatedAt      time.Time  `db:"created_at"`
	CompletedAt    *time.Time `db:"completed_at"`
}

// Completed reports whether a response has been stored for the key.
func (r *IdempotencyRecord) Completed() bool {
	return r != nil && r.ResponseStatus != nil && r.ResponseBody != nil
}

// AppliedCaseRecord is the result stored on an applied receipt.
type AppliedCaseRecord struct {
	ID        string    `json:"id"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}
