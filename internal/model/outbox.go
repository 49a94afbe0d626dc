package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusRetry     OutboxStatus = "retry"
	OutboxStatusProcessed OutboxStatus = "processed"
	OutboxStatusFailed    OutboxStatus = "failed"
)

// Domain event types written to the server-side event outbox.
const (
	EventCaseRecordUpserted  = "case_record.upserted"
	EventCaseRecordUpdated   = "case_record.updated"
	EventCareReceiverUpdated = "care_receiver.updated"
	EventCareReceiverDeleted = "care_receiver.deleted"
)

// OutboxEvent is a domain event persisted in the same transaction as the
// change it describes and published to the broker by the worker.
type OutboxEvent struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	EventType    string          `db:"event_type" json:"event_type"`
	Payload      json.RawMessage `db:"payload" json:"payload"`
	Status       string          `db:"status" json:"status"`
	ErrorMessage *string         `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	ProcessedAt  *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
	RetryCount   int             `db:"retry_count" json:"retry_count"`
	RetryAt      *time.Time      `db:"retry_at" json:"retry_at,omitempty"`
}

// CaseRecordEvent is the payload of case_record.* events.
type CaseRecordEvent struct {
	RecordID    string `json:"recordId"`
	UserID      string `json:"userId"`
	ServiceType string `json:"serviceType"`
	RecordDate  string `json:"recordDate"`
	Version     int64  `json:"version"`
	OpID        string `json:"opId,omitempty"`
}

// CareReceiverEvent is the payload of care_receiver.* events. It carries no
// personal fields.
type CareReceiverEvent struct {
	ID        string `json:"id"`
	Code      string `json:"code"`
	ServiceID string `json:"serviceId"`
	Version   int64  `json:"version"`
}
