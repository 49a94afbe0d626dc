package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Case record sections and sources.
const (
	SectionContent = "content"
	TemplateAT     = "AT"
	SourceOffline  = "offline"
	SourceManual   = "manual"
)

// CaseRecord is one row of case_records. The natural key is
// (user_id, service_type, record_date, section, item_key).
type CaseRecord struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	ServiceID   string          `db:"service_id" json:"serviceId"`
	UserID      string          `db:"user_id" json:"userId"`
	ServiceType string          `db:"service_type" json:"serviceType"`
	RecordDate  string          `db:"record_date" json:"recordDate"`
	Section     string          `db:"section" json:"section"`
	ItemKey     string          `db:"item_key" json:"itemKey"`
	Content     json.RawMessage `db:"content" json:"content"`
	Source      string          `db:"source" json:"source"`
	Version     int64           `db:"version" json:"version"`
	CreatedAt   time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updatedAt"`
}

// CaseRecordFilters narrows case record listings.
type CaseRecordFilters struct {
	UserID      string `form:"userId"`
	ServiceType string `form:"serviceType"`
	From        string `form:"from"`
	To          string `form:"to"`
	Limit       int    `form:"limit"`
}

// CreateCaseRecordRequest is the body of POST /case-records, the online
// write path. The staff fields and record time are folded into the content.
type CreateCaseRecordRequest struct {
	UserID      string          `json:"userId" validate:"required"`
	ServiceID   string          `json:"serviceId" validate:"required"`
	RecordDate  string          `json:"recordDate" validate:"required,ymd"`
	RecordTime  *string         `json:"recordTime" validate:"omitempty,max=16"`
	MainStaffID *string         `json:"mainStaffId"`
	SubStaffIDs []string        `json:"subStaffIds"`
	Payload     json.RawMessage `json:"payload"`
}

// UpdateCaseRecordRequest is the body of PUT /case-records/:id.
type UpdateCaseRecordRequest struct {
	Version    *int64          `json:"version" validate:"required"`
	RecordDate *string         `json:"recordDate" validate:"omitempty,ymd"`
	Content    json.RawMessage `json:"content"`
	Source     *string         `json:"source" validate:"omitempty,max=32"`
}
