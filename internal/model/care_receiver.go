package model

import (
	"github.com/google/uuid"
)

// CareReceiver is a person receiving care. FullName, Birthday, Address, Phone
// and EmergencyContact are personal data and must never be logged.
type CareReceiver struct {
	ID               uuid.UUID `db:"id" json:"id"`
	Code             string    `db:"code" json:"code"`
	ServiceID        string    `db:"service_id" json:"service_id"`
	Name             string    `db:"name" json:"name"`
	DisplayName      *string   `db:"display_name" json:"display_name"`
	FullName         *string   `db:"full_name" json:"full_name,omitempty"`
	Birthday         *string   `db:"birthday" json:"birthday,omitempty"`
	Address          *string   `db:"address" json:"address,omitempty"`
	Phone            *string   `db:"phone" json:"phone,omitempty"`
	EmergencyContact *string   `db:"emergency_contact" json:"emergency_contact,omitempty"`
	Age              *int      `db:"age" json:"age"`
	Gender           *string   `db:"gender" json:"gender"`
	CareLevel        *int      `db:"care_level" json:"care_level"`
	Condition        *string   `db:"condition" json:"condition"`
	MedicalCare      *string   `db:"medical_care" json:"medical_care"`
	Notes            *string   `db:"notes" json:"notes"`
	IsActive         bool      `db:"is_active" json:"is_active"`
	Version          int64     `db:"version" json:"version"`
	Timestamps
}

// Sanitized returns a copy with personal fields cleared, safe for logs and
// events.
func (c CareReceiver) Sanitized() CareReceiver {
	c.FullName = nil
	c.Birthday = nil
	c.Address = nil
	c.Phone = nil
	c.EmergencyContact = nil
	return c
}

// CareReceiverFilters narrows care receiver listings.
type CareReceiverFilters struct {
	ServiceID  string `form:"service_id"`
	ActiveOnly bool   `form:"active_only"`
}

// CareReceiverImmutableFields are stripped from update patches.
var CareReceiverImmutableFields = []string{"id", "code", "service_id", "created_at", "updated_at", "version"}

// CareReceiverUpdatableFields lists the columns a PUT may change.
var CareReceiverUpdatableFields = []string{
	"name", "display_name", "full_name", "birthday", "address", "phone",
	"emergency_contact", "age", "gender", "care_level", "condition",
	"medical_care", "notes", "is_active",
}
