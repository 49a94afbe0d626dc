package model

import (
	"time"
)

// Timestamps contains the bookkeeping columns shared by versioned rows.
type Timestamps struct {
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// DateLayout is the wire and storage form of record dates.
const DateLayout = "2006-01-02"

// JSONMap represents a generic JSON object
type JSONMap map[string]interface{}
