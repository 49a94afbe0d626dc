package offline

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Draft is unsent editor state for one case record.
type Draft struct {
	Key       string          `json:"key"`
	Data      json.RawMessage `json:"data"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// DraftKey identifies the draft for serviceID/userID/date.
func DraftKey(serviceID, userID, date string) string {
	return serviceID + ":" + userID + ":" + date
}

// SaveDraft stores data under key, replacing any previous draft.
func (s *Store) SaveDraft(ctx context.Context, key string, data json.RawMessage) error {
	if !json.Valid(data) {
		return errors.New("draft data is not valid JSON")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO case_record_drafts (key, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		key, string(data), millis(s.now()))
	if err != nil {
		return fmt.Errorf("save draft %s: %w", key, err)
	}
	return nil
}

// LoadDraft returns nil, nil when no draft exists for key.
func (s *Store) LoadDraft(ctx context.Context, key string) (*Draft, error) {
	var row struct {
		Key       string `db:"key"`
		Data      string `db:"data"`
		UpdatedAt int64  `db:"updated_at"`
	}
	err := s.db.GetContext(ctx, &row, `SELECT key, data, updated_at FROM case_record_drafts WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load draft %s: %w", key, err)
	}
	return &Draft{Key: row.Key, Data: json.RawMessage(row.Data), UpdatedAt: fromMillis(row.UpdatedAt)}, nil
}

func (s *Store) ClearDraft(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM case_record_drafts WHERE key = ?`, key); err != nil {
		return fmt.Errorf("clear draft %s: %w", key, err)
	}
	return nil
}
