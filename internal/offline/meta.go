package offline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const (
	metaDeviceID   = "device_id"
	metaLastSyncAt = "last_sync_at"
	metaIsOnline   = "is_online"
)

// Meta is the device's sync bookkeeping.
type Meta struct {
	DeviceID   string
	LastSyncAt *time.Time
	IsOnline   bool
}

func (s *Store) getMeta(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.GetContext(ctx, &value, `SELECT value FROM sync_meta WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read meta %s: %w", key, err)
	}
	return value, true, nil
}

func (s *Store) setMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_meta (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("write meta %s: %w", key, err)
	}
	return nil
}

// DeviceID returns the id of this device, generating and persisting it on
// first use.
func (s *Store) DeviceID(ctx context.Context) (string, error) {
	id, ok, err := s.getMeta(ctx, metaDeviceID)
	if err != nil || ok {
		return id, err
	}
	id = uuid.New().String()
	// A concurrent first call may have won; keep whichever row landed.
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_meta (key, value) VALUES (?, ?) ON CONFLICT (key) DO NOTHING`, metaDeviceID, id); err != nil {
		return "", fmt.Errorf("write device id: %w", err)
	}
	id, _, err = s.getMeta(ctx, metaDeviceID)
	return id, err
}

func (s *Store) SetLastSyncAt(ctx context.Context, t time.Time) error {
	return s.setMeta(ctx, metaLastSyncAt, strconv.FormatInt(millis(t), 10))
}

func (s *Store) SetOnline(ctx context.Context, online bool) error {
	return s.setMeta(ctx, metaIsOnline, strconv.FormatBool(online))
}

// Meta reads the sync bookkeeping. IsOnline defaults to true.
func (s *Store) Meta(ctx context.Context) (Meta, error) {
	deviceID, err := s.DeviceID(ctx)
	if err != nil {
		return Meta{}, err
	}
	m := Meta{DeviceID: deviceID, IsOnline: true}

	if v, ok, err := s.getMeta(ctx, metaLastSyncAt); err != nil {
		return Meta{}, err
	} else if ok {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Meta{}, fmt.Errorf("parse last sync time: %w", err)
		}
		t := fromMillis(ms)
		m.LastSyncAt = &t
	}

	if v, ok, err := s.getMeta(ctx, metaIsOnline); err != nil {
		return Meta{}, err
	} else if ok {
		m.IsOnline, _ = strconv.ParseBool(v)
	}
	return m, nil
}
