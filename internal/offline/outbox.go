package offline

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/caresync/internal/model"
)

var (
	// ErrOpNotFound is returned when an operation id is not in the outbox.
	ErrOpNotFound = errors.New("outbox operation not found")
	// ErrOpReplaced is returned when an op was replaced in place after it
	// was read for sending.
	ErrOpReplaced = errors.New("outbox operation replaced since it was sent")
)

type OpStatus string

const (
	OpPending OpStatus = "pending"
	OpDone    OpStatus = "done"
	OpFailed  OpStatus = "failed"
)

// Op is a queued mutation waiting to be pushed to the server.
type Op struct {
	OpID          string              `json:"opId"`
	DedupeKey     string              `json:"dedupeKey"`
	OperationType model.OperationType `json:"operationType"`
	ServiceID     string              `json:"serviceId"`
	UserID        string              `json:"userId"`
	RecordDate    string              `json:"recordDate"`
	Payload       json.RawMessage     `json:"payload"`
	Status        OpStatus            `json:"status"`
	Attempts      int                 `json:"attempts"`
	LastError     string              `json:"lastError,omitempty"`
	CreatedAt     time.Time           `json:"createdAt"`
	UpdatedAt     time.Time           `json:"updatedAt"`
}

// SyncOp converts the queued op to its wire form.
func (o *Op) SyncOp() model.SyncOp {
	return model.SyncOp{
		OpID:          o.OpID,
		DedupeKey:     o.DedupeKey,
		ServiceID:     o.ServiceID,
		UserID:        o.UserID,
		RecordDate:    o.RecordDate,
		OperationType: o.OperationType,
		Payload:       o.Payload,
	}
}

type opRow struct {
	Seq           int64          `db:"seq"`
	OpID          string         `db:"op_id"`
	DedupeKey     string         `db:"dedupe_key"`
	OperationType string         `db:"operation_type"`
	ServiceID     string         `db:"service_id"`
	UserID        string         `db:"user_id"`
	RecordDate    string         `db:"record_date"`
	Payload       string         `db:"payload"`
	Status        string         `db:"status"`
	Attempts      int            `db:"attempts"`
	LastError     sql.NullString `db:"last_error"`
	CreatedAt     int64          `db:"created_at"`
	UpdatedAt     int64          `db:"updated_at"`
}

func (r *opRow) toOp() *Op {
	return &Op{
		OpID:          r.OpID,
		DedupeKey:     r.DedupeKey,
		OperationType: model.OperationType(r.OperationType),
		ServiceID:     r.ServiceID,
		UserID:        r.UserID,
		RecordDate:    r.RecordDate,
		Payload:       json.RawMessage(r.Payload),
		Status:        OpStatus(r.Status),
		Attempts:      r.Attempts,
		LastError:     r.LastError.String,
		CreatedAt:     fromMillis(r.CreatedAt),
		UpdatedAt:     fromMillis(r.UpdatedAt),
	}
}

const opColumns = `seq, op_id, dedupe_key, operation_type, service_id, user_id,
	record_date, payload, status, attempts, last_error, created_at, updated_at`

// DedupeKey identifies the record an upsert targets.
func DedupeKey(serviceID, userID, date string) string {
	return serviceID + "_" + userID + "_" + date
}

// Enqueue adds op to the outbox. When an op is already pending for the same
// dedupe key its payload is replaced in place and the existing op id is
// returned; otherwise op is inserted under its own id.
func (s *Store) Enqueue(ctx context.Context, op *Op) (string, error) {
	if op.OpID == "" {
		op.OpID = uuid.New().String()
	}
	if op.DedupeKey == "" {
		return "", errors.New("dedupe key is required")
	}
	if op.OperationType == "" {
		op.OperationType = model.OperationUpsertCaseRecord
	}
	if !json.Valid(op.Payload) {
		return "", errors.New("payload is not valid JSON")
	}
	now := millis(s.now())

	var opID string
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var existing string
		err := tx.GetContext(ctx, &existing,
			`SELECT op_id FROM outbox_ops WHERE dedupe_key = ? AND status = 'pending'`, op.DedupeKey)
		switch {
		case err == nil:
			_, err = tx.ExecContext(ctx, `
				UPDATE outbox_ops
				SET operation_type = ?, service_id = ?, user_id = ?, record_date = ?,
					payload = ?, attempts = 0, last_error = NULL, created_at = ?, updated_at = ?
				WHERE op_id = ?`,
				op.OperationType, op.ServiceID, op.UserID, op.RecordDate,
				string(op.Payload), now, now, existing)
			if err != nil {
				return fmt.Errorf("replace pending op: %w", err)
			}
			opID = existing
			return nil
		case errors.Is(err, sql.ErrNoRows):
			_, err = tx.ExecContext(ctx, `
				INSERT INTO outbox_ops (op_id, dedupe_key, operation_type, service_id, user_id,
					record_date, payload, status, attempts, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, 'pending', 0, ?, ?)`,
				op.OpID, op.DedupeKey, op.OperationType, op.ServiceID, op.UserID,
				op.RecordDate, string(op.Payload), now, now)
			if err != nil {
				return fmt.Errorf("insert op: %w", err)
			}
			opID = op.OpID
			return nil
		default:
			return fmt.Errorf("find pending op: %w", err)
		}
	})
	if err != nil {
		return "", err
	}
	return opID, nil
}

// EnqueueUpsertCaseRecord queues an upsert of the case record for
// serviceID/userID/date.
func (s *Store) EnqueueUpsertCaseRecord(ctx context.Context, serviceID, userID, date string, payload json.RawMessage) (string, error) {
	return s.Enqueue(ctx, &Op{
		OpID:          uuid.New().String(),
		DedupeKey:     DedupeKey(serviceID, userID, date),
		OperationType: model.OperationUpsertCaseRecord,
		ServiceID:     serviceID,
		UserID:        userID,
		RecordDate:    date,
		Payload:       payload,
	})
}

// ListPending returns pending ops oldest first. limit <= 0 returns all.
func (s *Store) ListPending(ctx context.Context, limit int) ([]*Op, error) {
	query := `SELECT ` + opColumns + ` FROM outbox_ops WHERE status = 'pending' ORDER BY created_at, seq`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.selectOps(ctx, query, args...)
}

func (s *Store) ListFailed(ctx context.Context) ([]*Op, error) {
	return s.selectOps(ctx, `SELECT `+opColumns+` FROM outbox_ops WHERE status = 'failed' ORDER BY updated_at, seq`)
}

func (s *Store) Get(ctx context.Context, opID string) (*Op, error) {
	var row opRow
	err := s.db.GetContext(ctx, &row, `SELECT `+opColumns+` FROM outbox_ops WHERE op_id = ?`, opID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOpNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get op %s: %w", opID, err)
	}
	return row.toOp(), nil
}

func (s *Store) selectOps(ctx context.Context, query string, args ...interface{}) ([]*Op, error) {
	var rows []opRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list ops: %w", err)
	}
	ops := make([]*Op, len(rows))
	for i := range rows {
		ops[i] = rows[i].toOp()
	}
	return ops, nil
}

// MarkDone records that the server applied the op.
func (s *Store) MarkDone(ctx context.Context, opID string) error {
	return s.finishOp(ctx, opID, OpDone, nil)
}

// MarkFailed records a server-side failure for the op.
func (s *Store) MarkFailed(ctx context.Context, opID, message string) error {
	return s.finishOp(ctx, opID, OpFailed, &message)
}

// MarkSentDone is MarkDone for an op read by ListPending. If the op was
// replaced since, it stays pending with its newer payload and
// ErrOpReplaced is returned.
func (s *Store) MarkSentDone(ctx context.Context, sent *Op) error {
	return s.finishSent(ctx, sent, OpDone, nil)
}

// MarkSentFailed is MarkFailed with the same guard as MarkSentDone.
func (s *Store) MarkSentFailed(ctx context.Context, sent *Op, message string) error {
	return s.finishSent(ctx, sent, OpFailed, &message)
}

func (s *Store) finishOp(ctx context.Context, opID string, status OpStatus, message *string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE outbox_ops
		SET status = ?, attempts = attempts + 1, last_error = ?, updated_at = ?
		WHERE op_id = ?`,
		status, message, millis(s.now()), opID)
	if err != nil {
		return fmt.Errorf("mark op %s %s: %w", opID, status, err)
	}
	return requireRow(res)
}

func (s *Store) finishSent(ctx context.Context, sent *Op, status OpStatus, message *string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE outbox_ops
		SET status = ?, attempts = attempts + 1, last_error = ?, updated_at = ?
		WHERE op_id = ? AND status = 'pending' AND updated_at = ?`,
		status, message, millis(s.now()), sent.OpID, millis(sent.UpdatedAt))
	if err != nil {
		return fmt.Errorf("mark op %s %s: %w", sent.OpID, status, err)
	}
	err = requireRow(res)
	if !errors.Is(err, ErrOpNotFound) {
		return err
	}
	if _, getErr := s.Get(ctx, sent.OpID); getErr != nil {
		return getErr
	}
	return ErrOpReplaced
}

// ResetForRetry moves a failed op back to pending. If a newer op is already
// pending for the same dedupe key, the failed op is superseded and removed.
func (s *Store) ResetForRetry(ctx context.Context, opID string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		return resetForRetry(ctx, tx, opID, millis(s.now()))
	})
}

func resetForRetry(ctx context.Context, tx *sqlx.Tx, opID string, now int64) error {
	var row struct {
		DedupeKey string `db:"dedupe_key"`
		Status    string `db:"status"`
	}
	err := tx.GetContext(ctx, &row, `SELECT dedupe_key, status FROM outbox_ops WHERE op_id = ?`, opID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrOpNotFound
	}
	if err != nil {
		return fmt.Errorf("get op %s: %w", opID, err)
	}
	if OpStatus(row.Status) != OpFailed {
		return nil
	}

	var pending int
	if err := tx.GetContext(ctx, &pending,
		`SELECT COUNT(*) FROM outbox_ops WHERE dedupe_key = ? AND status = 'pending'`, row.DedupeKey); err != nil {
		return fmt.Errorf("count pending ops: %w", err)
	}
	if pending > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM outbox_ops WHERE op_id = ?`, opID)
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE outbox_ops SET status = 'pending', last_error = NULL, updated_at = ? WHERE op_id = ?`, now, opID)
	}
	if err != nil {
		return fmt.Errorf("reset op %s: %w", opID, err)
	}
	return nil
}

// ResetAllFailed resets every failed op and returns how many were handled.
func (s *Store) ResetAllFailed(ctx context.Context) (int, error) {
	var n int
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var ids []string
		if err := tx.SelectContext(ctx, &ids,
			`SELECT op_id FROM outbox_ops WHERE status = 'failed' ORDER BY updated_at, seq`); err != nil {
			return fmt.Errorf("list failed ops: %w", err)
		}
		now := millis(s.now())
		for _, id := range ids {
			if err := resetForRetry(ctx, tx, id, now); err != nil {
				return err
			}
		}
		n = len(ids)
		return nil
	})
	return n, err
}

// Counts is the number of ops in each status.
type Counts struct {
	Pending int `db:"pending" json:"pending"`
	Done    int `db:"done" json:"done"`
	Failed  int `db:"failed" json:"failed"`
}

func (s *Store) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := s.db.GetContext(ctx, &c, `
		SELECT
			COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0) AS pending,
			COALESCE(SUM(CASE WHEN status = 'done' THEN 1 ELSE 0 END), 0) AS done,
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0) AS failed
		FROM outbox_ops`)
	if err != nil {
		return Counts{}, fmt.Errorf("count ops: %w", err)
	}
	return c, nil
}

// Prune deletes every done and failed op.
func (s *Store) Prune(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM outbox_ops WHERE status IN ('done', 'failed')`)
	if err != nil {
		return 0, fmt.Errorf("prune ops: %w", err)
	}
	return res.RowsAffected()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrOpNotFound
	}
	return nil
}
