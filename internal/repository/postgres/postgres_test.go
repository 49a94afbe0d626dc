package postgres_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/caresync/internal/model"
	"github.com/jwalitptl/caresync/internal/repository"
	"github.com/jwalitptl/caresync/internal/repository/postgres"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "postgres"), mock
}

func TestUpdateIfVersionMatches(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()

	t.Run("updated", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectExec(regexp.QuoteMeta(
			"UPDATE care_receivers SET age = $3, name = $4, version = version + 1, updated_at = NOW() WHERE id = $1 AND version = $2",
		)).WithArgs(id, int64(3), 42, "Hanako").WillReturnResult(sqlmock.NewResult(0, 1))

		outcome, err := postgres.UpdateIfVersionMatches(ctx, db, "care_receivers", id, 3, map[string]interface{}{
			"name": "Hanako",
			"age":  42,
		})
		require.NoError(t, err)
		assert.Equal(t, repository.VersionUpdated, outcome)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("conflict when row exists", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectExec("UPDATE care_receivers SET").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS(SELECT 1 FROM care_receivers WHERE id = $1)")).
			WithArgs(id).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		outcome, err := postgres.UpdateIfVersionMatches(ctx, db, "care_receivers", id, 1, map[string]interface{}{"notes": "x"})
		require.NoError(t, err)
		assert.Equal(t, repository.VersionConflict, outcome)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found when row is missing", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectExec("UPDATE case_records SET").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT EXISTS").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		outcome, err := postgres.UpdateIfVersionMatches(ctx, db, "case_records", id, 1, map[string]interface{}{"source": "manual"})
		require.NoError(t, err)
		assert.Equal(t, repository.VersionNotFound, outcome)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects identifiers outside the allow-list", func(t *testing.T) {
		db, mock := newMock(t)

		_, err := postgres.UpdateIfVersionMatches(ctx, db, "users", id, 1, map[string]interface{}{"name": "x"})
		assert.ErrorIs(t, err, postgres.ErrUnknownTable)

		_, err = postgres.UpdateIfVersionMatches(ctx, db, "care_receivers", id, 1, map[string]interface{}{"code": "x"})
		assert.ErrorIs(t, err, postgres.ErrUnknownColumn)

		_, err = postgres.UpdateIfVersionMatches(ctx, db, "care_receivers", id, 1, nil)
		assert.ErrorIs(t, err, postgres.ErrEmptyPatch)

		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCaseRecordUpdateVersionedNaturalKeyCollision(t *testing.T) {
	ctx := context.Background()
	db, mock := newMock(t)
	repo := postgres.NewCaseRecordRepository(postgres.NewBaseRepository(db))
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(
		"UPDATE case_records SET record_date = $3, version = version + 1, updated_at = NOW() WHERE id = $1 AND version = $2",
	)).WithArgs(id, int64(1), "2024-01-02").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "case_records_natural_key"})
	mock.ExpectRollback()

	_, _, err := repo.UpdateVersioned(ctx, id, 1, map[string]interface{}{"record_date": "2024-01-02"})
	require.Error(t, err)
	assert.ErrorIs(t, err, repository.ErrDuplicate)
	assert.Contains(t, err.Error(), "case_records_natural_key")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCareReceiverDelete(t *testing.T) {
	ctx := context.Background()
	db, mock := newMock(t)
	repo := postgres.NewCareReceiverRepository(postgres.NewBaseRepository(db))
	id := uuid.New()
	now := time.Now()

	columns := []string{"id", "code", "service_id", "name", "display_name", "full_name", "birthday",
		"address", "phone", "emergency_contact", "age", "gender", "care_level", "condition",
		"medical_care", "notes", "is_active", "version", "created_at", "updated_at"}

	mock.ExpectBegin()
	mock.ExpectQuery("DELETE FROM care_receivers WHERE id = \\$1 RETURNING").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(columns).AddRow(id.String(), "CR-1", "svc1", "A",
			nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, true, int64(3), now, now))
	mock.ExpectExec("INSERT INTO outbox_events").
		WithArgs(sqlmock.AnyArg(), model.EventCareReceiverDeleted, sqlmock.AnyArg(), "pending", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	deleted, err := repo.Delete(ctx, id)
	require.NoError(t, err)
	assert.True(t, deleted)

	mock.ExpectBegin()
	mock.ExpectQuery("DELETE FROM care_receivers").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(columns))
	mock.ExpectCommit()

	deleted, err = repo.Delete(ctx, id)
	require.NoError(t, err)
	assert.False(t, deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencyRepository(t *testing.T) {
	ctx := context.Background()
	db, mock := newMock(t)
	repo := postgres.NewIdempotencyRepository(postgres.NewBaseRepository(db))

	// First reservation wins
	mock.ExpectExec("INSERT INTO sync_idempotency_keys").
		WithArgs("key-1", "hash-a").
		WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err := repo.Reserve(ctx, "key-1", "hash-a")
	require.NoError(t, err)
	assert.True(t, ok)

	// Second reservation loses
	mock.ExpectExec("INSERT INTO sync_idempotency_keys").
		WithArgs("key-1", "hash-a").
		WillReturnResult(sqlmock.NewResult(0, 0))
	ok, err = repo.Reserve(ctx, "key-1", "hash-a")
	require.NoError(t, err)
	assert.False(t, ok)

	// Lookup of a completed key
	now := time.Now()
	mock.ExpectQuery("FROM sync_idempotency_keys").
		WithArgs("key-1").
		WillReturnRows(sqlmock.NewRows([]string{"key", "request_hash", "response_status", "response_body", "created_at", "completed_at"}).
			AddRow("key-1", "hash-a", 200, []byte(`{"ok":true,"results":[]}`), now, now))
	rec, err := repo.Lookup(ctx, "key-1")
	require.NoError(t, err)
	assert.True(t, rec.Completed())
	assert.Equal(t, 200, *rec.ResponseStatus)

	// Lookup of an unknown key
	mock.ExpectQuery("FROM sync_idempotency_keys").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"key"}))
	_, err = repo.Lookup(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	mock.ExpectExec("ON CONFLICT \\(key\\) DO UPDATE").
		WithArgs("key-1", "hash-a", 202, `{"ok":true}`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Store(ctx, "key-1", "hash-a", 202, []byte(`{"ok":true}`)))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReceiptRepositoryInsert(t *testing.T) {
	ctx := context.Background()
	db, mock := newMock(t)
	repo := postgres.NewReceiptRepository(postgres.NewBaseRepository(db))

	mock.ExpectExec("INSERT INTO sync_op_receipts").
		WithArgs("op-1", "h1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO sync_op_receipts").
		WithArgs("op-1", "h1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	inserted, err := repo.Insert(ctx, "op-1", "h1")
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.Insert(ctx, "op-1", "h1")
	require.NoError(t, err)
	assert.False(t, inserted)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCaseRecordApplyOperation(t *testing.T) {
	ctx := context.Background()
	db, mock := newMock(t)
	repo := postgres.NewCaseRecordRepository(postgres.NewBaseRepository(db))

	id := uuid.New()
	now := time.Now()
	columns := []string{"id", "service_id", "user_id", "service_type", "record_date", "section",
		"item_key", "content", "source", "version", "created_at", "updated_at"}

	mock.ExpectBegin()
	mock.ExpectQuery("ON CONFLICT \\(user_id, service_type, record_date, section, item_key\\) DO UPDATE").
		WithArgs(sqlmock.AnyArg(), "svc", "u1", "svc", "2024-01-15", "content", "AT", `{"note":"x"}`, "offline").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(id.String(), "svc", "u1", "svc", "2024-01-15", "content", "AT", []byte(`{"note":"x"}`), "offline", int64(2), now, now))
	mock.ExpectExec("INSERT INTO outbox_events").
		WithArgs(sqlmock.AnyArg(), model.EventCaseRecordUpserted, sqlmock.AnyArg(), "pending", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE sync_op_receipts").
		WithArgs("op-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec, err := repo.ApplyOperation(ctx, "op-1", &model.CaseRecord{
		ServiceID:   "svc",
		UserID:      "u1",
		ServiceType: "svc",
		RecordDate:  "2024-01-15",
		Section:     model.SectionContent,
		ItemKey:     model.TemplateAT,
		Content:     []byte(`{"note":"x"}`),
		Source:      model.SourceOffline,
	})
	require.NoError(t, err)
	assert.Equal(t, id, rec.ID)
	assert.Equal(t, int64(2), rec.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCaseRecordApplyOperationRollsBack(t *testing.T) {
	ctx := context.Background()
	db, mock := newMock(t)
	repo := postgres.NewCaseRecordRepository(postgres.NewBaseRepository(db))

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO case_records").WillReturnError(assert.AnError)
	mock.ExpectRollback()

	_, err := repo.ApplyOperation(ctx, "op-1", &model.CaseRecord{Content: []byte(`{}`)})
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxClaimPendingLeasesRows(t *testing.T) {
	ctx := context.Background()
	db, mock := newMock(t)
	repo := postgres.NewOutboxRepository(postgres.NewBaseRepository(db))

	id := uuid.New()
	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "event_type", "payload", "status", "error_message",
			"retry_count", "retry_at", "created_at", "updated_at", "processed_at"}).
			AddRow(id.String(), model.EventCaseRecordUpserted, []byte(`{}`), "pending", nil, 0, nil, now, now, nil))
	mock.ExpectExec("UPDATE outbox_events SET retry_at").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	events, err := repo.ClaimPending(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, id, events[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
