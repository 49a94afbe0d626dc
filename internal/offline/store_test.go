package offline

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clock advances one second per call so ordering by created_at is stable.
type clock struct{ t time.Time }

func (c *clock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "offline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	c := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	s.now = c.now
	return s
}

func TestEnqueueReplacesPendingByDedupeKey(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	first, err := s.EnqueueUpsertCaseRecord(ctx, "svc1", "user1", "2024-01-01", json.RawMessage(`{"v":1}`))
	require.NoError(t, err)
	other, err := s.EnqueueUpsertCaseRecord(ctx, "svc1", "user2", "2024-01-01", json.RawMessage(`{"v":1}`))
	require.NoError(t, err)
	second, err := s.EnqueueUpsertCaseRecord(ctx, "svc1", "user1", "2024-01-01", json.RawMessage(`{"v":2}`))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.NotEqual(t, first, other)

	pending, err := s.ListPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	// The replaced op is re-timestamped and now sorts last.
	assert.Equal(t, other, pending[0].OpID)
	assert.Equal(t, first, pending[1].OpID)
	assert.JSONEq(t, `{"v":2}`, string(pending[1].Payload))
	assert.Equal(t, "svc1_user1_2024-01-01", pending[1].DedupeKey)
	assert.Equal(t, "2024-01-01", pending[1].RecordDate)

	limited, err := s.ListPending(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestEnqueueAfterDoneInsertsNewOp(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	first, err := s.EnqueueUpsertCaseRecord(ctx, "svc1", "user1", "2024-01-01", json.RawMessage(`{"v":1}`))
	require.NoError(t, err)
	require.NoError(t, s.MarkDone(ctx, first))

	second, err := s.EnqueueUpsertCaseRecord(ctx, "svc1", "user1", "2024-01-01", json.RawMessage(`{"v":2}`))
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	done, err := s.Get(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, OpDone, done.Status)
	assert.Equal(t, 1, done.Attempts)
}

func TestEnqueueRejectsInvalidPayload(t *testing.T) {
	s := openTestStore(t)
	_, err := s.EnqueueUpsertCaseRecord(context.Background(), "svc1", "user1", "2024-01-01", json.RawMessage(`{`))
	assert.Error(t, err)
}

func TestMarkUnknownOp(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	assert.ErrorIs(t, s.MarkDone(ctx, "missing"), ErrOpNotFound)
	assert.ErrorIs(t, s.MarkFailed(ctx, "missing", "x"), ErrOpNotFound)
	assert.ErrorIs(t, s.ResetForRetry(ctx, "missing"), ErrOpNotFound)
	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrOpNotFound)
}

func TestResetForRetry(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	id, err := s.EnqueueUpsertCaseRecord(ctx, "svc1", "user1", "2024-01-01", json.RawMessage(`{"v":1}`))
	require.NoError(t, err)
	require.NoError(t, s.MarkFailed(ctx, id, "boom"))

	failed, err := s.ListFailed(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "boom", failed[0].LastError)

	require.NoError(t, s.ResetForRetry(ctx, id))
	op, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, OpPending, op.Status)
	assert.Empty(t, op.LastError)
	assert.Equal(t, 1, op.Attempts)
}

func TestResetForRetrySupersededByNewerPending(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	old, err := s.EnqueueUpsertCaseRecord(ctx, "svc1", "user1", "2024-01-01", json.RawMessage(`{"v":1}`))
	require.NoError(t, err)
	require.NoError(t, s.MarkFailed(ctx, old, "boom"))
	newer, err := s.EnqueueUpsertCaseRecord(ctx, "svc1", "user1", "2024-01-01", json.RawMessage(`{"v":2}`))
	require.NoError(t, err)

	require.NoError(t, s.ResetForRetry(ctx, old))

	_, err = s.Get(ctx, old)
	assert.ErrorIs(t, err, ErrOpNotFound)
	pending, err := s.ListPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, newer, pending[0].OpID)
}

func TestResetAllFailedKeepsOnePendingPerKey(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	a, err := s.EnqueueUpsertCaseRecord(ctx, "svc1", "user1", "2024-01-01", json.RawMessage(`{"v":1}`))
	require.NoError(t, err)
	require.NoError(t, s.MarkFailed(ctx, a, "boom"))
	b, err := s.EnqueueUpsertCaseRecord(ctx, "svc1", "user1", "2024-01-01", json.RawMessage(`{"v":2}`))
	require.NoError(t, err)
	require.NoError(t, s.MarkFailed(ctx, b, "boom"))

	n, err := s.ResetAllFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{Pending: 1}, counts)
}

func TestCountsAndPrune(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{}, counts)

	ids := make([]string, 3)
	for i, user := range []string{"u1", "u2", "u3"} {
		ids[i], err = s.EnqueueUpsertCaseRecord(ctx, "svc1", user, "2024-01-01", json.RawMessage(`{}`))
		require.NoError(t, err)
	}
	require.NoError(t, s.MarkDone(ctx, ids[0]))
	require.NoError(t, s.MarkFailed(ctx, ids[1], "x"))

	counts, err = s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{Pending: 1, Done: 1, Failed: 1}, counts)

	n, err := s.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	counts, err = s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{Pending: 1}, counts)
}

func TestDrafts(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	key := DraftKey("svc1", "user1", "2024-01-01")
	assert.Equal(t, "svc1:user1:2024-01-01", key)

	d, err := s.LoadDraft(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, d)

	require.NoError(t, s.SaveDraft(ctx, key, json.RawMessage(`{"a":1}`)))
	require.NoError(t, s.SaveDraft(ctx, key, json.RawMessage(`{"a":2}`)))
	d, err = s.LoadDraft(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.JSONEq(t, `{"a":2}`, string(d.Data))

	require.NoError(t, s.ClearDraft(ctx, key))
	d, err = s.LoadDraft(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestMeta(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	m, err := s.Meta(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, m.DeviceID)
	assert.True(t, m.IsOnline)
	assert.Nil(t, m.LastSyncAt)

	id, err := s.DeviceID(ctx)
	require.NoError(t, err)
	assert.Equal(t, m.DeviceID, id)

	at := time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.SetLastSyncAt(ctx, at))
	require.NoError(t, s.SetOnline(ctx, false))

	m, err = s.Meta(ctx)
	require.NoError(t, err)
	require.NotNil(t, m.LastSyncAt)
	assert.True(t, at.Equal(*m.LastSyncAt))
	assert.False(t, m.IsOnline)
}

func TestMarkSentDoneDetectsReplacement(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.EnqueueUpsertCaseRecord(ctx, "svc1", "user1", "2024-01-01", json.RawMessage(`{"v":1}`))
	require.NoError(t, err)
	pending, err := s.ListPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	sent := pending[0]

	_, err = s.EnqueueUpsertCaseRecord(ctx, "svc1", "user1", "2024-01-01", json.RawMessage(`{"v":2}`))
	require.NoError(t, err)

	assert.ErrorIs(t, s.MarkSentDone(ctx, sent), ErrOpReplaced)
	assert.ErrorIs(t, s.MarkSentFailed(ctx, sent, "boom"), ErrOpReplaced)

	op, err := s.Get(ctx, sent.OpID)
	require.NoError(t, err)
	assert.Equal(t, OpPending, op.Status)
	assert.JSONEq(t, `{"v":2}`, string(op.Payload))

	// The current row can be finished.
	require.NoError(t, s.MarkSentDone(ctx, op))
	op, err = s.Get(ctx, sent.OpID)
	require.NoError(t, err)
	assert.Equal(t, OpDone, op.Status)

	assert.ErrorIs(t, s.MarkSentDone(ctx, &Op{OpID: "missing"}), ErrOpNotFound)
}
