package offline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/caresync/internal/model"
	"github.com/jwalitptl/caresync/internal/syncclient"
)

type mockPusher struct {
	mock.Mock
	// When block is set, PushBatch signals entered and waits on block.
	entered chan struct{}
	block   chan struct{}
}

func (m *mockPusher) PushBatch(ctx context.Context, key string, batch *model.SyncRequest) (*syncclient.PushResult, error) {
	if m.block != nil {
		close(m.entered)
		<-m.block
	}
	args := m.Called(ctx, key, batch)
	res, _ := args.Get(0).(*syncclient.PushResult)
	return res, args.Error(1)
}

func enqueue(t *testing.T, s *Store, user string) string {
	t.Helper()
	id, err := s.EnqueueUpsertCaseRecord(context.Background(), "svc1", user, "2024-01-01", json.RawMessage(`{"note":"x"}`))
	require.NoError(t, err)
	return id
}

func TestSyncOutboxEmptyMakesNoCall(t *testing.T) {
	pusher := &mockPusher{}
	syncer := NewSyncer(openTestStore(t), pusher, nil)

	res, err := syncer.SyncOutbox(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SyncResult{}, res)
	pusher.AssertNotCalled(t, "PushBatch", mock.Anything, mock.Anything, mock.Anything)
}

func TestSyncOutboxAppliesResults(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	applied := enqueue(t, s, "u1")
	again := enqueue(t, s, "u2")
	failed := enqueue(t, s, "u3")
	processing := enqueue(t, s, "u4")
	unmentioned := enqueue(t, s, "u5")

	pusher := &mockPusher{}
	pusher.On("PushBatch", ctx, mock.AnythingOfType("string"), mock.MatchedBy(func(b *model.SyncRequest) bool {
		return len(b.Ops) == 5 && b.SyncRequestID != "" && b.DeviceID != "" && b.Ops[0].OpID == applied
	})).Return(&syncclient.PushResult{
		StatusCode: http.StatusOK,
		Response: model.SyncResponse{OK: false, Results: []model.SyncOpResult{
			{OpID: applied, Status: model.OpApplied},
			{OpID: again, Status: model.OpAlreadyApplied},
			{OpID: failed, Status: model.OpFailed, Error: "constraint violation"},
			{OpID: processing, Status: model.OpProcessing},
		}},
	}, nil)

	syncer := NewSyncer(s, pusher, nil)
	res, err := syncer.SyncOutbox(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Synced)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, []OpError{{OpID: failed, Error: "constraint violation"}}, res.Errors)
	pusher.AssertExpectations(t)

	// The idempotency key is the batch's sync request id.
	call := pusher.Calls[0]
	assert.Equal(t, call.Arguments.Get(2).(*model.SyncRequest).SyncRequestID, call.Arguments.String(1))

	pending, err := s.ListPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, processing, pending[0].OpID)
	assert.Equal(t, unmentioned, pending[1].OpID)

	op, err := s.Get(ctx, failed)
	require.NoError(t, err)
	assert.Equal(t, OpFailed, op.Status)
	assert.Equal(t, "constraint violation", op.LastError)

	m, err := s.Meta(ctx)
	require.NoError(t, err)
	assert.NotNil(t, m.LastSyncAt)
}

func TestSyncOutboxCapsBatchSize(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	for i := 0; i < model.MaxSyncBatchSize+5; i++ {
		enqueue(t, s, "user-"+string(rune('A'+i)))
	}

	pusher := &mockPusher{}
	pusher.On("PushBatch", ctx, mock.Anything, mock.MatchedBy(func(b *model.SyncRequest) bool {
		return len(b.Ops) == model.MaxSyncBatchSize
	})).Return(&syncclient.PushResult{StatusCode: http.StatusOK}, nil)

	_, err := NewSyncer(s, pusher, nil).SyncOutbox(ctx)
	require.NoError(t, err)
	pusher.AssertExpectations(t)
}

func TestSyncOutboxInconclusiveAndErrorsLeaveOutbox(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	id := enqueue(t, s, "u1")

	pusher := &mockPusher{}
	pusher.On("PushBatch", ctx, mock.Anything, mock.Anything).Return(&syncclient.PushResult{
		StatusCode: http.StatusAccepted,
		Response: model.SyncResponse{OK: true, Results: []model.SyncOpResult{
			{OpID: id, Status: model.OpApplied},
		}},
	}, nil).Once()
	pusher.On("PushBatch", ctx, mock.Anything, mock.Anything).
		Return(nil, &syncclient.HTTPError{StatusCode: http.StatusConflict, Message: "conflict"}).Once()

	syncer := NewSyncer(s, pusher, nil)

	res, err := syncer.SyncOutbox(ctx)
	require.NoError(t, err)
	assert.True(t, res.Inconclusive)

	_, err = syncer.SyncOutbox(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, syncclient.ErrConflict))

	op, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, OpPending, op.Status)
	assert.Equal(t, 0, op.Attempts)

	m, err := s.Meta(ctx)
	require.NoError(t, err)
	assert.Nil(t, m.LastSyncAt)
}

func TestSyncOutboxRejectsOverlap(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	enqueue(t, s, "u1")

	pusher := &mockPusher{entered: make(chan struct{}), block: make(chan struct{})}
	pusher.On("PushBatch", ctx, mock.Anything, mock.Anything).
		Return(&syncclient.PushResult{StatusCode: http.StatusOK}, nil).Once()
	syncer := NewSyncer(s, pusher, nil)

	done := make(chan error, 1)
	go func() {
		_, err := syncer.SyncOutbox(ctx)
		done <- err
	}()

	select {
	case <-pusher.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first sync never reached the server")
	}

	_, err := syncer.SyncOutbox(ctx)
	assert.ErrorIs(t, err, ErrSyncInProgress)

	close(pusher.block)
	require.NoError(t, <-done)
	pusher.AssertNumberOfCalls(t, "PushBatch", 1)
}

func TestRetryFailedOps(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	id := enqueue(t, s, "u1")
	require.NoError(t, s.MarkFailed(ctx, id, "boom"))

	n, err := NewSyncer(s, &mockPusher{}, nil).RetryFailedOps(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err := s.ListPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].OpID)
}

func TestSyncOutboxKeepsOpEditedInFlight(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	id := enqueue(t, s, "u1")

	pusher := &mockPusher{entered: make(chan struct{}), block: make(chan struct{})}
	pusher.On("PushBatch", ctx, mock.Anything, mock.Anything).Return(&syncclient.PushResult{
		StatusCode: http.StatusOK,
		Response: model.SyncResponse{OK: true, Results: []model.SyncOpResult{
			{OpID: id, Status: model.OpApplied},
		}},
	}, nil).Once()
	syncer := NewSyncer(s, pusher, nil)

	done := make(chan SyncResult, 1)
	go func() {
		res, err := syncer.SyncOutbox(ctx)
		assert.NoError(t, err)
		done <- res
	}()

	select {
	case <-pusher.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("sync never reached the server")
	}
	replaced, err := s.EnqueueUpsertCaseRecord(ctx, "svc1", "u1", "2024-01-01", json.RawMessage(`{"note":"newer"}`))
	require.NoError(t, err)
	require.Equal(t, id, replaced)
	close(pusher.block)

	res := <-done
	assert.Equal(t, 0, res.Synced)

	op, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, OpPending, op.Status)
	assert.JSONEq(t, `{"note":"newer"}`, string(op.Payload))
}
