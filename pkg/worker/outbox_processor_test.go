package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/caresync/internal/model"
	"github.com/jwalitptl/caresync/internal/testutil"
	"github.com/jwalitptl/caresync/pkg/logger"
	"github.com/jwalitptl/caresync/pkg/messaging"
	"github.com/jwalitptl/caresync/pkg/metrics"
)

type mockBroker struct {
	mock.Mock
}

func (m *mockBroker) Publish(ctx context.Context, channel string, message interface{}) error {
	args := m.Called(ctx, channel, message)
	return args.Error(0)
}

func (m *mockBroker) Ping(context.Context) error { return nil }

func (m *mockBroker) Close() error { return nil }

func newProcessor(store *testutil.Store, broker messaging.Broker, maxRetries int) *OutboxProcessor {
	return NewOutboxProcessor(store.Outbox(), broker, OutboxProcessorConfig{
		BatchSize:     10,
		PollInterval:  time.Second,
		RetryAttempts: 2,
		RetryDelay:    time.Millisecond,
		MaxRetries:    maxRetries,
		Channel:       "caresync.events",
	}, logger.Nop(), metrics.NewNop())
}

func createEvent(t *testing.T, store *testutil.Store) {
	t.Helper()
	require.NoError(t, store.Outbox().Create(context.Background(), &model.OutboxEvent{
		EventType: model.EventCaseRecordUpserted,
		Payload:   []byte(`{"recordId":"r1"}`),
	}))
}

func TestProcessBatch_PublishesAndMarksProcessed(t *testing.T) {
	store := testutil.NewStore()
	createEvent(t, store)

	broker := &mockBroker{}
	broker.On("Publish", mock.Anything, "caresync.events", mock.MatchedBy(func(m messaging.Message) bool {
		return m.Type == model.EventCaseRecordUpserted
	})).Return(nil).Once()

	n, err := newProcessor(store, broker, 3).ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	broker.AssertExpectations(t)

	events := store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, string(model.OutboxStatusProcessed), events[0].Status)
	assert.NotNil(t, events[0].ProcessedAt)

	// Nothing left to publish
	n, err = newProcessor(store, broker, 3).ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestProcessBatch_RetriesThenFails(t *testing.T) {
	store := testutil.NewStore()
	createEvent(t, store)

	broker := &mockBroker{}
	broker.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("redis down"))

	p := newProcessor(store, broker, 2)

	n, err := p.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	events := store.Events()
	assert.Equal(t, string(model.OutboxStatusRetry), events[0].Status)
	assert.Equal(t, 1, events[0].RetryCount)
	// Two in-process attempts per poll
	broker.AssertNumberOfCalls(t, "Publish", 2)

	// Once due, the second failed poll exhausts MaxRetries.
	time.Sleep(10 * time.Millisecond)
	n, err = p.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	events = store.Events()
	assert.Equal(t, string(model.OutboxStatusFailed), events[0].Status)
	assert.Equal(t, 2, events[0].RetryCount)
	require.NotNil(t, events[0].ErrorMessage)
	assert.Equal(t, "redis down", *events[0].ErrorMessage)
	broker.AssertNumberOfCalls(t, "Publish", 4)
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, time.Second, backoff(time.Second, 0))
	assert.Equal(t, 4*time.Second, backoff(time.Second, 2))
	assert.Equal(t, maxRetryBackoff, backoff(time.Second, 40))
}
