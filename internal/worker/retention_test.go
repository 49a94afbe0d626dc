package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/caresync/internal/model"
	"github.com/jwalitptl/caresync/internal/testutil"
	"github.com/jwalitptl/caresync/pkg/logger"
	"github.com/jwalitptl/caresync/pkg/metrics"
)

func TestRetentionCleanup(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewStore()

	require.NoError(t, store.Idempotency().Store(ctx, "old", "h", 200, []byte(`{}`)))
	ok, err := store.Receipts().Insert(ctx, "op-1", "h")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, store.Receipts().MarkFailed(ctx, "op-1", "boom"))

	w := NewRetentionWorker(store.Idempotency(), store.Receipts(), store.Outbox(), RetentionConfig{
		LedgerTTL:        time.Hour,
		ReceiptRetention: 0,
		OutboxRetention:  time.Hour,
	}, logger.Nop(), metrics.NewNop())

	// Nothing is old enough yet
	require.NoError(t, w.Cleanup(ctx))
	_, err = store.Idempotency().Lookup(ctx, "old")
	assert.NoError(t, err)

	// Two hours later the ledger entry expires; receipts are kept
	w.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	require.NoError(t, w.Cleanup(ctx))
	_, err = store.Idempotency().Lookup(ctx, "old")
	assert.Error(t, err)

	receipt, err := store.Receipts().Get(ctx, "op-1")
	require.NoError(t, err)
	assert.Equal(t, model.ReceiptFailed, receipt.Status)
}
