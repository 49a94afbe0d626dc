package offline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/caresync/internal/model"
	"github.com/jwalitptl/caresync/internal/syncclient"
	"github.com/jwalitptl/caresync/pkg/logger"
)

// ErrSyncInProgress is returned when SyncOutbox is called while another call
// on the same Syncer is still running.
var ErrSyncInProgress = errors.New("sync already in progress")

// Pusher sends one sync batch to the server.
type Pusher interface {
	PushBatch(ctx context.Context, idempotencyKey string, batch *model.SyncRequest) (*syncclient.PushResult, error)
}

// OpError is a per-operation failure reported by the server.
type OpError struct {
	OpID  string `json:"opId"`
	Error string `json:"error"`
}

type SyncResult struct {
	Synced int       `json:"synced"`
	Failed int       `json:"failed"`
	Errors []OpError `json:"errors,omitempty"`
	// Inconclusive is set when the server accepted the batch but has not
	// finished it; nothing changed locally and the ops will be sent again.
	Inconclusive bool `json:"inconclusive,omitempty"`
}

type Syncer struct {
	store  *Store
	client Pusher
	logger *logger.Logger

	inFlight sync.Mutex
}

func NewSyncer(store *Store, client Pusher, log *logger.Logger) *Syncer {
	if log == nil {
		log = logger.Nop()
	}
	return &Syncer{store: store, client: client, logger: log}
}

// SyncOutbox pushes up to one batch of pending ops and applies the per-op
// results locally. Transport errors and non-2xx responses leave the outbox
// untouched and are returned.
func (s *Syncer) SyncOutbox(ctx context.Context) (SyncResult, error) {
	if !s.inFlight.TryLock() {
		return SyncResult{}, ErrSyncInProgress
	}
	defer s.inFlight.Unlock()

	ops, err := s.store.ListPending(ctx, model.MaxSyncBatchSize)
	if err != nil {
		return SyncResult{}, err
	}
	if len(ops) == 0 {
		return SyncResult{}, nil
	}

	deviceID, err := s.store.DeviceID(ctx)
	if err != nil {
		return SyncResult{}, err
	}

	batch := &model.SyncRequest{
		SyncRequestID: uuid.New().String(),
		DeviceID:      deviceID,
		Ops:           make([]model.SyncOp, len(ops)),
	}
	sent := make(map[string]*Op, len(ops))
	for i, op := range ops {
		batch.Ops[i] = op.SyncOp()
		sent[op.OpID] = op
	}

	resp, err := s.client.PushBatch(ctx, batch.SyncRequestID, batch)
	if err != nil {
		if errors.Is(err, syncclient.ErrConflict) {
			// Nothing changes locally on a 409, so the same batch is sent
			// again next time and the outbox does not drain.
			s.logger.Warn("Sync batch rejected with conflict, outbox is blocked",
				"sync_request_id", batch.SyncRequestID,
				"oldest_op_id", ops[0].OpID,
				"error", err.Error(),
			)
		}
		return SyncResult{}, fmt.Errorf("push batch: %w", err)
	}
	if resp.StatusCode == http.StatusAccepted {
		s.logger.Info("Sync batch still processing on server", "sync_request_id", batch.SyncRequestID)
		return SyncResult{Inconclusive: true}, nil
	}

	var result SyncResult
	for _, r := range resp.Response.Results {
		op, ok := sent[r.OpID]
		if !ok {
			s.logger.Warn("Server reported an op that was not sent", "op_id", r.OpID)
			continue
		}
		switch r.Status {
		case model.OpApplied, model.OpAlreadyApplied:
			marked, err := s.markErr(r.OpID, s.store.MarkSentDone(ctx, op))
			if err != nil {
				return result, err
			}
			if marked {
				result.Synced++
			}
		case model.OpFailed:
			marked, err := s.markErr(r.OpID, s.store.MarkSentFailed(ctx, op, r.Error))
			if err != nil {
				return result, err
			}
			if marked {
				result.Failed++
				result.Errors = append(result.Errors, OpError{OpID: r.OpID, Error: r.Error})
			}
		}
	}

	if err := s.store.SetLastSyncAt(ctx, s.store.now()); err != nil {
		return result, err
	}

	s.logger.Info("Sync batch finished",
		"sync_request_id", batch.SyncRequestID,
		"sent", len(ops),
		"synced", result.Synced,
		"failed", result.Failed,
	)
	return result, nil
}

// markErr reports whether the local op was updated. Ops pruned or replaced
// while the batch was in flight are skipped.
func (s *Syncer) markErr(opID string, err error) (bool, error) {
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrOpNotFound):
		s.logger.Warn("Op was removed while its batch was in flight", "op_id", opID)
		return false, nil
	case errors.Is(err, ErrOpReplaced):
		s.logger.Warn("Op was edited while its batch was in flight, keeping the newer payload pending", "op_id", opID)
		return false, nil
	default:
		return false, err
	}
}

// RetryFailedOps moves every failed op back to pending.
func (s *Syncer) RetryFailedOps(ctx context.Context) (int, error) {
	return s.store.ResetAllFailed(ctx)
}

// Run calls SyncOutbox every interval until ctx is done.
func (s *Syncer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.SyncOutbox(ctx); err != nil && !errors.Is(err, ErrSyncInProgress) {
			s.logger.Error(err, "Outbox sync failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
