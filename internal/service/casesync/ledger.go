package casesync

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/jwalitptl/caresync/internal/model"
	"github.com/jwalitptl/caresync/internal/repository"
)

// Ledger fronts the idempotency repository with an in-process cache of
// completed records. Completed records never change, so cached entries only
// expire.
type Ledger struct {
	repo  repository.IdempotencyRepository
	cache *cache.Cache
}

func NewLedger(repo repository.IdempotencyRepository, ttl time.Duration) *Ledger {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Ledger{
		repo:  repo,
		cache: cache.New(ttl, 2*ttl),
	}
}

func (l *Ledger) Reserve(ctx context.Context, key, requestHash string) (bool, error) {
	return l.repo.Reserve(ctx, key, requestHash)
}

func (l *Ledger) Lookup(ctx context.Context, key string) (*model.IdempotencyRecord, error) {
	if v, ok := l.cache.Get(key); ok {
		return v.(*model.IdempotencyRecord), nil
	}
	rec, err := l.repo.Lookup(ctx, key)
	if err != nil {
		return nil, err
	}
	if rec.Completed() {
		l.cache.SetDefault(key, rec)
	}
	return rec, nil
}

func (l *Ledger) Store(ctx context.Context, key, requestHash string, status int, body []byte) error {
	if err := l.repo.Store(ctx, key, requestHash, status, body); err != nil {
		return err
	}
	now := time.Now().UTC()
	l.cache.SetDefault(key, &model.IdempotencyRecord{
		Key:            key,
		RequestHash:    requestHash,
		ResponseStatus: &status,
		ResponseBody:   body,
		CreatedAt:      now,
		CompletedAt:    &now,
	})
	return nil
}
