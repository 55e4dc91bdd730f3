package sizer

import (
	"context"
	"sync"
	"time"

	"copytrader/internal/core"
	apperrors "copytrader/pkg/errors"
)

// fundsProvider caches fund limits per account with a TTL. A failed refresh
// falls back to the last good snapshot, marked stale.
type fundsProvider struct {
	client core.IBrokerClient
	store  core.IStore
	ttl    time.Duration
	log    core.ILogger

	mu     sync.Mutex
	cached *core.FundsSnapshot
}

func newFundsProvider(client core.IBrokerClient, store core.IStore, ttl time.Duration, log core.ILogger) *fundsProvider {
	return &fundsProvider{client: client, store: store, ttl: ttl, log: log}
}

// get returns the current funds snapshot, refreshing it when expired.
func (f *fundsProvider) get(ctx context.Context) (*core.FundsSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now().UnixMilli()
	if f.cached != nil && now-f.cached.CapturedAt < f.ttl.Milliseconds() {
		return f.cached, nil
	}

	snap, err := f.client.FundLimits(ctx)
	if err != nil {
		if f.cached != nil {
			f.log.Warn("funds refresh failed, using stale snapshot",
				"role", string(f.client.Role()), "error", err)
			stale := *f.cached
			stale.Stale = true
			f.cached = &stale
			return f.cached, nil
		}
		return nil, apperrors.Wrap(apperrors.KindSizing, "fund limits unavailable", err)
	}

	f.cached = snap
	if f.store != nil {
		if perr := f.store.PutFunds(ctx, snap); perr != nil {
			f.log.Warn("funds history write failed", "error", perr)
		}
	}
	return snap, nil
}
