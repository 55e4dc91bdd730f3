// Package instruments caches instrument metadata (lot size, tick size,
// freeze quantity). Lookups hit memory first, then the store, then the
// broker; stale entries are refreshed in the background.
package instruments

import (
	"context"
	"sync"
	"time"

	"copytrader/internal/core"
	"copytrader/pkg/concurrency"
	apperrors "copytrader/pkg/errors"
)

// refreshAge is how old a cached entry may get before a background refresh
// is scheduled. Lot sizes change rarely; once a day is plenty.
const refreshAge = 24 * time.Hour

// Cache implements core.IInstrumentCache.
type Cache struct {
	client core.IBrokerClient
	store  core.IStore
	pool   *concurrency.WorkerPool
	log    core.ILogger

	mu      sync.RWMutex
	entries map[string]*core.Instrument
}

// New creates an instrument cache backed by the given broker client.
func New(client core.IBrokerClient, store core.IStore, log core.ILogger) *Cache {
	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "instrument-refresh",
		MaxWorkers:  2,
		MaxCapacity: 64,
		NonBlocking: true,
	}, log)
	return &Cache{
		client:  client,
		store:   store,
		pool:    pool,
		log:     log.WithField("component", "instrument_cache"),
		entries: make(map[string]*core.Instrument),
	}
}

// Get returns instrument metadata for a security. A stale memory hit is
// returned immediately and refreshed in the background.
func (c *Cache) Get(ctx context.Context, securityID, exchangeSegment string) (*core.Instrument, error) {
	key := securityID + "|" + exchangeSegment

	c.mu.RLock()
	in, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		if time.Now().UnixMilli()-in.UpdatedAt > refreshAge.Milliseconds() {
			c.scheduleRefresh(securityID, exchangeSegment, key)
		}
		return in, nil
	}

	if c.store != nil {
		stored, err := c.store.GetInstrument(ctx, securityID)
		if err != nil {
			c.log.Warn("instrument store lookup failed", "security_id", securityID, "error", err)
		} else if stored != nil {
			c.put(key, stored)
			if time.Now().UnixMilli()-stored.UpdatedAt > refreshAge.Milliseconds() {
				c.scheduleRefresh(securityID, exchangeSegment, key)
			}
			return stored, nil
		}
	}

	in, err := c.fetch(ctx, securityID, exchangeSegment, key)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindOf(err), "instrument lookup", err)
	}
	return in, nil
}

// Stop drains the refresh pool.
func (c *Cache) Stop() {
	c.pool.Stop()
}

func (c *Cache) fetch(ctx context.Context, securityID, exchangeSegment, key string) (*core.Instrument, error) {
	in, err := c.client.InstrumentDetail(ctx, securityID, exchangeSegment)
	if err != nil {
		return nil, err
	}
	c.put(key, in)
	if c.store != nil {
		if perr := c.store.PutInstrument(ctx, in); perr != nil {
			c.log.Warn("instrument store write failed", "security_id", securityID, "error", perr)
		}
	}
	return in, nil
}

func (c *Cache) put(key string, in *core.Instrument) {
	c.mu.Lock()
	c.entries[key] = in
	c.mu.Unlock()
}

func (c *Cache) scheduleRefresh(securityID, exchangeSegment, key string) {
	err := c.pool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := c.fetch(ctx, securityID, exchangeSegment, key); err != nil {
			c.log.Warn("instrument refresh failed", "security_id", securityID, "error", err)
		}
	})
	if err != nil {
		c.log.Debug("instrument refresh skipped, pool full", "security_id", securityID)
	}
}
