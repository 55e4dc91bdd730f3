package concurrency

import (
	"sync"
	"sync/atomic"
	"testing"

	"copytrader/internal/core"
)

type noopLogger struct{}

func (l *noopLogger) Debug(msg string, fields ...interface{})               {}
func (l *noopLogger) Info(msg string, fields ...interface{})                {}
func (l *noopLogger) Warn(msg string, fields ...interface{})                {}
func (l *noopLogger) Error(msg string, fields ...interface{})               {}
func (l *noopLogger) Fatal(msg string, fields ...interface{})               {}
func (l *noopLogger) WithField(key string, value interface{}) core.ILogger  { return l }
func (l *noopLogger) WithFields(fields map[string]interface{}) core.ILogger { return l }

// ocoCancelPool mirrors the sibling-cancel pool: a couple of workers with a
// small buffer, dropping work rather than blocking the event loop.
func ocoCancelPool(log core.ILogger) *WorkerPool {
	return NewWorkerPool(PoolConfig{
		Name:        "oco-cancel",
		MaxWorkers:  2,
		MaxCapacity: 32,
		NonBlocking: true,
	}, log)
}

// refreshPool mirrors the instrument refresh pool: blocking submits, enough
// workers to ride out a burst of cache misses.
func refreshPool(log core.ILogger) *WorkerPool {
	return NewWorkerPool(PoolConfig{
		Name:        "instrument-refresh",
		MaxWorkers:  4,
		MaxCapacity: 256,
		NonBlocking: false,
	}, log)
}

func BenchmarkRefreshPool_Submit(b *testing.B) {
	pool := refreshPool(&noopLogger{})
	defer pool.Stop()

	b.ResetTimer()
	var refreshed int64
	for i := 0; i < b.N; i++ {
		_ = pool.Submit(func() {
			atomic.AddInt64(&refreshed, 1)
		})
	}
}

func BenchmarkRefreshPool_SubmitAndWait(b *testing.B) {
	pool := refreshPool(&noopLogger{})
	defer pool.Stop()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pool.SubmitAndWait(func() {})
	}
}

func BenchmarkOCOCancelPool_Submit(b *testing.B) {
	pool := ocoCancelPool(&noopLogger{})
	defer pool.Stop()

	b.ResetTimer()
	var cancelled, dropped int64
	for i := 0; i < b.N; i++ {
		if err := pool.Submit(func() {
			atomic.AddInt64(&cancelled, 1)
		}); err != nil {
			// Non-blocking pool sheds load when the buffer fills.
			atomic.AddInt64(&dropped, 1)
		}
	}
}

func BenchmarkGoroutine_Spawn(b *testing.B) {
	var wg sync.WaitGroup
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		wg.Add(1)
		go func() {
			wg.Done()
		}()
	}
	wg.Wait()
}
