// Package capture turns catalog notifications into durable change records.
//
// Each stream owns a Buffer: notifications are appended to an in-memory
// pending list and a single deferred flush is re-armed on every append. When
// the stream has been quiet for the debounce delay, the pending entries are
// coalesced by key (the first occurrence wins), stamped with the flush time
// and written in one transaction.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	syncerrors "github.com/randalmurphal/deltasync/pkg/deltasync/errors"
	"github.com/randalmurphal/deltasync/pkg/deltasync/observability"
)

// FlushPolicy decides what happens to a batch whose write fails.
type FlushPolicy string

const (
	// FlushDrop logs the failure and discards the batch.
	FlushDrop FlushPolicy = "drop"

	// FlushRetry retries transient failures with backoff, then discards.
	FlushRetry FlushPolicy = "retry"

	// FlushRetain keeps the batch ahead of newer entries and re-arms the
	// flush. The pending list is bounded by MaxPending.
	FlushRetain FlushPolicy = "retain"
)

// ParseFlushPolicy returns the policy named s.
func ParseFlushPolicy(s string) (FlushPolicy, error) {
	switch p := FlushPolicy(s); p {
	case FlushDrop, FlushRetry, FlushRetain:
		return p, nil
	case "":
		return FlushDrop, nil
	default:
		return "", syncerrors.Invalid("flush_policy", fmt.Sprintf("unknown policy %q", s))
	}
}

// Discard reasons reported to logs and metrics.
const (
	reasonFlushFailed = "flush_failed"
	reasonOverflow    = "overflow"
	reasonClosed      = "closed"
)

// ErrClosed is returned when adding to a closed buffer.
var ErrClosed = errors.New("capture buffer closed")

// WriteFunc persists a coalesced batch. Every entry must be stamped with a
// single reading of now, taken while the write holds the store's writer lock
// so the stamp cannot fall inside a window closed before the write commits.
type WriteFunc[R any] func(ctx context.Context, batch []R, now func() time.Time) error

// BufferConfig configures a Buffer.
type BufferConfig[K comparable, R any] struct {
	// Stream names the buffer in logs and metrics.
	Stream string

	// Delay is the quiet period before a flush.
	Delay time.Duration

	// Key returns the coalescing key of an entry.
	Key func(R) K

	// Write persists a batch.
	Write WriteFunc[R]

	Policy FlushPolicy

	// Retry bounds write attempts under FlushRetry.
	Retry syncerrors.RetryConfig

	// MaxPending bounds the pending list; zero means unbounded. When it is
	// exceeded the list is coalesced and, if still too long, the oldest
	// entries are discarded.
	MaxPending int

	// Breaker fails writes fast after repeated failures.
	Breaker BreakerConfig

	Clock   func() time.Time
	Logger  *slog.Logger
	Metrics observability.MetricsRecorder
	Spans   observability.SpanManager
}

// Buffer coalesces entries and flushes them after a quiet period. The
// pending list and the deferred flush share one mutex, and the flush runs
// while holding it, so an Add never interleaves with a write.
type Buffer[K comparable, R any] struct {
	cfg     BufferConfig[K, R]
	breaker *gobreaker.CircuitBreaker[struct{}]

	mu      sync.Mutex
	pending []R
	timer   *time.Timer
	gen     uint64
	closed  bool
}

// NewBuffer creates a Buffer.
func NewBuffer[K comparable, R any](cfg BufferConfig[K, R]) *Buffer[K, R] {
	if cfg.Policy == "" {
		cfg.Policy = FlushDrop
	}
	if cfg.Retry.MaxAttempts < 1 {
		cfg.Retry = syncerrors.DefaultRetry
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NoopMetrics{}
	}
	if cfg.Spans == nil {
		cfg.Spans = observability.NoopSpanManager{}
	}
	return &Buffer[K, R]{
		cfg:     cfg,
		breaker: newBreaker(cfg.Stream, cfg.Breaker, cfg.Logger),
	}
}

// Add appends an entry and re-arms the deferred flush.
func (b *Buffer[K, R]) Add(ctx context.Context, r R) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	b.pending = append(b.pending, r)
	b.cfg.Metrics.RecordCapture(ctx, b.cfg.Stream)

	if limit := b.cfg.MaxPending; limit > 0 && len(b.pending) > limit {
		b.pending = coalesce(b.pending, b.cfg.Key)
		b.trimLocked(ctx)
	}

	b.armLocked()
	return nil
}

// Flush writes the pending entries now and cancels the deferred flush.
// The returned error is the write failure after the policy was applied.
func (b *Buffer[K, R]) Flush(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	return b.flushLocked(ctx)
}

// Pending returns the number of entries waiting to be flushed.
func (b *Buffer[K, R]) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Close cancels the deferred flush and performs a final one. Entries that
// cannot be written are discarded. Close is idempotent.
func (b *Buffer[K, R]) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	err := b.flushLocked(ctx)
	if n := len(b.pending); n > 0 {
		b.pending = nil
		b.discardLocked(ctx, n, reasonClosed)
	}
	return err
}

// armLocked cancels any scheduled flush and schedules a new one. The
// generation counter turns a callback that already fired into a no-op.
func (b *Buffer[K, R]) armLocked() {
	b.stopLocked()
	gen := b.gen
	b.timer = time.AfterFunc(b.cfg.Delay, func() { b.fire(gen) })
}

func (b *Buffer[K, R]) stopLocked() {
	b.gen++
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

func (b *Buffer[K, R]) fire(gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if gen != b.gen || b.closed {
		return
	}
	b.timer = nil
	// Failures are logged and handled by the policy.
	_ = b.flushLocked(context.Background())
}

func (b *Buffer[K, R]) flushLocked(ctx context.Context) error {
	b.stopLocked()
	if len(b.pending) == 0 {
		return nil
	}

	batch := coalesce(b.pending, b.cfg.Key)
	b.pending = nil

	err := b.write(ctx, batch)
	if err == nil {
		return nil
	}

	if b.cfg.Policy == FlushRetain && !b.closed {
		b.pending = batch
		b.trimLocked(ctx)
		b.armLocked()
		return err
	}

	b.discardLocked(ctx, len(batch), reasonFlushFailed)
	return err
}

func (b *Buffer[K, R]) write(ctx context.Context, batch []R) error {
	ctx, span := b.cfg.Spans.StartFlushSpan(ctx, b.cfg.Stream, len(batch))
	start := time.Now()

	var err error
	if b.cfg.Policy == FlushRetry {
		res := syncerrors.WithRetryContext(ctx, b.cfg.Retry, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, b.attempt(ctx, batch)
		})
		err = res.Err
	} else {
		err = b.attempt(ctx, batch)
	}

	b.cfg.Metrics.RecordFlush(ctx, b.cfg.Stream, len(batch), time.Since(start), err)
	b.cfg.Spans.EndSpanWithError(span, err)
	if err != nil {
		observability.LogFlushError(b.cfg.Logger, b.cfg.Stream, len(batch), err)
		return err
	}
	observability.LogFlush(b.cfg.Logger, b.cfg.Stream, len(batch), float64(time.Since(start).Milliseconds()))
	return nil
}

// attempt performs one write, through the breaker when one is configured.
func (b *Buffer[K, R]) attempt(ctx context.Context, batch []R) error {
	if b.breaker == nil {
		return b.cfg.Write(ctx, batch, b.cfg.Clock)
	}
	_, err := b.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, b.cfg.Write(ctx, batch, b.cfg.Clock)
	})
	return err
}

// trimLocked drops the oldest entries beyond MaxPending.
func (b *Buffer[K, R]) trimLocked(ctx context.Context) {
	limit := b.cfg.MaxPending
	if limit <= 0 || len(b.pending) <= limit {
		return
	}
	n := len(b.pending) - limit
	b.pending = append([]R(nil), b.pending[n:]...)
	b.discardLocked(ctx, n, reasonOverflow)
}

func (b *Buffer[K, R]) discardLocked(ctx context.Context, n int, reason string) {
	b.cfg.Metrics.RecordDiscarded(ctx, b.cfg.Stream, n, reason)
	observability.LogDiscarded(b.cfg.Logger, b.cfg.Stream, n, reason)
}

// coalesce keeps the first entry of every key, in first-seen order.
func coalesce[K comparable, R any](entries []R, key func(R) K) []R {
	seen := make(map[K]struct{}, len(entries))
	out := make([]R, 0, len(entries))
	for _, e := range entries {
		k := key(e)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, e)
	}
	return out
}
