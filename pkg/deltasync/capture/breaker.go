package capture

import (
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

// DefaultBreakerCooldown is how long an open breaker waits before letting
// a trial write through.
const DefaultBreakerCooldown = 30 * time.Second

// ErrBreakerOpen is returned for a flush skipped because recent writes
// kept failing. The batch is handled by the flush policy like any other
// failure.
var ErrBreakerOpen = gobreaker.ErrOpenState

// BreakerConfig stops a stream from writing after repeated failures.
type BreakerConfig struct {
	// Failures is the number of consecutive failed writes that opens the
	// breaker. Zero disables it.
	Failures uint32

	// Cooldown is how long the breaker stays open (default:
	// DefaultBreakerCooldown).
	Cooldown time.Duration
}

func (c BreakerConfig) enabled() bool {
	return c.Failures > 0
}

func newBreaker(stream string, cfg BreakerConfig, logger *slog.Logger) *gobreaker.CircuitBreaker[struct{}] {
	if !cfg.enabled() {
		return nil
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultBreakerCooldown
	}
	return gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        stream,
		MaxRequests: 1,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logger != nil {
				logger.Warn("flush breaker state changed",
					slog.String("stream", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()),
				)
			}
		},
	})
}
