package capture

import (
	"log/slog"
	"time"

	syncerrors "github.com/randalmurphal/deltasync/pkg/deltasync/errors"
	"github.com/randalmurphal/deltasync/pkg/deltasync/observability"
)

// Default debounce delays.
const (
	DefaultLibraryDelay  = 5 * time.Second
	DefaultUserDataDelay = 500 * time.Millisecond
)

// Options configures a capture stream.
type Options struct {
	// Delay is the debounce delay; zero selects the stream default.
	Delay time.Duration

	Policy     FlushPolicy
	Retry      syncerrors.RetryConfig
	MaxPending int
	Breaker    BreakerConfig

	// RequireCheckpoint skips capture while no checkpoint exists. Library
	// capture always behaves this way.
	RequireCheckpoint bool

	Clock   func() time.Time
	Logger  *slog.Logger
	Metrics observability.MetricsRecorder
	Spans   observability.SpanManager
}

func (o Options) delay(def time.Duration) time.Duration {
	if o.Delay > 0 {
		return o.Delay
	}
	return def
}
