package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/randalmurphal/deltasync/pkg/deltasync/catalog"
	"github.com/randalmurphal/deltasync/pkg/deltasync/event"
	"github.com/randalmurphal/deltasync/pkg/deltasync/observability"
)

// Topics are the notification topics the capture service consumes.
var Topics = []string{
	catalog.TopicItemAdded,
	catalog.TopicItemUpdated,
	catalog.TopicItemRemoved,
	catalog.TopicUserDataSaved,
}

// Service feeds bus notifications into the capture streams. It subscribes
// when created, so notifications published before a supervisor first runs
// Serve are still captured. Serve blocks until its context is done, then
// unsubscribes and flushes whatever is pending.
type Service struct {
	bus      event.Bus
	library  *Library
	userData *UserData
	logger   *slog.Logger

	mu  sync.Mutex
	sub event.Subscription
}

// NewService creates the capture service and subscribes it to the bus.
func NewService(bus event.Bus, library *Library, userData *UserData, logger *slog.Logger) *Service {
	s := &Service{
		bus:      bus,
		library:  library,
		userData: userData,
		logger:   observability.EnrichLogger(logger, "capture"),
	}
	s.subscribe()
	return s
}

// subscribe returns the live subscription, creating one after a stop.
func (s *Service) subscribe() event.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub == nil {
		s.sub = s.bus.Subscribe(Topics, s.Handler())
	}
	return s.sub
}

// unsubscribe drops the live subscription. Queued notifications are
// delivered before it returns.
func (s *Service) unsubscribe() {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()
	if sub != nil {
		_ = sub.Unsubscribe()
	}
}

// Handler routes notifications to the capture streams.
func (s *Service) Handler() event.Handler {
	return event.NewRouter(
		event.TypedHandler([]string{catalog.TopicItemAdded, catalog.TopicItemUpdated},
			func(ctx context.Context, evt catalog.ItemEvent, _ event.Metadata) error {
				return s.library.RecordUpdated(ctx, evt.Item)
			}),
		event.TypedHandler([]string{catalog.TopicItemRemoved},
			func(ctx context.Context, evt catalog.ItemEvent, _ event.Metadata) error {
				return s.library.RecordRemoved(ctx, evt.Item, evt.Ancestors)
			}),
		event.TypedHandler([]string{catalog.TopicUserDataSaved},
			func(ctx context.Context, evt catalog.UserDataEvent, _ event.Metadata) error {
				return s.userData.RecordSaved(ctx, evt)
			}),
	)
}

// Serve implements suture.Service.
func (s *Service) Serve(ctx context.Context) error {
	sub := s.subscribe()
	if s.logger != nil {
		s.logger.Info("capture started", slog.String("subscription", sub.ID()))
	}

	<-ctx.Done()

	// Deliver what is queued, then write it out. The serve context is
	// already done, so the flush runs on a fresh one.
	s.unsubscribe()
	if err := s.Flush(context.WithoutCancel(ctx)); err != nil && s.logger != nil {
		s.logger.Error("final flush failed", slog.String("error", err.Error()))
	}

	return ctx.Err()
}

// Flush writes both streams now.
func (s *Service) Flush(ctx context.Context) error {
	return errors.Join(s.library.Flush(ctx), s.userData.Flush(ctx))
}

// Close unsubscribes from the bus. It does not flush.
func (s *Service) Close() {
	s.unsubscribe()
}

// String implements fmt.Stringer for supervisor logs.
func (s *Service) String() string {
	return "capture"
}
