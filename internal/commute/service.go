package commute

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Sink receives every published snapshot together with its route.
type Sink interface {
	PublishEstimate(route Route, estimate CommuteEstimate) error
}

// Service orchestrates the engine, the snapshot store and any outbound sinks.
type Service struct {
	engine *Engine
	store  Store
	sinks  []Sink
	logger *zap.SugaredLogger

	mu  sync.Mutex
	sub *Subscription
}

// NewService creates a new Service.
func NewService(engine *Engine, store Store, logger *zap.SugaredLogger, sinks ...Sink) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{
		engine: engine,
		store:  store,
		sinks:  sinks,
		logger: logger.With("component", "commute.service"),
	}
}

// Track starts (or restarts) estimation for the given points. A nil point
// leaves the service idle with the placeholder snapshot.
func (s *Service) Track(origin, destination *Coordinate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var route Route
	if origin != nil && destination != nil {
		if err := origin.Validate(); err != nil {
			return fmt.Errorf("track commute: origin: %w", err)
		}
		if err := destination.Validate(); err != nil {
			return fmt.Errorf("track commute: destination: %w", err)
		}
		route = Route{Origin: *origin, Destination: *destination}
	}

	// A snapshot never outlives its subscription, even when the route is unchanged.
	s.dropLocked()

	sub, err := s.engine.Start(origin, destination, func(est CommuteEstimate) {
		s.deliver(route, est)
	})
	if err != nil {
		return fmt.Errorf("track commute: %w", err)
	}
	s.sub = sub
	return nil
}

func (s *Service) deliver(route Route, est CommuteEstimate) {
	if s.store != nil {
		s.store.SaveSnapshot(route, est)
	}
	for _, sink := range s.sinks {
		if err := sink.PublishEstimate(route, est); err != nil {
			// Sinks are best effort; the store already holds the snapshot.
			s.logger.Warnw("sink publish failed", "route", route.Key(), "error", err)
		}
	}
}

// Current returns the latest snapshot for the tracked route, or the placeholder.
func (s *Service) Current() CommuteEstimate {
	s.mu.Lock()
	sub := s.sub
	s.mu.Unlock()

	if sub == nil {
		return Placeholder()
	}
	if r, ok := sub.Route(); ok && s.store != nil {
		if est, err := s.store.GetLatest(r); err == nil {
			return est
		}
	}
	return sub.Latest()
}

// Route returns the tracked route; ok is false when idle.
func (s *Service) Route() (Route, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub == nil {
		return Route{}, false
	}
	return s.sub.Route()
}

// Untrack stops estimation and returns to the placeholder.
func (s *Service) Untrack() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropLocked()
}

// dropLocked stops the current subscription and forgets its snapshot.
// Stop returns only after the last delivery, so nothing is saved afterwards.
func (s *Service) dropLocked() {
	if s.sub == nil {
		return
	}
	s.sub.Stop()
	if r, ok := s.sub.Route(); ok && s.store != nil {
		s.store.Forget(r)
	}
	s.sub = nil
}

// Close stops tracking. The service must not be used afterwards.
func (s *Service) Close() {
	s.Untrack()
}
