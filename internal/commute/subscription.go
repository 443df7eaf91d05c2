package commute

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/i474232898/commute-telemetry/internal/scheduler"
)

// Subscription is the handle returned by Engine.Start. Its lifetime governs the
// timer and any in-flight primary request.
type Subscription struct {
	id     uuid.UUID
	engine *Engine
	route  *Route
	sched  *scheduler.Scheduler

	ctx    context.Context
	cancel context.CancelFunc

	// deliverMu guards stopped, updates and handlers. Holding it across a
	// delivery is what makes Stop race-free.
	deliverMu sync.Mutex
	stopped   bool
	updates   chan CommuteEstimate
	handlers  []func(CommuteEstimate)

	latestMu sync.RWMutex
	latest   CommuteEstimate

	stopOnce sync.Once
}

func newSubscription(e *Engine, route *Route, handlers []func(CommuteEstimate)) *Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Subscription{
		id:      uuid.New(),
		engine:  e,
		route:   route,
		ctx:     ctx,
		cancel:  cancel,
		updates: make(chan CommuteEstimate, 1),
		latest:  Placeholder(),
	}
	for _, h := range handlers {
		if h != nil {
			s.handlers = append(s.handlers, h)
		}
	}
	return s
}

// ID identifies the subscription in logs.
func (s *Subscription) ID() string {
	return s.id.String()
}

// Route returns the tracked route; ok is false for an idle subscription.
func (s *Subscription) Route() (Route, bool) {
	if s.route == nil {
		return Route{}, false
	}
	return *s.route, true
}

// Idle reports whether the subscription was started without both coordinates.
func (s *Subscription) Idle() bool {
	return s.route == nil
}

// Updates delivers each new snapshot. Only the most recent undelivered
// snapshot is buffered; older ones are replaced. The channel is closed by Stop.
func (s *Subscription) Updates() <-chan CommuteEstimate {
	return s.updates
}

// Latest returns the most recent snapshot, or the placeholder before the first tick.
func (s *Subscription) Latest() CommuteEstimate {
	s.latestMu.RLock()
	defer s.latestMu.RUnlock()
	return s.latest
}

// OnUpdate registers a handler called synchronously for each snapshot.
// Handlers must not call Stop.
func (s *Subscription) OnUpdate(h func(CommuteEstimate)) {
	if h == nil {
		return
	}
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	if s.stopped {
		return
	}
	s.handlers = append(s.handlers, h)
}

// Done is closed once Stop has been called.
func (s *Subscription) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Stop cancels the timer and any in-flight request. After Stop returns no
// further snapshot is delivered. It is safe to call more than once.
func (s *Subscription) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()

		s.deliverMu.Lock()
		s.stopped = true
		s.handlers = nil
		close(s.updates)
		s.deliverMu.Unlock()

		if s.sched != nil {
			s.sched.Stop()
		}
		s.engine.detach(s)
		s.engine.logger.Infow("commute tracking stopped", "subscription", s.ID())
	})
}

func (s *Subscription) run() error {
	s.sched = scheduler.New(s.engine.interval, s.engine.logger)
	return s.sched.Start("commute tick "+s.ID(), s.tick)
}

func (s *Subscription) tick() {
	if s.ctx.Err() != nil {
		return
	}
	est := s.engine.Estimate(s.ctx, s.route.Origin, s.route.Destination)
	s.publish(est)
}

func (s *Subscription) publish(est CommuteEstimate) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	if s.stopped || s.ctx.Err() != nil {
		return
	}

	s.latestMu.Lock()
	s.latest = est
	s.latestMu.Unlock()

	// Single sender: after draining, the one-slot buffer always has room.
	select {
	case s.updates <- est:
	default:
		select {
		case <-s.updates:
		default:
		}
		s.updates <- est
	}

	for _, h := range s.handlers {
		h(est)
	}

	s.engine.observer.ObserveEstimate(est)
	s.engine.logger.Debugw("commute estimate published",
		"subscription", s.ID(),
		"minutes", est.DurationMinutes,
		"delta", est.DeltaLabel,
		"status", est.MiddleStatus(),
		"source", est.Source,
	)
}
