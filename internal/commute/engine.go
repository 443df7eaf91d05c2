package commute

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/i474232898/commute-telemetry/internal/scheduler"
)

const (
	// DefaultInterval is the fixed refresh period between ticks.
	DefaultInterval = scheduler.DefaultInterval

	// DefaultPrimaryTimeout is the hard cap on a primary provider call.
	DefaultPrimaryTimeout = 2 * time.Second

	// FallbackProviderName labels estimates computed from straight-line distance.
	FallbackProviderName = "haversine"
)

var (
	errNoProvider = errors.New("no routing provider configured")

	// ErrUnusableDuration is reported when a provider answers with a negative, non-finite or
	// out of range duration.
	ErrUnusableDuration = errors.New("unusable route duration")
)

// Option configures an Engine.
type Option func(*Engine)

// WithInterval overrides the refresh period.
func WithInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.interval = d
		}
	}
}

// WithPrimaryTimeout overrides the hard cap on the primary call.
func WithPrimaryTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithIdealRatio overrides DefaultIdealRatio. Values outside (0,1] are ignored.
func WithIdealRatio(r float64) Option {
	return func(e *Engine) {
		if r > 0 && r <= 1 {
			e.idealRatio = r
		}
	}
}

// WithObserver attaches a telemetry sink.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithClock replaces time.Now for snapshot timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// Engine estimates commute time on a fixed interval and classifies the delay.
// At most one subscription is active per engine; starting a new one stops the old.
type Engine struct {
	provider   RouteProvider
	logger     *zap.SugaredLogger
	observer   Observer
	interval   time.Duration
	timeout    time.Duration
	idealRatio float64
	now        func() time.Time

	// lifecycle serializes Start and Stop.
	lifecycle sync.Mutex

	mu      sync.Mutex
	current *Subscription
}

// NewEngine creates an Engine. A nil provider makes every tick use the fallback.
func NewEngine(provider RouteProvider, logger *zap.SugaredLogger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	e := &Engine{
		provider:   provider,
		logger:     logger.With("component", "commute.engine"),
		observer:   nopObserver{},
		interval:   DefaultInterval,
		timeout:    DefaultPrimaryTimeout,
		idealRatio: DefaultIdealRatio,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// IdealRatio returns the free-flow baseline ratio in use.
func (e *Engine) IdealRatio() float64 {
	return e.idealRatio
}

// Start begins tracking the route and returns the owning subscription.
//
// If origin or destination is nil the subscription is idle: it holds the
// placeholder and never ticks. Handlers are registered before the first tick.
// Any previously started subscription is stopped first.
func (e *Engine) Start(origin, destination *Coordinate, handlers ...func(CommuteEstimate)) (*Subscription, error) {
	var route *Route
	if origin != nil && destination != nil {
		if err := origin.Validate(); err != nil {
			return nil, fmt.Errorf("start commute engine: origin: %w", err)
		}
		if err := destination.Validate(); err != nil {
			return nil, fmt.Errorf("start commute engine: destination: %w", err)
		}
		route = &Route{Origin: *origin, Destination: *destination}
	}

	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	e.mu.Lock()
	prev := e.current
	e.mu.Unlock()
	if prev != nil {
		prev.Stop()
	}

	sub := newSubscription(e, route, handlers)

	e.mu.Lock()
	e.current = sub
	e.mu.Unlock()

	if route == nil {
		e.logger.Infow("origin or destination missing; holding placeholder", "subscription", sub.ID())
		return sub, nil
	}

	if err := sub.run(); err != nil {
		sub.Stop()
		return nil, fmt.Errorf("start commute engine: %w", err)
	}

	e.observer.SetActiveSubscriptions(1)
	e.logger.Infow("commute tracking started",
		"subscription", sub.ID(),
		"route", route.Key(),
		"interval", e.interval,
		"primary_timeout", e.timeout,
	)
	return sub, nil
}

// Current returns the active subscription, or nil.
func (e *Engine) Current() *Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// Stop stops the active subscription, if any.
func (e *Engine) Stop() {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	if sub := e.Current(); sub != nil {
		sub.Stop()
	}
}

func (e *Engine) detach(sub *Subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == sub {
		e.current = nil
		e.observer.SetActiveSubscriptions(0)
	}
}

// Estimate runs one tick: primary estimate bounded by the timeout, fallback on
// any failure, then classification. It always returns a snapshot.
func (e *Engine) Estimate(ctx context.Context, origin, destination Coordinate) CommuteEstimate {
	source := SourcePrimary
	name := providerName(e.provider)

	seconds, err := e.primary(ctx, origin, destination)
	if err != nil {
		e.logger.Debugw("primary estimate unavailable; using fallback", "error", err)
		source = SourceFallback
		name = FallbackProviderName
		seconds = FallbackSeconds(origin, destination)
	}

	minutes := SecondsToMinutes(seconds)
	status, label := Classify(Delta(minutes, e.idealRatio))
	return NewEstimate(minutes, label, status, source, name, e.now())
}

type primaryResult struct {
	seconds float64
	err     error
}

// primary calls the provider on its own goroutine so the timeout is a hard cap
// even for providers that ignore ctx. A late answer lands in the buffered
// channel and is dropped.
func (e *Engine) primary(ctx context.Context, origin, destination Coordinate) (float64, error) {
	if e.provider == nil {
		return 0, errNoProvider
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	ch := make(chan primaryResult, 1)
	go func() {
		s, err := e.provider.EstimateSeconds(ctx, origin, destination)
		ch <- primaryResult{seconds: s, err: err}
	}()

	var r primaryResult
	select {
	case r = <-ch:
	case <-ctx.Done():
		r = primaryResult{err: fmt.Errorf("primary estimate: %w", ctx.Err())}
	}

	if r.err == nil && (math.IsNaN(r.seconds) || math.IsInf(r.seconds, 0) || r.seconds < 0 || r.seconds > MaxUsableSeconds) {
		r.err = fmt.Errorf("%w: %v", ErrUnusableDuration, r.seconds)
	}

	e.observer.ObservePrimary(time.Since(start), r.err)
	return r.seconds, r.err
}

type nopObserver struct{}

func (nopObserver) ObservePrimary(time.Duration, error) {}
func (nopObserver) ObserveEstimate(CommuteEstimate)     {}
func (nopObserver) SetActiveSubscriptions(int)          {}
