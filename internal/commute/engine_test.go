package commute

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func testNow() time.Time {
	return time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC)
}

var (
	home = Coordinate{Lat: 18.02008874732819, Lon: 79.54670127005744}
	gym  = Coordinate{Lat: 18.0, Lon: 79.58}
)

type providerFunc func(ctx context.Context, o, d Coordinate) (float64, error)

func (f providerFunc) EstimateSeconds(ctx context.Context, o, d Coordinate) (float64, error) {
	return f(ctx, o, d)
}

type namedProvider struct {
	providerFunc
	name string
}

func (p namedProvider) Name() string { return p.name }

type countingProvider struct {
	calls   atomic.Int32
	seconds float64
}

func (p *countingProvider) EstimateSeconds(context.Context, Coordinate, Coordinate) (float64, error) {
	p.calls.Add(1)
	return p.seconds, nil
}

type recordingObserver struct {
	mu       sync.Mutex
	primary  []error
	active   []int
	observed int
}

func (o *recordingObserver) ObservePrimary(_ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.primary = append(o.primary, err)
}

func (o *recordingObserver) ObserveEstimate(CommuteEstimate) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observed++
}

func (o *recordingObserver) SetActiveSubscriptions(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.active = append(o.active, n)
}

func newTestEngine(p RouteProvider, opts ...Option) *Engine {
	opts = append([]Option{WithClock(testNow)}, opts...)
	return NewEngine(p, zap.NewNop().Sugar(), opts...)
}

func waitFor(t *testing.T, ch <-chan CommuteEstimate, d time.Duration) CommuteEstimate {
	t.Helper()
	select {
	case est, ok := <-ch:
		if !ok {
			t.Fatal("updates channel closed")
		}
		return est
	case <-time.After(d):
		t.Fatal("timed out waiting for estimate")
	}
	return CommuteEstimate{}
}

func TestEstimatePrimarySuccess(t *testing.T) {
	e := newTestEngine(namedProvider{
		providerFunc: func(context.Context, Coordinate, Coordinate) (float64, error) { return 600, nil },
		name:         "osrm",
	})

	est := e.Estimate(context.Background(), home, gym)

	if est.DurationMinutes != 10 {
		t.Fatalf("expected 10 minutes, got %d", est.DurationMinutes)
	}
	if est.MiddleStatus() != StatusYellow || est.DeltaLabel != "+1m" {
		t.Fatalf("expected YELLOW +1m, got %s %q", est.MiddleStatus(), est.DeltaLabel)
	}
	if est.Source != SourcePrimary || est.Provider != "osrm" {
		t.Fatalf("unexpected source %s/%s", est.Source, est.Provider)
	}
	if !est.UpdatedAt.Equal(testNow()) {
		t.Fatalf("unexpected timestamp %v", est.UpdatedAt)
	}
}

func TestEstimateFallsBack(t *testing.T) {
	want := SecondsToMinutes(FallbackSeconds(home, gym))

	tests := []struct {
		name     string
		provider RouteProvider
	}{
		{"nil provider", nil},
		{"provider error", providerFunc(func(context.Context, Coordinate, Coordinate) (float64, error) {
			return 0, errors.New("upstream 500")
		})},
		{"negative duration", providerFunc(func(context.Context, Coordinate, Coordinate) (float64, error) {
			return -1, nil
		})},
		{"non-finite duration", providerFunc(func(context.Context, Coordinate, Coordinate) (float64, error) {
			return math.Inf(1), nil
		})},
		{"absurd duration", providerFunc(func(context.Context, Coordinate, Coordinate) (float64, error) {
			return 1e22, nil
		})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			est := newTestEngine(tt.provider).Estimate(context.Background(), home, gym)
			if est.Source != SourceFallback || est.Provider != FallbackProviderName {
				t.Fatalf("expected fallback, got %s/%s", est.Source, est.Provider)
			}
			if est.DurationMinutes != want {
				t.Fatalf("expected %d minutes, got %d", want, est.DurationMinutes)
			}
			if wantStatus, wantLabel := Classify(Delta(want, DefaultIdealRatio)); est.MiddleStatus() != wantStatus || est.DeltaLabel != wantLabel {
				t.Fatalf("expected %s %q, got %s %q", wantStatus, wantLabel, est.MiddleStatus(), est.DeltaLabel)
			}
		})
	}
}

func TestEstimateTimeoutUsesFallback(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	// Ignores ctx on purpose: the cap must hold regardless.
	slow := providerFunc(func(context.Context, Coordinate, Coordinate) (float64, error) {
		<-release
		return 60, nil
	})
	obs := &recordingObserver{}
	e := newTestEngine(slow, WithPrimaryTimeout(50*time.Millisecond), WithObserver(obs))

	start := time.Now()
	est := e.Estimate(context.Background(), home, home)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("estimate took %v, primary cap not enforced", elapsed)
	}

	if est.Source != SourceFallback {
		t.Fatalf("expected fallback, got %s", est.Source)
	}
	if est.DurationMinutes != 2 {
		t.Fatalf("expected 2 minutes for identical points, got %d", est.DurationMinutes)
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.primary) != 1 || !errors.Is(obs.primary[0], context.DeadlineExceeded) {
		t.Fatalf("expected one deadline failure, got %v", obs.primary)
	}
}

func TestStartWithoutCoordinatesIsIdle(t *testing.T) {
	p := &countingProvider{seconds: 600}
	e := newTestEngine(p, WithInterval(10*time.Millisecond))

	sub, err := e.Start(&home, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer sub.Stop()

	if !sub.Idle() {
		t.Fatal("expected idle subscription")
	}
	time.Sleep(50 * time.Millisecond)

	if n := p.calls.Load(); n != 0 {
		t.Fatalf("expected no provider calls, got %d", n)
	}
	if got := sub.Latest(); got.DeltaLabel != PendingDelta {
		t.Fatalf("expected placeholder, got %+v", got)
	}
}

func TestStartRejectsInvalidCoordinates(t *testing.T) {
	e := newTestEngine(nil)
	bad := Coordinate{Lat: 100, Lon: 0}

	if _, err := e.Start(&bad, &gym); !errors.Is(err, ErrInvalidCoordinate) {
		t.Fatalf("expected ErrInvalidCoordinate, got %v", err)
	}
	if e.Current() != nil {
		t.Fatal("invalid start must not replace the current subscription")
	}
}

func TestStartTicksImmediatelyAndRepeats(t *testing.T) {
	p := &countingProvider{seconds: 600}
	e := newTestEngine(p, WithInterval(50*time.Millisecond))

	sub, err := e.Start(&home, &gym)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer sub.Stop()

	first := waitFor(t, sub.Updates(), time.Second)
	if first.DurationMinutes != 10 || first.Source != SourcePrimary {
		t.Fatalf("unexpected first estimate %+v", first)
	}

	waitFor(t, sub.Updates(), time.Second)
	if n := p.calls.Load(); n < 2 {
		t.Fatalf("expected at least 2 ticks, got %d", n)
	}
	if got := sub.Latest(); got.Source != SourcePrimary {
		t.Fatalf("expected latest to be a primary estimate, got %+v", got)
	}
}

func TestStopHaltsDelivery(t *testing.T) {
	p := &countingProvider{seconds: 600}
	obs := &recordingObserver{}
	e := newTestEngine(p, WithInterval(20*time.Millisecond), WithObserver(obs))

	var delivered atomic.Int32
	sub, err := e.Start(&home, &gym, func(CommuteEstimate) { delivered.Add(1) })
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, sub.Updates(), time.Second)

	sub.Stop()
	sub.Stop() // idempotent

	after := delivered.Load()
	time.Sleep(100 * time.Millisecond)
	if got := delivered.Load(); got != after {
		t.Fatalf("expected no deliveries after Stop, got %d more", got-after)
	}

	select {
	case <-sub.Done():
	default:
		t.Fatal("expected Done to be closed")
	}
	for range sub.Updates() {
		// drain what was buffered before Stop; the loop ends because the channel is closed
	}
	if e.Current() != nil {
		t.Fatal("expected engine to have no current subscription")
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.active) < 2 || obs.active[len(obs.active)-1] != 0 {
		t.Fatalf("expected active subscriptions to drop to 0, got %v", obs.active)
	}
}

func TestStopCancelsInFlightRequest(t *testing.T) {
	started := make(chan struct{})
	cancelled := make(chan struct{})
	p := providerFunc(func(ctx context.Context, _, _ Coordinate) (float64, error) {
		close(started)
		<-ctx.Done()
		close(cancelled)
		return 0, ctx.Err()
	})
	e := newTestEngine(p, WithInterval(time.Hour), WithPrimaryTimeout(10*time.Second))

	var delivered atomic.Int32
	sub, err := e.Start(&home, &gym, func(CommuteEstimate) { delivered.Add(1) })
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("provider was not called")
	}
	sub.Stop()

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("in-flight request was not cancelled")
	}
	time.Sleep(20 * time.Millisecond)
	if n := delivered.Load(); n != 0 {
		t.Fatalf("expected the cancelled tick to be discarded, got %d deliveries", n)
	}
}

func TestStartSupersedesPrevious(t *testing.T) {
	e := newTestEngine(&countingProvider{seconds: 600}, WithInterval(time.Hour))

	first, err := e.Start(&home, &gym)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	second, err := e.Start(&gym, &home)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer second.Stop()

	select {
	case <-first.Done():
	default:
		t.Fatal("expected first subscription to be stopped")
	}
	if e.Current() != second {
		t.Fatal("expected second subscription to be current")
	}
	if r, _ := second.Route(); r.Origin != gym {
		t.Fatalf("unexpected route %+v", r)
	}

	waitFor(t, second.Updates(), time.Second)
}

func TestWithIdealRatio(t *testing.T) {
	e := newTestEngine(providerFunc(func(context.Context, Coordinate, Coordinate) (float64, error) {
		return 1200, nil
	}), WithIdealRatio(0.5))

	if e.IdealRatio() != 0.5 {
		t.Fatalf("expected ratio 0.5, got %v", e.IdealRatio())
	}
	est := e.Estimate(context.Background(), home, gym)
	if est.MiddleStatus() != StatusRed || est.DeltaLabel != "+10m" {
		t.Fatalf("expected RED +10m, got %s %q", est.MiddleStatus(), est.DeltaLabel)
	}

	if r := newTestEngine(nil, WithIdealRatio(1.5)).IdealRatio(); r != DefaultIdealRatio {
		t.Fatalf("out of range ratio must be ignored, got %v", r)
	}
}
