package commute

import (
	"context"
	"time"
)

// RouteProvider abstracts a routing data source (e.g. Google Distance Matrix, OSRM, OpenRouteService).
// Any error means the estimate is unusable and the engine falls back.
type RouteProvider interface {
	EstimateSeconds(ctx context.Context, origin, destination Coordinate) (float64, error)
}

// Store is the contract the in-memory store must satisfy.
type Store interface {
	SaveSnapshot(route Route, snapshot CommuteEstimate)
	GetLatest(route Route) (CommuteEstimate, error)
	Forget(route Route)
}

// Observer receives engine telemetry. Implementations must not block.
type Observer interface {
	ObservePrimary(elapsed time.Duration, err error)
	ObserveEstimate(estimate CommuteEstimate)
	SetActiveSubscriptions(n int)
}

// providerName reports a provider's name when it has one.
func providerName(p RouteProvider) string {
	if n, ok := p.(interface{ Name() string }); ok {
		return n.Name()
	}
	return "primary"
}
