package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/sony/gobreaker"

	"github.com/i474232898/commute-telemetry/internal/commute"
)

// DefaultOSRMBaseURL is the public OSRM demo server.
const DefaultOSRMBaseURL = "https://router.project-osrm.org"

// OSRMProvider implements commute.RouteProvider using the OSRM route service.
// No API key is required.
type OSRMProvider struct {
	name    string
	baseURL string
	profile string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

func NewOSRMProvider(client *http.Client, baseURL string) *OSRMProvider {
	if baseURL == "" {
		baseURL = DefaultOSRMBaseURL
	}
	cfg := defaultHTTPConfig(client)
	return &OSRMProvider{
		name:    "osrm",
		baseURL: strings.TrimRight(baseURL, "/"),
		profile: "driving",
		httpCfg: cfg,
		circuit: newBreaker("osrm", cfg),
	}
}

func (p *OSRMProvider) Name() string {
	return p.name
}

type osrmRouteResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Routes  []struct {
		Duration *float64 `json:"duration"`
		Distance float64  `json:"distance"`
	} `json:"routes"`
}

func (p *OSRMProvider) EstimateSeconds(ctx context.Context, origin, destination commute.Coordinate) (float64, error) {
	buildRequest := func(ctx context.Context) (*http.Request, error) {
		// OSRM takes lon,lat pairs separated by ';'.
		u := fmt.Sprintf("%s/route/v1/%s/%f,%f;%f,%f?overview=false",
			p.baseURL, p.profile,
			origin.Lon, origin.Lat,
			destination.Lon, destination.Lat,
		)
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	}

	resp, err := doRequest(ctx, p.name, p.httpCfg, p.circuit, buildRequest)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	var payload osrmRouteResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("osrm: decode route response: %w", err)
	}

	if payload.Code != "Ok" {
		return 0, fmt.Errorf("osrm: %w: code %s %s", ErrNoRoute, payload.Code, payload.Message)
	}
	if len(payload.Routes) == 0 || payload.Routes[0].Duration == nil {
		return 0, fmt.Errorf("osrm: %w: empty route list", ErrNoRoute)
	}

	return *payload.Routes[0].Duration, nil
}
