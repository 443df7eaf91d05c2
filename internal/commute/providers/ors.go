package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/sony/gobreaker"

	"github.com/i474232898/commute-telemetry/internal/commute"
)

// ORSProvider implements commute.RouteProvider using the OpenRouteService directions endpoint.
type ORSProvider struct {
	name    string
	apiKey  string
	baseURL string
	profile string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

func NewORSProvider(client *http.Client, apiKey string) *ORSProvider {
	cfg := defaultHTTPConfig(client)
	return &ORSProvider{
		name:    "ors",
		apiKey:  apiKey,
		baseURL: "https://api.openrouteservice.org",
		profile: "driving-car",
		httpCfg: cfg,
		circuit: newBreaker("ors", cfg),
	}
}

// WithBaseURL points the provider at another endpoint (proxies, tests).
func (p *ORSProvider) WithBaseURL(u string) *ORSProvider {
	p.baseURL = u
	return p
}

func (p *ORSProvider) Name() string {
	return p.name
}

type orsDirectionsResponse struct {
	Features []struct {
		Properties struct {
			Summary struct {
				Distance float64  `json:"distance"`
				Duration *float64 `json:"duration"`
			} `json:"summary"`
		} `json:"properties"`
	} `json:"features"`
}

func (p *ORSProvider) EstimateSeconds(ctx context.Context, origin, destination commute.Coordinate) (float64, error) {
	if p.apiKey == "" {
		return 0, fmt.Errorf("ors: %w", errNoAPIKey)
	}

	buildRequest := func(ctx context.Context) (*http.Request, error) {
		values := url.Values{}
		values.Set("start", fmt.Sprintf("%f,%f", origin.Lon, origin.Lat))
		values.Set("end", fmt.Sprintf("%f,%f", destination.Lon, destination.Lat))

		u := fmt.Sprintf("%s/v2/directions/%s?%s", p.baseURL, p.profile, values.Encode())
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", p.apiKey)
		return req, nil
	}

	resp, err := doRequest(ctx, p.name, p.httpCfg, p.circuit, buildRequest)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	var payload orsDirectionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("ors: decode directions response: %w", err)
	}

	if len(payload.Features) == 0 {
		return 0, fmt.Errorf("ors: %w: no features", ErrNoRoute)
	}
	d := payload.Features[0].Properties.Summary.Duration
	if d == nil {
		return 0, fmt.Errorf("ors: %w: summary has no duration", ErrNoRoute)
	}

	return *d, nil
}
