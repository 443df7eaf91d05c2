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

// GoogleDistanceMatrixProvider implements commute.RouteProvider using the Google Distance Matrix API.
// It asks for the live traffic estimate and prefers duration_in_traffic when present.
type GoogleDistanceMatrixProvider struct {
	name    string
	apiKey  string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

func NewGoogleDistanceMatrixProvider(client *http.Client, apiKey string) *GoogleDistanceMatrixProvider {
	cfg := defaultHTTPConfig(client)
	return &GoogleDistanceMatrixProvider{
		name:    "google",
		apiKey:  apiKey,
		baseURL: "https://maps.googleapis.com/maps/api/distancematrix/json",
		httpCfg: cfg,
		circuit: newBreaker("google", cfg),
	}
}

// WithBaseURL points the provider at another endpoint (proxies, tests).
func (p *GoogleDistanceMatrixProvider) WithBaseURL(u string) *GoogleDistanceMatrixProvider {
	p.baseURL = u
	return p
}

func (p *GoogleDistanceMatrixProvider) Name() string {
	return p.name
}

type googleValue struct {
	Value float64 `json:"value"`
	Text  string  `json:"text"`
}

type googleMatrixResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Rows         []struct {
		Elements []struct {
			Status            string       `json:"status"`
			Duration          *googleValue `json:"duration"`
			DurationInTraffic *googleValue `json:"duration_in_traffic"`
		} `json:"elements"`
	} `json:"rows"`
}

func (p *GoogleDistanceMatrixProvider) EstimateSeconds(ctx context.Context, origin, destination commute.Coordinate) (float64, error) {
	if p.apiKey == "" {
		return 0, fmt.Errorf("google: %w", errNoAPIKey)
	}

	buildRequest := func(ctx context.Context) (*http.Request, error) {
		values := url.Values{}
		values.Set("origins", fmt.Sprintf("%f,%f", origin.Lat, origin.Lon))
		values.Set("destinations", fmt.Sprintf("%f,%f", destination.Lat, destination.Lon))
		values.Set("departure_time", "now")
		values.Set("traffic_model", "best_guess")
		values.Set("key", p.apiKey)

		u := fmt.Sprintf("%s?%s", p.baseURL, values.Encode())
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	}

	resp, err := doRequest(ctx, p.name, p.httpCfg, p.circuit, buildRequest)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	var payload googleMatrixResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("google: decode distance matrix response: %w", err)
	}

	if payload.Status != "OK" {
		return 0, fmt.Errorf("google: %w: status %s %s", ErrNoRoute, payload.Status, payload.ErrorMessage)
	}
	if len(payload.Rows) == 0 || len(payload.Rows[0].Elements) == 0 {
		return 0, fmt.Errorf("google: %w: empty matrix", ErrNoRoute)
	}

	el := payload.Rows[0].Elements[0]
	if el.Status != "OK" {
		return 0, fmt.Errorf("google: %w: element status %s", ErrNoRoute, el.Status)
	}

	switch {
	case el.DurationInTraffic != nil && el.DurationInTraffic.Value > 0:
		return el.DurationInTraffic.Value, nil
	case el.Duration != nil:
		return el.Duration.Value, nil
	default:
		return 0, fmt.Errorf("google: %w: element has no duration", ErrNoRoute)
	}
}
