package providers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/i474232898/commute-telemetry/internal/commute"
)

// Settings carries the credentials and endpoints the providers may need.
type Settings struct {
	GoogleAPIKey string
	ORSAPIKey    string
	OSRMBaseURL  string
}

// New returns the provider registered under name. "none" (or "") returns a nil
// provider, which makes every tick use the fallback estimate.
func New(name string, client *http.Client, s Settings) (commute.RouteProvider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return nil, nil
	case "google":
		if s.GoogleAPIKey == "" {
			return nil, fmt.Errorf("google provider: %w", errNoAPIKey)
		}
		return NewGoogleDistanceMatrixProvider(client, s.GoogleAPIKey), nil
	case "osrm":
		return NewOSRMProvider(client, s.OSRMBaseURL), nil
	case "ors":
		if s.ORSAPIKey == "" {
			return nil, fmt.Errorf("ors provider: %w", errNoAPIKey)
		}
		return NewORSProvider(client, s.ORSAPIKey), nil
	default:
		return nil, fmt.Errorf("unknown routing provider %q", name)
	}
}
