package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/i474232898/commute-telemetry/internal/commute"
)

var errHalfCoordinate = errors.New("lat and lon must be set together")

type AppConfig struct {
	Port  string
	Debug bool

	// RoutingProvider is one of google, osrm, ors or none.
	RoutingProvider  string
	GoogleMapsAPIKey string
	ORSAPIKey        string
	OSRMBaseURL      string
	HTTPTimeout      time.Duration

	// Fixed commute points. Nil when not configured.
	Origin      *commute.Coordinate
	Destination *commute.Coordinate

	// Resolved with the geocoder when the matching coordinate is nil.
	OriginAddress      string
	DestinationAddress string
	GeocoderAPIKey     string

	IdealRatio float64

	NATSURL           string
	NATSSubjectPrefix string
}

// Load reads configuration from environment with sensible defaults.
// Callers load any .env file beforehand.
func Load() (*AppConfig, error) {
	cfg := &AppConfig{}

	cfg.Port = getenvDefault("PORT", "8080")
	cfg.Debug = getenvBool("DEBUG", false)

	cfg.RoutingProvider = strings.ToLower(getenvDefault("ROUTING_PROVIDER", "osrm"))
	switch cfg.RoutingProvider {
	case "google", "osrm", "ors", "none":
	default:
		return nil, fmt.Errorf("invalid ROUTING_PROVIDER %q", cfg.RoutingProvider)
	}
	cfg.GoogleMapsAPIKey = os.Getenv("GOOGLE_MAPS_API_KEY")
	cfg.ORSAPIKey = os.Getenv("ORS_API_KEY")
	cfg.OSRMBaseURL = getenvDefault("OSRM_BASE_URL", "https://router.project-osrm.org")

	timeout, err := time.ParseDuration(getenvDefault("HTTP_TIMEOUT", "5s"))
	if err != nil {
		return nil, fmt.Errorf("invalid HTTP_TIMEOUT: %w", err)
	}
	cfg.HTTPTimeout = timeout

	if cfg.Origin, err = loadCoordinate("COMMUTE_ORIGIN"); err != nil {
		return nil, err
	}
	if cfg.Destination, err = loadCoordinate("COMMUTE_DESTINATION"); err != nil {
		return nil, err
	}
	cfg.OriginAddress = strings.TrimSpace(os.Getenv("COMMUTE_ORIGIN_ADDRESS"))
	cfg.DestinationAddress = strings.TrimSpace(os.Getenv("COMMUTE_DESTINATION_ADDRESS"))
	cfg.GeocoderAPIKey = os.Getenv("GEOCODER_API_KEY")

	ratio, err := getenvFloat("COMMUTE_IDEAL_RATIO", commute.DefaultIdealRatio)
	if err != nil {
		return nil, err
	}
	if ratio <= 0 || ratio > 1 {
		return nil, fmt.Errorf("invalid COMMUTE_IDEAL_RATIO %v: must be in (0,1]", ratio)
	}
	cfg.IdealRatio = ratio

	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.NATSSubjectPrefix = getenvDefault("NATS_SUBJECT_PREFIX", "commute")

	return cfg, nil
}

// loadCoordinate reads <prefix>_LAT and <prefix>_LON. Both unset yields nil.
func loadCoordinate(prefix string) (*commute.Coordinate, error) {
	latStr := strings.TrimSpace(os.Getenv(prefix + "_LAT"))
	lonStr := strings.TrimSpace(os.Getenv(prefix + "_LON"))
	if latStr == "" && lonStr == "" {
		return nil, nil
	}
	if latStr == "" || lonStr == "" {
		return nil, fmt.Errorf("%s: %w", prefix, errHalfCoordinate)
	}

	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s_LAT: %w", prefix, err)
	}
	lon, err := strconv.ParseFloat(lonStr, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s_LON: %w", prefix, err)
	}

	c := commute.Coordinate{Lat: lat, Lon: lon}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", prefix, err)
	}
	return &c, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getenvFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}
