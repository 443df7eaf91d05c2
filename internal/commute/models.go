package commute

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidCoordinate is returned when a latitude or longitude is outside its valid range.
var ErrInvalidCoordinate = errors.New("invalid coordinate")

// Coordinate is an immutable geographic point in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Validate checks lat ∈ [-90,90] and lon ∈ [-180,180].
func (c Coordinate) Validate() error {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lon) {
		return fmt.Errorf("%w: not a number", ErrInvalidCoordinate)
	}
	if c.Lat < -90 || c.Lat > 90 {
		return fmt.Errorf("%w: latitude %v must be between -90 and 90", ErrInvalidCoordinate, c.Lat)
	}
	if c.Lon < -180 || c.Lon > 180 {
		return fmt.Errorf("%w: longitude %v must be between -180 and 180", ErrInvalidCoordinate, c.Lon)
	}
	return nil
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lon)
}

// Route is the fixed origin/destination pair tracked by a subscription.
type Route struct {
	Origin      Coordinate `json:"origin"`
	Destination Coordinate `json:"destination"`
}

// Key returns a canonical string key for indexing this route in stores.
func (r Route) Key() string {
	return r.Origin.String() + "->" + r.Destination.String()
}

// Status is the display classification of a sector.
type Status string

const (
	StatusPurple Status = "PURPLE"
	StatusGreen  Status = "GREEN"
	StatusYellow Status = "YELLOW"
	StatusRed    Status = "RED"
)

// Source tells which branch of the tick produced an estimate.
type Source string

const (
	SourcePending  Source = "pending"
	SourcePrimary  Source = "primary"
	SourceFallback Source = "fallback"
)

// PendingDelta is the delta label shown before the first tick resolves.
const PendingDelta = "SYNC..."

// Sector is one of the three fixed legs of the route.
type Sector struct {
	ID     int    `json:"id"`
	Label  string `json:"label"`
	Status Status `json:"status"`
}

// CommuteEstimate is the snapshot published on every tick. It is replaced
// wholesale, never merged.
type CommuteEstimate struct {
	DurationMinutes int       `json:"durationMinutes"`
	DeltaLabel      string    `json:"deltaLabel"`
	Sectors         [3]Sector `json:"sectors"`

	Source    Source    `json:"source"`
	Provider  string    `json:"provider,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// MiddleStatus returns the status of the sector that reflects live traffic.
func (e CommuteEstimate) MiddleStatus() Status {
	return e.Sectors[1].Status
}

// Placeholder is the snapshot held before the first tick completes.
func Placeholder() CommuteEstimate {
	return CommuteEstimate{
		DurationMinutes: 0,
		DeltaLabel:      PendingDelta,
		Sectors: [3]Sector{
			{ID: 1, Label: "SECTOR 1", Status: StatusPurple},
			{ID: 2, Label: "SECTOR 2", Status: StatusPurple},
			{ID: 3, Label: "SECTOR 3", Status: StatusPurple},
		},
		Source: SourcePending,
	}
}

// NewEstimate builds a published snapshot. Only the middle sector carries the
// classification; the exit and entry legs are held uncontested.
func NewEstimate(minutes int, label string, status Status, source Source, provider string, at time.Time) CommuteEstimate {
	if minutes < 0 {
		minutes = 0
	}
	return CommuteEstimate{
		DurationMinutes: minutes,
		DeltaLabel:      label,
		Sectors: [3]Sector{
			{ID: 1, Label: "EXIT", Status: StatusPurple},
			{ID: 2, Label: "ROUTE", Status: status},
			{ID: 3, Label: "ENTRY", Status: StatusPurple},
		},
		Source:    source,
		Provider:  provider,
		UpdatedAt: at.UTC(),
	}
}
