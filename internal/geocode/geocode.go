// Package geocode resolves free-form addresses to coordinates with the Google
// Geocoding API.
package geocode

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/kelvins/geocoder"

	"github.com/i474232898/commute-telemetry/internal/commute"
)

var (
	errEmptyAddress = errors.New("address is empty")
	errNoAPIKey     = errors.New("geocoder api key is not configured")
)

// lookupFunc matches geocoder.Geocoding.
type lookupFunc func(geocoder.Address) (geocoder.Location, error)

// Resolver turns addresses into commute coordinates.
type Resolver struct {
	lookup lookupFunc
}

// keyMu guards geocoder.ApiKey, which the library keeps as a package variable
// and reads on every call. It is held for the whole lookup.
var keyMu sync.Mutex

// NewResolver returns a Resolver that geocodes with apiKey.
func NewResolver(apiKey string) (*Resolver, error) {
	if apiKey == "" {
		return nil, errNoAPIKey
	}
	return &Resolver{lookup: withKey(apiKey, geocoder.Geocoding)}, nil
}

func withKey(apiKey string, lookup lookupFunc) lookupFunc {
	return func(a geocoder.Address) (geocoder.Location, error) {
		keyMu.Lock()
		defer keyMu.Unlock()
		geocoder.ApiKey = apiKey
		return lookup(a)
	}
}

// Resolve looks up address. The library call is not cancellable; ctx only
// bounds how long the caller waits for it.
func (r *Resolver) Resolve(ctx context.Context, address string) (commute.Coordinate, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return commute.Coordinate{}, errEmptyAddress
	}

	type result struct {
		loc geocoder.Location
		err error
	}
	ch := make(chan result, 1)
	go func() {
		loc, err := r.lookup(geocoder.Address{Street: address})
		ch <- result{loc: loc, err: err}
	}()

	var res result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return commute.Coordinate{}, fmt.Errorf("geocode %q: %w", address, ctx.Err())
	}
	if res.err != nil {
		return commute.Coordinate{}, fmt.Errorf("geocode %q: %w", address, res.err)
	}

	c := commute.Coordinate{Lat: res.loc.Latitude, Lon: res.loc.Longitude}
	if err := c.Validate(); err != nil {
		return commute.Coordinate{}, fmt.Errorf("geocode %q: %w", address, err)
	}
	return c, nil
}
