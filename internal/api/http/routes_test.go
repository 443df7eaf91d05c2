package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/i474232898/commute-telemetry/internal/commute"
	"github.com/i474232898/commute-telemetry/internal/store"
)

type fixedProvider struct{ seconds float64 }

func (p fixedProvider) EstimateSeconds(context.Context, commute.Coordinate, commute.Coordinate) (float64, error) {
	return p.seconds, nil
}

func newTestApp(t *testing.T) (*fiber.App, *commute.Service) {
	t.Helper()
	logger := zap.NewNop().Sugar()
	engine := commute.NewEngine(fixedProvider{seconds: 600}, logger, commute.WithInterval(time.Hour))
	svc := commute.NewService(engine, store.NewMemoryStore(), logger)
	t.Cleanup(svc.Close)

	app := fiber.New()
	RegisterRoutes(app, svc)
	return app, svc
}

func decodeEstimate(t *testing.T, resp *http.Response) commute.CommuteEstimate {
	t.Helper()
	defer resp.Body.Close()
	var est commute.CommuteEstimate
	if err := json.NewDecoder(resp.Body).Decode(&est); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return est
}

// TestCommuteIdleReturnsPlaceholder verifies the dashboard gets the pending
// snapshot before any route is configured.
func TestCommuteIdleReturnsPlaceholder(t *testing.T) {
	app, _ := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/commute", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}

	est := decodeEstimate(t, resp)
	if est.DeltaLabel != commute.PendingDelta {
		t.Fatalf("expected %q, got %q", commute.PendingDelta, est.DeltaLabel)
	}

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/commute/route", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, resp.StatusCode)
	}
}

func TestPutRouteValidation(t *testing.T) {
	app, _ := newTestApp(t)

	bodies := []string{
		`not json`,
		`{}`,
		`{"origin":{"lat":10,"lon":10}}`,
		`{"origin":{"lat":91,"lon":10},"destination":{"lat":0,"lon":0}}`,
		`{"origin":{"lat":10,"lon":10},"destination":{"lat":0,"lon":-181}}`,
		`{"origin":{"lon":10},"destination":{"lat":0,"lon":0}}`,
	}

	for _, body := range bodies {
		req := httptest.NewRequest(http.MethodPut, "/api/v1/commute/route", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("body %s: expected status %d, got %d", body, http.StatusBadRequest, resp.StatusCode)
		}
	}
}

func TestPutRouteStartsTracking(t *testing.T) {
	app, svc := newTestApp(t)

	body := `{"origin":{"lat":0,"lon":0},"destination":{"lat":0.1,"lon":0.1}}`
	req := httptest.NewRequest(http.MethodPut, "/api/v1/commute/route", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected status %d, got %d", http.StatusAccepted, resp.StatusCode)
	}
	resp.Body.Close()

	route, ok := svc.Route()
	if !ok || route.Destination.Lat != 0.1 {
		t.Fatalf("expected tracked route, got %+v (ok=%v)", route, ok)
	}

	// The first tick runs immediately; wait for it to land.
	deadline := time.Now().Add(2 * time.Second)
	var est commute.CommuteEstimate
	for time.Now().Before(deadline) {
		resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/commute", nil))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		est = decodeEstimate(t, resp)
		if est.Source == commute.SourcePrimary {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if est.DurationMinutes != 10 || est.DeltaLabel != "+1m" || est.MiddleStatus() != commute.StatusYellow {
		t.Fatalf("unexpected estimate %+v", est)
	}

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/commute/route", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}
}

func TestDeleteRouteStopsTracking(t *testing.T) {
	app, svc := newTestApp(t)

	o := commute.Coordinate{Lat: 1, Lon: 1}
	d := commute.Coordinate{Lat: 2, Lon: 2}
	if err := svc.Track(&o, &d); err != nil {
		t.Fatalf("track: %v", err)
	}

	resp, err := app.Test(httptest.NewRequest(http.MethodDelete, "/api/v1/commute/route", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, resp.StatusCode)
	}

	if _, ok := svc.Route(); ok {
		t.Fatal("expected no tracked route after delete")
	}

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/commute", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if est := decodeEstimate(t, resp); est.DeltaLabel != commute.PendingDelta {
		t.Fatalf("expected placeholder after delete, got %+v", est)
	}
}

func TestCommuteMsgpack(t *testing.T) {
	app, _ := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/commute?format=msgpack", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-msgpack" {
		t.Fatalf("expected msgpack content type, got %q", ct)
	}

	var got map[string]any
	dec := msgpack.NewDecoder(resp.Body)
	if err := dec.Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["deltaLabel"] != commute.PendingDelta {
		t.Fatalf("expected json tag names in msgpack payload, got %v", got)
	}
}
