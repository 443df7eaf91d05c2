package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/i474232898/commute-telemetry/internal/commute"
)

type Collector struct {
	reg *prometheus.Registry

	Ticks           *prometheus.CounterVec // source label: primary|fallback
	PrimaryFailures *prometheus.CounterVec // reason label: timeout|error
	PrimaryDuration prometheus.Histogram

	DurationMinutes prometheus.Gauge
	DeltaMinutes    prometheus.Gauge
	RouteStatus     *prometheus.GaugeVec // status label, 1 for the current status
	LastUpdate      prometheus.Gauge

	ActiveSubscriptions prometheus.Gauge

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge
	PublishDuration prometheus.Histogram

	IdealRatio prometheus.Gauge
}

func NewCollector(idealRatio float64) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		Ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "commute_ticks_total",
			Help: "Estimates published, by source.",
		}, []string{"source"}),
		PrimaryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "commute_primary_failures_total",
			Help: "Primary provider calls that fell back, by reason.",
		}, []string{"reason"}),
		PrimaryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "commute_primary_duration_seconds",
			Help:    "Latency of primary provider calls, including timeouts.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
		DurationMinutes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "commute_duration_minutes",
			Help: "Latest estimated commute duration in minutes.",
		}),
		DeltaMinutes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "commute_delta_minutes",
			Help: "Latest difference between estimated and ideal duration in minutes.",
		}),
		RouteStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "commute_route_status",
			Help: "1 for the current status of the route sector, 0 otherwise.",
		}, []string{"status"}),
		LastUpdate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "commute_last_update_timestamp_seconds",
			Help: "Unix time of the latest published estimate.",
		}),
		ActiveSubscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "commute_active_subscriptions",
			Help: "Number of running commute subscriptions.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "commute_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "commute_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "commute_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "commute_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		IdealRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "commute_ideal_ratio",
			Help: "Free-flow baseline ratio applied to estimates.",
		}),
	}

	reg.MustRegister(
		c.Ticks, c.PrimaryFailures, c.PrimaryDuration,
		c.DurationMinutes, c.DeltaMinutes, c.RouteStatus, c.LastUpdate,
		c.ActiveSubscriptions,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected, c.PublishDuration,
		c.IdealRatio,
	)

	c.IdealRatio.Set(idealRatio)

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Registry exposes the private registry, mostly for tests.
func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// ObservePrimary records one primary call. Calls cut short by Stop are not
// provider outcomes and are skipped.
func (c *Collector) ObservePrimary(elapsed time.Duration, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	c.PrimaryDuration.Observe(elapsed.Seconds())
	if err == nil {
		return
	}
	reason := "error"
	if errors.Is(err, context.DeadlineExceeded) {
		reason = "timeout"
	}
	c.PrimaryFailures.WithLabelValues(reason).Inc()
}

// ObserveEstimate records a published snapshot.
func (c *Collector) ObserveEstimate(est commute.CommuteEstimate) {
	c.Ticks.WithLabelValues(string(est.Source)).Inc()
	c.DurationMinutes.Set(float64(est.DurationMinutes))
	c.DeltaMinutes.Set(deltaMinutes(est.DeltaLabel))
	c.LastUpdate.Set(float64(est.UpdatedAt.Unix()))

	current := est.MiddleStatus()
	for _, s := range []commute.Status{commute.StatusPurple, commute.StatusGreen, commute.StatusYellow, commute.StatusRed} {
		v := 0.0
		if s == current {
			v = 1
		}
		c.RouteStatus.WithLabelValues(string(s)).Set(v)
	}
}

func (c *Collector) SetActiveSubscriptions(n int) { c.ActiveSubscriptions.Set(float64(n)) }

func (c *Collector) NATSPublishedInc()              { c.NATSPublished.Inc() }
func (c *Collector) NATSPublishErrInc()             { c.NATSPublishErrs.Inc() }
func (c *Collector) PublishObserve(d time.Duration) { c.PublishDuration.Observe(d.Seconds()) }

func (c *Collector) NATSSetConnected(connected bool) {
	if connected {
		c.NATSConnected.Set(1)
		return
	}
	c.NATSConnected.Set(0)
}

// deltaMinutes parses "+3m" / "-2m" labels back to a number.
func deltaMinutes(label string) float64 {
	n, err := strconv.Atoi(strings.TrimSuffix(label, "m"))
	if err != nil {
		return 0
	}
	return float64(n)
}
