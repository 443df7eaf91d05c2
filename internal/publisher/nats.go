package publisher

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/i474232898/commute-telemetry/internal/commute"
)

// conn is the slice of *nats.Conn the publisher needs.
type conn interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher is a commute.Sink that publishes every snapshot as JSON.
type NATSPublisher struct {
	nc      *nats.Conn
	pub     conn
	prefix  string
	logger  *zap.SugaredLogger
	metrics PublisherMetrics
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

func NewNATSPublisher(url, prefix string, logger *zap.SugaredLogger, m PublisherMetrics) (*NATSPublisher, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	logger = logger.With("component", "publisher.nats")

	nc, err := nats.Connect(url,
		nats.Name("commute-telemetry"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Warnw("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			logger.Infow("nats reconnected", "url", c.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Infow("nats closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	if m != nil {
		m.NATSSetConnected(true)
	}

	p := newPublisher(nc, prefix, logger, m)
	p.nc = nc
	return p, nil
}

func newPublisher(c conn, prefix string, logger *zap.SugaredLogger, m PublisherMetrics) *NATSPublisher {
	if prefix == "" {
		prefix = "commute"
	}
	return &NATSPublisher{pub: c, prefix: prefix, logger: logger, metrics: m}
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
		p.nc.Close()
	}
}

type EstimateMessage struct {
	Origin      commute.Coordinate      `json:"origin"`
	Destination commute.Coordinate      `json:"destination"`
	Estimate    commute.CommuteEstimate `json:"estimate"`
}

// Subject returns the subject snapshots for the route are published on.
func (p *NATSPublisher) Subject(route commute.Route) string {
	return fmt.Sprintf("%s.%s", p.prefix, subjectToken(route.Key()))
}

// PublishEstimate implements commute.Sink.
func (p *NATSPublisher) PublishEstimate(route commute.Route, est commute.CommuteEstimate) error {
	subject := p.Subject(route)
	b, err := json.Marshal(EstimateMessage{
		Origin:      route.Origin,
		Destination: route.Destination,
		Estimate:    est,
	})
	if err != nil {
		return err
	}

	start := time.Now()
	err = p.pub.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	if err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	p.logger.Debugw("nats publish", "subject", subject)
	return nil
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_", ",", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
