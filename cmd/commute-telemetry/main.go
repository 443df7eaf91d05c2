package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	httpapi "github.com/i474232898/commute-telemetry/internal/api/http"
	"github.com/i474232898/commute-telemetry/internal/commute"
	"github.com/i474232898/commute-telemetry/internal/commute/providers"
	"github.com/i474232898/commute-telemetry/internal/config"
	"github.com/i474232898/commute-telemetry/internal/geocode"
	"github.com/i474232898/commute-telemetry/internal/log"
	"github.com/i474232898/commute-telemetry/internal/metrics"
	"github.com/i474232898/commute-telemetry/internal/publisher"
	"github.com/i474232898/commute-telemetry/internal/store"
)

func main() {
	envErr := godotenv.Load()

	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		log.GetSugaredLogger().Fatalf("failed to load config: %v", err)
	}

	if err := log.Init(cfg.Debug); err != nil {
		panic(err)
	}
	defer log.Sync()
	logger := log.GetSugaredLogger()
	if envErr != nil {
		logger.Infow("no .env file loaded", "error", envErr)
	}

	// Shared HTTP client for outbound provider calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	provider, err := providers.New(cfg.RoutingProvider, httpClient, providers.Settings{
		GoogleAPIKey: cfg.GoogleMapsAPIKey,
		ORSAPIKey:    cfg.ORSAPIKey,
		OSRMBaseURL:  cfg.OSRMBaseURL,
	})
	if err != nil {
		logger.Fatalf("failed to create routing provider: %v", err)
	}
	if provider == nil {
		logger.Warnw("no routing provider; every estimate uses the straight-line fallback")
	}

	collector := metrics.NewCollector(cfg.IdealRatio)

	// Live dashboards get every snapshot over WebSocket.
	hub := httpapi.NewStreamHub(logger)
	sinks := []commute.Sink{hub}
	if cfg.NATSURL != "" {
		pub, err := publisher.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubjectPrefix, logger, collector)
		if err != nil {
			logger.Warnw("nats publishing disabled", "url", cfg.NATSURL, "error", err)
		} else {
			defer pub.Close()
			sinks = append(sinks, pub)
		}
	}

	engine := commute.NewEngine(provider, logger,
		commute.WithIdealRatio(cfg.IdealRatio),
		commute.WithObserver(collector),
	)

	// Core service orchestrating the engine, store and sinks.
	service := commute.NewService(engine, store.NewMemoryStore(), logger, sinks...)
	defer service.Close()

	origin, destination := resolvePoints(cfg)
	if err := service.Track(origin, destination); err != nil {
		logger.Fatalf("failed to start commute tracking: %v", err)
	}

	// Basic app configuration
	app := fiber.New(fiber.Config{
		AppName:               "commute-telemetry",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	// Global middleware
	app.Use(fiberlogger.New())
	app.Use(recover.New())

	// Basic health endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "commute-telemetry",
		})
	})

	app.Get("/metrics", adaptor.HTTPHandler(collector.Handler()))

	// API routes.
	httpapi.RegisterRoutes(app, service)
	httpapi.RegisterStream(app, hub, service)

	go func() {
		logger.Infow("http server listening", "port", cfg.Port)
		if err := app.Listen(":" + cfg.Port); err != nil {
			logger.Errorw("fiber server stopped", "error", err)
		}
	}()

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Errorw("error during shutdown", "error", err)
	}
}

// resolvePoints returns the configured coordinates, geocoding addresses for any
// point that has none. A point that cannot be resolved stays nil.
func resolvePoints(cfg *config.AppConfig) (*commute.Coordinate, *commute.Coordinate) {
	origin, destination := cfg.Origin, cfg.Destination
	if (origin != nil || cfg.OriginAddress == "") && (destination != nil || cfg.DestinationAddress == "") {
		return origin, destination
	}

	logger := log.GetSugaredLogger()
	resolver, err := geocode.NewResolver(cfg.GeocoderAPIKey)
	if err != nil {
		logger.Warnw("cannot geocode commute addresses", "error", err)
		return origin, destination
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resolve := func(label, address string) *commute.Coordinate {
		c, err := resolver.Resolve(ctx, address)
		if err != nil {
			logger.Warnw("geocoding failed", "point", label, "address", address, "error", err)
			return nil
		}
		logger.Infow("geocoded commute point", "point", label, "coordinate", c.String())
		return &c
	}

	if origin == nil && cfg.OriginAddress != "" {
		origin = resolve("origin", cfg.OriginAddress)
	}
	if destination == nil && cfg.DestinationAddress != "" {
		destination = resolve("destination", cfg.DestinationAddress)
	}
	return origin, destination
}
