// Tracelight - Clickstream Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracelight

// Package main is the entry point for the Tracelight server.
//
// Tracelight ingests clickstream event batches over HTTP, fans them out
// per event category through NATS JetStream, and lands normalized rows
// plus per-session aggregates in DuckDB.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: environment variables and optional YAML file (Koanf v2)
//  2. Database: DuckDB with the columnar event and session schema
//  3. Rate limit store: Badger (persistent) or in-memory counters
//  4. NATS: embedded JetStream server by default, or an external cluster
//  5. Event stream: idempotent stream provisioning
//  6. Publisher, ingest router, and HTTP API
//  7. Durable queue-group consumers and the session aggregator
//  8. Supervisor tree: broker, pipeline, and API layers under suture
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger graceful shutdown: the HTTP server drains
// in-flight requests, the publisher flushes its queue, consumers stop,
// and storage is closed.
//
// # Example Usage
//
// Single binary with embedded NATS (default):
//
//	export DUCKDB_PATH=/data/tracelight.duckdb
//	./tracelight
//
// Against an external NATS cluster:
//
//	export NATS_EMBEDDED=false
//	export NATS_URL=nats://nats.internal:4222
//	./tracelight
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"
	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/tomtom215/tracelight/internal/api"
	"github.com/tomtom215/tracelight/internal/bus"
	"github.com/tomtom215/tracelight/internal/config"
	"github.com/tomtom215/tracelight/internal/consumer"
	"github.com/tomtom215/tracelight/internal/database"
	"github.com/tomtom215/tracelight/internal/events"
	"github.com/tomtom215/tracelight/internal/ingest"
	"github.com/tomtom215/tracelight/internal/logging"
	"github.com/tomtom215/tracelight/internal/ratelimit"
	"github.com/tomtom215/tracelight/internal/session"
	"github.com/tomtom215/tracelight/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	logging.Info().
		Str("db_path", cfg.Database.Path).
		Bool("nats_embedded", cfg.NATS.Embedded).
		Bool("rate_limit", cfg.RateLimit.Enabled).
		Msg("Configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logging.Fatal().Err(err).Msg("Server exited with error")
	}
	logging.Info().Msg("Shutdown complete")
}

//nolint:gocyclo // Sequential component wiring.
func run(ctx context.Context, cfg *config.Config) error {
	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()
	logging.Info().Msg("Database initialized")

	// Rate limit counter store.
	var counter ratelimit.Counter
	var badgerDB *badger.DB
	if cfg.RateLimit.Enabled {
		switch cfg.RateLimit.Store {
		case "badger":
			opts := badger.DefaultOptions(cfg.RateLimit.StorePath).WithLogger(nil)
			badgerDB, err = badger.Open(opts)
			if err != nil {
				return fmt.Errorf("open rate limit store: %w", err)
			}
			defer func() {
				if err := badgerDB.Close(); err != nil {
					logging.Error().Err(err).Msg("Error closing rate limit store")
				}
			}()
			counter, err = ratelimit.NewBadgerCounter(badgerDB)
			if err != nil {
				return fmt.Errorf("create rate limit counter: %w", err)
			}
		case "memory":
			counter = ratelimit.NewMemoryCounter()
		}
	}
	limiter, err := ratelimit.NewLimiter(counter, cfg.RateLimit.Limiter())
	if err != nil {
		return fmt.Errorf("create rate limiter: %w", err)
	}

	// Broker: embedded server by default, external cluster otherwise.
	natsURL := cfg.NATS.URL
	var embedded *bus.EmbeddedServer
	if cfg.NATS.Embedded {
		embedded, err = bus.NewEmbeddedServer(cfg.NATS.Server())
		if err != nil {
			return fmt.Errorf("start embedded NATS: %w", err)
		}
		natsURL = embedded.ClientURL()
		logging.Info().Str("url", natsURL).Msg("Embedded NATS server started")
	}

	nc, err := natsgo.Connect(natsURL,
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("create JetStream context: %w", err)
	}

	streamInit, err := bus.NewStreamInitializer(js, cfg.NATS.Stream())
	if err != nil {
		return fmt.Errorf("create stream initializer: %w", err)
	}
	provisionCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	_, err = streamInit.EnsureStream(provisionCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("provision event stream: %w", err)
	}
	logging.Info().Str("stream", cfg.NATS.Stream().Name).Msg("Event stream provisioned")

	busLogger := bus.NewLoggerAdapter()

	publisherCfg := cfg.NATS.Publisher()
	publisherCfg.URL = natsURL
	publisher, err := bus.NewPublisher(publisherCfg, busLogger)
	if err != nil {
		return fmt.Errorf("create publisher: %w", err)
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing publisher")
		}
	}()

	subscriberCfg := cfg.NATS.Subscriber()
	subscriberCfg.URL = natsURL
	subscriber, err := bus.NewSubscriber(subscriberCfg, busLogger)
	if err != nil {
		return fmt.Errorf("create subscriber: %w", err)
	}
	defer func() {
		if err := subscriber.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing subscriber")
		}
	}()

	// Consumer side: normalization handlers plus session aggregation.
	aggregator := session.NewAggregator(db, cfg.Session)
	runner := consumer.NewRunner(subscriber)
	runner.Register(events.GroupPage, consumer.NewPageHandler(db, aggregator))
	runner.Register(events.GroupInteraction, consumer.NewInteractionHandler(db))
	runner.Register(events.GroupForm, consumer.NewFormHandler(db))
	runner.Register(events.GroupEcommerce, consumer.NewEcommerceHandler(db))

	// Ingest side: HTTP edge routing batches into the bus.
	router := ingest.NewRouter(limiter, publisher)
	checks := []api.ReadyCheck{
		{Name: "database", Check: db.Ping},
		{Name: "broker", Check: func(ctx context.Context) error {
			if nc.Status() != natsgo.CONNECTED {
				return fmt.Errorf("NATS connection status %s", nc.Status())
			}
			return nil
		}},
		{Name: "stream", Check: func(ctx context.Context) error {
			if !streamInit.IsHealthy(ctx) {
				return errors.New("event stream unavailable")
			}
			return nil
		}},
	}
	if badgerDB != nil {
		checks = append(checks, api.ReadyCheck{Name: "ratelimit_store", Check: func(ctx context.Context) error {
			if badgerDB.IsClosed() {
				return errors.New("rate limit store closed")
			}
			return nil
		}})
	}
	handler := api.NewHandler(router, checks...)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.Routes(cfg.Server, handler),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Supervision: broker, pipeline, and API layers restart independently.
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if embedded != nil {
		tree.AddBrokerService(supervisor.NewNATSService(embedded, cfg.Server.ShutdownTimeout))
	}
	tree.AddPipelineService(supervisor.NewConsumerService(runner))
	tree.AddPipelineService(supervisor.NewJanitorService(aggregator, cfg.Session.SweepInterval))
	if badgerDB != nil {
		tree.AddPipelineService(supervisor.NewBadgerGCService(badgerDB, 10*time.Minute))
	}
	tree.AddAPIService(supervisor.NewHTTPService(httpServer, cfg.Server.ShutdownTimeout))

	logging.Info().
		Str("addr", httpServer.Addr).
		Msg("Starting supervisor tree")

	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
