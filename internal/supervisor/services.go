// Tracelight - Clickstream Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracelight

package supervisor

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/tracelight/internal/bus"
	"github.com/tomtom215/tracelight/internal/consumer"
	"github.com/tomtom215/tracelight/internal/logging"
	"github.com/tomtom215/tracelight/internal/session"
)

// HTTPService runs an HTTP server as a suture service with graceful
// shutdown on context cancellation.
type HTTPService struct {
	server          *http.Server
	shutdownTimeout time.Duration
}

// NewHTTPService wraps the given server.
func NewHTTPService(server *http.Server, shutdownTimeout time.Duration) *HTTPService {
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	return &HTTPService{server: server, shutdownTimeout: shutdownTimeout}
}

// Serve implements suture.Service.
func (s *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.ListenAndServe()
	}()

	logging.Info().Str("addr", s.server.Addr).Msg("HTTP server listening")

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		logging.Warn().Err(err).Msg("HTTP server shutdown did not complete cleanly")
	}
	logging.Info().Msg("HTTP server stopped")
	return ctx.Err()
}

// String implements fmt.Stringer for supervisor log messages.
func (s *HTTPService) String() string {
	return "http-server"
}

// ConsumerService runs the event consumer fleet.
type ConsumerService struct {
	runner *consumer.Runner
}

// NewConsumerService wraps the given runner.
func NewConsumerService(runner *consumer.Runner) *ConsumerService {
	return &ConsumerService{runner: runner}
}

// Serve implements suture.Service. Run blocks until the context is
// canceled or the subscription setup fails, in which case suture
// restarts the service.
func (s *ConsumerService) Serve(ctx context.Context) error {
	logging.Info().Msg("Starting event consumers")
	err := s.runner.Run(ctx)
	logging.Info().Msg("Event consumers stopped")
	return err
}

func (s *ConsumerService) String() string {
	return "event-consumers"
}

// NATSService runs the embedded NATS server. The server is started
// eagerly by the caller so its client URL is available before the tree
// serves; this wrapper owns the shutdown.
type NATSService struct {
	server          *bus.EmbeddedServer
	shutdownTimeout time.Duration
}

// NewNATSService wraps an already-running embedded server.
func NewNATSService(server *bus.EmbeddedServer, shutdownTimeout time.Duration) *NATSService {
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	return &NATSService{server: server, shutdownTimeout: shutdownTimeout}
}

// Serve implements suture.Service.
func (s *NATSService) Serve(ctx context.Context) error {
	if !s.server.IsRunning() {
		return errors.New("embedded NATS server is not running")
	}
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		logging.Warn().Err(err).Msg("Embedded NATS shutdown did not complete cleanly")
	}
	return ctx.Err()
}

func (s *NATSService) String() string {
	return "embedded-nats"
}

// JanitorService periodically sweeps expired session state.
type JanitorService struct {
	aggregator *session.Aggregator
	interval   time.Duration
}

// NewJanitorService creates the sweep loop.
func NewJanitorService(aggregator *session.Aggregator, interval time.Duration) *JanitorService {
	if interval <= 0 {
		interval = time.Minute
	}
	return &JanitorService{aggregator: aggregator, interval: interval}
}

// Serve implements suture.Service.
func (s *JanitorService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if removed := s.aggregator.Sweep(); removed > 0 {
				logging.Debug().
					Int("removed", removed).
					Int("live", s.aggregator.Len()).
					Msg("Swept expired sessions")
			}
		}
	}
}

func (s *JanitorService) String() string {
	return "session-janitor"
}

// BadgerGCService runs periodic value log garbage collection on the
// rate limit store. Badger does not reclaim value log space on its own.
type BadgerGCService struct {
	db       *badger.DB
	interval time.Duration
}

// NewBadgerGCService creates the GC loop.
func NewBadgerGCService(db *badger.DB, interval time.Duration) *BadgerGCService {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &BadgerGCService{db: db, interval: interval}
}

// Serve implements suture.Service.
func (s *BadgerGCService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			// A single pass per tick; ErrNoRewrite means nothing to do.
			err := s.db.RunValueLogGC(0.5)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				logging.Warn().Err(err).Msg("Badger value log GC failed")
			}
		}
	}
}

func (s *BadgerGCService) String() string {
	return "ratelimit-store-gc"
}
