// Tracelight - Clickstream Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracelight

// Package api provides HTTP routing using the Chi router.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/tracelight/internal/ingest"
	"github.com/tomtom215/tracelight/internal/logging"
	"github.com/tomtom215/tracelight/internal/ratelimit"
)

// maxBodyBytes caps a single batch submission.
const maxBodyBytes = 4 << 20

// identityHeader is accepted on the wire for compatibility; identity is
// resolved from batch content only.
const identityHeader = "X-User-Id"

// ReadyCheck probes one collaborator for the readiness endpoint.
type ReadyCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Handler serves the ingest and health endpoints.
type Handler struct {
	router *ingest.Router
	checks []ReadyCheck
}

// NewHandler creates the HTTP handler set.
func NewHandler(router *ingest.Router, checks ...ReadyCheck) *Handler {
	return &Handler{router: router, checks: checks}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Warn().Err(err).Msg("Failed to write response body")
	}
}

// ReceiveData accepts a JSON array of raw events and routes it onto the bus.
func (h *Handler) ReceiveData(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "failed to read request body",
		})
		return
	}

	res, err := h.router.Route(r.Context(), body, ClientIP(r), r.Header.Get(identityHeader))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "success",
			"processed": res.Processed,
			"skipped":   res.Skipped,
		})
	case errors.Is(err, ratelimit.ErrRateLimited), errors.Is(err, ratelimit.ErrStoreUnavailable):
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error": "Too many requests, try again later",
		})
	case errors.Is(err, ingest.ErrInvalidBatch):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "Invalid request format: expected array",
		})
	default:
		logging.Error().Err(err).Str("client_ip", ClientIP(r)).Msg("Batch routing failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "Internal server error",
		})
	}
}

// Health reports static liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HealthLive is the liveness probe.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// HealthReady probes collaborators. Component failures are reported in the
// body but only a total outage flips the status code, because the event
// path degrades per component rather than as a whole.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	components := make(map[string]string, len(h.checks))
	failed := 0
	for _, check := range h.checks {
		if err := check.Check(ctx); err != nil {
			components[check.Name] = err.Error()
			failed++
			continue
		}
		components[check.Name] = "ok"
	}

	status := http.StatusOK
	state := "ready"
	if len(h.checks) > 0 && failed == len(h.checks) {
		status = http.StatusServiceUnavailable
		state = "unavailable"
	}
	writeJSON(w, status, map[string]any{
		"status":     state,
		"components": components,
	})
}
