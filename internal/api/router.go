/**
 * @description
 * This file sets up the HTTP router for the sweep-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies
 * the standard middleware stack plus the internal API key check.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// SweepRoutes creates and returns a new router for the sweep service.
func SweepRoutes(h *SweepHandlers, internalAPIKey string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Group routes that require the internal API key.
	r.Group(func(r chi.Router) {
		r.Use(InternalAPIKeyMiddleware(internalAPIKey))

		// Market calendar
		r.Get("/market/status", h.MarketStatusHandler)

		// Order scheduling
		r.Post("/orders", h.CreateOrderHandler)
		r.Get("/orders/{orderID}", h.GetOrderHandler)
		r.Post("/orders/{orderID}/cancel", h.CancelOrderHandler)
		r.Post("/orders/process", h.ProcessOrdersHandler)
		r.Get("/members/{memberID}/positions", h.MemberPositionsHandler)

		// Batch preparation
		r.Get("/prepare/preview", h.PreviewHandler)
		r.Post("/prepare", h.PrepareHandler)
		r.Get("/prepare/{batchID}/stats", h.BatchStatsHandler)
		r.Get("/prepare/{batchID}/drilldown", h.BatchDrilldownHandler)
		r.Post("/prepare/{batchID}/approve", h.ApproveBatchHandler)
		r.Post("/prepare/{batchID}/discard", h.DiscardBatchHandler)

		// Sweep dispatch
		r.Post("/sweep/run", h.SweepRunHandler)
		r.Get("/sweep/runs", h.SweepRunsHandler)
		r.Get("/sweep/{batchID}/notifications", h.SweepNotificationsHandler)

		// Fund journaling
		r.Post("/journal/run", h.JournalRunHandler)
		r.Get("/journal/{journalID}/status", h.JournalStatusHandler)
	})

	return r
}
