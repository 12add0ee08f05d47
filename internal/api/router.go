/**
 * @description
 * This file sets up the HTTP router for the purchase-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
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

// PurchaseRoutes creates and returns a new router for the purchase service.
func PurchaseRoutes(h *PurchaseHandlers, internalAPIKey string) http.Handler {
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

	// Biller callbacks authenticate through biller-specific signatures inside
	// the adapters, not through the internal API key.
	r.Post("/callbacks/{billerName}", h.BillerCallbackHandler)

	// Group routes that require the internal API key.
	r.Group(func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalAPIKey))

		r.Post("/purchases", h.PurchaseHandler)
		r.Get("/purchases/{sessionID}", h.GetSessionHandler)

		// 3DS sub-flow endpoints
		r.Post("/purchases/{sessionID}/threeds/lookup", h.ThreeDSLookupHandler)
		r.Post("/purchases/{sessionID}/threeds/complete", h.ThreeDSCompleteHandler)
		r.Post("/purchases/{sessionID}/threeds/simplified-complete", h.ThreeDSSimplifiedCompleteHandler)

		// Direct biller operations
		r.Get("/transactions/{billerName}/{transactionID}", h.RetrieveTransactionHandler)
		r.Post("/transactions/{billerName}/{transactionID}/abort", h.AbortTransactionHandler)
		r.Post("/transactions/{billerName}/{transactionID}/rebill", h.RebillTransactionHandler)
	})

	return r
}
