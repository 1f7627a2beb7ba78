package rest

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"

	"github.com/mkumbo/billing-gateway/internal/bill"
	"github.com/mkumbo/billing-gateway/internal/callback"
	"github.com/mkumbo/billing-gateway/internal/reconciliation"
	"github.com/mkumbo/billing-gateway/internal/transport/middleware"
	"github.com/mkumbo/billing-gateway/internal/transport/swagger"
)

func RegisterAllRoutes(router *chi.Mux, db *sql.DB, billHandler *bill.Handler, callbackHandler *callback.Handler, reconHandler *reconciliation.Handler, logger *slog.Logger) {
	healthHandler := NewHealthHandler(db)

	// Apply global middleware
	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.RequestID)
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(middleware.RecoveryMiddleware(logger))

	// Serve OpenAPI spec at root (outside API prefix)
	router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "./api/openapi.yml")
	})
	// Swagger UI route at root
	router.Handle("/swagger/*", swagger.Handler())

	// Mount API under /api/v1 to match OpenAPI basePath
	router.Route("/api/v1", func(r chi.Router) {
		// Health check route
		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		if billHandler != nil {
			r.Route("/bills", func(br chi.Router) {
				br.Post("/", billHandler.CreateBill)                    // POST /bills
				br.Get("/{billID}", billHandler.GetBill)                // GET /bills/:billID
				br.Get("/{billID}/status", billHandler.GetBillStatus)   // GET /bills/:billID/status
				br.Get("/{billID}/history", billHandler.GetBillHistory) // GET /bills/:billID/history
				br.Post("/{billID}/resubmit", billHandler.ResubmitBill) // POST /bills/:billID/resubmit
				br.Post("/{billID}/cancel", billHandler.CancelBill)     // POST /bills/:billID/cancel
			})
		}

		// Gateway callbacks: XML in, signed XML ack out, always 200
		if callbackHandler != nil {
			r.Route("/gepg", func(gr chi.Router) {
				gr.Post("/control-number-response", callbackHandler.ControlNumberResponse)
				gr.Post("/payment-notification", callbackHandler.PaymentNotification)
				gr.Post("/reconciliation-response", callbackHandler.ReconciliationResponse)
			})
		}

		if reconHandler != nil {
			r.Route("/reconciliations", func(rr chi.Router) {
				rr.Get("/{date}", reconHandler.GetRun)
				rr.Post("/{date}/close", reconHandler.CloseRun)
			})
		}
	})
}
