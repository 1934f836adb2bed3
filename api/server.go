/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, carried into every log line
  2. RealIP:     Client address behind a proxy
  3. Logger:     zap request logging (status, bytes, duration)
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the billing front end

ROUTE GROUPS:
  /api/accounts/*       Account management, balance, ledger, verification
  /api/obligations/*    Borrow/lend events
  /api/settlements/*    Payments and their reversal
  /api/transfers        Cross-account transfer
  /api/verification/*   Background verifier runs
  /api/scenarios/*      Demo scenarios
  /api/health           Store ping

SECURITY NOTE:
  No authentication middleware. Deploy behind the shop's gateway.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ArasuRever/aurum-ledger/logger"
)

var defaultOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured. An empty
// allowOrigins falls back to the local development origins.
func NewRouter(h *Handler, allowOrigins []string) *chi.Mux {
	if len(allowOrigins) == 0 {
		allowOrigins = defaultOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", HeaderIdempotencyKey},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", h.ListAccounts)
			r.Post("/", h.CreateAccount)
			r.Get("/{id}", h.GetAccount)
			r.Delete("/{id}", h.DeleteAccount)
			r.Get("/{id}/balance", h.GetBalance)
			r.Get("/{id}/ledger", h.GetLedger)
			r.Get("/{id}/obligations", h.ListAccountObligations)
			r.Get("/{id}/verify", h.VerifyAccount)
		})

		r.Route("/obligations", func(r chi.Router) {
			r.Post("/", h.CreateObligation)
			r.Get("/{id}", h.GetObligation)
			r.Put("/{id}", h.EditObligation)
			r.Delete("/{id}", h.ReverseObligation)
		})

		r.Route("/settlements", func(r chi.Router) {
			r.Post("/", h.CreateSettlement)
			r.Get("/{id}", h.GetSettlement)
			r.Post("/{id}/reverse", h.ReverseSettlement)
		})

		r.Post("/transfers", h.CreateTransfer)

		r.Route("/verification", func(r chi.Router) {
			r.Get("/runs", h.ListVerificationRuns)
			r.Post("/run", h.TriggerVerification)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}

// requestLogger logs one line per request and puts log in the context, so
// logger.FromContext in handlers carries the same request_id.
func requestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			r = r.WithContext(logger.WithLogger(r.Context(), log))
			reqLog := log.WithContext(r.Context())

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"query", r.URL.RawQuery,
				"status", status,
				"bytes", ww.BytesWritten(),
				"latency_ms", time.Since(start).Milliseconds(),
				"client_ip", r.RemoteAddr,
			}
			if status >= http.StatusInternalServerError {
				reqLog.Errorw("http request", fields...)
				return
			}
			reqLog.Infow("http request", fields...)
		})
	}
}
