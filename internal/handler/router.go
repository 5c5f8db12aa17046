package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/spbu-ds-practicum-2025/ledger-service/internal/auth"
	"github.com/spbu-ds-practicum-2025/ledger-service/internal/domain"
	"github.com/spbu-ds-practicum-2025/ledger-service/internal/observability"
)

var tracer = otel.Tracer("github.com/spbu-ds-practicum-2025/ledger-service/internal/handler")

// HealthCheck reports whether the ledger store is reachable. Nil means always healthy.
type HealthCheck func(ctx context.Context) error

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(ledger *domain.LedgerService, cards *domain.CardService, authSvc *auth.Service, metrics *observability.Metrics, health HealthCheck, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", healthzHandler(health))
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/auth/signup", signupHandler(authSvc, logger))
		r.Post("/auth/login", loginHandler(authSvc, logger))

		r.Group(func(r chi.Router) {
			r.Use(JWTAuthMiddleware(authSvc, logger))

			r.Get("/auth/me", meHandler(authSvc, logger))

			r.Post("/accounts", createAccountHandler(ledger, logger))
			r.Get("/accounts", listAccountsHandler(ledger, logger))
			r.Get("/accounts/{accountId}", getAccountHandler(ledger, logger))
			r.Patch("/accounts/{accountId}/status", updateStatusHandler(ledger, logger))

			r.Post("/accounts/{accountId}/deposits", depositHandler(ledger, logger))
			r.Post("/accounts/{accountId}/withdrawals", withdrawHandler(ledger, logger))
			r.Post("/transfers", transferHandler(ledger, logger))
			r.Get("/transfers/{correlationId}", getTransferHandler(ledger, logger))

			r.Get("/accounts/{accountId}/balance", balanceHandler(ledger, logger))
			r.Get("/accounts/{accountId}/transactions", historyHandler(ledger, logger))
			r.Get("/accounts/{accountId}/statement", statementHandler(ledger, logger))
			r.Get("/accounts/{accountId}/transfers", listTransfersHandler(ledger, logger))

			r.Post("/cards", issueCardHandler(cards, logger))
			r.Get("/cards", listCardsHandler(cards, logger))
			r.Post("/cards/{cardId}/block", blockCardHandler(cards, logger))
		})
	})

	return r
}

func healthzHandler(check HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "healthy"
		code := http.StatusOK
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				status = "unhealthy"
				code = http.StatusServiceUnavailable
			}
		}
		writeJSON(w, code, map[string]string{
			"status":    status,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}
