package projection

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/spbu-ds-practicum-2025/ledger-service/internal/observability"
)

const (
	defaultOperationsLimit = 50
	maxOperationsLimit     = 500
)

// OperationLister reads the projection.
type OperationLister interface {
	ListAccountOperations(ctx context.Context, accountID string, limit int) ([]*Operation, error)
	Ping(ctx context.Context) error
}

type operationResponse struct {
	OperationID    string    `json:"operation_id"`
	OperationType  string    `json:"operation_type"`
	Timestamp      time.Time `json:"timestamp"`
	Amount         string    `json:"amount"`
	CurrencyCode   string    `json:"currency_code"`
	CounterpartyID string    `json:"counterparty_id,omitempty"`
}

// NewRouter serves the projection read API, health and metrics.
func NewRouter(store OperationLister, registry *prometheus.Registry, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	r.Get("/v1/accounts/{accountId}/operations", listOperationsHandler(store, logger))
	return r
}

func listOperationsHandler(store OperationLister, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, err := uuid.Parse(chi.URLParam(r, "accountId"))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid account id"})
			return
		}
		limit := defaultOperationsLimit
		if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
			limit = min(v, maxOperationsLimit)
		}

		ops, err := store.ListAccountOperations(r.Context(), accountID.String(), limit)
		if err != nil {
			logger.Error("failed to list operations", zap.String("account_id", accountID.String()), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
			return
		}

		resp := make([]operationResponse, 0, len(ops))
		for _, op := range ops {
			resp = append(resp, operationResponse{
				OperationID:    op.ID,
				OperationType:  string(op.OperationType),
				Timestamp:      op.Timestamp,
				Amount:         op.Amount.StringFixed(2),
				CurrencyCode:   op.CurrencyCode,
				CounterpartyID: op.CounterpartyID,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
