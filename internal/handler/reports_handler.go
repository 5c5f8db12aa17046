package handler

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/spbu-ds-practicum-2025/ledger-service/internal/domain"
)

func balanceHandler(ledger *domain.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/accounts/{accountId}/balance")
		defer span.End()

		accountID, err := uuidParam(r, "accountId")
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		balance, err := ledger.GetBalance(ctx, CallerIDFromContext(ctx), accountID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, balanceResponse{
			AccountID: balance.AccountID.String(),
			Balance:   domain.FormatAmount(balance.Amount),
			Currency:  balance.Currency,
			Status:    string(balance.Status),
			AsOf:      balance.AsOf,
		})
	}
}

func historyHandler(ledger *domain.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/accounts/{accountId}/transactions")
		defer span.End()

		accountID, err := uuidParam(r, "accountId")
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		q := domain.HistoryQuery{}
		q.Limit, q.Offset = parsePage(r)
		if kind := r.URL.Query().Get("type"); kind != "" {
			if q.Kind, err = domain.ParseRecordKind(kind); err != nil {
				handleServiceError(w, err, logger)
				return
			}
		}

		records, err := ledger.GetHistory(ctx, CallerIDFromContext(ctx), accountID, q)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		resp := make([]recordResponse, 0, len(records))
		for _, rec := range records {
			resp = append(resp, toRecordResponse(rec))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func statementHandler(ledger *domain.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/accounts/{accountId}/statement")
		defer span.End()

		accountID, err := uuidParam(r, "accountId")
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		period, err := domain.ParseDateRange(r.URL.Query().Get("start"), r.URL.Query().Get("end"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.String("period", period.String()))

		statement, err := ledger.GetStatement(ctx, CallerIDFromContext(ctx), accountID, period)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, toStatementResponse(statement))
	}
}
