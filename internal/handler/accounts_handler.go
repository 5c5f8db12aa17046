package handler

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/spbu-ds-practicum-2025/ledger-service/internal/domain"
)

func createAccountHandler(ledger *domain.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/accounts")
		defer span.End()

		var req createAccountRequest
		if err := decodeJSON(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		accountType, err := domain.ParseAccountType(req.AccountType)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		account, err := ledger.CreateAccount(ctx, CallerIDFromContext(ctx), domain.CreateAccountRequest{
			Type:           accountType,
			Currency:       req.Currency,
			InitialBalance: req.InitialBalance,
		})
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, toAccountResponse(account))
	}
}

func listAccountsHandler(ledger *domain.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/accounts")
		defer span.End()

		accounts, err := ledger.ListAccounts(ctx, CallerIDFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		resp := make([]accountResponse, 0, len(accounts))
		for _, a := range accounts {
			resp = append(resp, toAccountResponse(a))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getAccountHandler(ledger *domain.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/accounts/{accountId}")
		defer span.End()

		accountID, err := uuidParam(r, "accountId")
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.String("account.id", accountID.String()))

		account, err := ledger.GetAccount(ctx, CallerIDFromContext(ctx), accountID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, toAccountResponse(account))
	}
}

func updateStatusHandler(ledger *domain.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PATCH /v1/accounts/{accountId}/status")
		defer span.End()

		accountID, err := uuidParam(r, "accountId")
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		var req updateStatusRequest
		if err := decodeJSON(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		status, err := domain.ParseAccountStatus(req.Status)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		account, err := ledger.UpdateStatus(ctx, CallerIDFromContext(ctx), accountID, status)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, toAccountResponse(account))
	}
}
