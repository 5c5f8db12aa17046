package handler

import (
	"net/http"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/spbu-ds-practicum-2025/ledger-service/internal/domain"
)

func depositHandler(ledger *domain.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/accounts/{accountId}/deposits")
		defer span.End()

		accountID, err := uuidParam(r, "accountId")
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		var req moneyRequest
		if err := decodeJSON(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.String("account.id", accountID.String()))

		receipt, err := ledger.Deposit(ctx, CallerIDFromContext(ctx), domain.DepositRequest{
			AccountID:   accountID,
			Amount:      req.Amount,
			Description: req.Description,
		})
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, receiptResponse{
			Balance:     domain.FormatAmount(receipt.Balance),
			Transaction: toRecordResponse(receipt.Record),
		})
	}
}

func withdrawHandler(ledger *domain.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/accounts/{accountId}/withdrawals")
		defer span.End()

		accountID, err := uuidParam(r, "accountId")
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		var req moneyRequest
		if err := decodeJSON(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.String("account.id", accountID.String()))

		receipt, err := ledger.Withdraw(ctx, CallerIDFromContext(ctx), domain.WithdrawalRequest{
			AccountID:   accountID,
			Amount:      req.Amount,
			Description: req.Description,
		})
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, receiptResponse{
			Balance:     domain.FormatAmount(receipt.Balance),
			Transaction: toRecordResponse(receipt.Record),
		})
	}
}

func transferHandler(ledger *domain.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/transfers")
		defer span.End()

		var req transferRequest
		if err := decodeJSON(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		from, errFrom := uuid.Parse(req.FromAccountID)
		to, errTo := uuid.Parse(req.ToAccountID)
		if errFrom != nil || errTo != nil {
			writeError(w, http.StatusBadRequest, "invalid_input", "from_account_id and to_account_id must be valid ids")
			return
		}

		transfer, err := ledger.Transfer(ctx, CallerIDFromContext(ctx), domain.TransferRequest{
			FromAccountID: from,
			ToAccountID:   to,
			Amount:        req.Amount,
			Description:   req.Description,
		})
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, toTransferResponse(transfer))
	}
}

func getTransferHandler(ledger *domain.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/transfers/{correlationId}")
		defer span.End()

		correlationID, err := uuidParam(r, "correlationId")
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		transfer, err := ledger.GetTransfer(ctx, CallerIDFromContext(ctx), correlationID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, toTransferResponse(transfer))
	}
}

func listTransfersHandler(ledger *domain.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/accounts/{accountId}/transfers")
		defer span.End()

		accountID, err := uuidParam(r, "accountId")
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		direction, err := domain.ParseTransferDirection(r.URL.Query().Get("direction"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		limit, offset := parsePage(r)

		transfers, err := ledger.ListTransfers(ctx, CallerIDFromContext(ctx), accountID, direction, limit, offset)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		resp := make([]transferResponse, 0, len(transfers))
		for _, t := range transfers {
			resp = append(resp, toTransferResponse(t))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
