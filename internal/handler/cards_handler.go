package handler

import (
	"net/http"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/spbu-ds-practicum-2025/ledger-service/internal/domain"
)

func issueCardHandler(cards *domain.CardService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/cards")
		defer span.End()

		var req issueCardRequest
		if err := decodeJSON(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		accountID, err := uuid.Parse(req.AccountID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_input", "account_id is not a valid id")
			return
		}
		cardType, err := domain.ParseCardType(req.CardType)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		card, err := cards.IssueCard(ctx, CallerIDFromContext(ctx), domain.IssueCardRequest{
			AccountID: accountID,
			Type:      cardType,
		})
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, toCardResponse(card))
	}
}

func listCardsHandler(cards *domain.CardService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/cards")
		defer span.End()

		list, err := cards.ListCards(ctx, CallerIDFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		resp := make([]cardResponse, 0, len(list))
		for _, c := range list {
			resp = append(resp, toCardResponse(c))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func blockCardHandler(cards *domain.CardService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/cards/{cardId}/block")
		defer span.End()

		cardID, err := uuidParam(r, "cardId")
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.String("card.id", cardID.String()))

		card, err := cards.BlockCard(ctx, CallerIDFromContext(ctx), cardID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, toCardResponse(card))
	}
}
