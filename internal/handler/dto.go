package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/spbu-ds-practicum-2025/ledger-service/internal/auth"
	"github.com/spbu-ds-practicum-2025/ledger-service/internal/domain"
)

// Amounts travel as strings with two decimals. Requests also accept JSON numbers.

type signupRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type createAccountRequest struct {
	AccountType    string          `json:"account_type"`
	Currency       string          `json:"currency"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

type moneyRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

type transferRequest struct {
	FromAccountID string          `json:"from_account_id"`
	ToAccountID   string          `json:"to_account_id"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description"`
}

type issueCardRequest struct {
	AccountID string `json:"account_id"`
	CardType  string `json:"card_type"`
}

type cardResponse struct {
	ID         string    `json:"id"`
	CardNumber string    `json:"card_number"`
	LastFour   string    `json:"last_four"`
	CardType   string    `json:"card_type"`
	Status     string    `json:"status"`
	HolderID   string    `json:"holder_id"`
	AccountID  string    `json:"account_id"`
	ExpiryDate string    `json:"expiry_date"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// toCardResponse never exposes the full card number.
func toCardResponse(c *domain.Card) cardResponse {
	return cardResponse{
		ID:         c.ID.String(),
		CardNumber: c.MaskedNumber(),
		LastFour:   c.LastFour,
		CardType:   string(c.Type),
		Status:     string(c.Status),
		HolderID:   c.HolderID.String(),
		AccountID:  c.AccountID.String(),
		ExpiryDate: c.ExpiryDate,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}
}

type userResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

func toUserResponse(u *domain.User) userResponse {
	return userResponse{
		ID:        u.ID.String(),
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Active:    u.Active,
		CreatedAt: u.CreatedAt,
	}
}

type tokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func toTokenResponse(t *auth.Token) tokenResponse {
	return tokenResponse{AccessToken: t.AccessToken, TokenType: t.TokenType, ExpiresAt: t.ExpiresAt}
}

type accountResponse struct {
	ID            string    `json:"id"`
	AccountNumber string    `json:"account_number"`
	OwnerID       string    `json:"owner_id"`
	AccountType   string    `json:"account_type"`
	Currency      string    `json:"currency"`
	Balance       string    `json:"balance"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func toAccountResponse(a *domain.Account) accountResponse {
	return accountResponse{
		ID:            a.ID.String(),
		AccountNumber: a.Number,
		OwnerID:       a.OwnerID.String(),
		AccountType:   string(a.Type),
		Currency:      a.Currency,
		Balance:       domain.FormatAmount(a.Balance),
		Status:        string(a.Status),
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

type recordResponse struct {
	ID            string    `json:"id"`
	AccountID     string    `json:"account_id"`
	Kind          string    `json:"transaction_type"`
	Amount        string    `json:"amount"`
	BalanceAfter  string    `json:"balance_after"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Description   string    `json:"description,omitempty"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

func toRecordResponse(r *domain.TransactionRecord) recordResponse {
	resp := recordResponse{
		ID:           r.ID.String(),
		AccountID:    r.AccountID.String(),
		Kind:         string(r.Kind),
		Amount:       domain.FormatAmount(r.Amount),
		BalanceAfter: domain.FormatAmount(r.BalanceAfter),
		Description:  r.Description,
		Status:       string(r.Status),
		CreatedAt:    r.CreatedAt,
	}
	if r.CorrelationID != nil {
		resp.CorrelationID = r.CorrelationID.String()
	}
	return resp
}

type receiptResponse struct {
	Balance     string         `json:"balance"`
	Transaction recordResponse `json:"transaction"`
}

type transferResponse struct {
	CorrelationID string         `json:"correlation_id"`
	FromAccountID string         `json:"from_account_id"`
	ToAccountID   string         `json:"to_account_id"`
	Amount        string         `json:"amount"`
	Description   string         `json:"description,omitempty"`
	Out           recordResponse `json:"outgoing"`
	In            recordResponse `json:"incoming"`
	CreatedAt     time.Time      `json:"created_at"`
}

func toTransferResponse(t *domain.Transfer) transferResponse {
	return transferResponse{
		CorrelationID: t.CorrelationID.String(),
		FromAccountID: t.FromAccountID.String(),
		ToAccountID:   t.ToAccountID.String(),
		Amount:        domain.FormatAmount(t.Amount),
		Description:   t.Description,
		Out:           toRecordResponse(t.Out),
		In:            toRecordResponse(t.In),
		CreatedAt:     t.CreatedAt,
	}
}

type balanceResponse struct {
	AccountID string    `json:"account_id"`
	Balance   string    `json:"balance"`
	Currency  string    `json:"currency"`
	Status    string    `json:"status"`
	AsOf      time.Time `json:"as_of"`
}

type statementResponse struct {
	AccountID        string `json:"account_id"`
	Currency         string `json:"currency"`
	StartDate        string `json:"start_date"`
	EndDate          string `json:"end_date"`
	OpeningBalance   string `json:"opening_balance"`
	ClosingBalance   string `json:"closing_balance"`
	TotalDebit       string `json:"total_debit"`
	TotalCredit      string `json:"total_credit"`
	TransactionCount int    `json:"transaction_count"`
}

func toStatementResponse(s *domain.Statement) statementResponse {
	return statementResponse{
		AccountID:        s.AccountID.String(),
		Currency:         s.Currency,
		StartDate:        s.StartDate.Format(time.DateOnly),
		EndDate:          s.EndDate.Format(time.DateOnly),
		OpeningBalance:   domain.FormatAmount(s.OpeningBalance),
		ClosingBalance:   domain.FormatAmount(s.ClosingBalance),
		TotalDebit:       domain.FormatAmount(s.TotalDebit),
		TotalCredit:      domain.FormatAmount(s.TotalCredit),
		TransactionCount: s.TransactionCount,
	}
}
