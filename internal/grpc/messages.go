package grpc

// Amounts are decimal strings with two fraction digits, dates are YYYY-MM-DD
// and timestamps RFC 3339 in UTC.

type DepositRequest struct {
	AccountID   string `json:"account_id"`
	Amount      string `json:"amount"`
	Description string `json:"description,omitempty"`
}

type WithdrawRequest struct {
	AccountID   string `json:"account_id"`
	Amount      string `json:"amount"`
	Description string `json:"description,omitempty"`
}

type TransferRequest struct {
	FromAccountID string `json:"from_account_id"`
	ToAccountID   string `json:"to_account_id"`
	Amount        string `json:"amount"`
	Description   string `json:"description,omitempty"`
}

type GetBalanceRequest struct {
	AccountID string `json:"account_id"`
}

type GetHistoryRequest struct {
	AccountID       string `json:"account_id"`
	TransactionType string `json:"transaction_type,omitempty"`
	Limit           int    `json:"limit,omitempty"`
	Offset          int    `json:"offset,omitempty"`
}

type GetStatementRequest struct {
	AccountID string `json:"account_id"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// Transaction is one committed ledger record.
type Transaction struct {
	ID              string `json:"id"`
	AccountID       string `json:"account_id"`
	TransactionType string `json:"transaction_type"`
	Amount          string `json:"amount"`
	BalanceAfter    string `json:"balance_after"`
	CorrelationID   string `json:"correlation_id,omitempty"`
	Description     string `json:"description,omitempty"`
	Status          string `json:"status"`
	CreatedAt       string `json:"created_at"`
}

type ReceiptResponse struct {
	Balance     string       `json:"balance"`
	Transaction *Transaction `json:"transaction"`
}

type TransferResponse struct {
	CorrelationID string       `json:"correlation_id"`
	FromAccountID string       `json:"from_account_id"`
	ToAccountID   string       `json:"to_account_id"`
	Amount        string       `json:"amount"`
	Outgoing      *Transaction `json:"outgoing"`
	Incoming      *Transaction `json:"incoming"`
	Timestamp     string       `json:"timestamp"`
}

type BalanceResponse struct {
	AccountID string `json:"account_id"`
	Balance   string `json:"balance"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

type HistoryResponse struct {
	Transactions []*Transaction `json:"transactions"`
}

type StatementResponse struct {
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
