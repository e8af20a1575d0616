package cqrs

// ---------- Account queries ----------

// GetAccountQuery fetches a single account; the requester must own it or be the
// teller of its branch.
type GetAccountQuery struct {
	AccountNumber    int64
	RequestingUserID string
}

// ---------- Transaction queries ----------

// GetTransactionQuery fetches a single transaction record.
type GetTransactionQuery struct {
	TransactionID    string
	RequestingUserID string
}

// ListTransactionsQuery fetches all transaction records touching an account.
type ListTransactionsQuery struct {
	AccountNumber    int64
	RequestingUserID string
}
