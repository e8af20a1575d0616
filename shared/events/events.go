package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	BankCreated = "bank.created"

	BranchCreated = "branch.created"
	BranchDeleted = "branch.deleted"

	AccountCreated = "account.created"
	AccountDeleted = "account.deleted"

	TransactionCreated = "transaction.created"
	BalanceUpdated     = "balance.updated"
)

// Stream names
const (
	AccountEventsStream     = "account.events"
	TransactionEventsStream = "transaction.events"
)

// Base event structure
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Decode unpacks Data into v. Events read back from a stream carry Data as a
// generic JSON object.
func (e Event) Decode(v any) error {
	raw, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", e.Type, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Type, err)
	}
	return nil
}

// Topology events
type BankCreatedEvent struct {
	BankID   string `json:"bankId"`
	BankerID string `json:"bankerId"`
	Name     string `json:"name"`
}

type BranchCreatedEvent struct {
	BranchID string `json:"branchId"`
	BankID   string `json:"bankId"`
	TellerID string `json:"tellerId"`
}

type BranchDeletedEvent struct {
	BranchID string `json:"branchId"`
	BankID   string `json:"bankId"`
}

// Account events
type AccountCreatedEvent struct {
	AccountNumber int64  `json:"accountNumber"`
	OwnerID       string `json:"ownerId"`
	BranchID      string `json:"branchId"`
	BankID        string `json:"bankId"`
}

type AccountDeletedEvent struct {
	AccountNumber int64  `json:"accountNumber"`
	OwnerID       string `json:"ownerId"`
	BranchID      string `json:"branchId"`
}

// Transaction events
// TransactionCreatedEvent names the owner of every account the movement
// touched; CounterpartOwnerID is only set for transfers.
type TransactionCreatedEvent struct {
	TransactionID      string          `json:"transactionId"`
	BranchID           string          `json:"branchId"`
	Kind               string          `json:"kind"`
	MovementID         string          `json:"movementId"`
	AccountNumber      int64           `json:"accountNumber"`
	ToAccountNumber    int64           `json:"toAccountNumber,omitempty"`
	OwnerID            string          `json:"ownerId"`
	CounterpartOwnerID string          `json:"counterpartOwnerId,omitempty"`
	Amount             decimal.Decimal `json:"amount"`
}

type BalanceUpdatedEvent struct {
	AccountNumber int64           `json:"accountNumber"`
	NewBalance    decimal.Decimal `json:"newBalance"`
	Change        decimal.Decimal `json:"change"`
}
