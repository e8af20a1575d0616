package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Bank struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	BankerID  string    `json:"bankerId"`
	CreatedAt time.Time `json:"createdTimestamp"`
}

type Branch struct {
	ID        string    `json:"id"`
	BankID    string    `json:"bankId"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	TellerID  string    `json:"tellerId"`
	CreatedAt time.Time `json:"createdTimestamp"`
}

// Account is the write model of a customer account. BranchID is empty once the
// branch has been deleted; the account itself survives.
type Account struct {
	Number    int64           `json:"number"`
	OwnerID   string          `json:"-"`
	BranchID  string          `json:"branchId,omitempty"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"createdTimestamp"`
	UpdatedAt time.Time       `json:"updatedTimestamp"`
}

// HasBranch reports whether the account is still attached to a branch.
func (a *Account) HasBranch() bool {
	return a.BranchID != ""
}

// TransactionRecord tags one movement with the branch that authorized it.
type TransactionRecord struct {
	ID        string       `json:"id"`
	BranchID  string       `json:"branchId"`
	Kind      MovementKind `json:"kind"`
	Movement  Movement     `json:"movement"`
	CreatedAt time.Time    `json:"createdTimestamp"`
}
