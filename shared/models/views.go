package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountView is the read-optimised projection of an account.
// OwnerID is populated for ownership checks but never serialised to the API response.
type AccountView struct {
	Number    int64           `json:"number"`
	OwnerID   string          `json:"-"`
	BranchID  string          `json:"branchId,omitempty"`
	BankID    string          `json:"bankId,omitempty"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"createdTimestamp"`
	UpdatedAt time.Time       `json:"updatedTimestamp"`
}

// TransactionView is the flattened read projection of a TransactionRecord and
// its movement. ToAccountNumber is only set for transfers.
type TransactionView struct {
	ID              string          `json:"id"`
	BranchID        string          `json:"branchId"`
	Kind            MovementKind    `json:"kind"`
	MovementID      string          `json:"movementId"`
	AccountNumber   int64           `json:"accountNumber"`
	ToAccountNumber int64           `json:"toAccountNumber,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	CreatedAt       time.Time       `json:"createdTimestamp"`
}

// Accounts lists the accounts the transaction touched, primary account first.
func (v *TransactionView) Accounts() []int64 {
	if v.ToAccountNumber == 0 {
		return []int64{v.AccountNumber}
	}
	return []int64{v.AccountNumber, v.ToAccountNumber}
}

// RecordToView flattens a record for the read model.
func RecordToView(r *TransactionRecord) *TransactionView {
	return &TransactionView{
		ID:              r.ID,
		BranchID:        r.BranchID,
		Kind:            r.Kind,
		MovementID:      r.Movement.MovementID(),
		AccountNumber:   r.Movement.Accounts()[0],
		ToAccountNumber: CounterpartOf(r.Movement),
		Amount:          r.Movement.Value(),
		CreatedAt:       r.CreatedAt,
	}
}

// AccountToView converts the write model to the read view. bankID may be empty
// for accounts without a branch.
func AccountToView(a *Account, bankID string) *AccountView {
	return &AccountView{
		Number:    a.Number,
		OwnerID:   a.OwnerID,
		BranchID:  a.BranchID,
		BankID:    bankID,
		Balance:   a.Balance,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}
