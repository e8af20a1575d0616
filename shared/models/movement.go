package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type MovementKind string

const (
	KindDeposit  MovementKind = "deposit"
	KindWithdraw MovementKind = "withdraw"
	KindPay      MovementKind = "pay"
	KindTransfer MovementKind = "transfer"
)

// Valid reports whether k names one of the known movement kinds.
func (k MovementKind) Valid() bool {
	switch k {
	case KindDeposit, KindWithdraw, KindPay, KindTransfer:
		return true
	}
	return false
}

// Debits reports whether the movement takes money out of its primary account.
func (k MovementKind) Debits() bool {
	return k == KindWithdraw || k == KindPay || k == KindTransfer
}

// Movement is the closed set of monetary events a TransactionRecord can point at.
// The concrete type is fixed by Kind; see NewMovement.
type Movement interface {
	Kind() MovementKind
	MovementID() string
	// Accounts lists every account number touched, primary account first.
	Accounts() []int64
	Value() decimal.Decimal
	movement()
}

type movementBase struct {
	ID            string          `json:"id"`
	AccountNumber int64           `json:"accountNumber"`
	Amount        decimal.Decimal `json:"amount"`
	CreatedAt     time.Time       `json:"createdTimestamp"`
}

func (m movementBase) MovementID() string     { return m.ID }
func (m movementBase) Value() decimal.Decimal { return m.Amount }
func (m movementBase) movement()              {}

type Deposit struct{ movementBase }

func (Deposit) Kind() MovementKind  { return KindDeposit }
func (d Deposit) Accounts() []int64 { return []int64{d.AccountNumber} }

type Withdraw struct{ movementBase }

func (Withdraw) Kind() MovementKind  { return KindWithdraw }
func (w Withdraw) Accounts() []int64 { return []int64{w.AccountNumber} }

type Pay struct{ movementBase }

func (Pay) Kind() MovementKind  { return KindPay }
func (p Pay) Accounts() []int64 { return []int64{p.AccountNumber} }

// Transfer debits AccountNumber and credits ToAccountNumber.
type Transfer struct {
	movementBase
	ToAccountNumber int64 `json:"toAccountNumber"`
}

func (Transfer) Kind() MovementKind { return KindTransfer }
func (t Transfer) Accounts() []int64 {
	return []int64{t.AccountNumber, t.ToAccountNumber}
}

// NewMovement builds the concrete variant for kind. to is ignored for every kind
// except transfer.
func NewMovement(kind MovementKind, id string, account, to int64, amount decimal.Decimal, at time.Time) (Movement, error) {
	base := movementBase{ID: id, AccountNumber: account, Amount: amount, CreatedAt: at}
	switch kind {
	case KindDeposit:
		return Deposit{base}, nil
	case KindWithdraw:
		return Withdraw{base}, nil
	case KindPay:
		return Pay{base}, nil
	case KindTransfer:
		return Transfer{movementBase: base, ToAccountNumber: to}, nil
	}
	return nil, fmt.Errorf("unknown movement kind %q", kind)
}

// CounterpartOf returns the destination account of a transfer, or 0.
func CounterpartOf(m Movement) int64 {
	if t, ok := m.(Transfer); ok {
		return t.ToAccountNumber
	}
	return 0
}
