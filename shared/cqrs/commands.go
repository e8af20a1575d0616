package cqrs

import (
	"github.com/eaglebank/ledger/shared/models"
	"github.com/shopspring/decimal"
)

type CreateBankCommand struct {
	ActorID string
	Name    string
	Address string
}

type CreateBranchCommand struct {
	ActorID  string
	BankID   string
	Name     string
	Address  string
	TellerID string
}

type DeleteBranchCommand struct {
	ActorID  string
	BranchID string
}

type OpenAccountCommand struct {
	ActorID  string
	BranchID string
}

// CloseAccountCommand closes the actor's own account held at BranchID.
type CloseAccountCommand struct {
	ActorID  string
	BranchID string
}

// MovementCommand is the inbound request for every money movement. BranchID is
// the authorizing branch; ToAccountNumber is only read for transfers.
type MovementCommand struct {
	Kind            models.MovementKind
	ActorID         string
	BranchID        string
	AccountNumber   int64
	ToAccountNumber int64
	Amount          decimal.Decimal
}

type DepositCommand struct {
	ActorID       string
	BranchID      string
	AccountNumber int64
	Amount        decimal.Decimal
}

type WithdrawCommand struct {
	ActorID       string
	BranchID      string
	AccountNumber int64
	Amount        decimal.Decimal
}

type PayCommand struct {
	ActorID       string
	BranchID      string
	AccountNumber int64
	Amount        decimal.Decimal
}

type TransferCommand struct {
	ActorID           string
	BranchID          string
	FromAccountNumber int64
	ToAccountNumber   int64
	Amount            decimal.Decimal
}

func (c DepositCommand) Movement() MovementCommand {
	return MovementCommand{Kind: models.KindDeposit, ActorID: c.ActorID, BranchID: c.BranchID, AccountNumber: c.AccountNumber, Amount: c.Amount}
}

func (c WithdrawCommand) Movement() MovementCommand {
	return MovementCommand{Kind: models.KindWithdraw, ActorID: c.ActorID, BranchID: c.BranchID, AccountNumber: c.AccountNumber, Amount: c.Amount}
}

func (c PayCommand) Movement() MovementCommand {
	return MovementCommand{Kind: models.KindPay, ActorID: c.ActorID, BranchID: c.BranchID, AccountNumber: c.AccountNumber, Amount: c.Amount}
}

func (c TransferCommand) Movement() MovementCommand {
	return MovementCommand{
		Kind:            models.KindTransfer,
		ActorID:         c.ActorID,
		BranchID:        c.BranchID,
		AccountNumber:   c.FromAccountNumber,
		ToAccountNumber: c.ToAccountNumber,
		Amount:          c.Amount,
	}
}
