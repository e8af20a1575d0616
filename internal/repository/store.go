package repository

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/eaglebank/ledger/internal/errs"
	"github.com/eaglebank/ledger/shared/models"
	"github.com/eaglebank/ledger/shared/utils"
	"github.com/shopspring/decimal"
)

// MaxBalance is the largest balance an account can hold (NUMERIC(10,2)).
var MaxBalance = decimal.RequireFromString("99999999.99")

// Store is the ledger's write store: bank topology, accounts and the append-only
// transaction log. Both PostgresStore and MemoryStore implement it.
type Store interface {
	CreateBank(ctx context.Context, bank *models.Bank) error
	GetBank(ctx context.Context, id string) (*models.Bank, error)
	CreateBranch(ctx context.Context, branch *models.Branch) error
	GetBranch(ctx context.Context, id string) (*models.Branch, error)
	// DeleteBranch removes the branch; its accounts survive with no branch.
	DeleteBranch(ctx context.Context, id string) error

	GetAccount(ctx context.Context, number int64) (*models.Account, error)
	// CreateAccount opens an account for owner at branchID. It fails with
	// errs.ErrAlreadyExists when owner already holds an open account anywhere
	// in the branch's bank.
	CreateAccount(ctx context.Context, owner, branchID string) (*models.Account, error)
	FindAccountInBank(ctx context.Context, owner, bankID string) (*models.Account, error)
	AdjustBalance(ctx context.Context, number int64, delta decimal.Decimal) (*models.Account, error)
	CloseAccount(ctx context.Context, number int64) error

	GetRecord(ctx context.Context, id string) (*models.TransactionRecord, error)
	ListRecordsByAccount(ctx context.Context, number int64) ([]*models.TransactionRecord, error)

	// WithinTx runs fn in one atomic scope. Any error from fn rolls back every
	// write made through tx.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the view of the store inside an atomic scope.
type Tx interface {
	// LockAccounts locks the open accounts in ascending number order and
	// returns snapshots keyed by number. Call it once per scope, with every
	// account the scope will touch.
	LockAccounts(ctx context.Context, numbers ...int64) (map[int64]*models.Account, error)
	GetBranch(ctx context.Context, id string) (*models.Branch, error)
	// AdjustBalance applies delta to a locked account, rejecting negative results.
	AdjustBalance(ctx context.Context, number int64, delta decimal.Decimal) (*models.Account, error)
	AppendRecord(ctx context.Context, record *models.TransactionRecord) error
}

func adjustBalance(ctx context.Context, s Store, number int64, delta decimal.Decimal) (*models.Account, error) {
	var updated *models.Account
	err := s.WithinTx(ctx, func(tx Tx) error {
		if _, err := tx.LockAccounts(ctx, number); err != nil {
			return err
		}
		a, err := tx.AdjustBalance(ctx, number, delta)
		if err != nil {
			return err
		}
		updated = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// applyDelta computes the new balance for a, enforcing the non-negative and
// maximum balance rules.
func applyDelta(a *models.Account, delta decimal.Decimal) (decimal.Decimal, error) {
	next := a.Balance.Add(delta)
	if next.IsNegative() {
		return decimal.Zero, fmt.Errorf("account %d: %w", a.Number, errs.ErrInsufficientFunds)
	}
	if next.GreaterThan(MaxBalance) {
		return decimal.Zero, fmt.Errorf("account %d: balance would exceed %s: %w", a.Number, MaxBalance, errs.ErrInvalidAmount)
	}
	return next.Round(utils.AmountScale), nil
}

// nextUpdatedAt stamps a write that follows one stamped prev. Stamps of one
// account strictly increase at microsecond precision, so they order the
// account's read-model versions even when the clock stalls or steps back.
func nextUpdatedAt(prev, now time.Time) time.Time {
	now = now.Truncate(time.Microsecond)
	if floor := prev.Truncate(time.Microsecond).Add(time.Microsecond); now.Before(floor) {
		return floor
	}
	return now
}

func uniqueSorted(numbers []int64) []int64 {
	out := make([]int64, 0, len(numbers))
	seen := make(map[int64]struct{}, len(numbers))
	for _, n := range numbers {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

func validateRecord(record *models.TransactionRecord) error {
	if record == nil || record.Movement == nil {
		return fmt.Errorf("transaction record without movement")
	}
	if record.Kind != record.Movement.Kind() {
		return fmt.Errorf("record kind %q does not match movement kind %q", record.Kind, record.Movement.Kind())
	}
	return nil
}
