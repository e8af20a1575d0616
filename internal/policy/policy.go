// Package policy decides which actor may perform which ledger operation on
// which target. A nil error means allowed.
package policy

import (
	"context"
	"fmt"

	"github.com/eaglebank/ledger/internal/errs"
	"github.com/eaglebank/ledger/shared/models"
)

type Op string

const (
	OpCreateBank   Op = "create_bank"
	OpCreateBranch Op = "create_branch"
	OpDeleteBranch Op = "delete_branch"
	OpOpenAccount  Op = "open_account"
	OpCloseAccount Op = "close_account"
	OpDeposit      Op = "deposit"
	OpWithdraw     Op = "withdraw"
	OpPay          Op = "pay"
	OpTransfer     Op = "transfer"
	OpViewAccount  Op = "view_account"
)

// OpForKind maps a movement kind to the operation that authorizes it.
func OpForKind(kind models.MovementKind) (Op, error) {
	switch kind {
	case models.KindDeposit:
		return OpDeposit, nil
	case models.KindWithdraw:
		return OpWithdraw, nil
	case models.KindPay:
		return OpPay, nil
	case models.KindTransfer:
		return OpTransfer, nil
	}
	return "", fmt.Errorf("unknown movement kind %q", kind)
}

// Target names what an operation acts on. Which fields matter depends on the
// operation.
type Target struct {
	BankID        string
	BranchID      string
	AccountNumber int64
}

// Directory is the read access the policy needs into the store.
type Directory interface {
	GetBank(ctx context.Context, id string) (*models.Bank, error)
	GetBranch(ctx context.Context, id string) (*models.Branch, error)
	GetAccount(ctx context.Context, number int64) (*models.Account, error)
	FindAccountInBank(ctx context.Context, owner, bankID string) (*models.Account, error)
}

type Policy struct {
	dir Directory
}

func New(dir Directory) *Policy {
	return &Policy{dir: dir}
}

// Authorize returns nil when actor may perform op on target, errs.ErrDenied
// when it may not, and errs.ErrNotFound when the target does not exist.
func (p *Policy) Authorize(ctx context.Context, actor string, op Op, target Target) error {
	if actor == "" {
		return fmt.Errorf("anonymous actor: %w", errs.ErrDenied)
	}

	switch op {
	case OpCreateBank:
		return nil

	case OpOpenAccount:
		_, err := p.dir.GetBranch(ctx, target.BranchID)
		return err

	case OpCloseAccount:
		branch, err := p.dir.GetBranch(ctx, target.BranchID)
		if err != nil {
			return err
		}
		account, err := p.dir.FindAccountInBank(ctx, actor, branch.BankID)
		if err != nil {
			return err
		}
		if account.BranchID != branch.ID {
			return fmt.Errorf("account %d is not held at branch %s: %w", account.Number, branch.ID, errs.ErrDenied)
		}
		return nil

	case OpDeposit, OpWithdraw, OpPay, OpTransfer:
		branch, err := p.dir.GetBranch(ctx, target.BranchID)
		if err != nil {
			return err
		}
		if branch.TellerID != actor {
			return fmt.Errorf("%s requires the teller of branch %s: %w", op, branch.ID, errs.ErrDenied)
		}
		return nil

	case OpCreateBranch:
		return p.requireBanker(ctx, actor, target.BankID)

	case OpDeleteBranch:
		branch, err := p.dir.GetBranch(ctx, target.BranchID)
		if err != nil {
			return err
		}
		return p.requireBanker(ctx, actor, branch.BankID)

	case OpViewAccount:
		account, err := p.dir.GetAccount(ctx, target.AccountNumber)
		if err != nil {
			return err
		}
		if account.OwnerID == actor {
			return nil
		}
		if account.HasBranch() {
			branch, err := p.dir.GetBranch(ctx, account.BranchID)
			if err == nil && branch.TellerID == actor {
				return nil
			}
		}
		return fmt.Errorf("account %d: %w", target.AccountNumber, errs.ErrDenied)
	}

	return fmt.Errorf("unknown operation %q: %w", op, errs.ErrDenied)
}

func (p *Policy) requireBanker(ctx context.Context, actor, bankID string) error {
	bank, err := p.dir.GetBank(ctx, bankID)
	if err != nil {
		return err
	}
	if bank.BankerID != actor {
		return fmt.Errorf("bank %s is administered by another banker: %w", bank.ID, errs.ErrDenied)
	}
	return nil
}
