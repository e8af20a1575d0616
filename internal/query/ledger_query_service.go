package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/eaglebank/ledger/internal/errs"
	"github.com/eaglebank/ledger/internal/policy"
	"github.com/eaglebank/ledger/internal/repository"
	"github.com/eaglebank/ledger/shared/cqrs"
	"github.com/eaglebank/ledger/shared/models"
)

// LedgerQueryService serves account and transaction reads. Access is always
// checked through the policy before any view is returned.
type LedgerQueryService struct {
	policy       *policy.Policy
	accounts     *repository.AccountReadRepository
	transactions *repository.TransactionReadRepository
}

func NewLedgerQueryService(
	p *policy.Policy,
	accounts *repository.AccountReadRepository,
	transactions *repository.TransactionReadRepository,
) *LedgerQueryService {
	return &LedgerQueryService{policy: p, accounts: accounts, transactions: transactions}
}

// GetAccount returns the account to its owner or to the teller of its branch.
func (s *LedgerQueryService) GetAccount(ctx context.Context, q cqrs.GetAccountQuery) (*models.AccountView, error) {
	if err := s.policy.Authorize(ctx, q.RequestingUserID, policy.OpViewAccount, policy.Target{AccountNumber: q.AccountNumber}); err != nil {
		return nil, err
	}
	return s.accounts.GetByNumber(ctx, q.AccountNumber)
}

// ListTransactions returns every transaction touching the account, newest first.
func (s *LedgerQueryService) ListTransactions(ctx context.Context, q cqrs.ListTransactionsQuery) ([]models.TransactionView, error) {
	if err := s.policy.Authorize(ctx, q.RequestingUserID, policy.OpViewAccount, policy.Target{AccountNumber: q.AccountNumber}); err != nil {
		return nil, err
	}
	return s.transactions.ListByAccountNumber(ctx, q.AccountNumber)
}

// GetTransaction returns a transaction to anyone who may view one of the
// accounts it touched.
func (s *LedgerQueryService) GetTransaction(ctx context.Context, q cqrs.GetTransactionQuery) (*models.TransactionView, error) {
	view, err := s.transactions.GetByID(ctx, q.TransactionID)
	if err != nil {
		return nil, err
	}

	for _, n := range view.Accounts() {
		err := s.policy.Authorize(ctx, q.RequestingUserID, policy.OpViewAccount, policy.Target{AccountNumber: n})
		switch {
		case err == nil:
			return view, nil
		case errors.Is(err, errs.ErrDenied), errors.Is(err, errs.ErrNotFound):
			continue
		default:
			return nil, err
		}
	}
	return nil, fmt.Errorf("transaction %s: %w", q.TransactionID, errs.ErrDenied)
}
