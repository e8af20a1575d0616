package command

import (
	"context"

	"github.com/eaglebank/ledger/internal/policy"
	"github.com/eaglebank/ledger/shared/models"
)

// Authorizer is satisfied by *policy.Policy.
type Authorizer interface {
	Authorize(ctx context.Context, actor string, op policy.Op, target policy.Target) error
}

// EventPublisher is satisfied by *events.Publisher.
type EventPublisher interface {
	Publish(ctx context.Context, stream, eventType string, data any) error
}

// AccountViews is the slice of the account read model the command side keeps
// in sync.
type AccountViews interface {
	BuildView(ctx context.Context, account *models.Account) (*models.AccountView, error)
	CacheAccountView(ctx context.Context, view *models.AccountView)
	InvalidateAccountView(ctx context.Context, number int64)
}

// TransactionViews is the slice of the transaction read model the command
// side writes.
type TransactionViews interface {
	CacheTransactionView(ctx context.Context, view *models.TransactionView)
}
