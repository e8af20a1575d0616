package command

import (
	"context"
	"time"

	"github.com/eaglebank/ledger/internal/policy"
	"github.com/eaglebank/ledger/internal/repository"
	"github.com/eaglebank/ledger/shared/cqrs"
	"github.com/eaglebank/ledger/shared/events"
	"github.com/eaglebank/ledger/shared/models"
	"github.com/eaglebank/ledger/shared/utils"
	"go.uber.org/zap"
)

// AccountCommandService administers banks, branches and accounts and keeps
// the read model in sync.
type AccountCommandService struct {
	store     repository.Store
	policy    Authorizer
	accounts  AccountViews
	publisher EventPublisher
	log       *zap.Logger
	now       func() time.Time
}

func NewAccountCommandService(
	store repository.Store,
	authorizer Authorizer,
	accounts AccountViews,
	publisher EventPublisher,
	log *zap.Logger,
) *AccountCommandService {
	if log == nil {
		log = zap.NewNop()
	}
	return &AccountCommandService{
		store:     store,
		policy:    authorizer,
		accounts:  accounts,
		publisher: publisher,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateBank registers a bank administered by the acting user.
func (s *AccountCommandService) CreateBank(ctx context.Context, cmd cqrs.CreateBankCommand) (*models.Bank, error) {
	if err := s.policy.Authorize(ctx, cmd.ActorID, policy.OpCreateBank, policy.Target{}); err != nil {
		return nil, err
	}
	bank := &models.Bank{
		ID:        utils.GenerateID("bnk"),
		Name:      cmd.Name,
		Address:   cmd.Address,
		BankerID:  cmd.ActorID,
		CreatedAt: s.now(),
	}
	if err := s.store.CreateBank(ctx, bank); err != nil {
		return nil, err
	}
	s.publish(ctx, events.BankCreated, events.BankCreatedEvent{
		BankID:   bank.ID,
		BankerID: bank.BankerID,
		Name:     bank.Name,
	})
	return bank, nil
}

func (s *AccountCommandService) CreateBranch(ctx context.Context, cmd cqrs.CreateBranchCommand) (*models.Branch, error) {
	if err := s.policy.Authorize(ctx, cmd.ActorID, policy.OpCreateBranch, policy.Target{BankID: cmd.BankID}); err != nil {
		return nil, err
	}
	branch := &models.Branch{
		ID:        utils.GenerateID("brc"),
		BankID:    cmd.BankID,
		Name:      cmd.Name,
		Address:   cmd.Address,
		TellerID:  cmd.TellerID,
		CreatedAt: s.now(),
	}
	if err := s.store.CreateBranch(ctx, branch); err != nil {
		return nil, err
	}
	s.publish(ctx, events.BranchCreated, events.BranchCreatedEvent{
		BranchID: branch.ID,
		BankID:   branch.BankID,
		TellerID: branch.TellerID,
	})
	return branch, nil
}

// DeleteBranch removes a branch. Its accounts survive without a branch; their
// cached views pick up the change when they expire.
func (s *AccountCommandService) DeleteBranch(ctx context.Context, cmd cqrs.DeleteBranchCommand) error {
	if err := s.policy.Authorize(ctx, cmd.ActorID, policy.OpDeleteBranch, policy.Target{BranchID: cmd.BranchID}); err != nil {
		return err
	}
	branch, err := s.store.GetBranch(ctx, cmd.BranchID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteBranch(ctx, cmd.BranchID); err != nil {
		return err
	}
	s.publish(ctx, events.BranchDeleted, events.BranchDeletedEvent{
		BranchID: branch.ID,
		BankID:   branch.BankID,
	})
	return nil
}

// OpenAccount opens an account for the acting user at the given branch.
func (s *AccountCommandService) OpenAccount(ctx context.Context, cmd cqrs.OpenAccountCommand) (*models.AccountView, error) {
	if err := s.policy.Authorize(ctx, cmd.ActorID, policy.OpOpenAccount, policy.Target{BranchID: cmd.BranchID}); err != nil {
		return nil, err
	}
	account, err := s.store.CreateAccount(ctx, cmd.ActorID, cmd.BranchID)
	if err != nil {
		return nil, err
	}
	view, err := s.accounts.BuildView(ctx, account)
	if err != nil {
		return nil, err
	}
	s.accounts.CacheAccountView(ctx, view)
	s.publish(ctx, events.AccountCreated, events.AccountCreatedEvent{
		AccountNumber: account.Number,
		OwnerID:       account.OwnerID,
		BranchID:      account.BranchID,
		BankID:        view.BankID,
	})
	return view, nil
}

// CloseAccount closes the acting user's account held at the given branch.
func (s *AccountCommandService) CloseAccount(ctx context.Context, cmd cqrs.CloseAccountCommand) error {
	if err := s.policy.Authorize(ctx, cmd.ActorID, policy.OpCloseAccount, policy.Target{BranchID: cmd.BranchID}); err != nil {
		return err
	}
	branch, err := s.store.GetBranch(ctx, cmd.BranchID)
	if err != nil {
		return err
	}
	account, err := s.store.FindAccountInBank(ctx, cmd.ActorID, branch.BankID)
	if err != nil {
		return err
	}
	if err := s.store.CloseAccount(ctx, account.Number); err != nil {
		return err
	}
	s.accounts.InvalidateAccountView(ctx, account.Number)
	s.publish(ctx, events.AccountDeleted, events.AccountDeletedEvent{
		AccountNumber: account.Number,
		OwnerID:       account.OwnerID,
		BranchID:      account.BranchID,
	})
	return nil
}

func (s *AccountCommandService) publish(ctx context.Context, eventType string, data any) {
	if err := s.publisher.Publish(ctx, events.AccountEventsStream, eventType, data); err != nil {
		s.log.Warn("failed to publish event", zap.String("type", eventType), zap.Error(err))
	}
}
