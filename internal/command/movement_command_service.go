package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eaglebank/ledger/internal/errs"
	"github.com/eaglebank/ledger/internal/policy"
	"github.com/eaglebank/ledger/internal/repository"
	"github.com/eaglebank/ledger/shared/cqrs"
	"github.com/eaglebank/ledger/shared/events"
	"github.com/eaglebank/ledger/shared/models"
	"github.com/eaglebank/ledger/shared/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// MovementCommandService moves money. Every movement runs in one store
// transaction: the balance changes and the movement with its transaction
// record commit together or not at all.
type MovementCommandService struct {
	store     repository.Store
	policy    Authorizer
	accounts  AccountViews
	txViews   TransactionViews
	publisher EventPublisher
	log       *zap.Logger
	now       func() time.Time
}

func NewMovementCommandService(
	store repository.Store,
	authorizer Authorizer,
	accounts AccountViews,
	txViews TransactionViews,
	publisher EventPublisher,
	log *zap.Logger,
) *MovementCommandService {
	if log == nil {
		log = zap.NewNop()
	}
	return &MovementCommandService{
		store:     store,
		policy:    authorizer,
		accounts:  accounts,
		txViews:   txViews,
		publisher: publisher,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *MovementCommandService) Deposit(ctx context.Context, cmd cqrs.DepositCommand) (*models.TransactionRecord, error) {
	return s.Apply(ctx, cmd.Movement())
}

func (s *MovementCommandService) Withdraw(ctx context.Context, cmd cqrs.WithdrawCommand) (*models.TransactionRecord, error) {
	return s.Apply(ctx, cmd.Movement())
}

func (s *MovementCommandService) Pay(ctx context.Context, cmd cqrs.PayCommand) (*models.TransactionRecord, error) {
	return s.Apply(ctx, cmd.Movement())
}

func (s *MovementCommandService) Transfer(ctx context.Context, cmd cqrs.TransferCommand) (*models.TransactionRecord, error) {
	return s.Apply(ctx, cmd.Movement())
}

type balanceChange struct {
	account *models.Account
	delta   decimal.Decimal
}

// Apply authorizes, validates and executes a movement.
func (s *MovementCommandService) Apply(ctx context.Context, cmd cqrs.MovementCommand) (*models.TransactionRecord, error) {
	record, err := s.apply(ctx, cmd)
	if err != nil {
		outcome := errs.Outcome(err)
		fields := []zap.Field{
			zap.String("kind", string(cmd.Kind)),
			zap.String("branchId", cmd.BranchID),
			zap.Int64("accountNumber", cmd.AccountNumber),
			zap.String("outcome", string(outcome)),
			zap.Error(err),
		}
		if outcome == errs.ResultFailed {
			s.log.Error("movement failed", fields...)
		} else {
			s.log.Info("movement not applied", fields...)
		}
		return nil, err
	}
	return record, nil
}

func (s *MovementCommandService) apply(ctx context.Context, cmd cqrs.MovementCommand) (*models.TransactionRecord, error) {
	op, err := policy.OpForKind(cmd.Kind)
	if err != nil {
		return nil, err
	}
	if err := s.policy.Authorize(ctx, cmd.ActorID, op, policy.Target{BranchID: cmd.BranchID, AccountNumber: cmd.AccountNumber}); err != nil {
		return nil, err
	}
	if !utils.ValidAmount(cmd.Amount) {
		return nil, fmt.Errorf("%s amount: %w", cmd.Kind, errs.ErrInvalidAmount)
	}

	legs := []balanceChange{{delta: cmd.Amount}}
	numbers := []int64{cmd.AccountNumber}
	if cmd.Kind.Debits() {
		legs[0].delta = cmd.Amount.Neg()
	}
	if cmd.Kind == models.KindTransfer {
		if cmd.ToAccountNumber == cmd.AccountNumber {
			return nil, fmt.Errorf("transfer %d to itself: %w", cmd.AccountNumber, errs.ErrSameAccount)
		}
		legs = append(legs, balanceChange{delta: cmd.Amount})
		numbers = append(numbers, cmd.ToAccountNumber)
	}

	var (
		record *models.TransactionRecord
		owners []string
		bankID string
	)
	err = s.store.WithinTx(ctx, func(tx repository.Tx) error {
		locked, err := tx.LockAccounts(ctx, numbers...)
		if err != nil {
			return err
		}
		authorizing, err := tx.GetBranch(ctx, cmd.BranchID)
		if err != nil {
			return err
		}
		for _, n := range numbers {
			if err := requireBank(ctx, tx, locked[n], authorizing.BankID); err != nil {
				return err
			}
		}

		for i, n := range numbers {
			updated, err := tx.AdjustBalance(ctx, n, legs[i].delta)
			if err != nil {
				return err
			}
			legs[i].account = updated
		}

		now := s.now()
		movement, err := models.NewMovement(cmd.Kind, utils.GenerateID("mov"), cmd.AccountNumber, cmd.ToAccountNumber, cmd.Amount, now)
		if err != nil {
			return err
		}
		rec := &models.TransactionRecord{
			ID:        utils.GenerateID("txr"),
			BranchID:  authorizing.ID,
			Kind:      cmd.Kind,
			Movement:  movement,
			CreatedAt: now,
		}
		if err := tx.AppendRecord(ctx, rec); err != nil {
			return err
		}
		owners = owners[:0]
		for _, n := range numbers {
			owners = append(owners, locked[n].OwnerID)
		}
		record, bankID = rec, authorizing.BankID
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, record, owners, bankID, legs)
	return record, nil
}

// requireBank rejects accounts outside bankID. An account whose branch has
// been deleted belongs to no bank.
func requireBank(ctx context.Context, tx repository.Tx, account *models.Account, bankID string) error {
	if !account.HasBranch() {
		return fmt.Errorf("account %d has no branch: %w", account.Number, errs.ErrCrossBank)
	}
	branch, err := tx.GetBranch(ctx, account.BranchID)
	if errors.Is(err, errs.ErrNotFound) {
		return fmt.Errorf("account %d has no branch: %w", account.Number, errs.ErrCrossBank)
	}
	if err != nil {
		return err
	}
	if branch.BankID != bankID {
		return fmt.Errorf("account %d belongs to bank %s, not %s: %w", account.Number, branch.BankID, bankID, errs.ErrCrossBank)
	}
	return nil
}

// afterCommit refreshes the read model and publishes events. Failures here
// are logged; the movement has already committed.
func (s *MovementCommandService) afterCommit(ctx context.Context, record *models.TransactionRecord, owners []string, bankID string, legs []balanceChange) {
	for _, leg := range legs {
		s.accounts.CacheAccountView(ctx, models.AccountToView(leg.account, bankID))
	}
	view := models.RecordToView(record)
	s.txViews.CacheTransactionView(ctx, view)

	var counterpartOwner string
	if len(owners) > 1 {
		counterpartOwner = owners[1]
	}
	if err := s.publisher.Publish(ctx, events.TransactionEventsStream, events.TransactionCreated, events.TransactionCreatedEvent{
		TransactionID:      record.ID,
		BranchID:           record.BranchID,
		Kind:               string(record.Kind),
		MovementID:         view.MovementID,
		AccountNumber:      view.AccountNumber,
		ToAccountNumber:    view.ToAccountNumber,
		OwnerID:            owners[0],
		CounterpartOwnerID: counterpartOwner,
		Amount:             view.Amount,
	}); err != nil {
		s.log.Warn("failed to publish transaction.created", zap.String("transactionId", record.ID), zap.Error(err))
	}

	for _, leg := range legs {
		if err := s.publisher.Publish(ctx, events.TransactionEventsStream, events.BalanceUpdated, events.BalanceUpdatedEvent{
			AccountNumber: leg.account.Number,
			NewBalance:    leg.account.Balance,
			Change:        leg.delta,
		}); err != nil {
			s.log.Warn("failed to publish balance.updated", zap.Int64("accountNumber", leg.account.Number), zap.Error(err))
		}
	}

	s.log.Info("movement recorded",
		zap.String("transactionId", record.ID),
		zap.String("kind", string(record.Kind)),
		zap.String("branchId", record.BranchID),
		zap.String("amount", view.Amount.StringFixed(utils.AmountScale)),
	)
}
