package command

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/eaglebank/ledger/internal/errs"
	"github.com/eaglebank/ledger/shared/cqrs"
	"github.com/eaglebank/ledger/shared/events"
	"github.com/eaglebank/ledger/shared/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithdraw_RejectsOverdraftAndLogsNothing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	w := newWorld(t, h)
	a := h.open(t, "alice", w.branch1a.ID)
	h.deposit(t, "teller-1a", w.branch1a.ID, a, "1000.00")

	rec, err := h.movements.Withdraw(ctx, cqrs.WithdrawCommand{
		ActorID: "teller-1a", BranchID: w.branch1a.ID, AccountNumber: a, Amount: dec("500"),
	})
	require.NoError(t, err)
	assert.Equal(t, models.KindWithdraw, rec.Kind)
	assert.Equal(t, w.branch1a.ID, rec.BranchID)
	_, ok := rec.Movement.(models.Withdraw)
	assert.True(t, ok)
	assert.True(t, h.balance(t, a).Equal(dec("500.00")))
	assert.Len(t, h.records(t, a), 2)

	_, err = h.movements.Withdraw(ctx, cqrs.WithdrawCommand{
		ActorID: "teller-1a", BranchID: w.branch1a.ID, AccountNumber: a, Amount: dec("5000"),
	})
	assert.ErrorIs(t, err, errs.ErrInsufficientFunds)
	assert.Equal(t, errs.ResultRejected, errs.Outcome(err))
	assert.True(t, h.balance(t, a).Equal(dec("500.00")))
	assert.Len(t, h.records(t, a), 2)

	rejected := h.logs.FilterMessage("movement not applied").All()
	require.Len(t, rejected, 1)
	assert.Equal(t, "rejected", rejected[0].ContextMap()["outcome"])
}

func TestTransfer_ConservesAndRejectsOverdraft(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	w := newWorld(t, h)
	a := h.open(t, "alice", w.branch1a.ID)
	b := h.open(t, "bob", w.branch1b.ID)
	h.deposit(t, "teller-1a", w.branch1a.ID, a, "1000")

	rec, err := h.movements.Transfer(ctx, cqrs.TransferCommand{
		ActorID: "teller-1a", BranchID: w.branch1a.ID, FromAccountNumber: a, ToAccountNumber: b, Amount: dec("500"),
	})
	require.NoError(t, err)
	transfer, ok := rec.Movement.(models.Transfer)
	require.True(t, ok)
	assert.Equal(t, a, transfer.AccountNumber)
	assert.Equal(t, b, transfer.ToAccountNumber)
	assert.True(t, h.balance(t, a).Equal(dec("500")))
	assert.True(t, h.balance(t, b).Equal(dec("500")))

	_, err = h.movements.Transfer(ctx, cqrs.TransferCommand{
		ActorID: "teller-1a", BranchID: w.branch1a.ID, FromAccountNumber: a, ToAccountNumber: b, Amount: dec("5000"),
	})
	assert.ErrorIs(t, err, errs.ErrInsufficientFunds)
	assert.True(t, h.balance(t, a).Equal(dec("500")))
	assert.True(t, h.balance(t, b).Equal(dec("500")))
	assert.Len(t, h.records(t, a), 2)
	assert.Len(t, h.records(t, b), 1)
}

func TestDepositThenWithdrawRestoresBalance(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	w := newWorld(t, h)
	a := h.open(t, "alice", w.branch1a.ID)
	h.deposit(t, "teller-1a", w.branch1a.ID, a, "42.17")

	for _, amount := range []string{"0.01", "1", "99.99", "12345.67"} {
		before := h.balance(t, a)
		h.deposit(t, "teller-1a", w.branch1a.ID, a, amount)
		_, err := h.movements.Withdraw(ctx, cqrs.WithdrawCommand{
			ActorID: "teller-1a", BranchID: w.branch1a.ID, AccountNumber: a, Amount: dec(amount),
		})
		require.NoError(t, err)
		assert.True(t, h.balance(t, a).Equal(before), "amount %s", amount)
	}
}

func TestPay_DebitsAndIsLoggedAsPay(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	w := newWorld(t, h)
	a := h.open(t, "alice", w.branch1a.ID)
	h.deposit(t, "teller-1a", w.branch1a.ID, a, "10")

	rec, err := h.movements.Pay(ctx, cqrs.PayCommand{
		ActorID: "teller-1a", BranchID: w.branch1a.ID, AccountNumber: a, Amount: dec("2.50"),
	})
	require.NoError(t, err)
	assert.Equal(t, models.KindPay, rec.Kind)
	assert.True(t, h.balance(t, a).Equal(dec("7.5")))

	_, err = h.movements.Pay(ctx, cqrs.PayCommand{
		ActorID: "teller-1a", BranchID: w.branch1a.ID, AccountNumber: a, Amount: dec("7.51"),
	})
	assert.ErrorIs(t, err, errs.ErrInsufficientFunds)
}

func TestApply_RejectionsLeaveNoTrace(t *testing.T) {
	h := newHarness(t)
	w := newWorld(t, h)
	a := h.open(t, "alice", w.branch1a.ID)
	b := h.open(t, "bob", w.branch1a.ID)
	h.deposit(t, "teller-1a", w.branch1a.ID, a, "100")

	tests := []struct {
		name string
		cmd  cqrs.MovementCommand
		want error
	}{
		{
			name: "zero amount",
			cmd:  cqrs.MovementCommand{Kind: models.KindDeposit, ActorID: "teller-1a", BranchID: w.branch1a.ID, AccountNumber: a, Amount: dec("0")},
			want: errs.ErrInvalidAmount,
		},
		{
			name: "negative amount",
			cmd:  cqrs.MovementCommand{Kind: models.KindWithdraw, ActorID: "teller-1a", BranchID: w.branch1a.ID, AccountNumber: a, Amount: dec("-5")},
			want: errs.ErrInvalidAmount,
		},
		{
			name: "sub-cent amount",
			cmd:  cqrs.MovementCommand{Kind: models.KindDeposit, ActorID: "teller-1a", BranchID: w.branch1a.ID, AccountNumber: a, Amount: dec("1.001")},
			want: errs.ErrInvalidAmount,
		},
		{
			name: "exponent amount",
			cmd:  cqrs.MovementCommand{Kind: models.KindDeposit, ActorID: "teller-1a", BranchID: w.branch1a.ID, AccountNumber: a, Amount: dec("1e2000000000")},
			want: errs.ErrInvalidAmount,
		},
		{
			name: "nine integer digits",
			cmd:  cqrs.MovementCommand{Kind: models.KindTransfer, ActorID: "teller-1a", BranchID: w.branch1a.ID, AccountNumber: a, ToAccountNumber: b, Amount: dec("100000000")},
			want: errs.ErrInvalidAmount,
		},
		{
			name: "deposit past the maximum balance",
			cmd:  cqrs.MovementCommand{Kind: models.KindDeposit, ActorID: "teller-1a", BranchID: w.branch1a.ID, AccountNumber: a, Amount: dec("99999999.99")},
			want: errs.ErrInvalidAmount,
		},
		{
			name: "transfer to itself",
			cmd:  cqrs.MovementCommand{Kind: models.KindTransfer, ActorID: "teller-1a", BranchID: w.branch1a.ID, AccountNumber: a, ToAccountNumber: a, Amount: dec("1")},
			want: errs.ErrSameAccount,
		},
		{
			name: "unknown account",
			cmd:  cqrs.MovementCommand{Kind: models.KindDeposit, ActorID: "teller-1a", BranchID: w.branch1a.ID, AccountNumber: 1234567890123456, Amount: dec("1")},
			want: errs.ErrNotFound,
		},
		{
			name: "unknown transfer target",
			cmd:  cqrs.MovementCommand{Kind: models.KindTransfer, ActorID: "teller-1a", BranchID: w.branch1a.ID, AccountNumber: a, ToAccountNumber: 1234567890123456, Amount: dec("1")},
			want: errs.ErrNotFound,
		},
		{
			name: "unknown branch",
			cmd:  cqrs.MovementCommand{Kind: models.KindDeposit, ActorID: "teller-1a", BranchID: "brc-404", AccountNumber: a, Amount: dec("1")},
			want: errs.ErrNotFound,
		},
		{
			name: "teller of another branch",
			cmd:  cqrs.MovementCommand{Kind: models.KindWithdraw, ActorID: "teller-1b", BranchID: w.branch1a.ID, AccountNumber: a, Amount: dec("1")},
			want: errs.ErrDenied,
		},
		{
			name: "account owner is not a teller",
			cmd:  cqrs.MovementCommand{Kind: models.KindTransfer, ActorID: "alice", BranchID: w.branch1a.ID, AccountNumber: a, ToAccountNumber: b, Amount: dec("1")},
			want: errs.ErrDenied,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.movements.Apply(context.Background(), tt.cmd)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, h.balance(t, a).Equal(dec("100")))
			assert.True(t, h.balance(t, b).IsZero())
			assert.Len(t, h.records(t, a), 1)
		})
	}
}

func TestApply_CrossBank(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	w := newWorld(t, h)
	a := h.open(t, "alice", w.branch1a.ID)
	c := h.open(t, "carol", w.branch2.ID)
	h.deposit(t, "teller-1a", w.branch1a.ID, a, "100")
	h.deposit(t, "teller-2", w.branch2.ID, c, "100")

	_, err := h.movements.Transfer(ctx, cqrs.TransferCommand{
		ActorID: "teller-1a", BranchID: w.branch1a.ID, FromAccountNumber: a, ToAccountNumber: c, Amount: dec("10"),
	})
	assert.ErrorIs(t, err, errs.ErrCrossBank)

	_, err = h.movements.Transfer(ctx, cqrs.TransferCommand{
		ActorID: "teller-2", BranchID: w.branch2.ID, FromAccountNumber: c, ToAccountNumber: a, Amount: dec("10"),
	})
	assert.ErrorIs(t, err, errs.ErrCrossBank)

	_, err = h.movements.Deposit(ctx, cqrs.DepositCommand{
		ActorID: "teller-1a", BranchID: w.branch1a.ID, AccountNumber: c, Amount: dec("10"),
	})
	assert.ErrorIs(t, err, errs.ErrCrossBank)

	assert.True(t, h.balance(t, a).Equal(dec("100")))
	assert.True(t, h.balance(t, c).Equal(dec("100")))
	assert.Len(t, h.records(t, c), 1)
}

func TestApply_SameBankDifferentBranches(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	w := newWorld(t, h)
	a := h.open(t, "alice", w.branch1a.ID)
	b := h.open(t, "bob", w.branch1b.ID)
	h.deposit(t, "teller-1b", w.branch1b.ID, a, "30")

	rec, err := h.movements.Transfer(ctx, cqrs.TransferCommand{
		ActorID: "teller-1b", BranchID: w.branch1b.ID, FromAccountNumber: a, ToAccountNumber: b, Amount: dec("30"),
	})
	require.NoError(t, err)
	assert.Equal(t, w.branch1b.ID, rec.BranchID, "records carry the authorizing branch")
	assert.True(t, h.balance(t, a).IsZero())
	assert.True(t, h.balance(t, b).Equal(dec("30")))
}

func TestApply_OrphanedAccountBelongsToNoBank(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	w := newWorld(t, h)
	a := h.open(t, "alice", w.branch1a.ID)
	b := h.open(t, "bob", w.branch1b.ID)
	h.deposit(t, "teller-1b", w.branch1b.ID, b, "50")

	require.NoError(t, h.admin.DeleteBranch(ctx, cqrs.DeleteBranchCommand{ActorID: "banker-1", BranchID: w.branch1a.ID}))

	_, err := h.movements.Transfer(ctx, cqrs.TransferCommand{
		ActorID: "teller-1b", BranchID: w.branch1b.ID, FromAccountNumber: b, ToAccountNumber: a, Amount: dec("5"),
	})
	assert.ErrorIs(t, err, errs.ErrCrossBank)

	_, err = h.movements.Deposit(ctx, cqrs.DepositCommand{
		ActorID: "teller-1b", BranchID: w.branch1b.ID, AccountNumber: a, Amount: dec("5"),
	})
	assert.ErrorIs(t, err, errs.ErrCrossBank)
	assert.True(t, h.balance(t, b).Equal(dec("50")))
}

func TestApply_RefreshesReadModelAndPublishes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	w := newWorld(t, h)
	a := h.open(t, "alice", w.branch1a.ID)
	b := h.open(t, "bob", w.branch1a.ID)
	h.deposit(t, "teller-1a", w.branch1a.ID, a, "80")

	rec, err := h.movements.Transfer(ctx, cqrs.TransferCommand{
		ActorID: "teller-1a", BranchID: w.branch1a.ID, FromAccountNumber: a, ToAccountNumber: b, Amount: dec("30"),
	})
	require.NoError(t, err)

	view, err := h.accounts.GetByNumber(ctx, b)
	require.NoError(t, err)
	assert.True(t, view.Balance.Equal(dec("30")))
	assert.Equal(t, w.bank1.ID, view.BankID)

	assert.True(t, h.mr.Exists("transaction:view:"+rec.ID))
	txView, err := h.txViews.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, b, txView.ToAccountNumber)

	created := h.pub.ofType(events.TransactionCreated)
	require.Len(t, created, 2)
	last := created[1]
	assert.Equal(t, events.TransactionEventsStream, last.stream)
	payload := last.data.(events.TransactionCreatedEvent)
	assert.Equal(t, rec.ID, payload.TransactionID)
	assert.Equal(t, "alice", payload.OwnerID)
	assert.Equal(t, string(models.KindTransfer), payload.Kind)

	balances := h.pub.ofType(events.BalanceUpdated)
	require.Len(t, balances, 3)
	debit := balances[1].data.(events.BalanceUpdatedEvent)
	credit := balances[2].data.(events.BalanceUpdatedEvent)
	assert.Equal(t, a, debit.AccountNumber)
	assert.True(t, debit.Change.Equal(dec("-30")))
	assert.True(t, debit.NewBalance.Equal(dec("50")))
	assert.Equal(t, b, credit.AccountNumber)
	assert.True(t, credit.Change.Equal(dec("30")))
}

func TestApply_PublishFailureDoesNotFailMovement(t *testing.T) {
	h := newHarness(t)
	w := newWorld(t, h)
	a := h.open(t, "alice", w.branch1a.ID)

	h.pub.err = errors.New("stream unavailable")
	h.deposit(t, "teller-1a", w.branch1a.ID, a, "5")
	assert.True(t, h.balance(t, a).Equal(dec("5")))
	assert.Len(t, h.records(t, a), 1)
}

func TestApply_ConcurrentWithdrawalsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	w := newWorld(t, h)
	a := h.open(t, "alice", w.branch1a.ID)
	h.deposit(t, "teller-1a", w.branch1a.ID, a, "1000")

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.movements.Withdraw(ctx, cqrs.WithdrawCommand{
				ActorID: "teller-1a", BranchID: w.branch1a.ID, AccountNumber: a, Amount: dec("30"),
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, errs.ErrInsufficientFunds)
		}()
	}
	wg.Wait()

	assert.Equal(t, 33, succeeded)
	assert.True(t, h.balance(t, a).Equal(dec("10")))
	assert.Len(t, h.records(t, a), 34)
}

func TestApply_ConcurrentDepositsLeaveCachedBalanceCurrent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	w := newWorld(t, h)
	a := h.open(t, "alice", w.branch1a.ID)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.movements.Deposit(ctx, cqrs.DepositCommand{
				ActorID: "teller-1a", BranchID: w.branch1a.ID, AccountNumber: a, Amount: dec("1.00"),
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.True(t, h.balance(t, a).Equal(dec("40")))
	view, err := h.accounts.GetByNumber(ctx, a)
	require.NoError(t, err)
	assert.True(t, view.Balance.Equal(dec("40")), "cached balance %s", view.Balance)
}

func TestApply_OppositeTransfersDoNotDeadlock(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	w := newWorld(t, h)
	a := h.open(t, "alice", w.branch1a.ID)
	b := h.open(t, "bob", w.branch1b.ID)
	h.deposit(t, "teller-1a", w.branch1a.ID, a, "100")
	h.deposit(t, "teller-1a", w.branch1a.ID, b, "100")

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from, to := a, b
			if i%2 == 1 {
				from, to = b, a
			}
			_, err := h.movements.Transfer(ctx, cqrs.TransferCommand{
				ActorID: "teller-1a", BranchID: w.branch1a.ID, FromAccountNumber: from, ToAccountNumber: to, Amount: dec("1.25"),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.True(t, h.balance(t, a).Add(h.balance(t, b)).Equal(dec("200")))
}

func TestApply_RandomSequenceKeepsBalancesNonNegative(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	w := newWorld(t, h)
	accounts := []int64{
		h.open(t, "alice", w.branch1a.ID),
		h.open(t, "bob", w.branch1a.ID),
		h.open(t, "carol", w.branch1b.ID),
	}
	kinds := []models.MovementKind{models.KindDeposit, models.KindWithdraw, models.KindPay, models.KindTransfer}
	rng := rand.New(rand.NewSource(7))

	total := dec("0")
	for i := 0; i < 300; i++ {
		kind := kinds[rng.Intn(len(kinds))]
		from := accounts[rng.Intn(len(accounts))]
		to := accounts[rng.Intn(len(accounts))]
		amount := decimal.NewFromInt(int64(rng.Intn(20000) + 1)).Shift(-2)

		_, err := h.movements.Apply(ctx, cqrs.MovementCommand{
			Kind: kind, ActorID: "teller-1a", BranchID: w.branch1a.ID,
			AccountNumber: from, ToAccountNumber: to, Amount: amount,
		})
		switch {
		case err == nil:
			switch kind {
			case models.KindDeposit:
				total = total.Add(amount)
			case models.KindWithdraw, models.KindPay:
				total = total.Sub(amount)
			}
		case errors.Is(err, errs.ErrInsufficientFunds), errors.Is(err, errs.ErrSameAccount):
		default:
			t.Fatalf("step %d: unexpected error %v", i, err)
		}

		sum := dec("0")
		for _, n := range accounts {
			bal := h.balance(t, n)
			require.False(t, bal.IsNegative(), "step %d: account %d went negative", i, n)
			sum = sum.Add(bal)
		}
		require.True(t, sum.Equal(total), "step %d: money appeared or vanished", i)
	}
}
