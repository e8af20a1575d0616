package command

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/eaglebank/ledger/internal/policy"
	"github.com/eaglebank/ledger/internal/repository"
	"github.com/eaglebank/ledger/shared/cqrs"
	"github.com/eaglebank/ledger/shared/models"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type publishedEvent struct {
	stream    string
	eventType string
	data      any
}

// recordingPublisher captures published events; err, when set, is returned
// from every Publish.
type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, stream, eventType string, data any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, publishedEvent{stream: stream, eventType: eventType, data: data})
	return nil
}

func (p *recordingPublisher) ofType(eventType string) []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []publishedEvent
	for _, e := range p.events {
		if e.eventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	mr        *miniredis.Miniredis
	store     *repository.MemoryStore
	accounts  *repository.AccountReadRepository
	txViews   *repository.TransactionReadRepository
	pub       *recordingPublisher
	movements *MovementCommandService
	admin     *AccountCommandService
	logs      *observer.ObservedLogs
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	store := repository.NewMemoryStore()
	pol := policy.New(store)
	accounts := repository.NewAccountReadRepository(store, client, nil)
	txViews := repository.NewTransactionReadRepository(store, client, nil)
	pub := &recordingPublisher{}
	core, logs := observer.New(zap.InfoLevel)

	return &harness{
		mr:        mr,
		store:     store,
		accounts:  accounts,
		txViews:   txViews,
		pub:       pub,
		movements: NewMovementCommandService(store, pol, accounts, txViews, pub, zap.New(core)),
		admin:     NewAccountCommandService(store, pol, accounts, pub, nil),
		logs:      logs,
	}
}

func (h *harness) bank(t *testing.T, banker string) *models.Bank {
	t.Helper()
	b, err := h.admin.CreateBank(context.Background(), cqrs.CreateBankCommand{ActorID: banker, Name: banker + " bank"})
	require.NoError(t, err)
	return b
}

func (h *harness) branch(t *testing.T, banker, bankID, teller string) *models.Branch {
	t.Helper()
	b, err := h.admin.CreateBranch(context.Background(), cqrs.CreateBranchCommand{
		ActorID: banker, BankID: bankID, Name: teller + " branch", TellerID: teller,
	})
	require.NoError(t, err)
	return b
}

func (h *harness) open(t *testing.T, owner, branchID string) int64 {
	t.Helper()
	v, err := h.admin.OpenAccount(context.Background(), cqrs.OpenAccountCommand{ActorID: owner, BranchID: branchID})
	require.NoError(t, err)
	return v.Number
}

func (h *harness) deposit(t *testing.T, teller, branchID string, number int64, amount string) {
	t.Helper()
	_, err := h.movements.Deposit(context.Background(), cqrs.DepositCommand{
		ActorID: teller, BranchID: branchID, AccountNumber: number, Amount: dec(amount),
	})
	require.NoError(t, err)
}

func (h *harness) balance(t *testing.T, number int64) decimal.Decimal {
	t.Helper()
	a, err := h.store.GetAccount(context.Background(), number)
	require.NoError(t, err)
	return a.Balance
}

func (h *harness) records(t *testing.T, number int64) []*models.TransactionRecord {
	t.Helper()
	recs, err := h.store.ListRecordsByAccount(context.Background(), number)
	require.NoError(t, err)
	return recs
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// world is one bank with two branches and a second bank with one branch.
type world struct {
	bank1    *models.Bank
	bank2    *models.Bank
	branch1a *models.Branch
	branch1b *models.Branch
	branch2  *models.Branch
}

func newWorld(t *testing.T, h *harness) world {
	t.Helper()
	w := world{bank1: h.bank(t, "banker-1"), bank2: h.bank(t, "banker-2")}
	w.branch1a = h.branch(t, "banker-1", w.bank1.ID, "teller-1a")
	w.branch1b = h.branch(t, "banker-1", w.bank1.ID, "teller-1b")
	w.branch2 = h.branch(t, "banker-2", w.bank2.ID, "teller-2")
	return w
}
