package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/eaglebank/ledger/internal/errs"
	"github.com/eaglebank/ledger/shared/models"
	"github.com/eaglebank/ledger/shared/utils"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/semaphore"
)

// memAccount pairs an account with its row lock. The lock is a weight-one
// semaphore so acquisition can give up when the caller's context ends.
type memAccount struct {
	lock    *semaphore.Weighted
	account models.Account
	closed  bool
}

// MemoryStore is an in-process Store. mu guards the maps and field visibility;
// account and bank locks serialize transactions the way row locks do in
// PostgresStore.
type MemoryStore struct {
	mu        sync.RWMutex
	banks     map[string]*models.Bank
	branches  map[string]*models.Branch
	accounts  map[int64]*memAccount
	records   []*models.TransactionRecord
	recordIdx map[string]int
	bankLocks map[string]*semaphore.Weighted

	newNumber func() (int64, error)
	now       func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		banks:     make(map[string]*models.Bank),
		branches:  make(map[string]*models.Branch),
		accounts:  make(map[int64]*memAccount),
		recordIdx: make(map[string]int),
		bankLocks: make(map[string]*semaphore.Weighted),
		newNumber: utils.GenerateAccountNumber,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func newLock() *semaphore.Weighted {
	return semaphore.NewWeighted(1)
}

func acquire(ctx context.Context, lock *semaphore.Weighted) error {
	if err := lock.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("waiting for lock: %w (%v)", errs.ErrConflict, err)
	}
	return nil
}

func release(lock *semaphore.Weighted) {
	lock.Release(1)
}

func (s *MemoryStore) CreateBank(ctx context.Context, bank *models.Bank) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.banks[bank.ID]; ok {
		return fmt.Errorf("bank %s: %w", bank.ID, errs.ErrAlreadyExists)
	}
	for _, b := range s.banks {
		if b.BankerID == bank.BankerID {
			return fmt.Errorf("banker %s already administers bank %s: %w", bank.BankerID, b.ID, errs.ErrAlreadyExists)
		}
	}
	cp := *bank
	s.banks[bank.ID] = &cp
	return nil
}

func (s *MemoryStore) GetBank(ctx context.Context, id string) (*models.Bank, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.banks[id]
	if !ok {
		return nil, fmt.Errorf("bank %s: %w", id, errs.ErrNotFound)
	}
	cp := *b
	return &cp, nil
}

func (s *MemoryStore) CreateBranch(ctx context.Context, branch *models.Branch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.banks[branch.BankID]; !ok {
		return fmt.Errorf("bank %s: %w", branch.BankID, errs.ErrNotFound)
	}
	if _, ok := s.branches[branch.ID]; ok {
		return fmt.Errorf("branch %s: %w", branch.ID, errs.ErrAlreadyExists)
	}
	for _, b := range s.branches {
		if b.BankID == branch.BankID && b.TellerID == branch.TellerID {
			return fmt.Errorf("teller %s already tellers branch %s of bank %s: %w", branch.TellerID, b.ID, b.BankID, errs.ErrAlreadyExists)
		}
	}
	cp := *branch
	s.branches[branch.ID] = &cp
	return nil
}

func (s *MemoryStore) GetBranch(ctx context.Context, id string) (*models.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getBranchLocked(id)
}

func (s *MemoryStore) getBranchLocked(id string) (*models.Branch, error) {
	b, ok := s.branches[id]
	if !ok {
		return nil, fmt.Errorf("branch %s: %w", id, errs.ErrNotFound)
	}
	cp := *b
	return &cp, nil
}

func (s *MemoryStore) DeleteBranch(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.branches[id]; !ok {
		return fmt.Errorf("branch %s: %w", id, errs.ErrNotFound)
	}
	delete(s.branches, id)
	now := s.now()
	for _, ma := range s.accounts {
		if ma.account.BranchID == id {
			ma.account.BranchID = ""
			ma.account.UpdatedAt = nextUpdatedAt(ma.account.UpdatedAt, now)
		}
	}
	return nil
}

func (s *MemoryStore) GetAccount(ctx context.Context, number int64) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ma, ok := s.accounts[number]
	if !ok || ma.closed {
		return nil, fmt.Errorf("account %d: %w", number, errs.ErrNotFound)
	}
	cp := ma.account
	return &cp, nil
}

func (s *MemoryStore) CreateAccount(ctx context.Context, owner, branchID string) (*models.Account, error) {
	s.mu.Lock()
	branch, err := s.getBranchLocked(branchID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	bankLock, ok := s.bankLocks[branch.BankID]
	if !ok {
		bankLock = newLock()
		s.bankLocks[branch.BankID] = bankLock
	}
	s.mu.Unlock()

	// Membership is per bank, so opens within one bank are serialized.
	if err := acquire(ctx, bankLock); err != nil {
		return nil, err
	}
	defer release(bankLock)

	if _, err := s.FindAccountInBank(ctx, owner, branch.BankID); err == nil {
		return nil, fmt.Errorf("owner %s already holds an account in bank %s: %w", owner, branch.BankID, errs.ErrAlreadyExists)
	} else if !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}

	var created *models.Account
	err = retry(ctx, maxNumberAttempts, 0, isNumberTaken, func() error {
		number, err := s.newNumber()
		if err != nil {
			return err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.branches[branchID]; !ok {
			return fmt.Errorf("branch %s: %w", branchID, errs.ErrNotFound)
		}
		if _, ok := s.accounts[number]; ok {
			return fmt.Errorf("account %d: %w", number, errs.ErrNumberTaken)
		}
		now := s.now()
		ma := &memAccount{
			lock: newLock(),
			account: models.Account{
				Number:    number,
				OwnerID:   owner,
				BranchID:  branchID,
				Balance:   decimal.Zero,
				CreatedAt: now,
				UpdatedAt: now,
			},
		}
		s.accounts[number] = ma
		cp := ma.account
		created = &cp
		return nil
	})
	if err != nil {
		if isNumberTaken(err) {
			return nil, fmt.Errorf("no free account number after %d attempts: %w", maxNumberAttempts, errs.ErrAlreadyExists)
		}
		return nil, err
	}
	return created, nil
}

func isNumberTaken(err error) bool {
	return errors.Is(err, errs.ErrNumberTaken)
}

func (s *MemoryStore) FindAccountInBank(ctx context.Context, owner, bankID string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ma := range s.accounts {
		if ma.closed || ma.account.OwnerID != owner || ma.account.BranchID == "" {
			continue
		}
		if b, ok := s.branches[ma.account.BranchID]; ok && b.BankID == bankID {
			cp := ma.account
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("account of %s in bank %s: %w", owner, bankID, errs.ErrNotFound)
}

func (s *MemoryStore) AdjustBalance(ctx context.Context, number int64, delta decimal.Decimal) (*models.Account, error) {
	return adjustBalance(ctx, s, number, delta)
}

func (s *MemoryStore) CloseAccount(ctx context.Context, number int64) error {
	s.mu.RLock()
	ma, ok := s.accounts[number]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("account %d: %w", number, errs.ErrNotFound)
	}
	if err := acquire(ctx, ma.lock); err != nil {
		return err
	}
	defer release(ma.lock)

	s.mu.Lock()
	defer s.mu.Unlock()
	if ma.closed {
		return fmt.Errorf("account %d: %w", number, errs.ErrNotFound)
	}
	ma.closed = true
	ma.account.UpdatedAt = nextUpdatedAt(ma.account.UpdatedAt, s.now())
	return nil
}

func (s *MemoryStore) GetRecord(ctx context.Context, id string) (*models.TransactionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.recordIdx[id]
	if !ok {
		return nil, fmt.Errorf("transaction %s: %w", id, errs.ErrNotFound)
	}
	cp := *s.records[i]
	return &cp, nil
}

func (s *MemoryStore) ListRecordsByAccount(ctx context.Context, number int64) ([]*models.TransactionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.TransactionRecord
	for i := len(s.records) - 1; i >= 0; i-- {
		rec := s.records[i]
		for _, n := range rec.Movement.Accounts() {
			if n == number {
				cp := *rec
				out = append(out, &cp)
				break
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	tx := &memTx{store: s, staged: make(map[int64]*models.Account)}
	defer tx.releaseAll()
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// memTx stages balance changes and records; nothing is visible to other
// readers until commit.
type memTx struct {
	store   *MemoryStore
	held    []*semaphore.Weighted
	locked  bool
	staged  map[int64]*models.Account
	dirty   []int64
	records []*models.TransactionRecord
}

func (t *memTx) LockAccounts(ctx context.Context, numbers ...int64) (map[int64]*models.Account, error) {
	if t.locked {
		return nil, errors.New("accounts already locked in this transaction")
	}
	t.locked = true
	s := t.store
	for _, n := range uniqueSorted(numbers) {
		s.mu.RLock()
		ma, ok := s.accounts[n]
		s.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("account %d: %w", n, errs.ErrNotFound)
		}
		if err := acquire(ctx, ma.lock); err != nil {
			return nil, err
		}
		t.held = append(t.held, ma.lock)

		s.mu.RLock()
		closed, snap := ma.closed, ma.account
		s.mu.RUnlock()
		if closed {
			return nil, fmt.Errorf("account %d: %w", n, errs.ErrNotFound)
		}
		t.staged[n] = &snap
	}
	out := make(map[int64]*models.Account, len(t.staged))
	for n, a := range t.staged {
		cp := *a
		out[n] = &cp
	}
	return out, nil
}

func (t *memTx) GetBranch(ctx context.Context, id string) (*models.Branch, error) {
	return t.store.GetBranch(ctx, id)
}

func (t *memTx) AdjustBalance(ctx context.Context, number int64, delta decimal.Decimal) (*models.Account, error) {
	a, ok := t.staged[number]
	if !ok {
		return nil, fmt.Errorf("account %d is not locked in this transaction", number)
	}
	next, err := applyDelta(a, delta)
	if err != nil {
		return nil, err
	}
	a.Balance = next
	a.UpdatedAt = nextUpdatedAt(a.UpdatedAt, t.store.now())
	t.dirty = append(t.dirty, number)
	cp := *a
	return &cp, nil
}

func (t *memTx) AppendRecord(ctx context.Context, record *models.TransactionRecord) error {
	if err := validateRecord(record); err != nil {
		return err
	}
	for _, n := range record.Movement.Accounts() {
		if _, ok := t.staged[n]; !ok {
			return fmt.Errorf("account %d is not locked in this transaction", n)
		}
	}
	t.store.mu.RLock()
	_, dup := t.store.recordIdx[record.ID]
	t.store.mu.RUnlock()
	if dup {
		return fmt.Errorf("transaction %s: %w", record.ID, errs.ErrAlreadyExists)
	}
	cp := *record
	t.records = append(t.records, &cp)
	return nil
}

func (t *memTx) commit() {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range t.dirty {
		ma := s.accounts[n]
		ma.account.Balance = t.staged[n].Balance
		ma.account.UpdatedAt = t.staged[n].UpdatedAt
	}
	for _, rec := range t.records {
		s.recordIdx[rec.ID] = len(s.records)
		s.records = append(s.records, rec)
	}
}

func (t *memTx) releaseAll() {
	for i := len(t.held) - 1; i >= 0; i-- {
		release(t.held[i])
	}
	t.held = nil
}
