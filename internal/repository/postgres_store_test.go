package repository

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/eaglebank/ledger/internal/errs"
	"github.com/eaglebank/ledger/shared/models"
	"github.com/eaglebank/ledger/shared/utils"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestPostgresStore connects to LEDGER_TEST_DATABASE_URL, migrates and
// truncates. The test is skipped when no database is configured.
func newTestPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("LEDGER_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("LEDGER_TEST_DATABASE_URL not set; skipping postgres integration test")
	}
	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, Migrate(db))
	_, err = db.Exec(`TRUNCATE transaction_records, movements, accounts, branches, banks`)
	require.NoError(t, err)
	return NewPostgresStore(db)
}

func seedPostgres(t *testing.T, s *PostgresStore, bankID, banker string, branches map[string]string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, s.CreateBank(ctx, &models.Bank{ID: bankID, Name: bankID, BankerID: banker, CreatedAt: now}))
	for id, teller := range branches {
		require.NoError(t, s.CreateBranch(ctx, &models.Branch{ID: id, BankID: bankID, Name: id, TellerID: teller, CreatedAt: now}))
	}
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "number collision", err: &pq.Error{Code: "23505", Constraint: "accounts_pkey"}, want: errs.ErrNumberTaken},
		{name: "unique", err: &pq.Error{Code: "23505", Constraint: "banks_banker_id_key"}, want: errs.ErrAlreadyExists},
		{name: "foreign key", err: &pq.Error{Code: "23503"}, want: errs.ErrNotFound},
		{name: "negative balance", err: &pq.Error{Code: "23514", Constraint: "accounts_balance_check"}, want: errs.ErrInsufficientFunds},
		{name: "overflow", err: &pq.Error{Code: "22003"}, want: errs.ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, translate(tt.err), tt.want)
		})
	}

	plain := errors.New("plain")
	assert.Equal(t, plain, translate(plain))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, isTransient(&pq.Error{Code: "40001"}))
	assert.True(t, isTransient(&pq.Error{Code: "40P01"}))
	assert.False(t, isTransient(&pq.Error{Code: "23505"}))
	assert.False(t, isTransient(errors.New("other")))
}

func TestPostgresStore_AccountLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestPostgresStore(t)
	seedPostgres(t, s, "bnk-1", "banker-1", map[string]string{"brc-1": "teller-1", "brc-2": "teller-2"})

	a, err := s.CreateAccount(ctx, "user-1", "brc-1")
	require.NoError(t, err)
	assert.True(t, utils.ValidateAccountNumber(a.Number))

	_, err = s.CreateAccount(ctx, "user-1", "brc-2")
	assert.ErrorIs(t, err, errs.ErrAlreadyExists)

	got, err := s.AdjustBalance(ctx, a.Number, dec("1000"))
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(dec("1000")))

	_, err = s.AdjustBalance(ctx, a.Number, dec("-5000"))
	assert.ErrorIs(t, err, errs.ErrInsufficientFunds)

	require.NoError(t, s.DeleteBranch(ctx, "brc-1"))
	got, err = s.GetAccount(ctx, a.Number)
	require.NoError(t, err)
	assert.False(t, got.HasBranch())

	require.NoError(t, s.CloseAccount(ctx, a.Number))
	_, err = s.GetAccount(ctx, a.Number)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestPostgresStore_NumberCollisionRetries(t *testing.T) {
	ctx := context.Background()
	s := newTestPostgresStore(t)
	seedPostgres(t, s, "bnk-1", "banker-1", map[string]string{"brc-1": "teller-1"})

	numbers := []int64{1000000000000001, 1000000000000001, 1000000000000002}
	s.newNumber = func() (int64, error) {
		n := numbers[0]
		numbers = numbers[1:]
		return n, nil
	}
	_, err := s.CreateAccount(ctx, "user-1", "brc-1")
	require.NoError(t, err)
	second, err := s.CreateAccount(ctx, "user-2", "brc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000000000000002), second.Number)
}

func TestPostgresStore_RecordsAndConcurrentTransfers(t *testing.T) {
	ctx := context.Background()
	s := newTestPostgresStore(t)
	seedPostgres(t, s, "bnk-1", "banker-1", map[string]string{"brc-1": "teller-1"})

	a, err := s.CreateAccount(ctx, "user-1", "brc-1")
	require.NoError(t, err)
	b, err := s.CreateAccount(ctx, "user-2", "brc-1")
	require.NoError(t, err)
	_, err = s.AdjustBalance(ctx, a.Number, dec("100"))
	require.NoError(t, err)
	_, err = s.AdjustBalance(ctx, b.Number, dec("100"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from, to := a.Number, b.Number
			if i%2 == 1 {
				from, to = to, from
			}
			now := time.Now().UTC()
			m, _ := models.NewMovement(models.KindTransfer, utils.GenerateID("mov"), from, to, dec("3"), now)
			err := s.WithinTx(ctx, func(tx Tx) error {
				if _, err := tx.LockAccounts(ctx, from, to); err != nil {
					return err
				}
				if _, err := tx.AdjustBalance(ctx, from, dec("-3")); err != nil {
					return err
				}
				if _, err := tx.AdjustBalance(ctx, to, dec("3")); err != nil {
					return err
				}
				return tx.AppendRecord(ctx, &models.TransactionRecord{
					ID: utils.GenerateID("txr"), BranchID: "brc-1", Kind: models.KindTransfer, Movement: m, CreatedAt: now,
				})
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	ga, _ := s.GetAccount(ctx, a.Number)
	gb, _ := s.GetAccount(ctx, b.Number)
	assert.True(t, ga.Balance.Add(gb.Balance).Equal(dec("200")))

	history, err := s.ListRecordsByAccount(ctx, a.Number)
	require.NoError(t, err)
	assert.Len(t, history, 20)
	rec, err := s.GetRecord(ctx, history[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.KindTransfer, rec.Kind)
}
