package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/eaglebank/ledger/internal/errs"
	"github.com/eaglebank/ledger/shared/models"
	"github.com/eaglebank/ledger/shared/utils"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// PostgresStore is the Store backed by PostgreSQL, the ledger's source of truth.
// Serialization errors and deadlocks are retried with jittered backoff before
// surfacing as errs.ErrConflict.
type PostgresStore struct {
	db        *sql.DB
	retries   int
	retryBase time.Duration
	newNumber func() (int64, error)
}

type PostgresOption func(*PostgresStore)

// WithTxRetries sets how many times a transaction is attempted on transient
// conflicts.
func WithTxRetries(n int) PostgresOption {
	return func(s *PostgresStore) {
		if n > 0 {
			s.retries = n
		}
	}
}

func NewPostgresStore(db *sql.DB, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{
		db:        db,
		retries:   defaultTxRetries,
		retryBase: defaultRetryBase,
		newNumber: utils.GenerateAccountNumber,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func isTransient(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "40001" || pqErr.Code == "40P01"
}

// translate maps PostgreSQL constraint violations onto the ledger's error set.
func translate(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case "23505":
		if pqErr.Constraint == "accounts_pkey" {
			return fmt.Errorf("%s: %w", pqErr.Message, errs.ErrNumberTaken)
		}
		return fmt.Errorf("%s: %w", pqErr.Message, errs.ErrAlreadyExists)
	case "23503":
		return fmt.Errorf("%s: %w", pqErr.Message, errs.ErrNotFound)
	case "23514":
		if pqErr.Constraint == "accounts_balance_check" {
			return fmt.Errorf("%s: %w", pqErr.Message, errs.ErrInsufficientFunds)
		}
	case "22003":
		return fmt.Errorf("%s: %w", pqErr.Message, errs.ErrInvalidAmount)
	}
	return err
}

func (s *PostgresStore) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return translate(err)
	}
	return nil
}

// inTx runs fn in a fresh transaction per attempt; fn must not depend on
// state left over from a failed attempt.
func (s *PostgresStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	err := retry(ctx, s.retries, s.retryBase, isTransient, func() error {
		return s.runTx(ctx, fn)
	})
	if isTransient(err) {
		return fmt.Errorf("gave up after %d attempts (%v): %w", s.retries, err, errs.ErrConflict)
	}
	return err
}

func (s *PostgresStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.inTx(ctx, func(sqlTx *sql.Tx) error {
		return fn(&pgTx{tx: sqlTx})
	})
}

func (s *PostgresStore) CreateBank(ctx context.Context, bank *models.Bank) error {
	query := `
		INSERT INTO banks (id, name, address, banker_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.db.ExecContext(ctx, query, bank.ID, bank.Name, bank.Address, bank.BankerID, bank.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create bank: %w", translate(err))
	}
	return nil
}

func (s *PostgresStore) GetBank(ctx context.Context, id string) (*models.Bank, error) {
	query := `SELECT id, name, address, banker_id, created_at FROM banks WHERE id = $1`
	var b models.Bank
	err := s.db.QueryRowContext(ctx, query, id).Scan(&b.ID, &b.Name, &b.Address, &b.BankerID, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("bank %s: %w", id, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bank: %w", err)
	}
	return &b, nil
}

func (s *PostgresStore) CreateBranch(ctx context.Context, branch *models.Branch) error {
	query := `
		INSERT INTO branches (id, bank_id, name, address, teller_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.ExecContext(ctx, query,
		branch.ID, branch.BankID, branch.Name, branch.Address, branch.TellerID, branch.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create branch: %w", translate(err))
	}
	return nil
}

func (s *PostgresStore) GetBranch(ctx context.Context, id string) (*models.Branch, error) {
	return getBranch(ctx, s.db, id)
}

func getBranch(ctx context.Context, q queryer, id string) (*models.Branch, error) {
	query := `SELECT id, bank_id, name, address, teller_id, created_at FROM branches WHERE id = $1`
	var b models.Branch
	err := q.QueryRowContext(ctx, query, id).Scan(&b.ID, &b.BankID, &b.Name, &b.Address, &b.TellerID, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("branch %s: %w", id, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get branch: %w", err)
	}
	return &b, nil
}

func (s *PostgresStore) DeleteBranch(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE accounts SET branch_id = NULL, updated_at = ` + nextUpdatedAtSQL + ` WHERE branch_id = $1`, id,
		); err != nil {
			return fmt.Errorf("failed to detach accounts: %w", err)
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM branches WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("failed to delete branch: %w", translate(err))
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check rows affected: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("branch %s: %w", id, errs.ErrNotFound)
		}
		return nil
	})
}

const accountColumns = `number, owner_id, COALESCE(branch_id, ''), balance, created_at, updated_at`

// nextUpdatedAtSQL stamps an account row under its row lock. clock_timestamp
// rather than NOW() keeps stamps in lock order across transactions.
const nextUpdatedAtSQL = `GREATEST(clock_timestamp(), updated_at + INTERVAL '1 microsecond')`

func scanAccount(row rowScanner) (*models.Account, error) {
	var a models.Account
	if err := row.Scan(&a.Number, &a.OwnerID, &a.BranchID, &a.Balance, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, number int64) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE number = $1 AND closed_at IS NULL`
	a, err := scanAccount(s.db.QueryRowContext(ctx, query, number))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %d: %w", number, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) CreateAccount(ctx context.Context, owner, branchID string) (*models.Account, error) {
	var created *models.Account
	err := retry(ctx, maxNumberAttempts, 0, isNumberTaken, func() error {
		number, err := s.newNumber()
		if err != nil {
			return err
		}
		return s.inTx(ctx, func(tx *sql.Tx) error {
			a, err := createAccountTx(ctx, tx, number, owner, branchID)
			if err != nil {
				return err
			}
			created = a
			return nil
		})
	})
	if err != nil {
		if isNumberTaken(err) {
			return nil, fmt.Errorf("no free account number after %d attempts: %w", maxNumberAttempts, errs.ErrAlreadyExists)
		}
		return nil, err
	}
	return created, nil
}

func createAccountTx(ctx context.Context, tx *sql.Tx, number int64, owner, branchID string) (*models.Account, error) {
	// Locking the bank row serializes openings within one bank.
	var bankID string
	err := tx.QueryRowContext(ctx, `
		SELECT b.id FROM branches br
		JOIN banks b ON b.id = br.bank_id
		WHERE br.id = $1
		FOR UPDATE OF b
	`, branchID).Scan(&bankID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("branch %s: %w", branchID, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock bank: %w", err)
	}

	var exists bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM accounts a
			JOIN branches br ON br.id = a.branch_id
			WHERE a.owner_id = $1 AND br.bank_id = $2 AND a.closed_at IS NULL
		)
	`, owner, bankID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to check bank membership: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("owner %s already holds an account in bank %s: %w", owner, bankID, errs.ErrAlreadyExists)
	}

	query := `
		INSERT INTO accounts (number, owner_id, branch_id, balance, created_at, updated_at)
		VALUES ($1, $2, $3, 0, NOW(), NOW())
		RETURNING ` + accountColumns
	a, err := scanAccount(tx.QueryRowContext(ctx, query, number, owner, branchID))
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", translate(err))
	}
	return a, nil
}

func (s *PostgresStore) FindAccountInBank(ctx context.Context, owner, bankID string) (*models.Account, error) {
	query := `
		SELECT a.number, a.owner_id, COALESCE(a.branch_id, ''), a.balance, a.created_at, a.updated_at
		FROM accounts a
		JOIN branches br ON br.id = a.branch_id
		WHERE a.owner_id = $1 AND br.bank_id = $2 AND a.closed_at IS NULL
		LIMIT 1
	`
	a, err := scanAccount(s.db.QueryRowContext(ctx, query, owner, bankID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account of %s in bank %s: %w", owner, bankID, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) AdjustBalance(ctx context.Context, number int64, delta decimal.Decimal) (*models.Account, error) {
	return adjustBalance(ctx, s, number, delta)
}

func (s *PostgresStore) CloseAccount(ctx context.Context, number int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET closed_at = NOW(), updated_at = ` + nextUpdatedAtSQL + ` WHERE number = $1 AND closed_at IS NULL`, number,
	)
	if err != nil {
		return fmt.Errorf("failed to close account: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("account %d: %w", number, errs.ErrNotFound)
	}
	return nil
}

const recordSelect = `
	SELECT r.id, r.branch_id, r.kind, r.created_at,
	       m.id, m.account_number, m.to_account_number, m.amount, m.created_at
	FROM transaction_records r
	JOIN movements m ON m.id = r.movement_id
`

func scanRecord(row rowScanner) (*models.TransactionRecord, error) {
	var (
		rec        models.TransactionRecord
		movementID string
		account    int64
		to         sql.NullInt64
		amount     decimal.Decimal
		movedAt    time.Time
	)
	if err := row.Scan(&rec.ID, &rec.BranchID, &rec.Kind, &rec.CreatedAt,
		&movementID, &account, &to, &amount, &movedAt); err != nil {
		return nil, err
	}
	m, err := models.NewMovement(rec.Kind, movementID, account, to.Int64, amount, movedAt)
	if err != nil {
		return nil, err
	}
	rec.Movement = m
	return &rec, nil
}

func (s *PostgresStore) GetRecord(ctx context.Context, id string) (*models.TransactionRecord, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, recordSelect+` WHERE r.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transaction %s: %w", id, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) ListRecordsByAccount(ctx context.Context, number int64) ([]*models.TransactionRecord, error) {
	query := recordSelect + `
		WHERE m.account_number = $1 OR m.to_account_number = $1
		ORDER BY r.created_at DESC, r.id DESC
	`
	rows, err := s.db.QueryContext(ctx, query, number)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var out []*models.TransactionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return out, nil
}

// pgTx holds row locks taken by LockAccounts until the surrounding
// transaction ends.
type pgTx struct {
	tx     *sql.Tx
	locked map[int64]*models.Account
}

func (t *pgTx) LockAccounts(ctx context.Context, numbers ...int64) (map[int64]*models.Account, error) {
	if t.locked != nil {
		return nil, errors.New("accounts already locked in this transaction")
	}
	nums := uniqueSorted(numbers)
	query := `SELECT ` + accountColumns + `
		FROM accounts
		WHERE number = ANY($1) AND closed_at IS NULL
		ORDER BY number
		FOR UPDATE`
	rows, err := t.tx.QueryContext(ctx, query, pq.Array(nums))
	if err != nil {
		return nil, fmt.Errorf("failed to lock accounts: %w", err)
	}
	defer rows.Close()

	t.locked = make(map[int64]*models.Account, len(nums))
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		t.locked[a.Number] = a
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to lock accounts: %w", err)
	}
	for _, n := range nums {
		if _, ok := t.locked[n]; !ok {
			return nil, fmt.Errorf("account %d: %w", n, errs.ErrNotFound)
		}
	}

	out := make(map[int64]*models.Account, len(t.locked))
	for n, a := range t.locked {
		cp := *a
		out[n] = &cp
	}
	return out, nil
}

func (t *pgTx) GetBranch(ctx context.Context, id string) (*models.Branch, error) {
	return getBranch(ctx, t.tx, id)
}

func (t *pgTx) AdjustBalance(ctx context.Context, number int64, delta decimal.Decimal) (*models.Account, error) {
	a, ok := t.locked[number]
	if !ok {
		return nil, fmt.Errorf("account %d is not locked in this transaction", number)
	}
	next, err := applyDelta(a, delta)
	if err != nil {
		return nil, err
	}
	err = t.tx.QueryRowContext(ctx,
		`UPDATE accounts SET balance = $2, updated_at = ` + nextUpdatedAtSQL + ` WHERE number = $1 RETURNING updated_at`,
		number, next,
	).Scan(&a.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", translate(err))
	}
	a.Balance = next
	cp := *a
	return &cp, nil
}

func (t *pgTx) AppendRecord(ctx context.Context, record *models.TransactionRecord) error {
	if err := validateRecord(record); err != nil {
		return err
	}
	m := record.Movement
	for _, n := range m.Accounts() {
		if _, ok := t.locked[n]; !ok {
			return fmt.Errorf("account %d is not locked in this transaction", n)
		}
	}

	var to sql.NullInt64
	if n := models.CounterpartOf(m); n != 0 {
		to = sql.NullInt64{Int64: n, Valid: true}
	}
	accounts := m.Accounts()
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO movements (id, kind, account_number, to_account_number, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, m.MovementID(), string(m.Kind()), accounts[0], to, m.Value(), record.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record movement: %w", translate(err))
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO transaction_records (id, branch_id, kind, movement_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, record.ID, record.BranchID, string(record.Kind), m.MovementID(), record.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record transaction: %w", translate(err))
	}
	return nil
}
