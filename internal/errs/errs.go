// Package errs holds the ledger's error taxonomy. Callers wrap these with
// fmt.Errorf("...: %w", err) and test with errors.Is.
package errs

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrDenied            = errors.New("forbidden")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrCrossBank         = errors.New("accounts are not all in the same bank")
	ErrInvalidAmount     = errors.New("amount must be positive with at most 2 decimal places")
	ErrSameAccount       = errors.New("source and destination accounts are the same")

	// ErrConflict is returned once a transient write conflict has exhausted its retries.
	ErrConflict = errors.New("concurrent update conflict")

	// ErrNumberTaken signals an account number collision; the store retries it
	// with a fresh number.
	ErrNumberTaken = errors.New("account number already taken")
)

// Result is the outbound classification of an operation.
type Result string

const (
	ResultCreated  Result = "created"
	ResultDenied   Result = "denied"
	ResultRejected Result = "rejected"
	ResultNotFound Result = "not_found"
	ResultFailed   Result = "failed"
)

// Outcome classifies err into the outbound result set. Errors outside the
// taxonomy are ResultFailed.
func Outcome(err error) Result {
	switch {
	case err == nil:
		return ResultCreated
	case errors.Is(err, ErrDenied):
		return ResultDenied
	case errors.Is(err, ErrNotFound):
		return ResultNotFound
	case IsRejection(err):
		return ResultRejected
	default:
		return ResultFailed
	}
}

// IsRejection reports whether err is a business rule rejection rather than an
// authorization, lookup or infrastructure failure.
func IsRejection(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrCrossBank) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrSameAccount) ||
		errors.Is(err, ErrAlreadyExists) ||
		errors.Is(err, ErrConflict)
}
