package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

const (
	// MinAccountNumber and MaxAccountNumber bound the 16-digit account number space.
	MinAccountNumber int64 = 1_000_000_000_000_000
	MaxAccountNumber int64 = 9_999_999_999_999_999

	// AmountScale is the number of decimal places money is kept at.
	AmountScale = 2

	// MaxAmountIntegerDigits is the widest integer part an amount may have; no
	// balance holds more than eight.
	MaxAmountIntegerDigits = 8

	// maxAmountFractionDigits bounds trailing zeros such as "1.5000".
	maxAmountFractionDigits = 18
)

// GenerateID generates a unique, time-ordered ID with the given prefix
func GenerateID(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, strings.ToLower(ulid.Make().String()))
}

// GenerateAccountNumber draws a uniformly random 16-digit account number
func GenerateAccountNumber() (int64, error) {
	span := big.NewInt(MaxAccountNumber - MinAccountNumber + 1)
	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return 0, fmt.Errorf("failed to generate account number: %w", err)
	}
	return MinAccountNumber + n.Int64(), nil
}

// ValidateAccountNumber checks the number is inside the 16-digit space
func ValidateAccountNumber(number int64) bool {
	return number >= MinAccountNumber && number <= MaxAccountNumber
}

// ValidAmount reports whether amount is strictly positive with at most two
// decimal places and at most MaxAmountIntegerDigits integer digits.
func ValidAmount(amount decimal.Decimal) bool {
	// The shape is checked before any arithmetic: rescaling a value such as
	// 1e2000000000 allocates a coefficient with billions of digits.
	exp := int64(amount.Exponent())
	if exp < -maxAmountFractionDigits || int64(amount.NumDigits())+exp > MaxAmountIntegerDigits {
		return false
	}
	if !amount.IsPositive() {
		return false
	}
	return amount.Equal(amount.Truncate(AmountScale))
}

// ValidateBranchID validates the branch ID format
func ValidateBranchID(branchID string) bool {
	return strings.HasPrefix(branchID, "brc-")
}

// ValidateBankID validates the bank ID format
func ValidateBankID(bankID string) bool {
	return strings.HasPrefix(bankID, "bnk-")
}

// ValidateTransactionID validates the transaction ID format
func ValidateTransactionID(transactionID string) bool {
	return strings.HasPrefix(transactionID, "txr-")
}
