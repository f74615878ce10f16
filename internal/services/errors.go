package services

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrUserNotFound the owner address does not resolve to an active account
var ErrUserNotFound = errors.New("user not found or inactive")

// ErrOrderNotFound no order matches the requested (id, contract, side, owner)
var ErrOrderNotFound = errors.New("order not found")

// ErrLockAcquisition another worker claimed one of the orders first. This is
// an expected race outcome: callers abort quietly, nothing is logged as an
// operator-visible failure.
var ErrLockAcquisition = errors.New("order already claimed by another worker")

// ValidationError rejects a request synchronously before any state mutation
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Msg)
}

// LiquidityError the book cannot satisfy the requested amount under the
// slippage floor. Returned before any chain submission.
type LiquidityError struct {
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *LiquidityError) Error() string {
	return fmt.Sprintf("insufficient liquidity: requested %s, available %s",
		e.Requested, e.Available)
}

// ChainSubmissionError wraps a revert, RPC failure or confirmation timeout.
// All claimed orders are released before this surfaces.
type ChainSubmissionError struct {
	TxHash string
	Err    error
}

func (e *ChainSubmissionError) Error() string {
	if e.TxHash != "" {
		return fmt.Sprintf("chain submission failed (tx %s): %v", e.TxHash, e.Err)
	}
	return fmt.Sprintf("chain submission failed: %v", e.Err)
}

func (e *ChainSubmissionError) Unwrap() error {
	return e.Err
}

// ReconciliationError the chain tx succeeded but the mirror update failed.
// The chain is the source of truth: this is logged as a severe inconsistency
// for the resync pass and is never surfaced to the end user as a failure.
type ReconciliationError struct {
	TxHash string
	Err    error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("mirror reconciliation failed after tx %s: %v", e.TxHash, e.Err)
}

func (e *ReconciliationError) Unwrap() error {
	return e.Err
}
