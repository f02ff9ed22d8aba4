package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

var (
	// ErrDataUnavailable is returned when a snapshot or history fetch fails.
	// The symbol is skipped for the cycle, never fatal.
	ErrDataUnavailable = errors.New("market data unavailable")

	// ErrInsufficientHistory is returned when the price window is shorter
	// than the minimum required by an indicator. The symbol is skipped.
	ErrInsufficientHistory = errors.New("insufficient history")

	// ErrDrawdownBreach is returned while the portfolio drawdown exceeds the
	// configured limit. All new entries are frozen until recovery.
	ErrDrawdownBreach = errors.New("drawdown limit breached")

	// ErrCollaboratorUnavailable is returned when an external collaborator
	// keeps failing beyond the configured threshold. Fatal to the engine.
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")

	// ErrPositionExists is returned when an order would create a second
	// position for the same symbol and venue.
	ErrPositionExists = errors.New("position already open for venue")

	// ErrStateCorrupted is returned when reconciliation finds an equity state
	// that cannot be recovered from (e.g. negative total equity). Fatal.
	ErrStateCorrupted = errors.New("portfolio state corrupted")
)

// RejectReason is a machine-readable venue rejection code
type RejectReason string

const (
	RejectInsufficientBalance RejectReason = "INSUFFICIENT_BALANCE"
	RejectInvalidLeverage     RejectReason = "INVALID_LEVERAGE"
	RejectRateLimit           RejectReason = "RATE_LIMIT"
	RejectNetwork             RejectReason = "NETWORK"
	RejectUnknown             RejectReason = "UNKNOWN"
)

// RejectionError represents a venue-level order rejection. The order is
// dropped and reported; it is never retried within the same cycle.
type RejectionError struct {
	Symbol Symbol
	Reason RejectReason
	Err    error
}

func (e *RejectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("order rejected [%s %s]: %v", e.Symbol, e.Reason, e.Err)
	}
	return fmt.Sprintf("order rejected [%s %s]", e.Symbol, e.Reason)
}

func (e *RejectionError) Unwrap() error { return e.Err }

// IsRetriable reports whether a later cycle may succeed. Rate limits and
// transient network failures are retriable; balance and leverage are not.
func (e *RejectionError) IsRetriable() bool {
	return e.Reason == RejectRateLimit || e.Reason == RejectNetwork
}

// NewRejection creates a venue rejection for a symbol
func NewRejection(symbol Symbol, reason RejectReason, err error) *RejectionError {
	return &RejectionError{Symbol: symbol, Reason: reason, Err: err}
}

// VetoError is returned by the risk manager when a signal fails validation.
// Non-fatal: the signal is dropped for the cycle.
type VetoError struct {
	Symbol Symbol
	Reason string
}

func (e *VetoError) Error() string {
	return fmt.Sprintf("risk veto [%s]: %s", e.Symbol, e.Reason)
}

// NewVeto creates a risk veto for a symbol
func NewVeto(symbol Symbol, reason string) *VetoError {
	return &VetoError{Symbol: symbol, Reason: reason}
}

// PartialFillError reports an order that remained partially filled after the
// single resubmission attempt. The filled portion is kept, the remainder is
// abandoned.
type PartialFillError struct {
	Symbol    Symbol
	Requested decimal.Decimal
	Filled    decimal.Decimal
	// Err carries the venue error that ended the resubmission, when there
	// was one.
	Err error
}

func (e *PartialFillError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("partial fill [%s]: requested %s, filled %s: %v",
			e.Symbol, e.Requested, e.Filled, e.Err)
	}
	return fmt.Sprintf("partial fill [%s]: requested %s, filled %s",
		e.Symbol, e.Requested, e.Filled)
}

func (e *PartialFillError) Unwrap() error { return e.Err }
