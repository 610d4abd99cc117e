package ledger

import (
	"errors"
	"fmt"

	"github.com/R3E-Network/savings_layer/internal/derive"
)

// Kind classifies ledger failures.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindAuthorization
	KindState
	KindCapacity
	KindFatal
)

// String returns the lower-case name of the kind.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindState:
		return "state"
	case KindCapacity:
		return "capacity"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is a typed ledger failure. Compare with errors.Is against the
// package-level sentinels.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

// Validation
var (
	ErrInvalidSavingsRate          = newError(KindValidation, "InvalidSavingsRate", "savings rate must be between 1 and 90")
	ErrInvalidAmount               = newError(KindValidation, "InvalidAmount", "amount must be greater than 0")
	ErrInvalidAllocationName       = newError(KindValidation, "InvalidAllocationName", "allocation name must be 1-32 bytes")
	ErrInvalidAllocationPercentage = newError(KindValidation, "InvalidAllocationPercentage", "allocation percentage must be between 1 and 100")
	ErrIndexOutOfRange             = newError(KindValidation, "IndexOutOfRange", "allocation index out of range")
)

// Authorization
var ErrUnauthorized = newError(KindAuthorization, "Unauthorized", "caller is not permitted to mutate this record")

// State
var (
	ErrAccountNotActive   = newError(KindState, "AccountNotActive", "account is not active")
	ErrPaused             = newError(KindState, "Paused", "protocol is paused")
	ErrAlreadyInitialized = newError(KindState, "AlreadyInitialized", "record already initialized")
	ErrAllocationInactive = newError(KindState, "AllocationInactive", "allocation has been removed")
)

// Capacity
var (
	ErrInsufficientFunds            = newError(KindCapacity, "InsufficientFunds", "insufficient funds")
	ErrAllocationPercentageExceeded = newError(KindCapacity, "AllocationPercentageExceeded", "active allocation percentages would exceed 100")
	ErrTvlCapExceeded               = newError(KindCapacity, "TvlCapExceeded", "deposit would exceed the TVL cap")
	ErrOverflow                     = newError(KindCapacity, "Overflow", "arithmetic overflow")
	ErrTooManyAllocations           = newError(KindCapacity, "TooManyAllocations", "allocation limit reached")
)

// Fatal
var ErrDerivationExhausted = newError(KindFatal, "DerivationExhausted", "no valid account id could be derived")

// KindOf returns the kind of err, or KindUnknown when err is not a ledger error.
// Derivation failures from the derive package are reported as fatal.
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	if errors.Is(err, derive.ErrDerivationExhausted) {
		return KindFatal
	}
	return KindUnknown
}

// CodeOf returns the stable error code for err, or "" for foreign errors.
func CodeOf(err error) string {
	var le *Error
	if errors.As(err, &le) {
		return le.Code
	}
	if errors.Is(err, derive.ErrDerivationExhausted) {
		return ErrDerivationExhausted.Code
	}
	return ""
}
