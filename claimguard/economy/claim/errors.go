package claim

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a claim failure. Validation-kind failures are resolved
// locally and returned as typed results; infrastructure failures carry
// enough detail for the caller to decide whether to retry.
type Kind string

const (
	KindLockContention      Kind = "lock_contention"
	KindRateLimited         Kind = "rate_limited"
	KindBlocked             Kind = "blocked"
	KindInvalidAmount       Kind = "invalid_amount"
	KindInsufficientBalance Kind = "insufficient_balance"
	KindSuspiciousPattern   Kind = "suspicious_pattern"
	KindVerificationFailed  Kind = "verification_failed"
	KindBalanceUnavailable  Kind = "balance_unavailable"
	KindLedgerWrite         Kind = "ledger_write"
)

// Error is a typed claim failure with a user-presentable message.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	return fmt.Sprintf("claim rejected (%s): %s", e.Kind, e.Message)
}

func newError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// IsKind reports whether err is a claim error of the given kind.
func IsKind(err error, kind Kind) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Kind == kind
}

// KindOf extracts the failure kind from err, or empty for untyped errors.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}
