package resilience

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies broker and market-data failures by how the bot reacts to them.
type Kind string

const (
	KindDataUnavailable   Kind = "data_unavailable"   // skip the symbol this cycle
	KindConnectionFailure Kind = "connection_failure" // transient, retry
	KindServerError       Kind = "server_error"       // transient, retry
	KindAuthFailure       Kind = "auth_failure"       // fatal
	KindPermissionDenied  Kind = "permission_denied"  // fatal
	KindRateLimited       Kind = "rate_limited"       // cooldown, then retry
	KindOrderRejected     Kind = "order_rejected"     // log and move on
	KindInsufficientFunds Kind = "insufficient_funds" // log and move on
)

// Error wraps an underlying failure with its classification.
type Error struct {
	Kind   Kind
	Op     string
	Symbol string
	Err    error
}

func (e *Error) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("%s [%s] %s: %v", e.Op, e.Symbol, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError classifies err for the given operation.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// NewSymbolError classifies err for an operation scoped to one symbol.
func NewSymbolError(kind Kind, op, symbol string, err error) *Error {
	return &Error{Kind: kind, Op: op, Symbol: symbol, Err: err}
}

// DataUnavailable builds the error returned when a symbol has too little
// data to analyze. It is not retryable.
func DataUnavailable(op, symbol, reason string) *Error {
	return &Error{Kind: KindDataUnavailable, Op: op, Symbol: symbol, Err: errors.New(reason)}
}

// KindOf returns the classification of err, or "" when unclassified.
// Unclassified errors are treated as connection failures by the retry
// layer so that plain transport errors still get retried.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}

// Retryable reports whether the failed operation should be attempted again.
func Retryable(err error) bool {
	var co *CircuitOpenError
	if errors.As(err, &co) {
		return false
	}
	switch KindOf(err) {
	case KindConnectionFailure, KindServerError, KindRateLimited:
		return true
	case "":
		// Unclassified transport errors get the transient treatment.
		return err != nil
	}
	return false
}

// Fatal reports whether err should stop the bot entirely.
func Fatal(err error) bool {
	switch KindOf(err) {
	case KindAuthFailure, KindPermissionDenied:
		return true
	}
	return false
}

// CountsTowardBreaker reports whether err increments the circuit breaker
// failure count for its key.
func CountsTowardBreaker(err error) bool {
	switch KindOf(err) {
	case KindConnectionFailure, KindServerError:
		return true
	case "":
		return err != nil
	}
	return false
}

// CircuitOpenError is returned without attempting the operation when the
// breaker for a key is open.
type CircuitOpenError struct {
	Key        string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %s, retry in %v", e.Key, e.RetryAfter.Round(time.Second))
}

// IsCircuitOpen reports whether err is a breaker rejection.
func IsCircuitOpen(err error) bool {
	var co *CircuitOpenError
	return errors.As(err, &co)
}

// IsDataUnavailable reports whether err means the symbol lacks usable data.
func IsDataUnavailable(err error) bool {
	return KindOf(err) == KindDataUnavailable
}
