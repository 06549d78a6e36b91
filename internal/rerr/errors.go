// Package rerr defines the CORE's error taxonomy: a small set of machine-readable
// kinds that every subsystem (cache, loader, pool, batcher, version manager,
// engine) wraps its failures in, so callers can branch on errors.Is/errors.As
// instead of parsing messages.
package rerr

import (
	"errors"
	"fmt"
)

// Kind is a machine-readable error classification.
type Kind string

const (
	KindNetwork        Kind = "network-error"
	KindTimeout        Kind = "timeout"
	KindPoolExhausted  Kind = "pool-exhausted"
	KindPoolClosed     Kind = "pool-closed"
	KindHTTPError      Kind = "http-error"
	KindParseError     Kind = "parse-error"
	KindValidationErr  Kind = "validation-error"
	KindRuleNotFound   Kind = "rule-not-found"
	KindConfigError    Kind = "config-error"
	KindRollbackError  Kind = "rollback-error"
	KindBatcherClosed  Kind = "batcher-closed"
)

// Recoverable reports whether a retry of the operation that produced this
// kind might succeed, per the taxonomy in the error handling design.
func (k Kind) Recoverable() bool {
	switch k {
	case KindNetwork, KindTimeout, KindPoolExhausted:
		return true
	default:
		return false
	}
}

// CoreError is the base error type returned by CORE subsystems.
type CoreError struct {
	Kind Kind
	// Status is the HTTP status code for KindHTTPError; zero otherwise.
	Status int
	Err    error
}

func (e *CoreError) Error() string {
	if e.Kind == KindHTTPError && e.Status != 0 {
		if e.Err != nil {
			return fmt.Sprintf("rulecore [%s %d]: %v", e.Kind, e.Status, e.Err)
		}
		return fmt.Sprintf("rulecore [%s %d]", e.Kind, e.Status)
	}
	if e.Err != nil {
		return fmt.Sprintf("rulecore [%s]: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("rulecore [%s]", e.Kind)
}

func (e *CoreError) Unwrap() error { return e.Err }

// Is allows errors.Is(err, rerr.New(KindTimeout, nil)) style matching on kind alone.
func (e *CoreError) Is(target error) bool {
	t, ok := target.(*CoreError)
	if !ok {
		return false
	}
	if t.Err != nil {
		return e.Kind == t.Kind && errors.Is(e.Err, t.Err)
	}
	return e.Kind == t.Kind
}

// New wraps err under the given kind. err may be nil.
func New(kind Kind, err error) *CoreError {
	return &CoreError{Kind: kind, Err: err}
}

// HTTPError builds a terminal http-error with the given upstream status code.
func HTTPError(status int, err error) *CoreError {
	return &CoreError{Kind: KindHTTPError, Status: status, Err: err}
}

// Sentinel instances for errors.Is(err, rerr.ErrX) without constructing a CoreError.
var (
	ErrPoolExhausted = New(KindPoolExhausted, errors.New("no connection available before queue timeout"))
	ErrPoolClosed    = New(KindPoolClosed, errors.New("pool is closed"))
	ErrRuleNotFound  = New(KindRuleNotFound, errors.New("rule not found"))
	ErrRollback      = New(KindRollbackError, errors.New("no snapshot available at requested index"))
	ErrBatcherClosed = New(KindBatcherClosed, errors.New("batcher is closed"))
)

// Of reports the Kind of err if it (or something it wraps) is a *CoreError.
func Of(err error) (Kind, bool) {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return "", false
}
