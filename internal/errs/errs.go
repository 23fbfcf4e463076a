// Package errs defines the error kinds shared by the classification and
// slicing stages. Every kind aborts the current preparation run.
package errs

import (
	"errors"
	"strings"

	"github.com/rotisserie/eris"
)

// Kind classifies a failure for reporting.
type Kind string

const (
	// KindConfiguration covers missing or contradictory configuration and
	// input layout problems (period suffix mapping, land-use columns).
	KindConfiguration Kind = "configuration"
	// KindLookup covers queries against empty indexes or unknown codes.
	KindLookup Kind = "lookup"
	// KindConsistency covers inputs that contradict each other, such as a
	// period attribute missing from the reference scenario or a zone indexed twice.
	KindConsistency Kind = "consistency"
	// KindExternalStore covers failures from the network store or database.
	KindExternalStore Kind = "external_store"
)

// Error carries a kind plus the stage and entity that failed.
type Error struct {
	Kind   Kind
	Stage  string
	Entity string
	Err    error
}

func (e *Error) Error() string {
	parts := make([]string, 0, 4)
	if e.Stage != "" {
		parts = append(parts, e.Stage)
	}
	parts = append(parts, string(e.Kind))
	if e.Entity != "" {
		parts = append(parts, e.Entity)
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error of the given kind with a formatted cause.
func New(kind Kind, entity, format string, args ...any) *Error {
	return &Error{Kind: kind, Entity: entity, Err: eris.Errorf(format, args...)}
}

// Wrap attaches a kind and entity to err. A nil err returns nil.
func Wrap(err error, kind Kind, entity string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Entity: entity, Err: err}
}

// WithStage records the stage on the first Error in the chain. Errors
// without a kind are wrapped as external store failures, since every
// untyped error reaching a stage boundary comes from storage or I/O.
func WithStage(err error, stage string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Stage == "" {
			e.Stage = stage
		}
		return err
	}
	return &Error{Kind: KindExternalStore, Stage: stage, Err: err}
}

// KindOf returns the kind of the first Error in the chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// StageOf returns the stage recorded on err, or "".
func StageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Stage
	}
	return ""
}

// EntityOf returns the entity recorded on err, or "".
func EntityOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Entity
	}
	return ""
}
