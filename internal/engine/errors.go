package engine

import (
	"errors"
	"fmt"

	"github.com/mscottkey/fable-engine/internal/story"
)

// ErrorKind classifies a generation-path failure.
type ErrorKind string

const (
	// ErrParseFailed: model output was not valid JSON even after the single
	// repair attempt. Not retried further.
	ErrParseFailed ErrorKind = "parse_failed"
	// ErrSchemaInvalid: parsed JSON did not match the expected structural
	// schema. Never triggers a repair call.
	ErrSchemaInvalid ErrorKind = "schema_invalid"
	// ErrInvalidTarget: a regen addressed a sub-element that does not exist.
	// Caller error; no generation is attempted.
	ErrInvalidTarget ErrorKind = "invalid_target"
	// ErrUpstreamUnavailable: the completion call itself failed.
	ErrUpstreamUnavailable ErrorKind = "upstream_unavailable"
	// ErrPersistenceFailed: writing an approved output or session state
	// failed. Surfaced to the caller, never silently swallowed.
	ErrPersistenceFailed ErrorKind = "persistence_failed"
)

// Failure is a typed generation failure. It carries enough context (phase,
// operation, target) for the caller to retry the same request idempotently.
type Failure struct {
	Kind      ErrorKind
	Phase     story.Phase
	Operation story.Operation
	Target    *story.RegenTarget
	Message   string
	Err       error
}

func (f *Failure) Error() string {
	where := f.Label()
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", where, f.Kind, f.Message, f.Err)
	}
	return fmt.Sprintf("%s: %s: %s", where, f.Kind, f.Message)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Label renders the request coordinates for logs and error text.
func (f *Failure) Label() string {
	if f.Phase == 0 {
		return string(f.Operation)
	}
	label := fmt.Sprintf("%s %s", f.Phase, f.Operation)
	if f.Target != nil {
		label += " " + f.Target.String()
	}
	return label
}

// KindOf extracts the ErrorKind from an error chain; empty when the chain
// carries no Failure.
func KindOf(err error) ErrorKind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}
