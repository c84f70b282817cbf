// Package diag implements the error taxonomy spec.md 7 describes:
// UserIRInvariant and UnsupportedTarget are recoverable at function
// granularity, ResourceExhaustion propagates to the outer driver, and
// InternalInvariant aborts the process. Diagnostic wrapping is grounded
// on github.com/pkg/errors (see SPEC_FULL.md A), matching how the pack's
// systems repos (caddy, moby, perkeep, grailbio) wrap a root cause across
// a recoverable boundary instead of losing it to a plain fmt.Errorf.
package diag

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is the error taxonomy's discriminant (spec.md 7; "kinds, not
// names" per the spec's own phrasing — callers switch on Kind, not on a
// concrete Go error type).
type Kind int

const (
	UserIRInvariant Kind = iota
	UnsupportedTarget
	ResourceExhaustion
)

func (k Kind) String() string {
	switch k {
	case UserIRInvariant:
		return "UserIRInvariant"
	case UnsupportedTarget:
		return "UnsupportedTarget"
	case ResourceExhaustion:
		return "ResourceExhaustion"
	}
	return "Kind(?)"
}

// SourceLocation is the originating safepoint a UserIRInvariant diagnostic
// is surfaced with, when one is known.
type SourceLocation struct {
	File string
	Line, Col int
}

func (l *SourceLocation) String() string {
	if l == nil {
		return "<unknown>"
	}
	return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Col)
}

// Diagnostic is one recoverable failure record (spec.md 7's "user-visible
// failure behavior": "a (possibly empty) list of diagnostic records").
type Diagnostic struct {
	FunctionName string
	Kind         Kind
	Message      string
	Location     *SourceLocation
	cause        error
}

func (d *Diagnostic) Error() string {
	if d.Location != nil {
		return fmt.Sprintf("%s: %s: %s (at %s)", d.FunctionName, d.Kind, d.Message, d.Location)
	}
	return fmt.Sprintf("%s: %s: %s", d.FunctionName, d.Kind, d.Message)
}

// Cause returns the wrapped root cause, or nil.
func (d *Diagnostic) Cause() error { return errors.Cause(d.cause) }

func (d *Diagnostic) Unwrap() error { return d.cause }

// recoverableFailure is the panic payload Raise uses to unwind out of a
// function compile back to Sink.Run's recover point, the way
// cmd/compile/internal/ssa's own Fatalf halts a pass via panic/recover
// (generalized here to distinguish recoverable kinds from fatal ones).
type recoverableFailure struct{ d *Diagnostic }

// Sink collects diagnostics for one function compile and is the boundary
// UserIRInvariant/UnsupportedTarget/ResourceExhaustion unwind to (spec.md
// 7's propagation policy: these three are recoverable at function
// granularity; the rest of the module still compiles).
type Sink struct {
	diags []*Diagnostic
}

func NewSink() *Sink { return &Sink{} }

// Raise records a diagnostic and unwinds the current function compile via
// panic/recover, caught by Run. Never call Raise for InternalInvariant
// failures — those use Fatal instead, which never returns.
func (s *Sink) Raise(kind Kind, fn, format string, args ...interface{}) {
	d := &Diagnostic{FunctionName: fn, Kind: kind, Message: fmt.Sprintf(format, args...)}
	panic(recoverableFailure{d})
}

// RaiseWrap is Raise with an explicit wrapped cause, preserved via
// errors.Wrap so Diagnostic.Cause() survives the recoverable boundary.
func (s *Sink) RaiseWrap(kind Kind, fn string, cause error, format string, args ...interface{}) {
	d := &Diagnostic{FunctionName: fn, Kind: kind, Message: fmt.Sprintf(format, args...), cause: errors.Wrap(cause, fmt.Sprintf(format, args...))}
	panic(recoverableFailure{d})
}

// Run calls body, recovering any Raise'd diagnostic into the sink and
// returning it; re-panics anything else (including InternalInvariant's
// Fatal, which is not a recoverableFailure and must propagate).
func (s *Sink) Run(body func()) (diagnostic *Diagnostic) {
	defer func() {
		if r := recover(); r != nil {
			if rf, ok := r.(recoverableFailure); ok {
				s.diags = append(s.diags, rf.d)
				diagnostic = rf.d
				return
			}
			panic(r)
		}
	}()
	body()
	return nil
}

// Diagnostics returns every diagnostic recorded so far.
func (s *Sink) Diagnostics() []*Diagnostic { return s.diags }

// Fatal reports an InternalInvariant failure: a programming bug, never
// recovered. Panics with "internal invariant violated: " followed by the
// formatted message, in the style of the teacher's own Func.Fatalf in
// cmd/compile/internal/ssa. It adds no node dump, and Sink.Run does not
// recover the panic.
func Fatal(format string, args ...interface{}) {
	panic(fmt.Sprintf("internal invariant violated: "+format, args...))
}
