package diag

import (
	"errors"
	"testing"
)

func TestRaiseIsRecoveredBySink(t *testing.T) {
	s := NewSink()
	d := s.Run(func() {
		s.Raise(UserIRInvariant, "f", "phi arity %d mismatch", 3)
	})
	if d == nil {
		t.Fatalf("expected a diagnostic")
	}
	if d.Kind != UserIRInvariant {
		t.Fatalf("expected UserIRInvariant, got %v", d.Kind)
	}
	if len(s.Diagnostics()) != 1 {
		t.Fatalf("expected sink to record 1 diagnostic, got %d", len(s.Diagnostics()))
	}
}

func TestRaiseWrapPreservesCause(t *testing.T) {
	s := NewSink()
	root := errors.New("arena exhausted")
	d := s.Run(func() {
		s.RaiseWrap(ResourceExhaustion, "f", root, "could not grow arena")
	})
	if d == nil || d.Cause() == nil {
		t.Fatalf("expected a diagnostic with a preserved cause")
	}
	if d.Cause().Error() != "arena exhausted" {
		t.Fatalf("unexpected cause: %v", d.Cause())
	}
}

func TestFatalIsNotRecovered(t *testing.T) {
	s := NewSink()
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected Fatal to propagate past Sink.Run")
		}
	}()
	s.Run(func() {
		Fatal("gvn %d has desynced users", 7)
	})
}

func TestNonDiagPanicPropagates(t *testing.T) {
	s := NewSink()
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected an ordinary panic to propagate past Sink.Run")
		}
	}()
	s.Run(func() {
		panic("unrelated bug")
	})
}
