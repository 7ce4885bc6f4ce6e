package errors

import (
	stderrors "errors"
	"strings"
	"testing"
)

func TestError_Message(t *testing.T) {
	err := New(PhaseInvoke, KindPermissionDenied).
		Component("ads").
		Method("track").
		Detail("missing %s", "network permission").
		Build()

	msg := err.Error()
	for _, want := range []string{"[invoke]", "permission_denied", "ads", "track", "network permission"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message %q missing %q", msg, want)
		}
	}
}

func TestError_Is(t *testing.T) {
	err := SecurityViolation(PhaseSecurity, "ads", "untrusted")

	if !stderrors.Is(err, &Error{Kind: KindSecurityViolation}) {
		t.Fatal("expected kind match with empty phase")
	}
	if !stderrors.Is(err, &Error{Phase: PhaseSecurity, Kind: KindSecurityViolation}) {
		t.Fatal("expected phase+kind match")
	}
	if stderrors.Is(err, &Error{Kind: KindPermissionDenied}) {
		t.Fatal("unexpected match on different kind")
	}
	if stderrors.Is(err, &Error{Phase: PhaseMemory, Kind: KindSecurityViolation}) {
		t.Fatal("unexpected match on different phase")
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := stderrors.New("boom")
	err := InvokeFailed("payments", "debit", cause)

	if !stderrors.Is(err, cause) {
		t.Fatal("expected unwrap to reach cause")
	}
	if !strings.Contains(err.Error(), "caused by: boom") {
		t.Fatalf("message %q missing cause", err.Error())
	}
}

func TestKindOf(t *testing.T) {
	if got := KindOf(nil); got != "" {
		t.Fatalf("KindOf(nil) = %q", got)
	}
	if got := KindOf(NotFound(PhaseRegister, "x")); got != KindComponentNotFound {
		t.Fatalf("KindOf = %q", got)
	}
	if got := KindOf(stderrors.New("plain")); got != KindUnknown {
		t.Fatalf("KindOf(foreign) = %q", got)
	}
}

func TestLifecycleViolation_Message(t *testing.T) {
	err := LifecycleViolation("payments", "Destroyed", "Ready")
	if !strings.Contains(err.Error(), "Destroyed -> Ready") {
		t.Fatalf("message %q missing transition", err.Error())
	}
}
