package cli

import (
	"errors"
	"testing"
)

func TestExitStatusRoundTrip(t *testing.T) {
	for _, s := range []exitStatus{exitSomeFailed, exitUserAbort, exitUsage, exitFatal} {
		if got := ExitCode(s.Err()); got != int(s) {
			t.Fatalf("ExitCode(%d.Err()) = %d", s, got)
		}
	}
}

func TestExitOKYieldsNilError(t *testing.T) {
	if err := exitOK.Err(); err != nil {
		t.Fatalf("exitOK.Err() = %v, want nil", err)
	}
	if got := ExitCode(nil); got != 0 {
		t.Fatalf("ExitCode(nil) = %d", got)
	}
}

func TestExitCodeTreatsForeignErrorsAsUsage(t *testing.T) {
	if got := ExitCode(errors.New("unknown flag: --frobnicate")); got != int(exitUsage) {
		t.Fatalf("ExitCode(cobra error) = %d, want %d", got, exitUsage)
	}
}

func TestPickResolverModes(t *testing.T) {
	if _, err := pickResolver("newer"); err != nil {
		t.Fatalf("newer: %v", err)
	}
	if _, err := pickResolver("older"); err != nil {
		t.Fatalf("older: %v", err)
	}
	if _, err := pickResolver("coin-flip"); err == nil {
		t.Fatal("unknown mode must be rejected")
	}
}
