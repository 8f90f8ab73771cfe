package cli

import "errors"

// exitStatus is the process exit code a merge invocation ends with.
// The values are part of the tool's contract with scripts that drive
// it; resumability depends on callers being able to tell "some rows
// failed" from "operator aborted, state preserved".
type exitStatus int

const (
	exitOK         exitStatus = 0 // every row applied
	exitSomeFailed exitStatus = 1 // run finished, failed rows listed on stderr
	exitUserAbort  exitStatus = 2 // interrupted; checkpoint left resumable
	exitUsage      exitStatus = 3 // bad flags or arguments
	exitFatal      exitStatus = 4 // store or filesystem error took the run down
)

// Err converts the status into the error returned through cobra, or nil
// for exitOK. Every message has already been printed by the time a
// status is returned, so the error itself carries no text; main unwraps
// the code with ExitCode.
func (s exitStatus) Err() error {
	if s == exitOK {
		return nil
	}
	return &exitCodeError{status: s}
}

type exitCodeError struct {
	status exitStatus
}

func (e *exitCodeError) Error() string { return "" }

// ExitCode maps an error returned by Execute to the process exit code:
// nil is success, an exitCodeError carries its own code, and anything
// else is a usage error from cobra (bad flags, wrong arg count) that
// still needs printing.
func ExitCode(err error) int {
	if err == nil {
		return int(exitOK)
	}
	var ec *exitCodeError
	if errors.As(err, &ec) {
		return int(ec.status)
	}
	return int(exitUsage)
}
