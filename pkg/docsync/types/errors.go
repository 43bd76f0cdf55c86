// Package types holds the sentinel errors and small shared value types used
// across the convergence engine, so that core, peer, and transport do not
// need to import one another just to compare an error kind.
package types

import "errors"

var (
	// ErrNoTextAvailable is returned by a peer's GetText handler before any
	// initial text has been configured.
	ErrNoTextAvailable = errors.New("docsync: no text available")

	// ErrPatchNotApplicable is returned by the Coordinator when a submitted
	// TryApplyPatch does not strict-apply against its current text.
	ErrPatchNotApplicable = errors.New("docsync: patch not applicable")

	// ErrHistoryUnderflow is returned by HistoryLine.PopLatest on an empty
	// history.
	ErrHistoryUnderflow = errors.New("docsync: history underflow")

	// ErrHistoryInconsistent is returned by TimeMachine.Recover when history
	// is exhausted without the remote patch ever applying cleanly.
	ErrHistoryInconsistent = errors.New("docsync: history inconsistent")

	// ErrRollbackFailed is a degenerate ErrHistoryInconsistent: the strict
	// apply of a recorded inverse patch itself failed.
	ErrRollbackFailed = errors.New("docsync: rollback failed")

	// ErrUnknownCoordinatorError is what a Call returns when the remote side
	// reports an error that is not one of the transport's named kinds.
	// Local transport failures (a failed write, a cancelled context) are
	// returned as they are.
	ErrUnknownCoordinatorError = errors.New("docsync: unknown coordinator error")

	// ErrCannotReachTimeSource is fatal at startup: the clock source could
	// not complete its NTP exchange.
	ErrCannotReachTimeSource = errors.New("docsync: cannot reach time source")

	// ErrServerPortNotInitialized is a programmer error: querying the bound
	// port before Listen has completed.
	ErrServerPortNotInitialized = errors.New("docsync: server port not initialized")

	// ErrNotConnected is returned by a Participant operation that requires
	// an upstream Coordinator handle before Connect has ever been called.
	ErrNotConnected = errors.New("docsync: not connected to coordinator")

	// ErrEncodingUnsupported is returned when a patch's wire encoding cannot
	// be parsed back into a Patch.
	ErrEncodingUnsupported = errors.New("docsync: patch encoding unsupported")

	// ErrCommandUnknown is returned by the transport dispatcher for a command
	// name with no registered handler.
	ErrCommandUnknown = errors.New("docsync: unknown command")
)
