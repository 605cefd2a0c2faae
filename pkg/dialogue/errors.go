package dialogue

import "errors"

var (
	// ErrInvalidInput marks client mistakes (missing ids, empty message).
	// Rejected before any persisted state is touched.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound is returned by stores when the session does not exist.
	ErrNotFound = errors.New("not found")

	// ErrTurnInProgress means another turn currently holds the per-session
	// lock. The caller may retry once the in-flight turn finishes.
	ErrTurnInProgress = errors.New("turn already in progress")

	// ErrOracleContract marks a structurally broken oracle response: a
	// decision outside the stage's enumeration or a missing required field.
	// The turn fails with no state mutation and may be retried.
	ErrOracleContract = errors.New("oracle contract violation")
)
