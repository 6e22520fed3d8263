package dsync

import "errors"

// ============================================================================
// Error Taxonomy
// ============================================================================

// ValidationError rejects an operation before any store mutation. No revert
// path is involved.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

// NetworkError means a remote call failed or timed out. It triggers the
// operation's revert/fail path and is returned to the caller so the UI can
// offer a retry affordance.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	if e.Err == nil {
		return e.Op + ": network error"
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) Unwrap() error { return e.Err }

// NotFoundError means the target vanished server-side, e.g. deleted by
// another session. Reverts must not resurrect a message the server insists
// no longer exists.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return "message not found: " + e.ID
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNetwork reports whether err is (or wraps) a NetworkError.
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
