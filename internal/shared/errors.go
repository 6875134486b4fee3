package shared

import "errors"

// Business-rule errors surfaced synchronously to callers. None of these are
// retried automatically; transient storage failures are not part of this set.
var (
	// ErrNotFound indicates a referenced farmer/cycle/log is absent or not
	// owned by the calling officer.
	ErrNotFound = errors.New("not found")
	// ErrForbidden indicates the caller does not manage one of the farmers
	// involved in the operation.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidArgument indicates a malformed request value such as a
	// non-positive amount or a self-transfer.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInsufficientStock indicates a transfer exceeding the committed balance.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInvalidState indicates an operation not permitted in the entity's
	// current state, e.g. reverting a CYCLE_CLOSE or CORRECTION entry.
	ErrInvalidState = errors.New("invalid state")
)
