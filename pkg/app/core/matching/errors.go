package matching

import "errors"

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrNotOwner      = errors.New("order not owned by caller")
	// ErrNotCancellable is returned for orders already FILLED, CANCELLED,
	// UNFILLED or EXPIRED.
	ErrNotCancellable = errors.New("order not cancellable")
)
