package graph

import "errors"

var (
	// ErrStoreUnavailable indicates the knowledge store could not be
	// reached or rejected a query. Fatal for the current operation.
	ErrStoreUnavailable = errors.New("knowledge store unavailable")

	// ErrNotFound indicates the requested node does not exist.
	ErrNotFound = errors.New("not found")
)
