package feed

import "errors"

var (
	// ErrNotFound is returned when a mutation targets an id the window does
	// not currently hold.
	ErrNotFound = errors.New("feed: item not found")

	// ErrMutationPending is returned when a second mutation of the same
	// category targets an item whose previous mutation has not resolved.
	ErrMutationPending = errors.New("feed: mutation already pending")

	// ErrNotAuthenticated is returned when a mutation requires a viewer and
	// the identity provider has none.
	ErrNotAuthenticated = errors.New("feed: viewer not authenticated")

	// ErrEmptyBody is returned for creates and edits with no content.
	ErrEmptyBody = errors.New("feed: empty body")
)
