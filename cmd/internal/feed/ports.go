package feed

import (
	"context"
	"io"
)

// The sync core consumes, and does not implement, the collaborator
// interfaces below. Implementations live under cmd/internal/backend,
// cmd/internal/identity and cmd/internal/media.

// Querier is the paginated query boundary. FetchPage returns up to pageSize
// items for the topic, strictly older than the cursor (all items when the
// cursor is nil), each already carrying author display fields and current
// counters for the configured viewer.
type Querier interface {
	FetchPage(ctx context.Context, topic Topic, pageSize int, before *Cursor) ([]Item, error)
}

// EditChanges is the set of editable fields for an item.
type EditChanges struct {
	Body     string
	ImageURL string
	VideoURL string
}

// Backend is the point-mutation boundary. Every call returns either the
// authoritative resulting state or an error; the core rolls back on any
// error, whether it is a timeout, a rejection, or connectivity loss.
type Backend interface {
	// Insert stores a new item and returns it with the server-assigned id
	// and CreatedAt.
	Insert(ctx context.Context, it Item) (Item, error)

	// Update rewrites the editable fields and returns the resulting item.
	Update(ctx context.Context, topic Topic, id string, ch EditChanges) (Item, error)

	// Delete removes the item by id.
	Delete(ctx context.Context, topic Topic, id string) error

	// SetLike records or clears the viewer's like on the target item.
	SetLike(ctx context.Context, targetID, viewerID string, liked bool) error

	// IncrementShare atomically increments the share counter where the
	// backend supports it (read-then-write fallback otherwise) and returns
	// the authoritative new count.
	IncrementShare(ctx context.Context, id string) (int, error)

	// MarkRead flags one notification as read.
	MarkRead(ctx context.Context, id string) error

	// MarkAllRead flags every notification of the user as read.
	MarkAllRead(ctx context.Context, userID string) error
}

// Identity exposes the authenticated viewer. The Mutator uses it to
// attribute creates and likes.
type Identity interface {
	ViewerID(ctx context.Context) (string, error)
	IsAuthenticated(ctx context.Context) bool
}

// Uploader is the object-storage boundary, consumed only by the create and
// edit mutation paths. Upload stores the media and returns a publicly
// resolvable URL.
type Uploader interface {
	Upload(ctx context.Context, collection, name string, r io.Reader) (string, error)
}
