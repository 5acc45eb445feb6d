package feed

import "time"

// Kind discriminates the item flavors a window can hold.
type Kind string

const (
	KindPost         Kind = "post"
	KindComment      Kind = "comment"
	KindNotification Kind = "notification"
)

// Item is one feed entry: a post, a comment on a post, or a notification.
//
// ID is opaque and server-assigned (except optimistic placeholders, which
// carry an ids.TempPrefix ULID until the create round trip resolves).
// CreatedAt is the authoritative ordering key and is immutable once the
// server has assigned it.
type Item struct {
	ID              string
	AuthorID        string
	AuthorName      string
	AuthorAvatarURL string
	Kind            Kind
	CreatedAt       time.Time
	UpdatedAt       time.Time

	// Content payload (kind-specific).
	Body     string
	ImageURL string
	VideoURL string

	// Notification payload.
	NoteType string
	TargetID string
	Read     bool

	// Derived counters. Never negative.
	LikeCount    int
	CommentCount int
	ShareCount   int

	// ViewerHasLiked is per-viewer state computed at load time.
	ViewerHasLiked bool
}

// Before reports whether a sorts ahead of b in window order:
// CreatedAt descending, ties broken by ID ascending so the order is total
// and stable regardless of clock resolution.
func (a Item) Before(b Item) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID < b.ID
}

// SortKey returns the item's position key, also used as pagination cursor.
func (a Item) SortKey() Cursor {
	return Cursor{CreatedAt: a.CreatedAt, ID: a.ID}
}

// clampCounters forces derived counters back into the non-negative range.
func (a *Item) clampCounters() {
	if a.LikeCount < 0 {
		a.LikeCount = 0
	}
	if a.CommentCount < 0 {
		a.CommentCount = 0
	}
	if a.ShareCount < 0 {
		a.ShareCount = 0
	}
}

// Cursor is the (CreatedAt, ID) pair of the oldest loaded item; the next
// page fetches items strictly older than it.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}
