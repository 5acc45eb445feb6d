package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"ripple/cmd/internal/ids"
)

// Object-storage collections used by the create/edit media paths.
const (
	CollectionImages = "post-images"
	CollectionVideos = "post-videos"
)

// MutatorConfig wires a Mutator.
type MutatorConfig struct {
	Store    *Store
	Backend  Backend
	Identity Identity

	// Media is optional; creates and edits with media attachments fail
	// without it.
	Media Uploader
	Log   *slog.Logger
}

// Mutator executes user-initiated mutations against the backend, reflecting
// the expected post-mutation state in the Store immediately and reconciling
// or rolling back on the call's outcome.
//
// All methods are synchronous: they suspend on the network round trip and
// return once the store reflects the resolved state. Callers that need
// fire-and-forget semantics run them on their own goroutine.
type Mutator struct {
	store    *Store
	backend  Backend
	identity Identity
	media    Uploader
	log      *slog.Logger
}

// NewMutator constructs a Mutator bound to one store.
func NewMutator(cfg MutatorConfig) (*Mutator, error) {
	if cfg.Store == nil {
		return nil, errors.New("feed: nil store")
	}
	if cfg.Backend == nil {
		return nil, errors.New("feed: nil backend")
	}
	if cfg.Identity == nil {
		return nil, errors.New("feed: nil identity provider")
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}

	return &Mutator{
		store:    cfg.Store,
		backend:  cfg.Backend,
		identity: cfg.Identity,
		media:    cfg.Media,
		log:      cfg.Log,
	}, nil
}

// ToggleLike flips the viewer's like on the target with instantaneous
// feedback and drives the backend to the desired state.
//
// Rapid repeated taps coalesce: the window always shows the net desired
// state, and a single worker (the first caller) keeps issuing calls until
// the acknowledged state matches it. The count is derived from the current
// viewer-relative state, never from a tally of taps.
func (m *Mutator) ToggleLike(ctx context.Context, targetID string) error {
	viewer, err := m.identity.ViewerID(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
	}

	h, desired, coalesced, err := m.store.OptimisticToggleLike(targetID)
	if err != nil {
		return err
	}
	if coalesced {
		// An earlier tap's worker is still driving the backend; it observes
		// the flipped desired state before committing and converges.
		return nil
	}

	for {
		if err := m.backend.SetLike(ctx, targetID, viewer, desired); err != nil {
			m.store.Rollback(h)
			return fmt.Errorf("feed: set like: %w", err)
		}
		m.store.AckLike(h, desired)

		next, done := m.store.FinishLike(h)
		if done {
			return nil
		}
		desired = next
	}
}

// MediaInput is a local media handle destined for object storage.
type MediaInput struct {
	Name string
	Data io.Reader
}

// CreateInput is the user input for a new post or comment.
type CreateInput struct {
	Body  string
	Image *MediaInput
	Video *MediaInput
}

// Create prepends an optimistic placeholder built from user input, uploads
// any media, and replaces the placeholder with the server item on success.
// On failure the placeholder is removed and the error surfaced.
func (m *Mutator) Create(ctx context.Context, in CreateInput) (Item, error) {
	viewer, err := m.identity.ViewerID(ctx)
	if err != nil {
		return Item{}, fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
	}

	body := strings.TrimSpace(in.Body)
	if body == "" && in.Image == nil && in.Video == nil {
		return Item{}, ErrEmptyBody
	}

	// Media goes up before any optimistic state exists, so an upload
	// failure needs no rollback.
	var imageURL, videoURL string
	if in.Image != nil {
		imageURL, err = m.Upload(ctx, CollectionImages, in.Image.Name, in.Image.Data)
		if err != nil {
			return Item{}, err
		}
	}
	if in.Video != nil {
		videoURL, err = m.Upload(ctx, CollectionVideos, in.Video.Name, in.Video.Data)
		if err != nil {
			return Item{}, err
		}
	}

	now := time.Now().UTC()
	tempID, err := ids.NewTempID(now)
	if err != nil {
		return Item{}, fmt.Errorf("feed: temp id: %w", err)
	}

	it := Item{
		ID:        tempID,
		AuthorID:  viewer,
		Kind:      m.store.Topic().Kind(),
		TargetID:  m.store.Topic().Scope(),
		CreatedAt: now,
		UpdatedAt: now,
		Body:      body,
		ImageURL:  imageURL,
		VideoURL:  videoURL,
	}

	h, err := m.store.OptimisticCreate(it)
	if err != nil {
		return Item{}, err
	}

	authoritative, err := m.backend.Insert(ctx, it)
	if err != nil {
		m.store.Rollback(h)
		return Item{}, fmt.Errorf("feed: create: %w", err)
	}

	m.store.CommitCreate(h, authoritative)
	return authoritative, nil
}

// Upload stores a local media handle in the given collection and returns
// its public URL.
func (m *Mutator) Upload(ctx context.Context, collection, name string, r io.Reader) (string, error) {
	if m.media == nil {
		return "", errors.New("feed: no media uploader configured")
	}
	url, err := m.media.Upload(ctx, collection, name, r)
	if err != nil {
		return "", fmt.Errorf("feed: upload: %w", err)
	}
	return url, nil
}

// Edit rewrites the target's editable fields immediately and restores the
// prior snapshot if the backend refuses the change.
func (m *Mutator) Edit(ctx context.Context, id string, ch EditChanges) error {
	ch.Body = strings.TrimSpace(ch.Body)
	if ch.Body == "" && ch.ImageURL == "" && ch.VideoURL == "" {
		return ErrEmptyBody
	}

	h, err := m.store.OptimisticEdit(id, ch)
	if err != nil {
		return err
	}

	authoritative, err := m.backend.Update(ctx, m.store.Topic(), id, ch)
	if err != nil {
		m.store.Rollback(h)
		return fmt.Errorf("feed: edit: %w", err)
	}

	m.store.CommitEdit(h, authoritative)
	return nil
}

// Delete removes the item immediately; a failed round trip re-inserts it at
// its correct sorted position unless a change event confirmed the deletion
// in the meantime.
func (m *Mutator) Delete(ctx context.Context, id string) error {
	h, err := m.store.OptimisticDelete(id)
	if err != nil {
		return err
	}

	if err := m.backend.Delete(ctx, m.store.Topic(), id); err != nil {
		m.store.Rollback(h)
		return fmt.Errorf("feed: delete: %w", err)
	}

	m.store.Commit(h)
	return nil
}

// Share increments the share counter immediately and reconciles it with the
// backend's atomic increment result.
func (m *Mutator) Share(ctx context.Context, id string) error {
	h, err := m.store.OptimisticShare(id)
	if err != nil {
		return err
	}

	count, err := m.backend.IncrementShare(ctx, id)
	if err != nil {
		m.store.Rollback(h)
		return fmt.Errorf("feed: share: %w", err)
	}

	m.store.CommitShare(h, count)
	return nil
}

// MarkRead flags one notification as read. Already-read targets are a no-op
// without a round trip.
func (m *Mutator) MarkRead(ctx context.Context, id string) error {
	if it, ok := m.store.Get(id); ok && it.Read {
		return nil
	}

	h, err := m.store.OptimisticMarkRead(id)
	if err != nil {
		return err
	}

	if err := m.backend.MarkRead(ctx, id); err != nil {
		m.store.Rollback(h)
		return fmt.Errorf("feed: mark read: %w", err)
	}

	m.store.Commit(h)
	return nil
}

// MarkAllRead flags every notification of the viewer as read.
func (m *Mutator) MarkAllRead(ctx context.Context) error {
	viewer, err := m.identity.ViewerID(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
	}

	h, err := m.store.OptimisticMarkAllRead()
	if err != nil {
		return err
	}

	if err := m.backend.MarkAllRead(ctx, viewer); err != nil {
		m.store.Rollback(h)
		return fmt.Errorf("feed: mark all read: %w", err)
	}

	m.store.Commit(h)
	return nil
}
