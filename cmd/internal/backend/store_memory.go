// Package backend implements the query and mutation boundaries the sync
// core depends on, with an in-memory flavor for development and tests and
// a Postgres flavor for real deployments.
package backend

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"ripple/cmd/internal/feed"
	"ripple/cmd/internal/ids"
)

// ErrNotFound is returned by mutations whose target item does not exist.
var ErrNotFound = errors.New("backend: item not found")

// MemoryStore is an in-memory feed.Querier and feed.Backend bound to one
// viewer.
//
// Concurrency model:
// - A single mutex guards all state; every method is safe for concurrent use.
// - Returned items are copies; callers never observe internal state mutating.
type MemoryStore struct {
	mu     sync.Mutex
	viewer string
	now    func() time.Time

	items  map[string]feed.Item
	topics map[feed.Topic][]string
	likes  map[string]map[string]struct{}
}

// MemoryOption configures MemoryStore behavior.
type MemoryOption func(*MemoryStore)

// WithClock overrides the time source (default: time.Now UTC).
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMemoryStore constructs a store whose per-viewer fields (like state)
// are computed for the given viewer.
func NewMemoryStore(viewer string, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		viewer: viewer,
		now:    func() time.Time { return time.Now().UTC() },
		items:  make(map[string]feed.Item),
		topics: make(map[feed.Topic][]string),
		likes:  make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Seed places items under a topic verbatim, keeping their ids, timestamps
// and counters. Intended for tests and the dev backend.
func (s *MemoryStore) Seed(topic feed.Topic, items ...feed.Item) error {
	if err := topic.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range items {
		if it.ID == "" {
			return errors.New("backend: seed item without id")
		}
		if _, dup := s.items[it.ID]; dup {
			continue
		}
		s.items[it.ID] = it
		s.topics[topic] = append(s.topics[topic], it.ID)
	}
	return nil
}

// SeedLike records an existing like without touching the counter, so tests
// can construct viewer-liked items.
func (s *MemoryStore) SeedLike(itemID, viewerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addLikeLocked(itemID, viewerID)
}

// FetchPage implements feed.Querier: up to pageSize items for the topic,
// strictly older than the cursor, newest first.
func (s *MemoryStore) FetchPage(ctx context.Context, topic feed.Topic, pageSize int, before *feed.Cursor) ([]feed.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := topic.Validate(); err != nil {
		return nil, err
	}
	if pageSize <= 0 {
		pageSize = feed.DefaultPageSize
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	page := make([]feed.Item, 0, len(s.topics[topic]))
	for _, id := range s.topics[topic] {
		it, ok := s.items[id]
		if !ok {
			continue
		}
		if before != nil {
			ghost := feed.Item{ID: before.ID, CreatedAt: before.CreatedAt}
			if !ghost.Before(it) {
				continue
			}
		}
		page = append(page, s.decorateLocked(it))
	}

	sort.Slice(page, func(i, j int) bool { return page[i].Before(page[j]) })
	if len(page) > pageSize {
		page = page[:pageSize]
	}
	return page, nil
}

// Insert implements feed.Backend. The store assigns the authoritative id
// and timestamps; a comment insert also bumps its parent post's counter.
func (s *MemoryStore) Insert(ctx context.Context, it feed.Item) (feed.Item, error) {
	if err := ctx.Err(); err != nil {
		return feed.Item{}, err
	}
	topic, err := topicFor(it)
	if err != nil {
		return feed.Item{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	id, err := ids.NewULID(now)
	if err != nil {
		return feed.Item{}, err
	}
	it.ID = id
	it.CreatedAt = now
	it.UpdatedAt = now

	s.items[it.ID] = it
	s.topics[topic] = append(s.topics[topic], it.ID)

	if it.Kind == feed.KindComment {
		if parent, ok := s.items[it.TargetID]; ok {
			parent.CommentCount++
			s.items[parent.ID] = parent
		}
	}
	return s.decorateLocked(it), nil
}

// Update implements feed.Backend.
func (s *MemoryStore) Update(ctx context.Context, _ feed.Topic, id string, ch feed.EditChanges) (feed.Item, error) {
	if err := ctx.Err(); err != nil {
		return feed.Item{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[id]
	if !ok {
		return feed.Item{}, ErrNotFound
	}
	it.Body = ch.Body
	it.ImageURL = ch.ImageURL
	it.VideoURL = ch.VideoURL
	it.UpdatedAt = s.now()
	s.items[id] = it
	return s.decorateLocked(it), nil
}

// Delete implements feed.Backend.
func (s *MemoryStore) Delete(ctx context.Context, topic feed.Topic, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.items, id)
	delete(s.likes, id)
	s.topics[topic] = removeID(s.topics[topic], id)

	if it.Kind == feed.KindComment {
		if parent, pok := s.items[it.TargetID]; pok && parent.CommentCount > 0 {
			parent.CommentCount--
			s.items[parent.ID] = parent
		}
	}
	return nil
}

// SetLike implements feed.Backend. Setting the state it is already in is a
// no-op, so retries and coalesced toggles never skew the counter.
func (s *MemoryStore) SetLike(ctx context.Context, targetID, viewerID string, liked bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[targetID]
	if !ok {
		return ErrNotFound
	}
	_, had := s.likes[targetID][viewerID]
	switch {
	case liked && !had:
		s.addLikeLocked(targetID, viewerID)
		it.LikeCount++
	case !liked && had:
		delete(s.likes[targetID], viewerID)
		if it.LikeCount > 0 {
			it.LikeCount--
		}
	default:
		return nil
	}
	s.items[targetID] = it
	return nil
}

// IncrementShare implements feed.Backend.
func (s *MemoryStore) IncrementShare(ctx context.Context, id string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[id]
	if !ok {
		return 0, ErrNotFound
	}
	it.ShareCount++
	s.items[id] = it
	return it.ShareCount, nil
}

// MarkRead implements feed.Backend.
func (s *MemoryStore) MarkRead(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	it.Read = true
	s.items[id] = it
	return nil
}

// MarkAllRead implements feed.Backend.
func (s *MemoryStore) MarkAllRead(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.topics[feed.NotificationsTopic(userID)] {
		if it, ok := s.items[id]; ok {
			it.Read = true
			s.items[id] = it
		}
	}
	return nil
}

func (s *MemoryStore) addLikeLocked(itemID, viewerID string) {
	set, ok := s.likes[itemID]
	if !ok {
		set = make(map[string]struct{})
		s.likes[itemID] = set
	}
	set[viewerID] = struct{}{}
}

func (s *MemoryStore) decorateLocked(it feed.Item) feed.Item {
	_, it.ViewerHasLiked = s.likes[it.ID][s.viewer]
	return it
}

// topicFor derives the topic an inserted item belongs to from its kind and
// target.
func topicFor(it feed.Item) (feed.Topic, error) {
	switch it.Kind {
	case feed.KindPost:
		return feed.PostsTopic(), nil
	case feed.KindComment:
		if it.TargetID == "" {
			return "", errors.New("backend: comment without target post")
		}
		return feed.CommentsTopic(it.TargetID), nil
	case feed.KindNotification:
		if it.TargetID == "" {
			return "", errors.New("backend: notification without recipient")
		}
		return feed.NotificationsTopic(it.TargetID), nil
	default:
		return "", errors.New("backend: unknown item kind")
	}
}

func removeID(idList []string, id string) []string {
	for i, v := range idList {
		if v == id {
			return append(idList[:i], idList[i+1:]...)
		}
	}
	return idList
}
