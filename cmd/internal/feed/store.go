// Package feed implements the client-side feed synchronization core: an
// in-memory window per topic that merges paginated fetches, realtime change
// events, and locally-originated optimistic mutations into one consistent,
// ordered, deduplicated view.
//
// Concurrency model:
//   - Every window mutation is serialized behind the Store's lock; no two
//     writers interleave a read-modify-write on the window.
//   - Network calls never happen under the lock. The Paginator and Mutator
//     suspend on the wire, then fold results back in through Store methods.
//   - A refresh replaces the window authoritatively and bumps an internal
//     generation; page results and mutation handles created under an older
//     generation are discarded when they eventually resolve.
package feed

import (
	"log/slog"
	"sync"
)

// DefaultPageSize matches the original client's feed page length.
const DefaultPageSize = 10

// Config configures a Store.
type Config struct {
	Topic    Topic
	PageSize int
	Log      *slog.Logger
	Metrics  *Metrics
}

// Store owns the authoritative window for one topic and applies all three
// kinds of writes (page results, change events, optimistic deltas) under
// one reconciliation rule.
type Store struct {
	topic    Topic
	pageSize int
	log      *slog.Logger
	metrics  *Metrics

	mu         sync.Mutex
	win        window
	hasMore    bool
	loading    bool
	refreshing bool
	gen        uint64
	pending    map[pendingKey]*pending
}

// NewStore constructs a Store for one topic.
func NewStore(cfg Config) (*Store, error) {
	if err := cfg.Topic.Validate(); err != nil {
		return nil, err
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}

	return &Store{
		topic:    cfg.Topic,
		pageSize: cfg.PageSize,
		log:      cfg.Log,
		metrics:  cfg.Metrics,
		win:      newWindow(),
		hasMore:  true,
		pending:  make(map[pendingKey]*pending),
	}, nil
}

// Topic returns the topic this store is bound to.
func (s *Store) Topic() Topic { return s.topic }

// PageSize returns the configured page length.
func (s *Store) PageSize() int { return s.pageSize }

// Len returns the number of materialized items.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.win.len()
}

// Items returns an ordered copy of the window.
func (s *Store) Items() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.win.snapshot()
}

// Get returns a copy of the item with the given id.
func (s *Store) Get(id string) (Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.win.get(id)
}

// HasMore reports whether older items remain on the server.
func (s *Store) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

// Loading reports whether a page fetch is in flight.
func (s *Store) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Refreshing reports whether a full refresh is in flight.
func (s *Store) Refreshing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshing
}

// Cursor returns the sort key of the oldest loaded item, or nil when the
// window is empty.
func (s *Store) Cursor() *Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.win.oldest()
	if !ok {
		return nil
	}
	return &c
}

// Generation returns the current refresh generation.
func (s *Store) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// UnreadCount returns the number of unread notifications in the window.
func (s *Store) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range s.win.items {
		if s.win.items[i].Kind == KindNotification && !s.win.items[i].Read {
			n++
		}
	}
	return n
}

// PendingCount returns the number of outstanding optimistic mutations.
func (s *Store) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// BeginLoad reserves an in-flight slot for a page fetch and returns the
// generation the eventual result must carry.
//
// Rules:
//   - at most one loadMore and one refresh may be in flight at a time
//   - loadMore is refused while any load is in flight or HasMore is false
//   - refresh is refused only while another refresh is in flight, so it can
//     supersede a slow loadMore (whose result is then discarded by the
//     generation check in LoadPage)
func (s *Store) BeginLoad(first bool) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if first {
		if s.refreshing {
			return 0, false
		}
		s.refreshing = true
		return s.gen, true
	}

	if s.loading || s.refreshing || !s.hasMore {
		return 0, false
	}
	s.loading = true
	return s.gen, true
}

// AbortLoad releases the in-flight slot after a failed fetch.
func (s *Store) AbortLoad(first bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if first {
		s.refreshing = false
	} else {
		s.loading = false
	}
}

// LoadPageInput carries a batch of server-fetched items into the window.
type LoadPageInput struct {
	Items []Item
	First bool
	Gen   uint64
}

// LoadPageResult reports how a page batch was folded in.
type LoadPageResult struct {
	// Stale is true when the batch was superseded by a refresh and discarded.
	Stale bool
	// Applied is the number of items newly materialized.
	Applied int
}

// LoadPage inserts a batch of server-fetched items.
//
// First-page batches replace the entire window (initial load and
// pull-to-refresh are authoritative; realtime state observed before the
// refresh is dropped unless the batch re-includes it) and invalidate all
// outstanding mutation handles. Later pages merge-insert, because a
// realtime insert may already have placed a newer item ahead of the fetch
// window. HasMore is set iff the batch filled the page.
func (s *Store) LoadPage(in LoadPageInput) LoadPageResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if in.First {
		s.refreshing = false

		s.gen++
		s.pending = make(map[pendingKey]*pending)
		s.win.replaceAll(in.Items)
		s.hasMore = len(in.Items) == s.pageSize

		s.log.Info("feed.page.load",
			"topic", string(s.topic),
			"first", true,
			"count", s.win.len(),
			"has_more", s.hasMore,
		)
		s.metrics.pageLoaded(s.topic, true)
		s.metrics.windowSize(s.topic, s.win.len())
		return LoadPageResult{Applied: s.win.len()}
	}

	s.loading = false
	if in.Gen != s.gen {
		// Superseded by a refresh that already replaced the window; applying
		// the batch now could resurrect a stale item.
		s.log.Info("feed.page.stale", "topic", string(s.topic), "count", len(in.Items))
		return LoadPageResult{Stale: true}
	}

	applied := 0
	for _, it := range in.Items {
		if s.win.insert(it) {
			applied++
		}
	}
	s.hasMore = len(in.Items) == s.pageSize

	s.log.Info("feed.page.load",
		"topic", string(s.topic),
		"first", false,
		"count", applied,
		"has_more", s.hasMore,
	)
	s.metrics.pageLoaded(s.topic, false)
	s.metrics.windowSize(s.topic, s.win.len())
	return LoadPageResult{Applied: applied}
}

// ApplyChangeEvent folds one realtime event into the window.
//
// The fold is idempotent: replaying an event produces the same window.
// Unknown ids never error; topic subscriptions are best-effort and may race
// with pagination, so inserts for held ids, updates for absent ids, and
// deletes for absent ids all degrade to no-ops.
func (s *Store) ApplyChangeEvent(ev ChangeEvent) (ChangeOutcome, error) {
	if err := ev.Validate(); err != nil {
		return OutcomeIgnored, err
	}
	if ev.Topic != s.topic {
		return OutcomeIgnored, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	outcome := OutcomeIgnored
	switch ev.Type {
	case EventInsert:
		outcome = s.applyInsertLocked(ev.Item)
	case EventUpdate:
		outcome = s.applyUpdateLocked(ev.Item)
	case EventDelete:
		outcome = s.applyDeleteLocked(ev.ID)
	}

	s.metrics.eventApplied(s.topic, ev.Type, outcome)
	s.metrics.windowSize(s.topic, s.win.len())
	return outcome, nil
}

func (s *Store) applyInsertLocked(it Item) ChangeOutcome {
	if s.win.has(it.ID) {
		// At-least-once delivery; duplicates are expected.
		return OutcomeDuplicate
	}

	// An insert older than the pagination cursor would extend the window
	// past the cursor and make the next page skip the gap in between. The
	// item is reachable through pagination, so skip it here.
	if s.hasMore {
		if oldest, ok := s.win.oldest(); ok {
			ghost := Item{ID: oldest.ID, CreatedAt: oldest.CreatedAt}
			if ghost.Before(it) {
				return OutcomeIgnored
			}
		}
	}

	s.win.insert(it)
	return OutcomeApplied
}

func (s *Store) applyUpdateLocked(it Item) ChangeOutcome {
	if !s.win.has(it.ID) {
		// Not yet loaded; never speculatively insert from a partial update.
		return OutcomeIgnored
	}

	s.win.mutate(it.ID, func(x *Item) {
		x.AuthorName = it.AuthorName
		x.AuthorAvatarURL = it.AuthorAvatarURL
		x.Body = it.Body
		x.ImageURL = it.ImageURL
		x.VideoURL = it.VideoURL
		x.NoteType = it.NoteType
		x.TargetID = it.TargetID
		x.Read = it.Read
		x.UpdatedAt = it.UpdatedAt
		x.LikeCount = it.LikeCount
		x.CommentCount = it.CommentCount
		x.ShareCount = it.ShareCount
		// ViewerHasLiked and CreatedAt are intentionally preserved: the
		// server snapshot carries no viewer context, and CreatedAt is
		// immutable once assigned.
	})

	// The authoritative count supersedes the base an in-flight like was
	// computed from; rebase so a later rollback lands on server truth.
	if p, ok := s.pending[pendingKey{targetID: it.ID, cat: catLike}]; ok {
		p.likeBase = it.LikeCount - boolToInt(p.likeAcked)
		if p.likeBase < 0 {
			p.likeBase = 0
		}
	}
	return OutcomeApplied
}

func (s *Store) applyDeleteLocked(id string) ChangeOutcome {
	// A concurrent optimistic delete may already have removed the item; the
	// event confirms the deletion so a failed round trip must not
	// resurrect it on rollback.
	if p, ok := s.pending[pendingKey{targetID: id, cat: catLifecycle}]; ok && p.op == opDelete {
		p.confirmed = true
	}

	if !s.win.remove(id) {
		return OutcomeIgnored
	}
	return OutcomeApplied
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
