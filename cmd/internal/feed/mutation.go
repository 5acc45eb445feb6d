package feed

// category partitions mutation kinds so that at most one optimistic change
// per (target, category) is ever outstanding.
type category string

const (
	catLike      category = "like"
	catShare     category = "share"
	catContent   category = "content"
	catLifecycle category = "lifecycle"
	catRead      category = "read"
)

// markAllTarget is the pending-map target id for window-wide read flips.
const markAllTarget = "*"

type mutOp int

const (
	opLike mutOp = iota
	opCreate
	opEdit
	opDelete
	opShare
	opRead
	opReadAll
)

type pendingKey struct {
	targetID string
	cat      category
}

// pending records one in-flight optimistic change: what was applied to the
// window, and what an exact inversion needs.
type pending struct {
	key pendingKey
	op  mutOp
	gen uint64

	// like protocol: likeBase is the like count with the viewer not liking;
	// likeAcked is the last server-acknowledged viewer state. Rollback
	// restores (likeAcked, likeBase+likeAcked).
	likeBase  int
	likeAcked bool

	// snapshot is the pre-mutation item (edit, delete, share, read) or the
	// optimistic placeholder (create).
	snapshot Item

	// confirmed marks a pending delete whose target a change event removed
	// while the call was in flight; rollback then becomes a no-op.
	confirmed bool

	// flipped holds the ids MarkAllRead changed from unread to read.
	flipped []string
}

// Handle references an outstanding optimistic mutation for later commit or
// rollback. Handles created before a refresh are silently invalidated by it.
type Handle struct {
	p *pending
}

func (s *Store) registerLocked(p *pending) *Handle {
	p.gen = s.gen
	s.pending[p.key] = p
	return &Handle{p: p}
}

// staleLocked reports whether the handle was invalidated by a refresh that
// replaced the window after the mutation was applied.
func (s *Store) staleLocked(h *Handle) bool {
	if h == nil || h.p == nil {
		return true
	}
	if h.p.gen != s.gen {
		return true
	}
	// The record may already have been discarded (coalesced like resolved).
	cur, ok := s.pending[h.p.key]
	return !ok || cur != h.p
}

// OptimisticToggleLike flips the viewer's like state and adjusts the count
// immediately. A second toggle before the first resolves reuses the same
// pending record so rapid taps collapse into the net desired state instead
// of double-applying.
//
// The returned desired flag is the viewer state the backend must converge
// to; coalesced reports whether an earlier toggle is still outstanding.
func (s *Store) OptimisticToggleLike(id string) (h *Handle, desired, coalesced bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.win.get(id)
	if !ok {
		return nil, false, false, ErrNotFound
	}

	key := pendingKey{targetID: id, cat: catLike}
	p, exists := s.pending[key]
	if !exists {
		base := it.LikeCount
		if it.ViewerHasLiked {
			base--
		}
		if base < 0 {
			base = 0
		}
		p = &pending{
			key:       key,
			op:        opLike,
			likeBase:  base,
			likeAcked: it.ViewerHasLiked,
		}
		s.registerLocked(p)
	}

	desired = !it.ViewerHasLiked
	s.win.mutate(id, func(x *Item) {
		x.ViewerHasLiked = desired
		x.LikeCount = p.likeBase + boolToInt(desired)
	})

	s.metrics.mutationApplied(opLike, exists)
	return &Handle{p: p}, desired, exists, nil
}

// AckLike records that the backend acknowledged the given viewer state, so
// a later rollback restores server truth rather than the pre-tap state.
func (s *Store) AckLike(h *Handle, liked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.staleLocked(h) {
		return
	}
	h.p.likeAcked = liked
}

// FinishLike atomically commits a converged like mutation or hands the
// worker the next desired state. This exists so a tap landing between the
// worker's last acknowledgment and its commit is never dropped.
func (s *Store) FinishLike(h *Handle) (next bool, done bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.staleLocked(h) {
		return false, true
	}

	it, ok := s.win.get(h.p.key.targetID)
	if !ok || it.ViewerHasLiked == h.p.likeAcked {
		delete(s.pending, h.p.key)
		s.metrics.mutationResolved(opLike, true)
		return false, true
	}
	return it.ViewerHasLiked, false
}

// OptimisticCreate prepends a placeholder item built from user input. The
// item must carry a client-generated temporary id.
func (s *Store) OptimisticCreate(it Item) (*Handle, error) {
	if it.ID == "" {
		return nil, ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.win.has(it.ID) {
		return nil, ErrMutationPending
	}

	it.clampCounters()
	s.win.insert(it)

	p := &pending{
		key:      pendingKey{targetID: it.ID, cat: catLifecycle},
		op:       opCreate,
		snapshot: it,
	}
	h := s.registerLocked(p)
	s.metrics.mutationApplied(opCreate, false)
	return h, nil
}

// OptimisticEdit rewrites the target's editable fields immediately and
// retains the prior snapshot until the call resolves.
func (s *Store) OptimisticEdit(id string, ch EditChanges) (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.win.get(id)
	if !ok {
		return nil, ErrNotFound
	}

	key := pendingKey{targetID: id, cat: catContent}
	if _, exists := s.pending[key]; exists {
		return nil, ErrMutationPending
	}

	s.win.mutate(id, func(x *Item) {
		x.Body = ch.Body
		x.ImageURL = ch.ImageURL
		x.VideoURL = ch.VideoURL
	})

	p := &pending{key: key, op: opEdit, snapshot: it}
	h := s.registerLocked(p)
	s.metrics.mutationApplied(opEdit, false)
	return h, nil
}

// OptimisticDelete removes the item immediately, keeping a snapshot so a
// failed call can re-insert it at its correct sorted position.
func (s *Store) OptimisticDelete(id string) (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.win.get(id)
	if !ok {
		return nil, ErrNotFound
	}

	key := pendingKey{targetID: id, cat: catLifecycle}
	if _, exists := s.pending[key]; exists {
		return nil, ErrMutationPending
	}

	s.win.remove(id)

	p := &pending{key: key, op: opDelete, snapshot: it}
	h := s.registerLocked(p)
	s.metrics.mutationApplied(opDelete, false)
	return h, nil
}

// OptimisticShare increments the share counter immediately.
func (s *Store) OptimisticShare(id string) (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.win.get(id)
	if !ok {
		return nil, ErrNotFound
	}

	key := pendingKey{targetID: id, cat: catShare}
	if _, exists := s.pending[key]; exists {
		return nil, ErrMutationPending
	}

	s.win.mutate(id, func(x *Item) {
		x.ShareCount++
	})

	p := &pending{key: key, op: opShare, snapshot: it}
	h := s.registerLocked(p)
	s.metrics.mutationApplied(opShare, false)
	return h, nil
}

// OptimisticMarkRead flags one notification as read immediately.
func (s *Store) OptimisticMarkRead(id string) (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.win.get(id)
	if !ok {
		return nil, ErrNotFound
	}

	key := pendingKey{targetID: id, cat: catRead}
	if _, exists := s.pending[key]; exists {
		return nil, ErrMutationPending
	}

	s.win.mutate(id, func(x *Item) {
		x.Read = true
	})

	p := &pending{key: key, op: opRead, snapshot: it}
	h := s.registerLocked(p)
	s.metrics.mutationApplied(opRead, false)
	return h, nil
}

// OptimisticMarkAllRead flags every unread notification as read immediately.
func (s *Store) OptimisticMarkAllRead() (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pendingKey{targetID: markAllTarget, cat: catRead}
	if _, exists := s.pending[key]; exists {
		return nil, ErrMutationPending
	}

	var flipped []string
	for i := range s.win.items {
		if !s.win.items[i].Read {
			s.win.items[i].Read = true
			flipped = append(flipped, s.win.items[i].ID)
		}
	}

	p := &pending{key: key, op: opReadAll, flipped: flipped}
	h := s.registerLocked(p)
	s.metrics.mutationApplied(opReadAll, false)
	return h, nil
}

// Commit makes the optimistic delta permanent and discards the record. A
// later change event carrying the authoritative value still overwrites it
// through ApplyChangeEvent.
func (s *Store) Commit(h *Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.staleLocked(h) {
		return
	}
	delete(s.pending, h.p.key)
	s.metrics.mutationResolved(h.p.op, true)
}

// CommitCreate replaces the optimistic placeholder with the authoritative
// server item. If a realtime insert already delivered the item, the window
// keeps a single copy.
func (s *Store) CommitCreate(h *Handle, authoritative Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.staleLocked(h) {
		return
	}

	s.win.remove(h.p.snapshot.ID)
	s.win.insert(authoritative)
	delete(s.pending, h.p.key)
	s.metrics.mutationResolved(opCreate, true)
	s.metrics.windowSize(s.topic, s.win.len())
}

// CommitEdit folds the authoritative post-edit item back into the window.
func (s *Store) CommitEdit(h *Handle, authoritative Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.staleLocked(h) {
		return
	}

	s.win.mutate(h.p.key.targetID, func(x *Item) {
		x.Body = authoritative.Body
		x.ImageURL = authoritative.ImageURL
		x.VideoURL = authoritative.VideoURL
		x.UpdatedAt = authoritative.UpdatedAt
	})
	delete(s.pending, h.p.key)
	s.metrics.mutationResolved(opEdit, true)
}

// CommitShare folds the authoritative counter value back into the window.
func (s *Store) CommitShare(h *Handle, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.staleLocked(h) {
		return
	}

	s.win.mutate(h.p.key.targetID, func(x *Item) {
		x.ShareCount = count
	})
	delete(s.pending, h.p.key)
	s.metrics.mutationResolved(opShare, true)
}

// Rollback inverts the optimistic delta exactly and discards the record.
// If the target was concurrently deleted by a change event while the
// mutation was in flight, rollback is a no-op: there is nothing to invert
// and the item must not be resurrected.
func (s *Store) Rollback(h *Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.staleLocked(h) {
		return
	}

	p := h.p
	delete(s.pending, p.key)

	switch p.op {
	case opLike:
		s.win.mutate(p.key.targetID, func(x *Item) {
			x.ViewerHasLiked = p.likeAcked
			x.LikeCount = p.likeBase + boolToInt(p.likeAcked)
		})

	case opCreate:
		s.win.remove(p.snapshot.ID)

	case opEdit:
		s.win.mutate(p.key.targetID, func(x *Item) {
			x.Body = p.snapshot.Body
			x.ImageURL = p.snapshot.ImageURL
			x.VideoURL = p.snapshot.VideoURL
		})

	case opDelete:
		if !p.confirmed && !s.win.has(p.snapshot.ID) {
			// Re-insert at the correct sorted position, which is not
			// necessarily where the item used to sit.
			s.win.insert(p.snapshot)
		}

	case opShare:
		s.win.mutate(p.key.targetID, func(x *Item) {
			x.ShareCount--
		})

	case opRead:
		s.win.mutate(p.key.targetID, func(x *Item) {
			x.Read = p.snapshot.Read
		})

	case opReadAll:
		for _, id := range p.flipped {
			s.win.mutate(id, func(x *Item) {
				x.Read = false
			})
		}
	}

	s.log.Info("feed.mutation.rollback", "topic", string(s.topic), "target", p.key.targetID, "category", string(p.key.cat))
	s.metrics.mutationResolved(p.op, false)
	s.metrics.windowSize(s.topic, s.win.len())
}
