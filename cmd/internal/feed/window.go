package feed

import "sort"

// window is the materialized, ordered, deduplicated slice of a topic.
//
// Invariants:
//   - no duplicate ids
//   - always sorted by (CreatedAt desc, ID asc)
//
// window is not safe for concurrent use; the owning Store serializes all
// access behind its lock.
type window struct {
	items   []Item
	present map[string]struct{}
}

func newWindow() window {
	return window{present: make(map[string]struct{})}
}

func (w *window) len() int { return len(w.items) }

func (w *window) has(id string) bool {
	_, ok := w.present[id]
	return ok
}

// get returns a copy of the item with the given id.
func (w *window) get(id string) (Item, bool) {
	if !w.has(id) {
		return Item{}, false
	}
	for i := range w.items {
		if w.items[i].ID == id {
			return w.items[i], true
		}
	}
	return Item{}, false
}

// snapshot returns a copy of the ordered items.
func (w *window) snapshot() []Item {
	out := make([]Item, len(w.items))
	copy(out, w.items)
	return out
}

// oldest returns the sort key of the last (oldest) item.
func (w *window) oldest() (Cursor, bool) {
	if len(w.items) == 0 {
		return Cursor{}, false
	}
	return w.items[len(w.items)-1].SortKey(), true
}

// insert merge-inserts the item at its sorted position.
// It returns false without mutating when the id is already present.
func (w *window) insert(it Item) bool {
	if w.has(it.ID) {
		return false
	}
	it.clampCounters()

	pos := sort.Search(len(w.items), func(i int) bool {
		return it.Before(w.items[i])
	})

	w.items = append(w.items, Item{})
	copy(w.items[pos+1:], w.items[pos:])
	w.items[pos] = it
	w.present[it.ID] = struct{}{}
	return true
}

// remove deletes the item with the given id, reporting whether it was held.
func (w *window) remove(id string) bool {
	if !w.has(id) {
		return false
	}
	for i := range w.items {
		if w.items[i].ID == id {
			w.items = append(w.items[:i], w.items[i+1:]...)
			delete(w.present, id)
			return true
		}
	}
	return false
}

// mutate applies fn to the item with the given id in place. The id and
// CreatedAt are fixed by the caller's contract, so the position is stable.
func (w *window) mutate(id string, fn func(*Item)) bool {
	if !w.has(id) {
		return false
	}
	for i := range w.items {
		if w.items[i].ID == id {
			fn(&w.items[i])
			w.items[i].ID = id
			w.items[i].clampCounters()
			return true
		}
	}
	return false
}

// replaceAll swaps the entire contents for a fresh, authoritative batch.
// Duplicate ids within the batch keep the first (newest) occurrence.
func (w *window) replaceAll(items []Item) {
	w.items = w.items[:0]
	w.present = make(map[string]struct{}, len(items))
	for _, it := range items {
		w.insert(it)
	}
}
