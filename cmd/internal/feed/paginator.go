package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Paginator computes the next fetch window from the store's cursor and
// issues bounded requests, merging results without disturbing
// realtime-driven insertions.
type Paginator struct {
	store   *Store
	querier Querier
	log     *slog.Logger
}

// NewPaginator constructs a Paginator bound to one store.
func NewPaginator(store *Store, querier Querier, log *slog.Logger) (*Paginator, error) {
	if store == nil {
		return nil, errors.New("feed: nil store")
	}
	if querier == nil {
		return nil, errors.New("feed: nil querier")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Paginator{store: store, querier: querier, log: log}, nil
}

// Refresh fetches page 0 and replaces the window authoritatively. It is a
// no-op while another refresh is in flight.
func (p *Paginator) Refresh(ctx context.Context) error {
	gen, ok := p.store.BeginLoad(true)
	if !ok {
		return nil
	}

	items, err := p.querier.FetchPage(ctx, p.store.Topic(), p.store.PageSize(), nil)
	if err != nil {
		p.store.AbortLoad(true)
		return fmt.Errorf("feed: refresh %s: %w", p.store.Topic(), err)
	}

	p.store.LoadPage(LoadPageInput{Items: items, First: true, Gen: gen})
	return nil
}

// LoadMore fetches the next page of items strictly older than the cursor.
// It is a no-op while a load is in flight or when HasMore is false. A
// result superseded by a refresh is discarded.
func (p *Paginator) LoadMore(ctx context.Context) error {
	gen, ok := p.store.BeginLoad(false)
	if !ok {
		return nil
	}

	cursor := p.store.Cursor()
	items, err := p.querier.FetchPage(ctx, p.store.Topic(), p.store.PageSize(), cursor)
	if err != nil {
		p.store.AbortLoad(false)
		return fmt.Errorf("feed: load more %s: %w", p.store.Topic(), err)
	}

	if res := p.store.LoadPage(LoadPageInput{Items: items, First: false, Gen: gen}); res.Stale {
		p.log.Info("feed.page.discard", "topic", string(p.store.Topic()), "count", len(items))
	}
	return nil
}
