package app

import (
	"fmt"

	"ripple/cmd/internal/feed"
)

// Feed bundles the per-topic sync pipeline: the window store, its
// paginator, and the mutator that executes user actions against it.
type Feed struct {
	Store *feed.Store
	Pages *feed.Paginator
	Mut   *feed.Mutator
}

// newFeeds builds one pipeline per configured topic, all sharing the same
// backend, identity, media and metrics.
func newFeeds(
	cfg Config,
	log Logger,
	metrics *feed.Metrics,
	querier feed.Querier,
	backend feed.Backend,
	ident feed.Identity,
	media feed.Uploader,
) (map[feed.Topic]*Feed, error) {
	feeds := make(map[feed.Topic]*Feed, len(cfg.Topics))

	for _, raw := range cfg.Topics {
		topic := feed.Topic(raw)

		size := cfg.PageSize
		if topic.Kind() == feed.KindNotification {
			size = cfg.NotificationsPageSize
		}

		st, err := feed.NewStore(feed.Config{
			Topic:    topic,
			PageSize: size,
			Log:      log,
			Metrics:  metrics,
		})
		if err != nil {
			return nil, fmt.Errorf("topic %q: %w", raw, err)
		}

		pages, err := feed.NewPaginator(st, querier, log)
		if err != nil {
			return nil, err
		}

		mut, err := feed.NewMutator(feed.MutatorConfig{
			Store:    st,
			Backend:  backend,
			Identity: ident,
			Media:    media,
			Log:      log,
		})
		if err != nil {
			return nil, err
		}

		feeds[topic] = &Feed{Store: st, Pages: pages, Mut: mut}
	}

	return feeds, nil
}
