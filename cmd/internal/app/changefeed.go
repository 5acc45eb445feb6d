package app

import (
	"context"
	"strings"
	"time"

	"ripple/cmd/internal/changefeed"
)

const (
	changefeedDialTimeout = 10 * time.Second
	changefeedBackoffMin  = time.Second
	changefeedBackoffMax  = 30 * time.Second
)

// changeClient is the slice of the ws and nats clients the app manages.
type changeClient interface {
	Done() <-chan struct{}
	Close()
}

// runChangefeed keeps one change channel alive for the app's lifetime.
//
// The clients themselves never retry; this loop owns reconnection so it
// can refresh every window after each successful (re)connect, closing the
// event gap a dropped channel leaves behind.
func (a *App) runChangefeed(ctx context.Context) {
	if a.cfg.ChangefeedURL == "" && a.cfg.NATSURL == "" {
		a.log.Info("changefeed.disabled")
		a.refreshAll(ctx)
		return
	}

	backoff := changefeedBackoffMin
	for {
		client, err := a.connectChangefeed(ctx)
		if err != nil {
			a.log.Warn("changefeed.connect.fail", "err", err, "retry_in", backoff.String())
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, changefeedBackoffMax)
			continue
		}
		backoff = changefeedBackoffMin
		a.log.Info("changefeed.connected")

		// Events emitted while disconnected are gone; an authoritative
		// refresh resynchronizes every window.
		a.refreshAll(ctx)

		select {
		case <-ctx.Done():
			client.Close()
			return
		case <-client.Done():
			a.log.Warn("changefeed.lost")
		}
	}
}

func (a *App) connectChangefeed(ctx context.Context) (changeClient, error) {
	sinks := make(map[string]changefeed.Sink, len(a.feeds))
	for topic, f := range a.feeds {
		sinks[string(topic)] = f.Store
	}

	if a.cfg.NATSURL != "" {
		return changefeed.ConnectNATS(changefeed.NATSConfig{
			URL: a.cfg.NATSURL,
			Log: a.log,
		}, sinks)
	}

	dialCtx, cancel := context.WithTimeout(ctx, changefeedDialTimeout)
	defer cancel()
	return changefeed.DialWS(dialCtx, changefeed.WSConfig{
		URL:   wsBaseURL(a.cfg.ChangefeedURL),
		Token: a.cfg.AccessToken,
		Log:   a.log,
	}, sinks)
}

func (a *App) refreshAll(ctx context.Context) {
	for topic, f := range a.feeds {
		if err := f.Pages.Refresh(ctx); err != nil {
			a.log.Warn("feed.refresh.fail", "topic", string(topic), "err", err)
		}
	}
}

// wsBaseURL normalizes a changefeed URL to a websocket scheme. http(s)
// becomes ws(s); a bare host:port defaults to ws.
func wsBaseURL(u string) string {
	switch {
	case strings.HasPrefix(u, "ws://"), strings.HasPrefix(u, "wss://"):
		return u
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	default:
		return "ws://" + u
	}
}
