package changefeed

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	v1 "ripple/shared/contracts/changefeed/v1"

	"github.com/nats-io/nats.go"
)

// subjectPrefix roots every changefeed subject.
const subjectPrefix = "changefeed."

// SubjectForTopic maps a feed topic onto a NATS subject.
// Topic scope separators become subject tokens: "comments:p1" ->
// "changefeed.comments.p1".
func SubjectForTopic(topic string) string {
	return subjectPrefix + strings.ReplaceAll(topic, ":", ".")
}

// NATSConfig configures a NATS changefeed client.
type NATSConfig struct {
	// URL is the nats:// server URL.
	URL string

	Log          *slog.Logger
	OnDisconnect DisconnectFunc
}

// NATSClient subscribes one subject per topic and forwards normalized
// change events to per-topic sinks. Like the websocket client it does not
// reconnect on its own; the owner re-dials and refreshes.
type NATSClient struct {
	log   *slog.Logger
	nc    *nats.Conn
	subs  []*nats.Subscription
	sinks map[feedTopic]Sink

	onDisconnect DisconnectFunc
	notifyOnce   sync.Once

	done      chan struct{}
	closeOnce sync.Once
}

// ConnectNATS connects and subscribes each sink's topic.
func ConnectNATS(cfg NATSConfig, sinks map[feedTopic]Sink) (*NATSClient, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("changefeed: empty nats url")
	}
	if len(sinks) == 0 {
		return nil, errors.New("changefeed: no sinks")
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}

	c := &NATSClient{
		log:          cfg.Log,
		sinks:        sinks,
		onDisconnect: cfg.OnDisconnect,
		done:         make(chan struct{}),
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name("ripple-changefeed"),
		// The owner handles reconnection and the refresh that covers the
		// delivery gap; silent resubscription would hide that gap.
		nats.NoReconnect(),
		nats.ClosedHandler(func(conn *nats.Conn) {
			c.signalLost(conn.LastError())
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.signalLost(err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("changefeed: nats connect: %w", err)
	}
	c.nc = nc

	for topic, sink := range sinks {
		topic, sink := topic, sink
		sub, err := nc.Subscribe(SubjectForTopic(topic), func(msg *nats.Msg) {
			c.dispatch(topic, sink, msg.Data)
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("changefeed: subscribe %s: %w", topic, err)
		}
		c.subs = append(c.subs, sub)
		c.log.Info("changefeed.subscribe", "topic", topic, "subject", SubjectForTopic(topic))
	}

	return c, nil
}

func (c *NATSClient) dispatch(topic string, sink Sink, data []byte) {
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.log.Info("changefeed.frame.invalid", "topic", topic, "err", err)
		return
	}

	ev, err := Normalize(env)
	if err != nil {
		c.log.Info("changefeed.event.invalid", "topic", topic, "err", err)
		return
	}
	if string(ev.Topic) != topic {
		// Subject and envelope disagree; drop rather than misroute.
		return
	}

	outcome, err := sink.ApplyChangeEvent(ev)
	if err != nil {
		c.log.Info("changefeed.event.rejected", "topic", topic, "err", err)
		return
	}
	c.log.Debug("changefeed.event", "topic", topic, "type", string(ev.Type), "outcome", string(outcome))
}

func (c *NATSClient) signalLost(err error) {
	select {
	case <-c.done:
		return
	default:
	}
	c.log.Info("changefeed.disconnect", "err", err)
	c.notifyOnce.Do(func() {
		if c.onDisconnect != nil {
			c.onDisconnect(err)
		}
	})
	c.closeOnce.Do(func() { close(c.done) })
}

// Done returns a channel closed when the client has shut down.
func (c *NATSClient) Done() <-chan struct{} { return c.done }

// Close unsubscribes and drops the connection (idempotent).
func (c *NATSClient) Close() {
	c.closeOnce.Do(func() { close(c.done) })
	c.notifyOnce.Do(func() {
		if c.onDisconnect != nil {
			c.onDisconnect(nil)
		}
	})
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.nc.Close()
}
