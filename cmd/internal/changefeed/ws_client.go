package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"ripple/cmd/internal/ids"
	v1 "ripple/shared/contracts/changefeed/v1"

	"github.com/coder/websocket"
)

// Subprotocol is the websocket subprotocol for the changefeed wire contract.
const Subprotocol = "ripple.changefeed.v1"

// WSConfig configures a websocket changefeed client.
type WSConfig struct {
	// URL is the ws:// or wss:// changefeed endpoint.
	URL string

	// Token is the viewer's bearer token, sent on the handshake.
	Token string

	Log          *slog.Logger
	OnDisconnect DisconnectFunc

	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration
}

// WSClient subscribes to change envelopes over one websocket connection and
// forwards normalized events to per-topic sinks.
//
// Lifecycle:
//   - DialWS subscribes every configured topic, then runs a read loop and a
//     heartbeat until the connection drops or Close is called.
//   - Close is idempotent. The disconnect callback fires exactly once.
//   - There is no internal reconnect: the owner re-dials and refreshes its
//     stores to cover the gap.
type WSClient struct {
	log   *slog.Logger
	conn  *websocket.Conn
	sinks map[feedTopic]Sink

	onDisconnect DisconnectFunc
	notifyOnce   sync.Once

	done      chan struct{}
	closeOnce sync.Once
}

// feedTopic keys the sink map without importing feed's Topic into every
// signature here.
type feedTopic = string

// DialWS connects, subscribes each sink's topic, and starts the delivery
// loops. The ctx bounds only the dial and subscribe handshake.
func DialWS(ctx context.Context, cfg WSConfig, sinks map[feedTopic]Sink) (*WSClient, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("changefeed: empty url")
	}
	if len(sinks) == 0 {
		return nil, errors.New("changefeed: no sinks")
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.HeartbeatEvery <= 0 {
		cfg.HeartbeatEvery = heartbeatInterval
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = heartbeatTimeout
	}

	h := http.Header{}
	if strings.TrimSpace(cfg.Token) != "" {
		h.Set("Authorization", "Bearer "+cfg.Token)
	}

	conn, resp, err := websocket.Dial(ctx, cfg.URL, &websocket.DialOptions{
		Subprotocols: []string{Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("changefeed: dial: %w", err)
	}
	conn.SetReadLimit(maxFrameBytes)

	c := &WSClient{
		log:          cfg.Log,
		conn:         conn,
		sinks:        sinks,
		onDisconnect: cfg.OnDisconnect,
		done:         make(chan struct{}),
	}

	for topic := range sinks {
		if err := c.subscribe(ctx, topic); err != nil {
			_ = conn.Close(websocket.StatusProtocolError, "subscribe failed")
			return nil, err
		}
	}

	go c.readLoop()
	go c.heartbeat(cfg.HeartbeatEvery, cfg.HeartbeatTimeout)

	return c, nil
}

func (c *WSClient) subscribe(ctx context.Context, topic string) error {
	id, err := ids.NewULID(time.Now())
	if err != nil {
		return fmt.Errorf("changefeed: envelope id: %w", err)
	}

	payload, err := json.Marshal(v1.SubscribePayload{Topic: topic})
	if err != nil {
		return err
	}

	env := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeSubscribe,
		ID:      id,
		TS:      time.Now().UTC(),
		Payload: payload,
	}

	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := c.conn.Write(wctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("changefeed: subscribe %s: %w", topic, err)
	}

	c.log.Info("changefeed.subscribe", "topic", topic)
	return nil
}

// Done returns a channel closed when the client has shut down.
func (c *WSClient) Done() <-chan struct{} {
	return c.done
}

// Close tears the connection down (idempotent). The disconnect callback
// receives a nil error for a local close.
func (c *WSClient) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close(websocket.StatusNormalClosure, "bye")
	})
	c.notifyDisconnect(nil)
}

func (c *WSClient) notifyDisconnect(err error) {
	c.notifyOnce.Do(func() {
		if c.onDisconnect != nil {
			c.onDisconnect(err)
		}
	})
}

func (c *WSClient) readLoop() {
	ctx := context.Background()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		_, data, err := c.conn.Read(ctx)
		if err != nil {
			select {
			case <-c.done:
				// Local close; already signaled.
			default:
				c.log.Info("changefeed.disconnect", "err", err)
				c.notifyDisconnect(err)
				c.closeOnce.Do(func() {
					close(c.done)
					_ = c.conn.Close(websocket.StatusGoingAway, "read failed")
				})
			}
			return
		}

		c.dispatch(data)
	}
}

func (c *WSClient) dispatch(data []byte) {
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.log.Info("changefeed.frame.invalid", "err", err)
		return
	}

	switch env.Type {
	case v1.TypeSubscribeAck:
		c.log.Info("changefeed.subscribed", "topic", env.Topic)
		return
	case v1.TypeError:
		var p v1.ErrorPayload
		_ = json.Unmarshal(env.Payload, &p)
		c.log.Info("changefeed.server_error", "code", p.Code, "message", p.Message)
		return
	}

	ev, err := Normalize(env)
	if err != nil {
		c.log.Info("changefeed.event.invalid", "err", err)
		return
	}

	sink, ok := c.sinks[string(ev.Topic)]
	if !ok {
		// Best-effort filtering server-side; unknown topics are dropped.
		return
	}

	outcome, err := sink.ApplyChangeEvent(ev)
	if err != nil {
		c.log.Info("changefeed.event.rejected", "topic", string(ev.Topic), "err", err)
		return
	}
	c.log.Debug("changefeed.event", "topic", string(ev.Topic), "type", string(ev.Type), "outcome", string(outcome))
}

func (c *WSClient) heartbeat(every, timeout time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			err := c.conn.Ping(ctx)
			cancel()
			if err != nil {
				select {
				case <-c.done:
				default:
					c.log.Info("changefeed.heartbeat.lost", "err", err)
					c.notifyDisconnect(err)
					c.closeOnce.Do(func() {
						close(c.done)
						_ = c.conn.Close(websocket.StatusGoingAway, "heartbeat lost")
					})
				}
				return
			}
		}
	}
}
