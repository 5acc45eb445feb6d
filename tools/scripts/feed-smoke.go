// Package main provides a CI-friendly smoke test for the Ripple change
// channel.
//
// It validates:
//   - handshake + subprotocol selection
//   - subscribe -> subscribe_ack per topic
//   - envelope validation on everything the server sends
//   - then prints incoming change events until -count or -watch elapses
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "ripple/shared/contracts/changefeed/v1"

	"github.com/coder/websocket"
)

const (
	defaultSubprotocol = "ripple.changefeed.v1"
	maxReadBytes       = 1 << 16 // 64KiB, matches the client limit
)

type smokeClient struct {
	conn *websocket.Conn

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/changefeed", "Change channel WebSocket URL")
		token   = flag.String("token", "", "Bearer token to send")
		topics  = flag.String("topics", "posts", "Comma-separated topics to subscribe to")
		count   = flag.Int("count", 0, "Exit after this many change events (0 = watch until -watch elapses)")
		watch   = flag.Duration("watch", 10*time.Second, "How long to watch for events after subscribing")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}

	topicList := splitTopics(*topics)
	if len(topicList) == 0 {
		fatalf("no topics given")
	}

	root := context.Background()

	c := mustConnect(root, *wsURL, *token, *timeout)
	defer closeWS(c.conn)

	for _, topic := range topicList {
		mustSubscribe(root, c, topic, *timeout)
		if *verbose {
			fmt.Printf("subscribed: %s\n", topic)
		}
	}

	seen := watchEvents(root, c, *count, *watch)
	fmt.Printf("OK: topics=%d events=%d\n", len(topicList), seen)
}

func splitTopics(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func mustConnect(parent context.Context, wsURL, token string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(token) != "" {
		h.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{defaultSubprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect: %v", err)
	}

	assertSubprotocol(resp, defaultSubprotocol)
	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		conn:  conn,
		inbox: make(chan v1.Envelope, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()
	return c
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got == "" {
		return
	}
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}
			if err := env.Validate(); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad envelope: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- env:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func mustSubscribe(parent context.Context, c *smokeClient, topic string, stepTimeout time.Duration) {
	env := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeSubscribe,
		ID:      fmt.Sprintf("smoke-sub-%d", time.Now().UnixNano()),
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.SubscribePayload{Topic: topic}),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)

	ack := c.mustReadUntilType(parent, v1.TypeSubscribeAck, stepTimeout)

	var p v1.SubscribeAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal subscribe_ack payload: %v", err)
	}
	if p.Topic != topic {
		fatalf("subscribe_ack topic mismatch: got=%q want=%q", p.Topic, topic)
	}
}

// watchEvents prints change events as they arrive and returns how many were
// seen. With count > 0 it exits early once that many landed.
func watchEvents(parent context.Context, c *smokeClient, count int, wait time.Duration) int {
	ctx, cancel := context.WithTimeout(parent, wait)
	defer cancel()

	seen := 0
	for {
		select {
		case <-ctx.Done():
			if count > 0 && seen < count {
				fatalf("timed out after %d/%d events", seen, count)
			}
			return seen
		case err := <-c.errCh:
			fatalf("connection lost while watching: %v", err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while watching")
			}
			switch env.Type {
			case v1.TypeInsert, v1.TypeUpdate:
				var p v1.ItemPayload
				if err := json.Unmarshal(env.Payload, &p); err != nil {
					fatalf("unmarshal %s payload: %v", env.Type, err)
				}
				fmt.Printf("%s topic=%s id=%s author=%s likes=%d\n",
					env.Type, env.Topic, p.ID, p.AuthorID, p.LikeCount)
			case v1.TypeDelete:
				var p v1.DeletePayload
				if err := json.Unmarshal(env.Payload, &p); err != nil {
					fatalf("unmarshal delete payload: %v", err)
				}
				fmt.Printf("delete topic=%s id=%s\n", env.Topic, p.ID)
			case v1.TypeError:
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error: code=%q msg=%q", ep.Code, ep.Message)
			default:
				continue
			}
			seen++
			if count > 0 && seen >= count {
				return seen
			}
		}
	}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q: %v", wantType, ctx.Err())
		case err := <-c.errCh:
			fatalf("connection error while waiting for %q: %v", wantType, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q", wantType)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error: code=%q msg=%q", ep.Code, ep.Message)
			}
			// Change events may land before the ack; keep waiting.
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
