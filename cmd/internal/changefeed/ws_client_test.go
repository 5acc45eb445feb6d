package changefeed

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"ripple/cmd/internal/feed"
	v1 "ripple/shared/contracts/changefeed/v1"

	"github.com/coder/websocket"
)

// recordingSink collects applied events and exposes them over a channel so
// tests can wait for asynchronous delivery.
type recordingSink struct {
	mu     sync.Mutex
	events []feed.ChangeEvent
	ch     chan feed.ChangeEvent
}

func newRecordingSink() *recordingSink {
	return &recordingSink{ch: make(chan feed.ChangeEvent, 16)}
}

func (s *recordingSink) ApplyChangeEvent(ev feed.ChangeEvent) (feed.ChangeOutcome, error) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	s.ch <- ev
	return feed.OutcomeApplied, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// wsEchoServer accepts one changefeed connection, acks every subscribe, and
// then replays the given envelopes.
func wsEchoServer(t *testing.T, push []v1.Envelope, gotToken *string) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if gotToken != nil {
			*gotToken = r.Header.Get("Authorization")
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols: []string{Subprotocol},
		})
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")

		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		// First frame must be the subscribe envelope.
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Errorf("read subscribe: %v", err)
			return
		}
		var sub v1.Envelope
		if err := json.Unmarshal(data, &sub); err != nil || sub.Type != v1.TypeSubscribe {
			t.Errorf("first frame type=%q err=%v", sub.Type, err)
			return
		}
		var p v1.SubscribePayload
		if err := json.Unmarshal(sub.Payload, &p); err != nil {
			t.Errorf("subscribe payload: %v", err)
			return
		}

		ack := v1.Envelope{V: v1.Version, Type: v1.TypeSubscribeAck, Topic: p.Topic}
		if err := writeEnvelope(ctx, conn, ack); err != nil {
			t.Errorf("write ack: %v", err)
			return
		}

		for _, env := range push {
			if err := writeEnvelope(ctx, conn, env); err != nil {
				t.Errorf("write push: %v", err)
				return
			}
		}

		// Hold the connection open until the client hangs up.
		_, _, _ = conn.Read(ctx)
	}))
}

func writeEnvelope(ctx context.Context, conn *websocket.Conn, env v1.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func TestWSClientDeliversInsertToSink(t *testing.T) {
	insert := v1.Envelope{
		V: v1.Version, Type: v1.TypeInsert, Topic: "posts",
		Payload: mustJSON(t, itemPayload("p1")),
	}
	var gotAuth string
	ts := wsEchoServer(t, []v1.Envelope{insert}, &gotAuth)
	defer ts.Close()

	sink := newRecordingSink()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := DialWS(ctx, WSConfig{
		URL:   wsURL(ts),
		Token: "token-123",
		Log:   discardLogger(),
	}, map[string]Sink{"posts": sink})
	if err != nil {
		t.Fatalf("DialWS: %v", err)
	}
	defer c.Close()

	select {
	case ev := <-sink.ch:
		if ev.Type != feed.EventInsert || ev.Item.ID != "p1" {
			t.Fatalf("event=%+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no event delivered")
	}

	if gotAuth != "Bearer token-123" {
		t.Fatalf("authorization header=%q", gotAuth)
	}
}

func TestWSClientDropsUnknownTopic(t *testing.T) {
	known := v1.Envelope{
		V: v1.Version, Type: v1.TypeInsert, Topic: "posts",
		Payload: mustJSON(t, itemPayload("p2")),
	}
	unknown := v1.Envelope{
		V: v1.Version, Type: v1.TypeInsert, Topic: "comments:p9",
		Payload: mustJSON(t, itemPayload("c9")),
	}
	// The unknown topic is pushed first; delivery of the known event after
	// it proves the client skipped rather than stalled.
	ts := wsEchoServer(t, []v1.Envelope{unknown, known}, nil)
	defer ts.Close()

	sink := newRecordingSink()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := DialWS(ctx, WSConfig{URL: wsURL(ts), Log: discardLogger()}, map[string]Sink{"posts": sink})
	if err != nil {
		t.Fatalf("DialWS: %v", err)
	}
	defer c.Close()

	select {
	case ev := <-sink.ch:
		if ev.Item.ID != "p2" {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no event delivered")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.events) != 1 {
		t.Fatalf("events=%d want=1", len(sink.events))
	}
}

func TestWSClientCloseSignalsOnce(t *testing.T) {
	ts := wsEchoServer(t, nil, nil)
	defer ts.Close()

	var mu sync.Mutex
	calls := 0
	cfg := WSConfig{
		URL: wsURL(ts),
		Log: discardLogger(),
		OnDisconnect: func(err error) {
			mu.Lock()
			calls++
			mu.Unlock()
			if err != nil {
				t.Errorf("local close reported err=%v", err)
			}
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := DialWS(ctx, cfg, map[string]Sink{"posts": newRecordingSink()})
	if err != nil {
		t.Fatalf("DialWS: %v", err)
	}

	c.Close()
	c.Close()

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("Done not closed after Close")
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("disconnect callbacks=%d want=1", calls)
	}
}

func TestWSClientSignalsDisconnectOnServerDrop(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols: []string{Subprotocol},
		})
		if err != nil {
			return
		}
		ctx := r.Context()
		_, _, _ = conn.Read(ctx) // consume the subscribe frame
		conn.Close(websocket.StatusGoingAway, "shutting down")
	}))
	defer ts.Close()

	disconnected := make(chan error, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := DialWS(ctx, WSConfig{
		URL:          wsURL(ts),
		Log:          discardLogger(),
		OnDisconnect: func(err error) { disconnected <- err },
	}, map[string]Sink{"posts": newRecordingSink()})
	if err != nil {
		t.Fatalf("DialWS: %v", err)
	}
	defer c.Close()

	select {
	case err := <-disconnected:
		if err == nil {
			t.Fatalf("server drop reported nil error")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no disconnect signal")
	}

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("Done not closed after drop")
	}
}
