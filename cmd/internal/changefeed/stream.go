// Package changefeed contains the realtime change transports for the sync
// engine: a WebSocket client and a NATS client, both normalizing
// server-pushed events into feed.ChangeEvent values.
//
// The transports tolerate duplicate and out-of-order delivery; idempotency
// is the consuming store's job, not the stream's. On subscription loss a
// transport signals disconnect exactly once and stops: missed events are
// not replayed, so the owning screen must refresh after a reconnect gap.
package changefeed

import (
	"encoding/json"
	"errors"
	"fmt"

	"ripple/cmd/internal/feed"
	v1 "ripple/shared/contracts/changefeed/v1"
)

// ErrClosed is returned when an operation targets a closed client.
var ErrClosed = errors.New("changefeed: closed")

// Sink consumes normalized change events. *feed.Store satisfies it.
type Sink interface {
	ApplyChangeEvent(ev feed.ChangeEvent) (feed.ChangeOutcome, error)
}

// DisconnectFunc is invoked exactly once when a transport loses its
// subscription. err is nil for a locally requested Close.
type DisconnectFunc func(err error)

// Normalize converts a change envelope into a feed.ChangeEvent.
// Only insert, update, and delete envelopes are change events; anything
// else is a protocol error here.
func Normalize(env v1.Envelope) (feed.ChangeEvent, error) {
	if err := env.Validate(); err != nil {
		return feed.ChangeEvent{}, fmt.Errorf("changefeed: invalid envelope: %w", err)
	}

	topic := feed.Topic(env.Topic)

	switch env.Type {
	case v1.TypeInsert, v1.TypeUpdate:
		var p v1.ItemPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return feed.ChangeEvent{}, fmt.Errorf("changefeed: decode item payload: %w", err)
		}
		typ := feed.EventInsert
		if env.Type == v1.TypeUpdate {
			typ = feed.EventUpdate
		}
		return feed.ChangeEvent{Type: typ, Topic: topic, Item: itemFromPayload(p, topic)}, nil

	case v1.TypeDelete:
		var p v1.DeletePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return feed.ChangeEvent{}, fmt.Errorf("changefeed: decode delete payload: %w", err)
		}
		return feed.ChangeEvent{Type: feed.EventDelete, Topic: topic, ID: p.ID}, nil

	default:
		return feed.ChangeEvent{}, fmt.Errorf("changefeed: not a change envelope: %q", env.Type)
	}
}

func itemFromPayload(p v1.ItemPayload, topic feed.Topic) feed.Item {
	kind := feed.Kind(p.Kind)
	switch kind {
	case feed.KindPost, feed.KindComment, feed.KindNotification:
	default:
		// Wire payloads may omit the kind; the topic pins it.
		kind = topic.Kind()
	}

	return feed.Item{
		ID:              p.ID,
		AuthorID:        p.AuthorID,
		AuthorName:      p.AuthorName,
		AuthorAvatarURL: p.AuthorAvatarURL,
		Kind:            kind,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
		Body:            p.Body,
		ImageURL:        p.ImageURL,
		VideoURL:        p.VideoURL,
		NoteType:        p.NoteType,
		TargetID:        p.TargetID,
		Read:            p.Read,
		LikeCount:       p.LikeCount,
		CommentCount:    p.CommentCount,
		ShareCount:      p.ShareCount,
		ViewerHasLiked:  p.ViewerHasLiked,
	}
}
