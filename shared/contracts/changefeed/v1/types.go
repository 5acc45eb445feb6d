// Package v1 defines the Ripple Changefeed Protocol v1 contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between the sync engine and change transports to keep the
// wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Type constants (wire-stable).
const (
	// TypeSubscribe requests delivery for a topic (client -> server).
	TypeSubscribe = "subscribe"
	// TypeSubscribeAck acknowledges a subscribe request (server -> client).
	TypeSubscribeAck = "subscribe_ack"

	// TypeInsert announces a newly created item on a topic (server -> client).
	TypeInsert = "insert"
	// TypeUpdate announces changed mutable fields of an item (server -> client).
	TypeUpdate = "update"
	// TypeDelete announces removal of an item; the payload carries only the id.
	TypeDelete = "delete"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
//
// Delivery is at-least-once: consumers must treat a replayed envelope as a
// no-op. Envelopes are not ordered relative to concurrent paginated queries.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Topic   string          `json:"topic,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeSubscribe, TypeSubscribeAck, TypeError:
		return nil
	case TypeInsert, TypeUpdate, TypeDelete:
		if strings.TrimSpace(e.Topic) == "" {
			return errors.New("missing field: topic")
		}
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Payloads ----

// SubscribePayload requests change delivery for one topic.
type SubscribePayload struct {
	Topic string `json:"topic"`
}

// SubscribeAckPayload confirms delivery is active for a topic.
type SubscribeAckPayload struct {
	Topic string `json:"topic"`
}

// ItemPayload is the full item snapshot carried by insert and update
// envelopes. Field names follow the backing store's column names.
type ItemPayload struct {
	ID              string    `json:"id"`
	AuthorID        string    `json:"author_id"`
	AuthorName      string    `json:"author_name,omitempty"`
	AuthorAvatarURL string    `json:"author_avatar_url,omitempty"`
	Kind            string    `json:"kind"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at,omitempty"`
	Body            string    `json:"body,omitempty"`
	ImageURL        string    `json:"image_url,omitempty"`
	VideoURL        string    `json:"video_url,omitempty"`
	NoteType        string    `json:"note_type,omitempty"`
	TargetID        string    `json:"target_id,omitempty"`
	Read            bool      `json:"read,omitempty"`
	LikeCount       int       `json:"like_count"`
	CommentCount    int       `json:"comment_count"`
	ShareCount      int       `json:"share_count"`
	ViewerHasLiked  bool      `json:"viewer_has_liked,omitempty"`
}

// DeletePayload carries the bare id of a removed item.
type DeletePayload struct {
	ID string `json:"id"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
