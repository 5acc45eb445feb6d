package feed

import "errors"

// EventType classifies a change event.
type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

// ChangeEvent is a normalized realtime notification. Insert and update carry
// a full Item snapshot; delete carries only the bare id. The Store consumes
// an event and discards it immediately after folding it into the window.
type ChangeEvent struct {
	Type  EventType
	Topic Topic

	// Item is set for insert and update.
	Item Item

	// ID is set for delete.
	ID string
}

// Validate performs structural validation for a ChangeEvent.
func (e ChangeEvent) Validate() error {
	switch e.Type {
	case EventInsert, EventUpdate:
		if e.Item.ID == "" {
			return errors.New("feed: change event missing item id")
		}
	case EventDelete:
		if e.ID == "" {
			return errors.New("feed: delete event missing id")
		}
	default:
		return errors.New("feed: unknown change event type")
	}
	return e.Topic.Validate()
}

// ChangeOutcome reports how the store folded a change event.
type ChangeOutcome string

const (
	// OutcomeApplied means the event mutated the window.
	OutcomeApplied ChangeOutcome = "applied"
	// OutcomeDuplicate means the event was a duplicate delivery.
	OutcomeDuplicate ChangeOutcome = "duplicate"
	// OutcomeIgnored means the event targeted an item the window does not
	// hold (or an insert below the pagination cursor) and was skipped.
	OutcomeIgnored ChangeOutcome = "ignored"
)
