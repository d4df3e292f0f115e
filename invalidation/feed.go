package invalidation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Event is one remote mutation notification.
type Event struct {
	// Collection is the remote collection that was written.
	Collection string `json:"collection"`

	// Operation is the kind of write (INSERT, UPDATE, DELETE), if known.
	Operation string `json:"op,omitempty"`
}

// Feed opens subscriptions to mutation notifications.
//
// Contract:
// - Context: ctx bounds the subscribe handshake only; the subscription lives
//   until Close or until the feed fails.
// - Filtering: collections lists the collections of interest; feeds may
//   deliver others and the Channel handles them too.
type Feed interface {
	Subscribe(ctx context.Context, collections []string) (Subscription, error)
}

// Subscription is a live stream of events.
//
// Contract:
// - Events is closed when the subscription ends.
// - Err reports why it ended; nil after Close.
// - Close is idempotent.
type Subscription interface {
	Events() <-chan Event
	Err() error
	Close() error
}

// FeedFunc adapts a function to Feed.
type FeedFunc func(ctx context.Context, collections []string) (Subscription, error)

// Subscribe calls f.
func (f FeedFunc) Subscribe(ctx context.Context, collections []string) (Subscription, error) {
	return f(ctx, collections)
}

// ParseEvent decodes a notification payload. Accepted forms are
// "collection", "collection:OP" and JSON objects carrying the collection as
// "collection" or "table" and the operation as "op", "type" or "eventType".
func ParseEvent(payload string) (Event, error) {
	payload = strings.TrimSpace(payload)

	if strings.HasPrefix(payload, "{") {
		var msg struct {
			Collection string `json:"collection"`
			Table      string `json:"table"`
			Op         string `json:"op"`
			Type       string `json:"type"`
			EventType  string `json:"eventType"`
		}
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			return Event{}, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
		}
		ev := Event{Collection: firstNonEmpty(msg.Collection, msg.Table)}
		ev.Operation = strings.ToUpper(firstNonEmpty(msg.Op, msg.EventType, msg.Type))
		if ev.Collection == "" {
			return Event{}, ErrInvalidEvent
		}
		return ev, nil
	}

	collection, op, _ := strings.Cut(payload, ":")
	collection = strings.TrimSpace(collection)
	if collection == "" {
		return Event{}, ErrInvalidEvent
	}
	return Event{Collection: collection, Operation: strings.ToUpper(strings.TrimSpace(op))}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

var _ Feed = FeedFunc(nil)
