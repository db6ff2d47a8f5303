package ddp

import (
	"context"
	"encoding/json"
)

// Subscription describes a "sub" request.
type Subscription struct {
	ID      string
	Name    string
	Params  json.RawMessage
	Session string
}

// Subscriptions receives subscription lifecycle events. Subscribe returning
// an error answers the client with "nosub" instead of "ready". Unsubscribe
// errors are logged; the client never gets a response to "unsub".
type Subscriptions interface {
	Subscribe(ctx context.Context, sub Subscription) error
	Unsubscribe(ctx context.Context, id string) error
}

// AutoReady acknowledges every subscription and keeps no state.
type AutoReady struct{}

func (AutoReady) Subscribe(context.Context, Subscription) error { return nil }

func (AutoReady) Unsubscribe(context.Context, string) error { return nil }
