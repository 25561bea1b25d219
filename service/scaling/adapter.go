// Package scaling makes room broadcasts visible to every gateway process by
// relaying them over a shared publish/subscribe channel.
package scaling

import (
	"context"
	"encoding/json"
)

// Record is one broadcast as it travels between processes.
type Record struct {
	ID      string          `json:"id"`
	Room    string          `json:"room"`
	Event   string          `json:"event"`
	Frame   json.RawMessage `json:"frame"`
	Origin  string          `json:"origin"`
	Exclude string          `json:"exclude,omitempty"`
}

// Adapter is a cluster channel. Subscribe returns once the subscription is
// live and keeps calling fn until ctx is done or the adapter is closed.
type Adapter interface {
	Name() string
	Publish(ctx context.Context, rec Record) error
	Subscribe(ctx context.Context, fn func(Record)) error
	Close() error
}

// Local is the single-process adapter; it never leaves the process.
type Local struct{}

func (Local) Name() string                                  { return "local" }
func (Local) Publish(context.Context, Record) error         { return nil }
func (Local) Subscribe(context.Context, func(Record)) error { return nil }
func (Local) Close() error                                  { return nil }

func IsLocal(a Adapter) bool {
	_, ok := a.(Local)
	return ok
}
