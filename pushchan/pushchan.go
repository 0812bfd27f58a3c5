// Package pushchan provides the server-push channel the responder listens on.
package pushchan

import (
	"context"
	"errors"
)

// DefaultEvent is the SSE event name of the default message channel.
const DefaultEvent = "message"

var (
	ErrAlreadyOpen = errors.New("push channel already open")
	ErrClosed      = errors.New("push channel closed")
)

type Message struct {
	ID    string
	Event string
	Data  []byte
}

// Channel is a server-push subscription with an explicit lifecycle. The
// channel returned by Open is closed once the subscription ends, either
// through Close or because the server went away; Err reports the latter.
type Channel interface {
	Open(ctx context.Context) (<-chan Message, error)
	Close() error
	Err() error
}

// isDefault reports whether an SSE event name belongs to the default channel.
func isDefault(event string) bool {
	return event == "" || event == DefaultEvent
}
