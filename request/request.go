// Package request decodes the requests the agent backend pushes to the
// client and encodes the responses sent back.
package request

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

const (
	TypeScreenCapture = "screenCapture"

	PlaceholderData = "screen data placeholder"
)

var ErrMalformed = errors.New("malformed request")

type Kind int

const (
	KindUnknown Kind = iota
	KindScreenCapture
)

func (k Kind) String() string {
	switch k {
	case KindScreenCapture:
		return TypeScreenCapture
	default:
		return "unknown"
	}
}

// Request is one decoded push message. The concrete type is ScreenCapture
// or Unknown.
type Request interface {
	Kind() Kind
	RequestID() json.RawMessage
}

type ScreenCapture struct {
	ID     json.RawMessage
	Region string // "full" when the backend asks for the whole screen
}

func (ScreenCapture) Kind() Kind                   { return KindScreenCapture }
func (r ScreenCapture) RequestID() json.RawMessage { return r.ID }

type Unknown struct {
	Type string
	ID   json.RawMessage
}

func (Unknown) Kind() Kind                   { return KindUnknown }
func (r Unknown) RequestID() json.RawMessage { return r.ID }

type envelope struct {
	Type   *string         `json:"type"`
	ID     json.RawMessage `json:"id"`
	Region json.RawMessage `json:"region"`
}

// Parse decodes a push message payload. Payloads that are not a JSON object
// with a string "type" field fail with ErrMalformed.
func Parse(data []byte) (Request, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == nil {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	switch *env.Type {
	case TypeScreenCapture:
		r := ScreenCapture{ID: env.ID}
		if len(env.Region) > 0 {
			// non-string regions are ignored rather than rejected
			var region string
			if json.Unmarshal(env.Region, &region) == nil {
				r.Region = region
			}
		}
		return r, nil
	default:
		return Unknown{Type: *env.Type, ID: env.ID}, nil
	}
}

// Response is the body posted back for an answered request. ID is echoed
// unmodified from the request.
type Response struct {
	ID   json.RawMessage `json:"id"`
	Data string          `json:"data"`
}

func (r Response) Marshal() ([]byte, error) {
	if len(r.ID) == 0 {
		r.ID = json.RawMessage("null")
	}
	return json.Marshal(r)
}

// IDString renders an id for logs: strings lose their quotes, anything else
// is shown as raw JSON.
func IDString(id json.RawMessage) string {
	if len(id) == 0 {
		return "null"
	}
	var s string
	if err := json.Unmarshal(id, &s); err == nil {
		return s
	}
	return string(id)
}
