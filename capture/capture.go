// Package capture produces the payload returned for screen capture requests.
package capture

import (
	"context"

	"agentone/log"
	"agentone/request"
)

type Capturer interface {
	Capture(ctx context.Context, region string) (string, error)
}

// Placeholder answers every capture with a fixed string instead of real
// screen content.
type Placeholder struct {
	Data string
}

func NewPlaceholder(data string) Placeholder {
	if data == "" {
		data = request.PlaceholderData
	}
	return Placeholder{Data: data}
}

func (p Placeholder) Capture(ctx context.Context, region string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if region == "" {
		region = "full"
	}
	log.Infof("requesting screen access placeholder (region=%s)", region)
	return p.Data, nil
}
