// Package doctor runs the -doctor diagnostics: one line per check, exit code
// 1 when any check fails.
package doctor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"agentone/audio"
)

const checkTimeout = 5 * time.Second

type Pinger interface {
	Ping(ctx context.Context) error
}

// Checks wires each diagnostic to the component it exercises. A nil field
// skips that check.
type Checks struct {
	Backend   Pinger
	Provider  func() (string, error)
	Audio     func() (audio.Context, error)
	Clipboard func() error
	Hotkey    func() (string, error)
}

type check struct {
	name string
	run  func(ctx context.Context) (string, error)
}

var errSkipped = errors.New("skipped")

func (c Checks) list() []check {
	return []check{
		{"backend", func(ctx context.Context) (string, error) {
			if c.Backend == nil {
				return "", errSkipped
			}
			if err := c.Backend.Ping(ctx); err != nil {
				return "", err
			}
			return "ping answered pong", nil
		}},
		{"speech provider", func(context.Context) (string, error) {
			if c.Provider == nil {
				return "", errSkipped
			}
			name, err := c.Provider()
			if err != nil {
				return "", err
			}
			return "using " + name, nil
		}},
		{"audio input", func(context.Context) (string, error) {
			if c.Audio == nil {
				return "", errSkipped
			}
			actx, err := c.Audio()
			if err != nil {
				return "", fmt.Errorf("cannot connect to audio: %w", err)
			}
			defer actx.Close()
			devices, err := actx.Devices()
			if err != nil {
				return "", err
			}
			if len(devices) == 0 {
				return "", errors.New("no capture devices found")
			}
			msg := fmt.Sprintf("%d capture device(s), first: %s", len(devices), devices[0].Name)
			if audio.IsBluetooth(devices[0].Name) {
				msg += " (bluetooth: lower audio quality)"
			}
			return msg, nil
		}},
		{"clipboard", func(context.Context) (string, error) {
			if c.Clipboard == nil {
				return "", errSkipped
			}
			if err := c.Clipboard(); err != nil {
				return "", err
			}
			return "read and write ok", nil
		}},
		{"hotkey", func(context.Context) (string, error) {
			if c.Hotkey == nil {
				return "", errSkipped
			}
			return c.Hotkey()
		}},
	}
}

// Run executes the checks in order and returns an exit code (0=all pass,
// 1=any fail).
func Run(ctx context.Context, w io.Writer, c Checks) int {
	fmt.Fprintln(w, "agentone doctor - system diagnostics")
	fmt.Fprintln(w, "====================================")

	checks := c.list()
	failed := 0
	for i, ch := range checks {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		msg, err := ch.run(cctx)
		cancel()

		prefix := fmt.Sprintf("[%d/%d] %-16s", i+1, len(checks), ch.name)
		switch {
		case errors.Is(err, errSkipped):
			fmt.Fprintf(w, "%s SKIP\n", prefix)
		case err != nil:
			failed++
			fmt.Fprintf(w, "%s FAIL: %v\n", prefix, err)
		default:
			fmt.Fprintf(w, "%s PASS: %s\n", prefix, msg)
		}
	}

	fmt.Fprintln(w)
	if failed > 0 {
		fmt.Fprintf(w, "%d check(s) failed. See details above.\n", failed)
		return 1
	}
	fmt.Fprintln(w, "All checks passed!")
	return 0
}
