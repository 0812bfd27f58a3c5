// Package clipboard wraps the system clipboard.
package clipboard

import (
	"errors"
	"fmt"

	cb "github.com/atotto/clipboard"
)

var ErrUnsupported = errors.New("no clipboard utility available (install xclip, xsel or wl-clipboard)")

func Read() (string, error) {
	return cb.ReadAll()
}

func Copy(text string) error {
	if cb.Unsupported {
		return ErrUnsupported
	}
	return cb.WriteAll(text)
}

// Check verifies the clipboard is reachable without disturbing its content.
func Check() error {
	if cb.Unsupported {
		return ErrUnsupported
	}
	prev, err := cb.ReadAll()
	if err != nil {
		return fmt.Errorf("clipboard read: %w", err)
	}
	if err := cb.WriteAll(prev); err != nil {
		return fmt.Errorf("clipboard write: %w", err)
	}
	return nil
}
