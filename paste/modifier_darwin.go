//go:build darwin

package paste

import "github.com/micmonay/keybd_event"

// Cmd+V on macOS.
func setModifier(kb *keybd_event.KeyBonding) { kb.HasSuper(true) }
