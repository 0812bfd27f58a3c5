// Package hotkey delivers the Ctrl+Shift+Space push-to-talk chord as
// press/release signals.
package hotkey

// Chord is the user-facing name of the push-to-talk key combination.
const Chord = "Ctrl+Shift+Space"

type Hotkey interface {
	Register() error
	Unregister()
	Keydown() <-chan struct{}
	Keyup() <-chan struct{}
}

// notify delivers a signal without blocking; a pending one is enough.
func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
