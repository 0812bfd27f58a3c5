package hotkey

// Linux input event codes for the chord keys.
const (
	keyLCtrl  = 29
	keyRCtrl  = 97
	keyLShift = 42
	keyRShift = 54
	keySpace  = 57

	keyRelease = 0
	keyPress   = 1
)

// chord tracks modifier state across raw key events. Auto-repeat (value 2)
// leaves the state unchanged.
type chord struct {
	ctrl, shift, space bool
}

// key applies one event and reports whether it pressed or released the
// whole chord.
func (c *chord) key(code uint16, value int32) (down, up bool) {
	pressed := value == keyPress
	released := value == keyRelease

	switch code {
	case keyLCtrl, keyRCtrl:
		c.ctrl = pressed || (!released && c.ctrl)
	case keyLShift, keyRShift:
		c.shift = pressed || (!released && c.shift)
	case keySpace:
		if pressed && !c.space && c.ctrl && c.shift {
			c.space = true
			return true, false
		}
		if released && c.space {
			c.space = false
			return false, true
		}
	}
	return false, false
}
