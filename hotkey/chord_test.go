package hotkey

import "testing"

type keyEvent struct {
	code  uint16
	value int32
}

func TestChord(t *testing.T) {
	tests := []struct {
		name             string
		events           []keyEvent
		wantDown, wantUp int
	}{
		{"ctrl shift space", []keyEvent{{keyLCtrl, keyPress}, {keyLShift, keyPress}, {keySpace, keyPress}, {keySpace, keyRelease}}, 1, 1},
		{"right modifiers", []keyEvent{{keyRCtrl, keyPress}, {keyRShift, keyPress}, {keySpace, keyPress}}, 1, 0},
		{"space alone", []keyEvent{{keySpace, keyPress}, {keySpace, keyRelease}}, 0, 0},
		{"missing shift", []keyEvent{{keyLCtrl, keyPress}, {keySpace, keyPress}}, 0, 0},
		{"modifier released first", []keyEvent{{keyLCtrl, keyPress}, {keyLShift, keyPress}, {keyLShift, keyRelease}, {keySpace, keyPress}}, 0, 0},
		{"auto-repeat is one press", []keyEvent{{keyLCtrl, keyPress}, {keyLShift, keyPress}, {keySpace, keyPress}, {keySpace, 2}, {keySpace, 2}, {keySpace, keyRelease}}, 1, 1},
		{"modifiers up before space still releases", []keyEvent{{keyLCtrl, keyPress}, {keyLShift, keyPress}, {keySpace, keyPress}, {keyLCtrl, keyRelease}, {keySpace, keyRelease}}, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c chord
			var downs, ups int
			for _, ev := range tt.events {
				down, up := c.key(ev.code, ev.value)
				if down {
					downs++
				}
				if up {
					ups++
				}
			}
			if downs != tt.wantDown || ups != tt.wantUp {
				t.Errorf("got %d down / %d up, want %d / %d", downs, ups, tt.wantDown, tt.wantUp)
			}
		})
	}
}

func TestNotifyDoesNotBlock(t *testing.T) {
	ch := make(chan struct{}, 1)
	notify(ch)
	notify(ch)
	if len(ch) != 1 {
		t.Errorf("pending = %d, want 1", len(ch))
	}
}
