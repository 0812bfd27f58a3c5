package pushchan

import (
	"context"
	"sync"
)

// Fake is an in-memory Channel driven by the caller.
type Fake struct {
	mu     sync.Mutex
	out    chan Message
	opens  int
	closes int
	err    error
	ended  bool
}

func NewFake() *Fake {
	return &Fake{}
}

func (f *Fake) Open(_ context.Context) (<-chan Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.out != nil && !f.ended {
		return nil, ErrAlreadyOpen
	}
	f.out = make(chan Message, sseBuffer)
	f.ended = false
	f.err = nil
	f.opens++
	return f.out, nil
}

// Push delivers data on the default channel. It reports false once the
// channel is not open.
func (f *Fake) Push(data string) bool {
	return f.PushEvent(DefaultEvent, data)
}

func (f *Fake) PushEvent(event, data string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.out == nil || f.ended {
		return false
	}
	if !isDefault(event) {
		return true
	}
	f.out <- Message{Event: DefaultEvent, Data: []byte(data)}
	return true
}

// Drop ends the subscription as if the server went away.
func (f *Fake) Drop(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.out == nil || f.ended {
		return
	}
	f.err = err
	f.ended = true
	close(f.out)
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	if f.out != nil && !f.ended {
		f.ended = true
		close(f.out)
	}
	return nil
}

func (f *Fake) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *Fake) Opens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

func (f *Fake) Closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}
