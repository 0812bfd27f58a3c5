package pushchan

import (
	"context"
	"net/http"
	"sync"

	"github.com/r3labs/sse/v2"
	backoff "gopkg.in/cenkalti/backoff.v1"

	"agentone/log"
)

const sseBuffer = 64

// SSE subscribes to a text/event-stream endpoint. A dropped connection ends
// the subscription; it is never re-established.
type SSE struct {
	url    string
	client *http.Client

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func NewSSE(url string, client *http.Client) *SSE {
	if client == nil {
		client = &http.Client{}
	}
	return &SSE{url: url, client: client}
}

func (s *SSE) URL() string { return s.url }

func (s *SSE) Open(ctx context.Context) (<-chan Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		select {
		case <-s.done:
		default:
			return nil, ErrAlreadyOpen
		}
	}

	sc := sse.NewClient(s.url)
	sc.Connection = s.client
	sc.ReconnectStrategy = &backoff.StopBackOff{}
	sc.OnConnect(func(*sse.Client) { log.Debugf("push channel connected: %s", s.url) })
	sc.OnDisconnect(func(*sse.Client) { log.Warnf("push channel disconnected: %s", s.url) })

	subCtx, cancel := context.WithCancel(ctx)
	out := make(chan Message, sseBuffer)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.err = nil

	go func() {
		defer close(done)
		defer close(out)
		defer cancel()
		err := sc.SubscribeRawWithContext(subCtx, func(ev *sse.Event) {
			name := string(ev.Event)
			if !isDefault(name) {
				log.Debugf("push channel: skipping %q event", name)
				return
			}
			msg := Message{
				ID:    string(ev.ID),
				Event: DefaultEvent,
				Data:  append([]byte(nil), ev.Data...),
			}
			select {
			case out <- msg:
			case <-subCtx.Done():
			}
		})
		if subCtx.Err() == nil {
			if err == nil {
				err = ErrClosed
			}
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
		}
	}()

	return out, nil
}

// Close cancels the subscription and waits for it to wind down.
func (s *SSE) Close() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func (s *SSE) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
