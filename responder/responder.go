// Package responder answers requests the agent backend pushes over the
// server-push channel.
package responder

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"agentone/backend"
	"agentone/capture"
	"agentone/log"
	"agentone/pushchan"
	"agentone/request"
)

var ErrAlreadyStarted = errors.New("responder already started")

type Sender interface {
	Send(ctx context.Context, resp request.Response) (*backend.SendResult, error)
}

type Stats struct {
	Received  int
	Answered  int
	Ignored   int
	Malformed int
	Failed    int
}

// Responder owns one push subscription per activation and handles its
// messages strictly in arrival order: a send suspends the loop until its
// round trip completes.
type Responder struct {
	channel  pushchan.Channel
	capturer capture.Capturer
	sender   Sender

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	stats   Stats
	err     error
}

func New(channel pushchan.Channel, capturer capture.Capturer, sender Sender) *Responder {
	return &Responder{channel: channel, capturer: capturer, sender: sender}
}

func (r *Responder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return ErrAlreadyStarted
	}

	loopCtx, cancel := context.WithCancel(ctx)
	msgs, err := r.channel.Open(loopCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("open push channel: %w", err)
	}

	subID := uuid.NewString()
	url := ""
	if u, ok := r.channel.(interface{ URL() string }); ok {
		url = u.URL()
	}
	log.SubscriptionStart(subID, url)

	r.running = true
	r.cancel = cancel
	r.done = make(chan struct{})
	r.err = nil
	go r.loop(loopCtx, cancel, msgs, r.done, subID)
	return nil
}

func (r *Responder) loop(ctx context.Context, cancel context.CancelFunc, msgs <-chan pushchan.Message, done chan struct{}, subID string) {
	defer close(done)
	defer cancel()

	for msg := range msgs {
		r.handle(ctx, msg)
	}

	err := r.channel.Err()
	r.mu.Lock()
	r.running = false
	r.err = err
	st := r.stats
	r.mu.Unlock()
	log.SubscriptionEnd(subID, st.Received, st.Answered, err)
}

func (r *Responder) handle(ctx context.Context, msg pushchan.Message) {
	r.count(func(s *Stats) { s.Received++ })

	req, err := request.Parse(msg.Data)
	if err != nil {
		r.count(func(s *Stats) { s.Malformed++ })
		log.Warnf("dropping push message: %v", err)
		return
	}

	switch req := req.(type) {
	case request.ScreenCapture:
		r.answer(ctx, req)
	case request.Unknown:
		r.count(func(s *Stats) { s.Ignored++ })
		log.Debugf("ignoring %q request %s", req.Type, request.IDString(req.ID))
	}
}

func (r *Responder) answer(ctx context.Context, req request.ScreenCapture) {
	id := request.IDString(req.ID)

	data, err := r.capturer.Capture(ctx, req.Region)
	if err != nil {
		r.count(func(s *Stats) { s.Failed++ })
		log.Errorf("capture for request %s: %v", id, err)
		return
	}

	res, err := r.sender.Send(ctx, request.Response{ID: req.ID, Data: data})
	if err != nil {
		r.count(func(s *Stats) { s.Failed++ })
		log.Errorf("response for request %s: %v", id, err)
		return
	}
	r.count(func(s *Stats) { s.Answered++ })
	log.ResponseSent(id, sendMetrics(res))
}

func sendMetrics(res *backend.SendResult) log.SendMetrics {
	if res == nil {
		return log.SendMetrics{}
	}
	m := log.SendMetrics{Status: res.StatusCode, Attempts: res.Attempts}
	if nm := res.Metrics; nm != nil {
		m.DNSMs = float64(nm.DNS.Milliseconds())
		m.ConnectMs = float64(nm.TCP.Milliseconds())
		m.TLSMs = float64(nm.TLS.Milliseconds())
		m.TTFBMs = float64(nm.TTFB.Milliseconds())
		m.TotalMs = float64(nm.Total.Milliseconds())
		m.ConnReused = nm.ConnReused
	}
	return m
}

func (r *Responder) count(fn func(*Stats)) {
	r.mu.Lock()
	fn(&r.stats)
	r.mu.Unlock()
}

// Stop tears down the subscription and waits for the loop to exit. An
// in-flight send is canceled.
func (r *Responder) Stop() error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()
	if done == nil {
		return nil
	}
	cancel()
	err := r.channel.Close()
	<-done
	return err
}

// Done is closed when the current activation's loop exits. It is nil before
// the first Start.
func (r *Responder) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// Err reports why the last activation ended on its own; nil after Stop.
func (r *Responder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Responder) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
