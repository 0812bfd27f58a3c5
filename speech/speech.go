// Package speech runs one-shot speech capture: each activation opens a fresh
// recognition session and microphone, reports what was said, and tears both
// down.
package speech

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"agentone/audio"
	"agentone/log"
	"agentone/recognizer"
)

type Options struct {
	Session recognizer.SessionConfig
	// Device selects a capture device by name; empty means system default.
	Device string
	// NewDetector enables endpointing of single-utterance activations.
	NewDetector func() (VoiceDetector, error)
	Endpoint    EndpointConfig
}

func DefaultOptions() Options {
	return Options{Session: recognizer.DefaultSessionConfig()}
}

type Capture struct {
	rec   recognizer.Recognizer
	audio audio.Context
	sink  Sink
	opts  Options

	startMu     sync.Mutex
	mu          sync.Mutex
	act         *activation
	last        string
	activations int
}

type activation struct {
	id      string
	started time.Time
	cancel  context.CancelFunc
	session recognizer.Session
	device  audio.CaptureDevice
	done    chan struct{}
	once    sync.Once
	heard   bool

	finish     chan struct{}
	finishOnce sync.Once
}

func New(rec recognizer.Recognizer, audioCtx audio.Context, sink Sink, opts Options) *Capture {
	if sink == nil {
		sink = LogSink{}
	}
	return &Capture{rec: rec, audio: audioCtx, sink: sink, opts: opts}
}

// Start begins a new activation, ending the current one first. A session is
// never reused across activations.
func (c *Capture) Start(ctx context.Context) error {
	c.startMu.Lock()
	defer c.startMu.Unlock()
	if err := c.Stop(); err != nil {
		log.Warnf("stopping previous speech activation: %v", err)
	}

	info, err := audio.FindDevice(c.audio, c.opts.Device)
	if err != nil {
		return err
	}

	actCtx, cancel := context.WithCancel(ctx)
	session, err := c.rec.NewSession(actCtx, c.opts.Session)
	if err != nil {
		cancel()
		return fmt.Errorf("new %s session: %w", c.rec.Name(), err)
	}
	dev, err := c.audio.NewCapture(info, audio.DefaultCaptureConfig())
	if err != nil {
		session.Close()
		cancel()
		return fmt.Errorf("open capture device: %w", err)
	}

	ep := c.newEndpointer()
	endpointCh := make(chan Endpoint, 1)
	dev.SetCallback(func(data []byte, _ uint32) {
		session.Feed(data)
		if ep == nil {
			return
		}
		if e := ep.Process(data); e != EndpointNone {
			select {
			case endpointCh <- e:
			default:
			}
		}
	})
	if err := dev.Start(); err != nil {
		dev.ClearCallback()
		dev.Close()
		session.Close()
		cancel()
		return fmt.Errorf("start capture device: %w", err)
	}

	act := &activation{
		id:      uuid.NewString(),
		started: time.Now(),
		cancel:  cancel,
		session: session,
		device:  dev,
		done:    make(chan struct{}),
		finish:  make(chan struct{}),
	}
	c.mu.Lock()
	c.act = act
	c.activations++
	c.mu.Unlock()

	log.SessionStart(act.id, c.rec.Name(), c.opts.Session.Locale)
	go c.run(act)

	var audioDone <-chan struct{}
	if f, ok := dev.(audio.Finite); ok {
		audioDone = f.AudioDone()
	}
	go func() {
		select {
		case <-audioDone:
			// Out of audio: let the session finalize what it has.
			session.Close()
		case <-act.finish:
			session.Close()
		case e := <-endpointCh:
			total, speech := ep.Stats()
			log.Debugf("speech activation %s endpoint: %s after %d frames (%d speech)", act.id, e, total, speech)
			session.Close()
		case <-actCtx.Done():
			c.teardown(act)
		case <-act.done:
		}
	}()
	return nil
}

// newEndpointer returns nil when endpointing is off or the detector cannot
// be created; the activation then runs until the recognizer ends it.
func (c *Capture) newEndpointer() *endpointer {
	if c.opts.NewDetector == nil || c.opts.Session.Continuous {
		return nil
	}
	vad, err := c.opts.NewDetector()
	if err != nil {
		log.Warnf("voice activity detection unavailable: %v", err)
		return nil
	}
	return newEndpointer(vad, c.opts.Endpoint)
}

func (c *Capture) run(act *activation) {
	defer close(act.done)
	for ev := range act.session.Events() {
		c.handle(act, ev)
	}
	c.teardown(act)
}

func (c *Capture) handle(act *activation, ev recognizer.Event) {
	switch ev.Kind {
	case recognizer.EventResult:
		if !ev.IsFinal {
			log.Debugf("interim: %s", ev.Transcript())
			return
		}
		if act.heard && !c.opts.Session.Continuous {
			return
		}
		act.heard = true
		u := Utterance{Transcript: ev.Transcript()}
		if len(ev.Alternatives) > 0 {
			u.Confidence = ev.Alternatives[0].Confidence
		}
		c.mu.Lock()
		c.last = u.Transcript
		c.mu.Unlock()
		if err := c.sink.Emit(u); err != nil {
			log.Errorf("speech sink: %v", err)
		}
	case recognizer.EventNoMatch:
		log.Warn("no speech recognized")
	case recognizer.EventError:
		log.Errorf("speech recognition: %v", ev.Err)
	case recognizer.EventEnd:
		log.Debugf("speech activation %s ended", act.id)
	}
}

// teardown releases the device and the session exactly once.
func (c *Capture) teardown(act *activation) {
	act.once.Do(func() {
		act.device.ClearCallback()
		act.device.Stop()
		act.device.Close()

		res, err := act.session.Close()
		if err != nil {
			log.Debugf("session close: %v", err)
		}
		for _, line := range res.Metrics {
			log.Debugf("%s", line)
		}
		log.Confidence(res.Confidence)
		log.SessionEnd(act.id, res.HasText, time.Since(act.started))
		act.cancel()

		c.mu.Lock()
		if c.act == act {
			c.act = nil
		}
		c.mu.Unlock()
	})
}

// Stop ends the current activation, if any, and waits for it to wind down.
func (c *Capture) Stop() error {
	c.mu.Lock()
	act := c.act
	c.mu.Unlock()
	if act == nil {
		return nil
	}
	c.teardown(act)
	<-act.done
	return nil
}

// Finish ends listening for the current activation but, unlike Stop, lets
// the recognizer report what it heard so far. It does not wait.
func (c *Capture) Finish() {
	c.mu.Lock()
	act := c.act
	c.mu.Unlock()
	if act == nil {
		return
	}
	act.finishOnce.Do(func() { close(act.finish) })
}

// Done is closed when the current activation ends. With no activation
// running it is already closed.
func (c *Capture) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.act == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.act.done
}

// Last returns the most recent transcript.
func (c *Capture) Last() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

func (c *Capture) Activations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activations
}
