package recognizer

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"agentone/encoder"
	"agentone/log"
)

// errStreamClosed is returned by Recv when the provider ended the stream
// cleanly.
var errStreamClosed = errors.New("stream closed")

const (
	streamChunkMs      = 200
	streamChunkBytes   = encoder.BytesPerSecond * streamChunkMs / 1000
	streamFinalizeIdle = 200 * time.Millisecond
	streamFinalizeMax  = 1000 * time.Millisecond
	streamEventBuffer  = 16
)

// rawStream is one provider connection: audio goes up, hypotheses come down.
type rawStream interface {
	Send(pcm []byte) error
	// CloseSend asks the provider to flush whatever it still holds.
	CloseSend() error
	Recv() (streamUpdate, error)
	Close() error
}

type streamUpdate struct {
	Alternatives []Alternative
	IsFinal      bool
	SpeechFinal  bool
	FromFinalize bool
}

type streamSession struct {
	cfg       SessionConfig
	ws        rawStream
	audioCh   chan []byte
	events    chan Event
	startedAt time.Time
	connected chan struct{} // closed when the connection is ready (or failed)

	sendDone      chan struct{}
	recvDone      chan struct{}
	finished      chan struct{}
	finalized     chan struct{}
	finalizedOnce sync.Once
	halt          chan struct{} // closed once no more audio is wanted
	haltOnce      sync.Once
	finishOnce    sync.Once
	closeOnce     sync.Once

	feedMu     sync.Mutex
	feedBuf    []byte
	feedClosed bool

	mu        sync.Mutex
	err       error
	closing   bool
	ended     bool // single-utterance result delivered
	committed []string
	best      float64
	stats     streamStats

	result   SessionResult
	closeErr error
}

type streamStats struct {
	ConnectDur   time.Duration
	SentChunks   int
	SentBytes    uint64
	RecvMessages int
	RecvFinal    int
	RecvInterim  int
	FinalizeWait time.Duration
	SessionDur   time.Duration
}

func (s streamStats) audioDuration() float64 {
	return float64(s.SentBytes) / encoder.BytesPerSecond
}

func newStreamSession(cfg SessionConfig, dial func() (rawStream, error)) *streamSession {
	ss := &streamSession{
		cfg:       cfg,
		audioCh:   make(chan []byte, 128),
		events:    make(chan Event, streamEventBuffer),
		startedAt: time.Now(),
		connected: make(chan struct{}),
		sendDone:  make(chan struct{}),
		recvDone:  make(chan struct{}),
		finished:  make(chan struct{}),
		finalized: make(chan struct{}),
		halt:      make(chan struct{}),
	}

	go func() {
		connectStart := time.Now()
		ws, err := dial()
		ss.mu.Lock()
		ss.stats.ConnectDur = time.Since(connectStart)
		ss.mu.Unlock()

		if err != nil {
			ss.setErr(fmt.Errorf("connect: %w", err))
			close(ss.sendDone)
			close(ss.recvDone)
			close(ss.connected)
			ss.finish()
			return
		}

		ss.ws = ws
		close(ss.connected)
		go ss.runSender()
		go ss.runReceiver()
	}()

	return ss
}

func (s *streamSession) stopFeeding() {
	s.haltOnce.Do(func() { close(s.halt) })
}

func (s *streamSession) Feed(pcm []byte) {
	select {
	case <-s.halt:
		return
	default:
	}

	s.feedMu.Lock()
	defer s.feedMu.Unlock()
	if s.feedClosed {
		return
	}
	s.feedBuf = append(s.feedBuf, pcm...)
	for len(s.feedBuf) >= streamChunkBytes {
		chunk := make([]byte, streamChunkBytes)
		copy(chunk, s.feedBuf[:streamChunkBytes])
		s.feedBuf = s.feedBuf[streamChunkBytes:]
		select {
		case s.audioCh <- chunk:
		case <-s.halt:
			s.feedBuf = nil
			return
		}
	}
}

func (s *streamSession) Events() <-chan Event {
	return s.events
}

func (s *streamSession) Close() (SessionResult, error) {
	s.closeOnce.Do(func() {
		s.result, s.closeErr = s.close()
	})
	return s.result, s.closeErr
}

func (s *streamSession) close() (SessionResult, error) {
	<-s.connected

	// Hand the tail to the sender and let it drain.
	s.feedMu.Lock()
	if !s.feedClosed {
		s.feedClosed = true
		if len(s.feedBuf) > 0 {
			select {
			case s.audioCh <- s.feedBuf:
			case <-s.halt:
			}
			s.feedBuf = nil
		}
		close(s.audioCh)
	}
	s.feedMu.Unlock()

	finalizeStart := time.Now()
	<-s.sendDone

	s.mu.Lock()
	graceful := s.ws != nil && s.err == nil && !s.ended
	s.mu.Unlock()
	if graceful {
		// Wait for the provider to acknowledge the flush, then a brief
		// quiet period for trailing results.
		select {
		case <-s.finalized:
			time.Sleep(streamFinalizeIdle)
		case <-s.finished:
		case <-time.After(streamFinalizeMax):
		}
	}

	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.stopFeeding()
	if s.ws != nil {
		s.ws.Close()
	}
	<-s.finished

	s.mu.Lock()
	text := strings.Join(s.committed, " ")
	stats := s.stats
	stats.FinalizeWait = time.Since(finalizeStart)
	stats.SessionDur = time.Since(s.startedAt)
	sessionErr := s.err
	confidence := s.best
	s.mu.Unlock()

	return SessionResult{
		Transcript: text,
		Confidence: confidence,
		HasText:    text != "",
		Metrics:    formatStreamMetrics(stats),
		Stream: &StreamStats{
			ConnectMs:    float64(stats.ConnectDur.Milliseconds()),
			SentChunks:   stats.SentChunks,
			SentKB:       float64(stats.SentBytes) / 1024,
			RecvMessages: stats.RecvMessages,
			RecvFinal:    stats.RecvFinal,
			RecvInterim:  stats.RecvInterim,
			FinalizeMs:   float64(stats.FinalizeWait.Milliseconds()),
			TotalMs:      float64(stats.SessionDur.Milliseconds()),
			AudioS:       stats.audioDuration(),
		},
	}, sessionErr
}

func (s *streamSession) runSender() {
	defer close(s.sendDone)
	for {
		select {
		case chunk, ok := <-s.audioCh:
			if !ok {
				if err := s.ws.CloseSend(); err != nil {
					s.setErr(err)
				}
				return
			}
			if err := s.ws.Send(chunk); err != nil {
				s.setErr(err)
				return
			}
			s.mu.Lock()
			s.stats.SentChunks++
			s.stats.SentBytes += uint64(len(chunk))
			s.mu.Unlock()
		case <-s.halt:
			return
		}
	}
}

func (s *streamSession) runReceiver() {
	defer s.finish()
	defer close(s.recvDone)
	for {
		update, err := s.ws.Recv()
		if errors.Is(err, errStreamClosed) {
			return
		}
		if err != nil {
			s.setErr(err)
			return
		}

		if update.FromFinalize {
			s.finalizedOnce.Do(func() { close(s.finalized) })
		}

		isFinal := update.IsFinal || update.SpeechFinal || update.FromFinalize

		s.mu.Lock()
		s.stats.RecvMessages++
		if isFinal {
			s.stats.RecvFinal++
		} else {
			s.stats.RecvInterim++
		}
		ended := s.ended
		s.mu.Unlock()

		if ended || len(update.Alternatives) == 0 || strings.TrimSpace(update.Alternatives[0].Transcript) == "" {
			continue
		}

		if !isFinal {
			if s.cfg.InterimResults {
				select {
				case s.events <- Event{Kind: EventResult, Alternatives: update.Alternatives}:
				default:
				}
			}
			continue
		}

		top := update.Alternatives[0]
		s.mu.Lock()
		s.committed = append(s.committed, strings.TrimSpace(top.Transcript))
		s.best = max(s.best, top.Confidence)
		if !s.cfg.Continuous {
			s.ended = true
			s.closing = true
		}
		ended = s.ended
		s.mu.Unlock()

		s.events <- Event{Kind: EventResult, Alternatives: update.Alternatives, IsFinal: true}

		if ended {
			// One utterance is all that was asked for.
			s.stopFeeding()
			s.ws.Close()
			return
		}
	}
}

// finish reports how the recognition went and closes the event stream. It
// runs once the receiver is gone.
func (s *streamSession) finish() {
	s.finishOnce.Do(func() {
		<-s.recvDone
		s.stopFeeding()
		<-s.sendDone

		s.mu.Lock()
		err := s.err
		heard := len(s.committed) > 0
		s.mu.Unlock()

		switch {
		case err != nil:
			s.events <- Event{Kind: EventError, Err: err}
		case !heard:
			s.events <- Event{Kind: EventNoMatch}
		}
		s.events <- Event{Kind: EventEnd}
		close(s.events)
		close(s.finished)
	})
}

// setErr records the first failure. Failures caused by our own shutdown are
// not failures.
func (s *streamSession) setErr(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	if s.closing || s.err != nil {
		s.mu.Unlock()
		return
	}
	s.err = err
	s.mu.Unlock()
	log.Warnf("recognition stream: %v", err)
	s.stopFeeding()
	if s.ws != nil {
		s.ws.Close()
	}
}

func formatStreamMetrics(stats streamStats) []string {
	return []string{
		fmt.Sprintf("audio:      %.1fs | %.1f KB PCM sent", stats.audioDuration(), float64(stats.SentBytes)/1024),
		fmt.Sprintf("stream:     PCM16 %dHz mono | %dms chunks", encoder.SampleRate, streamChunkMs),
		fmt.Sprintf("connect:    %dms", stats.ConnectDur.Milliseconds()),
		fmt.Sprintf("sent:       %d chunks", stats.SentChunks),
		fmt.Sprintf("recv:       %d msgs (%d final, %d interim)", stats.RecvMessages, stats.RecvFinal, stats.RecvInterim),
		fmt.Sprintf("finalize:   %dms", stats.FinalizeWait.Milliseconds()),
		fmt.Sprintf("total:      %dms", stats.SessionDur.Milliseconds()),
	}
}
