package recognizer

import (
	"context"
	"sync"
)

// FakeRecognizer hears the same thing in every session: the first Feed
// produces a final result with its transcript, or an error when err is set.
type FakeRecognizer struct {
	transcript string
	err        error

	mu       sync.Mutex
	sessions []*FakeSession
}

func NewFake(transcript string, err error) *FakeRecognizer {
	return &FakeRecognizer{transcript: transcript, err: err}
}

func (f *FakeRecognizer) Name() string { return "fake" }

func (f *FakeRecognizer) NewSession(_ context.Context, cfg SessionConfig) (Session, error) {
	s := &FakeSession{
		Config:     cfg.withDefaults(),
		transcript: f.transcript,
		err:        f.err,
		events:     make(chan Event, 8),
	}
	f.mu.Lock()
	f.sessions = append(f.sessions, s)
	f.mu.Unlock()
	return s, nil
}

// Sessions returns every session created so far, oldest first.
func (f *FakeRecognizer) Sessions() []*FakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeSession(nil), f.sessions...)
}

type FakeSession struct {
	Config SessionConfig

	transcript string
	err        error
	events     chan Event

	mu     sync.Mutex
	fed    int
	heard  bool
	ended  bool
	closes int
}

func (s *FakeSession) Feed(pcm []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.fed += len(pcm)
	if s.heard {
		return
	}
	s.heard = true
	switch {
	case s.err != nil:
		s.events <- Event{Kind: EventError, Err: s.err}
		s.endLocked()
	case s.transcript != "":
		s.events <- Event{
			Kind:         EventResult,
			Alternatives: []Alternative{{Transcript: s.transcript, Confidence: 0.9}},
			IsFinal:      true,
		}
		if !s.Config.Continuous {
			s.endLocked()
		}
	}
}

func (s *FakeSession) endLocked() {
	if s.ended {
		return
	}
	s.ended = true
	if s.err == nil && (s.transcript == "" || !s.heard) {
		s.events <- Event{Kind: EventNoMatch}
	}
	s.events <- Event{Kind: EventEnd}
	close(s.events)
}

func (s *FakeSession) Events() <-chan Event { return s.events }

func (s *FakeSession) Close() (SessionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	s.endLocked()
	if s.err != nil && s.heard {
		return SessionResult{}, s.err
	}
	res := SessionResult{Metrics: []string{"total: 0ms (fake)"}}
	if s.heard && s.transcript != "" {
		res.Transcript = s.transcript
		res.Confidence = 0.9
		res.HasText = true
	}
	return res, nil
}

// Fed reports how many PCM bytes reached the session.
func (s *FakeSession) Fed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fed
}

func (s *FakeSession) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}
