package speech

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"agentone/audio"
	"agentone/log"
	"agentone/recognizer"
)

type recordSink struct {
	mu    sync.Mutex
	lines []string
	err   error
}

func (s *recordSink) Emit(u Utterance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, u.Line())
	return s.err
}

func (s *recordSink) got() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

func waitDone(t *testing.T, c *Capture) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("activation did not end")
	}
}

func pcm(frames int) []byte { return make([]byte, frames*audio.BytesPerFrame) }

func TestYouSaid(t *testing.T) {
	rec := recognizer.NewFake("hello world", nil)
	sink := &recordSink{}
	c := New(rec, audio.NewFakeContextPCM(pcm(4000), false), sink, DefaultOptions())

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, c)

	lines := sink.got()
	if len(lines) != 1 || lines[0] != "You said: hello world" {
		t.Errorf("sink lines = %q, want [You said: hello world]", lines)
	}
	if c.Last() != "hello world" {
		t.Errorf("Last = %q", c.Last())
	}
}

func TestSessionConfiguredForOneUtterance(t *testing.T) {
	rec := recognizer.NewFake("hi", nil)
	c := New(rec, audio.NewFakeContextPCM(pcm(100), false), &recordSink{}, DefaultOptions())
	c.Start(context.Background())
	waitDone(t, c)

	cfg := rec.Sessions()[0].Config
	if cfg.Locale != "en-US" || cfg.Continuous || cfg.InterimResults {
		t.Errorf("session config = %+v, want en-US single utterance without interims", cfg)
	}
}

func TestStartTwiceBuildsNewSession(t *testing.T) {
	rec := recognizer.NewFake("again", nil)
	actx := audio.NewFakeContextPCM(pcm(sampleFrames), true)
	sink := &recordSink{}
	c := New(rec, actx, sink, DefaultOptions())

	for i := 0; i < 2; i++ {
		if err := c.Start(context.Background()); err != nil {
			t.Fatalf("Start #%d: %v", i+1, err)
		}
	}
	if err := c.Stop(); err != nil {
		t.Fatal(err)
	}

	sessions := rec.Sessions()
	if len(sessions) != 2 {
		t.Fatalf("sessions = %d, want 2", len(sessions))
	}
	if sessions[0] == sessions[1] {
		t.Error("session reused across activations")
	}
	for i, s := range sessions {
		if s.Closes() == 0 {
			t.Errorf("session %d never closed", i)
		}
	}
	caps := actx.Captures()
	if len(caps) != 2 {
		t.Fatalf("captures = %d, want 2", len(caps))
	}
	for i, fc := range caps {
		if !fc.Closed() {
			t.Errorf("capture %d left open", i)
		}
	}
	if c.Activations() != 2 {
		t.Errorf("activations = %d", c.Activations())
	}
}

// sampleFrames is a few seconds of audio so realtime playback outlives the
// test unless Stop cuts it short.
const sampleFrames = 16000 * 3

func TestStopCleansUp(t *testing.T) {
	// No transcript: the session stays open until stopped.
	rec := recognizer.NewFake("", nil)
	actx := audio.NewFakeContextPCM(pcm(sampleFrames), true)
	c := New(rec, actx, &recordSink{}, DefaultOptions())
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	c.Stop()
	if d := time.Since(start); d > 2*time.Second {
		t.Errorf("Stop took %v", d)
	}
	waitDone(t, c)

	if rec.Sessions()[0].Closes() == 0 {
		t.Error("session not closed")
	}
	if fc := actx.Captures()[0]; !fc.Stopped() || !fc.Closed() {
		t.Error("capture device not released")
	}
	if err := c.Stop(); err != nil {
		t.Errorf("second Stop = %v", err)
	}
}

func TestContextCancelEndsActivation(t *testing.T) {
	rec := recognizer.NewFake("", nil)
	c := New(rec, audio.NewFakeContextPCM(pcm(sampleFrames), true), &recordSink{}, DefaultOptions())
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)
	cancel()
	waitDone(t, c)
	if rec.Sessions()[0].Closes() == 0 {
		t.Error("session not closed after cancel")
	}
}

func TestRecognitionErrorDoesNotEmit(t *testing.T) {
	rec := recognizer.NewFake("", errors.New("quota exceeded"))
	sink := &recordSink{}
	c := New(rec, audio.NewFakeContextPCM(pcm(100), false), sink, DefaultOptions())
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitDone(t, c)
	if n := len(sink.got()); n != 0 {
		t.Errorf("sink got %d lines after an error", n)
	}
}

func TestUnknownDevice(t *testing.T) {
	opts := DefaultOptions()
	opts.Device = "usb headset"
	rec := recognizer.NewFake("x", nil)
	c := New(rec, audio.NewFakeContextPCM(nil, false), &recordSink{}, opts)
	if err := c.Start(context.Background()); err == nil {
		t.Fatal("expected error for unknown device")
	}
	if n := len(rec.Sessions()); n != 0 {
		t.Errorf("sessions = %d, want none", n)
	}
}

func TestSinkErrorLogged(t *testing.T) {
	sink := &recordSink{err: errors.New("clipboard gone")}
	c := New(recognizer.NewFake("hello", nil), audio.NewFakeContextPCM(pcm(100), false), sink, DefaultOptions())
	c.Start(context.Background())
	waitDone(t, c)
	if len(sink.got()) != 1 {
		t.Error("sink not called")
	}
}

func TestMultiSink(t *testing.T) {
	a, b := &recordSink{err: errors.New("a failed")}, &recordSink{}
	err := MultiSink{a, b}.Emit(Utterance{Transcript: "x"})
	if err == nil || !strings.Contains(err.Error(), "a failed") {
		t.Errorf("err = %v", err)
	}
	if len(b.got()) != 1 {
		t.Error("second sink skipped after first failed")
	}
}

func TestConsoleSinkPlain(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "out.txt"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	s := NewConsoleSink(f)
	if err := s.Emit(Utterance{Transcript: "hello world"}); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(f.Name())
	if string(data) != "You said: hello world\n" {
		t.Errorf("output = %q", data)
	}
}

func TestClipboardSinkCopiesTranscript(t *testing.T) {
	var copied string
	s := &ClipboardSink{copy: func(s string) error { copied = s; return nil }}
	s.Emit(Utterance{Transcript: "hello world"})
	if copied != "hello world" {
		t.Errorf("copied %q", copied)
	}
}

func TestPasteSinkCopiesThenPastes(t *testing.T) {
	var calls []string
	s := &PasteSink{
		copy:  func(s string) error { calls = append(calls, "copy "+s); return nil },
		paste: func() error { calls = append(calls, "paste"); return nil },
	}
	if err := s.Emit(Utterance{Transcript: "hello world"}); err != nil {
		t.Fatal(err)
	}
	if len(calls) != 2 || calls[0] != "copy hello world" || calls[1] != "paste" {
		t.Errorf("calls = %q", calls)
	}
}

func TestPasteSinkSkipsPasteWhenCopyFails(t *testing.T) {
	pasted := false
	s := &PasteSink{
		copy:  func(string) error { return errors.New("no clipboard") },
		paste: func() error { pasted = true; return nil },
	}
	if err := s.Emit(Utterance{Transcript: "x"}); err == nil {
		t.Error("Emit = nil, want copy error")
	}
	if pasted {
		t.Error("pasted stale clipboard contents")
	}
}

func TestLogSinkWritesTranscript(t *testing.T) {
	dir := t.TempDir()
	log.SetDir(dir)
	if err := log.Init(); err != nil {
		t.Fatal(err)
	}
	defer log.Close()

	LogSink{}.Emit(Utterance{Transcript: "hello world"})
	data, err := os.ReadFile(filepath.Join(dir, log.TranscriptFile))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(strings.TrimSpace(string(data)), "\thello world") {
		t.Errorf("transcript log = %q", data)
	}
	diag, _ := os.ReadFile(filepath.Join(dir, log.DiagnosticsFile))
	if !strings.Contains(string(diag), "You said: hello world") {
		t.Errorf("diagnostics log missing line: %q", diag)
	}
}

func TestFinishEndsActivation(t *testing.T) {
	rec := recognizer.NewFake("", nil)
	actx := audio.NewFakeContextPCM(pcm(sampleFrames), true)
	c := New(rec, actx, &recordSink{}, DefaultOptions())
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	c.Finish()
	c.Finish()
	waitDone(t, c)
	if d := time.Since(start); d > 2*time.Second {
		t.Errorf("Finish took %v, want the activation to end before the audio does", d)
	}
	if n := rec.Sessions()[0].Closes(); n == 0 {
		t.Error("session not closed")
	}
	if !actx.Captures()[0].Closed() {
		t.Error("capture device left open")
	}
}

func TestFinishWhenIdle(t *testing.T) {
	c := New(recognizer.NewFake("", nil), audio.NewFakeContextPCM(nil, false), &recordSink{}, DefaultOptions())
	c.Finish()
}
