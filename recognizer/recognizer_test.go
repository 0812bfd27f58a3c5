package recognizer

import (
	"context"
	"errors"
	"testing"
	"time"
)

func collect(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("events not closed; got %v", kinds(out))
		}
	}
}

func kinds(evs []Event) []EventKind {
	out := make([]EventKind, len(evs))
	for i, ev := range evs {
		out[i] = ev.Kind
	}
	return out
}

func wantKinds(t *testing.T, evs []Event, want ...EventKind) {
	t.Helper()
	got := kinds(evs)
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}

func TestLanguage(t *testing.T) {
	for _, tt := range []struct{ in, want string }{
		{"en-US", "en"},
		{"pt-BR", "pt"},
		{"de", "de"},
		{"", ""},
	} {
		if got := language(tt.in); got != tt.want {
			t.Errorf("language(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSessionConfigDefaults(t *testing.T) {
	cfg := SessionConfig{}.withDefaults()
	if cfg.Locale != "en-US" || cfg.MaxUtterance != DefaultMaxUtterance {
		t.Errorf("defaults = %+v", cfg)
	}
	def := DefaultSessionConfig()
	if def.Continuous || def.InterimResults {
		t.Errorf("DefaultSessionConfig = %+v, want single utterance without interims", def)
	}
}

func TestEventTranscript(t *testing.T) {
	if got := (Event{}).Transcript(); got != "" {
		t.Errorf("empty event transcript = %q", got)
	}
	ev := Event{Alternatives: []Alternative{{Transcript: "hello world"}, {Transcript: "hollow world"}}}
	if got := ev.Transcript(); got != "hello world" {
		t.Errorf("Transcript = %q, want top alternative", got)
	}
	if EventNoMatch.String() != "nomatch" || EventKind(9).String() != "EventKind(9)" {
		t.Error("unexpected EventKind names")
	}
}

func TestNewSelectsProvider(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		dg, groq string
		openAI   string
		want     string
		wantErr  error
	}{
		{"deepgram key wins", "", "dg", "gq", "oa", ProviderDeepgram, nil},
		{"groq only", "", "", "gq", "", ProviderGroq, nil},
		{"groq before openai", "", "", "gq", "oa", ProviderGroq, nil},
		{"openai only", "", "", "", "oa", ProviderOpenAI, nil},
		{"explicit groq", ProviderGroq, "dg", "gq", "", ProviderGroq, nil},
		{"explicit openai", ProviderOpenAI, "dg", "gq", "oa", ProviderOpenAI, nil},
		{"no keys", "", "", "", "", "", ErrNoProvider},
		{"unknown", "whisper", "dg", "", "", "", ErrUnknownProvider},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DEEPGRAM_API_KEY", tt.dg)
			t.Setenv("GROQ_API_KEY", tt.groq)
			t.Setenv("OPENAI_API_KEY", tt.openAI)
			rec, err := New(tt.provider)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if rec.Name() != tt.want {
				t.Errorf("provider = %s, want %s", rec.Name(), tt.want)
			}
		})
	}

	t.Run("explicit without key", func(t *testing.T) {
		t.Setenv("DEEPGRAM_API_KEY", "")
		if _, err := New(ProviderDeepgram); err == nil {
			t.Error("expected error when the key is missing")
		}
	})
}

func TestFakeSingleUtterance(t *testing.T) {
	rec := NewFake("hello world", nil)
	s, _ := rec.NewSession(context.Background(), DefaultSessionConfig())
	s.Feed(make([]byte, 320))
	s.Feed(make([]byte, 320))

	evs := collect(t, s.Events())
	wantKinds(t, evs, EventResult, EventEnd)
	if evs[0].Transcript() != "hello world" || !evs[0].IsFinal {
		t.Errorf("result = %+v", evs[0])
	}

	res, err := s.Close()
	if err != nil || res.Transcript != "hello world" {
		t.Errorf("Close = %+v, %v", res, err)
	}
	fs := rec.Sessions()[0]
	if fs.Fed() != 320 || fs.Closes() != 1 {
		t.Errorf("fed %d bytes, closed %d times", fs.Fed(), fs.Closes())
	}
}

func TestFakeNoAudio(t *testing.T) {
	s, _ := NewFake("hello", nil).NewSession(context.Background(), DefaultSessionConfig())
	s.Close()
	wantKinds(t, collect(t, s.Events()), EventNoMatch, EventEnd)
}

func TestFakeError(t *testing.T) {
	boom := errors.New("quota")
	s, _ := NewFake("", boom).NewSession(context.Background(), DefaultSessionConfig())
	s.Feed([]byte{0, 0})
	evs := collect(t, s.Events())
	wantKinds(t, evs, EventError, EventEnd)
	if !errors.Is(evs[0].Err, boom) {
		t.Errorf("err = %v", evs[0].Err)
	}
	if _, err := s.Close(); !errors.Is(err, boom) {
		t.Errorf("Close err = %v", err)
	}
}
