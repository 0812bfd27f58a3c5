// Package recognizer turns microphone PCM into transcripts through a speech
// recognition provider. Each Session covers one bounded recognition: it is
// fed audio, reports what it heard on Events, and is never reused.
package recognizer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	DefaultLocale       = "en-US"
	DefaultMaxUtterance = 10 * time.Second

	ProviderDeepgram = "deepgram"
	ProviderGroq     = "groq"
	ProviderOpenAI   = "openai"
)

var (
	ErrNoProvider      = errors.New("set DEEPGRAM_API_KEY, GROQ_API_KEY or OPENAI_API_KEY environment variable")
	ErrUnknownProvider = errors.New("unknown speech provider")
)

type Alternative struct {
	Transcript string
	Confidence float64
}

type EventKind int

const (
	EventResult EventKind = iota
	EventNoMatch
	EventError
	EventEnd
)

func (k EventKind) String() string {
	switch k {
	case EventResult:
		return "result"
	case EventNoMatch:
		return "nomatch"
	case EventError:
		return "error"
	case EventEnd:
		return "end"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is one notification from a session. Alternatives are ordered best
// first and only set for EventResult; Err only for EventError. EventEnd is
// always the last event before the channel closes.
type Event struct {
	Kind         EventKind
	Alternatives []Alternative
	IsFinal      bool
	Err          error
}

// Transcript is the top alternative, or "" when there is none.
func (e Event) Transcript() string {
	if len(e.Alternatives) == 0 {
		return ""
	}
	return e.Alternatives[0].Transcript
}

type SessionConfig struct {
	// Locale is a BCP 47 tag such as en-US.
	Locale string
	// Continuous keeps the session listening after the first final result.
	Continuous bool
	// InterimResults reports non-final hypotheses as they arrive.
	InterimResults bool
	// MaxUtterance bounds a single-utterance batch recognition.
	MaxUtterance time.Duration
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{Locale: DefaultLocale, MaxUtterance: DefaultMaxUtterance}
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.Locale == "" {
		c.Locale = DefaultLocale
	}
	if c.MaxUtterance <= 0 {
		c.MaxUtterance = DefaultMaxUtterance
	}
	return c
}

// language reduces a locale to the bare ISO 639-1 code some providers want.
func language(locale string) string {
	lang, _, _ := strings.Cut(locale, "-")
	return strings.ToLower(lang)
}

type BatchStats struct {
	AudioLengthS     float64
	RawSizeKB        float64
	CompressedSizeKB float64
	EncodeTimeMs     float64
	RequestMs        float64
	Attempts         int
}

type StreamStats struct {
	ConnectMs    float64
	SentChunks   int
	SentKB       float64
	RecvMessages int
	RecvFinal    int
	RecvInterim  int
	FinalizeMs   float64
	TotalMs      float64
	AudioS       float64
}

type SessionResult struct {
	Transcript string
	Confidence float64
	HasText    bool
	Batch      *BatchStats  // non-nil for batch sessions
	Stream     *StreamStats // non-nil for stream sessions
	Metrics    []string     // pre-formatted lines for the diagnostics log
}

type Session interface {
	// Feed hands over little-endian PCM16 mono at 16 kHz. It never blocks
	// once the session has ended; late audio is dropped.
	Feed(pcm []byte)
	Events() <-chan Event
	// Close finishes the recognition, waits for the final events and releases
	// the provider connection. Calling it again returns the same result.
	Close() (SessionResult, error)
}

type Recognizer interface {
	Name() string
	NewSession(ctx context.Context, cfg SessionConfig) (Session, error)
}

// New picks a provider by name, or by whichever API key is set when name is
// empty.
func New(name string) (Recognizer, error) {
	dgKey := os.Getenv("DEEPGRAM_API_KEY")
	groqKey := os.Getenv("GROQ_API_KEY")
	openAIKey := os.Getenv("OPENAI_API_KEY")

	switch name {
	case ProviderDeepgram:
		if dgKey == "" {
			return nil, errors.New("DEEPGRAM_API_KEY is not set")
		}
		return NewDeepgram(dgKey, ""), nil
	case ProviderGroq:
		if groqKey == "" {
			return nil, errors.New("GROQ_API_KEY is not set")
		}
		return NewGroq(groqKey, ""), nil
	case ProviderOpenAI:
		if openAIKey == "" {
			return nil, errors.New("OPENAI_API_KEY is not set")
		}
		return NewOpenAI(openAIKey, ""), nil
	case "":
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}

	if dgKey != "" {
		return NewDeepgram(dgKey, ""), nil
	}
	if groqKey != "" {
		return NewGroq(groqKey, ""), nil
	}
	if openAIKey != "" {
		return NewOpenAI(openAIKey, ""), nil
	}
	return nil, ErrNoProvider
}
