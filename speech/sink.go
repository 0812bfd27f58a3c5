package speech

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"agentone/clipboard"
	"agentone/log"
	"agentone/paste"
)

// Prefix starts every line reporting a recognized utterance.
const Prefix = "You said: "

type Utterance struct {
	Transcript string
	Confidence float64
}

func (u Utterance) Line() string { return Prefix + u.Transcript }

// A Sink receives each recognized utterance.
type Sink interface {
	Emit(u Utterance) error
}

// LogSink writes the line to the diagnostics and transcript logs.
type LogSink struct{}

func (LogSink) Emit(u Utterance) error {
	log.Info(u.Line())
	log.Transcript(u.Transcript)
	return nil
}

type ConsoleSink struct {
	w      io.Writer
	styled bool
	label  lipgloss.Style
	text   lipgloss.Style
}

// NewConsoleSink prints to f, with color only when f is a terminal.
func NewConsoleSink(f *os.File) *ConsoleSink {
	return &ConsoleSink{
		w:      f,
		styled: term.IsTerminal(int(f.Fd())),
		label:  lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		text:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86")),
	}
}

func (s *ConsoleSink) Emit(u Utterance) error {
	line := u.Line()
	if s.styled {
		line = s.label.Render(Prefix) + s.text.Render(u.Transcript)
	}
	_, err := fmt.Fprintln(s.w, line)
	return err
}

// ClipboardSink copies the bare transcript.
type ClipboardSink struct {
	copy func(string) error
}

func NewClipboardSink() *ClipboardSink {
	return &ClipboardSink{copy: clipboard.Copy}
}

func (s *ClipboardSink) Emit(u Utterance) error {
	if err := s.copy(u.Transcript); err != nil {
		return fmt.Errorf("copy transcript: %w", err)
	}
	return nil
}

// PasteSink puts the transcript into the focused window: it copies it to the
// clipboard, then presses the paste shortcut.
type PasteSink struct {
	copy  func(string) error
	paste func() error
}

func NewPasteSink() *PasteSink {
	return &PasteSink{copy: clipboard.Copy, paste: paste.Send}
}

func (s *PasteSink) Emit(u Utterance) error {
	if err := s.copy(u.Transcript); err != nil {
		return fmt.Errorf("copy transcript: %w", err)
	}
	if err := s.paste(); err != nil {
		return fmt.Errorf("paste transcript: %w", err)
	}
	return nil
}

// MultiSink hands every utterance to each sink; one failing does not stop
// the rest.
type MultiSink []Sink

func (m MultiSink) Emit(u Utterance) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(u); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
