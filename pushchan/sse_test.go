package pushchan

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func streamHandler(hold bool, events ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		for _, ev := range events {
			fmt.Fprint(w, ev)
			flusher.Flush()
		}
		if hold {
			<-r.Context().Done()
		}
	}
}

func recv(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case msg, ok := <-ch:
		if !ok {
			t.Fatal("channel closed, expected message")
		}
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for message")
	}
	return Message{}
}

func waitClosed(t *testing.T, ch <-chan Message) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("timeout waiting for channel close")
		}
	}
}

func TestSSEDeliversDefaultChannel(t *testing.T) {
	srv := httptest.NewServer(streamHandler(true,
		"data: {\"type\":\"screenCapture\",\"id\":\"42\"}\n\n",
		"event: ping\ndata: ignored\n\n",
		"event: message\ndata: second\n\n",
	))
	defer srv.Close()

	ch := NewSSE(srv.URL+"/api/events/1", srv.Client())
	msgs, err := ch.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	first := recv(t, msgs)
	if string(first.Data) != `{"type":"screenCapture","id":"42"}` {
		t.Errorf("first data = %q", first.Data)
	}
	if first.Event != DefaultEvent {
		t.Errorf("first event = %q, want %q", first.Event, DefaultEvent)
	}
	second := recv(t, msgs)
	if string(second.Data) != "second" {
		t.Errorf("second data = %q, want second", second.Data)
	}

	if err := ch.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	waitClosed(t, msgs)
	if err := ch.Err(); err != nil {
		t.Errorf("Err after Close = %v, want nil", err)
	}
}

func TestSSEOpenTwice(t *testing.T) {
	srv := httptest.NewServer(streamHandler(true))
	defer srv.Close()

	ch := NewSSE(srv.URL, srv.Client())
	if _, err := ch.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer ch.Close()
	if _, err := ch.Open(context.Background()); !errors.Is(err, ErrAlreadyOpen) {
		t.Errorf("second Open err = %v, want ErrAlreadyOpen", err)
	}
}

func TestSSEReopenAfterClose(t *testing.T) {
	srv := httptest.NewServer(streamHandler(true, "data: hi\n\n"))
	defer srv.Close()

	ch := NewSSE(srv.URL, srv.Client())
	for i := 0; i < 2; i++ {
		msgs, err := ch.Open(context.Background())
		if err != nil {
			t.Fatalf("Open #%d: %v", i+1, err)
		}
		if msg := recv(t, msgs); string(msg.Data) != "hi" {
			t.Errorf("Open #%d data = %q", i+1, msg.Data)
		}
		ch.Close()
		waitClosed(t, msgs)
	}
}

func TestSSEServerEndsStream(t *testing.T) {
	srv := httptest.NewServer(streamHandler(false, "data: last\n\n"))
	defer srv.Close()

	ch := NewSSE(srv.URL, srv.Client())
	msgs, err := ch.Open(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer ch.Close()

	waitClosed(t, msgs)
	if ch.Err() == nil {
		t.Error("expected Err after server ended the stream")
	}
}

func TestSSEServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	ch := NewSSE(srv.URL, srv.Client())
	msgs, err := ch.Open(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer ch.Close()

	waitClosed(t, msgs)
	if ch.Err() == nil {
		t.Error("expected Err for non-200 response")
	}
}

func TestSSECloseWithoutOpen(t *testing.T) {
	if err := NewSSE("http://127.0.0.1:0", nil).Close(); err != nil {
		t.Errorf("Close = %v, want nil", err)
	}
}

func TestFakeLifecycle(t *testing.T) {
	f := NewFake()
	if f.Push("x") {
		t.Error("Push before Open should report false")
	}
	msgs, err := f.Open(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Open(context.Background()); !errors.Is(err, ErrAlreadyOpen) {
		t.Errorf("second Open err = %v", err)
	}
	f.PushEvent("ping", "skip")
	f.Push("hello")
	if msg := recv(t, msgs); string(msg.Data) != "hello" {
		t.Errorf("data = %q, want hello", msg.Data)
	}
	f.Close()
	waitClosed(t, msgs)
	if f.Opens() != 1 || f.Closes() != 1 {
		t.Errorf("opens=%d closes=%d, want 1/1", f.Opens(), f.Closes())
	}
}
