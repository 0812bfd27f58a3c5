package backend

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"agentone/request"
)

type recorded struct {
	method      string
	path        string
	contentType string
	body        string
}

type recorder struct {
	mu    sync.Mutex
	calls []recorded
}

func (r *recorder) add(req *http.Request) {
	body, _ := io.ReadAll(req.Body)
	r.mu.Lock()
	r.calls = append(r.calls, recorded{req.Method, req.URL.Path, req.Header.Get("Content-Type"), string(body)})
	r.mu.Unlock()
}

func (r *recorder) all() []recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recorded(nil), r.calls...)
}

func newTestClient(t *testing.T, srv *httptest.Server, retry RetryPolicy) *Client {
	t.Helper()
	c, err := New(srv.URL, Options{Timeout: 5 * time.Second, Retry: retry, Transport: srv.Client().Transport})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestURLs(t *testing.T) {
	c, err := New("http://localhost:8080/", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := c.EventsURL("1"), "http://localhost:8080/api/events/1"; got != want {
		t.Errorf("EventsURL = %q, want %q", got, want)
	}
	if got, want := c.EventsURL("a b"), "http://localhost:8080/api/events/a%20b"; got != want {
		t.Errorf("EventsURL = %q, want %q", got, want)
	}
	if got, want := c.ResponseURL(), "http://localhost:8080/api/response"; got != want {
		t.Errorf("ResponseURL = %q, want %q", got, want)
	}
}

func TestNewRejectsBadOptions(t *testing.T) {
	for _, tt := range []struct {
		name string
		url  string
		opts Options
	}{
		{"scheme", "ftp://host", Options{}},
		{"negative retry", "http://host", Options{Retry: RetryPolicy{Max: -1}}},
		{"unparseable", "http://[::1", Options{}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.url, tt.opts); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSendPostsResponse(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, RetryPolicy{})
	res, err := c.Send(context.Background(), request.Response{ID: json.RawMessage(`"42"`), Data: request.PlaceholderData})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.StatusCode != http.StatusOK || res.Attempts != 1 {
		t.Errorf("result = %+v, want status 200 after 1 attempt", res)
	}
	if res.Metrics == nil || res.Metrics.Total <= 0 {
		t.Error("expected network metrics")
	}

	calls := rec.all()
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(calls))
	}
	got := calls[0]
	if got.method != http.MethodPost || got.path != "/api/response" {
		t.Errorf("request = %s %s", got.method, got.path)
	}
	if got.contentType != "application/json" {
		t.Errorf("Content-Type = %q", got.contentType)
	}
	if want := `{"id":"42","data":"screen data placeholder"}`; got.body != want {
		t.Errorf("body = %s, want %s", got.body, want)
	}
}

func TestSendNoRetryByDefault(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, RetryPolicy{})
	res, err := c.Send(context.Background(), request.Response{ID: json.RawMessage(`"1"`), Data: "x"})
	if !errors.Is(err, ErrStatus) {
		t.Fatalf("err = %v, want ErrStatus", err)
	}
	if res == nil || res.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("result = %+v", res)
	}
	if n := len(rec.all()); n != 1 {
		t.Errorf("got %d attempts, want 1", n)
	}
}

func TestSendRetriesWithPolicy(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		if len(rec.all()) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, RetryPolicy{Max: 2, WaitMin: time.Millisecond, WaitMax: 5 * time.Millisecond})
	res, err := c.Send(context.Background(), request.Response{ID: json.RawMessage(`"1"`), Data: "x"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", res.Attempts)
	}
	calls := rec.all()
	if len(calls) != 2 || calls[0].body != calls[1].body {
		t.Errorf("calls = %+v, want 2 identical bodies", calls)
	}
}

func TestSendClientErrorNotRetried(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, RetryPolicy{Max: 3, WaitMin: time.Millisecond, WaitMax: time.Millisecond})
	if _, err := c.Send(context.Background(), request.Response{Data: "x"}); !errors.Is(err, ErrStatus) {
		t.Errorf("err = %v, want ErrStatus", err)
	}
	if n := len(rec.all()); n != 1 {
		t.Errorf("got %d attempts, want 1", n)
	}
}

func TestSendConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	c := newTestClient(t, srv, RetryPolicy{})
	srv.Close()

	if _, err := c.Send(context.Background(), request.Response{Data: "x"}); err == nil {
		t.Error("expected error against closed server")
	}
}

func TestPing(t *testing.T) {
	for _, tt := range []struct {
		name    string
		status  int
		body    string
		wantErr bool
	}{
		{"json string", http.StatusOK, `"pong"`, false},
		{"plain", http.StatusOK, "pong\n", false},
		{"wrong body", http.StatusOK, "ping", true},
		{"status", http.StatusNotFound, "pong", true},
	} {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/ping" {
					http.NotFound(w, r)
					return
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			err := newTestClient(t, srv, RetryPolicy{}).Ping(context.Background())
			if (err != nil) != tt.wantErr {
				t.Errorf("Ping err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRegister(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/register" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"client_id":"c0ffee"}`))
	}))
	defer srv.Close()

	id, err := newTestClient(t, srv, RetryPolicy{}).Register(context.Background())
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if id != "c0ffee" {
		t.Errorf("id = %q, want c0ffee", id)
	}
}

func TestRegisterEmptyID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	if _, err := newTestClient(t, srv, RetryPolicy{}).Register(context.Background()); err == nil {
		t.Error("expected error for empty client_id")
	}
}

func TestNetworkMetricsSum(t *testing.T) {
	m := &NetworkMetrics{
		ConnWait:   10 * time.Millisecond,
		DNS:        20 * time.Millisecond,
		TCP:        30 * time.Millisecond,
		TLS:        40 * time.Millisecond,
		ReqHeaders: 5 * time.Millisecond,
		ReqBody:    15 * time.Millisecond,
		TTFB:       50 * time.Millisecond,
	}
	if got, want := m.Sum(), 170*time.Millisecond; got != want {
		t.Errorf("Sum() = %v, want %v", got, want)
	}
}
