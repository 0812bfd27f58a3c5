package recognizer

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"nhooyr.io/websocket"

	"agentone/encoder"
)

const (
	deepgramStreamURL = "wss://api.deepgram.com/v1/listen"
	deepgramModel     = "nova-3"
)

// Deepgram streams PCM over a websocket and gets hypotheses back as they
// firm up.
type Deepgram struct {
	apiKey   string
	endpoint string
}

// NewDeepgram uses the public endpoint unless endpoint is set.
func NewDeepgram(apiKey, endpoint string) *Deepgram {
	if endpoint == "" {
		endpoint = deepgramStreamURL
	}
	return &Deepgram{apiKey: apiKey, endpoint: endpoint}
}

func (d *Deepgram) Name() string { return ProviderDeepgram }

func (d *Deepgram) NewSession(ctx context.Context, cfg SessionConfig) (Session, error) {
	cfg = cfg.withDefaults()
	u, err := d.streamURL(cfg)
	if err != nil {
		return nil, err
	}
	return newStreamSession(cfg, func() (rawStream, error) {
		return d.dial(ctx, u)
	}), nil
}

func (d *Deepgram) streamURL(cfg SessionConfig) (string, error) {
	endpoint, err := url.Parse(d.endpoint)
	if err != nil {
		return "", err
	}
	q := endpoint.Query()
	q.Set("model", deepgramModel)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(encoder.SampleRate))
	q.Set("channels", strconv.Itoa(encoder.Channels))
	q.Set("language", cfg.Locale)
	q.Set("interim_results", strconv.FormatBool(cfg.InterimResults))
	q.Set("punctuate", "true")
	endpoint.RawQuery = q.Encode()
	return endpoint.String(), nil
}

type deepgramStreamResponse struct {
	Type         string `json:"type"`
	IsFinal      bool   `json:"is_final"`
	SpeechFinal  bool   `json:"speech_final"`
	FromFinalize bool   `json:"from_finalize"`
	Channel      struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type deepgramStream struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

func (d *Deepgram) dial(ctx context.Context, endpoint string) (rawStream, error) {
	headers := http.Header{}
	headers.Set("Authorization", "Token "+d.apiKey)

	streamCtx, cancel := context.WithCancel(ctx)
	conn, _, err := websocket.Dial(streamCtx, endpoint, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		cancel()
		return nil, err
	}
	return &deepgramStream{conn: conn, ctx: streamCtx, cancel: cancel}, nil
}

func (s *deepgramStream) Send(pcm []byte) error {
	return s.conn.Write(s.ctx, websocket.MessageBinary, pcm)
}

func (s *deepgramStream) CloseSend() error {
	return s.conn.Write(s.ctx, websocket.MessageText, []byte(`{"type":"Finalize"}`))
}

// Recv returns the next transcript update, skipping metadata and
// voice-activity messages.
func (s *deepgramStream) Recv() (streamUpdate, error) {
	for {
		_, data, err := s.conn.Read(s.ctx)
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			return streamUpdate{}, errStreamClosed
		}
		if err != nil {
			return streamUpdate{}, err
		}

		var resp deepgramStreamResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return streamUpdate{}, err
		}
		if resp.Type != "" && resp.Type != "Results" {
			continue
		}

		alts := make([]Alternative, 0, len(resp.Channel.Alternatives))
		for _, a := range resp.Channel.Alternatives {
			alts = append(alts, Alternative{Transcript: strings.TrimSpace(a.Transcript), Confidence: a.Confidence})
		}
		return streamUpdate{
			Alternatives: alts,
			IsFinal:      resp.IsFinal,
			SpeechFinal:  resp.SpeechFinal,
			FromFinalize: resp.FromFinalize,
		}, nil
	}
}

func (s *deepgramStream) Close() error {
	s.cancel()
	err := s.conn.Close(websocket.StatusNormalClosure, "")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
