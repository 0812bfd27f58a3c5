package recognizer

import (
	"context"
	"fmt"
	"math"

	"github.com/goccy/go-json"
	"github.com/hashicorp/go-retryablehttp"

	"agentone/log"
)

const (
	groqAPIURL = "https://api.groq.com/openai/v1/audio/transcriptions"
	groqModel  = "whisper-large-v3-turbo"
)

// Groq sends each utterance as one FLAC upload to a Whisper endpoint.
// Sessions are always single-utterance.
type Groq struct {
	apiKey   string
	endpoint string
	client   *retryablehttp.Client
}

func NewGroq(apiKey, endpoint string) *Groq {
	if endpoint == "" {
		endpoint = groqAPIURL
	}
	return &Groq{apiKey: apiKey, endpoint: endpoint, client: newUploadClient()}
}

func (g *Groq) Name() string { return ProviderGroq }

func (g *Groq) NewSession(ctx context.Context, cfg SessionConfig) (Session, error) {
	cfg = batchOnly(ProviderGroq, cfg)
	lang := language(cfg.Locale)
	return newBatchSession(ctx, cfg, func(ctx context.Context, flac []byte) (*batchResult, error) {
		return g.transcribe(ctx, flac, lang)
	})
}

// batchOnly warns about modes an upload provider cannot honor.
func batchOnly(provider string, cfg SessionConfig) SessionConfig {
	cfg = cfg.withDefaults()
	if cfg.Continuous {
		log.Warnf("%s: continuous recognition unsupported, using single utterance", provider)
	}
	if cfg.InterimResults {
		log.Warnf("%s: interim results unsupported", provider)
	}
	return cfg
}

type groqResponse struct {
	Text     string  `json:"text"`
	Duration float64 `json:"duration"`
	Segments []struct {
		AvgLogProb   float64 `json:"avg_logprob"`
		NoSpeechProb float64 `json:"no_speech_prob"`
	} `json:"segments"`
}

// confidence maps the mean segment log probability to 0..1.
func (r groqResponse) confidence() float64 {
	if len(r.Segments) == 0 {
		return 0
	}
	var sum float64
	for _, s := range r.Segments {
		sum += s.AvgLogProb
	}
	return math.Exp(sum / float64(len(r.Segments)))
}

func (g *Groq) transcribe(ctx context.Context, flac []byte, lang string) (*batchResult, error) {
	resp, err := uploadFLAC(ctx, g.client, ProviderGroq, g.endpoint, g.apiKey, map[string]string{
		"model":           groqModel,
		"response_format": "verbose_json",
		"language":        lang,
	}, flac)
	if err != nil {
		return nil, err
	}

	var gr groqResponse
	if err := json.Unmarshal(resp.Body, &gr); err != nil {
		return nil, fmt.Errorf("groq response parse error: %w", err)
	}
	log.Debugf("groq: %.1fs audio, ratelimit %s/%s", gr.Duration,
		resp.Header.Get("x-ratelimit-remaining-requests"), resp.Header.Get("x-ratelimit-limit-requests"))

	res := &batchResult{Attempts: resp.Attempts, Elapsed: resp.Elapsed}
	if gr.Text != "" {
		res.Alternatives = []Alternative{{Transcript: gr.Text, Confidence: gr.confidence()}}
	}
	return res, nil
}
