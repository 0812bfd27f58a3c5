package recognizer

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/hashicorp/go-retryablehttp"

	"agentone/log"
)

const (
	openAIAPIURL = "https://api.openai.com/v1/audio/transcriptions"
	openAIModel  = "gpt-4o-transcribe"
)

// OpenAI uploads each utterance like Groq does. Its plain json response has
// no segment scores, so results carry no confidence.
type OpenAI struct {
	apiKey   string
	endpoint string
	client   *retryablehttp.Client
}

func NewOpenAI(apiKey, endpoint string) *OpenAI {
	if endpoint == "" {
		endpoint = openAIAPIURL
	}
	return &OpenAI{apiKey: apiKey, endpoint: endpoint, client: newUploadClient()}
}

func (o *OpenAI) Name() string { return ProviderOpenAI }

func (o *OpenAI) NewSession(ctx context.Context, cfg SessionConfig) (Session, error) {
	cfg = batchOnly(ProviderOpenAI, cfg)
	lang := language(cfg.Locale)
	return newBatchSession(ctx, cfg, func(ctx context.Context, flac []byte) (*batchResult, error) {
		return o.transcribe(ctx, flac, lang)
	})
}

func (o *OpenAI) transcribe(ctx context.Context, flac []byte, lang string) (*batchResult, error) {
	resp, err := uploadFLAC(ctx, o.client, ProviderOpenAI, o.endpoint, o.apiKey, map[string]string{
		"model":           openAIModel,
		"response_format": "json",
		"language":        lang,
	}, flac)
	if err != nil {
		return nil, err
	}

	var or struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(resp.Body, &or); err != nil {
		return nil, fmt.Errorf("openai response parse error: %w", err)
	}
	log.Debugf("openai: ratelimit %s/%s",
		resp.Header.Get("x-ratelimit-remaining-requests"), resp.Header.Get("x-ratelimit-limit-requests"))

	res := &batchResult{Attempts: resp.Attempts, Elapsed: resp.Elapsed}
	if or.Text != "" {
		res.Alternatives = []Alternative{{Transcript: or.Text}}
	}
	return res, nil
}
