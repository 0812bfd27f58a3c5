package recognizer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"agentone/log"
)

const (
	uploadRetryMax = 2
	uploadTimeout  = 30 * time.Second
)

type attemptsKey struct{}

// newUploadClient is the retrying client shared by the batch providers. Each
// request carries an attempt counter in its context.
func newUploadClient() *retryablehttp.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = uploadRetryMax
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = log.Leveled{}
	rc.HTTPClient.Timeout = uploadTimeout
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, _ int) {
		if n, ok := req.Context().Value(attemptsKey{}).(*int32); ok {
			atomic.AddInt32(n, 1)
		}
	}
	return rc
}

type uploadResponse struct {
	Header   http.Header
	Body     []byte
	Attempts int
	Elapsed  time.Duration
}

// uploadFLAC posts one utterance as the "file" part of a multipart form to an
// OpenAI-style transcription endpoint. Non-200 answers are errors.
func uploadFLAC(ctx context.Context, client *retryablehttp.Client, provider, endpoint, apiKey string, fields map[string]string, flac []byte) (*uploadResponse, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", "audio.flac")
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(flac); err != nil {
		return nil, err
	}
	for k, v := range fields {
		if v != "" {
			w.WriteField(k, v)
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	var attempts int32
	ctx = context.WithValue(ctx, attemptsKey{}, &attempts)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, endpoint, body.Bytes())
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", w.FormDataContentType())

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, fmt.Errorf("%s request: %w", provider, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s response: %w", provider, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s API error %d: %s", provider, resp.StatusCode, respBody)
	}
	return &uploadResponse{
		Header:   resp.Header,
		Body:     respBody,
		Attempts: int(atomic.LoadInt32(&attempts)),
		Elapsed:  time.Since(start),
	}, nil
}
