package recognizer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"agentone/encoder"
)

const batchEventBuffer = 4

type batchResult struct {
	Alternatives []Alternative
	Attempts     int
	Elapsed      time.Duration
}

type transcribeFunc func(ctx context.Context, flac []byte) (*batchResult, error)

// batchSession collects one utterance, compresses it on the fly, and sends it
// for recognition once the caller closes the session or MaxUtterance passes.
type batchSession struct {
	ctx        context.Context
	cfg        SessionConfig
	transcribe transcribeFunc
	enc        *encoder.FlacEncoder
	events     chan Event
	blockChan  chan []int16
	encodeDone chan struct{}
	timer      *time.Timer

	bufMu     sync.Mutex
	sampleBuf []int16
	closed    bool

	finishOnce sync.Once
	result     SessionResult
	err        error
}

func newBatchSession(ctx context.Context, cfg SessionConfig, transcribe transcribeFunc) (*batchSession, error) {
	enc, err := encoder.NewFlac()
	if err != nil {
		return nil, err
	}

	bs := &batchSession{
		ctx:        ctx,
		cfg:        cfg,
		transcribe: transcribe,
		enc:        enc,
		events:     make(chan Event, batchEventBuffer),
		blockChan:  make(chan []int16, 64),
		encodeDone: make(chan struct{}),
	}

	go func() {
		defer close(bs.encodeDone)
		for block := range bs.blockChan {
			start := time.Now()
			bs.enc.EncodeBlock(block)
			bs.enc.AddEncodeTime(time.Since(start))
		}
	}()

	// A single utterance is cut off after MaxUtterance.
	bs.timer = time.AfterFunc(cfg.MaxUtterance, bs.finish)
	return bs, nil
}

func (bs *batchSession) Feed(pcm []byte) {
	bs.bufMu.Lock()
	defer bs.bufMu.Unlock()
	if bs.closed {
		return
	}
	bs.sampleBuf = append(bs.sampleBuf, encoder.Samples(pcm)...)
	for len(bs.sampleBuf) >= encoder.BlockSize {
		block := make([]int16, encoder.BlockSize)
		copy(block, bs.sampleBuf[:encoder.BlockSize])
		bs.sampleBuf = bs.sampleBuf[encoder.BlockSize:]
		bs.blockChan <- block
	}
}

func (bs *batchSession) Events() <-chan Event {
	return bs.events
}

func (bs *batchSession) Close() (SessionResult, error) {
	bs.timer.Stop()
	bs.finish()
	return bs.result, bs.err
}

func (bs *batchSession) finish() {
	bs.finishOnce.Do(func() {
		bs.result, bs.err = bs.recognize()

		switch {
		case bs.err != nil:
			bs.events <- Event{Kind: EventError, Err: bs.err}
		case !bs.result.HasText:
			bs.events <- Event{Kind: EventNoMatch}
		}
		bs.events <- Event{Kind: EventEnd}
		close(bs.events)
	})
}

func (bs *batchSession) recognize() (SessionResult, error) {
	bs.bufMu.Lock()
	bs.closed = true
	if len(bs.sampleBuf) > 0 {
		bs.blockChan <- bs.sampleBuf
		bs.sampleBuf = nil
	}
	close(bs.blockChan)
	bs.bufMu.Unlock()

	<-bs.encodeDone
	if err := bs.enc.Close(); err != nil {
		return SessionResult{}, err
	}

	frames := bs.enc.TotalFrames()
	stats := &BatchStats{
		AudioLengthS:     encoder.Duration(frames).Seconds(),
		RawSizeKB:        float64(frames*2) / 1024,
		CompressedSizeKB: float64(len(bs.enc.Bytes())) / 1024,
		EncodeTimeMs:     float64(bs.enc.EncodeTime().Milliseconds()),
	}
	if frames == 0 {
		return SessionResult{Batch: stats}, nil
	}

	res, err := bs.transcribe(bs.ctx, bs.enc.Bytes())
	if err != nil {
		return SessionResult{Batch: stats}, err
	}
	stats.RequestMs = float64(res.Elapsed.Milliseconds())
	stats.Attempts = res.Attempts

	sr := SessionResult{Batch: stats}
	if len(res.Alternatives) > 0 {
		top := res.Alternatives[0]
		sr.Transcript = strings.TrimSpace(top.Transcript)
		sr.Confidence = top.Confidence
		sr.HasText = sr.Transcript != ""
	}
	sr.Metrics = formatBatchMetrics(stats, sr.Confidence)
	if sr.HasText {
		bs.events <- Event{Kind: EventResult, Alternatives: res.Alternatives, IsFinal: true}
	}
	return sr, nil
}

func formatBatchMetrics(stats *BatchStats, confidence float64) []string {
	lines := []string{
		fmt.Sprintf("audio:      %.1fs | %.1f KB → %.1f KB flac", stats.AudioLengthS, stats.RawSizeKB, stats.CompressedSizeKB),
		fmt.Sprintf("encode:     %.0fms (concurrent)", stats.EncodeTimeMs),
		fmt.Sprintf("request:    %.0fms (%d attempts)", stats.RequestMs, stats.Attempts),
	}
	if confidence > 0 {
		lines = append(lines, fmt.Sprintf("confidence: %.4f", confidence))
	}
	return lines
}
