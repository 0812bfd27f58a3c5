package speech

import (
	"sync"
	"time"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"

	"agentone/audio"
)

const (
	vadMode       = 3
	vadFrameMs    = 20
	vadFrameBytes = audio.SampleRate * vadFrameMs / 1000 * audio.BytesPerFrame // 640 bytes
	vadDebounce   = 3                                                          // consecutive speech frames to confirm voice

	DefaultEndSilence = time.Second
	DefaultNoSpeech   = 8 * time.Second
)

// VoiceDetector classifies one 20ms PCM16 frame as speech or not.
type VoiceDetector interface {
	Process(sampleRate int, frame []byte) (bool, error)
}

func NewWebRTCVAD() (VoiceDetector, error) {
	v, err := webrtcvad.New()
	if err != nil {
		return nil, err
	}
	if err := v.SetMode(vadMode); err != nil {
		return nil, err
	}
	return v, nil
}

// EndpointConfig bounds a single-utterance activation by audio content:
// EndSilence of quiet after confirmed voice ends it, as does NoSpeech without
// any voice at all. Zero values take the defaults.
type EndpointConfig struct {
	EndSilence time.Duration
	NoSpeech   time.Duration
}

type Endpoint int

const (
	EndpointNone Endpoint = iota
	EndpointSpeechEnded
	EndpointNoSpeech
)

func (e Endpoint) String() string {
	switch e {
	case EndpointSpeechEnded:
		return "speech ended"
	case EndpointNoSpeech:
		return "no speech"
	default:
		return "none"
	}
}

// endpointer counts frames rather than wall time so that faster-than-realtime
// input reaches the same decision.
type endpointer struct {
	vad VoiceDetector

	endSilenceFrames int
	noSpeechFrames   int

	mu          sync.Mutex
	buf         []byte
	frames      int
	speechRun   int
	silentRun   int
	voice       bool
	speechCount int
	decided     Endpoint
}

func newEndpointer(vad VoiceDetector, cfg EndpointConfig) *endpointer {
	if cfg.EndSilence <= 0 {
		cfg.EndSilence = DefaultEndSilence
	}
	if cfg.NoSpeech <= 0 {
		cfg.NoSpeech = DefaultNoSpeech
	}
	frame := vadFrameMs * time.Millisecond
	return &endpointer{
		vad:              vad,
		endSilenceFrames: int(cfg.EndSilence / frame),
		noSpeechFrames:   int(cfg.NoSpeech / frame),
	}
}

// Process feeds captured PCM and returns the endpoint once one is reached.
// Later calls keep returning the same decision.
func (e *endpointer) Process(data []byte) Endpoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.decided != EndpointNone {
		return e.decided
	}

	e.buf = append(e.buf, data...)
	for len(e.buf) >= vadFrameBytes {
		frame := e.buf[:vadFrameBytes]
		e.buf = e.buf[vadFrameBytes:]

		active, err := e.vad.Process(audio.SampleRate, frame)
		if err != nil {
			continue
		}
		e.frames++
		if active {
			e.speechCount++
			e.speechRun++
			e.silentRun = 0
			if e.speechRun >= vadDebounce {
				e.voice = true
			}
		} else {
			e.speechRun = 0
			e.silentRun++
		}

		switch {
		case e.voice && e.silentRun >= e.endSilenceFrames:
			e.decided = EndpointSpeechEnded
		case !e.voice && e.frames >= e.noSpeechFrames:
			e.decided = EndpointNoSpeech
		}
		if e.decided != EndpointNone {
			e.buf = nil
			return e.decided
		}
	}
	return EndpointNone
}

// Stats reports processed and speech frame counts.
func (e *endpointer) Stats() (total, speech int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frames, e.speechCount
}
