package audio

import "agentone/log"

// NewContext prefers PulseAudio (PipeWire's pulse server included) and falls
// back to miniaudio when no pulse server answers.
func NewContext() (Context, error) {
	ctx, err := NewPulseContext()
	if err == nil {
		return ctx, nil
	}
	log.Warnf("pulse unavailable, using miniaudio: %v", err)
	return NewMalgoContext()
}
