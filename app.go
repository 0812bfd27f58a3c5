package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"golang.org/x/sync/errgroup"

	"agentone/audio"
	"agentone/backend"
	"agentone/capture"
	"agentone/config"
	"agentone/hotkey"
	"agentone/log"
	"agentone/paste"
	"agentone/pushchan"
	"agentone/recognizer"
	"agentone/responder"
	"agentone/speech"
)

// components overrides the parts newApp would otherwise build from config.
type components struct {
	channel    pushchan.Channel
	recognizer recognizer.Recognizer
	audio      audio.Context
	sink       speech.Sink
	hotkey     hotkey.Hotkey
}

type app struct {
	clientID  string
	responder *responder.Responder
	speech    *speech.Capture
	audio     audio.Context
	hotkey    hotkey.Hotkey
}

func newApp(ctx context.Context, cfg *config.Config, client *backend.Client, c components) (*app, error) {
	a := &app{}

	if cfg.Responder.Enabled {
		a.clientID = cfg.Server.ClientID
		if cfg.Server.Register {
			id, err := client.Register(ctx)
			if err != nil {
				return nil, err
			}
			a.clientID = id
			log.Infof("registered as client %s", id)
		}
		ch := c.channel
		if ch == nil {
			ch = pushchan.NewSSE(client.EventsURL(a.clientID), &http.Client{Transport: client.StreamTransport()})
		}
		a.responder = responder.New(ch, capture.NewPlaceholder(cfg.Responder.Placeholder), client)
	}

	if cfg.Speech.Enabled {
		rec := c.recognizer
		if rec == nil {
			var err error
			if rec, err = recognizer.New(cfg.Speech.Provider); err != nil {
				return nil, err
			}
		}

		a.audio = c.audio
		if a.audio == nil {
			var err error
			if cfg.Speech.WAV != "" {
				a.audio, err = audio.NewFakeContext(cfg.Speech.WAV, true)
			} else {
				a.audio, err = audio.NewContext()
			}
			if err != nil {
				return nil, fmt.Errorf("audio: %w", err)
			}
		}

		sink := c.sink
		if sink == nil {
			sinks := speech.MultiSink{speech.LogSink{}, speech.NewConsoleSink(os.Stdout)}
			switch {
			case cfg.Speech.Paste:
				if err := paste.Init(); err != nil {
					return nil, fmt.Errorf("paste: %w", err)
				}
				sinks = append(sinks, speech.NewPasteSink())
			case cfg.Speech.Copy:
				sinks = append(sinks, speech.NewClipboardSink())
			}
			sink = sinks
		}

		opts := speech.Options{
			Session: cfg.SessionConfig(),
			Device:  cfg.Speech.Device,
			Endpoint: speech.EndpointConfig{
				EndSilence: cfg.Speech.EndSilence,
				NoSpeech:   cfg.Speech.NoSpeech,
			},
		}
		if cfg.Speech.VAD {
			opts.NewDetector = speech.NewWebRTCVAD
		}
		a.speech = speech.New(rec, a.audio, sink, opts)

		if cfg.Speech.Hotkey {
			a.hotkey = c.hotkey
			if a.hotkey == nil {
				a.hotkey = hotkey.New()
			}
		}
	}
	return a, nil
}

// run drives both components until each has finished or ctx is canceled.
// A failure in one does not stop the other.
func (a *app) run(ctx context.Context) error {
	var g errgroup.Group

	if a.responder != nil {
		g.Go(func() error {
			if err := a.responder.Start(ctx); err != nil {
				log.Errorf("responder: %v", err)
				return err
			}
			select {
			case <-a.responder.Done():
				if err := a.responder.Err(); err != nil {
					log.Errorf("push channel closed: %v", err)
					return fmt.Errorf("push channel: %w", err)
				}
				return nil
			case <-ctx.Done():
				return a.responder.Stop()
			}
		})
	}

	if a.speech != nil && a.hotkey != nil {
		g.Go(func() error { return a.pushToTalk(ctx) })
	} else if a.speech != nil {
		g.Go(func() error {
			if err := a.speech.Start(ctx); err != nil {
				log.Errorf("speech capture: %v", err)
				return fmt.Errorf("speech capture: %w", err)
			}
			select {
			case <-a.speech.Done():
			case <-ctx.Done():
				a.speech.Stop()
			}
			return nil
		})
	}

	return g.Wait()
}

// pushToTalk starts an activation on every chord press and finishes it on
// release, until ctx is canceled.
func (a *app) pushToTalk(ctx context.Context) error {
	if err := a.hotkey.Register(); err != nil {
		log.Errorf("hotkey: %v", err)
		return fmt.Errorf("hotkey: %w", err)
	}
	defer a.hotkey.Unregister()
	log.Infof("push-to-talk ready: hold %s to speak", hotkey.Chord)

	for {
		select {
		case <-ctx.Done():
			return a.speech.Stop()
		case <-a.hotkey.Keydown():
			if err := a.speech.Start(ctx); err != nil {
				log.Errorf("speech capture: %v", err)
			}
		case <-a.hotkey.Keyup():
			a.speech.Finish()
		}
	}
}

func (a *app) close() {
	if a.responder != nil {
		a.responder.Stop()
	}
	if a.speech != nil {
		a.speech.Stop()
	}
	if a.audio != nil {
		a.audio.Close()
	}
}
