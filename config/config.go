// Package config loads the agent's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"agentone/backend"
	"agentone/recognizer"
	"agentone/request"
)

// EnvPath names the config file when -config is not given.
const EnvPath = "AGENTONE_CONFIG"

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Responder ResponderConfig `yaml:"responder"`
	Speech    SpeechConfig    `yaml:"speech"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	BaseURL  string        `yaml:"base_url"`
	ClientID string        `yaml:"client_id"`
	Register bool          `yaml:"register"`
	Timeout  time.Duration `yaml:"timeout"`
	Retry    RetryConfig   `yaml:"retry"`
}

// RetryConfig bounds response retries; Max 0 sends once.
type RetryConfig struct {
	Max     int           `yaml:"max"`
	WaitMin time.Duration `yaml:"wait_min"`
	WaitMax time.Duration `yaml:"wait_max"`
}

type ResponderConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Placeholder string `yaml:"placeholder"`
}

type SpeechConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Locale         string        `yaml:"locale"`
	Continuous     bool          `yaml:"continuous"`
	InterimResults bool          `yaml:"interim_results"`
	MaxUtterance   time.Duration `yaml:"max_utterance"`
	Provider       string        `yaml:"provider"`
	Device         string        `yaml:"device"`
	// WAV replays a recording instead of opening the microphone.
	WAV  string `yaml:"wav"`
	Copy bool   `yaml:"copy"`
	// Paste types the transcript into the focused window.
	Paste bool `yaml:"paste"`
	// Hotkey runs push-to-talk activations on Ctrl+Shift+Space instead of a
	// single activation at startup.
	Hotkey bool `yaml:"hotkey"`
	// VAD ends a single-utterance activation after EndSilence of quiet, or
	// after NoSpeech without any voice.
	VAD        bool          `yaml:"vad"`
	EndSilence time.Duration `yaml:"end_silence"`
	NoSpeech   time.Duration `yaml:"no_speech"`
}

type LogConfig struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			BaseURL:  backend.DefaultBaseURL,
			ClientID: "1",
			Timeout:  10 * time.Second,
		},
		Responder: ResponderConfig{
			Enabled:     true,
			Placeholder: request.PlaceholderData,
		},
		Speech: SpeechConfig{
			Enabled:      true,
			Locale:       recognizer.DefaultLocale,
			MaxUtterance: recognizer.DefaultMaxUtterance,
			VAD:          true,
			EndSilence:   time.Second,
			NoSpeech:     8 * time.Second,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults. An empty path falls back to
// $AGENTONE_CONFIG, and to the defaults alone when that is unset too.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv(EnvPath)
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.BaseURL == "" {
		errs = append(errs, errors.New("server.base_url is empty"))
	} else if u, err := url.Parse(c.Server.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, fmt.Errorf("server.base_url %q is not an http(s) URL", c.Server.BaseURL))
	}
	if c.Server.ClientID == "" {
		errs = append(errs, errors.New("server.client_id is empty"))
	}
	if c.Server.Timeout < 0 {
		errs = append(errs, errors.New("server.timeout must not be negative"))
	}
	if c.Server.Retry.Max < 0 {
		errs = append(errs, fmt.Errorf("server.retry.max must not be negative, got %d", c.Server.Retry.Max))
	}
	if c.Server.Retry.WaitMax > 0 && c.Server.Retry.WaitMin > c.Server.Retry.WaitMax {
		errs = append(errs, errors.New("server.retry.wait_min exceeds wait_max"))
	}

	switch c.Speech.Provider {
	case "", recognizer.ProviderDeepgram, recognizer.ProviderGroq, recognizer.ProviderOpenAI:
	default:
		errs = append(errs, fmt.Errorf("speech.provider %q: want %s, %s or %s", c.Speech.Provider,
			recognizer.ProviderDeepgram, recognizer.ProviderGroq, recognizer.ProviderOpenAI))
	}
	if c.Speech.Locale == "" {
		errs = append(errs, errors.New("speech.locale is empty"))
	}
	if c.Speech.MaxUtterance < 0 {
		errs = append(errs, errors.New("speech.max_utterance must not be negative"))
	}
	if c.Speech.EndSilence < 0 || c.Speech.NoSpeech < 0 {
		errs = append(errs, errors.New("speech.end_silence and speech.no_speech must not be negative"))
	}
	if c.Speech.Hotkey && c.Speech.WAV != "" {
		errs = append(errs, errors.New("speech.hotkey and speech.wav are mutually exclusive"))
	}
	if !c.Responder.Enabled && !c.Speech.Enabled {
		errs = append(errs, errors.New("nothing to run: responder and speech are both disabled"))
	}

	return errors.Join(errs...)
}

func (c *Config) BackendOptions() backend.Options {
	return backend.Options{
		Timeout: c.Server.Timeout,
		Retry: backend.RetryPolicy{
			Max:     c.Server.Retry.Max,
			WaitMin: c.Server.Retry.WaitMin,
			WaitMax: c.Server.Retry.WaitMax,
		},
	}
}

func (c *Config) SessionConfig() recognizer.SessionConfig {
	return recognizer.SessionConfig{
		Locale:         c.Speech.Locale,
		Continuous:     c.Speech.Continuous,
		InterimResults: c.Speech.InterimResults,
		MaxUtterance:   c.Speech.MaxUtterance,
	}
}
