package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"agentone/audio"
	"agentone/backend"
	"agentone/clipboard"
	"agentone/config"
	"agentone/doctor"
	"agentone/hotkey"
	"agentone/log"
	"agentone/recognizer"
	"agentone/shutdown"
)

var version = "dev"

func run() int {
	configFlag := flag.String("config", "", "YAML config file (default: $"+config.EnvPath+")")
	logPathFlag := flag.String("logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	logLevelFlag := flag.String("loglevel", "", "diagnostic log level: debug, info, warn, error")
	baseURLFlag := flag.String("base-url", "", "agent backend base URL")
	clientIDFlag := flag.String("client-id", "", "client id for the push subscription")
	retriesFlag := flag.Int("retries", -1, "retries for failed response POSTs (default from config)")
	deviceFlag := flag.String("device", "", "use named microphone device")
	wavFlag := flag.String("wav", "", "feed this WAV file instead of the microphone")
	providerFlag := flag.String("provider", "", "speech provider: deepgram, groq or openai (default: whichever key is set)")
	langFlag := flag.String("lang", "", "recognition locale (e.g. en-US)")
	copyFlag := flag.Bool("copy", false, "copy the transcript to the clipboard")
	pasteFlag := flag.Bool("paste", false, "paste the transcript into the focused window")
	hotkeyFlag := flag.Bool("hotkey", false, "push-to-talk: hold "+hotkey.Chord+" to speak instead of listening once")
	noVADFlag := flag.Bool("no-vad", false, "do not end utterances on silence; wait for the recognizer")
	noResponderFlag := flag.Bool("no-responder", false, "do not subscribe to backend push events")
	noSpeechFlag := flag.Bool("no-speech", false, "do not run speech capture")
	doctorFlag := flag.Bool("doctor", false, "run system diagnostics and exit")
	versionFlag := flag.Bool("version", false, "print version and exit")
	profileFlag := flag.String("profile", "", "enable pprof profiling server (e.g., :6060 or localhost:6060)")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("agentone %s\n", version)
		return 0
	}

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "logpath":
			cfg.Log.Path = *logPathFlag
		case "loglevel":
			cfg.Log.Level = *logLevelFlag
		case "base-url":
			cfg.Server.BaseURL = *baseURLFlag
		case "client-id":
			cfg.Server.ClientID = *clientIDFlag
		case "retries":
			cfg.Server.Retry.Max = *retriesFlag
		case "device":
			cfg.Speech.Device = *deviceFlag
		case "wav":
			cfg.Speech.WAV = *wavFlag
		case "provider":
			cfg.Speech.Provider = *providerFlag
		case "lang":
			cfg.Speech.Locale = *langFlag
		case "copy":
			cfg.Speech.Copy = *copyFlag
		case "paste":
			cfg.Speech.Paste = *pasteFlag
		case "hotkey":
			cfg.Speech.Hotkey = *hotkeyFlag
		case "no-vad":
			cfg.Speech.VAD = !*noVADFlag
		case "no-responder":
			cfg.Responder.Enabled = !*noResponderFlag
		case "no-speech":
			cfg.Speech.Enabled = !*noSpeechFlag
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid config:\n%v\n", err)
		return 1
	}

	logPath, err := log.ResolveDir(cfg.Log.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		return 1
	}
	log.SetDir(logPath)
	if err := log.SetLevel(cfg.Log.Level); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}
	initCrashLog()

	if *profileFlag != "" {
		go func() {
			fmt.Fprintf(os.Stderr, "pprof server listening on http://%s/debug/pprof/\n", *profileFlag)
			if err := http.ListenAndServe(*profileFlag, nil); err != nil {
				fmt.Fprintf(os.Stderr, "pprof server error: %v\n", err)
			}
		}()
	}

	client, err := backend.New(cfg.Server.BaseURL, cfg.BackendOptions())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	ctx, stop := shutdown.Context(context.Background())
	defer stop()

	if *doctorFlag {
		return doctor.Run(ctx, os.Stdout, doctor.Checks{
			Backend: client,
			Provider: func() (string, error) {
				rec, err := recognizer.New(cfg.Speech.Provider)
				if err != nil {
					return "", err
				}
				return rec.Name(), nil
			},
			Audio:     audio.NewContext,
			Clipboard: clipboard.Check,
			Hotkey:    hotkey.Diagnose,
		})
	}

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()
	log.Infof("agentone %s starting, backend %s", version, client.BaseURL())

	a, err := newApp(ctx, cfg, client, components{})
	if err != nil {
		log.Errorf("startup: %v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer a.close()

	if err := a.run(ctx); err != nil {
		log.Errorf("exit: %v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func initCrashLog() {
	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
	debug.SetCrashOutput(crashFile, debug.CrashOptions{})
}
