package log

import (
	"os"
	"path/filepath"
	"runtime"
)

const appName = "agentone"

func getDefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return defaultDir(runtime.GOOS, os.Getenv, home), nil
}

// defaultDir is the per-user log directory: ~/Library/Logs on macOS,
// %LOCALAPPDATA% on Windows and the XDG state dir elsewhere.
func defaultDir(goos string, getenv func(string) string, home string) string {
	switch goos {
	case "darwin":
		return filepath.Join(home, "Library", "Logs", appName)
	case "windows":
		base := getenv("LOCALAPPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Local")
		}
		return filepath.Join(base, appName, "logs")
	default:
		base := getenv("XDG_STATE_HOME")
		if base == "" {
			base = filepath.Join(home, ".local", "state")
		}
		return filepath.Join(base, appName, "logs")
	}
}
