package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// AppDataDir returns the platform-appropriate per-user data directory for the
// agent: %APPDATA%\milo on Windows, ~/Library/Application Support/milo on
// macOS, $XDG_CONFIG_HOME/milo (or ~/.config/milo) elsewhere.
func AppDataDir() string {
	if override := os.Getenv("MILO_DATA_DIR"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "milo")
		}
		return filepath.Join(home, "AppData", "Roaming", "milo")
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "milo")
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "milo")
		}
		return filepath.Join(home, ".config", "milo")
	}
}

// ConfigPath returns the location of agent.config.json.
func ConfigPath() string {
	return filepath.Join(AppDataDir(), "agent.config.json")
}

// SecretsPath returns the location of the encrypted secrets file.
func SecretsPath() string {
	return filepath.Join(AppDataDir(), ".secrets.json")
}

// SessionsDir returns the directory holding per-session JSON files.
func SessionsDir() string {
	return filepath.Join(AppDataDir(), "sessions")
}

// ActiveSessionPath returns the marker file naming the current session.
func ActiveSessionPath() string {
	return filepath.Join(AppDataDir(), ".active_session")
}

// LogsDir returns the directory holding command and diff ndjson logs.
func LogsDir() string {
	return filepath.Join(AppDataDir(), "logs")
}

// PlansDir returns the directory holding plan artifacts.
func PlansDir() string {
	return filepath.Join(AppDataDir(), "plans")
}
