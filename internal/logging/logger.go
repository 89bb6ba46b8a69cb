// Package logging provides the process-wide debug logger. All components log
// through the printf-style Logger interface; the default implementation writes
// to milo-debug.log under the app data directory with secret redaction.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sync"
	"time"
)

// Logger defines a minimal, printf-style logging contract.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Level represents the severity of a log message.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	instance *fileLogger
	once     sync.Once
)

type fileLogger struct {
	file      *os.File
	logger    *log.Logger
	level     Level
	mu        sync.Mutex
	component string
}

// NewComponentLogger returns the shared file logger scoped to a component.
func NewComponentLogger(component string) Logger {
	root := rootLogger()
	return &fileLogger{
		file:      root.file,
		logger:    root.logger,
		level:     root.level,
		component: component,
	}
}

func rootLogger() *fileLogger {
	once.Do(func() {
		instance = &fileLogger{level: LevelDebug}
		dir := appDataDir()
		if err := os.MkdirAll(dir, 0755); err != nil {
			return
		}
		path := filepath.Join(dir, "milo-debug.log")
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return
		}
		instance.file = file
		instance.logger = log.New(file, "", 0)
	})
	return instance
}

// appDataDir mirrors config.AppDataDir. The config package logs through this
// one, so logging cannot import it back.
func appDataDir() string {
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

func (l *fileLogger) log(level Level, format string, args ...any) {
	if level < l.level || l.logger == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	_, file, line, ok := runtime.Caller(2)
	if ok {
		file = filepath.Base(file)
	} else {
		file = "???"
		line = 0
	}

	component := l.component
	if component == "" {
		component = "MILO"
	}
	message := fmt.Sprintf(format, args...)
	entry := fmt.Sprintf("%s [%s] [%s] %s:%d - %s",
		time.Now().Format("2006-01-02 15:04:05"), levelString(level), component, file, line, message)
	l.logger.Print(Redact(entry))
}

func (l *fileLogger) Debug(format string, args ...any) { l.log(LevelDebug, format, args...) }
func (l *fileLogger) Info(format string, args ...any)  { l.log(LevelInfo, format, args...) }
func (l *fileLogger) Warn(format string, args ...any)  { l.log(LevelWarn, format, args...) }
func (l *fileLogger) Error(format string, args ...any) { l.log(LevelError, format, args...) }

func levelString(level Level) string {
	switch level {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop returns a logger that discards all output.
func Nop() Logger {
	return nopLogger{}
}

// OrNop returns logger when non-nil, otherwise a no-op logger.
func OrNop(logger Logger) Logger {
	if logger == nil {
		return Nop()
	}
	return logger
}

const redactionPlaceholder = "[REDACTED]"

var (
	sensitiveKeyValuePattern = regexp.MustCompile(
		`(?i)((?:"|')?(?:api[_-]?key|access[_-]?token|refresh[_-]?token|token|secret|password)(?:"|')?\s*(?:=|:)\s*)(?:"|')?([^"'\s,;]+)((?:"|')?)`,
	)
	bearerTokenPattern      = regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9\-\._~+/]+=*)`)
	standaloneSecretPattern = regexp.MustCompile(
		`(?i)(sk-[A-Za-z0-9]{16,}|ghp_[A-Za-z0-9]{16,}|xox[a-z]-[A-Za-z0-9\-]{10,})`,
	)
)

// Redact masks API keys and bearer tokens in a log line.
func Redact(line string) string {
	sanitized := sensitiveKeyValuePattern.ReplaceAllStringFunc(line, func(match string) string {
		parts := sensitiveKeyValuePattern.FindStringSubmatch(match)
		if len(parts) != 4 {
			return match
		}
		return parts[1] + redactionPlaceholder + parts[3]
	})
	sanitized = bearerTokenPattern.ReplaceAllStringFunc(sanitized, func(match string) string {
		parts := bearerTokenPattern.FindStringSubmatch(match)
		if len(parts) != 3 {
			return match
		}
		return parts[1] + redactionPlaceholder
	})
	return standaloneSecretPattern.ReplaceAllString(sanitized, redactionPlaceholder)
}
