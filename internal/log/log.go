package log

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	charmlog "github.com/charmbracelet/log"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var (
	logger     *charmlog.Logger
	loggerOnce sync.Once
)

// initLogger initializes the global logger to write to stderr with timestamps.
func initLogger() {
	loggerOnce.Do(func() {
		logger = newLogger(os.Stderr)
	})
}

func newLogger(w io.Writer) *charmlog.Logger {
	return charmlog.NewWithOptions(w, charmlog.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339Nano,
		Level:           charmlog.InfoLevel,
	})
}

// SetOutput redirects log output. Tests use it to capture lines.
func SetOutput(w io.Writer) {
	initLogger()
	logger.SetOutput(w)
}

func SetLevel(l Level) {
	initLogger()
	switch l {
	case LevelDebug:
		logger.SetLevel(charmlog.DebugLevel)
	case LevelWarn:
		logger.SetLevel(charmlog.WarnLevel)
	case LevelError:
		logger.SetLevel(charmlog.ErrorLevel)
	default:
		logger.SetLevel(charmlog.InfoLevel)
	}
}

// ParseLevel maps a case-insensitive name ("debug", "info", ...) to a Level.
// Unknown names yield LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

func Debug(msg string, kv ...any) {
	initLogger()
	logger.Debug(msg, kv...)
}

func Info(msg string, kv ...any) {
	initLogger()
	logger.Info(msg, kv...)
}

func Warn(msg string, kv ...any) {
	initLogger()
	logger.Warn(msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	initLogger()
	// Prepend error into key-value list.
	extended := append([]any{"err", err}, kv...)
	logger.Error(msg, extended...)
}

// CronLogger satisfies cron.Logger so the robfig scheduler writes through
// the same sink.
type CronLogger struct{}

func (CronLogger) Info(msg string, keysAndValues ...interface{}) {
	Debug("cron: "+msg, keysAndValues...)
}

func (CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	Error("cron: "+msg, err, keysAndValues...)
}
