package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	charmLog "github.com/charmbracelet/log"

	"actorbridge/pkg/config"
)

const (
	envFormat    = "ACTORBRIDGE_LOG_FORMAT"
	envLevel     = "ACTORBRIDGE_LOG_LEVEL"
	envAddSource = "ACTORBRIDGE_LOG_ADD_SOURCE"

	defaultFormat = "text"
	defaultLevel  = "info"
)

var levelNames = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

func New(cfg config.LoggingConfig) (*slog.Logger, error) {
	return NewWithWriter(cfg, os.Stderr)
}

// NewWithWriter builds a logger that writes to writer instead of stderr.
// ACTORBRIDGE_LOG_* variables take precedence over cfg.
func NewWithWriter(cfg config.LoggingConfig, writer io.Writer) (*slog.Logger, error) {
	format := strings.ToLower(envOr(envFormat, cfg.Format, defaultFormat))
	if format != "json" && format != "text" {
		return nil, fmt.Errorf("unsupported log format %q", format)
	}

	levelText := strings.ToLower(envOr(envLevel, cfg.Level, defaultLevel))
	level, ok := levelNames[levelText]
	if !ok {
		return nil, fmt.Errorf("unsupported log level %q", levelText)
	}

	addSource := cfg.AddSource
	if value := strings.TrimSpace(os.Getenv(envAddSource)); value != "" {
		addSource = parseBool(value)
	}

	if format == "json" {
		return slog.New(&entryHandler{
			level:     level,
			addSource: addSource,
			writer:    writer,
			mu:        &sync.Mutex{},
		}), nil
	}

	// charm levels share slog's numeric values.
	return slog.New(charmLog.NewWithOptions(writer, charmLog.Options{
		Level:           charmLog.Level(level),
		ReportTimestamp: true,
		TimeFormat:      time.StampMilli,
		ReportCaller:    addSource,
		Formatter:       charmLog.TextFormatter,
	})), nil
}

// Discard returns a logger that drops everything. Used by library callers
// that have not configured logging.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// envOr returns the first non-blank of the environment variable, configured
// and fallback values.
func envOr(name, configured, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(name)); value != "" {
		return value
	}
	if value := strings.TrimSpace(configured); value != "" {
		return value
	}
	return fallback
}

func parseBool(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
