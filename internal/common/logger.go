package common

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogLevel represents logging verbosity levels
type LogLevel int

const (
	LogLevelError LogLevel = iota
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
)

func (l LogLevel) String() string {
	switch l {
	case LogLevelError:
		return "error"
	case LogLevelWarn:
		return "warn"
	case LogLevelDebug:
		return "debug"
	default:
		return "info"
	}
}

// ToSlogLevel converts LogLevel to slog.Level
func (l LogLevel) ToSlogLevel() slog.Level {
	switch l {
	case LogLevelError:
		return slog.LevelError
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelDebug:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// ParseLogLevel maps a config string to a LogLevel. Unknown values fall back to info.
func ParseLogLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error":
		return LogLevelError
	case "warn", "warning":
		return LogLevelWarn
	case "debug":
		return LogLevelDebug
	default:
		return LogLevelInfo
	}
}

// Format selects the slog handler used by New.
type Format string

const (
	FormatText  Format = "text"
	FormatJSON  Format = "json"
	FormatColor Format = "color"
)

// Options configures New.
type Options struct {
	Level  LogLevel
	Format Format
	// Writer defaults to stderr so that documents written to stdout stay clean.
	Writer io.Writer
	// Color forces the color handler on or off; nil means auto-detect.
	Color *bool
}

// Logger wraps slog.Logger with exporter specific context helpers.
type Logger struct {
	*slog.Logger
	level LogLevel
}

// New builds a Logger from opts.
func New(opts Options) *Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	hopts := &slog.HandlerOptions{Level: opts.Level.ToSlogLevel()}

	var h slog.Handler
	switch opts.Format {
	case FormatJSON:
		h = slog.NewJSONHandler(w, hopts)
	case FormatColor:
		ch := NewColorHandler(w, hopts)
		if opts.Color != nil {
			ch.SetColorEnabled(*opts.Color)
		}
		h = ch
	default:
		h = slog.NewTextHandler(w, hopts)
	}
	return &Logger{Logger: slog.New(&maskingHandler{next: h}), level: opts.Level}
}

// NewLogger creates a text logger on stderr at the given level.
func NewLogger(level LogLevel) *Logger {
	return New(Options{Level: level})
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *Logger {
	return New(Options{Level: LogLevelError, Writer: io.Discard})
}

func (l *Logger) Level() LogLevel {
	return l.level
}

func (l *Logger) with(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), level: l.level}
}

// WithComponent returns a logger tagged with the emitting package.
func (l *Logger) WithComponent(component string) *Logger {
	return l.with("component", component)
}

// WithStep returns a logger tagged with an export step name.
func (l *Logger) WithStep(step string) *Logger {
	return l.with("step", step)
}

// WithAction returns a logger tagged with a dispatcher action name.
func (l *Logger) WithAction(action string) *Logger {
	return l.with("action", action)
}

// WithRun returns a logger tagged with an export run id.
func (l *Logger) WithRun(runID string) *Logger {
	return l.with("run_id", runID)
}

// WithStore returns a logger with store context
func (l *Logger) WithStore(storeType string) *Logger {
	return l.with("store", storeType)
}

// WithRequest returns a logger with HTTP request context
func (l *Logger) WithRequest(method, path string) *Logger {
	return l.with("method", method, "path", path)
}

var defaultLogger = NewLogger(LogLevelInfo)

// SetDefaultLogger sets the process wide logger
func SetDefaultLogger(logger *Logger) {
	if logger != nil {
		defaultLogger = logger
	}
}

// GetLogger returns the process wide logger
func GetLogger() *Logger {
	return defaultLogger
}

// OrDefault returns l, or the process wide logger when l is nil.
func OrDefault(l *Logger) *Logger {
	if l == nil {
		return defaultLogger
	}
	return l
}

func LogError(msg string, err error, attrs ...any) {
	args := append([]any{"error", err}, attrs...)
	defaultLogger.Error(msg, args...)
}

func LogInfo(msg string, attrs ...any) {
	defaultLogger.Info(msg, attrs...)
}

func LogDebug(msg string, attrs ...any) {
	defaultLogger.Debug(msg, attrs...)
}

func LogWarn(msg string, attrs ...any) {
	defaultLogger.Warn(msg, attrs...)
}
