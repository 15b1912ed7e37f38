package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
)

type Logger struct {
	json bool
	sl   *slog.Logger
}

// Options tune a Logger beyond the output format.
type Options struct {
	Level  string    // debug|info|warn|error, default info
	Writer io.Writer // default os.Stdout
}

func New(jsonOutput bool) *Logger {
	return NewWithOptions(jsonOutput, Options{})
}

func NewWithOptions(jsonOutput bool, opts Options) *Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}
	ho := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}
	var h slog.Handler
	if jsonOutput {
		h = slog.NewJSONHandler(w, ho)
	} else {
		h = slog.NewTextHandler(w, ho)
	}
	return &Logger{json: jsonOutput, sl: slog.New(h)}
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *Logger {
	return NewWithOptions(false, Options{Writer: io.Discard})
}

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *Logger) log(level slog.Level, msg string, fields map[string]any) {
	if l == nil {
		return
	}
	// stable attribute order keeps text output diffable
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	args := make([]any, 0, len(keys)*2)
	for _, k := range keys {
		args = append(args, k, fields[k])
	}
	l.sl.Log(context.Background(), level, msg, args...)
}

func (l *Logger) Debug(msg string, fields map[string]any) { l.log(slog.LevelDebug, msg, fields) }
func (l *Logger) Info(msg string, fields map[string]any)  { l.log(slog.LevelInfo, msg, fields) }
func (l *Logger) Warn(msg string, fields map[string]any)  { l.log(slog.LevelWarn, msg, fields) }
func (l *Logger) Error(msg string, fields map[string]any) { l.log(slog.LevelError, msg, fields) }

// JSONEnabled reports whether this logger is configured to emit JSON output.
func (l *Logger) JSONEnabled() bool { return l != nil && l.json }
