package logging

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
)

type Options struct {
	Level  string
	JSON   bool
	Output io.Writer // defaults to stderr
}

var def atomic.Value

func init() {
	def.Store(newLogger(Options{}))
}

// Configure replaces the process logger. Loggers already obtained through
// Component keep writing to the previous handler.
func Configure(opts Options) {
	def.Store(newLogger(opts))
}

func newLogger(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	cfg := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}
	var h slog.Handler
	if opts.JSON {
		h = slog.NewJSONHandler(out, cfg)
	} else {
		h = slog.NewTextHandler(out, cfg)
	}
	return slog.New(h)
}

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

func L() *slog.Logger {
	l, _ := def.Load().(*slog.Logger)
	return l
}

// Component returns the process logger tagged with a component name.
func Component(name string) *slog.Logger {
	return L().With("component", name)
}

// InitFromEnv reads SUBFLOW_LOG_LEVEL and SUBFLOW_LOG_JSON.
func InitFromEnv() {
	lvl := os.Getenv("SUBFLOW_LOG_LEVEL")
	json := false
	if b, err := strconv.ParseBool(strings.TrimSpace(os.Getenv("SUBFLOW_LOG_JSON"))); err == nil {
		json = b
	}
	Configure(Options{Level: lvl, JSON: json})
}
