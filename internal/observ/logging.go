package observ

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"
)

var (
	logMu  sync.RWMutex
	logger = newJSONLogger(os.Stdout)
)

func init() {
	slog.SetDefault(logger)
}

func newJSONLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// keep the ts/event shape of the event log
			if len(groups) == 0 && a.Key == slog.TimeKey {
				return slog.String("ts", a.Value.Time().UTC().Format(time.RFC3339Nano))
			}
			if len(groups) == 0 && a.Key == slog.MessageKey {
				a.Key = "event"
			}
			return a
		},
	}))
}

// SetOutput redirects the event log, mostly for tests and the live command's log file.
func SetOutput(w io.Writer) {
	logMu.Lock()
	defer logMu.Unlock()
	logger = newJSONLogger(w)
	slog.SetDefault(logger)
}

// Logger returns the process-wide structured logger. Library bridges
// (gorm, sarama) are pointed at it so every line lands in one stream.
func Logger() *slog.Logger {
	logMu.RLock()
	defer logMu.RUnlock()
	return logger
}

// Log writes one JSON line: {"ts":..., "level":..., "event": event, ...kv}.
func Log(event string, kv map[string]any) {
	logAt(slog.LevelInfo, event, kv)
}

// Warn is Log at warning level; used for skipped ticks and rejected orders.
func Warn(event string, kv map[string]any) {
	logAt(slog.LevelWarn, event, kv)
}

// Error is Log at error level; used for conditions an operator must see.
func Error(event string, kv map[string]any) {
	logAt(slog.LevelError, event, kv)
}

func logAt(level slog.Level, event string, kv map[string]any) {
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	attrs := make([]slog.Attr, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, kv[k]))
	}
	Logger().LogAttrs(context.Background(), level, event, attrs...)
}
