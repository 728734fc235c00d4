package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

type Config struct {
	Level  string
	Format string // "text", "json", "console", or "" / "auto"
	Output io.Writer
	// File, when set, replaces Output with the named file opened for append.
	File string
}

var (
	mu     sync.Mutex
	lg     *slog.Logger
	closer io.Closer
)

// Init installs a new default logger. It may be called again, e.g. after the
// config file has been read; any file opened by a previous call is closed.
func Init(cfg Config) error {
	out := cfg.Output
	var file *os.File
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		file = f
		out = f
	}
	if out == nil {
		out = os.Stdout
	}

	l := slog.New(newHandler(resolveFormat(cfg.Format, out), out, parseLevel(cfg.Level)))

	mu.Lock()
	prev := closer
	lg = l
	closer = nil
	if file != nil {
		closer = file
	}
	mu.Unlock()

	slog.SetDefault(l)
	if prev != nil {
		_ = prev.Close()
	}
	return nil
}

func L() *slog.Logger {
	mu.Lock()
	l := lg
	mu.Unlock()
	if l == nil {
		_ = Init(Config{Level: "debug"})
		return L()
	}
	return l
}

// Close releases the log file, if any. The default logger keeps writing to
// stdout afterwards.
func Close() error {
	mu.Lock()
	c := closer
	closer = nil
	mu.Unlock()
	if c == nil {
		return nil
	}
	_ = Init(Config{Level: "info"})
	return c.Close()
}

func newHandler(format string, w io.Writer, level slog.Level) slog.Handler {
	switch format {
	case "json":
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	case "text":
		return slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	default:
		return &consoleHandler{mu: &sync.Mutex{}, w: w, level: level}
	}
}

// resolveFormat picks console output for terminals and text otherwise when
// no explicit format is configured.
func resolveFormat(format string, w io.Writer) string {
	format = strings.ToLower(strings.TrimSpace(format))
	switch format {
	case "json", "text", "console":
		return format
	}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return "console"
	}
	return "text"
}

func parseLevel(levelStr string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// consoleHandler outputs human-friendly log lines:
//
//	12:00:00 INFO  Proxying connection  client=127.0.0.1:51234 upstream=127.0.0.1:4444
type consoleHandler struct {
	mu    *sync.Mutex
	w     io.Writer
	level slog.Level
	attrs []slog.Attr
	group string
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(r.Time.Format(time.TimeOnly))
	b.WriteByte(' ')
	b.WriteString(levelTag(r.Level))
	b.WriteByte(' ')
	b.WriteString(r.Message)

	for _, a := range h.attrs {
		b.WriteString(formatAttr(h.group, a))
	}
	r.Attrs(func(a slog.Attr) bool {
		b.WriteString(formatAttr(h.group, a))
		return true
	})
	b.WriteByte('\n')

	if h.mu != nil {
		h.mu.Lock()
		defer h.mu.Unlock()
	}
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &consoleHandler{
		mu:    h.mu,
		w:     h.w,
		level: h.level,
		attrs: append(append([]slog.Attr{}, h.attrs...), attrs...),
		group: h.group,
	}
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	prefix := name
	if h.group != "" {
		prefix = h.group + "." + name
	}
	return &consoleHandler{
		mu:    h.mu,
		w:     h.w,
		level: h.level,
		attrs: append([]slog.Attr{}, h.attrs...),
		group: prefix,
	}
}

func levelTag(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "ERROR"
	case l >= slog.LevelWarn:
		return "WARN "
	case l >= slog.LevelInfo:
		return "INFO "
	default:
		return "DEBUG"
	}
}

func formatAttr(group string, a slog.Attr) string {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return ""
	}
	key := a.Key
	if group != "" && key != "" {
		key = group + "." + key
	} else if key == "" {
		key = group
	}
	if a.Value.Kind() == slog.KindGroup {
		var b strings.Builder
		for _, ga := range a.Value.Group() {
			b.WriteString(formatAttr(key, ga))
		}
		return b.String()
	}
	return fmt.Sprintf("  %s=%s", key, formatValue(a.Value))
}

func formatValue(v slog.Value) string {
	s := v.String()
	if v.Kind() == slog.KindString && (s == "" || strings.ContainsAny(s, " \t\n\"=")) {
		return fmt.Sprintf("%q", s)
	}
	return s
}
