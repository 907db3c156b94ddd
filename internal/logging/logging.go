// Package logging builds the process logger from config.LoggingConfig.
// "text" is the plain console format, "json" is slog's JSON handler and
// "color" uses tint for terminals.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"

	"webplanner/config"
)

const maxMessageLen = 500

// ParseLevel maps a config level to slog; unknown values mean info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger is a configured logger plus the file it may own.
type Logger struct {
	*slog.Logger
	file *os.File
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = l.file.Sync()
	return l.file.Close()
}

// Setup creates a logger writing to stdout and, when enabled, to
// cfg.FilePath as well.
func Setup(cfg config.LoggingConfig) (*Logger, error) {
	return setup(cfg, os.Stdout)
}

func setup(cfg config.LoggingConfig, console io.Writer) (*Logger, error) {
	level := ParseLevel(cfg.Level)

	var file *os.File
	if cfg.FileEnabled && cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		file = f
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		var w io.Writer = console
		if file != nil {
			w = io.MultiWriter(console, file)
		}
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	case "color":
		handler = tint.NewHandler(console, &tint.Options{
			Level:      level,
			TimeFormat: time.DateTime,
		})
		if file != nil {
			// 文件中不写入颜色控制符
			handler = fanout{handler, NewSimpleHandler(nil, file, level)}
		}
	default:
		var w io.Writer
		if file != nil {
			w = file
		}
		handler = NewSimpleHandler(console, w, level)
	}

	return &Logger{Logger: slog.New(handler), file: file}, nil
}

// SimpleHandler writes one line per record:
// [time] [PID:n] [GID:n] [LEVEL] message key=value...
// Console lines are truncated; file lines keep the full message.
type SimpleHandler struct {
	mu      *sync.Mutex
	console io.Writer
	file    io.Writer
	level   slog.Level
	attrs   []string // 已格式化的 With 属性
	group   string
}

// NewSimpleHandler creates the handler. Either writer may be nil.
func NewSimpleHandler(console, file io.Writer, level slog.Level) *SimpleHandler {
	return &SimpleHandler{mu: &sync.Mutex{}, console: console, file: file, level: level}
}

func (h *SimpleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *SimpleHandler) Handle(_ context.Context, r slog.Record) error {
	message := r.Message

	attrs := append([]string(nil), h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, h.formatAttr(a))
		return true
	})
	if len(attrs) > 0 {
		message = message + " " + strings.Join(attrs, " ")
	}

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	prefix := fmt.Sprintf("[%s] [PID:%d] [GID:%d] [%s] ", ts.Format("2006-01-02 15:04:05.000"), os.Getpid(), goroutineID(), r.Level.String())

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.file != nil {
		if _, err := io.WriteString(h.file, prefix+message+"\n"); err != nil {
			return err
		}
	}
	if h.console != nil {
		display := message
		if len(display) > maxMessageLen {
			display = truncateUTF8(display, maxMessageLen) + "... (显示截断)"
		}
		if _, err := io.WriteString(h.console, prefix+display+"\n"); err != nil {
			return err
		}
	}
	return nil
}

func (h *SimpleHandler) formatAttr(a slog.Attr) string {
	key := a.Key
	if h.group != "" {
		key = h.group + "." + key
	}
	return fmt.Sprintf("%s=%v", key, a.Value.Resolve())
}

func (h *SimpleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append([]string(nil), h.attrs...)
	for _, a := range attrs {
		clone.attrs = append(clone.attrs, h.formatAttr(a))
	}
	return &clone
}

func (h *SimpleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	if clone.group != "" {
		clone.group += "." + name
	} else {
		clone.group = name
	}
	return &clone
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

// goroutineID 从运行时栈信息中提取 goroutine ID
func goroutineID() int {
	buf := make([]byte, 64)
	buf = buf[:runtime.Stack(buf, false)]
	fields := strings.Fields(string(buf))
	if len(fields) < 2 {
		return 0
	}
	id, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0
	}
	return id
}

// fanout sends every record to all handlers.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
