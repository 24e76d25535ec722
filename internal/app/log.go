package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// logFileName is the log file created under the configured log_dir.
const logFileName = "budget.log"

// budgetHandler is a slog.Handler that writes one tab-separated line per record:
//
//	<timestamp>\t<level>\t<opID>\t<message>\t<key=value ...>
type budgetHandler struct {
	w     io.Writer
	opID  string
	level slog.Level
	attrs []slog.Attr
	group string
}

func (h *budgetHandler) Enabled(_ context.Context, l slog.Level) bool { return l >= h.level }

func (h *budgetHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time.UTC().Format("2006-01-02T15:04:05Z")

	line := fmt.Sprintf("%s\t%s\t%s\t%s", ts, r.Level, h.opID, r.Message)
	for _, a := range h.attrs {
		line += fmt.Sprintf("\t%s=%v", a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		key := a.Key
		if h.group != "" {
			key = h.group + "." + key
		}
		line += fmt.Sprintf("\t%s=%v", key, a.Value)
		return true
	})

	// One write per record keeps lines whole when several loggers share w.
	_, err := io.WriteString(h.w, line+"\n")
	return err
}

func (h *budgetHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	prefixed := make([]slog.Attr, 0, len(attrs))
	for _, a := range attrs {
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}
		prefixed = append(prefixed, a)
	}
	return &budgetHandler{
		w:     h.w,
		opID:  h.opID,
		level: h.level,
		attrs: append(append([]slog.Attr{}, h.attrs...), prefixed...),
		group: h.group,
	}
}

func (h *budgetHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	group := name
	if h.group != "" {
		group = h.group + "." + name
	}
	return &budgetHandler{w: h.w, opID: h.opID, level: h.level, attrs: h.attrs, group: group}
}

// newLogger creates a logger writing to logDir/budget.log and to console.
// It returns the logger and the open log file, which the caller closes.
func newLogger(logDir, opID string, level slog.Level, console io.Writer) (*slog.Logger, *os.File, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(logDir, logFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	w := io.Writer(f)
	if console != nil {
		w = io.MultiWriter(f, console)
	}
	return slog.New(&budgetHandler{w: w, opID: opID, level: level}), f, nil
}

// slogAdapter wraps *slog.Logger to satisfy budget.Logger.
type slogAdapter struct {
	l *slog.Logger
}

func (a *slogAdapter) Debug(msg string, args ...any) { a.l.Debug(msg, args...) }
func (a *slogAdapter) Info(msg string, args ...any)  { a.l.Info(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.l.Warn(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.l.Error(msg, args...) }
