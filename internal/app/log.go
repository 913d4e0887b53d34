package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"

	"jot-go/internal/jot"
)

// jotHandler is a custom slog.Handler that formats log records as:
//
//	<timestamp>\t<level>\t<runID>\t<message>\t<key=value ...>
type jotHandler struct {
	w     io.Writer
	runID string
	attrs []slog.Attr
}

func (h *jotHandler) Enabled(_ context.Context, _ slog.Level) bool { return true }

func (h *jotHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time.UTC().Format("2006-01-02T15:04:05Z")
	level := r.Level.String()

	_, err := fmt.Fprintf(h.w, "%s\t%s\t%s\t%s", ts, level, h.runID, r.Message)
	if err != nil {
		return err
	}

	// Write pre-set attrs.
	for _, a := range h.attrs {
		fmt.Fprintf(h.w, "\t%s=%v", a.Key, a.Value)
	}

	// Write per-record attrs.
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(h.w, "\t%s=%v", a.Key, a.Value)
		return true
	})

	_, err = fmt.Fprintln(h.w)
	return err
}

func (h *jotHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &jotHandler{
		w:     h.w,
		runID: h.runID,
		attrs: append(append([]slog.Attr{}, h.attrs...), attrs...),
	}
}

func (h *jotHandler) WithGroup(string) slog.Handler { return h }

// newLogger creates a structured logger that writes to both a rotated
// logDir/jot.log and stderr. It returns the slog.Logger and a closer for
// the log file.
func newLogger(logDir string, runID string) (*slog.Logger, io.Closer, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}

	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "jot.log"),
		MaxSize:    10, // megabytes
		MaxBackups: 3,
	}

	w := io.MultiWriter(rotator, os.Stderr)
	handler := &jotHandler{w: w, runID: runID}
	return slog.New(handler), rotator, nil
}

// slogAdapter wraps *slog.Logger to satisfy the jot.Logger interface.
type slogAdapter struct {
	l *slog.Logger
}

func (a *slogAdapter) Debug(msg string, args ...any) { a.l.Debug(msg, args...) }
func (a *slogAdapter) Info(msg string, args ...any)  { a.l.Info(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.l.Warn(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.l.Error(msg, args...) }

// eventLogger is the Dispatcher of a headless client: no UI listens for
// engine events, but runs and disabled items should leave a trace in the
// log.
type eventLogger struct {
	l *slog.Logger
}

func (d *eventLogger) Dispatch(e jot.Event) {
	switch e.Kind {
	case jot.EventSyncStarted:
		d.l.Info("sync started")
	case jot.EventSyncCompleted:
		d.l.Info("sync completed", "fullSync", e.IsFullSync, "withErrors", e.WithErrors)
	case jot.EventHasDisabledSyncItems:
		d.l.Warn("some items could not be synced and were disabled")
	case jot.EventGotEncryptedItem:
		d.l.Debug("received encrypted item")
	case jot.EventCreatedOrUpdatedResource:
		d.l.Debug("resource created or updated", "id", e.ResourceID)
	}
}
