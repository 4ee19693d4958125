// Package logging sets up the process-wide structured logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// LevelFromFlags maps the -vv, -v and -q flags to a level, checked in that
// order. Without flags the level is Warn.
func LevelFromFlags(vv, v, q bool) slog.Level {
	switch {
	case vv:
		return slog.LevelDebug
	case v:
		return slog.LevelInfo
	case q:
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

// New returns a text logger writing to w at level. A nil w is stderr.
func New(w io.Writer, level slog.Level) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	h := slog.NewTextHandler(&scancodeFilter{w: w}, &slog.HandlerOptions{Level: level})
	return slog.New(h)
}

// Setup builds a logger with New and installs it as slog's default.
func Setup(w io.Writer, level slog.Level) *slog.Logger {
	l := New(w, level)
	slog.SetDefault(l)
	return l
}

// scancodeFilter drops GLFW "Invalid scancode" noise that some keyboards
// produce on every key press.
type scancodeFilter struct {
	w io.Writer
}

func (f *scancodeFilter) Write(p []byte) (int, error) {
	if strings.Contains(string(p), "Invalid scancode") {
		return len(p), nil
	}
	return f.w.Write(p)
}
