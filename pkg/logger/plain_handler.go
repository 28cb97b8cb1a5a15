package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// plainHandler prints the message followed by key=value pairs, with no time
// prefix. Icons are only drawn when the writer is a terminal so that piped
// output stays greppable.
type plainHandler struct {
	w       io.Writer
	attrs   []slog.Attr
	mu      *sync.Mutex
	leveler slog.Leveler
	icons   bool
}

func newPlainHandler(w io.Writer, leveler slog.Leveler) slog.Handler {
	return &plainHandler{w: w, leveler: leveler, mu: &sync.Mutex{}, icons: isTerminal(w)}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (h *plainHandler) Enabled(_ context.Context, lvl slog.Level) bool {
	if h.leveler == nil {
		return true
	}
	return lvl >= h.leveler.Level()
}

// hidden keys are metadata for the file log, not the console.
func hidden(key string) bool {
	switch key {
	case "intention", slog.TimeKey, slog.LevelKey, slog.MessageKey, "component", "dispatch":
		return true
	}
	return false
}

func (h *plainHandler) Handle(_ context.Context, r slog.Record) error {
	var (
		intention string
		b         strings.Builder
	)
	visit := func(a slog.Attr) {
		if a.Key == "intention" {
			intention = a.Value.String()
			return
		}
		if hidden(a.Key) {
			return
		}
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
	}
	walk := func(a slog.Attr) {
		if a.Value.Kind() == slog.KindGroup {
			for _, ga := range a.Value.Group() {
				visit(ga)
			}
			return
		}
		visit(a)
	}
	for _, a := range h.attrs {
		walk(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		walk(a)
		return true
	})

	prefix := ""
	switch {
	case r.Level >= slog.LevelError:
		prefix = "ERROR "
	case r.Level >= slog.LevelWarn:
		prefix = "WARN "
	case h.icons && intention != "":
		prefix = iconFor(Intention(intention)) + " "
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := fmt.Fprintln(h.w, prefix+r.Message+b.String())
	return err
}

func (h *plainHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := *h
	nh.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &nh
}

// WithGroup keeps the console flat; grouped attributes are printed unqualified.
func (h *plainHandler) WithGroup(name string) slog.Handler {
	nh := *h
	nh.attrs = append(append([]slog.Attr{}, h.attrs...), slog.Group(name))
	return &nh
}
