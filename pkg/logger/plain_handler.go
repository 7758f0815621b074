package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// consoleHiddenKeys are bound for the log file but are noise on the console
var consoleHiddenKeys = map[string]bool{
	"intention": true,
	"component": true,
	"session":   true,
	"turn":      true,
	"time":      true,
	"level":     true,
	"msg":       true,
}

// plainHandler writes "<icon> message key=value ..." lines without time or
// level decoration. The icon comes from the "intention" attribute.
type plainHandler struct {
	w       io.Writer
	mu      *sync.Mutex
	attrs   []slog.Attr
	leveler slog.Leveler
}

func newPlainHandler(w io.Writer, leveler slog.Leveler) slog.Handler {
	return &plainHandler{w: w, mu: &sync.Mutex{}, leveler: leveler}
}

func (h *plainHandler) Enabled(_ context.Context, lvl slog.Level) bool {
	if h.leveler == nil {
		return true
	}
	return lvl >= h.leveler.Level()
}

func (h *plainHandler) Handle(_ context.Context, r slog.Record) error {
	all := make([]slog.Attr, 0, len(h.attrs)+r.NumAttrs())
	all = append(all, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		all = append(all, a)
		return true
	})
	all = flatten(all)

	var b strings.Builder
	for _, a := range all {
		if a.Key == "intention" {
			b.WriteString(iconFor(Intention(a.Value.String())))
			b.WriteByte(' ')
			break
		}
	}
	b.WriteString(r.Message)
	for _, a := range all {
		if consoleHiddenKeys[a.Key] {
			continue
		}
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := fmt.Fprintln(h.w, b.String())
	return err
}

func (h *plainHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := *h
	nh.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &nh
}

// Groups are flattened on the console, so the name is kept only as an empty group marker
func (h *plainHandler) WithGroup(name string) slog.Handler {
	nh := *h
	nh.attrs = append(append([]slog.Attr{}, h.attrs...), slog.Group(name))
	return &nh
}

func flatten(attrs []slog.Attr) []slog.Attr {
	out := make([]slog.Attr, 0, len(attrs))
	for _, a := range attrs {
		if a.Value.Kind() == slog.KindGroup {
			out = append(out, flatten(a.Value.Group())...)
			continue
		}
		out = append(out, a)
	}
	return out
}
