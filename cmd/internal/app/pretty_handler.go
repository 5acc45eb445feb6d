package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// prettyHandler renders records as single-line key=value text for local
// development. Production runs use the JSON handler instead.
type prettyHandler struct {
	w      io.Writer
	opts   slog.HandlerOptions
	attrs  []slog.Attr
	groups []string
	color  bool
	mu     *sync.Mutex
}

func newPrettyHandler(w io.Writer, opts *slog.HandlerOptions, color bool) slog.Handler {
	h := &prettyHandler{w: w, color: color, mu: &sync.Mutex{}}
	if opts != nil {
		h.opts = *opts
	}
	return h
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

func (h *prettyHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	fmt.Fprintf(&b, "ts=%s lvl=%s msg=%s",
		h.dim(ts.Format("15:04:05.000")),
		h.levelTag(r.Level),
		h.bold(r.Message),
	)

	if h.opts.AddSource && r.PC != 0 {
		frames := runtime.CallersFrames([]uintptr{r.PC})
		frame, _ := frames.Next()
		if frame.File != "" {
			fmt.Fprintf(&b, " src=%s", h.dim(fmt.Sprintf("%s:%d", filepath.Base(frame.File), frame.Line)))
		}
	}

	for _, a := range h.attrs {
		h.writeAttr(&b, a, "")
	}
	r.Attrs(func(a slog.Attr) bool {
		h.writeAttr(&b, a, "")
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &cp
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	if strings.TrimSpace(name) == "" {
		return h
	}
	cp := *h
	cp.groups = append(append([]string{}, h.groups...), name)
	return &cp
}

// writeAttr flattens groups into dotted keys so one grep finds a field
// regardless of grouping.
func (h *prettyHandler) writeAttr(b *strings.Builder, a slog.Attr, parent string) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := strings.TrimSpace(a.Key)
	if key == "" {
		return
	}

	if parent != "" {
		key = parent + "." + key
	}
	if len(h.groups) > 0 {
		key = strings.Join(h.groups, ".") + "." + key
	}

	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			h.writeAttr(b, ga, key)
		}
		return
	}

	fmt.Fprintf(b, " %s=%s", key, h.renderValue(key, a.Value))
}

// renderValue special-cases the request-log fields so a terminal session
// reads at a glance; everything else is plain key=value.
func (h *prettyHandler) renderValue(key string, v slog.Value) string {
	if i := strings.LastIndexByte(key, '.'); i >= 0 {
		key = key[i+1:]
	}
	switch strings.TrimSpace(key) {
	case "method":
		return colorizeHTTPMethod(strings.ToUpper(strings.TrimSpace(v.String())), h.color)
	case "path":
		if h.color {
			return ansiCyan + strings.TrimSpace(v.String()) + ansiReset
		}
		return strings.TrimSpace(v.String())
	case "status":
		if n, ok := valueToInt64(v); ok {
			return colorizeStatusCode(int(n), h.color)
		}
	case "status_class":
		return colorizeStatusClass(strings.TrimSpace(v.String()), h.color)
	case "duration_ms":
		if n, ok := valueToInt64(v); ok {
			return colorizeDurationMS(n, h.color)
		}
	case "result":
		return colorizeResult(strings.ToLower(strings.TrimSpace(v.String())), h.color)
	}
	return quoteIfNeeded(plainValue(v))
}

func plainValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindBool:
		return strconv.FormatBool(v.Bool())
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	default:
		return fmt.Sprint(v.Any())
	}
}

func quoteIfNeeded(s string) string {
	if s == "" {
		return `""`
	}
	if strings.ContainsAny(s, " \t\r\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

func (h *prettyHandler) levelTag(level slog.Level) string {
	var tag, tint string
	switch {
	case level >= slog.LevelError:
		tag, tint = "[ERROR]", ansiRed
	case level >= slog.LevelWarn:
		tag, tint = "[WARN]", ansiYellow
	case level < slog.LevelInfo:
		tag, tint = "[DEBUG]", ansiMagenta
	default:
		tag, tint = "[INFO]", ansiBlue
	}
	if !h.color {
		return tag
	}
	return tint + tag + ansiReset
}

func (h *prettyHandler) dim(s string) string {
	if !h.color {
		return s
	}
	return ansiDim + s + ansiReset
}

func (h *prettyHandler) bold(s string) string {
	if !h.color {
		return s
	}
	return ansiBright + s + ansiReset
}
