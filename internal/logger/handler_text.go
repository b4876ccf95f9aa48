package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
)

// textHandler is the terminal-oriented slog.Handler: a compact single-line
// format of timestamp, level, message and key=value pairs. When color is on,
// only the level token is colored and the timestamp is dimmed, so grepping
// the output stays predictable.
//
// Attributes added through WithAttrs are rendered once and cached; group
// names become dotted key prefixes.
type textHandler struct {
	out   io.Writer
	mu    *sync.Mutex
	level slog.Leveler
	color bool

	// preformatted holds the WithAttrs attributes already rendered.
	preformatted string
	// groupPrefix is the dotted prefix applied to attribute keys.
	groupPrefix string
}

// levelTokens maps slog levels to their display token and ANSI color.
var levelTokens = []struct {
	min   slog.Level
	token string
	color string
}{
	{slog.LevelError, "ERR", "\033[31m"},
	{slog.LevelWarn, "WRN", "\033[33m"},
	{slog.LevelInfo, "INF", "\033[32m"},
	{slog.LevelDebug, "DBG", "\033[90m"},
}

const (
	ansiReset = "\033[0m"
	ansiDim   = "\033[2m"
)

// newTextHandler builds the terminal handler.
func newTextHandler(out io.Writer, level slog.Leveler, color bool) *textHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &textHandler{
		out:   out,
		mu:    &sync.Mutex{},
		level: level,
		color: color,
	}
}

func (h *textHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *textHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.Grow(96 + len(r.Message))

	stamp := r.Time.Format("15:04:05.000")
	if h.color {
		b.WriteString(ansiDim)
		b.WriteString(stamp)
		b.WriteString(ansiReset)
	} else {
		b.WriteString(stamp)
	}
	b.WriteByte(' ')
	h.writeLevel(&b, r.Level)
	b.WriteByte(' ')
	b.WriteString(r.Message)

	b.WriteString(h.preformatted)
	r.Attrs(func(a slog.Attr) bool {
		h.writeAttr(&b, a)
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, b.String())
	return err
}

func (h *textHandler) writeLevel(b *strings.Builder, level slog.Level) {
	token := levelTokens[len(levelTokens)-1]
	for _, t := range levelTokens {
		if level >= t.min {
			token = t
			break
		}
	}
	if h.color {
		b.WriteString(token.color)
		b.WriteString(token.token)
		b.WriteString(ansiReset)
		return
	}
	b.WriteString(token.token)
}

func (h *textHandler) writeAttr(b *strings.Builder, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		// Flatten groups into dotted keys.
		sub := *h
		if a.Key != "" {
			sub.groupPrefix = h.groupPrefix + a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			sub.writeAttr(b, ga)
		}
		return
	}

	b.WriteByte(' ')
	b.WriteString(h.groupPrefix)
	b.WriteString(a.Key)
	b.WriteByte('=')
	b.WriteString(renderValue(a.Value))
}

// renderValue formats a value, quoting strings that would break the
// key=value grammar.
func renderValue(v slog.Value) string {
	var s string
	switch v.Kind() {
	case slog.KindString:
		s = v.String()
	case slog.KindDuration:
		s = v.Duration().String()
	case slog.KindTime:
		s = v.Time().Format("15:04:05.000")
	default:
		s = fmt.Sprint(v.Any())
	}
	if strings.ContainsAny(s, " \t\"=") || s == "" {
		return strconv.Quote(s)
	}
	return s
}

func (h *textHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	var b strings.Builder
	for _, a := range attrs {
		h.writeAttr(&b, a)
	}
	clone := *h
	clone.preformatted = h.preformatted + b.String()
	return &clone
}

func (h *textHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groupPrefix = h.groupPrefix + name + "."
	return &clone
}
