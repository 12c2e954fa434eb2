package report

import (
	"context"
	"log/slog"
	"strings"

	"github.com/loykin/teacupreport/internal/model"
)

// LogHandler is a slog.Handler that stores records through Store.Log.
// Attributes are appended to the message as key=value pairs.
type LogHandler struct {
	store  *Store
	node   model.Node
	level  slog.Leveler
	attrs  []slog.Attr
	prefix string // open groups, dot separated
}

// NewLogHandler returns a handler writing to s. With a nil node the
// records land in the session log. A nil level means slog.LevelInfo.
func NewLogHandler(s *Store, node model.Node, level slog.Leveler) *LogHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &LogHandler{store: s, node: node, level: level}
}

// ForNode returns a copy of the handler bound to another node.
func (h *LogHandler) ForNode(node model.Node) *LogHandler {
	c := *h
	c.node = node
	return &c
}

func (h *LogHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
}

func (h *LogHandler) Handle(ctx context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(r.Message)
	for _, a := range h.attrs {
		appendAttr(&b, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		appendAttr(&b, h.prefix, a)
		return true
	})

	rec := model.LogRecord{Level: model.LevelFromSlog(r.Level), Message: b.String()}
	if !r.Time.IsZero() {
		rec.Millis = r.Time.UnixMilli()
	}
	h.store.Log(ctx, rec, h.node)
	return nil
}

func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	c := *h
	c.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	c.attrs = append(c.attrs, h.attrs...)
	for _, a := range attrs {
		if h.prefix != "" {
			a.Key = h.prefix + a.Key
		}
		c.attrs = append(c.attrs, a)
	}
	return &c
}

func (h *LogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.prefix = h.prefix + name + "."
	return &c
}

func appendAttr(b *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p += a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			appendAttr(b, p, ga)
		}
		return
	}
	b.WriteByte(' ')
	b.WriteString(prefix + a.Key)
	b.WriteByte('=')
	b.WriteString(a.Value.String())
}
