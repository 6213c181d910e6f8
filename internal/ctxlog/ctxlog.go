// Package ctxlog is a common spot for dochost logging helpers.
//
// It lets deeply nested calls attach structured context (crate name, build
// ID, request ID, ...) to a [context.Context] so that a single top-level
// [slog.Handler] can include it on every record without every call site
// threading a *slog.Logger through by hand.
package ctxlog

import (
	"context"
	"log/slog"
	"slices"
)

// ctxkey is unexported so other packages cannot construct these values.
type ctxkey int

const (
	_ ctxkey = iota

	// attrsKey retrieves extra logging attributes attached via [With] or
	// [WithAttr]. The value is a [slog.Value] of kind Group.
	attrsKey

	// levelKey retrieves a per-record minimum [slog.Level] set via
	// [WithLevel].
	levelKey
)

// With returns a context with the arguments stored as [slog.Attr], in the
// same key/value-pairs-or-Attr shape accepted by [slog.Logger.With].
func With(ctx context.Context, args ...any) context.Context {
	return WithAttr(ctx, argsToAttrSlice(args)...)
}

// WithAttr returns a context with the given attrs appended to any already
// stored at attrsKey. Later attrs with a repeated key shadow earlier ones.
func WithAttr(ctx context.Context, attrs ...slog.Attr) context.Context {
	if v, ok := ctx.Value(attrsKey).(slog.Value); ok {
		attrs = append(v.Group(), attrs...)
	}
	seen := make(map[string]struct{}, len(attrs))
	del := func(a slog.Attr) bool {
		_, rm := seen[a.Key]
		seen[a.Key] = struct{}{}
		return rm || (a.Value.Kind() == slog.KindGroup && len(a.Value.Group()) == 0)
	}
	slices.Reverse(attrs)
	attrs = slices.DeleteFunc(attrs, del)
	slices.Reverse(attrs)
	return context.WithValue(ctx, attrsKey, slog.GroupValue(attrs...))
}

// WithLevel returns a context carrying a minimum [slog.Leveler] for records
// produced while it's in scope.
func WithLevel(ctx context.Context, l slog.Leveler) context.Context {
	return context.WithValue(ctx, levelKey, l)
}

// WrapHandler wraps next with a [slog.Handler] that copies attributes and
// the level floor out of the record's context, if present.
func WrapHandler(next slog.Handler) slog.Handler {
	return handler{next: next}
}

type handler struct {
	next slog.Handler
}

func (h handler) Enabled(ctx context.Context, level slog.Level) bool {
	if l, ok := ctx.Value(levelKey).(slog.Leveler); ok && level < l.Level() {
		return false
	}
	return h.next.Enabled(ctx, level)
}

func (h handler) Handle(ctx context.Context, r slog.Record) error {
	if v, ok := ctx.Value(attrsKey).(slog.Value); ok {
		r.AddAttrs(v.Group()...)
	}
	return h.next.Handle(ctx, r)
}

func (h handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return handler{next: h.next.WithAttrs(attrs)}
}

func (h handler) WithGroup(name string) slog.Handler {
	return handler{next: h.next.WithGroup(name)}
}

// The following is copied out of the standard library's log/slog package,
// which keeps argsToAttr unexported.

func argsToAttrSlice(args []any) []slog.Attr {
	var (
		attr  slog.Attr
		attrs []slog.Attr
	)
	for len(args) > 0 {
		attr, args = argsToAttr(args)
		attrs = append(attrs, attr)
	}
	return attrs
}

func argsToAttr(args []any) (slog.Attr, []any) {
	const badKey = `!BADKEY`
	switch x := args[0].(type) {
	case string:
		if len(args) == 1 {
			return slog.String(badKey, x), nil
		}
		return slog.Any(x, args[1]), args[2:]
	case slog.Attr:
		return x, args[1:]
	default:
		return slog.Any(badKey, x), args[1:]
	}
}
