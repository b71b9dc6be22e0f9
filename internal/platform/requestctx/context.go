package requestctx

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type contextKey string

const (
	loggerContextKey      contextKey = "github.com/homefit-remodel/api/internal/platform/requestctx/logger"
	traceContextKey       contextKey = "github.com/homefit-remodel/api/internal/platform/requestctx/trace"
	annotationsContextKey contextKey = "github.com/homefit-remodel/api/internal/platform/requestctx/annotations"
)

var noopLogger = zap.NewNop()

// TraceInfo captures trace metadata propagated through request context.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

// Annotations collects values that handlers learn while serving a request
// (session id, estimate id, grade) so the completion log can carry them.
type Annotations struct {
	mu     sync.Mutex
	keys   []string
	values map[string]string
}

// Set records key=value, keeping first-insertion order.
func (a *Annotations) Set(key, value string) {
	if a == nil || key == "" || value == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.values == nil {
		a.values = make(map[string]string)
	}
	if _, ok := a.values[key]; !ok {
		a.keys = append(a.keys, key)
	}
	a.values[key] = value
}

// Each calls fn for every annotation in insertion order.
func (a *Annotations) Each(fn func(key, value string)) {
	if a == nil || fn == nil {
		return
	}
	a.mu.Lock()
	keys := append([]string(nil), a.keys...)
	values := make(map[string]string, len(a.values))
	for k, v := range a.values {
		values[k] = v
	}
	a.mu.Unlock()
	for _, key := range keys {
		fn(key, values[key])
	}
}

// WithLogger stores the logger in context for downstream consumers.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = noopLogger
	}
	return context.WithValue(ctx, loggerContextKey, logger)
}

// Logger retrieves the zap logger from context or returns a no-op logger.
func Logger(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return noopLogger
	}
	if logger, ok := ctx.Value(loggerContextKey).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return noopLogger
}

// HasLogger reports whether a request logger was installed on ctx.
func HasLogger(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	logger, ok := ctx.Value(loggerContextKey).(*zap.Logger)
	return ok && logger != nil
}

// WithTrace stores the trace metadata on the context for downstream usage.
func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, traceContextKey, info)
}

// Trace retrieves the trace metadata from context when available.
func Trace(ctx context.Context) (TraceInfo, bool) {
	if ctx == nil {
		return TraceInfo{}, false
	}
	info, ok := ctx.Value(traceContextKey).(TraceInfo)
	if !ok {
		return TraceInfo{}, false
	}
	return info, true
}

// TraceID extracts the trace identifier from context when present.
func TraceID(ctx context.Context) string {
	info, ok := Trace(ctx)
	if !ok {
		return ""
	}
	return info.TraceID
}

// WithAnnotations attaches an empty annotation bag to ctx.
func WithAnnotations(ctx context.Context) (context.Context, *Annotations) {
	if ctx == nil {
		ctx = context.Background()
	}
	bag := &Annotations{}
	return context.WithValue(ctx, annotationsContextKey, bag), bag
}

// Annotate records key=value on the request's annotation bag. Without a bag it is a no-op.
func Annotate(ctx context.Context, key, value string) {
	if ctx == nil {
		return
	}
	if bag, ok := ctx.Value(annotationsContextKey).(*Annotations); ok {
		bag.Set(key, value)
	}
}
