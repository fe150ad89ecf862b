package testbed

import "context"

// Тип для ключа в контексте (избегаем коллизий)
type ctxKey string

const (
	traceIDKey  ctxKey = "trace_id"
	systemIDKey ctxKey = "system_id"
)

// WithTraceID кладет сквозной ID цикла в контекст, он уйдет в ITB заголовком X-Trace-ID.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceIDFromContext помогает безопасно достать ID в любом месте кода
func TraceIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey).(string); ok {
		return id
	}
	return ""
}

// WithSystemID помечает запросы к ITB системой, ради которой они идут.
// Транспорт по этой метке держит отдельный предохранитель на систему.
func WithSystemID(ctx context.Context, systemID string) context.Context {
	return context.WithValue(ctx, systemIDKey, systemID)
}

func SystemIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(systemIDKey).(string); ok {
		return id
	}
	return ""
}
