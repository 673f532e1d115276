package logging

import (
	"context"
)

type contextKey int

const (
	configNameKey contextKey = iota
	instanceIDKey
	loggerKey
)

// WithConfigNameCtx returns a new context carrying the orchestration config name.
func WithConfigNameCtx(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, configNameKey, name)
}

// ConfigNameFromCtx extracts the config name from the context.
func ConfigNameFromCtx(ctx context.Context) string {
	if name, ok := ctx.Value(configNameKey).(string); ok {
		return name
	}
	return ""
}

// WithInstanceIDCtx returns a new context carrying the instance id.
func WithInstanceIDCtx(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, instanceIDKey, id)
}

// InstanceIDFromCtx extracts the instance id from the context.
func InstanceIDFromCtx(ctx context.Context) string {
	if id, ok := ctx.Value(instanceIDKey).(string); ok {
		return id
	}
	return ""
}

// WithLoggerCtx returns a new context with the logger attached.
func WithLoggerCtx(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// LoggerFromCtx returns the logger from context, or nil if not set.
func LoggerFromCtx(ctx context.Context) *Logger {
	l, _ := ctx.Value(loggerKey).(*Logger)
	return l
}

// FromCtx returns the logger attached to ctx. Without one it derives a logger
// from the global logger, tagged with whatever ids the context carries.
func FromCtx(ctx context.Context) *Logger {
	if l := LoggerFromCtx(ctx); l != nil {
		return l
	}
	return tagFromCtx(ctx, Global())
}

// ContextLogger prefers the context's logger, then base, then the global
// logger, and tags the result with the context's ids.
func ContextLogger(ctx context.Context, base *Logger) *Logger {
	l := LoggerFromCtx(ctx)
	if l == nil {
		l = base
	}
	if l == nil {
		l = Global()
	}
	return tagFromCtx(ctx, l)
}

func tagFromCtx(ctx context.Context, l *Logger) *Logger {
	if name := ConfigNameFromCtx(ctx); name != "" {
		l = l.WithConfigName(name)
	}
	if id := InstanceIDFromCtx(ctx); id != "" {
		l = l.WithInstanceID(id)
	}
	return l
}

// PropagateIDs copies the logger's config name and instance id into ctx.
func PropagateIDs(ctx context.Context, l *Logger) context.Context {
	if l == nil {
		return ctx
	}

	l.mu.Lock()
	configName := l.configName
	instanceID := l.instanceID
	l.mu.Unlock()

	if configName != "" {
		ctx = WithConfigNameCtx(ctx, configName)
	}
	if instanceID != "" {
		ctx = WithInstanceIDCtx(ctx, instanceID)
	}
	return ctx
}
