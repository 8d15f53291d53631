// Package logger wraps logrus with the request-scoped context helpers the
// rest of the core expects, mirroring the teacher's internal/logger package.
package logger

import (
	"context"

	"github.com/sirupsen/logrus"
)

type ctxKey struct{}

var base = logrus.StandardLogger()

func init() {
	base.SetFormatter(&logrus.JSONFormatter{})
}

// WithField returns a context carrying a logger enriched with the given field,
// the way request IDs and session IDs are threaded through the pipeline.
func WithField(ctx context.Context, key string, value interface{}) context.Context {
	entry := entryFrom(ctx).WithField(key, value)
	return context.WithValue(ctx, ctxKey{}, entry)
}

// CloneContext detaches the logger entry from ctx's cancellation so it can be
// used after the originating request context is gone. The chat streamer's
// post-stream persister needs this because its DB session outlives the
// request (spec.md §4.11).
func CloneContext(ctx context.Context) context.Context {
	entry := entryFrom(ctx)
	return context.WithValue(context.Background(), ctxKey{}, entry)
}

func entryFrom(ctx context.Context) *logrus.Entry {
	if ctx != nil {
		if entry, ok := ctx.Value(ctxKey{}).(*logrus.Entry); ok {
			return entry
		}
	}
	return logrus.NewEntry(base)
}

func Info(ctx context.Context, msg string, kv ...interface{}) {
	entryFrom(ctx).WithFields(fields(kv)).Info(msg)
}

func Warn(ctx context.Context, msg string, kv ...interface{}) {
	entryFrom(ctx).WithFields(fields(kv)).Warn(msg)
}

func Error(ctx context.Context, msg string, kv ...interface{}) {
	entryFrom(ctx).WithFields(fields(kv)).Error(msg)
}

func Errorf(ctx context.Context, format string, args ...interface{}) {
	entryFrom(ctx).Errorf(format, args...)
}

func Infof(ctx context.Context, format string, args ...interface{}) {
	entryFrom(ctx).Infof(format, args...)
}

func fields(kv []interface{}) logrus.Fields {
	f := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		f[key] = kv[i+1]
	}
	return f
}
