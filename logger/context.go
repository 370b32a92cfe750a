package logger

import (
	"context"

	"github.com/sirupsen/logrus"
)

type contextKey string

const entryKey contextKey = "logger"

// NewContext returns a copy of ctx carrying entry.
func NewContext(ctx context.Context, entry *logrus.Entry) context.Context {
	return context.WithValue(ctx, entryKey, entry)
}

// FromContext returns the request-scoped entry, or an entry on fallback when
// ctx carries none. A nil fallback means the standard logger.
func FromContext(ctx context.Context, fallback *logrus.Logger) *logrus.Entry {
	if ctx != nil {
		if entry, ok := ctx.Value(entryKey).(*logrus.Entry); ok && entry != nil {
			return entry
		}
	}
	if fallback == nil {
		fallback = logrus.StandardLogger()
	}
	return logrus.NewEntry(fallback)
}
