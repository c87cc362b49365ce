package logging

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

type ctxKey int

const fieldsKey ctxKey = iota

var logger = logrus.New()

// Setup configures the process logger. Unknown levels fall back to info.
func Setup(level, format string, out io.Writer) {
	if out == nil {
		out = os.Stdout
	}
	logger.SetOutput(out)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)

	if strings.EqualFold(format, "text") {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		return
	}
	logger.SetFormatter(&logrus.JSONFormatter{})
}

// Logger returns the process logger.
func Logger() *logrus.Logger {
	return logger
}

// With returns a child context whose log entries carry the given fields.
func With(ctx context.Context, fields logrus.Fields) context.Context {
	merged := logrus.Fields{}
	if prev, ok := ctx.Value(fieldsKey).(logrus.Fields); ok {
		for k, v := range prev {
			merged[k] = v
		}
	}
	for k, v := range fields {
		merged[k] = v
	}
	return context.WithValue(ctx, fieldsKey, merged)
}

// WithContext returns an entry carrying the fields stored on ctx.
func WithContext(ctx context.Context) *logrus.Entry {
	entry := logrus.NewEntry(logger).WithContext(ctx)
	if fields, ok := ctx.Value(fieldsKey).(logrus.Fields); ok {
		entry = entry.WithFields(fields)
	}
	return entry
}
