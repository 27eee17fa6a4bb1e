// Package obslog provides the single structured logger construction point
// used by every ambient package (cmd/diffgen, cache, verify). The
// differentiation core never logs, per its own error-handling design —
// this package exists entirely outside diff/optree.
package obslog

import (
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func shortTimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("15:04:05"))
}

// New builds a zap logger writing to stdout. pretty selects a human-readable
// console encoding for local/REPL use; the non-pretty path emits JSON, for
// the verification harness and any process whose output is consumed by
// another tool.
func New(pretty bool) *zap.Logger {
	econf := zapcore.EncoderConfig{
		MessageKey:     "msg",
		LevelKey:       "level",
		TimeKey:        "time",
		NameKey:        "logger",
		EncodeLevel:    zapcore.CapitalColorLevelEncoder,
		EncodeTime:     shortTimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}

	var core zapcore.Core
	if pretty {
		core = zapcore.NewCore(zapcore.NewConsoleEncoder(econf), zapcore.AddSync(os.Stdout), zap.DebugLevel)
	} else {
		econf.EncodeLevel = zapcore.LowercaseLevelEncoder
		econf.EncodeTime = zapcore.ISO8601TimeEncoder
		core = zapcore.NewCore(zapcore.NewJSONEncoder(econf), zapcore.AddSync(os.Stdout), zap.DebugLevel)
	}
	return zap.New(core)
}

// WithRefresh returns a child logger tagged with a refresh correlation id,
// the field every ambient component attaches once a diff.Context has been
// assigned its RefreshID.
func WithRefresh(log *zap.Logger, refreshID string) *zap.Logger {
	return log.With(zap.String("refresh_id", refreshID))
}
