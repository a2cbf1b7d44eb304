package observe

import (
	"context"
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// zapLogger adapts a *zap.Logger to Logger.
type zapLogger struct {
	l *zap.Logger
}

// NewZapLogger wraps an existing zap logger.
func NewZapLogger(l *zap.Logger) Logger {
	return &zapLogger{l: l}
}

// NewZapLoggerWithWriter builds a production-style JSON zap logger at the
// given level.
func NewZapLoggerWithWriter(level string, w io.Writer) Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.MessageKey = "msg"
	encCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(w), lvl)
	return &zapLogger{l: zap.New(core)}
}

func (z *zapLogger) WithCall(meta CallMeta) Logger {
	fields := []zap.Field{zap.String("gateway", meta.Gateway)}
	if meta.Kind != "" {
		fields = append(fields, zap.String("kind", meta.Kind))
	}
	return &zapLogger{l: z.l.With(fields...)}
}

func (z *zapLogger) Info(ctx context.Context, msg string, fields ...Field) {
	z.l.Info(msg, z.fields(ctx, fields)...)
}

func (z *zapLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	z.l.Warn(msg, z.fields(ctx, fields)...)
}

func (z *zapLogger) Error(ctx context.Context, msg string, fields ...Field) {
	z.l.Error(msg, z.fields(ctx, fields)...)
}

func (z *zapLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	z.l.Debug(msg, z.fields(ctx, fields)...)
}

// Sync flushes buffered entries.
func (z *zapLogger) Sync() error {
	return z.l.Sync()
}

func (z *zapLogger) fields(ctx context.Context, fields []Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields)+1)
	if id := RequestID(ctx); id != "" {
		out = append(out, zap.String("request_id", id))
	}
	for _, f := range fields {
		if isRedactedField(f.Key) {
			out = append(out, zap.String(f.Key, "[REDACTED]"))
			continue
		}
		if err, ok := f.Value.(error); ok {
			out = append(out, zap.String(f.Key, err.Error()))
			continue
		}
		out = append(out, zap.Any(f.Key, f.Value))
	}
	return out
}
