package observability

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger adapts a zap.Logger to the Logger interface.
type ZapLogger struct {
	logger *zap.Logger
}

// NewZapLogger builds a production zap logger for the named service.
func NewZapLogger(service string, debug bool) (*ZapLogger, error) {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := cfg.Build(zap.Fields(zap.String("service", service)))
	if err != nil {
		return nil, err
	}
	return &ZapLogger{logger: logger}, nil
}

// WrapZap adapts an existing zap logger, primarily for tests.
func WrapZap(logger *zap.Logger) *ZapLogger {
	return &ZapLogger{logger: logger}
}

// Sync flushes buffered log entries.
func (z *ZapLogger) Sync() {
	_ = z.logger.Sync()
}

// Debug logs at debug level.
func (z *ZapLogger) Debug(msg string, fields ...Field) {
	z.logger.Debug(msg, zapFields(fields)...)
}

// Info logs at info level.
func (z *ZapLogger) Info(msg string, fields ...Field) {
	z.logger.Info(msg, zapFields(fields)...)
}

// Warn logs at warn level.
func (z *ZapLogger) Warn(msg string, fields ...Field) {
	z.logger.Warn(msg, zapFields(fields)...)
}

// Error logs at error level.
func (z *ZapLogger) Error(msg string, fields ...Field) {
	z.logger.Error(msg, zapFields(fields)...)
}

func zapFields(fields []Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		out = append(out, zap.Any(f.Key, f.Value))
	}
	return out
}
