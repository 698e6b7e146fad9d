package logger

import (
	"context"
	"os"
	"strconv"

	"github.com/mindcare/realtime-service/internal/adapters/config"
	"github.com/mindcare/realtime-service/internal/domain"
	"github.com/mindcare/realtime-service/pkg/contextkeys"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// contextFieldKeys are copied from the context into every entry when set.
var contextFieldKeys = []contextkeys.Key{
	contextkeys.RequestIDKey,
	contextkeys.EventIDKey,
	contextkeys.SubsystemKey,
	contextkeys.UserIDKey,
	contextkeys.RoomIDKey,
	contextkeys.ConnectionIDKey,
}

// ZapAdapter implements the domain.Logger interface using Zap.
type ZapAdapter struct {
	logger *zap.Logger
}

// NewZapAdapter builds the application logger from the configured level.
// Info to Warn go to stdout, Error and above to stderr, both as JSON.
func NewZapAdapter(cfgProvider config.Provider, serviceName string) (domain.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(cfgProvider.Get().Log.Level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	infoLevel := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl >= zapLevel && lvl < zapcore.ErrorLevel
	})
	errorLevel := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl >= zapLevel && lvl >= zapcore.ErrorLevel
	})

	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.Lock(os.Stdout), infoLevel),
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.Lock(os.Stderr), errorLevel),
	)

	// AddCallerSkip hides this adapter's frame from the caller field.
	zapLogger := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.ErrorLevel))
	zapLogger = zapLogger.With(zap.String("service", serviceName))

	return &ZapAdapter{logger: zapLogger}, nil
}

// NewFromZap wraps an existing zap logger, mainly for tests using zaptest or observer.
func NewFromZap(l *zap.Logger) *ZapAdapter {
	return &ZapAdapter{logger: l}
}

func (za *ZapAdapter) fields(ctx context.Context, args []any) []zap.Field {
	fields := make([]zap.Field, 0, len(args)/2+len(contextFieldKeys))

	if ctx != nil {
		for _, key := range contextFieldKeys {
			if v, ok := ctx.Value(key).(string); ok && v != "" {
				fields = append(fields, zap.String(key.String(), v))
			}
		}
	}

	return append(fields, pairs(args)...)
}

// pairs converts alternating key/value arguments into zap fields.
func pairs(args []any) []zap.Field {
	fields := make([]zap.Field, 0, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		if i+1 >= len(args) {
			fields = append(fields, zap.Any("orphan_field_"+strconv.Itoa(i), args[i]))
			break
		}
		key, ok := args[i].(string)
		if !ok {
			key = "invalid_key_" + strconv.Itoa(i)
		}
		if err, isErr := args[i+1].(error); isErr {
			fields = append(fields, zap.NamedError(key, err))
			continue
		}
		fields = append(fields, zap.Any(key, args[i+1]))
	}
	return fields
}

func (za *ZapAdapter) Debug(ctx context.Context, msg string, args ...any) {
	if !za.logger.Core().Enabled(zapcore.DebugLevel) {
		return
	}
	za.logger.Debug(msg, za.fields(ctx, args)...)
}

func (za *ZapAdapter) Info(ctx context.Context, msg string, args ...any) {
	if !za.logger.Core().Enabled(zapcore.InfoLevel) {
		return
	}
	za.logger.Info(msg, za.fields(ctx, args)...)
}

func (za *ZapAdapter) Warn(ctx context.Context, msg string, args ...any) {
	if !za.logger.Core().Enabled(zapcore.WarnLevel) {
		return
	}
	za.logger.Warn(msg, za.fields(ctx, args)...)
}

func (za *ZapAdapter) Error(ctx context.Context, msg string, args ...any) {
	if !za.logger.Core().Enabled(zapcore.ErrorLevel) {
		return
	}
	za.logger.Error(msg, za.fields(ctx, args)...)
}

// Fatal logs and then exits the process.
func (za *ZapAdapter) Fatal(ctx context.Context, msg string, args ...any) {
	za.logger.Fatal(msg, za.fields(ctx, args)...)
}

func (za *ZapAdapter) With(args ...any) domain.Logger {
	return &ZapAdapter{logger: za.logger.With(pairs(args)...)}
}

// Sync flushes buffered entries.
func (za *ZapAdapter) Sync() error {
	return za.logger.Sync()
}
