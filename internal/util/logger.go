package util

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	globalLogger *zap.Logger
	mu           sync.Mutex
)

// NewLogger builds a logger for the given environment. Production gets JSON
// with ISO8601 timestamps and sampling; everything else gets a colored
// console encoder unless format forces json.
func NewLogger(environment, level, format string) (*zap.Logger, error) {
	var cfg zap.Config

	if environment == "production" {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.DisableStacktrace = true
		cfg.Sampling = &zap.SamplingConfig{
			Initial:    100,
			Thereafter: 100,
		}
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(parseLogLevel(level))

	if format == "json" {
		cfg.Encoding = "json"
		cfg.EncoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
	} else {
		cfg.Encoding = "console"
	}

	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	return cfg.Build(zap.AddCaller())
}

// Init builds the process logger and installs it as the zap global.
// Subsequent calls replace the previous logger.
func Init(environment, level, format string) *zap.Logger {
	logger, err := NewLogger(environment, level, format)
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}

	mu.Lock()
	globalLogger = logger
	mu.Unlock()

	zap.ReplaceGlobals(logger)
	return logger
}

// Get returns the process logger, initializing a production logger on first
// use if Init was never called.
func Get() *zap.Logger {
	mu.Lock()
	l := globalLogger
	mu.Unlock()

	if l == nil {
		return Init("production", "info", "json")
	}
	return l
}

func Sync() {
	mu.Lock()
	l := globalLogger
	mu.Unlock()

	if l != nil {
		_ = l.Sync()
	}
}

func parseLogLevel(level string) zapcore.Level {
	l, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		if strings.EqualFold(level, "warning") {
			return zapcore.WarnLevel
		}
		return zapcore.InfoLevel
	}
	return l
}

func Debug(msg string, fields ...zap.Field) {
	Get().WithOptions(zap.AddCallerSkip(1)).Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	Get().WithOptions(zap.AddCallerSkip(1)).Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	Get().WithOptions(zap.AddCallerSkip(1)).Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	Get().WithOptions(zap.AddCallerSkip(1)).Error(msg, fields...)
}

func Fatal(msg string, fields ...zap.Field) {
	Get().WithOptions(zap.AddCallerSkip(1)).Fatal(msg, fields...)
}

func String(key, value string) zap.Field {
	return zap.String(key, value)
}

func Strings(key string, value []string) zap.Field {
	return zap.Strings(key, value)
}

func Bool(key string, value bool) zap.Field {
	return zap.Bool(key, value)
}

func Int(key string, value int) zap.Field {
	return zap.Int(key, value)
}

func Int64(key string, value int64) zap.Field {
	return zap.Int64(key, value)
}

// ErrorField is named to avoid clashing with Error.
func ErrorField(err error) zap.Field {
	return zap.Error(err)
}

func Duration(key string, value time.Duration) zap.Field {
	return zap.Duration(key, value)
}

// Mobile logs a phone number with its middle digits masked.
func Mobile(mobile string) zap.Field {
	return zap.String("mobile", MaskMobile(mobile))
}

func UserID(id string) zap.Field {
	return zap.String("user_id", id)
}

func DeviceID(id string) zap.Field {
	return zap.String("device_id", id)
}
