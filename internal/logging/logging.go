// Package logging wraps zap behind a small facade so callers do not carry a
// logger value through every signature. Initialize once at process start.
package logging

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.RWMutex
	logger = zap.NewNop().Sugar()
)

// Init builds the process logger. level is one of debug|info|warn|error,
// format is json|console. Unknown values fall back to info/json.
func Init(level, format string) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if err := lvl.Set(strings.ToLower(level)); err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	if strings.EqualFold(format, "console") {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder

	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}

	mu.Lock()
	logger = l.Sugar()
	mu.Unlock()
	return l, nil
}

// InitFromEnv initializes from SHIELD_LOG_LEVEL and SHIELD_LOG_FORMAT.
func InitFromEnv() (*zap.Logger, error) {
	return Init(os.Getenv("SHIELD_LOG_LEVEL"), os.Getenv("SHIELD_LOG_FORMAT"))
}

func get() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func Debugf(format string, args ...interface{}) { get().Debugf(format, args...) }
func Infof(format string, args ...interface{})  { get().Infof(format, args...) }
func Warnf(format string, args ...interface{})  { get().Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { get().Errorf(format, args...) }
func Fatalf(format string, args ...interface{}) { get().Fatalf(format, args...) }

// Infow logs a message with structured key/value fields.
func Infow(msg string, keysAndValues ...interface{}) { get().Infow(msg, keysAndValues...) }

// Warnw logs a warning with structured key/value fields.
func Warnw(msg string, keysAndValues ...interface{}) { get().Warnw(msg, keysAndValues...) }

// Sync flushes buffered log entries. Call on shutdown.
func Sync() { _ = get().Sync() }
