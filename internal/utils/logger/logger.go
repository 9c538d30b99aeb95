// Package logger provides the process-wide zap sugared logger used by all
// packages. The default is a production config writing to stderr; Verbose
// switches to the development config with debug level enabled.
package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu  sync.Mutex
	log *zap.SugaredLogger
)

// Logger returns the shared sugared logger, building it on first use.
func Logger() *zap.SugaredLogger {
	mu.Lock()
	defer mu.Unlock()
	if log == nil {
		log = build(false)
	}
	return log
}

// SetVerbose rebuilds the shared logger with debug output enabled or disabled.
func SetVerbose(verbose bool) {
	mu.Lock()
	defer mu.Unlock()
	log = build(verbose)
}

func build(verbose bool) *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		cfg.Development = true
	}
	l, err := cfg.Build()
	if err != nil {
		// zap only fails on invalid config; fall back to a no-op logger.
		return zap.NewNop().Sugar()
	}
	return l.Sugar()
}
