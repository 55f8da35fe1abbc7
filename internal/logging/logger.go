package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger returns a zap logger configured for structured production
// logging. Unknown level names fall back to info.
func NewLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	normalized := strings.ToLower(strings.TrimSpace(level))
	if normalized == "warning" {
		normalized = "warn"
	}
	parsed, err := zapcore.ParseLevel(normalized)
	if err != nil || parsed < zapcore.DebugLevel || parsed > zapcore.ErrorLevel {
		return zapcore.InfoLevel
	}
	return parsed
}
