package logger

import (
	"go.uber.org/zap"
)

// LoggerConfig controls logger construction.
type LoggerConfig struct {
	// Debug enables development-mode output with debug level enabled.
	Debug bool
}

// NewLogger builds the process-wide zap logger. Production JSON output by
// default, human-readable development output when Debug is set.
func NewLogger(cfg *LoggerConfig) (*zap.Logger, error) {
	if cfg != nil && cfg.Debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
