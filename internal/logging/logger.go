package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// #region new-logger
// NewLogger builds a zap logger. Production config unless Development is set;
// an empty level means info.
func NewLogger(cfg Config) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}

	if cfg.Level != "" {
		lvl, err := zapcore.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
		}
		zc.Level = zap.NewAtomicLevelAt(lvl)
	}

	switch strings.ToLower(cfg.Format) {
	case "":
	case "json", "console":
		zc.Encoding = strings.ToLower(cfg.Format)
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// #endregion new-logger
