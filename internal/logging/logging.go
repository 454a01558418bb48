// Package logging builds the process-wide zap logger from configuration.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/imq-dev/imq/internal/config"
)

// New constructs a zap logger honoring the configured level and format.
// Format "auto" resolves to pretty when stderr is a terminal, json otherwise.
func New(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	format := cfg.Format
	if format == config.LogFormatAuto {
		if term.IsTerminal(int(os.Stderr.Fd())) {
			format = config.LogFormatPretty
		} else {
			format = config.LogFormatJSON
		}
	}

	var encoder zapcore.Encoder
	switch format {
	case config.LogFormatPretty:
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	case config.LogFormatJSON:
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encCfg)
	default:
		return nil, fmt.Errorf("unknown log format: %q", format)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level)
	return zap.New(core, zap.AddCaller()), nil
}

// NewNop returns a logger that discards everything. Intended for tests.
func NewNop() *zap.Logger {
	return zap.NewNop()
}
