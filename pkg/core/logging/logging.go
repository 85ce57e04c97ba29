// Package logging holds the process-wide structured logger.
//
// Logger starts as a no-op so library code can log unconditionally; commands
// call Initialize once at startup.
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Common field names
const (
	FieldComponent = "component"
	FieldTicker    = "ticker"
	FieldConcept   = "concept"
	FieldIdentity  = "identity"
	FieldAccession = "accession"
	FieldRunID     = "run_id"
)

var (
	// Logger is the global logger instance
	Logger *zap.SugaredLogger
	// JSONOutput reports whether Initialize selected the JSON encoder
	JSONOutput bool
)

func init() {
	Logger = zap.NewNop().Sugar()
}

// Initialize installs a console or JSON logger at the given level
// ("debug", "info", "warn", "error"). Unknown levels mean info.
func Initialize(jsonOutput bool, level string) error {
	JSONOutput = jsonOutput
	lvl := parseLevel(level)

	var zapLogger *zap.Logger
	var err error

	if jsonOutput {
		config := zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(lvl)
		zapLogger, err = config.Build()
	} else {
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapLogger = zap.New(
			zapcore.NewCore(
				zapcore.NewConsoleEncoder(encCfg),
				zapcore.AddSync(os.Stderr),
				lvl,
			),
		)
	}
	if err != nil {
		return err
	}

	Logger = zapLogger.Sugar()
	return nil
}

// Named returns a child logger tagged with a component name.
func Named(component string) *zap.SugaredLogger {
	return Logger.With(FieldComponent, component)
}

// Sync flushes buffered entries; errors from syncing stderr are ignored.
func Sync() {
	_ = Logger.Sync()
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zap.DebugLevel
	case "warn", "warning":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}
