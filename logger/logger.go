package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Logger is the process-wide logger. Library code takes an injected
	// logger instead; this one is for the CLI and ComponentLogger.
	Logger *zap.SugaredLogger

	// JSONOutput reports whether Initialize selected the JSON encoder
	JSONOutput bool

	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

func init() {
	Logger = zap.NewNop().Sugar()
}

// Initialize sets up the global logger at Info level.
func Initialize(jsonOutput bool) error {
	return InitializeWithLevel(jsonOutput, zapcore.InfoLevel)
}

// InitializeWithLevel replaces the global logger. JSON goes to stdout for
// log shippers; console output goes to stderr so command output on stdout
// stays machine readable.
func InitializeWithLevel(jsonOutput bool, lvl zapcore.Level) error {
	JSONOutput = jsonOutput
	level.SetLevel(lvl)

	if theme := os.Getenv("CROPLINK_LOG_THEME"); theme != "" {
		SetTheme(theme)
	}

	if jsonOutput {
		cfg := zap.NewProductionConfig()
		cfg.Level = level
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		zl, err := cfg.Build()
		if err != nil {
			return err
		}
		Logger = zl.Sugar()
		return nil
	}

	core := zapcore.NewCore(newMinimalEncoder(), zapcore.Lock(os.Stderr), level)
	Logger = zap.New(core).Sugar()
	return nil
}

// SetLevel changes the level of the global logger and every logger derived
// from it.
func SetLevel(lvl zapcore.Level) {
	level.SetLevel(lvl)
}

// Cleanup flushes any buffered log entries
func Cleanup() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}
