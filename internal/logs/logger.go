// Package logs configures the process-wide zap logger. Output always
// goes to stderr: stdout is the JSON-RPC wire to the host and must
// never carry a stray log line.
package logs

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level name constants accepted by DYNAMIC_MCP_LOG.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
	LevelOff   = "off"
)

// EnvVar is the environment variable that controls log verbosity.
// Unset or empty means LevelOff: the gateway is silent on stderr by
// default so it doesn't surprise a host that captures stderr.
const EnvVar = "DYNAMIC_MCP_LOG"

// New builds a logger from the process environment's DYNAMIC_MCP_LOG
// value. A nil *zap.Logger is never returned; at LevelOff the logger
// is a real zap.Logger wired to zapcore.NewNopCore so call sites don't
// need nil checks.
func New() (*zap.Logger, error) {
	return NewWithLevel(os.Getenv(EnvVar))
}

// NewWithLevel builds a logger at the given level name, bypassing the
// environment. New calls it with the DYNAMIC_MCP_LOG value; tests call
// it directly.
func NewWithLevel(levelName string) (*zap.Logger, error) {
	if levelName == "" {
		levelName = LevelOff
	}

	if levelName == LevelOff {
		return zap.New(zapcore.NewNopCore()), nil
	}

	level, err := parseLevel(levelName)
	if err != nil {
		return nil, err
	}

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(os.Stderr),
		level,
	)

	return zap.New(core, zap.AddCaller()), nil
}

func parseLevel(name string) (zapcore.Level, error) {
	switch name {
	case LevelDebug:
		return zap.DebugLevel, nil
	case LevelInfo:
		return zap.InfoLevel, nil
	case LevelWarn:
		return zap.WarnLevel, nil
	case LevelError:
		return zap.ErrorLevel, nil
	default:
		return 0, fmt.Errorf("unknown log level %q: want one of debug, info, warn, error, off", name)
	}
}
