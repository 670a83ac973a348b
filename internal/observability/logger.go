// Package observability constructs the process-wide structured logger.
//
// s3glob logs to stderr so stdout stays reserved for ls/dl data output
// (spec §6). Output is console-encoded for a human at a TTY and JSON-encoded
// otherwise, optionally duplicated to a rotated file via lumberjack.
package observability

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// CLILogger is the process-wide logger, replaced by Init during the root
// command's PersistentPreRunE. It defaults to a no-op logger so packages
// that log before Init runs (e.g. in tests) don't panic.
var CLILogger = zap.NewNop()

// Options configures Init.
type Options struct {
	// Verbosity is the repeated -v count: 0=warn, 1=info, 2+=debug. No
	// verbosity level enables AWS SDK wire logging.
	Verbosity int

	// LogFile, if non-empty, duplicates JSON-encoded logs to a rotated file
	// (10MB/3 backups/28 days).
	LogFile string

	// LogLevel, if non-empty, is an explicit "debug"/"info"/"warn"/"error"
	// level (the --log-level flag) that overrides the level Verbosity would
	// otherwise derive.
	LogLevel string
}

// Init builds and installs CLILogger, returning it for convenience.
func Init(opts Options) (*zap.Logger, error) {
	level := levelFor(opts.Verbosity)
	if opts.LogLevel != "" {
		parsed, err := ParseLevel(opts.LogLevel)
		if err != nil {
			return nil, err
		}
		level = parsed
	}

	var cores []zapcore.Core

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	if isatty.IsTerminal(os.Stderr.Fd()) && opts.LogFile == "" {
		consoleCfg := zap.NewDevelopmentEncoderConfig()
		consoleCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(consoleCfg),
			zapcore.Lock(os.Stderr),
			level,
		))
	} else {
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderCfg),
			zapcore.Lock(os.Stderr),
			level,
		))
	}

	if opts.LogFile != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderCfg),
			zapcore.AddSync(rotator),
			level,
		))
	}

	logger := zap.New(zapcore.NewTee(cores...))
	CLILogger = logger
	return logger, nil
}

// levelFor maps -v/-vv/-vvv onto a zap level (spec SPEC_FULL.md §6).
func levelFor(verbosity int) zapcore.Level {
	switch {
	case verbosity <= 0:
		return zapcore.WarnLevel
	case verbosity == 1:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

// ParseLevel maps a --log-level flag value onto a zap level, for callers
// that set an explicit level instead of (or in addition to) -v counting.
func ParseLevel(s string) (zapcore.Level, error) {
	var lvl zapcore.Level
	if err := lvl.Set(s); err != nil {
		return lvl, fmt.Errorf("observability: invalid log level %q: %w", s, err)
	}
	return lvl, nil
}
