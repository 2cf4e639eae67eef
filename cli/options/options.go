/*
Package options contains the CLI options shared between mx subcommands
and helper functions to use them.
*/
package options

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mxhub/mx/pkg/config"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// MXName is the flag selecting the exchange name.
var MXName = &cli.StringFlag{
	Name:    "mx-name",
	Aliases: []string{"n"},
	Usage:   "Use this MX name",
}

// MXHost is the flag selecting the master's host.
var MXHost = &cli.StringFlag{
	Name:    "mx-host",
	Aliases: []string{"h"},
	Usage:   "Use this MX host",
}

// ConfigFile is the flag pointing at a yaml configuration file.
var ConfigFile = &cli.StringFlag{
	Name:    "config-file",
	Aliases: []string{"c"},
	Usage:   "Path to the mx configuration file",
}

// Debug turns debug logging on.
var Debug = &cli.BoolFlag{
	Name:  "debug",
	Usage: "Enable debug logging (precedence over the config setting)",
}

// LoadConfig loads the configuration file named by the config-file
// flag, or returns an empty Config when the flag is absent.
func LoadConfig(ctx *cli.Context) (config.Config, error) {
	path := ctx.String("config-file")
	if path == "" {
		return config.Config{}, nil
	}
	return config.LoadFile(path)
}

// HandleLoggingParams reads logging parameters from the config and
// returns a ready zap.Logger plus a closing function for its sink.
func HandleLoggingParams(ctx *cli.Context, cfg config.Logger) (*zap.Logger, func() error, error) {
	var (
		level    = zapcore.InfoLevel
		encoding = "console"
		err      error
	)
	if len(cfg.LogLevel) > 0 {
		level, err = zapcore.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, nil, fmt.Errorf("log setting: %w", err)
		}
	}
	if len(cfg.LogEncoding) > 0 {
		encoding = cfg.LogEncoding
	}
	if ctx != nil && ctx.Bool("debug") {
		level = zapcore.DebugLevel
	}

	cc := zap.NewProductionConfig()
	cc.DisableCaller = true
	cc.DisableStacktrace = true
	cc.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	cc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cc.EncoderConfig.EncodeTime = func(t time.Time, encoder zapcore.PrimitiveArrayEncoder) {
		encoder.AppendString(t.Format(time.RFC3339))
	}
	cc.Encoding = encoding
	cc.Level = zap.NewAtomicLevelAt(level)
	cc.Sampling = nil
	cc.ErrorOutputPaths = []string{"stderr"}
	cc.OutputPaths = []string{"stderr"}
	if cfg.LogPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogPath), 0755); err != nil {
			return nil, nil, fmt.Errorf("log path: %w", err)
		}
		cc.OutputPaths = []string{cfg.LogPath}
	}

	log, err := cc.Build()
	if err != nil {
		return nil, nil, err
	}
	return log, func() error {
		// Sync on stderr gives ENOTTY on some platforms, ignore it.
		_ = log.Sync()
		return nil
	}, nil
}
