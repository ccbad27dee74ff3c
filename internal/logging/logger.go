// Package logging provides zap logger helpers.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects the logger flavour and an optional rotating log file.
type Config struct {
	Development bool
	FilePath    string
	MaxSizeMB   int
	MaxBackups  int
	Compress    bool
}

// New builds a zap.Logger configured for development or production. When
// FilePath is set, entries are also written as JSON to a rotating file.
func New(cfg Config) (*zap.Logger, error) {
	var (
		zcfg zap.Config
		kind string
	)
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		kind = "dev"
	} else {
		zcfg = zap.NewProductionConfig()
		zcfg.DisableStacktrace = false
		kind = "prod"
	}
	zcfg.EncoderConfig.TimeKey = "ts"

	var opts []zap.Option
	if cfg.FilePath != "" {
		fileCore, err := newFileCore(cfg, zcfg.Level)
		if err != nil {
			return nil, err
		}
		opts = append(opts, zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return zapcore.NewTee(core, fileCore)
		}))
	}

	logger, err := zcfg.Build(opts...)
	if err != nil {
		return nil, fmt.Errorf("build %s logger: %w", kind, err)
	}
	return logger, nil
}

func newFileCore(cfg Config, level zap.AtomicLevel) (zapcore.Core, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	rotator := &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
		LocalTime:  true,
	}
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(rotator), level), nil
}
