// Package logging builds the zap loggers used across the service.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LoggerFactory owns the root logger and hands out named module loggers.
// The root level can be changed at runtime, e.g. after a config reload.
type LoggerFactory struct {
	config     *Config
	level      zap.AtomicLevel
	writer     zapcore.WriteSyncer
	rootLogger *zap.Logger

	loggers   map[string]*zap.Logger
	loggersMu sync.RWMutex
}

// NewLoggerFactory creates a new logger factory
func NewLoggerFactory(config *Config) (*LoggerFactory, error) {
	if config == nil {
		config = DefaultConfig()
	}

	level, err := zapcore.ParseLevel(orDefault(config.Level, "info"))
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	writer, err := buildWriter(config)
	if err != nil {
		return nil, err
	}

	f := &LoggerFactory{
		config:  config,
		level:   zap.NewAtomicLevelAt(level),
		writer:  writer,
		loggers: make(map[string]*zap.Logger),
	}
	f.rootLogger = zap.New(f.buildCore(f.level), buildOptions(config)...)
	return f, nil
}

// Logger returns the root logger.
func (f *LoggerFactory) Logger() *zap.Logger { return f.rootLogger }

// GetLogger returns a logger for the specified module
func (f *LoggerFactory) GetLogger(module string) *zap.Logger {
	f.loggersMu.RLock()
	if logger, exists := f.loggers[module]; exists {
		f.loggersMu.RUnlock()
		return logger
	}
	f.loggersMu.RUnlock()

	f.loggersMu.Lock()
	defer f.loggersMu.Unlock()

	if logger, exists := f.loggers[module]; exists {
		return logger
	}

	logger := f.rootLogger.Named(module)
	if levelStr, ok := f.config.ModuleLevels[module]; ok {
		if level, err := zapcore.ParseLevel(levelStr); err == nil {
			core := f.buildCore(level)
			logger = logger.WithOptions(zap.WrapCore(func(zapcore.Core) zapcore.Core {
				return core
			}))
		}
	}

	f.loggers[module] = logger
	return logger
}

// SetLevel changes the root level. Module overrides are unaffected.
func (f *LoggerFactory) SetLevel(level string) error {
	l, err := zapcore.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	f.level.SetLevel(l)
	return nil
}

// Level returns the current root level.
func (f *LoggerFactory) Level() zapcore.Level { return f.level.Level() }

// Sync flushes buffered entries.
func (f *LoggerFactory) Sync() error {
	return f.rootLogger.Sync()
}

func (f *LoggerFactory) buildCore(level zapcore.LevelEnabler) zapcore.Core {
	encoderConfig := f.config.buildEncoderConfig()

	var encoder zapcore.Encoder
	if f.config.Format == "console" {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, f.writer, level)
	if s := f.config.Sampling; s != nil && s.Enabled {
		core = zapcore.NewSamplerWithOptions(core, time.Second, s.Initial, s.Thereafter)
	}
	return core
}

func buildWriter(config *Config) (zapcore.WriteSyncer, error) {
	switch path := orDefault(config.OutputPath, "stdout"); path {
	case "stdout":
		return zapcore.Lock(os.Stdout), nil
	case "stderr":
		return zapcore.Lock(os.Stderr), nil
	default:
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		return zapcore.AddSync(&lumberjack.Logger{
			Filename:   path,
			MaxSize:    config.Rotation.MaxSize,
			MaxBackups: config.Rotation.MaxBackups,
			MaxAge:     config.Rotation.MaxAge,
			Compress:   config.Rotation.Compress,
		}), nil
	}
}

func buildOptions(config *Config) []zap.Option {
	options := []zap.Option{zap.AddStacktrace(zapcore.ErrorLevel)}

	if config.EnableCaller {
		options = append(options, zap.AddCaller())
	}
	if config.Development {
		options = append(options, zap.Development())
	}

	if len(config.InitialFields) > 0 {
		fields := make([]zap.Field, 0, len(config.InitialFields))
		for k, v := range config.InitialFields {
			fields = append(fields, zap.Any(k, v))
		}
		options = append(options, zap.Fields(fields...))
	}

	return options
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// WithRequestID adds request tracking
func WithRequestID(logger *zap.Logger, requestID string) *zap.Logger {
	return logger.With(zap.String("request_id", requestID))
}

// LogIf logs only if error is not nil
func LogIf(logger *zap.Logger, err error, msg string, fields ...zap.Field) {
	if err != nil {
		logger.Error(msg, append(fields, zap.Error(err))...)
	}
}
