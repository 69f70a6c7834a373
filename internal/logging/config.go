package logging

import (
	"go.uber.org/zap/zapcore"
)

// Config defines all settings for logging.
type Config struct {
	// Level is the minimum log level that will be captured.
	Level string `yaml:"level" json:"level" validate:"omitempty,oneof=debug info warn error dpanic panic fatal"`

	// Format specifies the log output format. Can be "json" or "console".
	Format string `yaml:"format" json:"format" validate:"omitempty,oneof=json console"`

	// OutputPath is "stdout", "stderr", or a file path. Files are rotated.
	OutputPath string `yaml:"output_path" json:"output_path"`

	// Rotation applies when OutputPath is a file.
	Rotation RotationConfig `yaml:"rotation" json:"rotation"`

	// ModuleLevels overrides Level for named loggers, e.g. "market".
	ModuleLevels map[string]string `yaml:"module_levels" json:"module_levels"`

	EnableCaller bool `yaml:"enable_caller" json:"enable_caller"`

	// Development enables colored console output and DPanic panics.
	Development bool `yaml:"development" json:"development"`

	// Sampling configures log sampling to reduce log volume.
	Sampling *SamplingConfig `yaml:"sampling" json:"sampling"`

	// InitialFields are added to every entry.
	InitialFields map[string]interface{} `yaml:"initial_fields" json:"initial_fields"`
}

// RotationConfig defines the settings for log file rotation.
type RotationConfig struct {
	MaxSize    int  `yaml:"max_size_mb" json:"max_size_mb" validate:"gte=0"`
	MaxAge     int  `yaml:"max_age_days" json:"max_age_days" validate:"gte=0"`
	MaxBackups int  `yaml:"max_backups" json:"max_backups" validate:"gte=0"`
	Compress   bool `yaml:"compress" json:"compress"`
}

// SamplingConfig defines the settings for log sampling.
type SamplingConfig struct {
	Enabled    bool `yaml:"enabled" json:"enabled"`
	Initial    int  `yaml:"initial" json:"initial"`
	Thereafter int  `yaml:"thereafter" json:"thereafter"`
}

// DefaultConfig returns a new Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		Level:      "info",
		Format:     "json",
		OutputPath: "stdout",
		Rotation: RotationConfig{
			MaxSize:    100,
			MaxAge:     30,
			MaxBackups: 10,
			Compress:   true,
		},
		ModuleLevels: make(map[string]string),
		EnableCaller: true,
		Sampling: &SamplingConfig{
			Enabled:    false,
			Initial:    100,
			Thereafter: 100,
		},
		InitialFields: map[string]interface{}{
			"service": "curvedex",
		},
	}
}

// buildEncoderConfig creates a zapcore.EncoderConfig from the logger config.
func (c *Config) buildEncoderConfig() zapcore.EncoderConfig {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stack",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	if c.Development {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	if !c.EnableCaller {
		encoderConfig.CallerKey = zapcore.OmitKey
	}

	return encoderConfig
}
