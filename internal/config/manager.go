package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Manager owns the live configuration: it loads it, saves it and reloads
// it when the file changes.
type Manager struct {
	logger     *zap.Logger
	configPath string

	config   *Config
	configMu sync.RWMutex

	validator *Validator
	envLoader *EnvLoader
	watcher   *ConfigWatcher

	onChangeCallbacks []func(*Config)
}

// NewManager creates a manager and performs the initial load. A missing
// file is not an error: defaults and environment overrides apply.
func NewManager(logger *zap.Logger, configPath string) (*Manager, error) {
	m := &Manager{
		logger:     logger.Named("config"),
		configPath: configPath,
		validator:  NewValidator(),
		envLoader:  NewEnvLoader(EnvPrefix),
	}

	if err := m.Load(); err != nil {
		return nil, fmt.Errorf("initial config load failed: %w", err)
	}

	return m, nil
}

// Load reads the file over the defaults, applies environment overrides and
// validates the result. The live configuration only changes on success.
func (m *Manager) Load() error {
	cfg := DefaultConfig()

	data, err := os.ReadFile(m.configPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		m.logger.Debug("Config file not found, using defaults", zap.String("path", m.configPath))
	case err != nil:
		return fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	if err := m.envLoader.Load(cfg); err != nil {
		return fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := m.validator.Validate(cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	m.configMu.Lock()
	m.config = cfg
	callbacks := append([]func(*Config){}, m.onChangeCallbacks...)
	m.configMu.Unlock()

	for _, callback := range callbacks {
		callback(cfg.clone())
	}

	m.logger.Info("Configuration loaded", zap.String("path", m.configPath))
	return nil
}

// Save writes the current configuration to the file.
func (m *Manager) Save() error {
	m.configMu.RLock()
	data, err := yaml.Marshal(m.config)
	m.configMu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(m.configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// The secret may be in here, so the file is private.
	tempFile := m.configPath + ".tmp"
	if err := os.WriteFile(tempFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write to temporary config file: %w", err)
	}
	if err := os.Rename(tempFile, m.configPath); err != nil {
		return fmt.Errorf("failed to rename temp config file: %w", err)
	}

	m.logger.Info("Configuration saved", zap.String("path", m.configPath))
	return nil
}

// Get returns a copy of the current configuration.
func (m *Manager) Get() *Config {
	m.configMu.RLock()
	defer m.configMu.RUnlock()
	return m.config.clone()
}

// Path returns the file the manager reads.
func (m *Manager) Path() string { return m.configPath }

// OnChange registers a callback run synchronously after every successful
// load, including reloads triggered by the watcher.
func (m *Manager) OnChange(callback func(*Config)) {
	m.configMu.Lock()
	defer m.configMu.Unlock()
	m.onChangeCallbacks = append(m.onChangeCallbacks, callback)
}

// StartWatcher reloads the configuration whenever the file changes. A
// reload that fails validation is logged and the previous configuration
// stays live.
func (m *Manager) StartWatcher() error {
	var err error
	m.watcher, err = NewConfigWatcher(m.logger, m.configPath)
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}

	return m.watcher.Start(func() {
		if err := m.Load(); err != nil {
			m.logger.Error("Failed to hot-reload configuration", zap.Error(err))
		}
	})
}

// StopWatcher stops the file watcher.
func (m *Manager) StopWatcher() {
	if m.watcher != nil {
		m.watcher.Stop()
	}
}
