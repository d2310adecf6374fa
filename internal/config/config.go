package config

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bryanchriswhite/garp/internal/logger"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. GARP_CAPTURE_BACKEND.
const EnvPrefix = "GARP"

// Config represents the application configuration
type Config struct {
	Host      string        `json:"host" yaml:"host" mapstructure:"host"`
	Port      string        `json:"port" yaml:"port" mapstructure:"port"`
	LocalOnly bool          `json:"local_only" yaml:"local_only" mapstructure:"local_only"`
	LogLevel  string        `json:"log_level" yaml:"log_level" mapstructure:"log_level"`
	LogPretty bool          `json:"log_pretty" yaml:"log_pretty" mapstructure:"log_pretty"`
	Capture   CaptureConfig `json:"capture" yaml:"capture" mapstructure:"capture"`
}

// CaptureConfig selects the backend and tunes the capture session.
type CaptureConfig struct {
	Backend        string        `json:"backend" yaml:"backend" mapstructure:"backend"`
	OutputIndex    int           `json:"output_index" yaml:"output_index" mapstructure:"output_index"`
	AcquireTimeout time.Duration `json:"acquire_timeout" yaml:"acquire_timeout" mapstructure:"acquire_timeout"`
	ProbeTimeout   time.Duration `json:"probe_timeout" yaml:"probe_timeout" mapstructure:"probe_timeout"`
	PollInterval   time.Duration `json:"poll_interval" yaml:"poll_interval" mapstructure:"poll_interval"`
	Display        string        `json:"display" yaml:"display" mapstructure:"display"`
	FPS            int           `json:"fps" yaml:"fps" mapstructure:"fps"`
	Retry          RetryConfig   `json:"retry" yaml:"retry" mapstructure:"retry"`
}

// RetryConfig bounds output duplication retries.
type RetryConfig struct {
	Attempts int           `json:"attempts" yaml:"attempts" mapstructure:"attempts"`
	Backoff  time.Duration `json:"backoff" yaml:"backoff" mapstructure:"backoff"`
}

// defaults are kept as strings so a saved file reads "200ms" rather than nanoseconds.
var defaults = map[string]any{
	"host":                    "localhost",
	"port":                    "8080",
	"local_only":              true,
	"log_level":               "info",
	"log_pretty":              false,
	"capture.backend":         "auto",
	"capture.output_index":    0,
	"capture.acquire_timeout": "200ms",
	"capture.probe_timeout":   "35ms",
	"capture.poll_interval":   "1ms",
	"capture.display":         "",
	"capture.fps":             30,
	"capture.retry.attempts":  10,
	"capture.retry.backoff":   "100ms",
}

// Keys lists every settable configuration key in sorted order.
func Keys() []string {
	return slices.Sorted(maps.Keys(defaults))
}

// Default returns the built-in value of key.
func Default(key string) (any, bool) {
	v, ok := defaults[key]
	return v, ok
}

// Manager handles configuration
type Manager struct {
	configPath string
	v          *viper.Viper

	mu       sync.RWMutex
	config   *Config
	watchers []func(*Config)
}

// DefaultPath returns $HOME/.config/garp/config.yaml.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "garp", "config.yaml"), nil
}

// NewManager loads configFile, or the default path when it is empty. A
// missing file is created with defaults.
func NewManager(configFile string) (*Manager, error) {
	log := logger.WithComponent("config")

	path := configFile
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	m := &Manager{configPath: path, v: v}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		log.Info().
			Str("path", path).
			Msg("Config file not found, creating new config")
		if err := m.Save(); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	} else if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := m.reload(); err != nil {
		return nil, err
	}

	cfg := m.Get()
	log.Info().
		Str("path", path).
		Str("backend", cfg.Capture.Backend).
		Int("output", cfg.Capture.OutputIndex).
		Msg("Config loaded")
	return m, nil
}

// reload decodes the viper state into a validated Config.
func (m *Manager) reload() error {
	var cfg Config
	if err := m.v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return err
	}

	m.mu.Lock()
	m.config = &cfg
	m.mu.Unlock()
	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg := *m.config
	return &cfg
}

// GetViper exposes the underlying viper instance for key-based access.
func (m *Manager) GetViper() *viper.Viper {
	return m.v
}

// GetConfigPath returns the config file path
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// Set changes key in memory and revalidates. The previous value is restored
// if the result is invalid. Call Save to persist.
func (m *Manager) Set(key string, value any) error {
	prev := m.v.Get(key)
	m.v.Set(key, value)
	if err := m.reload(); err != nil {
		m.v.Set(key, prev)
		return err
	}
	return nil
}

// Settings returns every key with its effective value, nested by section.
func (m *Manager) Settings() map[string]any {
	return m.v.AllSettings()
}

// Save writes the current settings to the config file
func (m *Manager) Save() error {
	log := logger.WithComponent("config")

	log.Debug().
		Str("path", m.configPath).
		Msg("Saving config")

	if err := os.MkdirAll(filepath.Dir(m.configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(m.v.AllSettings())
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		log.Error().
			Err(err).
			Str("path", m.configPath).
			Msg("Failed to write config")
		return err
	}

	log.Info().
		Str("path", m.configPath).
		Msg("Config saved successfully")
	return nil
}

// OnChange registers fn to run with the new config after the file changes.
func (m *Manager) OnChange(fn func(*Config)) {
	m.mu.Lock()
	m.watchers = append(m.watchers, fn)
	m.mu.Unlock()
}

// Watch starts watching the config file. Invalid edits are logged and ignored.
func (m *Manager) Watch() {
	log := logger.WithComponent("config")

	m.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		if err := m.reload(); err != nil {
			log.Warn().Err(err).Str("path", e.Name).Msg("Ignoring invalid config change")
			return
		}
		log.Info().Str("path", e.Name).Msg("Config reloaded")

		cfg := m.Get()
		m.mu.RLock()
		watchers := append([]func(*Config){}, m.watchers...)
		m.mu.RUnlock()
		for _, fn := range watchers {
			fn(cfg)
		}
	})
	m.v.WatchConfig()
}
