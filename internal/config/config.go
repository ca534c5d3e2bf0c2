package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"github.com/jackzampolin/docex/internal/providers"
)

// EnvPrefix prefixes environment overrides, e.g. DOCEX_PIPELINE_JSON_MODE.
const EnvPrefix = "DOCEX"

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	v *viper.Viper

	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)
	onError   func(error)
}

// NewManager creates a new config manager and loads initial config.
// cfgFile may be empty, in which case ./config.yaml and then
// <homeDir>/config.yaml are searched. A missing file is not an error.
func NewManager(cfgFile, homeDir string) (*Manager, error) {
	cm := &Manager{
		v:         viper.New(),
		callbacks: make([]func(*Config), 0),
	}

	if err := cm.initViper(cfgFile, homeDir); err != nil {
		return nil, err
	}

	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg

	return cm, nil
}

// initViper sets up viper with defaults and config file.
func (cm *Manager) initViper(cfgFile, homeDir string) error {
	v := cm.v
	defaults := DefaultConfig()
	v.SetDefault("llm_providers", defaults.LLMProviders)
	v.SetDefault("ocr_providers", defaults.OCRProviders)

	// Leaf defaults so each key can be overridden from the environment.
	setLeafDefaults(v, "pipeline", defaults.Pipeline)
	setLeafDefaults(v, "schema", defaults.Schema)
	setLeafDefaults(v, "document", defaults.Document)
	setLeafDefaults(v, "eval", defaults.Eval)

	// Environment variables with DOCEX_ prefix
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if homeDir != "" {
			v.AddConfigPath(homeDir)
		}
	}

	// Try to read config file (not required)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// setLeafDefaults registers section.key defaults from a struct's yaml tags.
func setLeafDefaults(v *viper.Viper, section string, value any) {
	raw, err := yaml.Marshal(value)
	if err != nil {
		return
	}
	var leaves yaml.MapSlice
	if err := yaml.Unmarshal(raw, &leaves); err != nil {
		return
	}
	for _, item := range leaves {
		v.SetDefault(fmt.Sprintf("%s.%v", section, item.Key), item.Value)
	}
}

// load parses the current viper state into a Config struct.
func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := cm.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Get returns the current configuration (thread-safe).
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// ConfigFileUsed returns the config file that was read, or "" if none.
func (cm *Manager) ConfigFileUsed() string {
	return cm.v.ConfigFileUsed()
}

// OnChange registers a callback for config changes.
func (cm *Manager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// OnError registers a callback for reloads that fail to parse. The previous
// config stays in effect.
func (cm *Manager) OnError(fn func(error)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.onError = fn
}

// WatchConfig enables hot-reloading of configuration.
func (cm *Manager) WatchConfig() {
	cm.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := cm.load()
		if err != nil {
			cm.mu.RLock()
			onError := cm.onError
			cm.mu.RUnlock()
			if onError != nil {
				onError(err)
			}
			return
		}

		cm.mu.Lock()
		cm.config = cfg
		callbacks := make([]func(*Config), len(cm.callbacks))
		copy(callbacks, cm.callbacks)
		cm.mu.Unlock()

		for _, fn := range callbacks {
			fn(cfg)
		}
	})
	cm.v.WatchConfig()
}

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	return envVarPattern.ReplaceAllStringFunc(value, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// ToProviderRegistryConfig converts the config to a format suitable for providers.Registry.
// It resolves all ${ENV_VAR} references in API keys.
func (c *Config) ToProviderRegistryConfig() providers.RegistryConfig {
	cfg := providers.RegistryConfig{
		OCRProviders: make(map[string]providers.OCRProviderConfig),
		LLMProviders: make(map[string]providers.LLMProviderConfig),
	}

	for name, ocr := range c.OCRProviders {
		cfg.OCRProviders[name] = providers.OCRProviderConfig{
			Type:    ocr.Type,
			Model:   ocr.Model,
			APIKey:  ResolveEnvVars(ocr.APIKey),
			BaseURL: ocr.BaseURL,
			Timeout: timeout(ocr.TimeoutSeconds),
			Enabled: ocr.Enabled,
		}
	}

	for name, llm := range c.LLMProviders {
		cfg.LLMProviders[name] = providers.LLMProviderConfig{
			Type:    llm.Type,
			Model:   llm.Model,
			APIKey:  ResolveEnvVars(llm.APIKey),
			BaseURL: llm.BaseURL,
			Timeout: timeout(llm.TimeoutSeconds),
			Enabled: llm.Enabled,
		}
	}

	return cfg
}

// SchemaPath returns the schema document to use: the configured override,
// else the home schema file if it exists, else "" for the built-in document.
func (c *Config) SchemaPath(homeSchema string) string {
	if c.Schema.Path != "" {
		return c.Schema.Path
	}
	if homeSchema != "" {
		if _, err := os.Stat(homeSchema); err == nil {
			return homeSchema
		}
	}
	return ""
}

// WriteDefault writes the default configuration to the specified path.
func WriteDefault(path string) error {
	cfg := DefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# docex configuration
# API keys use ${ENV_VAR} syntax to reference environment variables
# Set these in your shell: export OPENAI_API_KEY=xxx GEMINI_API_KEY=xxx MISTRAL_API_KEY=xxx

`)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	return os.WriteFile(path, append(header, data...), 0o644)
}
