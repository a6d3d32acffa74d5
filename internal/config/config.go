// Package config loads orchestrator configuration from a YAML file,
// DRAGONSCALE_* environment variables and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	dragonscale "github.com/ZanzyTHEbar/dragonscale-orchestrator"
)

const EnvPrefix = "DRAGONSCALE"

// Memory backends.
const (
	MemorySQLite = "sqlite"
	MemoryInMem  = "memory"
	MemoryNone   = "none"
)

// Config holds all configuration for the orchestrator.
type Config struct {
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	Classifier   ClassifierConfig   `mapstructure:"classifier"`
	Synthesizer  SynthesizerConfig  `mapstructure:"synthesizer"`
	LLM          LLMConfig          `mapstructure:"llm"`
	Memory       MemoryConfig       `mapstructure:"memory"`
	Catalog      CatalogConfig      `mapstructure:"catalog"`
	Log          LogConfig          `mapstructure:"log"`
}

// OrchestratorConfig holds request-level settings.
type OrchestratorConfig struct {
	// RequestTimeout bounds a whole request; zero means no bound.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// SynthesisTimeout bounds synthesis, which runs detached from request cancellation.
	SynthesisTimeout time.Duration `mapstructure:"synthesis_timeout"`
	MemoryLimit      int           `mapstructure:"memory_limit"`
}

// SchedulerConfig holds step execution settings.
type SchedulerConfig struct {
	StepTimeout time.Duration `mapstructure:"step_timeout"`
	MaxInFlight int           `mapstructure:"max_in_flight"`
}

// ClassifierConfig holds classification settings.
type ClassifierConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	// CachePath persists the classification cache as JSON when set.
	CachePath string `mapstructure:"cache_path"`
}

// SynthesizerConfig holds synthesis settings.
type SynthesizerConfig struct {
	// UseLLM routes synthesis through the generation flow instead of the template.
	UseLLM bool `mapstructure:"use_llm"`
}

// LLMConfig holds generation backend settings.
type LLMConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Model      string `mapstructure:"model"`
	APIKey     string `mapstructure:"api_key"`
	UseBedrock bool   `mapstructure:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
	MaxTokens  int64  `mapstructure:"max_tokens"`
	BaseURL    string `mapstructure:"base_url"`
}

// MemoryConfig holds memory store settings.
type MemoryConfig struct {
	Backend string        `mapstructure:"backend"`
	Path    string        `mapstructure:"path"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// CatalogConfig points at an optional YAML route catalog.
type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads configuration. An explicit path must exist; otherwise the user
// config directory and the working directory are searched and a missing file
// is not an error.
func Load(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, dragonscale.NewConfigurationError(fmt.Sprintf("reading config from %s", path), err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(UserConfigDir())
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, dragonscale.NewConfigurationError("reading user config", err)
			}
			if _, statErr := os.Stat("dragonscale.yaml"); statErr == nil {
				v.SetConfigFile("dragonscale.yaml")
				if err := v.ReadInConfig(); err != nil {
					return nil, dragonscale.NewConfigurationError("reading dragonscale.yaml", err)
				}
			}
		}
	}

	return decode(v)
}

// LoadFromPath loads configuration from a specific file.
func LoadFromPath(path string) (*Config, error) {
	if path == "" {
		return nil, dragonscale.NewConfigurationError("config path is empty", nil)
	}
	return Load(path)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("llm.api_key", EnvPrefix+"_LLM_API_KEY", "ANTHROPIC_API_KEY")
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, dragonscale.NewConfigurationError("unmarshaling config", err)
	}
	cfg.LLM.APIKey = os.ExpandEnv(cfg.LLM.APIKey)
	cfg.Memory.Path = os.ExpandEnv(cfg.Memory.Path)
	cfg.Catalog.Path = os.ExpandEnv(cfg.Catalog.Path)
	cfg.Classifier.CachePath = os.ExpandEnv(cfg.Classifier.CachePath)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("orchestrator.request_timeout", d.Orchestrator.RequestTimeout.String())
	v.SetDefault("orchestrator.synthesis_timeout", d.Orchestrator.SynthesisTimeout.String())
	v.SetDefault("orchestrator.memory_limit", d.Orchestrator.MemoryLimit)

	v.SetDefault("scheduler.step_timeout", d.Scheduler.StepTimeout.String())
	v.SetDefault("scheduler.max_in_flight", d.Scheduler.MaxInFlight)

	v.SetDefault("classifier.cache_ttl", d.Classifier.CacheTTL.String())
	v.SetDefault("classifier.cache_path", "")

	v.SetDefault("synthesizer.use_llm", d.Synthesizer.UseLLM)

	v.SetDefault("llm.enabled", d.LLM.Enabled)
	v.SetDefault("llm.model", d.LLM.Model)
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.use_bedrock", false)
	v.SetDefault("llm.aws_region", "")
	v.SetDefault("llm.aws_profile", "")
	v.SetDefault("llm.max_tokens", d.LLM.MaxTokens)
	v.SetDefault("llm.base_url", "")

	v.SetDefault("memory.backend", d.Memory.Backend)
	v.SetDefault("memory.path", "")
	v.SetDefault("memory.timeout", d.Memory.Timeout.String())

	v.SetDefault("catalog.path", "")

	v.SetDefault("log.level", d.Log.Level)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Orchestrator: OrchestratorConfig{
			SynthesisTimeout: 20 * time.Second,
			MemoryLimit:      5,
		},
		Scheduler: SchedulerConfig{
			StepTimeout: 30 * time.Second,
			MaxInFlight: 8,
		},
		Classifier: ClassifierConfig{
			CacheTTL: 10 * time.Minute,
		},
		Synthesizer: SynthesizerConfig{
			UseLLM: true,
		},
		LLM: LLMConfig{
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 1024,
		},
		Memory: MemoryConfig{
			Backend: MemorySQLite,
			Timeout: 2 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Orchestrator.RequestTimeout < 0:
		return dragonscale.NewConfigurationError("orchestrator.request_timeout must not be negative", nil)
	case c.Orchestrator.SynthesisTimeout <= 0:
		return dragonscale.NewConfigurationError("orchestrator.synthesis_timeout must be positive", nil)
	case c.Orchestrator.MemoryLimit < 0:
		return dragonscale.NewConfigurationError("orchestrator.memory_limit must not be negative", nil)
	case c.Scheduler.StepTimeout <= 0:
		return dragonscale.NewConfigurationError("scheduler.step_timeout must be positive", nil)
	case c.Scheduler.MaxInFlight <= 0:
		return dragonscale.NewConfigurationError("scheduler.max_in_flight must be positive", nil)
	case c.Classifier.CacheTTL <= 0:
		return dragonscale.NewConfigurationError("classifier.cache_ttl must be positive", nil)
	case c.Memory.Timeout <= 0:
		return dragonscale.NewConfigurationError("memory.timeout must be positive", nil)
	case c.LLM.MaxTokens <= 0:
		return dragonscale.NewConfigurationError("llm.max_tokens must be positive", nil)
	}

	switch c.Memory.Backend {
	case MemorySQLite, MemoryInMem, MemoryNone:
	default:
		return dragonscale.NewConfigurationError(fmt.Sprintf("memory.backend %q is not one of sqlite, memory, none", c.Memory.Backend), nil)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return dragonscale.NewConfigurationError(fmt.Sprintf("log.level %q is not recognized", c.Log.Level), nil)
	}
	return nil
}

// UserConfigDir returns the XDG config directory for dragonscale.
func UserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dragonscale")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "dragonscale")
	}
	return filepath.Join(home, ".config", "dragonscale")
}
