// Package config loads codecontext settings from defaults, an optional
// .codecontext.yaml file, CODECONTEXT_* environment variables and flags.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/phobologic/codecontext/internal/lang"
)

// FileName is the config file looked up in the repository root.
const FileName = ".codecontext.yaml"

// EnvPrefix prefixes every environment override, e.g. CODECONTEXT_GITBINARY.
const EnvPrefix = "CODECONTEXT"

// Config is the resolved, read-only configuration.
type Config struct {
	RepoRoot           string        `mapstructure:"repoRoot" yaml:"repoRoot"`
	GitBinary          string        `mapstructure:"gitBinary" yaml:"gitBinary"`
	SupportedLanguages []string      `mapstructure:"supportedLanguages" yaml:"supportedLanguages"`
	CommandTimeout     time.Duration `mapstructure:"commandTimeout" yaml:"commandTimeout"`
	MaxFileSize        int64         `mapstructure:"maxFileSize" yaml:"maxFileSize"`
	Cache              CacheConfig   `mapstructure:"cache" yaml:"cache"`
	Logging            LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// CacheConfig bounds each operation kind's cache independently.
type CacheConfig struct {
	Commits     int `mapstructure:"commits" yaml:"commits"`
	Containment int `mapstructure:"containment" yaml:"containment"`
	Diffs       int `mapstructure:"diffs" yaml:"diffs"`
	Files       int `mapstructure:"files" yaml:"files"`
	Blobs       int `mapstructure:"blobs" yaml:"blobs"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *Config {
	return &Config{
		RepoRoot:           ".",
		GitBinary:          "git",
		SupportedLanguages: []string{"python", "go", "ruby"},
		CommandTimeout:     30 * time.Second,
		MaxFileSize:        1_000_000,
		Cache: CacheConfig{
			Commits:     256,
			Containment: 1024,
			Diffs:       128,
			Files:       64,
			Blobs:       256,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load resolves configuration. configPath may be empty, in which case
// .codecontext.yaml in repoRoot is used when present. Values already set on
// v (e.g. bound flags) take precedence over the file.
func Load(v *viper.Viper, repoRoot, configPath string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigType("yaml")
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
		v.AddConfigPath(repoRoot)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if repoRoot != "" && !v.IsSet("repoRoot") {
		cfg.RepoRoot = repoRoot
	}

	root, err := filepath.Abs(cfg.RepoRoot)
	if err != nil {
		return nil, fmt.Errorf("resolving repo root: %w", err)
	}
	cfg.RepoRoot = root

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("gitBinary", d.GitBinary)
	v.SetDefault("supportedLanguages", d.SupportedLanguages)
	v.SetDefault("commandTimeout", d.CommandTimeout)
	v.SetDefault("maxFileSize", d.MaxFileSize)
	v.SetDefault("cache.commits", d.Cache.Commits)
	v.SetDefault("cache.containment", d.Cache.Containment)
	v.SetDefault("cache.diffs", d.Cache.Diffs)
	v.SetDefault("cache.files", d.Cache.Files)
	v.SetDefault("cache.blobs", d.Cache.Blobs)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.GitBinary) == "" {
		return &ConfigError{Field: "gitBinary", Message: "must not be empty"}
	}
	if c.CommandTimeout <= 0 {
		return &ConfigError{Field: "commandTimeout", Message: "must be positive"}
	}
	if c.MaxFileSize <= 0 {
		return &ConfigError{Field: "maxFileSize", Message: "must be positive"}
	}
	if len(c.SupportedLanguages) == 0 {
		return &ConfigError{Field: "supportedLanguages", Message: "at least one language is required"}
	}
	for _, name := range c.SupportedLanguages {
		if _, ok := lang.Languages[name]; !ok {
			return &ConfigError{Field: "supportedLanguages", Message: fmt.Sprintf("unsupported language %q", name)}
		}
	}
	capacities := map[string]int{
		"cache.commits":     c.Cache.Commits,
		"cache.containment": c.Cache.Containment,
		"cache.diffs":       c.Cache.Diffs,
		"cache.files":       c.Cache.Files,
		"cache.blobs":       c.Cache.Blobs,
	}
	for field, n := range capacities {
		if n <= 0 {
			return &ConfigError{Field: field, Message: "capacity must be positive"}
		}
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return &ConfigError{Field: "logging.level", Message: fmt.Sprintf("unknown level %q", c.Logging.Level)}
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return &ConfigError{Field: "logging.format", Message: fmt.Sprintf("unknown format %q", c.Logging.Format)}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
