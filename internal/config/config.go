package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/blackwell-systems/chatlens/internal/chats"
)

// Config is the top-level chatlens configuration. It is built once per
// process by Load and passed to every component constructor.
type Config struct {
	Database Database `mapstructure:"database" yaml:"database"`
	Table    Table    `mapstructure:"table" yaml:"table"`
	Analyze  Analyze  `mapstructure:"analyze" yaml:"analyze"`
	Judge    Judge    `mapstructure:"judge" yaml:"judge"`
	LLM      LLM      `mapstructure:"llm" yaml:"llm"`
	Output   Output   `mapstructure:"output" yaml:"output"`
	History  History  `mapstructure:"history" yaml:"history"`
}

// Database selects and configures the conversation store adapter.
type Database struct {
	// Kind is one of "postgres", "proxy" or "sqlite".
	Kind       string        `mapstructure:"kind" yaml:"kind"`
	URL        string        `mapstructure:"url" yaml:"url"`
	ProxyURL   string        `mapstructure:"proxy_url" yaml:"proxy_url"`
	ProxyToken string        `mapstructure:"proxy_token" yaml:"proxy_token"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// Table names the conversation table and its columns.
type Table struct {
	Name          string `mapstructure:"name" yaml:"name"`
	chats.Columns `mapstructure:",squash" yaml:",inline"`
}

// Analyze holds the options of the length analysis.
type Analyze struct {
	SampleSize        int  `mapstructure:"sample_size" yaml:"sample_size"`
	IncludeEmptyChats bool `mapstructure:"include_empty_chats" yaml:"include_empty_chats"`
}

// Judge holds the options of the feedback pipeline.
type Judge struct {
	Limit             int  `mapstructure:"limit" yaml:"limit"`
	IncludeEmptyChats bool `mapstructure:"include_empty_chats" yaml:"include_empty_chats"`
}

// LLM configures the language-model client.
type LLM struct {
	BaseURL           string        `mapstructure:"base_url" yaml:"base_url"`
	APIKey            string        `mapstructure:"api_key" yaml:"api_key"`
	Model             string        `mapstructure:"model" yaml:"model"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxRetries        int           `mapstructure:"max_retries" yaml:"max_retries"`
	Concurrency       int           `mapstructure:"concurrency" yaml:"concurrency"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
}

// Output defines output preferences.
type Output struct {
	Dir   string `mapstructure:"dir" yaml:"dir"`
	Color bool   `mapstructure:"color" yaml:"color"`
}

// History configures the local run history database.
type History struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// envAliases binds the variable names used by existing .env files.
var envAliases = map[string][]string{
	"database.url":         {"CHATLENS_DATABASE_URL", "CONNECTION_STRING"},
	"database.proxy_url":   {"CHATLENS_DATABASE_PROXY_URL", "SQL_PROXY_URL"},
	"database.proxy_token": {"CHATLENS_DATABASE_PROXY_TOKEN", "SQL_PROXY_TOKEN"},
	"llm.api_key":          {"CHATLENS_LLM_API_KEY", "OPENAI_KEY", "OPENAI_API_KEY"},
}

// expandPath replaces a leading ~ with the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// loadDotEnv populates the process environment from a .env file. Variables
// already set in the environment win; a missing file is not an error.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading %s: %w", path, err)
	}
	return nil
}

// Load reads configuration from the given path (or the default location)
// and returns a Config with all defaults applied.
func Load(cfgFile string) (*Config, error) {
	if err := loadDotEnv(DefaultEnvFile); err != nil {
		return nil, err
	}

	v := viper.New()

	// Set defaults.
	v.SetDefault("database.kind", "")
	v.SetDefault("database.url", DefaultDatabase.URL)
	v.SetDefault("database.proxy_url", "")
	v.SetDefault("database.proxy_token", "")
	v.SetDefault("database.timeout", DefaultDatabase.Timeout)
	v.SetDefault("table.name", DefaultTable.Name)
	v.SetDefault("table.id_column", DefaultTable.ID)
	v.SetDefault("table.messages_column", DefaultTable.Messages)
	v.SetDefault("table.count_column", DefaultTable.Count)
	v.SetDefault("table.category_column", DefaultTable.Category)
	v.SetDefault("analyze.sample_size", DefaultAnalyze.SampleSize)
	v.SetDefault("analyze.include_empty_chats", DefaultAnalyze.IncludeEmptyChats)
	v.SetDefault("judge.limit", DefaultJudge.Limit)
	v.SetDefault("judge.include_empty_chats", DefaultJudge.IncludeEmptyChats)
	v.SetDefault("llm.base_url", DefaultLLM.BaseURL)
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", DefaultLLM.Model)
	v.SetDefault("llm.timeout", DefaultLLM.Timeout)
	v.SetDefault("llm.max_retries", DefaultLLM.MaxRetries)
	v.SetDefault("llm.concurrency", DefaultLLM.Concurrency)
	v.SetDefault("llm.requests_per_minute", DefaultLLM.RequestsPerMinute)
	v.SetDefault("output.dir", DefaultOutput.Dir)
	v.SetDefault("output.color", DefaultOutput.Color)
	v.SetDefault("history.enabled", DefaultHistory.Enabled)
	v.SetDefault("history.path", "")

	v.SetEnvPrefix("CHATLENS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range envAliases {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, fmt.Errorf("binding %s: %w", key, err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(expandPath(cfgFile))
	} else {
		configDir := expandPath(DefaultConfigDir)
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	// Read config file if it exists; missing file is not an error.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if !os.IsNotExist(err) {
				return nil, err
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.Database.Kind == "" {
		cfg.Database.Kind = DefaultDatabase.Kind
		if cfg.Database.ProxyURL != "" {
			cfg.Database.Kind = "proxy"
		}
	}

	cfg.Output.Dir = expandPath(cfg.Output.Dir)
	if cfg.History.Path == "" {
		cfg.History.Path = DBPath()
	}
	cfg.History.Path = expandPath(cfg.History.Path)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks option ranges that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	switch c.Database.Kind {
	case "postgres", "proxy", "sqlite":
	default:
		return fmt.Errorf("database.kind %q: must be postgres, proxy or sqlite", c.Database.Kind)
	}
	if c.Analyze.SampleSize < 0 {
		return fmt.Errorf("analyze.sample_size must be >= 0, got %d", c.Analyze.SampleSize)
	}
	if c.Judge.Limit < 0 {
		return fmt.Errorf("judge.limit must be >= 0, got %d", c.Judge.Limit)
	}
	if c.LLM.Concurrency < 1 {
		return fmt.Errorf("llm.concurrency must be >= 1, got %d", c.LLM.Concurrency)
	}
	if c.LLM.MaxRetries < 0 {
		return fmt.Errorf("llm.max_retries must be >= 0, got %d", c.LLM.MaxRetries)
	}
	return nil
}

// Redacted returns a copy with secrets masked, for display.
func (c Config) Redacted() Config {
	c.Database.URL = mask(c.Database.URL)
	c.Database.ProxyToken = mask(c.Database.ProxyToken)
	c.LLM.APIKey = mask(c.LLM.APIKey)
	return c
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// DBPath returns the full path to the run history database.
func DBPath() string {
	return filepath.Join(expandPath(DefaultConfigDir), DefaultDBName)
}

// ConfigDir returns the expanded configuration directory.
func ConfigDir() string {
	return expandPath(DefaultConfigDir)
}
