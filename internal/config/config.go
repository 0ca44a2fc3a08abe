package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Supported analyzer providers.
const (
	ProviderOpenRouter = "openrouter"
	ProviderOpenAI     = "openai"
	ProviderAnthropic  = "anthropic"
	ProviderOllama     = "ollama"
)

// Config holds all service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Analyzer AnalyzerConfig `yaml:"analyzer"`
	Delivery DeliveryConfig `yaml:"delivery"`
	Watcher  WatcherConfig  `yaml:"watcher"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Parser   ParserConfig   `yaml:"parser"`

	// EnvFile is the dotenv file that was loaded, empty when none was found.
	EnvFile string `yaml:"-"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port            string        `yaml:"port"`
	GinMode         string        `yaml:"ginMode"`
	JWTSecret       string        `yaml:"jwtSecret"`
	HistoryDir      string        `yaml:"historyDir"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// AnalyzerConfig selects and configures the language-model backend.
type AnalyzerConfig struct {
	Provider    string        `yaml:"provider" json:"provider"`
	Model       string        `yaml:"model" json:"model"`
	APIKey      string        `yaml:"apiKey" json:"-"`
	BaseURL     string        `yaml:"baseURL" json:"baseURL"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`
	Temperature float64       `yaml:"temperature" json:"temperature"`
}

// DeliveryConfig configures the chat webhook.
type DeliveryConfig struct {
	WebhookURL string        `yaml:"webhookURL"`
	Channel    string        `yaml:"channel"`
	Timeout    time.Duration `yaml:"timeout"`
}

// WatcherConfig configures the drop-folder ingestion loop.
type WatcherConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Dir          string        `yaml:"dir"`
	PollInterval time.Duration `yaml:"pollInterval"`
	FSNotify     bool          `yaml:"fsnotify"`
}

// DatabaseConfig configures the optional result history database.
// An empty driver disables it.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// LoggingConfig controls application logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// ParserConfig adds operator-defined line formats to the entry parser.
type ParserConfig struct {
	ExtraPatterns []PatternConfig `yaml:"extraPatterns"`
}

// PatternConfig is one extra line format. The regex uses the named groups
// timestamp, level, service and message; level and message are required.
// Higher priority patterns are tried first.
type PatternConfig struct {
	Name     string `yaml:"name"`
	Pattern  string `yaml:"pattern"`
	Priority int    `yaml:"priority"`
}

// Load initialises Config from defaults, an optional YAML file, a .env file
// and environment overrides, in that order.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("INCIDENTSUITE_CONFIG")
	}

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// A missing .env is normal outside local development.
	if err := godotenv.Load(); err == nil {
		cfg.EnvFile = ".env"
	}

	applyEnvOverrides(&cfg)
	cfg.Analyzer = cfg.Analyzer.WithDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            "8080",
			HistoryDir:      "data/results",
			GracefulTimeout: 30 * time.Second,
		},
		Analyzer: AnalyzerConfig{
			Provider:    ProviderOpenRouter,
			Timeout:     120 * time.Second,
			Temperature: 0.2,
		},
		Delivery: DeliveryConfig{
			Timeout: 10 * time.Second,
		},
		Watcher: WatcherConfig{
			Dir:          "live_logs",
			PollInterval: 5 * time.Second,
			FSNotify:     true,
		},
		Logging: LoggingConfig{Level: "INFO", Format: "text"},
	}
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	switch c.Analyzer.Provider {
	case ProviderOpenRouter, ProviderOpenAI, ProviderAnthropic, ProviderOllama:
	default:
		return fmt.Errorf("unknown analyzer provider %q", c.Analyzer.Provider)
	}
	if c.Watcher.PollInterval <= 0 {
		return fmt.Errorf("watcher poll interval must be positive, got %s", c.Watcher.PollInterval)
	}
	switch c.Database.Driver {
	case "", "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	for _, p := range c.Parser.ExtraPatterns {
		if err := p.Check(); err != nil {
			return err
		}
	}
	return nil
}

// Check compiles the pattern and verifies the required named groups.
func (p PatternConfig) Check() error {
	re, err := regexp.Compile(p.Pattern)
	if err != nil {
		return fmt.Errorf("parser pattern %q: %w", p.Name, err)
	}
	names := re.SubexpNames()
	has := func(group string) bool {
		for _, n := range names {
			if n == group {
				return true
			}
		}
		return false
	}
	if !has("level") || !has("message") {
		return fmt.Errorf("parser pattern %q: named groups level and message are required", p.Name)
	}
	return nil
}

// WithDefaults fills the model and base URL for the selected provider.
func (a AnalyzerConfig) WithDefaults() AnalyzerConfig {
	a.Provider = strings.ToLower(strings.TrimSpace(a.Provider))
	if a.Provider == "" {
		a.Provider = ProviderOpenRouter
	}
	if a.Model == "" {
		a.Model = defaultModel(a.Provider)
	}
	if a.BaseURL == "" {
		a.BaseURL = defaultBaseURL(a.Provider)
	}
	if a.Timeout <= 0 {
		a.Timeout = 120 * time.Second
	}
	return a
}

// Fingerprint identifies the analyzer target without exposing the key.
func (a AnalyzerConfig) Fingerprint() string {
	sum := sha256.Sum256([]byte(strings.Join([]string{a.Provider, a.Model, a.BaseURL, a.APIKey}, "\x00")))
	return hex.EncodeToString(sum[:6])
}

func defaultModel(provider string) string {
	switch provider {
	case ProviderOpenAI:
		return "gpt-4o-mini"
	case ProviderAnthropic:
		return "claude-sonnet-4-20250514"
	case ProviderOllama:
		return "llama2:13b"
	default:
		return "openai/gpt-4o-mini"
	}
}

func defaultBaseURL(provider string) string {
	switch provider {
	case ProviderOpenAI:
		return "https://api.openai.com/v1"
	case ProviderAnthropic:
		return "https://api.anthropic.com"
	case ProviderOllama:
		return "http://localhost:11434"
	default:
		return "https://openrouter.ai/api/v1"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("GIN_MODE"); v != "" {
		cfg.Server.GinMode = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Server.JWTSecret = v
	}
	if v := os.Getenv("HISTORY_DIR"); v != "" {
		cfg.Server.HistoryDir = v
	}

	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		cfg.Analyzer.Provider = v
	}
	cfg.Analyzer.Provider = strings.ToLower(strings.TrimSpace(cfg.Analyzer.Provider))
	switch cfg.Analyzer.Provider {
	case ProviderOpenAI:
		overrideString(&cfg.Analyzer.Model, "OPENAI_MODEL")
		overrideString(&cfg.Analyzer.APIKey, "OPENAI_API_KEY")
	case ProviderAnthropic:
		overrideString(&cfg.Analyzer.Model, "ANTHROPIC_MODEL")
		overrideString(&cfg.Analyzer.APIKey, "ANTHROPIC_API_KEY")
	case ProviderOllama:
		overrideString(&cfg.Analyzer.Model, "OLLAMA_MODEL")
		overrideString(&cfg.Analyzer.BaseURL, "OLLAMA_URL")
	default:
		overrideString(&cfg.Analyzer.Model, "OPENROUTER_MODEL")
		overrideString(&cfg.Analyzer.APIKey, "OPENROUTER_API_KEY")
	}
	if v := os.Getenv("ANALYZER_TIMEOUT_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.Analyzer.Timeout = time.Duration(secs) * time.Second
		}
	}

	overrideString(&cfg.Delivery.WebhookURL, "SLACK_WEBHOOK_URL")
	overrideString(&cfg.Delivery.Channel, "SLACK_CHANNEL")

	overrideString(&cfg.Watcher.Dir, "WATCH_DIR")
	if v := os.Getenv("WATCH_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Watcher.PollInterval = d
		} else if secs, err := strconv.Atoi(v); err == nil {
			cfg.Watcher.PollInterval = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("WATCHER_ENABLED"); v != "" {
		cfg.Watcher.Enabled = strings.EqualFold(v, "true") || v == "1"
	}

	overrideString(&cfg.Database.Driver, "DB_DRIVER")
	overrideString(&cfg.Database.DSN, "DATABASE_URL")

	overrideString(&cfg.Logging.Level, "LOG_LEVEL")
	overrideString(&cfg.Logging.Format, "LOG_FORMAT")
	overrideString(&cfg.Logging.File, "LOG_FILE")
}

func overrideString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
