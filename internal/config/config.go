// Package config loads aarii's settings from a YAML or JSON file and the
// environment. Subsystems are switched on or off here, once, at startup.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/felixgeelhaar/aarii/internal/guard"
	"gopkg.in/yaml.v3"
)

// DefaultSystemPrompt is used when neither the config file, the environment
// nor the session persona provide one.
const DefaultSystemPrompt = "You are Aarii, a helpful, concise AI assistant."

// Config is the complete runtime configuration.
type Config struct {
	// DataDir holds the SQLite database and the index snapshot.
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// DatabaseURL selects a postgres:// store instead of SQLite in DataDir.
	DatabaseURL string `json:"database_url" yaml:"database_url"`

	SystemPrompt string `json:"system_prompt" yaml:"system_prompt"`

	Provider  ProviderConfig  `json:"provider" yaml:"provider"`
	Embedding EmbeddingConfig `json:"embedding" yaml:"embedding"`
	Memory    MemoryConfig    `json:"memory" yaml:"memory"`
	Policy    guard.Policy    `json:"policy" yaml:"policy"`
}

// ProviderConfig selects and tunes the completion backend.
type ProviderConfig struct {
	// Name is one of groq, openai, ollama, gemini, anthropic, cli or stub.
	Name        string  `json:"name" yaml:"name"`
	APIKey      string  `json:"api_key" yaml:"api_key"`
	BaseURL     string  `json:"base_url" yaml:"base_url"`
	Model       string  `json:"model" yaml:"model"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens"`

	// Command is the binary (and its leading arguments) for the cli provider.
	Command []string `json:"command" yaml:"command"`

	RequestsPerMinute float64 `json:"requests_per_minute" yaml:"requests_per_minute"`
	CircuitBreaker    bool    `json:"circuit_breaker" yaml:"circuit_breaker"`
}

// EmbeddingConfig selects the embedding backend.
type EmbeddingConfig struct {
	// Backend is one of hash, openai, ollama, gemini or plugin.
	Backend    string `json:"backend" yaml:"backend"`
	Model      string `json:"model" yaml:"model"`
	Dimensions int    `json:"dimensions" yaml:"dimensions"`
	APIKey     string `json:"api_key" yaml:"api_key"`
	BaseURL    string `json:"base_url" yaml:"base_url"`
	PluginPath string `json:"plugin_path" yaml:"plugin_path"`
	CacheSize  int64  `json:"cache_size" yaml:"cache_size"`

	// PluginArgs are passed to the plugin binary, e.g. ["plugin", "serve-hash"]
	// when PluginPath is the aarii binary itself.
	PluginArgs []string `json:"plugin_args" yaml:"plugin_args"`
}

// MemoryConfig controls the memory subsystem.
type MemoryConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	TopK    int  `json:"top_k" yaml:"top_k"`

	// IndexPath defaults to DataDir/index.bin.
	IndexPath string `json:"index_path" yaml:"index_path"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		DataDir:      filepath.Join(home, ".aarii"),
		SystemPrompt: DefaultSystemPrompt,
		Provider: ProviderConfig{
			Name:           "groq",
			Temperature:    0.2,
			MaxTokens:      512,
			CircuitBreaker: true,
		},
		Embedding: EmbeddingConfig{
			Backend:    "hash",
			Dimensions: 384,
			CacheSize:  4096,
		},
		Memory: MemoryConfig{
			Enabled: true,
			TopK:    3,
		},
		Policy: guard.DefaultPolicy,
	}
}

// DefaultPath is ~/.aarii/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".aarii", "config.yaml")
}

// Load reads path over the defaults and then applies environment overrides.
// An empty path loads DefaultPath if it exists.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			if explicit || !os.IsNotExist(err) {
				return nil, err
			}
		}
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		if os.IsNotExist(err) {
			return err
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to unmarshal JSON config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to unmarshal YAML config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config format: %s (use .json or .yaml)", ext)
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	str("AARII_DATA_DIR", &c.DataDir)
	str("AARII_DATABASE_URL", &c.DatabaseURL)
	str("AARII_SYSTEM_PROMPT", &c.SystemPrompt)
	str("GROQ_BASE_URL", &c.Provider.BaseURL)
	str("GROQ_MODEL", &c.Provider.Model)

	// The API key from the environment only applies to the Groq provider.
	if c.Provider.Name == "groq" {
		str("GROQ_API_KEY", &c.Provider.APIKey)
	}

	if v := getenv("AARII_TEMP"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid AARII_TEMP %q: %w", v, err)
		}
		c.Provider.Temperature = f
	}
	if v := getenv("AARII_MAX_TOKENS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid AARII_MAX_TOKENS %q: %w", v, err)
		}
		c.Provider.MaxTokens = n
	}

	if v := getenv("OLLAMA_HOST"); v != "" {
		if c.Provider.Name == "ollama" && c.Provider.BaseURL == "" {
			c.Provider.BaseURL = v
		}
		if c.Embedding.Backend == "ollama" && c.Embedding.BaseURL == "" {
			c.Embedding.BaseURL = v
		}
	}
	return nil
}

// DatabasePath is the SQLite file used when DatabaseURL is empty.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "aarii.db")
}

// IndexPath is the vector index snapshot file.
func (c *Config) IndexPath() string {
	if c.Memory.IndexPath != "" {
		return c.Memory.IndexPath
	}
	return filepath.Join(c.DataDir, "index.bin")
}

// ValidationResult represents the outcome of a validation pass.
type ValidationResult struct {
	Valid    bool
	Warnings []string
	Errors   []string
}

func (r *ValidationResult) errorf(format string, args ...any) {
	r.Valid = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *ValidationResult) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

var (
	providers  = []string{"groq", "openai", "ollama", "gemini", "anthropic", "cli", "stub"}
	embedders  = []string{"hash", "openai", "ollama", "gemini", "plugin"}
	keyedNames = map[string]bool{"groq": true, "openai": true, "gemini": true, "anthropic": true}
)

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Validate checks the configuration for completeness.
func Validate(c *Config) ValidationResult {
	res := ValidationResult{
		Valid:    true,
		Warnings: []string{},
		Errors:   []string{},
	}

	p := c.Provider
	switch {
	case !contains(providers, p.Name):
		res.errorf("Unknown provider %q (use one of %s)", p.Name, strings.Join(providers, ", "))
	case keyedNames[p.Name] && p.APIKey == "":
		res.errorf("Provider %s requires an API key", p.Name)
	case p.Name == "cli" && len(p.Command) == 0:
		res.warnf("Provider cli has no command; a local claude, gemini or llm binary will be used")
	}
	if p.Temperature < 0 || p.Temperature > 2 {
		res.errorf("Temperature %.2f is out of range [0, 2]", p.Temperature)
	}
	if p.MaxTokens <= 0 {
		res.errorf("max_tokens must be positive")
	}
	if p.RequestsPerMinute < 0 {
		res.errorf("requests_per_minute must not be negative")
	}

	if c.SystemPrompt == "" {
		res.warnf("System prompt is empty; replies will have no persona")
	}

	if c.Memory.Enabled {
		e := c.Embedding
		if !contains(embedders, e.Backend) {
			res.errorf("Unknown embedding backend %q (use one of %s)", e.Backend, strings.Join(embedders, ", "))
		}
		if e.Dimensions <= 0 {
			res.errorf("Embedding dimensions must be positive")
		}
		if e.Backend == "plugin" && e.PluginPath == "" {
			res.errorf("Embedding backend plugin requires plugin_path")
		}
		if e.Backend == "hash" {
			res.warnf("Hash embeddings match words, not meaning; configure a model backend for semantic recall")
		}
		if c.Memory.TopK <= 0 {
			res.errorf("memory.top_k must be positive")
		}
	}

	if c.DatabaseURL == "" && c.DataDir == "" {
		res.errorf("data_dir is required when database_url is not set")
	}
	if c.DatabaseURL != "" && !strings.HasPrefix(c.DatabaseURL, "postgres://") && !strings.HasPrefix(c.DatabaseURL, "postgresql://") {
		res.errorf("database_url must be a postgres:// URL")
	}

	if c.Policy.MaxHistoryMessages < 0 {
		res.errorf("policy.max_history_messages must not be negative")
	}
	if err := c.Policy.ValidatePatterns(); err != nil {
		res.errorf("policy.no_memory_sessions: %v", err)
	}

	return res
}
