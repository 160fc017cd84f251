// Package config handles loading and persisting user configuration
// for chatstream. Configuration is stored in ~/.chatstream/config.json,
// or config.toml when that file exists.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/arin/chatstream/internal/stream"
)

const (
	dirName  = ".chatstream"
	jsonFile = "config.json"
	tomlFile = "config.toml"
	envFile  = ".env"

	defaultProvider    = "ollama"
	defaultModel       = "llama3.2:latest"
	defaultTemperature = 0.1

	envKeyProvider    = "CHATSTREAM_PROVIDER"
	envKeyBaseURL     = "CHATSTREAM_BASE_URL"
	envKeyModel       = "CHATSTREAM_MODEL"
	envKeyAPIKey      = "CHATSTREAM_API_KEY"
	envKeyTemperature = "CHATSTREAM_TEMPERATURE"
	envKeyMaxTokens   = "CHATSTREAM_MAX_TOKENS"
)

// Config holds the resolved configuration. Every field has a usable value.
type Config struct {
	Provider        string
	BaseURL         string // empty means the provider's default endpoint
	Model           string
	APIKey          string
	Temperature     float64
	MaxTokens       int // 0 means the server default
	StallInterval   time.Duration
	StallMaxRepeats int
	EmptyOutput     stream.EmptyPolicy
}

// fileConfig is the on-disk shape. Pointers tell absent fields apart.
type fileConfig struct {
	Provider        *string  `json:"provider,omitempty" toml:"provider"`
	BaseURL         *string  `json:"base_url,omitempty" toml:"base_url"`
	Model           *string  `json:"model,omitempty" toml:"model"`
	APIKey          *string  `json:"api_key,omitempty" toml:"api_key"`
	Temperature     *float64 `json:"temperature,omitempty" toml:"temperature"`
	MaxTokens       *int     `json:"max_tokens,omitempty" toml:"max_tokens"`
	StallInterval   *string  `json:"stall_interval,omitempty" toml:"stall_interval"`
	StallMaxRepeats *int     `json:"stall_max_repeats,omitempty" toml:"stall_max_repeats"`
	EmptyOutput     *string  `json:"empty_output,omitempty" toml:"empty_output"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Provider:        defaultProvider,
		Model:           defaultModel,
		Temperature:     defaultTemperature,
		StallInterval:   stream.DefaultStallInterval,
		StallMaxRepeats: stream.DefaultStallMaxRepeats,
		EmptyOutput:     stream.EmptyAsSpace,
	}
}

// Dir returns the configuration directory path.
func Dir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, dirName)
}

// Path returns the file settings are read from and written to.
func Path() string {
	if p := filepath.Join(Dir(), tomlFile); fileExists(p) {
		return p
	}
	return filepath.Join(Dir(), jsonFile)
}

// Load reads the configuration from disk, .env files and environment
// variables. Missing or malformed values fall back to defaults.
func Load() (*Config, error) {
	cfg := Default()

	fc, _ := readFile(Path())
	cfg.apply(fc)

	// godotenv never overrides variables that are already set.
	for _, p := range []string{envFile, filepath.Join(Dir(), envFile)} {
		if fileExists(p) {
			_ = godotenv.Load(p)
		}
	}
	cfg.applyEnv()

	return cfg, nil
}

func (c *Config) apply(fc fileConfig) {
	if fc.Provider != nil && strings.TrimSpace(*fc.Provider) != "" {
		c.Provider = strings.ToLower(strings.TrimSpace(*fc.Provider))
	}
	if fc.BaseURL != nil {
		c.BaseURL = strings.TrimSpace(*fc.BaseURL)
	}
	if fc.Model != nil && strings.TrimSpace(*fc.Model) != "" {
		c.Model = strings.TrimSpace(*fc.Model)
	}
	if fc.APIKey != nil {
		c.APIKey = *fc.APIKey
	}
	if fc.Temperature != nil && validTemperature(*fc.Temperature) {
		c.Temperature = *fc.Temperature
	}
	if fc.MaxTokens != nil && *fc.MaxTokens >= 0 {
		c.MaxTokens = *fc.MaxTokens
	}
	if fc.StallInterval != nil {
		if d, ok := parseDuration(*fc.StallInterval); ok {
			c.StallInterval = d
		}
	}
	if fc.StallMaxRepeats != nil && *fc.StallMaxRepeats >= 0 {
		c.StallMaxRepeats = *fc.StallMaxRepeats
	}
	if fc.EmptyOutput != nil {
		c.EmptyOutput = stream.ParseEmptyPolicy(*fc.EmptyOutput)
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv(envKeyProvider); v != "" {
		c.Provider = strings.ToLower(v)
	}
	if v := os.Getenv(envKeyBaseURL); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv(envKeyModel); v != "" {
		c.Model = v
	}
	if v := os.Getenv(envKeyAPIKey); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv(envKeyTemperature); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && validTemperature(f) {
			c.Temperature = f
		}
	}
	if v := os.Getenv(envKeyMaxTokens); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.MaxTokens = n
		}
	}
}

func validTemperature(f float64) bool { return f >= 0 && f <= 2 }

// parseDuration accepts Go durations ("20s") and bare seconds ("20").
func parseDuration(s string) (time.Duration, bool) {
	s = strings.TrimSpace(s)
	if d, err := time.ParseDuration(s); err == nil && d >= 0 {
		return d, true
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return time.Duration(n) * time.Second, true
	}
	return 0, false
}

// readFile decodes path leniently: a field of the wrong type is dropped
// and the others are kept.
func readFile(path string) (fileConfig, error) {
	var fc fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}

	if filepath.Ext(path) == ".toml" {
		var raw map[string]any
		if _, err := toml.Decode(string(data), &raw); err != nil {
			return fc, fmt.Errorf("parse %s: %w", path, err)
		}
		if data, err = json.Marshal(raw); err != nil {
			return fc, err
		}
	}

	var typeErr *json.UnmarshalTypeError
	if err := json.Unmarshal(data, &fc); err != nil && !errors.As(err, &typeErr) {
		return fileConfig{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return fc, nil
}

// save persists fc to path in the format its extension names.
func save(path string, fc fileConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	var data []byte
	if filepath.Ext(path) == ".toml" {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(fc); err != nil {
			return err
		}
		data = buf.Bytes()
	} else {
		var err error
		if data, err = json.MarshalIndent(fc, "", "  "); err != nil {
			return err
		}
	}

	return os.WriteFile(path, data, 0o600)
}

// update reads the active file, applies fn and writes it back.
func update(fn func(*fileConfig) error) error {
	path := Path()
	fc, err := readFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := fn(&fc); err != nil {
		return err
	}
	return save(path, fc)
}

// SetAPIKey saves the API key to the config file.
func SetAPIKey(key string) error {
	return update(func(fc *fileConfig) error {
		fc.APIKey = &key
		return nil
	})
}

// SetModel saves the model preference to the config file.
func SetModel(model string) error {
	return update(func(fc *fileConfig) error {
		fc.Model = &model
		return nil
	})
}

// SetProvider saves the provider name to the config file.
func SetProvider(provider string) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	return update(func(fc *fileConfig) error {
		fc.Provider = &provider
		return nil
	})
}

// SetBaseURL saves the server endpoint to the config file.
func SetBaseURL(url string) error {
	return update(func(fc *fileConfig) error {
		fc.BaseURL = &url
		return nil
	})
}

// Keys lists the settings accepted by Set.
var Keys = []string{"provider", "base_url", "model", "api_key", "temperature", "max_tokens", "stall_interval", "stall_max_repeats", "empty_output"}

// Set validates value for key and saves it.
func Set(key, value string) error {
	value = strings.TrimSpace(value)
	switch key {
	case "provider":
		return SetProvider(value)
	case "base_url":
		return SetBaseURL(value)
	case "model":
		return SetModel(value)
	case "api_key":
		return SetAPIKey(value)
	}

	return update(func(fc *fileConfig) error {
		switch key {
		case "temperature":
			f, err := strconv.ParseFloat(value, 64)
			if err != nil || !validTemperature(f) {
				return fmt.Errorf("temperature must be a number between 0 and 2")
			}
			fc.Temperature = &f
		case "max_tokens":
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				return fmt.Errorf("max_tokens must be a non-negative integer")
			}
			fc.MaxTokens = &n
		case "stall_interval":
			if _, ok := parseDuration(value); !ok {
				return fmt.Errorf("stall_interval must be a duration such as 15s")
			}
			fc.StallInterval = &value
		case "stall_max_repeats":
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				return fmt.Errorf("stall_max_repeats must be a non-negative integer")
			}
			fc.StallMaxRepeats = &n
		case "empty_output":
			if value != "space" && value != "empty" {
				return fmt.Errorf("empty_output must be \"space\" or \"empty\"")
			}
			fc.EmptyOutput = &value
		default:
			return fmt.Errorf("unknown setting %q (valid: %s)", key, strings.Join(Keys, ", "))
		}
		return nil
	})
}

// view is the printable form of Config.
type view struct {
	Provider        string  `yaml:"provider"`
	BaseURL         string  `yaml:"base_url,omitempty"`
	Model           string  `yaml:"model"`
	APIKey          string  `yaml:"api_key,omitempty"`
	Temperature     float64 `yaml:"temperature"`
	MaxTokens       int     `yaml:"max_tokens,omitempty"`
	StallInterval   string  `yaml:"stall_interval"`
	StallMaxRepeats int     `yaml:"stall_max_repeats"`
	EmptyOutput     string  `yaml:"empty_output"`
}

// YAML renders c for display with the API key masked.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(view{
		Provider:        c.Provider,
		BaseURL:         c.BaseURL,
		Model:           c.Model,
		APIKey:          MaskKey(c.APIKey),
		Temperature:     c.Temperature,
		MaxTokens:       c.MaxTokens,
		StallInterval:   c.StallInterval.String(),
		StallMaxRepeats: c.StallMaxRepeats,
		EmptyOutput:     c.EmptyOutput.String(),
	})
}

// MaskKey keeps the first and last four characters of long keys.
func MaskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 10 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
