// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Simulator modes.
const (
	SimulatorDocker   = "docker"
	SimulatorLocal    = "local"
	SimulatorDisabled = "disabled"
)

// Config holds all application configuration.
type Config struct {
	Port                 string
	DBPath               string
	AllowedOrigins       []string
	LogLevel             slog.Level
	LogFormat            string
	ThreadTTL            time.Duration
	DefaultPlatform      string
	MaxRequestBytes      int64
	RateLimitRPS         float64
	RateLimitBurst       int
	LLM                  LLMConfig
	Classifier           ClassifierConfig
	Simulator            SimulatorConfig
	GenerationMaxRetries int
}

// LLMConfig selects and tunes the completion backend. CompletionAddr wins
// over the OpenAI key when both are set.
type LLMConfig struct {
	OpenAIAPIKey   string
	OpenAIModel    string
	OpenAIBaseURL  string
	CompletionAddr string
	Timeout        time.Duration
	Temperature    float64
}

// ClassifierConfig tunes the hybrid classifier.
type ClassifierConfig struct {
	RulesPath    string
	LLMThreshold float64
}

// SimulatorConfig selects how protocols are simulated.
type SimulatorConfig struct {
	Mode    string
	Image   string
	Binary  string
	Runtime string // Docker runtime: "" = default (runc), "runsc" = gVisor
	Timeout time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		DBPath:          getEnv("DB_PATH", "./data/catalyze.db"),
		AllowedOrigins:  getEnvList("ALLOWED_ORIGINS", []string{"*"}),
		LogLevel:        getEnvLevel("LOG_LEVEL", slog.LevelInfo),
		LogFormat:       strings.ToLower(getEnv("LOG_FORMAT", "json")),
		ThreadTTL:       getEnvDuration("THREAD_TTL", 24*time.Hour),
		DefaultPlatform: strings.ToLower(getEnv("DEFAULT_PLATFORM", "ot2")),
		MaxRequestBytes: int64(getEnvInt("MAX_REQUEST_BODY_BYTES", 1<<20)),
		RateLimitRPS:    getEnvFloat("RATE_LIMIT_RPS", 2),
		RateLimitBurst:  getEnvInt("RATE_LIMIT_BURST", 5),
		LLM: LLMConfig{
			OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),
			OpenAIModel:    getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			OpenAIBaseURL:  getEnv("OPENAI_BASE_URL", ""),
			CompletionAddr: getEnv("COMPLETION_ADDR", ""),
			Timeout:        getEnvDuration("LLM_TIMEOUT", 60*time.Second),
			Temperature:    getEnvFloat("LLM_TEMPERATURE", 0.1),
		},
		Classifier: ClassifierConfig{
			RulesPath:    getEnv("CLASSIFIER_RULES_PATH", ""),
			LLMThreshold: getEnvFloat("CLASSIFIER_LLM_THRESHOLD", 0.7),
		},
		Simulator: SimulatorConfig{
			Mode:    strings.ToLower(getEnv("SIMULATOR_MODE", SimulatorDocker)),
			Image:   getEnv("SIMULATOR_IMAGE", "opentrons/opentrons-simulator:latest"),
			Binary:  getEnv("SIMULATOR_BINARY", "opentrons_simulate"),
			Runtime: getEnv("CONTAINER_RUNTIME", ""),
			Timeout: getEnvDuration("SIMULATOR_TIMEOUT", 120*time.Second),
		},
		GenerationMaxRetries: getEnvInt("GENERATION_MAX_RETRIES", 3),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat)
	}
	if c.ThreadTTL <= 0 {
		return fmt.Errorf("THREAD_TTL must be > 0")
	}
	switch c.DefaultPlatform {
	case "ot2", "flex":
	default:
		return fmt.Errorf("DEFAULT_PLATFORM must be ot2 or flex, got %q", c.DefaultPlatform)
	}
	if c.MaxRequestBytes <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_BYTES must be > 0")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be > 0")
	}
	if c.LLM.Timeout < 0 {
		return fmt.Errorf("LLM_TIMEOUT cannot be negative")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("LLM_TEMPERATURE must be within [0, 2]")
	}
	if c.Classifier.LLMThreshold < 0 || c.Classifier.LLMThreshold > 1 {
		return fmt.Errorf("CLASSIFIER_LLM_THRESHOLD must be within [0, 1]")
	}
	switch c.Simulator.Mode {
	case SimulatorDocker:
		if c.Simulator.Image == "" {
			return fmt.Errorf("SIMULATOR_IMAGE cannot be empty in docker mode")
		}
	case SimulatorLocal:
		if c.Simulator.Binary == "" {
			return fmt.Errorf("SIMULATOR_BINARY cannot be empty in local mode")
		}
	case SimulatorDisabled:
	default:
		return fmt.Errorf("SIMULATOR_MODE must be docker, local or disabled, got %q", c.Simulator.Mode)
	}
	if c.Simulator.Timeout <= 0 {
		return fmt.Errorf("SIMULATOR_TIMEOUT must be > 0")
	}
	if c.GenerationMaxRetries < 0 {
		return fmt.Errorf("GENERATION_MAX_RETRIES cannot be negative")
	}
	return nil
}

// LLMEnabled reports whether any completion backend is configured.
func (c *Config) LLMEnabled() bool {
	return c.LLM.CompletionAddr != "" || c.LLM.OpenAIAPIKey != ""
}

// IsDevelopment returns true when every origin is allowed or only local
// origins are listed.
func (c *Config) IsDevelopment() bool {
	for _, o := range c.AllowedOrigins {
		if o == "*" {
			return true
		}
		if !strings.Contains(o, "localhost") && !strings.Contains(o, "127.0.0.1") {
			return false
		}
	}
	return true
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func getEnvLevel(key string, fallback slog.Level) slog.Level {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return fallback
	}
	return lvl
}
