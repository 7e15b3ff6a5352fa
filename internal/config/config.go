package config

import (
	"log"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/t-hamamura/market-research-system/internal/notion"
)

const (
	configPathEnv     = "RESEARCH_CONFIG"
	portEnv           = "PORT"
	dbPathEnv         = "DB_PATH"
	geminiAPIKeyEnv   = "GEMINI_API_KEY"
	geminiModelEnv    = "GEMINI_MODEL"
	notionAPIKeyEnv   = "NOTION_API_KEY"
	notionDatabaseEnv = "NOTION_DATABASE_ID"
)

// Config holds all settings required across the application.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Gemini   GeminiConfig   `yaml:"gemini"`
	Notion   NotionConfig   `yaml:"notion"`
	Limiter  LimiterConfig  `yaml:"limiter"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Store    StoreConfig    `yaml:"store"`
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// GeminiConfig defines how to contact the generation service.
type GeminiConfig struct {
	APIKey   string `yaml:"apiKey"`
	Model    string `yaml:"model"`
	Endpoint string `yaml:"endpoint"`
}

// NotionConfig wires the document workspace, including the explicit
// property-name bindings for the research database.
type NotionConfig struct {
	APIKey     string                  `yaml:"apiKey"`
	DatabaseID string                  `yaml:"databaseId"`
	Properties notion.PropertyBindings `yaml:"properties"`
}

// LimiterConfig tunes the rate-limited invoker shared by all runs.
type LimiterConfig struct {
	MinIntervalMS  int `yaml:"minIntervalMs"`
	MaxAttempts    int `yaml:"maxAttempts"`
	BaseBackoffMS  int `yaml:"baseBackoffMs"`
	MaxBackoffMS   int `yaml:"maxBackoffMs"`
	RetryDelayMS   int `yaml:"retryDelayMs"`
	MinResponseLen int `yaml:"minResponseLen"`
}

// PipelineConfig tunes per-step timing.
type PipelineConfig struct {
	StepTimeoutSeconds int `yaml:"stepTimeoutSeconds"`
	SuccessDelayMS     int `yaml:"successDelayMs"`
	FailureDelayMS     int `yaml:"failureDelayMs"`
}

// StoreConfig describes run-state persistence.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// Load reads YAML configuration (if present) and applies environment
// overrides. Missing or unparsable files fall back to defaults.
func Load() Config {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else if err := yaml.Unmarshal(raw, &cfg); err != nil {
			log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			cfg = defaultConfig()
		}
	}

	cfg.applyEnvOverrides()
	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(portEnv); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			c.Server.Port = p
		}
	}
	if v := os.Getenv(dbPathEnv); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv(geminiAPIKeyEnv); v != "" {
		c.Gemini.APIKey = v
	}
	if v := os.Getenv(geminiModelEnv); v != "" {
		c.Gemini.Model = v
	}
	if v := os.Getenv(notionAPIKeyEnv); v != "" {
		c.Notion.APIKey = v
	}
	if v := os.Getenv(notionDatabaseEnv); v != "" {
		c.Notion.DatabaseID = v
	}
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{Port: 3000},
		Gemini: GeminiConfig{Model: "gemini-1.5-pro"},
		Notion: NotionConfig{
			Properties: notion.PropertyBindings{
				Title:    "Name",
				Business: "Business",
				Category: "Category",
				Status:   "Status",
			},
		},
		Limiter: LimiterConfig{
			MinIntervalMS:  2000,
			MaxAttempts:    3,
			BaseBackoffMS:  5000,
			MaxBackoffMS:   60000,
			RetryDelayMS:   3000,
			MinResponseLen: 40,
		},
		Pipeline: PipelineConfig{
			StepTimeoutSeconds: 180,
			SuccessDelayMS:     2000,
			FailureDelayMS:     8000,
		},
		Store: StoreConfig{Path: "research.db"},
	}
}
