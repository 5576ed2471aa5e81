// Package config loads service configuration from an optional YAML file and
// TRIAGE_-prefixed environment variables, env taking precedence.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Pipeline  PipelineConfig  `koanf:"pipeline"`
	Cache     CacheConfig     `koanf:"cache"`
	Inference InferenceConfig `koanf:"inference"`
	Search    SearchConfig    `koanf:"search"`
	Storage   StorageConfig   `koanf:"storage"`
	Events    EventsConfig    `koanf:"events"`
	Customer  CustomerConfig  `koanf:"customer"`
}

type ServerConfig struct {
	Port           int `koanf:"port"`
	TimeoutSeconds int `koanf:"timeout_seconds"`
}

type PipelineConfig struct {
	ConfidenceThreshold float64 `koanf:"confidence_threshold"`
	TotalBudgetMS       int     `koanf:"total_budget_ms"`
	ClassifyBudgetMS    int     `koanf:"classify_budget_ms"`
	RetrieveBudgetMS    int     `koanf:"retrieve_budget_ms"`
	GenerateBudgetMS    int     `koanf:"generate_budget_ms"`
	MaxDrafts           int     `koanf:"max_drafts"`
}

type CacheConfig struct {
	ClassificationSize       int `koanf:"classification_size"`
	ClassificationTTLSeconds int `koanf:"classification_ttl_seconds"`
	RetrievalSize            int `koanf:"retrieval_size"`
	RetrievalTTLSeconds      int `koanf:"retrieval_ttl_seconds"`
	CustomerSize             int `koanf:"customer_size"`
	CustomerTTLSeconds       int `koanf:"customer_ttl_seconds"`
}

type InferenceConfig struct {
	APIKey             string `koanf:"api_key"`
	BaseURL            string `koanf:"base_url"`
	CostOptimizedModel string `koanf:"cost_optimized_model"`
	CapableModel       string `koanf:"capable_model"`
}

type SearchConfig struct {
	BaseURL  string  `koanf:"base_url"`
	APIKey   string  `koanf:"api_key"`
	TopK     int     `koanf:"top_k"`
	MinScore float64 `koanf:"min_score"`
}

type StorageConfig struct {
	Driver string `koanf:"driver"`
	DSN    string `koanf:"dsn"`
}

type EventsConfig struct {
	Enabled bool     `koanf:"enabled"`
	Brokers []string `koanf:"brokers"`
	Topic   string   `koanf:"topic"`
}

type CustomerConfig struct {
	HighValueThreshold float64 `koanf:"high_value_threshold"`
}

// defaults mirror the documented production tunables. Keys use the
// section.key form produced by the env transform below.
var defaults = map[string]any{
	"server.port":            8080,
	"server.timeout_seconds": 30,

	"pipeline.confidence_threshold": 0.6,
	"pipeline.total_budget_ms":      6000,
	"pipeline.classify_budget_ms":   2000,
	"pipeline.retrieve_budget_ms":   1000,
	"pipeline.generate_budget_ms":   3000,
	"pipeline.max_drafts":           3,

	"cache.classification_size":        1000,
	"cache.classification_ttl_seconds": 3600,
	"cache.retrieval_size":             500,
	"cache.retrieval_ttl_seconds":      1800,
	"cache.customer_size":              500,
	"cache.customer_ttl_seconds":       300,

	"inference.cost_optimized_model": "gpt-4o-mini",
	"inference.capable_model":        "gpt-4o",

	"search.top_k":     3,
	"search.min_score": 0.5,

	"storage.driver": "sqlite",
	"storage.dsn":    "triage.db",

	"events.enabled": false,
	"events.topic":   "triage.interactions",

	"customer.high_value_threshold": 10000.0,
}

// Load reads the YAML file at path (default config.yaml) when present,
// applies TRIAGE_ environment variables on top, then fills defaults for
// anything still unset. TRIAGE_SERVER_PORT maps to server.port; only the
// first underscore separates section from key.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path == "" {
		path = "config.yaml"
	}
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("TRIAGE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "TRIAGE_")), "_", ".", 1)
	}), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
