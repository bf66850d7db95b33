package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML overlay. Only fields commonly tuned per
// deployment are exposed; zero values leave the environment value intact.
type fileConfig struct {
	Port string `yaml:"port"`

	SurrealDB struct {
		URL       string `yaml:"url"`
		Namespace string `yaml:"namespace"`
		Database  string `yaml:"database"`
	} `yaml:"surrealdb"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       *int   `yaml:"db"`
	} `yaml:"redis"`

	Embedding struct {
		Provider  string `yaml:"provider"`
		Model     string `yaml:"model"`
		Dimension int    `yaml:"dimension"`
	} `yaml:"embedding"`

	Index struct {
		URL          string        `yaml:"url"`
		APIKey       string        `yaml:"api_key"`
		PollInterval time.Duration `yaml:"poll_interval"`
		PollBudget   int           `yaml:"poll_budget"`
	} `yaml:"index"`

	Queue struct {
		Concurrency int           `yaml:"concurrency"`
		MaxAttempts int           `yaml:"max_attempts"`
		BackoffBase time.Duration `yaml:"backoff_base"`
	} `yaml:"queue"`
}

// applyFile overlays non-zero values from a YAML file onto cfg.
func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	if fc.Port != "" {
		cfg.Port = fc.Port
	}
	if fc.SurrealDB.URL != "" {
		cfg.SurrealDBURL = fc.SurrealDB.URL
	}
	if fc.SurrealDB.Namespace != "" {
		cfg.SurrealDBNamespace = fc.SurrealDB.Namespace
	}
	if fc.SurrealDB.Database != "" {
		cfg.SurrealDBDatabase = fc.SurrealDB.Database
	}
	if fc.Redis.Addr != "" {
		cfg.RedisAddr = fc.Redis.Addr
	}
	if fc.Redis.Password != "" {
		cfg.RedisPassword = fc.Redis.Password
	}
	if fc.Redis.DB != nil {
		cfg.RedisDB = *fc.Redis.DB
	}
	if fc.Embedding.Provider != "" {
		cfg.EmbedProvider = EmbedProvider(fc.Embedding.Provider)
	}
	if fc.Embedding.Model != "" {
		cfg.EmbedModel = fc.Embedding.Model
	}
	if fc.Embedding.Dimension > 0 {
		cfg.EmbedDimension = fc.Embedding.Dimension
	}
	if fc.Index.URL != "" {
		cfg.IndexBaseURL = fc.Index.URL
	}
	if fc.Index.APIKey != "" {
		cfg.IndexAPIKey = fc.Index.APIKey
	}
	if fc.Index.PollInterval > 0 {
		cfg.IndexPollInterval = fc.Index.PollInterval
	}
	if fc.Index.PollBudget > 0 {
		cfg.IndexPollBudget = fc.Index.PollBudget
	}
	if fc.Queue.Concurrency > 0 {
		cfg.QueueConcurrency = fc.Queue.Concurrency
	}
	if fc.Queue.MaxAttempts > 0 {
		cfg.QueueMaxAttempts = fc.Queue.MaxAttempts
	}
	if fc.Queue.BackoffBase > 0 {
		cfg.QueueBackoffBase = fc.Queue.BackoffBase
	}

	return nil
}
