package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Providers   map[string]ProviderConfig `json:"providers"`
	Security    SecurityConfig            `json:"security"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	APIKey  string `json:"api_key"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type BasicConfig struct {
	ServerAddress      string `json:"server_address"`
	MaxWorkers         int    `json:"max_workers"`
	QueueSize          int    `json:"queue_size"`
	WorkerIdleTimeout  int    `json:"worker_idle_timeout_minutes"`
	TurnTimeoutSeconds int    `json:"turn_timeout_seconds"`
	HistoryTokenBudget int    `json:"history_token_budget"`
}

// SecurityConfig tunes inbound screening: how many violations inside the
// trailing window archive a conversation, and which moderation model to call.
type SecurityConfig struct {
	ViolationThreshold     int    `json:"violation_threshold"`
	ViolationWindowMinutes int    `json:"violation_window_minutes"`
	ModerationModel        string `json:"moderation_model"`
	ModerationAPIKey       string `json:"moderation_api_key"`
}

// Load reads configuration from the provided path (defaults to config.json).
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if len(cfg.Databases) == 0 {
		return nil, fmt.Errorf("at least one database must be configured")
	}
	for name, dbCfg := range cfg.Databases {
		if (name == "sqlite" || name == "sqlite3") && dbCfg.DSN != "" && !filepath.IsAbs(dbCfg.DSN) {
			dbCfg.DSN = filepath.Join(filepath.Dir(absPath), dbCfg.DSN)
			cfg.Databases[name] = dbCfg
		}
	}

	if cfg.Security.ViolationThreshold <= 0 {
		cfg.Security.ViolationThreshold = 5
	}
	if cfg.Security.ViolationWindowMinutes <= 0 {
		cfg.Security.ViolationWindowMinutes = 60
	}
	if cfg.BasicConfig.TurnTimeoutSeconds <= 0 {
		cfg.BasicConfig.TurnTimeoutSeconds = 120
	}
	if cfg.BasicConfig.HistoryTokenBudget <= 0 {
		cfg.BasicConfig.HistoryTokenBudget = 24000
	}

	return &cfg, nil
}
