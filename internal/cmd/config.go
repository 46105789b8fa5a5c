package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/novacasino/crash-engine/internal/round"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Round struct {
		BetWindowSeconds int     `yaml:"bet_window_seconds"`
		CooldownSeconds  int     `yaml:"cooldown_seconds"`
		TickIntervalMs   int     `yaml:"tick_interval_ms"`
		GrowthRate       float64 `yaml:"growth_rate"`
		HouseEdge        float64 `yaml:"house_edge"`
		MaxCrash         float64 `yaml:"max_crash"`
		HistorySize      int     `yaml:"history_size"`
	} `yaml:"round"`
	Ledger struct {
		SignupBonus int64 `yaml:"signup_bonus"`
	} `yaml:"ledger"`
	DatabaseURL string `yaml:"database_url"`
	NATSURL     string `yaml:"nats_url"`
	IdentityURL string `yaml:"identity_url"`
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// loadConfig reads the yaml config if present and applies environment
// overrides on top. A missing file is not an error; defaults apply.
func loadConfig(path string) (*Config, error) {
	var config Config

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config.Server.Port = getEnv("PORT", defaultStr(config.Server.Port, "8080"))
	config.DatabaseURL = getEnv("DATABASE_URL", config.DatabaseURL)
	config.NATSURL = getEnv("NATS_URL", config.NATSURL)
	config.IdentityURL = getEnv("IDENTITY_URL", config.IdentityURL)
	config.Ledger.SignupBonus = int64(getEnvAsInt("SIGNUP_BONUS", int(defaultInt64(config.Ledger.SignupBonus, 1000))))

	return &config, nil
}

// roundConfig maps the yaml round section onto the clock's config,
// falling back to production defaults for unset fields.
func (c *Config) roundConfig() round.Config {
	cfg := round.DefaultConfig()
	if c.Round.BetWindowSeconds > 0 {
		cfg.BetWindow = time.Duration(c.Round.BetWindowSeconds) * time.Second
	}
	if c.Round.CooldownSeconds > 0 {
		cfg.Cooldown = time.Duration(c.Round.CooldownSeconds) * time.Second
	}
	if c.Round.TickIntervalMs > 0 {
		cfg.TickInterval = time.Duration(c.Round.TickIntervalMs) * time.Millisecond
	}
	if c.Round.GrowthRate > 0 {
		cfg.GrowthRate = c.Round.GrowthRate
	}
	if c.Round.HouseEdge > 0 {
		cfg.HouseEdge = c.Round.HouseEdge
	}
	if c.Round.MaxCrash > 1 {
		cfg.MaxCrash = c.Round.MaxCrash
	}
	if c.Round.HistorySize > 0 {
		cfg.HistorySize = c.Round.HistorySize
	}
	return cfg
}

func defaultStr(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func defaultInt64(v, def int64) int64 {
	if v != 0 {
		return v
	}
	return def
}
