package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mcdev12/codeduel/go/internal/duel"
	"github.com/mcdev12/codeduel/go/internal/models"
)

// Config is the optional YAML file named by DUEL_CONFIG. Zero values keep the
// defaults.
type Config struct {
	Rooms struct {
		LobbyTTL          time.Duration            `yaml:"lobby_ttl"`
		ReadyTimeout      time.Duration            `yaml:"ready_timeout"`
		CountdownTicks    int                      `yaml:"countdown_ticks"`
		CountdownInterval time.Duration            `yaml:"countdown_interval"`
		Retention         time.Duration            `yaml:"retention"`
		VerdictTimeout    time.Duration            `yaml:"verdict_timeout"`
		Tiers             map[string]time.Duration `yaml:"tiers"`
	} `yaml:"rooms"`
	Sync struct {
		PollInterval time.Duration `yaml:"poll_interval"`
		PushGrace    time.Duration `yaml:"push_grace"`
	} `yaml:"sync"`
	// CatalogFile is a YAML problem list served locally instead of asking
	// the judge for problem metadata.
	CatalogFile string `yaml:"catalog_file"`
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

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func loadConfig(path string) (*Config, error) {
	var config Config
	if path == "" {
		return &config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &config, nil
}

// roomConfig overlays the file settings on the default room policy.
func (c *Config) roomConfig() (duel.Config, error) {
	cfg := duel.DefaultConfig()
	r := c.Rooms

	override(&cfg.LobbyTTL, r.LobbyTTL)
	override(&cfg.ReadyTimeout, r.ReadyTimeout)
	override(&cfg.CountdownInterval, r.CountdownInterval)
	override(&cfg.Retention, r.Retention)
	override(&cfg.VerdictTimeout, r.VerdictTimeout)
	if r.CountdownTicks > 0 {
		cfg.CountdownTicks = r.CountdownTicks
	}

	for name, d := range r.Tiers {
		difficulty, err := models.ParseDifficulty(name)
		if err != nil {
			return duel.Config{}, fmt.Errorf("rooms.tiers: %w", err)
		}
		if d <= 0 {
			return duel.Config{}, fmt.Errorf("rooms.tiers.%s must be positive", strings.ToLower(name))
		}
		cfg.TierDurations[difficulty] = d
	}
	return cfg, nil
}

func override(dst *time.Duration, v time.Duration) {
	if v > 0 {
		*dst = v
	}
}
