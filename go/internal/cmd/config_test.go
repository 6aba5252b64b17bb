package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/codeduel/go/internal/duel"
	"github.com/mcdev12/codeduel/go/internal/models"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "duel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigEmptyPathKeepsDefaults(t *testing.T) {
	config, err := loadConfig("")
	require.NoError(t, err)

	cfg, err := config.roomConfig()
	require.NoError(t, err)
	assert.Equal(t, duel.DefaultConfig(), cfg)
}

func TestLoadConfigOverridesRoomPolicy(t *testing.T) {
	path := writeConfig(t, `
rooms:
  lobby_ttl: 2m
  countdown_ticks: 5
  tiers:
    easy: 10m
    Hard: 90m
sync:
  poll_interval: 1s
catalog_file: problems.yaml
`)
	config, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "problems.yaml", config.CatalogFile)
	assert.Equal(t, time.Second, config.Sync.PollInterval)

	cfg, err := config.roomConfig()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, cfg.LobbyTTL)
	assert.Equal(t, 5, cfg.CountdownTicks)
	assert.Equal(t, duel.DefaultConfig().ReadyTimeout, cfg.ReadyTimeout)
	assert.Equal(t, 10*time.Minute, cfg.TierDurations[models.DifficultyEasy])
	assert.Equal(t, 30*time.Minute, cfg.TierDurations[models.DifficultyMedium])
	assert.Equal(t, 90*time.Minute, cfg.TierDurations[models.DifficultyHard])
	assert.Equal(t, 90*time.Minute, longestTier(cfg))
}

func TestRoomConfigRejectsBadTiers(t *testing.T) {
	for name, body := range map[string]string{
		"unknown tier":  "rooms:\n  tiers:\n    extreme: 5m\n",
		"zero duration": "rooms:\n  tiers:\n    easy: 0s\n",
	} {
		t.Run(name, func(t *testing.T) {
			config, err := loadConfig(writeConfig(t, body))
			require.NoError(t, err)
			_, err = config.roomConfig()
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("DUEL_TEST_BOOL", "true")
	t.Setenv("DUEL_TEST_DURATION", "90s")
	t.Setenv("DUEL_TEST_BAD", "nope")

	assert.True(t, getEnvAsBool("DUEL_TEST_BOOL", false))
	assert.False(t, getEnvAsBool("DUEL_TEST_BAD", false))
	assert.Equal(t, 90*time.Second, getEnvAsDuration("DUEL_TEST_DURATION", time.Second))
	assert.Equal(t, time.Second, getEnvAsDuration("DUEL_TEST_BAD", time.Second))
	assert.Equal(t, 7, getEnvAsInt("DUEL_TEST_BAD", 7))
	assert.Equal(t, "fallback", getEnv("DUEL_TEST_UNSET", "fallback"))
}

func TestIdentityConfigRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("AUTH_DEV_MODE", "")
	_, err := identityConfigFromEnv()
	assert.Error(t, err)

	t.Setenv("AUTH_DEV_MODE", "true")
	config, err := identityConfigFromEnv()
	require.NoError(t, err)
	assert.True(t, config.DevMode)

	t.Setenv("AUTH_DEV_MODE", "")
	t.Setenv("JWT_SECRET", "s3cret")
	config, err = identityConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "s3cret", config.Secret)
	assert.Equal(t, "codeduel", config.Issuer)
}
