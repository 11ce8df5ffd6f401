package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 8000, cfg.Port)
	assert.Equal(t, 10, cfg.MaxShipNum)
	assert.Equal(t, BehaviorWait, cfg.BehaviorAfterMaxShip)
	assert.Equal(t, "secret-token", cfg.AccessToken)
	assert.Equal(t, "./bay.db", cfg.DatabaseURL)
	assert.Equal(t, "ship:latest", cfg.ContainerImage)
	assert.Equal(t, "shipyard", cfg.ContainerNetwork)
	assert.Equal(t, 3600*time.Second, cfg.DefaultShipTTL)
	assert.Equal(t, 1.0, cfg.DefaultShipCPUs)
	assert.Equal(t, "512m", cfg.DefaultShipMemory)
	assert.Equal(t, 60*time.Second, cfg.ShipHealthCheckTimeout)
	assert.Equal(t, 2*time.Second, cfg.ShipHealthCheckInterval)
	assert.Equal(t, int64(10*1024*1024), cfg.MaxUploadSize)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("MAX_SHIP_NUM", "25")
	t.Setenv("BEHAVIOR_AFTER_MAX_SHIP", "reject")
	t.Setenv("ACCESS_TOKEN", "sekrit")
	t.Setenv("DEFAULT_SHIP_TTL", "120")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.MaxShipNum)
	assert.Equal(t, BehaviorReject, cfg.BehaviorAfterMaxShip)
	assert.Equal(t, "sekrit", cfg.AccessToken)
	assert.Equal(t, 120*time.Second, cfg.DefaultShipTTL)
}

func TestLoad_InvalidBehavior(t *testing.T) {
	t.Setenv("BEHAVIOR_AFTER_MAX_SHIP", "explode")
	_, err := Load()
	assert.Error(t, err)
}
