package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Mindburn-Labs/edgepolicy/pkg/config"
)

func TestLoadEnforcer_Defaults(t *testing.T) {
	cfg := config.LoadEnforcer()
	assert.Equal(t, "./bundles", cfg.BundlesDir)
	assert.True(t, cfg.EnableHotReload)
	assert.Equal(t, 2*time.Second, cfg.ReloadInterval)
}

func TestLoadEnforcer_Overrides(t *testing.T) {
	t.Setenv("BUNDLES_DIR", "/data/bundles")
	t.Setenv("ENABLE_HOT_RELOAD", "false")
	t.Setenv("RELOAD_INTERVAL_SECS", "5")
	t.Setenv("DECISION_BUS_BACKLOG", "128")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("REDIS_DB", "3")

	cfg := config.LoadEnforcer()
	assert.Equal(t, "/data/bundles", cfg.BundlesDir)
	assert.False(t, cfg.EnableHotReload)
	assert.Equal(t, 5*time.Second, cfg.ReloadInterval)
	assert.Equal(t, 128, cfg.DecisionBusBacklog)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.Equal(t, 3, cfg.RedisDB)
}

func TestLoadAudit_Defaults(t *testing.T) {
	cfg := config.LoadAudit()
	assert.Equal(t, 100, cfg.UploadBatchSize)
	assert.False(t, cfg.EnableDeferredUpload)
	assert.Equal(t, 90, cfg.MaxLogAgeDays)
}

func TestLoadQuota_Defaults(t *testing.T) {
	cfg := config.LoadQuota()
	assert.True(t, cfg.EnableAutoReset)
	assert.Equal(t, int64(0), cfg.DefaultMessageLimit)
}

func TestLoadQuota_Overrides(t *testing.T) {
	t.Setenv("DEFAULT_MESSAGE_LIMIT", "1000")
	t.Setenv("DEFAULT_BANDWIDTH_LIMIT_GB", "2.5")
	t.Setenv("ENABLE_AUTO_RESET", "false")

	cfg := config.LoadQuota()
	assert.Equal(t, int64(1000), cfg.DefaultMessageLimit)
	assert.Equal(t, 2.5, cfg.DefaultBandwidthGB)
	assert.False(t, cfg.EnableAutoReset)
}
