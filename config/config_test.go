package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()

	assert.Equal(t, 50, cfg.Client.PageSize)
	assert.Equal(t, time.Second, cfg.Client.CheckInterval)
	assert.Equal(t, "8080", cfg.Hub.Port)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("CHAT_HUB_URL", "ws://hub.internal/hub")
	t.Setenv("CHAT_PAGE_SIZE", "20")
	t.Setenv("CHAT_CHECK_INTERVAL", "2s")
	t.Setenv("CHAT_RECONNECT_RETRIES", "7")
	t.Setenv("HUB_REDIS_DB", "3")

	cfg := LoadConfig()

	assert.Equal(t, "ws://hub.internal/hub", cfg.Client.HubURL)
	assert.Equal(t, 20, cfg.Client.PageSize)
	assert.Equal(t, 2*time.Second, cfg.Client.CheckInterval)
	assert.Equal(t, 7, cfg.Client.Reconnect.MaxRetries)
	assert.Equal(t, 3, cfg.Hub.RedisDB)
}

func TestLoadConfigIgnoresMalformedValues(t *testing.T) {
	t.Setenv("CHAT_PAGE_SIZE", "lots")
	t.Setenv("CHAT_INVOKE_TIMEOUT", "soon")

	cfg := LoadConfig()

	assert.Equal(t, 50, cfg.Client.PageSize)
	assert.Equal(t, 15*time.Second, cfg.Client.InvokeTimeout)
}
