package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("PRESENCE_GRACE", "45s")
	t.Setenv("SEND_RATE_LIMIT", "not-a-number")
	t.Setenv("APP_ENV", "Production")

	cfg := Load()

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, 45*time.Second, cfg.PresenceGrace)
	assert.Equal(t, int64(30), cfg.SendRateLimit)
	assert.Equal(t, 15*time.Minute, cfg.EditWindow)
	assert.True(t, cfg.IsProduction())
}

func TestGetDurationRejectsNonPositive(t *testing.T) {
	t.Setenv("EDIT_WINDOW", "-5m")
	assert.Equal(t, time.Minute, getDuration("EDIT_WINDOW", time.Minute))
}
