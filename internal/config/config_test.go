package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MAX_EXPORT_ROWS", "")
	t.Setenv("PASSWORD_RESET_TOKEN_TTL", "")

	cfg := Load()

	assert.Equal(t, 5000, cfg.Export.MaxRows)
	assert.Equal(t, int64(2*1024*1024), cfg.Export.MaxPayloadBytes)
	assert.Equal(t, time.Hour, cfg.Reset.TokenTTL)
	assert.Equal(t, "postgres", cfg.DBType)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MAX_EXPORT_ROWS", "10")
	t.Setenv("EMAIL_SEND_TIMEOUT", "3")
	t.Setenv("FRONTEND_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("RATE_LIMIT_ENABLED", "yes")
	t.Setenv("ENVIRONMENT", "Production")

	cfg := Load()

	assert.Equal(t, 10, cfg.Export.MaxRows)
	assert.Equal(t, 3*time.Second, cfg.Email.SendTimeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
	assert.True(t, cfg.Limit.Enabled)
	assert.True(t, cfg.IsProduction())
}

func TestGetenvFallsBackOnGarbage(t *testing.T) {
	t.Setenv("SOME_INT", "ten")
	t.Setenv("SOME_BOOL", "maybe")
	t.Setenv("SOME_DURATION", "soon")

	assert.Equal(t, int64(7), getenvInt64("SOME_INT", 7))
	assert.True(t, getenvBool("SOME_BOOL", true))
	assert.Equal(t, time.Minute, getenvDuration("SOME_DURATION", time.Minute))
}

func TestValidatePricingConfig(t *testing.T) {
	assert.NoError(t, validatePricingConfig(DefaultPricingConfig()))

	cfg := DefaultPricingConfig()
	cfg.ExportCost = 0
	assert.Error(t, validatePricingConfig(cfg))

	cfg = DefaultPricingConfig()
	cfg.TokenUnitPrice = -1
	assert.Error(t, validatePricingConfig(cfg))
}

func TestStaticPricingHolder(t *testing.T) {
	holder := NewStaticPricingHolder(PricingConfig{ExportCost: 3, DownloadCost: 2, TokenUnitPrice: 50})
	assert.Equal(t, int64(3), holder.Get().ExportCost)

	var nilHolder *PricingConfigHolder
	assert.Equal(t, DefaultPricingConfig(), nilHolder.Get())
}
