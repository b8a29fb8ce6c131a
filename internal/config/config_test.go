package config

import (
	"testing"
	"time"

	"github.com/dmitrijs2005/adpipe/internal/common"
	"github.com/dmitrijs2005/adpipe/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, "https://graph.facebook.com", c.GraphBaseURL)
	assert.Equal(t, int64(100<<20), c.ChunkedThreshold)
	assert.Equal(t, 50, c.BatchSize)
	assert.Equal(t, 10*time.Minute, c.TransferTimeout)
	assert.Equal(t, models.AdSetModeCreate, c.AdSetMode)
	require.NoError(t, c.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"adset mode", func(c *Config) { c.AdSetMode = "reuse" }, "adset_mode"},
		{"batch too large", func(c *Config) { c.BatchSize = 51 }, "batch_size"},
		{"batch zero", func(c *Config) { c.BatchSize = 0 }, "batch_size"},
		{"attempts", func(c *Config) { c.MaxAttempts = 0 }, "max_attempts"},
		{"threshold", func(c *Config) { c.ChunkedThreshold = -1 }, "chunked_threshold"},
		{"timeout", func(c *Config) { c.TransferTimeout = 0 }, "timeouts"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Config
			c.LoadDefaults()
			tt.mutate(&c)

			var ve *common.ValidationError
			require.ErrorAs(t, c.Validate(), &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestLoadConfig_Precedence(t *testing.T) {
	path := writeTemp(t, "cfg.yaml", "ad_account_id: \"111\"\nbatch_size: 10\nadset_mode: pool\n")

	cfg, err := LoadConfig([]string{"provision", "-c", path, "-account", "222", "-direction", "d1"})
	require.NoError(t, err)

	assert.Equal(t, "222", cfg.AdAccountID)
	assert.Equal(t, 10, cfg.BatchSize)
	assert.Equal(t, models.AdSetModePool, cfg.AdSetMode)
	assert.Equal(t, "v21.0", cfg.GraphVersion)
}

func TestLoadConfig_Invalid(t *testing.T) {
	_, err := LoadConfig([]string{"-batch-size", "100"})
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = LoadConfig([]string{"-batch-size", "many"})
	assert.Error(t, err)

	_, err = LoadConfig([]string{"-c", "/does/not/exist.json"})
	assert.ErrorContains(t, err, "read config")
}
