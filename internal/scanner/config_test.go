package scanner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValidOnceTargeted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Collection = "articles"
	cfg.Fields = []string{"CAC"}
	require.NoError(t, cfg.Validate())

	assert.False(t, cfg.Live, "default must be dry-run")
	assert.Equal(t, "sha256", cfg.HashAlgorithm)
	assert.Equal(t, "smallest-id", cfg.TieBreak)
}

func TestConfigValidate(t *testing.T) {
	valid := func() Config {
		cfg := DefaultConfig()
		cfg.Collection = "articles"
		cfg.Fields = []string{"CAC"}
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"empty fields", func(c *Config) { c.Fields = nil }, "field list"},
		{"empty collection", func(c *Config) { c.Collection = "" }, "collection"},
		{"unknown hash", func(c *Config) { c.HashAlgorithm = "md5" }, "hash"},
		{"unknown tie-break", func(c *Config) { c.TieBreak = "newest" }, "tie-break"},
		{"negative batch", func(c *Config) { c.BatchSize = -1 }, "batch size"},
		{"negative workers", func(c *Config) { c.Workers = -1 }, "workers"},
		{"negative rate", func(c *Config) { c.DeleteRate = -1 }, "delete rate"},
		{"overlap without window", func(c *Config) { c.Overlap = time.Minute }, "window length"},
		{"overlap not shorter than window", func(c *Config) {
			c.From = time.Now().Add(-time.Hour)
			c.To = time.Now()
			c.WindowLength = time.Minute
			c.Overlap = 2 * time.Minute
		}, "overlap"},
		{"window without range", func(c *Config) { c.WindowLength = time.Hour }, "range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
