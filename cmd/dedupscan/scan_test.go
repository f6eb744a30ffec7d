package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hem-bad/dedupscan/internal/scanner"
)

func TestShortKey(t *testing.T) {
	assert.Equal(t, "abcd", shortKey("abcd"))
	assert.Equal(t, "0123456789ab", shortKey("0123456789ab"))
	assert.Equal(t, "0123456789ab", shortKey("0123456789abcdef0123"))
}

func TestApplyScanFlagsOverlaysOnlyChanged(t *testing.T) {
	cfg := scanner.DefaultConfig()
	cfg.Collection = "from-config"
	cfg.Fields = []string{"title"}

	cmd := scanCmd
	require.NoError(t, cmd.Flags().Set("collection", "from-flag"))
	require.NoError(t, cmd.Flags().Set("live", "true"))
	require.NoError(t, cmd.Flags().Set("window", "24h"))
	require.NoError(t, cmd.Flags().Set("from", "2016-01-01T00:00:00Z"))

	require.NoError(t, applyScanFlags(cmd, &cfg))

	assert.Equal(t, "from-flag", cfg.Collection)
	assert.True(t, cfg.Live)
	assert.Equal(t, 24*time.Hour, cfg.WindowLength)
	assert.Equal(t, time.Date(2016, 1, 1, 0, 0, 0, 0, time.UTC), cfg.From.UTC())

	// Unchanged flags keep the config values.
	assert.Equal(t, []string{"title"}, cfg.Fields)
	assert.Equal(t, 500, cfg.BatchSize)
}

func TestApplyScanFlagsBadTimestamp(t *testing.T) {
	cfg := scanner.DefaultConfig()
	cmd := scanCmd
	require.NoError(t, cmd.Flags().Set("to", "not-a-time"))

	err := applyScanFlags(cmd, &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--to")
}
