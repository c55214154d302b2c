package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 500, cfg.Limits.MessageMax)
	assert.Equal(t, 20, cfg.Listing.DefaultLimit)
	assert.Equal(t, "/v0", cfg.Server.BasePath)
	assert.Empty(t, cfg.Webhooks)
}

func TestFromYAMLKeepsDefaultsForMissingSections(t *testing.T) {
	cfg, err := FromYAML([]byte("limits:\n  message_max: 50\n"))
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Limits.MessageMax)
	assert.Equal(t, 1000, cfg.Limits.CommentMax)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"message":  "limits:\n  message_max: 0\n",
		"listing":  "listing:\n  default_limit: 500\n  max_limit: 10\n",
		"retry":    "retry:\n  max_attempts: 0\n",
		"webhook":  "webhooks:\n  - url: \"\"\n",
		"loglevel": "log:\n  level: loud\n",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = Load(dir)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "skillswap.yml"), []byte("webhooks:\n  - url: http://127.0.0.1:9/x\n    events: [swap.completed]\n"), 0o644))
	cfg, err = Load(dir)
	require.NoError(t, err)
	require.Len(t, cfg.Webhooks, 1)
	assert.Equal(t, []string{"swap.completed"}, cfg.Webhooks[0].Events)
}
