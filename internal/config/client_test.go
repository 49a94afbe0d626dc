package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadClientConfigDefaults(t *testing.T) {
	cfg, err := LoadClientConfig()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", cfg.ServerURL)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, time.Minute, cfg.SyncInterval)
}

func TestLoadClientConfigRejectsNonPositiveDurations(t *testing.T) {
	tests := []struct {
		env   string
		value string
	}{
		{"CARESYNC_SYNC_INTERVAL", "0"},
		{"CARESYNC_SYNC_INTERVAL", "-5s"},
		{"CARESYNC_TIMEOUT", "0s"},
	}
	for _, tt := range tests {
		t.Run(tt.env+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.env, tt.value)
			_, err := LoadClientConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.env)
		})
	}
}
