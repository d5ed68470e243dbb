package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func baseConfig() *Config {
	return &Config{
		Endpoint:     "http://127.0.0.1:8943",
		PollInterval: 2 * time.Second,
		HTTPTimeout:  30 * time.Second,
	}
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{
			name:    "missing endpoint",
			mutate:  func(c *Config) { c.Endpoint = "" },
			wantErr: "endpoint is required",
		},
		{
			name:    "non http endpoint",
			mutate:  func(c *Config) { c.Endpoint = "ftp://host" },
			wantErr: "endpoint must be http or https",
		},
		{
			name:    "zero poll interval",
			mutate:  func(c *Config) { c.PollInterval = 0 },
			wantErr: "poll interval must be positive",
		},
		{
			name:    "zero http timeout",
			mutate:  func(c *Config) { c.HTTPTimeout = 0 },
			wantErr: "http timeout must be positive",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := baseConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestIsDatabricks(t *testing.T) {
	cfg := baseConfig()

	cfg.TrackingURI = "http://localhost:5000"
	assert.False(t, cfg.IsDatabricks())

	cfg.TrackingURI = "databricks"
	assert.True(t, cfg.IsDatabricks())

	cfg.TrackingURI = "databricks://staging"
	assert.True(t, cfg.IsDatabricks())
	assert.Equal(t, "staging", cfg.GetDatabricksProfile())

	cfg.TrackingURI = "https://myworkspace.cloud.databricks.com"
	assert.True(t, cfg.IsDatabricks())
}

func TestTrackingEnabled(t *testing.T) {
	cfg := baseConfig()
	assert.False(t, cfg.TrackingEnabled())
	cfg.TrackingURI = "http://localhost:5000"
	assert.True(t, cfg.TrackingEnabled())
}
