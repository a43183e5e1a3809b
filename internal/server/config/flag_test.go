package config

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		start    *Config
		expected *Config
		wantErr  bool
	}{
		{
			name: "all flags",
			args: []string{
				"-a", "127.0.0.1:9090", "-d", "db", "-D", "sqlite", "-s", "memory", "-R", "redis:1",
				"-k", "ak", "-K", "rk", "-t", "5", "-r", "60", "-i", "90", "-l", "text", "-L", "debug",
			},
			start: &Config{},
			expected: &Config{
				EndpointAddrGRPC:             "127.0.0.1:9090",
				DatabaseDSN:                  "db",
				DatabaseDriver:               "sqlite",
				TokenStore:                   "memory",
				RedisAddr:                    "redis:1",
				AccessSigningKey:             "ak",
				RefreshSigningKey:            "rk",
				AccessTokenValidityDuration:  5 * time.Minute,
				RefreshTokenValidityDuration: time.Hour,
				ReaperInterval:               90 * time.Second,
				LogFormat:                    "text",
				LogLevel:                     "debug",
			},
		},
		{
			name:  "unset duration flags keep sub-minute values",
			args:  []string{"-c", "ignored.json", "-a", ":1"},
			start: &Config{AccessTokenValidityDuration: 30 * time.Second, ReaperInterval: 1500 * time.Millisecond},
			expected: &Config{
				EndpointAddrGRPC:            ":1",
				AccessTokenValidityDuration: 30 * time.Second,
				ReaperInterval:              1500 * time.Millisecond,
			},
		},
		{
			name:    "non-numeric duration",
			args:    []string{"-r", "week"},
			start:   &Config{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := parseFlags(tt.start, tt.args)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Empty(t, cmp.Diff(tt.expected, tt.start))
		})
	}
}
