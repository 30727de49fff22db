package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestConfigDir(t *testing.T, content string) string {
	tmpDir := t.TempDir()
	err := os.WriteFile(filepath.Join(tmpDir, SwitchersFile), []byte(content), 0644)
	require.NoError(t, err)
	return tmpDir
}

func TestLoader_LoadSwitchers(t *testing.T) {
	dir := setupTestConfigDir(t, `switchers:
  - name: Living Room
    host: 192.168.1.50
    poll_interval: 30s
    options:
      hdmi1: Apple TV
      hdmi2: PS5
  - host: 192.168.1.51
    port: "8080"
    slug: den
`)

	loader := NewLoader(dir, zap.NewNop())
	cfg, err := loader.LoadSwitchers()
	require.NoError(t, err)
	require.Len(t, cfg.Switchers, 2)

	living := cfg.Switchers[0]
	assert.Equal(t, "living_room", living.Slug)
	assert.Equal(t, "80", living.Port)
	assert.Equal(t, 30*time.Second, living.PollInterval)
	assert.Equal(t, "Apple TV", living.Options.Label(1))
	assert.Equal(t, "HDMI 3", living.Options.Label(3))

	den := cfg.Switchers[1]
	assert.Equal(t, "den", den.Slug)
	assert.Equal(t, "8080", den.Port)
	assert.Equal(t, DefaultPollInterval, den.PollInterval)
}

func TestLoader_MissingFile(t *testing.T) {
	loader := NewLoader(t.TempDir(), zap.NewNop())
	_, err := loader.LoadSwitchers()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read switcher config")
}

func TestParseSwitchers_Validation(t *testing.T) {
	tests := []struct {
		name        string
		yaml        string
		errContains string
	}{
		{name: "missing host", yaml: "switchers:\n  - name: a\n", errContains: "host is required"},
		{name: "duplicate host", yaml: "switchers:\n  - host: a\n  - host: a\n", errContains: "duplicate host"},
		{name: "duplicate slug", yaml: "switchers:\n  - host: a\n    slug: x\n  - host: b\n    slug: x\n", errContains: "duplicate slug"},
		{name: "bad slug", yaml: "switchers:\n  - host: a\n    slug: Bad-Slug\n", errContains: "slug"},
		{name: "port not a number", yaml: "switchers:\n  - host: a\n    port: \"http\"\n", errContains: "port must be a number"},
		{name: "port out of range", yaml: "switchers:\n  - host: a\n    port: \"70000\"\n", errContains: "port must be a number"},
		{name: "short poll", yaml: "switchers:\n  - host: a\n    poll_interval: 100ms\n", errContains: "poll_interval"},
		{name: "unknown option", yaml: "switchers:\n  - host: a\n    options:\n      hdmi9: x\n", errContains: "hdmi9"},
		{name: "malformed", yaml: "switchers: [", errContains: "failed to parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSwitchers([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "living_room", Slugify("Living Room"))
	assert.Equal(t, "192_168_1_50", Slugify("192.168.1.50"))
	assert.Equal(t, "tv", Slugify("  TV!! "))
}

func TestEnvFromLookup(t *testing.T) {
	lookup := func(values map[string]string) func(string) (string, bool) {
		return func(key string) (string, bool) {
			v, ok := values[key]
			return v, ok
		}
	}

	env, err := EnvFromLookup(lookup(map[string]string{
		"HA_URL":      "ws://ha:8123/api/websocket",
		"HA_TOKEN":    "secret",
		"READ_ONLY":   "true",
		"MQTT_BROKER": "tcp://broker:1883",
	}))
	require.NoError(t, err)
	assert.True(t, env.ReadOnly)
	assert.Equal(t, 8080, env.APIPort)
	assert.Equal(t, "./configs", env.ConfigDir)
	assert.True(t, env.MQTTEnabled())
	assert.Equal(t, "homeassistant", env.MQTTDiscoveryPrefix)

	_, err = EnvFromLookup(lookup(map[string]string{"HA_URL": "ws://ha"}))
	assert.Error(t, err)

	_, err = EnvFromLookup(lookup(map[string]string{"HA_URL": "ws://ha", "HA_TOKEN": "t", "API_PORT": "x"}))
	assert.Error(t, err)
}
