package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Env holds the service settings read from the environment
type Env struct {
	HAURL     string
	HAToken   string
	ReadOnly  bool
	ConfigDir string
	APIPort   int

	MQTTBroker          string
	MQTTClientID        string
	MQTTUsername        string
	MQTTPassword        string
	MQTTDiscoveryPrefix string
}

// MQTTEnabled reports whether an MQTT broker is configured
func (e Env) MQTTEnabled() bool {
	return e.MQTTBroker != ""
}

// LoadEnv reads a .env file if present (existing variables win) and then
// the process environment. It reports whether a .env file was found.
func LoadEnv(files ...string) (Env, bool, error) {
	found := godotenv.Load(files...) == nil
	env, err := EnvFromLookup(os.LookupEnv)
	return env, found, err
}

// EnvFromLookup builds Env from a lookup function
func EnvFromLookup(lookup func(string) (string, bool)) (Env, error) {
	get := func(key, fallback string) string {
		if v, ok := lookup(key); ok && v != "" {
			return v
		}
		return fallback
	}

	env := Env{
		HAURL:               get("HA_URL", ""),
		HAToken:             get("HA_TOKEN", ""),
		ReadOnly:            get("READ_ONLY", "") == "true",
		ConfigDir:           get("CONFIG_DIR", "./configs"),
		MQTTBroker:          get("MQTT_BROKER", ""),
		MQTTClientID:        get("MQTT_CLIENT_ID", "puretools-remote"),
		MQTTUsername:        get("MQTT_USERNAME", ""),
		MQTTPassword:        get("MQTT_PASSWORD", ""),
		MQTTDiscoveryPrefix: get("MQTT_DISCOVERY_PREFIX", "homeassistant"),
	}

	port, err := strconv.Atoi(get("API_PORT", "8080"))
	if err != nil || port < 1 || port > 65535 {
		return Env{}, fmt.Errorf("API_PORT must be a number between 1 and 65535")
	}
	env.APIPort = port

	if env.HAURL == "" || env.HAToken == "" {
		return Env{}, fmt.Errorf("HA_URL and HA_TOKEN environment variables must be set")
	}
	return env, nil
}
