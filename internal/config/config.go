// Package config loads node configuration from environment variables,
// with defaults bound through viper so a future config file can override
// them without touching the call sites.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// ServerMode mirrors the SERVER_MODE environment variable's closed set.
type ServerMode string

const (
	ModeDev     ServerMode = "dev"
	ModeTest    ServerMode = "test"
	ModeProd    ServerMode = "prod"
	ModeStaging ServerMode = "staging"
	ModeDemo    ServerMode = "demo"
)

// Config is the node's full runtime configuration, sourced from env vars
// per spec.md §6.
type Config struct {
	Host       string
	Port       string
	RedisURL   string
	AMQPURL    string
	Exchange   string
	ServerMode ServerMode
	AppEnv     string
	LogLevel   string
}

// Load binds defaults and reads environment variables. It never fails on
// missing optional values; it only returns an error if AMQP_URL is unset,
// since the node cannot run without a broker to bind to.
func Load() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("PORT", "8080")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("BITMEX_EXCHANGE", "bitmex")
	v.SetDefault("SERVER_MODE", "dev")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "INFO")

	amqpURL := v.GetString("AMQP_URL")
	if amqpURL == "" {
		return Config{}, fmt.Errorf("AMQP_URL is required")
	}

	return Config{
		Host:       v.GetString("HOST"),
		Port:       v.GetString("PORT"),
		RedisURL:   v.GetString("REDIS_URL"),
		AMQPURL:    amqpURL,
		Exchange:   v.GetString("BITMEX_EXCHANGE"),
		ServerMode: ServerMode(v.GetString("SERVER_MODE")),
		AppEnv:     v.GetString("APP_ENV"),
		LogLevel:   v.GetString("LOG_LEVEL"),
	}, nil
}

// Sandbox reports whether the exchange client should connect to the
// sandbox endpoint: true unless the node is explicitly running in
// production, per spec.md §4.6 ("sandbox iff SERVER_MODE != prod and
// APP_ENV != production").
func (c Config) Sandbox() bool {
	return c.ServerMode != ModeProd && c.AppEnv != "production"
}

const (
	restBaseURLProd    = "https://www.bitmex.com/api/v1"
	restBaseURLSandbox = "https://testnet.bitmex.com/api/v1"
	wsBaseURLProd       = "wss://www.bitmex.com/realtime"
	wsBaseURLSandbox    = "wss://testnet.bitmex.com/realtime"
)

// RestBaseURL picks the REST endpoint matching Sandbox.
func (c Config) RestBaseURL() string {
	if c.Sandbox() {
		return restBaseURLSandbox
	}
	return restBaseURLProd
}

// WSBaseURL picks the streaming endpoint matching Sandbox.
func (c Config) WSBaseURL() string {
	if c.Sandbox() {
		return wsBaseURLSandbox
	}
	return wsBaseURLProd
}
