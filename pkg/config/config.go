// Package config loads finch configuration from a JSON file merged with
// FINCH_* environment overrides.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	API    APIConfig    `json:"api"`
	Broker BrokerConfig `json:"broker"`
	App    AppConfig    `json:"app"`

	// StateDir holds credentials and other per-user client state.
	// Empty means ~/.finch.
	StateDir string `env:"FINCH_STATE_DIR" json:"state_dir,omitempty"`
}

type APIConfig struct {
	BaseURL string `env:"FINCH_API_BASE_URL" json:"base_url"`
}

type BrokerConfig struct {
	Host             string `env:"FINCH_BROKER_HOST"        json:"host"`
	PlainPort        int    `env:"FINCH_BROKER_PLAIN_PORT"  json:"plain_port"`
	SecurePort       int    `env:"FINCH_BROKER_SECURE_PORT" json:"secure_port"`
	SSLFirst         bool   `env:"FINCH_BROKER_SSL_FIRST"   json:"ssl_first"`
	KeepaliveSeconds int    `env:"FINCH_BROKER_KEEPALIVE"   json:"keepalive_seconds"`
}

type AppConfig struct {
	AutoReconnect        bool `env:"FINCH_APP_AUTO_RECONNECT"     json:"auto_reconnect"`
	ReconnectDelayMS     int  `env:"FINCH_APP_RECONNECT_DELAY_MS" json:"reconnect_delay_ms"`
	ProbeIntervalSeconds int  `env:"FINCH_APP_PROBE_INTERVAL"     json:"probe_interval_seconds"`
}

func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: "http://localhost:5000/api",
		},
		Broker: BrokerConfig{
			Host:             "broker.hivemq.com",
			PlainPort:        1883,
			SecurePort:       8883,
			SSLFirst:         true,
			KeepaliveSeconds: 60,
		},
		App: AppConfig{
			AutoReconnect:        true,
			ReconnectDelayMS:     5000,
			ProbeIntervalSeconds: 30,
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No file is fine; env overrides still apply.
			if err := env.Parse(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// StatePath resolves the per-user state directory.
func (c *Config) StatePath() string {
	if c.StateDir != "" {
		return expandHome(c.StateDir)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".finch")
}

func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.App.ReconnectDelayMS) * time.Millisecond
}

func (c *Config) ProbeInterval() time.Duration {
	return time.Duration(c.App.ProbeIntervalSeconds) * time.Second
}

func (c *Config) Keepalive() time.Duration {
	return time.Duration(c.Broker.KeepaliveSeconds) * time.Second
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
