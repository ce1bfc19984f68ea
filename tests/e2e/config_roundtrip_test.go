package e2e

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/finch-im/finch/pkg/config"
)

// TestDefaultConfigJSON verifies the default config marshals to valid JSON.
func TestDefaultConfigJSON(t *testing.T) {
	cfg := config.DefaultConfig()
	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshaling default config: %v", err)
	}

	var roundtrip config.Config
	if err := json.Unmarshal(data, &roundtrip); err != nil {
		t.Fatalf("unmarshaling default config: %v", err)
	}

	if roundtrip.Broker.Host != cfg.Broker.Host {
		t.Errorf("broker.host roundtrip: got %s, want %s", roundtrip.Broker.Host, cfg.Broker.Host)
	}
	if roundtrip.API.BaseURL != cfg.API.BaseURL {
		t.Errorf("api.base_url roundtrip: got %s, want %s", roundtrip.API.BaseURL, cfg.API.BaseURL)
	}
}

// TestConfigLoadAndSaveRoundtrip tests JSON load -> save -> load roundtrip.
func TestConfigLoadAndSaveRoundtrip(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	// Save
	cfg := config.DefaultConfig()
	cfg.API.BaseURL = "https://chat.example.com/api"
	cfg.Broker.Host = "10.0.0.1"
	cfg.Broker.PlainPort = 9999
	if err := config.SaveConfig(path, cfg); err != nil {
		t.Fatalf("saving config: %v", err)
	}

	// Load
	loaded, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("loading config: %v", err)
	}

	if loaded.API.BaseURL != "https://chat.example.com/api" {
		t.Errorf("api.base_url: got %s, want https://chat.example.com/api", loaded.API.BaseURL)
	}
	if loaded.Broker.Host != "10.0.0.1" {
		t.Errorf("broker.host: got %s, want 10.0.0.1", loaded.Broker.Host)
	}
	if loaded.Broker.PlainPort != 9999 {
		t.Errorf("broker.plain_port: got %d, want 9999", loaded.Broker.PlainPort)
	}
}
