package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValues(t *testing.T) {
	cfg := Default()
	if cfg.MulticastGroup != "224.1.1.1" || cfg.MulticastPort != 5007 {
		t.Fatalf("unexpected default multicast address: %s:%d", cfg.MulticastGroup, cfg.MulticastPort)
	}
	if cfg.HeartbeatTimeout().Seconds() != 3.0 {
		t.Fatalf("unexpected default heartbeat timeout: %v", cfg.HeartbeatTimeout())
	}
}

func TestLoadMissingFileFallsBackToDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load on missing file returned error: %v", err)
	}
	if cfg != Default() {
		t.Fatalf("expected default config, got %+v", cfg)
	}
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleet.yaml")
	contents := "multicast_port: 6000\nheartbeat_timeout_seconds: 5\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MulticastPort != 6000 {
		t.Fatalf("expected overridden port 6000, got %d", cfg.MulticastPort)
	}
	if cfg.HeartbeatTimeout().Seconds() != 5 {
		t.Fatalf("expected overridden heartbeat timeout 5s, got %v", cfg.HeartbeatTimeout())
	}
	// Untouched fields keep their default.
	if cfg.MulticastGroup != "224.1.1.1" {
		t.Fatalf("expected default multicast group to survive merge, got %s", cfg.MulticastGroup)
	}
	if cfg.RetransmitInterval().Seconds() != 0.5 {
		t.Fatalf("expected default retransmit interval to survive merge, got %v", cfg.RetransmitInterval())
	}
}

func TestMulticastAddr(t *testing.T) {
	cfg := Default()
	if got := cfg.MulticastAddr(); got != "224.1.1.1:5007" {
		t.Fatalf("unexpected multicast addr: %s", got)
	}
}
