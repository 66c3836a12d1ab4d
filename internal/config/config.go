// Package config loads fleet-wide tunables from an optional YAML file,
// the same way the teacher's cmd/coordinator/config.go reads
// docker-compose.yml: os.ReadFile followed by yaml.Unmarshal, with
// defaults filled in for anything absent.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every interval/timeout/address the coordination fabric
// needs. Zero-valued duration fields (expressed in the YAML file as
// plain seconds, e.g. `heartbeat_timeout_seconds: 3`) are replaced with
// their Default() counterpart after loading.
type Config struct {
	// MulticastGroup is the well-known discovery/beacon multicast
	// address, e.g. "224.1.1.1". Defaults to the original VoteCast
	// prototype's constant.
	MulticastGroup string `yaml:"multicast_group"`
	// MulticastPort is the discovery multicast port.
	MulticastPort int `yaml:"multicast_port"`

	BeaconIntervalSeconds      float64 `yaml:"beacon_interval_seconds"`
	HeartbeatTimeoutSeconds    float64 `yaml:"heartbeat_timeout_seconds"`
	RetransmitIntervalSeconds  float64 `yaml:"retransmit_interval_seconds"`
	ElectionWaitTimeoutSeconds float64 `yaml:"election_wait_timeout_seconds"`
	CrashSettleSeconds         float64 `yaml:"crash_settle_seconds"`
}

// Default returns the hard-coded defaults from spec.md / the original
// VoteCast prototype (MCAST_GRP=224.1.1.1, MCAST_PORT=5007,
// HEARTBEAT_TIMEOUT=3s, retransmit tick=500ms, manual election wait=10s).
// BUF=4096 is not a config field; it is the constant wire.BUF.
func Default() Config {
	return Config{
		MulticastGroup:             "224.1.1.1",
		MulticastPort:              5007,
		BeaconIntervalSeconds:      1.0,
		HeartbeatTimeoutSeconds:    3.0,
		RetransmitIntervalSeconds:  0.5,
		ElectionWaitTimeoutSeconds: 10.0,
		CrashSettleSeconds:         2.0,
	}
}

// Load reads a YAML config file at path, falling back silently to
// Default() when the file does not exist. Any field left at its zero
// value after parsing is filled in from the default.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var loaded Config
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	merge(&cfg, loaded)
	return cfg, nil
}

func merge(dst *Config, src Config) {
	if src.MulticastGroup != "" {
		dst.MulticastGroup = src.MulticastGroup
	}
	if src.MulticastPort != 0 {
		dst.MulticastPort = src.MulticastPort
	}
	if src.BeaconIntervalSeconds != 0 {
		dst.BeaconIntervalSeconds = src.BeaconIntervalSeconds
	}
	if src.HeartbeatTimeoutSeconds != 0 {
		dst.HeartbeatTimeoutSeconds = src.HeartbeatTimeoutSeconds
	}
	if src.RetransmitIntervalSeconds != 0 {
		dst.RetransmitIntervalSeconds = src.RetransmitIntervalSeconds
	}
	if src.ElectionWaitTimeoutSeconds != 0 {
		dst.ElectionWaitTimeoutSeconds = src.ElectionWaitTimeoutSeconds
	}
	if src.CrashSettleSeconds != 0 {
		dst.CrashSettleSeconds = src.CrashSettleSeconds
	}
}

// BeaconInterval is BeaconIntervalSeconds as a time.Duration.
func (c Config) BeaconInterval() time.Duration {
	return time.Duration(c.BeaconIntervalSeconds * float64(time.Second))
}

// HeartbeatTimeout is HeartbeatTimeoutSeconds as a time.Duration.
func (c Config) HeartbeatTimeout() time.Duration {
	return time.Duration(c.HeartbeatTimeoutSeconds * float64(time.Second))
}

// RetransmitInterval is RetransmitIntervalSeconds as a time.Duration.
func (c Config) RetransmitInterval() time.Duration {
	return time.Duration(c.RetransmitIntervalSeconds * float64(time.Second))
}

// ElectionWaitTimeout is ElectionWaitTimeoutSeconds as a time.Duration.
func (c Config) ElectionWaitTimeout() time.Duration {
	return time.Duration(c.ElectionWaitTimeoutSeconds * float64(time.Second))
}

// CrashSettle is CrashSettleSeconds as a time.Duration.
func (c Config) CrashSettle() time.Duration {
	return time.Duration(c.CrashSettleSeconds * float64(time.Second))
}

// MulticastAddr returns "group:port" suitable for transport.New.
func (c Config) MulticastAddr() string {
	return fmt.Sprintf("%s:%d", c.MulticastGroup, c.MulticastPort)
}
