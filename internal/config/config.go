package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	ma "github.com/multiformats/go-multiaddr"
)

type Config struct {
	Identity Identity `json:"identity"`
	Paths    Paths    `json:"paths"`
	P2P      P2P      `json:"p2p"`
	Presence Presence `json:"presence"`
	Sync     Sync     `json:"sync"`
	Profile  Profile  `json:"profile"`
	Viewer   Viewer   `json:"viewer"`
}

type Identity struct {
	KeyFile string `json:"key_file"`
}

type Paths struct {
	// DataDir holds the identity key and the durable store database.
	DataDir string `json:"data_dir"`
	// MusicDir is scanned for the initial library and watched for uploads.
	MusicDir string `json:"music_dir"`
}

type P2P struct {
	ListenPort int    `json:"listen_port"`
	MdnsTag    string `json:"mdns_tag"`

	// Bootstrap multiaddresses dialed at startup, for peers that cannot
	// see each other over mDNS. Example:
	// /ip4/203.0.113.7/tcp/4001/p2p/12D3KooW...
	Bootstrap []string `json:"bootstrap,omitempty"`
}

type Presence struct {
	TTLSec       int `json:"ttl_seconds"`
	HeartbeatSec int `json:"heartbeat_seconds"`
}

// Sync holds the timing knobs of the synchronization core. All of these are
// bounded, seconds-scale values; the defaults match observed behaviour and
// none of the exact numbers are load-bearing.
type Sync struct {
	// StaleThresholdMs: commands older than this on receipt are dropped.
	StaleThresholdMs int `json:"stale_threshold_ms"`

	// EnforceWindowMs / EnforceIntervalMs: how long and how often the host
	// re-broadcasts ground truth after a state change.
	EnforceWindowMs   int `json:"enforce_window_ms"`
	EnforceIntervalMs int `json:"enforce_interval_ms"`

	// PositionToleranceMs: divergence below this is left alone by verify.
	PositionToleranceMs int `json:"position_tolerance_ms"`

	// StateRetries / StateRetryBackoffMs: bounded request_state retry policy
	// before falling back to the durable store.
	StateRetries        int `json:"state_retries"`
	StateRetryBackoffMs int `json:"state_retry_backoff_ms"`

	// KeepAliveSec: ping interval on the room channel.
	KeepAliveSec int `json:"keepalive_seconds"`
}

type Profile struct {
	Name string `json:"name"`
}

type Viewer struct {
	HTTPAddr string `json:"http_addr"`

	// BridgeURL is an optional websocket endpoint that receives global
	// player updates (ws:// or wss://). Empty disables forwarding.
	BridgeURL string `json:"bridge_url"`
}

func Default() Config {
	return Config{
		Identity: Identity{
			KeyFile: "data/identity.key",
		},
		Paths: Paths{
			DataDir:  "data",
			MusicDir: "music",
		},
		P2P: P2P{
			ListenPort: 0,
			MdnsTag:    "auxroom-mdns",
		},
		Presence: Presence{
			TTLSec:       20,
			HeartbeatSec: 5,
		},
		Sync: Sync{
			StaleThresholdMs:    5000,
			EnforceWindowMs:     3000,
			EnforceIntervalMs:   250,
			PositionToleranceMs: 750,
			StateRetries:        3,
			StateRetryBackoffMs: 4000,
			KeepAliveSec:        30,
		},
		Profile: Profile{
			Name: "listener",
		},
		Viewer: Viewer{
			HTTPAddr: "127.0.0.1:7707",
		},
	}
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Identity.KeyFile) == "" {
		return errors.New("identity.key_file is required")
	}
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir is required")
	}
	if strings.TrimSpace(c.Paths.MusicDir) == "" {
		return errors.New("paths.music_dir is required")
	}

	if c.P2P.ListenPort < 0 || c.P2P.ListenPort > 65535 {
		return errors.New("p2p.listen_port must be 0..65535")
	}
	if strings.TrimSpace(c.P2P.MdnsTag) == "" {
		return errors.New("p2p.mdns_tag is required")
	}
	for _, s := range c.P2P.Bootstrap {
		if _, err := ma.NewMultiaddr(s); err != nil {
			return fmt.Errorf("p2p.bootstrap: invalid multiaddr %q: %w", s, err)
		}
	}

	if c.Presence.TTLSec <= 0 {
		return errors.New("presence.ttl_seconds must be > 0")
	}
	if c.Presence.HeartbeatSec <= 0 {
		return errors.New("presence.heartbeat_seconds must be > 0")
	}
	if c.Presence.HeartbeatSec >= c.Presence.TTLSec {
		return errors.New("presence.heartbeat_seconds must be < presence.ttl_seconds")
	}

	if c.Sync.StaleThresholdMs <= 0 {
		return errors.New("sync.stale_threshold_ms must be > 0")
	}
	if c.Sync.EnforceWindowMs <= 0 {
		return errors.New("sync.enforce_window_ms must be > 0")
	}
	if c.Sync.EnforceIntervalMs <= 0 || c.Sync.EnforceIntervalMs > c.Sync.EnforceWindowMs {
		return errors.New("sync.enforce_interval_ms must be in 1..enforce_window_ms")
	}
	if c.Sync.PositionToleranceMs <= 0 {
		return errors.New("sync.position_tolerance_ms must be > 0")
	}
	if c.Sync.StateRetries <= 0 {
		return errors.New("sync.state_retries must be > 0")
	}
	if c.Sync.StateRetryBackoffMs <= 0 {
		return errors.New("sync.state_retry_backoff_ms must be > 0")
	}
	if c.Sync.KeepAliveSec <= 0 {
		return errors.New("sync.keepalive_seconds must be > 0")
	}

	if addr := strings.TrimSpace(c.Viewer.HTTPAddr); addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("viewer.http_addr: %w", err)
		}
	}
	if u := c.Viewer.BridgeURL; u != "" {
		if !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://") {
			return errors.New("viewer.bridge_url must start with ws:// or wss://")
		}
	}

	return nil
}

// Load reads and validates a config file.
func Load(path string) (Config, error) {
	var c Config
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := json.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return c, fmt.Errorf("validate %s: %w", path, err)
	}
	return c, nil
}

// Save writes the config as indented JSON.
func Save(path string, c Config) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// Ensure loads the config at path, writing defaults first when the file does
// not yet exist. Reports whether the file was created.
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		c := Default()
		if err := Save(path, c); err != nil {
			return c, false, err
		}
		return c, true, nil
	}
	c, err := Load(path)
	return c, false, err
}
