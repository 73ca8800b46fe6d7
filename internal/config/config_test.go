package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	c := Default()
	if err := c.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty data dir", func(c *Config) { c.Paths.DataDir = " " }},
		{"empty music dir", func(c *Config) { c.Paths.MusicDir = "" }},
		{"bad listen port", func(c *Config) { c.P2P.ListenPort = 70000 }},
		{"bad bootstrap addr", func(c *Config) { c.P2P.Bootstrap = []string{"not-a-multiaddr"} }},
		{"zero presence ttl", func(c *Config) { c.Presence.TTLSec = 0 }},
		{"heartbeat >= ttl", func(c *Config) { c.Presence.HeartbeatSec = 20 }},
		{"zero stale threshold", func(c *Config) { c.Sync.StaleThresholdMs = 0 }},
		{"interval > window", func(c *Config) { c.Sync.EnforceIntervalMs = c.Sync.EnforceWindowMs + 1 }},
		{"zero tolerance", func(c *Config) { c.Sync.PositionToleranceMs = 0 }},
		{"zero retries", func(c *Config) { c.Sync.StateRetries = 0 }},
		{"zero backoff", func(c *Config) { c.Sync.StateRetryBackoffMs = 0 }},
		{"zero keepalive", func(c *Config) { c.Sync.KeepAliveSec = 0 }},
		{"bad viewer addr", func(c *Config) { c.Viewer.HTTPAddr = "nohost" }},
		{"bad bridge url", func(c *Config) { c.Viewer.BridgeURL = "http://x" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := Default()
			tc.mutate(&c)
			if err := c.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestValidBootstrapAccepted(t *testing.T) {
	c := Default()
	c.P2P.Bootstrap = []string{
		"/ip4/203.0.113.7/tcp/4001/p2p/12D3KooWQYhTNQdmr3oUTa5nB6S8YzkTnUBmHdLPzfJCzvSBT3sB",
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("valid bootstrap rejected: %v", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "auxroom.json")
	c := Default()
	c.Profile.Name = "dj-rhea"
	c.P2P.ListenPort = 4040

	if err := Save(path, c); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Profile.Name != "dj-rhea" || got.P2P.ListenPort != 4040 {
		t.Errorf("round trip lost fields: %+v", got)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auxroom.json")
	if err := os.WriteFile(path, []byte(`{"paths":{"data_dir":""}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("invalid config loaded without error")
	}
}

func TestEnsureCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auxroom.json")

	c, created, err := Ensure(path)
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Fatal("Ensure did not report creation")
	}
	if c.Sync.StaleThresholdMs != Default().Sync.StaleThresholdMs {
		t.Errorf("created config is not the default: %+v", c.Sync)
	}

	_, created, err = Ensure(path)
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Error("second Ensure re-created the file")
	}
}
