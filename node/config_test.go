package node

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/flightshield/flightshield/proofs"
)

const sampleYAML = `
datadir: /var/lib/flightshield
http:
  addr: 0.0.0.0:9000
  read_timeout: 3s
log:
  level: debug
  format: text
prover:
  backend: stub
circuit:
  depth: 6
  min_delay_minutes: 180
queue:
  workers: 2
  deadline: 30s
pools:
  - id: lh-2026-q1
    premium: "5000000"
    payout: "100000000"
    root_history_size: 10
  - id: lh-2026-q2
    zero_value: "0x01"
`

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.DataDir = ""
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.Prover.Backend = proofs.StubName
	cfg.Pools = []PoolConfig{{ID: "lh-2026", Premium: "5000000", Payout: "100000000"}}
	return cfg
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.DataDir != "/var/lib/flightshield" || cfg.HTTP.Addr != "0.0.0.0:9000" {
		t.Fatalf("datadir/addr = %q, %q", cfg.DataDir, cfg.HTTP.Addr)
	}
	if cfg.HTTP.ReadTimeout != 3*time.Second {
		t.Fatalf("read timeout = %v", cfg.HTTP.ReadTimeout)
	}
	// Keys absent from the file keep their defaults.
	if cfg.HTTP.WriteTimeout != DefaultConfig().HTTP.WriteTimeout {
		t.Fatalf("write timeout = %v, want default", cfg.HTTP.WriteTimeout)
	}
	if cfg.Circuit.MinDelayMinutes != 180 || cfg.Queue.Workers != 2 || cfg.Queue.Deadline != 30*time.Second {
		t.Fatalf("circuit/queue = %+v, %+v", cfg.Circuit, cfg.Queue)
	}
	if len(cfg.Pools) != 2 || cfg.Pools[0].RootHistorySize != 10 || cfg.Pools[1].ZeroValue != "0x01" {
		t.Fatalf("pools = %+v", cfg.Pools)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	pc, err := cfg.Pools[0].claimsConfig(cfg.Circuit.Depth)
	if err != nil {
		t.Fatalf("claimsConfig: %v", err)
	}
	if pc.Payout.Uint64() != 100_000_000 || pc.Premium.Uint64() != 5_000_000 || pc.Depth != 6 {
		t.Fatalf("claims config = %+v", pc)
	}
}

func TestParseConfig_UnknownKey(t *testing.T) {
	if _, err := ParseConfig([]byte("datadir: x\nbogus: 1\n")); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flightshield.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Log.Format != "text" {
		t.Fatalf("log format = %q", cfg.Log.Format)
	}
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"bad addr", func(c *Config) { c.HTTP.Addr = "nope" }, "http addr"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log format"},
		{"bad backend", func(c *Config) { c.Prover.Backend = "plonk" }, "plonk"},
		{"bad depth", func(c *Config) { c.Circuit.Depth = 0 }, "depth"},
		{"negative queue", func(c *Config) { c.Queue.Workers = -1 }, "queue"},
		{"no pools", func(c *Config) { c.Pools = nil }, "no pools"},
		{"duplicate pool", func(c *Config) { c.Pools = append(c.Pools, c.Pools[0]) }, "duplicate"},
		{"bad payout", func(c *Config) { c.Pools[0].Payout = "-1" }, "payout"},
		{"bad zero value", func(c *Config) { c.Pools[0].ZeroValue = "0xzz" }, "zero_value"},
		{"bad issuer key", func(c *Config) { c.Issuer.BLSKey = "0x1234" }, "issuer"},
	}
	for _, tt := range tests {
		cfg := validConfig()
		tt.mutate(&cfg)
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Fatalf("%s: err = %v, want mention of %q", tt.name, err, tt.want)
		}
	}
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config: %v", err)
	}
}

func TestConfig_ResolvePath(t *testing.T) {
	cfg := Config{DataDir: "/data"}
	if got := cfg.ResolvePath("keys/claim.pk"); got != "/data/keys/claim.pk" {
		t.Fatalf("relative = %q", got)
	}
	if got := cfg.ResolvePath("/etc/claim.pk"); got != "/etc/claim.pk" {
		t.Fatalf("absolute = %q", got)
	}
	cfg.DataDir = ""
	if got := cfg.ResolvePath("keys/claim.pk"); got != "keys/claim.pk" {
		t.Fatalf("no datadir = %q", got)
	}
}
