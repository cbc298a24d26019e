// Package node runs a flightshield issuer: it owns the pool store, the
// proving backend and the HTTP API that buyers and claimants talk to.
package node

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"gopkg.in/yaml.v2"

	"github.com/flightshield/flightshield/circuit"
	"github.com/flightshield/flightshield/claims"
	"github.com/flightshield/flightshield/crypto"
	"github.com/flightshield/flightshield/log"
	"github.com/flightshield/flightshield/proofs"
)

// Config holds all configuration for a node. It is usually loaded from a
// YAML file and then overridden by command-line flags.
type Config struct {
	// DataDir is the root directory for all data storage. Empty keeps
	// everything in memory.
	DataDir string `yaml:"datadir"`

	HTTP    HTTPConfig         `yaml:"http"`
	Log     LogConfig          `yaml:"log"`
	Prover  ProverConfig       `yaml:"prover"`
	Circuit circuit.Params     `yaml:"circuit"`
	Pools   []PoolConfig       `yaml:"pools"`
	Issuer  IssuerConfig       `yaml:"issuer"`
	Queue   proofs.QueueConfig `yaml:"queue"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ProverConfig selects the proof backend and its key files. Relative key
// paths resolve against DataDir.
type ProverConfig struct {
	Backend      string `yaml:"backend"`
	ProvingKey   string `yaml:"proving_key"`
	VerifyingKey string `yaml:"verifying_key"`
}

// IssuerConfig holds the checkpoint signing key, hex encoded. It is
// normally supplied through the environment rather than the file.
type IssuerConfig struct {
	BLSKey string `yaml:"bls_key"`
}

// PoolConfig describes one pool. Amounts are decimal token base units.
type PoolConfig struct {
	ID              string `yaml:"id"`
	ZeroValue       string `yaml:"zero_value"`
	RootHistorySize int    `yaml:"root_history_size"`
	Premium         string `yaml:"premium"`
	Payout          string `yaml:"payout"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DataDir: "flightshield-data",
		HTTP: HTTPConfig{
			Addr:         "127.0.0.1:8645",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 5 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: log.FormatJSON,
		},
		Prover: ProverConfig{
			Backend:      proofs.Groth16Name,
			ProvingKey:   "keys/claim.pk",
			VerifyingKey: "keys/claim.vk",
		},
		Circuit: circuit.DefaultParams(),
		Queue:   proofs.DefaultQueueConfig(),
	}
}

// LoadConfig reads a YAML file over DefaultConfig.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML over DefaultConfig. Unknown keys are errors.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Validate checks configuration values for correctness.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.HTTP.Addr); err != nil {
		return fmt.Errorf("config: invalid http addr %q: %w", c.HTTP.Addr, err)
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	switch c.Log.Format {
	case log.FormatJSON, log.FormatText:
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	if _, err := proofs.Lookup(c.Prover.Backend); err != nil {
		return fmt.Errorf("config: prover %q: %w", c.Prover.Backend, err)
	}
	if err := c.Circuit.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Queue.Workers < 0 || c.Queue.QueueSize < 0 || c.Queue.Deadline < 0 {
		return errors.New("config: queue settings must not be negative")
	}
	if len(c.Pools) == 0 {
		return errors.New("config: no pools configured")
	}
	seen := make(map[string]bool, len(c.Pools))
	for _, pc := range c.Pools {
		if seen[pc.ID] {
			return fmt.Errorf("config: duplicate pool %q", pc.ID)
		}
		seen[pc.ID] = true
		pool, err := pc.claimsConfig(c.Circuit.Depth)
		if err != nil {
			return err
		}
		if err := pool.Validate(); err != nil {
			return fmt.Errorf("config: pool %q: %w", pc.ID, err)
		}
	}
	if c.Issuer.BLSKey != "" {
		if _, err := c.Issuer.signer(); err != nil {
			return fmt.Errorf("config: issuer key: %w", err)
		}
	}
	return nil
}

// ResolvePath resolves a path relative to the data directory.
func (c *Config) ResolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) || c.DataDir == "" {
		return path
	}
	return filepath.Join(c.DataDir, path)
}

// claimsConfig converts pc for a circuit of the given depth.
func (pc PoolConfig) claimsConfig(depth int) (claims.Config, error) {
	cfg := claims.DefaultConfig(pc.ID)
	cfg.Depth = depth
	if pc.RootHistorySize != 0 {
		cfg.RootHistorySize = pc.RootHistorySize
	}
	if pc.ZeroValue != "" {
		zero, err := crypto.FieldFromHex(pc.ZeroValue)
		if err != nil {
			return cfg, fmt.Errorf("config: pool %q zero_value: %w", pc.ID, err)
		}
		cfg.ZeroValue = zero
	}
	for _, amt := range []struct {
		name string
		src  string
		dst  **uint256.Int
	}{
		{"premium", pc.Premium, &cfg.Premium},
		{"payout", pc.Payout, &cfg.Payout},
	} {
		if amt.src == "" {
			continue
		}
		v, err := uint256.FromDecimal(amt.src)
		if err != nil {
			return cfg, fmt.Errorf("config: pool %q %s: %w", pc.ID, amt.name, err)
		}
		*amt.dst = v
	}
	return cfg, nil
}

// signer returns the issuer's checkpoint signer, or nil if no key is set.
func (ic IssuerConfig) signer() (*crypto.BLSSigner, error) {
	if ic.BLSKey == "" {
		return nil, nil
	}
	raw, err := decodeHex(ic.BLSKey)
	if err != nil {
		return nil, err
	}
	return crypto.LoadBLSSigner(raw)
}

func decodeHex(s string) ([]byte, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	return hexutil.Decode(s)
}
