// Command flightshield runs a flight-delay cover issuer and the client-side
// tools that go with it.
//
// Usage:
//
//	flightshield setup --out keys/
//	flightshield export-verifier --vk keys/claim.vk --out Verifier.sol
//	flightshield note --pool lh-2026 --policy-id 1 --ticket T --flight LH400 --name NAME --out note.json
//	flightshield purchase --note note.json --api http://127.0.0.1:8645
//	flightshield prove --note note.json --api http://127.0.0.1:8645 --delay 185 --out claim.json
//	flightshield verify --claim claim.json
//	flightshield claim --claim claim.json --recipient 0x...
//	flightshield chain --pool 0x... root
//	flightshield authorize --to 0x... --value 5000000 --chain-id 84532 --token 0x...
//	flightshield serve --config flightshield.yaml
//
// Private keys and the RPC URL are read from the
// environment, which is seeded from a .env file when one exists.
package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/flightshield/flightshield/log"
	"github.com/flightshield/flightshield/node"
)

// Build-time version info, overridable with ldflags:
//
//	go build -ldflags "-X main.version=v0.2.0 -X main.commit=abc1234"
var (
	version = "v0.1.0-dev"
	commit  = "unknown"
)

// Environment variables.
const (
	envBLSKey   = "FLIGHTSHIELD_BLS_KEY"
	envPayerKey = "FLIGHTSHIELD_PAYER_KEY"
	envRPCURL   = "FLIGHTSHIELD_RPC_URL"
	envTxKey    = "FLIGHTSHIELD_TX_KEY"
)

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

// run is the actual entry point, returning an exit code. It takes the full
// argument list, program name included, so it can be tested in isolation.
func run(args []string, stdout, stderr io.Writer) int {
	app := newApp(stdout, stderr)
	if err := app.Run(args); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		var ec cli.ExitCoder
		if errors.As(err, &ec) && ec.ExitCode() != 0 {
			return ec.ExitCode()
		}
		return 1
	}
	return 0
}

func newApp(stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:      "flightshield",
		Usage:     "private flight-delay cover: policies, proofs and claims",
		Version:   fmt.Sprintf("%s (commit %s)", version, commit),
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "env-file", Value: ".env", Usage: "dotenv file to load into the environment"},
			&cli.StringFlag{Name: "log.level", Value: "info", Usage: "log level (debug, info, warn, error)"},
		},
		Before: func(c *cli.Context) error {
			if err := loadEnv(c.String("env-file")); err != nil {
				return err
			}
			level, err := log.ParseLevel(c.String("log.level"))
			if err != nil {
				return err
			}
			l, err := log.NewWriter(stderr, log.FormatText, level)
			if err != nil {
				return err
			}
			log.SetDefault(l)
			return nil
		},
		// Errors are reported by run; never let the library call os.Exit.
		ExitErrHandler: func(*cli.Context, error) {},
		Commands: []*cli.Command{
			setupCommand,
			exportVerifierCommand,
			noteCommand,
			purchaseCommand,
			proveCommand,
			verifyCommand,
			claimCommand,
			authorizeCommand,
			chainCommand,
			serveCommand,
			{
				Name:  "version",
				Usage: "print version and exit",
				Action: func(c *cli.Context) error {
					fmt.Fprintf(c.App.Writer, "flightshield %s (commit %s)\n", version, commit)
					return nil
				},
			},
		},
	}
}

// loadEnv seeds the environment from path. A missing file is not an error;
// variables already set win over the file.
func loadEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "run the issuer node and its HTTP API",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "config", Usage: "YAML config file"},
		&cli.StringFlag{Name: "datadir", Usage: "data directory (overrides config)"},
		&cli.StringFlag{Name: "http.addr", Usage: "HTTP API listen address (overrides config)"},
		&cli.StringFlag{Name: "backend", Usage: "proof backend (overrides config)"},
		&cli.StringFlag{Name: "log.format", Usage: "log format, json or text (overrides config)"},
	},
	Action: func(c *cli.Context) error {
		cfg, err := serveConfig(c)
		if err != nil {
			return err
		}
		n, err := node.New(cfg)
		if err != nil {
			return err
		}
		if err := n.Start(); err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "flightshield %s serving on %s\n", version, n.Addr())

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		log.Info("Received signal, shutting down", "signal", sig.String())
		return n.Stop()
	},
}

// serveConfig layers defaults, the config file, the environment and flags,
// in that order.
func serveConfig(c *cli.Context) (node.Config, error) {
	cfg := node.DefaultConfig()
	if path := c.String("config"); path != "" {
		var err error
		if cfg, err = node.LoadConfig(path); err != nil {
			return cfg, err
		}
	}
	if key := os.Getenv(envBLSKey); key != "" {
		cfg.Issuer.BLSKey = key
	}
	if c.IsSet("datadir") {
		cfg.DataDir = c.String("datadir")
	}
	if c.IsSet("http.addr") {
		cfg.HTTP.Addr = c.String("http.addr")
	}
	if c.IsSet("backend") {
		cfg.Prover.Backend = c.String("backend")
	}
	if c.IsSet("log.format") {
		cfg.Log.Format = c.String("log.format")
	}
	if c.IsSet("log.level") {
		cfg.Log.Level = c.String("log.level")
	}
	return cfg, cfg.Validate()
}
