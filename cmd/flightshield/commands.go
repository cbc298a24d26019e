package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/urfave/cli/v2"

	"github.com/flightshield/flightshield/accumulator"
	"github.com/flightshield/flightshield/circuit"
	"github.com/flightshield/flightshield/crypto"
	"github.com/flightshield/flightshield/log"
	"github.com/flightshield/flightshield/policy"
	"github.com/flightshield/flightshield/proofs"
)

var (
	errMissingPath   = errors.New("either --path or --api is required")
	errNotRegistered = errors.New("note has no leaf index, run purchase first")
)

// Flags shared by every command that needs the circuit.
var (
	depthFlag    = &cli.IntFlag{Name: "depth", Value: accumulator.DefaultDepth, Usage: "accumulator depth the circuit is built for"}
	minDelayFlag = &cli.Uint64Flag{Name: "min-delay", Value: circuit.DefaultParams().MinDelayMinutes, Usage: "minimum qualifying delay in minutes"}
	backendFlag  = &cli.StringFlag{Name: "backend", Value: proofs.Groth16Name, Usage: "proof backend (groth16, stub)"}
	pkFlag       = &cli.StringFlag{Name: "pk", Value: "keys/claim.pk", Usage: "Groth16 proving key"}
	vkFlag       = &cli.StringFlag{Name: "vk", Value: "keys/claim.vk", Usage: "Groth16 verifying key"}
)

func circuitParams(c *cli.Context) (circuit.Params, error) {
	p := circuit.Params{Depth: c.Int(depthFlag.Name), MinDelayMinutes: c.Uint64(minDelayFlag.Name)}
	return p, p.Validate()
}

// claimFile is what prove writes and verify, claim and chain claim read.
type claimFile struct {
	PoolID        string        `json:"poolId"`
	Root          string        `json:"root"`
	NullifierHash string        `json:"nullifierHash"`
	Proof         *proofs.Proof `json:"proof"`
	Calldata      []string      `json:"calldata,omitempty"`
}

func (f *claimFile) public() (proofs.PublicInputs, error) {
	var pub proofs.PublicInputs
	var err error
	if pub.Root, err = crypto.FieldFromHex(f.Root); err != nil {
		return pub, fmt.Errorf("claim root: %w", err)
	}
	if pub.NullifierHash, err = crypto.FieldFromHex(f.NullifierHash); err != nil {
		return pub, fmt.Errorf("claim nullifier hash: %w", err)
	}
	return pub, nil
}

func readClaimFile(path string) (*claimFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f := new(claimFile)
	if err := json.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("read claim %s: %w", path, err)
	}
	if f.Proof == nil {
		return nil, fmt.Errorf("read claim %s: no proof", path)
	}
	return f, nil
}

func writeJSONFile(path string, v any, mode os.FileMode) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), mode)
}

var setupCommand = &cli.Command{
	Name:  "setup",
	Usage: "run a Groth16 setup for the claim circuit and write the keys",
	Flags: []cli.Flag{
		depthFlag, minDelayFlag,
		&cli.StringFlag{Name: "out", Value: "keys", Usage: "output directory"},
	},
	Action: func(c *cli.Context) error {
		params, err := circuitParams(c)
		if err != nil {
			return err
		}
		dir := c.String("out")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		log.Info("Compiling claim circuit", "depth", params.Depth, "minDelay", params.MinDelayMinutes)
		b, err := proofs.SetupGroth16(params)
		if err != nil {
			return err
		}
		pk, vk := filepath.Join(dir, "claim.pk"), filepath.Join(dir, "claim.vk")
		if err := b.WriteKeys(pk, vk); err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "constraints: %d\nproving key: %s\nverifying key: %s\n", b.NbConstraints(), pk, vk)
		return nil
	},
}

var exportVerifierCommand = &cli.Command{
	Name:  "export-verifier",
	Usage: "write the Solidity verifier for a verifying key",
	Flags: []cli.Flag{
		depthFlag, minDelayFlag, vkFlag,
		&cli.StringFlag{Name: "out", Usage: "output file (default stdout)"},
	},
	Action: func(c *cli.Context) error {
		params, err := circuitParams(c)
		if err != nil {
			return err
		}
		b, err := proofs.LoadGroth16(params, "", c.String(vkFlag.Name))
		if err != nil {
			return err
		}
		out := c.String("out")
		if out == "" {
			return b.ExportSolidity(c.App.Writer)
		}
		f, err := os.Create(out)
		if err != nil {
			return err
		}
		if err := b.ExportSolidity(f); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	},
}

var noteCommand = &cli.Command{
	Name:  "note",
	Usage: "create a policy note with a fresh salt",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "pool", Required: true, Usage: "pool id"},
		&cli.StringFlag{Name: "policy-id", Required: true, Usage: "policy id (decimal or 0x-hex)"},
		&cli.StringFlag{Name: "ticket", Required: true, Usage: "ticket number"},
		&cli.StringFlag{Name: "flight", Required: true, Usage: "flight number"},
		&cli.StringFlag{Name: "name", Required: true, Usage: "passenger name"},
		&cli.Uint64Flag{Name: "index", Usage: "leaf index, if the commitment is already registered"},
		&cli.StringFlag{Name: "out", Value: "note.json", Usage: "note file"},
	},
	Action: func(c *cli.Context) error {
		policyID, err := crypto.FieldFromHex(c.String("policy-id"))
		if err != nil {
			return fmt.Errorf("policy id: %w", err)
		}
		passenger := policy.Passenger{
			TicketNumber: c.String("ticket"),
			FlightNumber: c.String("flight"),
			Name:         c.String("name"),
		}
		note, err := policy.NewNote(c.String("pool"), policyID, passenger.Hash())
		if err != nil {
			return err
		}
		if c.IsSet("index") {
			note.SetIndex(c.Uint64("index"))
		}
		if err := policy.WriteNoteFile(c.String("out"), note); err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "commitment: %s\nnote: %s\n", crypto.FieldHex(note.Commitment()), c.String("out"))
		return nil
	},
}

// inclusionPath returns the note's inclusion proof, from a file or from the
// issuer API. An API path is checked against the note before it is used.
func inclusionPath(c *cli.Context, note *policy.Note) (*accumulator.Proof, error) {
	if path := c.String("path"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		p := new(accumulator.Proof)
		if err := json.Unmarshal(data, p); err != nil {
			return nil, fmt.Errorf("read path %s: %w", path, err)
		}
		return p, nil
	}
	api := c.String("api")
	if api == "" {
		return nil, errMissingPath
	}
	if !note.Registered {
		return nil, errNotRegistered
	}
	var resp struct {
		Leaf  string             `json:"leaf"`
		Root  string             `json:"root"`
		Proof *accumulator.Proof `json:"proof"`
	}
	url := fmt.Sprintf("%s/pools/%s/proof/%d", api, note.PoolID, note.LeafIndex)
	if err := apiGet(c.Context, url, &resp); err != nil {
		return nil, err
	}
	if resp.Proof == nil {
		return nil, fmt.Errorf("%s: no proof in response", url)
	}
	want := note.Commitment()
	if got := resp.Leaf; got != crypto.FieldHex(want) {
		return nil, fmt.Errorf("leaf %d is %s, note commits to %s", note.LeafIndex, got, crypto.FieldHex(want))
	}
	root, err := crypto.FieldFromHex(resp.Root)
	if err != nil {
		return nil, err
	}
	if !accumulator.Verify(root, want, resp.Proof) {
		return nil, fmt.Errorf("inclusion proof for leaf %d does not match root %s", note.LeafIndex, resp.Root)
	}
	return resp.Proof, nil
}

var proveCommand = &cli.Command{
	Name:  "prove",
	Usage: "prove a claim for a note",
	Flags: []cli.Flag{
		depthFlag, minDelayFlag, backendFlag, pkFlag, vkFlag,
		&cli.StringFlag{Name: "note", Value: "note.json", Usage: "note file"},
		&cli.StringFlag{Name: "path", Usage: "inclusion proof file"},
		&cli.StringFlag{Name: "api", Usage: "issuer API URL to fetch the inclusion proof from"},
		&cli.Uint64Flag{Name: "delay", Required: true, Usage: "attested delay in minutes"},
		&cli.StringFlag{Name: "out", Value: "claim.json", Usage: "claim file"},
	},
	Action: func(c *cli.Context) error {
		params, err := circuitParams(c)
		if err != nil {
			return err
		}
		note, err := policy.ReadNoteFile(c.String("note"))
		if err != nil {
			return err
		}
		path, err := inclusionPath(c, note)
		if err != nil {
			return err
		}
		w, err := circuit.NewWitness(note, path, c.Uint64("delay"))
		if err != nil {
			return err
		}
		backend, err := proofs.Open(c.String(backendFlag.Name), proofs.Config{
			Params:       params,
			ProvingKey:   c.String(pkFlag.Name),
			VerifyingKey: c.String(vkFlag.Name),
		})
		if err != nil {
			return err
		}
		proof, err := backend.Prove(c.Context, w)
		if err != nil {
			return err
		}
		out := claimFile{
			PoolID:        note.PoolID,
			Root:          crypto.FieldHex(w.Root),
			NullifierHash: crypto.FieldHex(w.NullifierHash),
			Proof:         proof,
		}
		if proof.Backend == proofs.Groth16Name {
			words, err := proofs.Calldata(proof)
			if err != nil {
				return err
			}
			for _, word := range words {
				out.Calldata = append(out.Calldata, word.String())
			}
		}
		if err := writeJSONFile(c.String("out"), out, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "root: %s\nnullifier hash: %s\nclaim: %s\n", out.Root, out.NullifierHash, c.String("out"))
		return nil
	},
}

var verifyCommand = &cli.Command{
	Name:  "verify",
	Usage: "verify a claim file locally",
	Flags: []cli.Flag{
		depthFlag, minDelayFlag, backendFlag, vkFlag,
		&cli.StringFlag{Name: "claim", Value: "claim.json", Usage: "claim file"},
	},
	Action: func(c *cli.Context) error {
		params, err := circuitParams(c)
		if err != nil {
			return err
		}
		f, err := readClaimFile(c.String("claim"))
		if err != nil {
			return err
		}
		pub, err := f.public()
		if err != nil {
			return err
		}
		backend, err := proofs.Open(c.String(backendFlag.Name), proofs.Config{
			Params:       params,
			VerifyingKey: c.String(vkFlag.Name),
		})
		if err != nil {
			return err
		}
		if err := backend.Verify(f.Proof, pub); err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, "valid")
		return nil
	},
}

// fieldFlag parses a hex or decimal field element flag.
func fieldFlag(c *cli.Context, name string) (fr.Element, error) {
	e, err := crypto.FieldFromHex(c.String(name))
	if err != nil {
		return e, fmt.Errorf("--%s: %w", name, err)
	}
	return e, nil
}
