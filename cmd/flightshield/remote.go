package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/urfave/cli/v2"

	"github.com/flightshield/flightshield/chain"
	"github.com/flightshield/flightshield/crypto"
	"github.com/flightshield/flightshield/payment"
	"github.com/flightshield/flightshield/policy"
)

const apiTimeout = 30 * time.Second

var apiFlag = &cli.StringFlag{Name: "api", Value: "http://127.0.0.1:8645", Usage: "issuer API URL"}

// apiError is the body the issuer API returns with any non-2xx status.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("api: %d %s: %s", e.Status, http.StatusText(e.Status), e.Message)
}

func apiDo(ctx context.Context, method, url string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, apiTimeout)
	defer cancel()

	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var e struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&e)
		return &apiError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func apiGet(ctx context.Context, url string, out any) error {
	return apiDo(ctx, http.MethodGet, url, nil, out)
}

func apiPost(ctx context.Context, url string, body, out any) error {
	return apiDo(ctx, http.MethodPost, url, body, out)
}

var purchaseCommand = &cli.Command{
	Name:  "purchase",
	Usage: "register a note's commitment with the issuer and record its leaf index",
	Flags: []cli.Flag{
		apiFlag,
		&cli.StringFlag{Name: "note", Value: "note.json", Usage: "note file"},
	},
	Action: func(c *cli.Context) error {
		path := c.String("note")
		note, err := policy.ReadNoteFile(path)
		if err != nil {
			return err
		}
		if note.Registered {
			return fmt.Errorf("note already registered at index %d", note.LeafIndex)
		}
		var resp struct {
			Index   uint64 `json:"index"`
			Root    string `json:"root"`
			Premium string `json:"premium"`
		}
		url := fmt.Sprintf("%s/pools/%s/purchase", c.String(apiFlag.Name), note.PoolID)
		req := map[string]string{"commitment": crypto.FieldHex(note.Commitment())}
		if err := apiPost(c.Context, url, req, &resp); err != nil {
			return err
		}
		note.SetIndex(resp.Index)
		if err := policy.WriteNoteFile(path, note); err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "index: %d\nroot: %s\npremium: %s\n", resp.Index, resp.Root, resp.Premium)
		return nil
	},
}

var claimCommand = &cli.Command{
	Name:  "claim",
	Usage: "submit a claim file to the issuer",
	Flags: []cli.Flag{
		apiFlag,
		&cli.StringFlag{Name: "claim", Value: "claim.json", Usage: "claim file"},
		&cli.StringFlag{Name: "recipient", Required: true, Usage: "payout address"},
	},
	Action: func(c *cli.Context) error {
		f, err := readClaimFile(c.String("claim"))
		if err != nil {
			return err
		}
		recipient, err := addressFlag(c, "recipient")
		if err != nil {
			return err
		}
		req := map[string]any{
			"proof":         f.Proof,
			"root":          f.Root,
			"nullifierHash": f.NullifierHash,
			"recipient":     recipient,
		}
		var resp struct {
			Amount string `json:"amount"`
		}
		url := fmt.Sprintf("%s/pools/%s/claim", c.String(apiFlag.Name), f.PoolID)
		if err := apiPost(c.Context, url, req, &resp); err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "paid %s to %s\n", resp.Amount, recipient.Hex())
		return nil
	},
}

func addressFlag(c *cli.Context, name string) (common.Address, error) {
	s := c.String(name)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("--%s: invalid address %q", name, s)
	}
	return common.HexToAddress(s), nil
}

func bigFlag(c *cli.Context, name string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(c.String(name), 0)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("--%s: invalid integer %q", name, c.String(name))
	}
	return v, nil
}

// authorizationJSON is the signed message plus the calldata that executes
// it, ready to hand to a relayer.
type authorizationJSON struct {
	Token       common.Address `json:"token"`
	ChainID     string         `json:"chainId"`
	From        common.Address `json:"from"`
	To          common.Address `json:"to"`
	Value       string         `json:"value"`
	ValidAfter  uint64         `json:"validAfter"`
	ValidBefore uint64         `json:"validBefore"`
	Nonce       hexutil.Bytes  `json:"nonce"`
	Signature   hexutil.Bytes  `json:"signature"`
	Calldata    hexutil.Bytes  `json:"calldata"`
}

var authorizeCommand = &cli.Command{
	Name:  "authorize",
	Usage: "sign a stablecoin transferWithAuthorization paying a premium",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "key", EnvVars: []string{envPayerKey}, Usage: "payer private key (hex)"},
		&cli.StringFlag{Name: "token", Required: true, Usage: "token contract address"},
		&cli.StringFlag{Name: "to", Required: true, Usage: "pool address receiving the premium"},
		&cli.StringFlag{Name: "value", Required: true, Usage: "amount in token base units"},
		&cli.StringFlag{Name: "chain-id", Value: "84532", Usage: "chain id of the token"},
		&cli.DurationFlag{Name: "ttl", Value: 10 * time.Minute, Usage: "how long the authorization stays valid"},
		&cli.StringFlag{Name: "out", Usage: "output file (default stdout)"},
	},
	Action: func(c *cli.Context) error {
		if c.String("key") == "" {
			return fmt.Errorf("payer key required (--key or %s)", envPayerKey)
		}
		key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(c.String("key"), "0x"))
		if err != nil {
			return fmt.Errorf("payer key: %w", err)
		}
		token, err := addressFlag(c, "token")
		if err != nil {
			return err
		}
		to, err := addressFlag(c, "to")
		if err != nil {
			return err
		}
		value, err := uint256.FromDecimal(c.String("value"))
		if err != nil {
			return fmt.Errorf("--value: %w", err)
		}
		chainID, err := bigFlag(c, "chain-id")
		if err != nil {
			return err
		}
		from := ethcrypto.PubkeyToAddress(key.PublicKey)
		a, err := payment.NewAuthorization(from, to, value, time.Now(), c.Duration("ttl"))
		if err != nil {
			return err
		}
		domain := payment.USDCDomain(chainID, token)
		signed, err := payment.Sign(a, key, domain)
		if err != nil {
			return err
		}
		calldata, err := payment.PackTransferWithAuthorization(signed)
		if err != nil {
			return err
		}
		out := authorizationJSON{
			Token:       token,
			ChainID:     chainID.String(),
			From:        from,
			To:          to,
			Value:       value.Dec(),
			ValidAfter:  a.ValidAfter,
			ValidBefore: a.ValidBefore,
			Nonce:       a.Nonce[:],
			Signature:   signed.Signature(),
			Calldata:    calldata,
		}
		if path := c.String("out"); path != "" {
			return writeJSONFile(path, out, 0o644)
		}
		enc := json.NewEncoder(c.App.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func dialPool(c *cli.Context) (*chain.Client, error) {
	rpcURL := c.String("rpc")
	if rpcURL == "" {
		return nil, fmt.Errorf("rpc url required (--rpc or %s)", envRPCURL)
	}
	pool, err := addressFlag(c, "pool")
	if err != nil {
		return nil, err
	}
	return chain.Dial(c.Context, rpcURL, pool)
}

// transactingPool dials the pool and attaches the sender key.
func transactingPool(c *cli.Context) (*chain.Client, error) {
	if c.String("key") == "" {
		return nil, fmt.Errorf("sender key required (--key or %s)", envTxKey)
	}
	chainID, err := bigFlag(c, "chain-id")
	if err != nil {
		return nil, err
	}
	client, err := dialPool(c)
	if err != nil {
		return nil, err
	}
	if err := client.SetTransactor(c.String("key"), chainID); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

var chainCommand = &cli.Command{
	Name:  "chain",
	Usage: "interact with an on-chain policy pool",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "rpc", EnvVars: []string{envRPCURL}, Usage: "JSON-RPC endpoint"},
		&cli.StringFlag{Name: "pool", Required: true, Usage: "pool contract address"},
		&cli.StringFlag{Name: "key", EnvVars: []string{envTxKey}, Usage: "sender private key (hex)"},
		&cli.StringFlag{Name: "chain-id", Value: "84532", Usage: "chain id"},
	},
	Subcommands: []*cli.Command{
		{
			Name:  "root",
			Usage: "print the pool's latest root",
			Action: func(c *cli.Context) error {
				client, err := dialPool(c)
				if err != nil {
					return err
				}
				defer client.Close()
				root, err := client.LatestRoot(c.Context)
				if err != nil {
					return err
				}
				fmt.Fprintln(c.App.Writer, crypto.FieldHex(root))
				return nil
			},
		},
		{
			Name:  "spent",
			Usage: "report whether a nullifier hash has been spent",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "nullifier-hash", Required: true, Usage: "nullifier hash (hex)"},
			},
			Action: func(c *cli.Context) error {
				nh, err := fieldFlag(c, "nullifier-hash")
				if err != nil {
					return err
				}
				client, err := dialPool(c)
				if err != nil {
					return err
				}
				defer client.Close()
				spent, err := client.NullifierSpent(c.Context, nh)
				if err != nil {
					return err
				}
				fmt.Fprintln(c.App.Writer, spent)
				return nil
			},
		},
		{
			Name:  "buy",
			Usage: "submit buyPolicy for a note's commitment",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "note", Value: "note.json", Usage: "note file"},
			},
			Action: func(c *cli.Context) error {
				note, err := policy.ReadNoteFile(c.String("note"))
				if err != nil {
					return err
				}
				client, err := transactingPool(c)
				if err != nil {
					return err
				}
				defer client.Close()
				tx, err := client.BuyPolicy(c.Context, note.Commitment())
				if err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "tx: %s\n", tx.Hash().Hex())
				return nil
			},
		},
		{
			Name:  "claim",
			Usage: "submit a Groth16 claim file to the pool",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "claim", Value: "claim.json", Usage: "claim file"},
				&cli.StringFlag{Name: "recipient", Required: true, Usage: "payout address"},
			},
			Action: func(c *cli.Context) error {
				f, err := readClaimFile(c.String("claim"))
				if err != nil {
					return err
				}
				pub, err := f.public()
				if err != nil {
					return err
				}
				recipient, err := addressFlag(c, "recipient")
				if err != nil {
					return err
				}
				client, err := transactingPool(c)
				if err != nil {
					return err
				}
				defer client.Close()
				known, err := client.IsKnownRoot(c.Context, pub.Root)
				if err != nil {
					return err
				}
				if !known {
					return fmt.Errorf("root %s is not known to the pool", f.Root)
				}
				tx, err := client.Claim(c.Context, f.Proof, pub, recipient)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "tx: %s\n", tx.Hash().Hex())
				return nil
			},
		},
	},
}
