package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/flightshield/flightshield/crypto"
	"github.com/flightshield/flightshield/proofs"
)

// Client errors.
var (
	ErrReadOnly   = errors.New("chain: client has no transactor")
	ErrBadKey     = errors.New("chain: invalid private key")
	ErrNoVerifier = errors.New("chain: no verifier address")
)

// Client reads and writes one policy pool contract.
type Client struct {
	backend  bind.ContractBackend
	pool     *bind.BoundContract
	address  common.Address
	verifier common.Address
	auth     *bind.TransactOpts
	closer   func()
}

// Dial connects to an Ethereum JSON-RPC endpoint.
func Dial(ctx context.Context, rpcURL string, pool common.Address) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", rpcURL, err)
	}
	c := NewClient(ec, pool)
	c.closer = ec.Close
	return c, nil
}

// NewClient wraps an existing backend.
func NewClient(backend bind.ContractBackend, pool common.Address) *Client {
	return &Client{
		backend: backend,
		pool:    bind.NewBoundContract(pool, PoolABI, backend, backend, backend),
		address: pool,
	}
}

// Close releases the RPC connection if the client dialled it.
func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
	}
}

// Address returns the pool contract address.
func (c *Client) Address() common.Address { return c.address }

// SetVerifier sets the address of the exported verifier contract.
func (c *Client) SetVerifier(addr common.Address) { c.verifier = addr }

// SetTransactor signs transactions with the hex-encoded secp256k1 key for
// the given chain id.
func (c *Client) SetTransactor(hexKey string, chainID *big.Int) error {
	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadKey, err)
	}
	auth, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return err
	}
	c.auth = auth
	return nil
}

// From returns the transactor's address, or the zero address when the
// client is read-only.
func (c *Client) From() common.Address {
	if c.auth == nil {
		return common.Address{}
	}
	return c.auth.From
}

func (c *Client) call(ctx context.Context, method string, args ...any) ([]any, error) {
	var out []any
	if err := c.pool.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, fmt.Errorf("chain: %s: %w", method, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("%w: %s returned %d values", ErrBadOutput, method, len(out))
	}
	return out, nil
}

func (c *Client) callBool(ctx context.Context, method string, args ...any) (bool, error) {
	out, err := c.call(ctx, method, args...)
	if err != nil {
		return false, err
	}
	v, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrBadOutput, method)
	}
	return v, nil
}

// LatestRoot returns the pool contract's current root.
func (c *Client) LatestRoot(ctx context.Context) (fr.Element, error) {
	out, err := c.call(ctx, "latestRoot")
	if err != nil {
		return fr.Element{}, err
	}
	raw := *abi.ConvertType(out[0], new([32]byte)).(*[32]byte)
	return crypto.FieldFromBytes(raw[:])
}

// IsKnownRoot asks whether the contract accepts claims against root.
func (c *Client) IsKnownRoot(ctx context.Context, root fr.Element) (bool, error) {
	return c.callBool(ctx, "isKnownRoot", bytes32(root))
}

// NullifierSpent asks whether nh has been paid.
func (c *Client) NullifierSpent(ctx context.Context, nh fr.Element) (bool, error) {
	return c.callBool(ctx, "nullifierSpent", bytes32(nh))
}

func (c *Client) transactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	if c.auth == nil {
		return nil, ErrReadOnly
	}
	opts := *c.auth
	opts.Context = ctx
	return &opts, nil
}

// BuyPolicy submits buyPolicy(commitment).
func (c *Client) BuyPolicy(ctx context.Context, commitment fr.Element) (*types.Transaction, error) {
	opts, err := c.transactOpts(ctx)
	if err != nil {
		return nil, err
	}
	return c.pool.Transact(opts, "buyPolicy", bytes32(commitment))
}

// Claim submits claim(proof, root, nullifierHash, recipient).
func (c *Client) Claim(ctx context.Context, proof *proofs.Proof, pub proofs.PublicInputs, recipient common.Address) (*types.Transaction, error) {
	opts, err := c.transactOpts(ctx)
	if err != nil {
		return nil, err
	}
	words, err := proofs.Calldata(proof)
	if err != nil {
		return nil, err
	}
	return c.pool.Transact(opts, "claim", words, bytes32(pub.Root), bytes32(pub.NullifierHash), recipient)
}

// VerifyProof runs the exported verifier as an eth_call. A nil error means
// the verifier accepted the proof.
func (c *Client) VerifyProof(ctx context.Context, proof *proofs.Proof, pub proofs.PublicInputs) error {
	if c.verifier == (common.Address{}) {
		return ErrNoVerifier
	}
	data, err := PackVerify(proof, pub)
	if err != nil {
		return err
	}
	to := c.verifier
	if _, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil); err != nil {
		return fmt.Errorf("%w: %v", proofs.ErrInvalidProof, err)
	}
	return nil
}
