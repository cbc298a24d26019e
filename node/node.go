package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethdb"

	"github.com/flightshield/flightshield/claims"
	"github.com/flightshield/flightshield/crypto"
	"github.com/flightshield/flightshield/log"
	"github.com/flightshield/flightshield/metrics"
	"github.com/flightshield/flightshield/proofs"
	"github.com/flightshield/flightshield/rawdb"
)

// Service priorities. Lower starts first and stops last.
const (
	priorityStore  = 0
	priorityProver = 10
	priorityHTTP   = 20
)

// shutdownTimeout bounds how long Stop waits for in-flight requests.
const shutdownTimeout = 10 * time.Second

// Node is a running issuer: a pool store, a proof backend behind a bounded
// queue, and the HTTP API.
type Node struct {
	config Config
	logger *log.Logger
	log    *log.Logger

	db      ethdb.KeyValueStore
	backend proofs.Backend
	queue   *proofs.Queue
	pools   map[string]*claims.Pool
	order   []string

	server   *http.Server
	listener net.Listener
	lc       *lifecycle

	mu      sync.Mutex
	running bool
	stop    chan struct{}
}

// New opens the store, the proof backend and every configured pool. It
// does not start the HTTP server.
func New(config Config) (*Node, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	level, _ := log.ParseLevel(config.Log.Level)
	logger, err := log.NewWriter(os.Stderr, config.Log.Format, level)
	if err != nil {
		return nil, err
	}
	return newNode(config, logger)
}

func newNode(config Config, logger *log.Logger) (n *Node, err error) {
	n = &Node{
		config: config,
		logger: logger,
		log:    logger.Module("node"),
		pools:  make(map[string]*claims.Pool, len(config.Pools)),
		lc:     newLifecycle(),
		stop:   make(chan struct{}),
	}

	if n.db, err = rawdb.Open(config.DataDir, false); err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			n.db.Close()
		}
	}()

	n.backend, err = proofs.Open(config.Prover.Backend, proofs.Config{
		Params:       config.Circuit,
		ProvingKey:   config.ResolvePath(config.Prover.ProvingKey),
		VerifyingKey: config.ResolvePath(config.Prover.VerifyingKey),
	})
	if err != nil {
		return nil, err
	}
	n.queue = proofs.NewQueue(n.backend, config.Queue)
	defer func() {
		if err != nil {
			n.queue.Close()
		}
	}()

	signer, err := config.Issuer.signer()
	if err != nil {
		return nil, fmt.Errorf("issuer key: %w", err)
	}
	opts := []claims.Option{claims.WithLogger(logger)}
	if signer != nil {
		opts = append(opts, claims.WithSigner(signer))
		n.log.Info("Checkpoint signing enabled", "pubkey", fmt.Sprintf("%x", signer.PublicKey()))
	}
	for _, pc := range config.Pools {
		cfg, err := pc.claimsConfig(config.Circuit.Depth)
		if err != nil {
			return nil, err
		}
		pool, err := claims.Open(n.db, cfg, n.queue, opts...)
		if err != nil {
			return nil, fmt.Errorf("open pool %q: %w", pc.ID, err)
		}
		n.pools[pc.ID] = pool
		n.order = append(n.order, pc.ID)
		n.log.Info("Pool opened", "pool", pc.ID, "size", pool.Size(), "root", crypto.FieldHex(pool.Root()))
	}
	metrics.PoolsOpen.Set(int64(len(n.pools)))

	n.server = &http.Server{
		Addr:         config.HTTP.Addr,
		Handler:      n.Handler(),
		ReadTimeout:  config.HTTP.ReadTimeout,
		WriteTimeout: config.HTTP.WriteTimeout,
	}
	for _, reg := range []struct {
		svc      Service
		priority int
	}{
		{serviceFuncs{name: "store", stop: n.db.Close}, priorityStore},
		{serviceFuncs{name: "prover", stop: func() error { n.queue.Close(); return nil }}, priorityProver},
		{serviceFuncs{name: "http", start: n.startHTTP, stop: n.stopHTTP}, priorityHTTP},
	} {
		if err := n.lc.register(reg.svc, reg.priority); err != nil {
			return nil, err
		}
	}
	return n, nil
}

func (n *Node) startHTTP() error {
	ln, err := net.Listen("tcp", n.config.HTTP.Addr)
	if err != nil {
		return err
	}
	n.listener = ln
	go func() {
		if err := n.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			n.log.Error("HTTP server failed", "err", err)
		}
	}()
	n.log.Info("HTTP API listening", "addr", ln.Addr().String())
	return nil
}

func (n *Node) stopHTTP() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return n.server.Shutdown(ctx)
}

// Start starts the node's services.
func (n *Node) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.running {
		return errors.New("node already running")
	}
	n.log.Info("Starting flightshield node", "backend", n.backend.Name(), "pools", len(n.pools))
	if err := n.lc.startAll(); err != nil {
		return err
	}
	n.running = true
	return nil
}

// Stop shuts the services down in reverse order and closes the store.
func (n *Node) Stop() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.running {
		return nil
	}
	n.log.Info("Stopping flightshield node")
	err := n.lc.stopAll()
	n.running = false
	close(n.stop)
	return err
}

// Wait blocks until the node is stopped.
func (n *Node) Wait() {
	<-n.stop
}

// Addr returns the address the HTTP API listens on, once started.
func (n *Node) Addr() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.listener == nil {
		return ""
	}
	return n.listener.Addr().String()
}

// Pool returns a pool by id.
func (n *Node) Pool(id string) (*claims.Pool, bool) {
	p, ok := n.pools[id]
	return p, ok
}

// Backend returns the proof backend.
func (n *Node) Backend() proofs.Backend { return n.backend }

// Config returns the node configuration.
func (n *Node) Config() Config { return n.config }

// Running reports whether the node is currently running.
func (n *Node) Running() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.running
}
