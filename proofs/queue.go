// queue.go puts a bounded worker pool in front of a backend. Proving takes
// seconds and verification tens of milliseconds; the queue caps how many run
// at once and gives every job a deadline, so a burst of claims cannot starve
// the node.
package proofs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/flightshield/flightshield/circuit"
)

// Queue errors.
var (
	ErrQueueClosed      = errors.New("proofs: queue is closed")
	ErrQueueFull        = errors.New("proofs: queue is full")
	ErrDeadlineExceeded = errors.New("proofs: job deadline exceeded")
)

// QueueConfig configures the worker pool.
type QueueConfig struct {
	// Workers is the number of concurrent jobs.
	Workers int `yaml:"workers"`

	// QueueSize is the maximum number of pending jobs.
	QueueSize int `yaml:"queue_size"`

	// Deadline bounds each job, measured from submission.
	Deadline time.Duration `yaml:"deadline"`
}

// DefaultQueueConfig returns a config with sensible defaults.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		Workers:   4,
		QueueSize: 256,
		Deadline:  2 * time.Minute,
	}
}

type jobResult struct {
	proof *Proof
	err   error
}

type job struct {
	ctx    context.Context
	run    func(ctx context.Context) (*Proof, error)
	result chan jobResult
}

// Queue is a Backend that runs the wrapped backend's work on a fixed pool of
// workers. Safe for concurrent use.
type Queue struct {
	backend Backend
	config  QueueConfig

	mu     sync.RWMutex // guards closed and sends on jobs
	closed bool
	jobs   chan job
	wg     sync.WaitGroup
}

// NewQueue starts a queue over backend.
func NewQueue(backend Backend, config QueueConfig) *Queue {
	def := DefaultQueueConfig()
	if config.Workers <= 0 {
		config.Workers = def.Workers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = def.QueueSize
	}
	if config.Deadline <= 0 {
		config.Deadline = def.Deadline
	}
	q := &Queue{
		backend: backend,
		config:  config,
		jobs:    make(chan job, config.QueueSize),
	}
	q.wg.Add(config.Workers)
	for i := 0; i < config.Workers; i++ {
		go q.worker()
	}
	return q
}

// Name returns the wrapped backend's name.
func (q *Queue) Name() string { return q.backend.Name() }

// Backend returns the wrapped backend.
func (q *Queue) Backend() Backend { return q.backend }

// Prove implements Prover.
func (q *Queue) Prove(ctx context.Context, w *circuit.Witness) (*Proof, error) {
	return q.submit(ctx, func(ctx context.Context) (*Proof, error) {
		return q.backend.Prove(ctx, w)
	})
}

// Verify implements Verifier. Verification is bounded by the queue deadline
// alone.
func (q *Queue) Verify(proof *Proof, pub PublicInputs) error {
	return q.VerifyContext(context.Background(), proof, pub)
}

// VerifyContext is Verify with a caller context.
func (q *Queue) VerifyContext(ctx context.Context, proof *Proof, pub PublicInputs) error {
	_, err := q.submit(ctx, func(context.Context) (*Proof, error) {
		return nil, q.backend.Verify(proof, pub)
	})
	return err
}

func (q *Queue) submit(ctx context.Context, run func(context.Context) (*Proof, error)) (*Proof, error) {
	ctx, cancel := context.WithTimeoutCause(ctx, q.config.Deadline, ErrDeadlineExceeded)
	defer cancel()

	j := job{ctx: ctx, run: run, result: make(chan jobResult, 1)}
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return nil, ErrQueueClosed
	}
	select {
	case q.jobs <- j:
	default:
		q.mu.RUnlock()
		return nil, ErrQueueFull
	}
	q.mu.RUnlock()

	select {
	case r := <-j.result:
		return r.proof, r.err
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	}
}

// Close stops accepting jobs and waits for running ones to finish.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *Queue) worker() {
	defer q.wg.Done()

	for j := range q.jobs {
		if err := j.ctx.Err(); err != nil {
			j.result <- jobResult{err: context.Cause(j.ctx)}
			continue
		}
		p, err := j.run(j.ctx)
		j.result <- jobResult{proof: p, err: err}
	}
}
