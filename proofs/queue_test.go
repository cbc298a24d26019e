package proofs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/flightshield/flightshield/circuit"
)

// blockingBackend holds every job until release is closed.
type blockingBackend struct {
	started chan struct{}
	release chan struct{}
}

func newBlockingBackend() *blockingBackend {
	return &blockingBackend{started: make(chan struct{}, 16), release: make(chan struct{})}
}

func (b *blockingBackend) Name() string { return "blocking" }

func (b *blockingBackend) Prove(context.Context, *circuit.Witness) (*Proof, error) {
	b.started <- struct{}{}
	<-b.release
	return &Proof{Backend: "blocking"}, nil
}

func (b *blockingBackend) Verify(*Proof, PublicInputs) error {
	<-b.release
	return nil
}

func TestQueue_ProveVerifyThroughStub(t *testing.T) {
	q := NewQueue(NewStubBackend(circuit.DefaultParams()), QueueConfig{Workers: 2})
	defer q.Close()

	if q.Name() != StubName {
		t.Fatalf("queue name %q", q.Name())
	}
	_, _, w := testClaim(t, 200)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := q.Prove(context.Background(), w)
			if err != nil {
				t.Errorf("Prove: %v", err)
				return
			}
			if err := q.Verify(p, PublicInputsOf(w)); err != nil {
				t.Errorf("Verify: %v", err)
			}
		}()
	}
	wg.Wait()
}

func TestQueue_PropagatesBackendErrors(t *testing.T) {
	q := NewQueue(NewStubBackend(circuit.DefaultParams()), DefaultQueueConfig())
	defer q.Close()
	_, _, w := testClaim(t, 10)
	if _, err := q.Prove(context.Background(), w); !errors.Is(err, circuit.ErrDelayBelowMinimum) {
		t.Fatalf("expected ErrDelayBelowMinimum, got %v", err)
	}
}

func TestQueue_Deadline(t *testing.T) {
	b := newBlockingBackend()
	q := NewQueue(b, QueueConfig{Workers: 1, QueueSize: 4, Deadline: 20 * time.Millisecond})
	defer q.Close()
	defer close(b.release)

	if _, err := q.Prove(context.Background(), nil); !errors.Is(err, ErrDeadlineExceeded) {
		t.Fatalf("expected ErrDeadlineExceeded, got %v", err)
	}
}

func TestQueue_CallerCancel(t *testing.T) {
	b := newBlockingBackend()
	q := NewQueue(b, QueueConfig{Workers: 1, Deadline: time.Minute})
	defer q.Close()
	defer close(b.release)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := q.VerifyContext(ctx, &Proof{}, PublicInputs{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
}

func TestQueue_Full(t *testing.T) {
	b := newBlockingBackend()
	q := NewQueue(b, QueueConfig{Workers: 1, QueueSize: 1, Deadline: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	submit := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Prove(ctx, nil)
		}()
	}
	// One job occupies the worker, the next fills the buffer.
	submit()
	<-b.started
	submit()
	deadline := time.Now().Add(2 * time.Second)
	for len(q.jobs) < 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if _, err := q.Prove(ctx, nil); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	cancel()
	close(b.release)
	wg.Wait()
	q.Close()
}

func TestQueue_Closed(t *testing.T) {
	q := NewQueue(NewStubBackend(circuit.DefaultParams()), DefaultQueueConfig())
	q.Close()
	q.Close()
	if _, err := q.Prove(context.Background(), nil); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
}
