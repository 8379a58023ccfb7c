package ledger

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/runevale/server/internal/config"
)

var (
	ErrSerializerClosed = errors.New("serializer closed")
	ErrQueueFull        = errors.New("serializer queue full")
)

// Op is one queued ledger operation.
type op struct {
	name   string
	do     func(ctx context.Context) error
	onDone func(error) // runs on the serializer goroutine after completion
	done   chan error  // nil for fire-and-forget ops
}

// Serializer is the single FIFO chain over the asset ledger. The external
// ledger has strict per-signer ordering; running one outstanding operation
// at a time avoids nonce collisions entirely. Throughput is not a goal.
type Serializer struct {
	cfg   config.LedgerConfig
	log   *zap.Logger
	queue chan *op

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewSerializer(cfg config.LedgerConfig, log *zap.Logger) *Serializer {
	size := cfg.QueueSize
	if size <= 0 {
		size = 256
	}
	return &Serializer{cfg: cfg, log: log, queue: make(chan *op, size)}
}

// Run drains the queue until ctx is cancelled AND the queue is flushed.
// Graceful shutdown: call Close, then wait for Run to return.
func (s *Serializer) Run(ctx context.Context) {
	for o := range s.queue {
		err := s.execute(ctx, o)
		if o.onDone != nil {
			o.onDone(err)
		}
		if o.done != nil {
			o.done <- err
		}
		s.wg.Done()
	}
}

// Close stops accepting operations. Queued operations still execute.
func (s *Serializer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
}

// Flush blocks until every accepted operation has completed.
func (s *Serializer) Flush() { s.wg.Wait() }

func (s *Serializer) enqueue(o *op) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSerializerClosed
	}
	select {
	case s.queue <- o:
		s.wg.Add(1)
		return nil
	default:
		return ErrQueueFull
	}
}

// Submit queues an operation and returns without waiting. onDone (optional)
// is invoked with the final error on the serializer goroutine; permanent
// failures are also logged here so fire-and-forget callers need no handling.
func (s *Serializer) Submit(name string, do func(ctx context.Context) error, onDone func(error)) error {
	return s.enqueue(&op{name: name, do: do, onDone: onDone})
}

// SubmitWait queues an operation and blocks until it completes or ctx
// expires. On ctx expiry the operation is NOT cancelled: it still executes
// in queue order; only the caller stops waiting.
func (s *Serializer) SubmitWait(ctx context.Context, name string, do func(ctx context.Context) error) error {
	o := &op{name: name, do: do, done: make(chan error, 1)}
	if err := s.enqueue(o); err != nil {
		return err
	}
	select {
	case err := <-o.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Serializer) execute(ctx context.Context, o *op) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = o.do(ctx)
		if err == nil || !Retryable(err) {
			break
		}
		if attempt >= s.cfg.MaxRetries {
			break
		}
		backoff := s.cfg.BackoffBase << attempt // 1s, 2s, 4s
		s.log.Warn("ledger conflict, retrying",
			zap.String("op", o.name),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		s.log.Error("ledger operation failed", zap.String("op", o.name), zap.Error(err))
	}
	return err
}
