package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/stkpay/golang_services/internal/payment_service/domain"
)

var ErrPoolClosed = errors.New("worker pool is shut down")

// MessageHandler processes one queued callback message.
type MessageHandler interface {
	Process(ctx context.Context, msg domain.CallbackMessage) error
}

// WorkerPool is the in-process callback queue: a buffered channel drained by a
// fixed number of workers. Enqueue blocks while the buffer is full.
type WorkerPool struct {
	jobs    chan domain.CallbackMessage
	handler MessageHandler
	logger  *slog.Logger
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
	ctx    context.Context
	cancel context.CancelFunc
}

func NewWorkerPool(bufferSize int, handler MessageHandler, logger *slog.Logger) *WorkerPool {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		jobs:    make(chan domain.CallbackMessage, bufferSize),
		handler: handler,
		logger:  logger.With("component", "worker_pool"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (p *WorkerPool) Start(workerCount int) {
	if workerCount <= 0 {
		workerCount = 1
	}
	for i := 0; i < workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Info("Worker pool started", "workers", workerCount, "buffer", cap(p.jobs))
}

func (p *WorkerPool) worker(n int) {
	defer p.wg.Done()
	for msg := range p.jobs {
		if err := p.handler.Process(p.ctx, msg); err != nil {
			p.logger.Error("Callback message processing failed", "worker", n, "message_id", msg.ID, "error", err)
		}
	}
}

func (p *WorkerPool) Enqueue(ctx context.Context, msg domain.CallbackMessage) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.jobs <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting work and waits for queued messages to drain. If ctx
// expires first, in-flight retries are cancelled.
func (p *WorkerPool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}
