package realtime

import (
	"context"
	"errors"
	"sync"
)

var ErrBrokerNotStarted = errors.New("realtime: broker not started")

// Handler receives every payload published on the broker, including the
// ones this instance published.
type Handler func(payload []byte)

// Broker carries relay events between server instances. Every instance
// dispatches a received payload to its own Directory only.
type Broker interface {
	// Start registers the handler and begins delivery. It does not block.
	Start(ctx context.Context, handle Handler) error
	Publish(ctx context.Context, payload []byte) error
	Close() error
}

// LocalBroker delivers synchronously in process. It serves single-instance
// deployments and tests.
type LocalBroker struct {
	mu     sync.RWMutex
	handle Handler
}

func NewLocalBroker() *LocalBroker {
	return &LocalBroker{}
}

func (b *LocalBroker) Start(_ context.Context, handle Handler) error {
	b.mu.Lock()
	b.handle = handle
	b.mu.Unlock()
	return nil
}

func (b *LocalBroker) Publish(_ context.Context, payload []byte) error {
	b.mu.RLock()
	handle := b.handle
	b.mu.RUnlock()
	if handle == nil {
		return ErrBrokerNotStarted
	}
	handle(payload)
	return nil
}

func (b *LocalBroker) Close() error {
	b.mu.Lock()
	b.handle = nil
	b.mu.Unlock()
	return nil
}
