package notify

import (
	"context"
	"errors"
	"sync"
)

// ErrTransportClosed is returned by MemoryTransport after Close.
var ErrTransportClosed = errors.New("transport closed")

// Transport writes messages to one viewer. Send is only called from the
// channel's writer goroutine; Close may race with it.
type Transport interface {
	Send(ctx context.Context, message Message) error
	Close() error
}

// MemoryTransport records messages in memory.
type MemoryTransport struct {
	mu       sync.Mutex
	messages []Message
	err      error
	closed   bool
	block    chan struct{}
	closedCh chan struct{}
}

func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{closedCh: make(chan struct{})}
}

func (transport *MemoryTransport) Send(ctx context.Context, message Message) error {
	transport.mu.Lock()
	block := transport.block
	transport.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	transport.mu.Lock()
	defer transport.mu.Unlock()
	if transport.closed {
		return ErrTransportClosed
	}
	if transport.err != nil {
		return transport.err
	}
	transport.messages = append(transport.messages, message)
	return nil
}

func (transport *MemoryTransport) Close() error {
	transport.mu.Lock()
	defer transport.mu.Unlock()
	if !transport.closed {
		transport.closed = true
		close(transport.closedCh)
	}
	return nil
}

func (transport *MemoryTransport) Messages() []Message {
	transport.mu.Lock()
	defer transport.mu.Unlock()
	messages := make([]Message, len(transport.messages))
	copy(messages, transport.messages)
	return messages
}

// SetError makes every later Send fail with err.
func (transport *MemoryTransport) SetError(err error) {
	transport.mu.Lock()
	transport.err = err
	transport.mu.Unlock()
}

// Block makes later Sends wait until the returned func is called or their
// context ends.
func (transport *MemoryTransport) Block() func() {
	release := make(chan struct{})
	transport.mu.Lock()
	transport.block = release
	transport.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(release) }) }
}

func (transport *MemoryTransport) Closed() <-chan struct{} {
	return transport.closedCh
}
