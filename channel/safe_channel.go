// Package channels hands work between goroutines over a channel that is
// closed exactly once, when its context ends or Close is called.
package channels

import (
	"context"
	"errors"
	"sync"
)

var ErrClosed = errors.New("channel is closed")

type SafeChannel[T any] struct {
	mu       sync.RWMutex
	isClosed bool
	ch       chan T
	ctx      context.Context
	cancel   context.CancelFunc
}

func New[T any](ctx context.Context, size ...int) *SafeChannel[T] {
	var ch chan T
	if len(size) > 0 {
		ch = make(chan T, size[0])
	} else {
		ch = make(chan T)
	}

	sc := &SafeChannel[T]{ch: ch}
	sc.ctx, sc.cancel = context.WithCancel(ctx)

	go func() {
		<-sc.ctx.Done()
		sc.close()
	}()

	return sc
}

// Close stops further writes and closes the channel once blocked writers
// have returned.
func (c *SafeChannel[T]) Close() {
	c.cancel()
	c.close()
}

func (c *SafeChannel[T]) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.isClosed {
		c.isClosed = true
		close(c.ch)
	}
}

// Write blocks until data is received, buffered, or the channel is closed.
func (c *SafeChannel[T]) Write(data T) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.isClosed {
		return ErrClosed
	}

	select {
	case c.ch <- data:
		return nil
	case <-c.ctx.Done():
		return ErrClosed
	}
}

func (c *SafeChannel[T]) Read() <-chan T {
	return c.ch
}
