package bus

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrBusClosed is returned when publishing to a closed RenderBus.
var ErrBusClosed = errors.New("render bus closed")

// RenderBus carries render commands from the session core to the
// presentation layer. The core only ever pushes; the presentation side
// consumes and draws.
type RenderBus struct {
	commands chan RenderCommand
	done     chan struct{}
	closed   atomic.Bool
}

func NewRenderBus() *RenderBus {
	return &RenderBus{
		commands: make(chan RenderCommand, 100),
		done:     make(chan struct{}),
	}
}

func (rb *RenderBus) Publish(ctx context.Context, cmd RenderCommand) error {
	if rb.closed.Load() {
		return ErrBusClosed
	}
	select {
	case rb.commands <- cmd:
		return nil
	case <-rb.done:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (rb *RenderBus) Consume(ctx context.Context) (RenderCommand, bool) {
	select {
	case cmd, ok := <-rb.commands:
		return cmd, ok
	case <-rb.done:
		return RenderCommand{}, false
	case <-ctx.Done():
		return RenderCommand{}, false
	}
}

func (rb *RenderBus) Close() {
	if rb.closed.CompareAndSwap(false, true) {
		close(rb.done)
	}
}
