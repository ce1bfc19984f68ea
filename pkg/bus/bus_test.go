package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishConsume(t *testing.T) {
	rb := NewRenderBus()
	defer rb.Close()
	ctx := context.Background()

	require.NoError(t, rb.Publish(ctx, RenderCommand{Kind: KindNotice, Notice: "hello"}))

	cmd, ok := rb.Consume(ctx)
	require.True(t, ok)
	assert.Equal(t, KindNotice, cmd.Kind)
	assert.Equal(t, "hello", cmd.Notice)
}

func TestPublishAfterClose(t *testing.T) {
	rb := NewRenderBus()
	rb.Close()

	err := rb.Publish(context.Background(), RenderCommand{Kind: KindNotice})
	assert.ErrorIs(t, err, ErrBusClosed)
}

func TestConsumeUnblocksOnClose(t *testing.T) {
	rb := NewRenderBus()

	done := make(chan bool, 1)
	go func() {
		_, ok := rb.Consume(context.Background())
		done <- ok
	}()

	rb.Close()
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Consume did not return after Close")
	}
}

func TestConsumeHonorsContext(t *testing.T) {
	rb := NewRenderBus()
	defer rb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := rb.Consume(ctx)
	assert.False(t, ok)
}

func TestCloseIsIdempotent(t *testing.T) {
	rb := NewRenderBus()
	rb.Close()
	rb.Close()
}
