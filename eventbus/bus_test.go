package eventbus

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/edupath/authsync/errors"
	"github.com/edupath/authsync/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestBus_BasicPubSub(t *testing.T) {
	bus := New(logging.EnsureLogger(t.Context()))

	got := make(chan *Message, 1)
	bus.Subscribe("topic", func(ctx context.Context, msg *Message) error {
		got <- msg
		return nil
	})

	bus.Publish("topic", "hello")

	select {
	case msg := <-got:
		assert.Equal(t, "hello", msg.Data)
		assert.Equal(t, "topic", msg.Topic)
		assert.NotEmpty(t, msg.ID)
	case <-time.After(time.Second):
		t.Fatal("subscriber should have been called")
	}
}

func TestBus_MultipleSubscribers(t *testing.T) {
	bus := New(logging.EnsureLogger(t.Context()))

	var called []int
	var mu sync.Mutex
	for i := range 10 {
		bus.Subscribe("topic", func(ctx context.Context, msg *Message) error {
			mu.Lock()
			defer mu.Unlock()
			called = append(called, i)
			return nil
		})
	}

	bus.Publish("topic", "hello")
	require.NoError(t, bus.Wait(t.Context()))

	slices.Sort(called) // Execution order isn't guaranteed.
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, called)
}

func TestBus_NoSubscribers(t *testing.T) {
	bus := New(logging.EnsureLogger(t.Context()))
	bus.Publish("nobody", 1)
	assert.NoError(t, bus.Wait(t.Context()))
}

func TestBus_WaitTimeout(t *testing.T) {
	bus := New(logging.EnsureLogger(t.Context()))

	release := make(chan struct{})
	defer close(release)
	bus.Subscribe("topic", func(ctx context.Context, msg *Message) error {
		<-release
		return nil
	})

	bus.Publish("topic", "hello")

	ctx, cancel := context.WithTimeout(t.Context(), time.Millisecond)
	defer cancel()
	require.Error(t, bus.Wait(ctx))
}

func TestBus_HandlerErrorAndPanicAreLogged(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	ctx := logging.With(t.Context(), logging.NewZapLogger(zap.New(core)))
	bus := New(ctx, WithWorkerPool(0))

	bus.Subscribe("fails", func(ctx context.Context, msg *Message) error {
		return errors.New("subscriber error")
	})
	bus.Subscribe("panics", func(ctx context.Context, msg *Message) error {
		panic("subscriber panic")
	})

	bus.Publish("fails", 1)
	bus.Publish("panics", 2)
	require.NoError(t, bus.Wait(ctx))

	assert.Equal(t, 1, logs.FilterMessage("eventbus: handler error").Len())
	panics := logs.FilterMessage("eventbus: recovered from panic").All()
	require.Len(t, panics, 1)
	assert.Equal(t, "subscriber panic", panics[0].ContextMap()["error"])
	assert.NotEmpty(t, panics[0].ContextMap()["error.stack_trace"])
}

func TestBus_WorkerPoolConcurrency(t *testing.T) {
	bus := New(logging.EnsureLogger(t.Context()), WithWorkerPool(4))

	var mu sync.Mutex
	var concurrent, maxConcurrent, called int
	for range 40 {
		bus.Subscribe("topic", func(ctx context.Context, msg *Message) error {
			mu.Lock()
			concurrent++
			called++
			maxConcurrent = max(maxConcurrent, concurrent)
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			concurrent--
			mu.Unlock()
			return nil
		})
	}

	bus.Publish("topic", "hello")
	require.NoError(t, bus.Wait(t.Context()))
	assert.Equal(t, 40, called)
	assert.LessOrEqual(t, maxConcurrent, 4, "should not exceed worker pool size")
}

func TestBus_Shutdown(t *testing.T) {
	bus := New(logging.EnsureLogger(t.Context()))
	var mu sync.Mutex
	var calls int
	bus.Subscribe("topic", func(ctx context.Context, msg *Message) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return nil
	})

	bus.Publish("topic", 1)
	require.NoError(t, bus.Shutdown(t.Context()))
	require.NoError(t, bus.Shutdown(t.Context()), "shutdown is idempotent")
	bus.Publish("topic", 2)
	require.NoError(t, bus.Wait(t.Context()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}
