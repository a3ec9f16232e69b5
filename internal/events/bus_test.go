package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEventBus_PublishSubscribe(t *testing.T) {
	bus := NewEventBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)

	var mu sync.Mutex
	var received []Event
	done := make(chan struct{})

	require.NoError(t, bus.Subscribe(ctx, EventTaskCompleted, func(ctx context.Context, e Event) error {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
		close(done)
		return nil
	}))

	evt, err := NewEvent("evt1", EventTaskCompleted, "test", map[string]string{"task_id": "t1"})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, evt))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler was not invoked")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	require.Equal(t, "evt1", received[0].ID)
}

func TestEventBus_UnsubscribedTypeIgnored(t *testing.T) {
	bus := NewEventBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)

	called := false
	require.NoError(t, bus.Subscribe(ctx, EventTaskFailed, func(ctx context.Context, e Event) error {
		called = true
		return nil
	}))

	evt, _ := NewEvent("evt1", EventTaskCompleted, "test", nil)
	require.NoError(t, bus.Publish(ctx, evt))

	time.Sleep(50 * time.Millisecond)
	require.False(t, called)
}
