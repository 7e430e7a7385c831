package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(ch <-chan Event, n int, timeout time.Duration) []Event {
	var out []Event
	deadline := time.After(timeout)
	for len(out) < n {
		select {
		case event, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, event)
		case <-deadline:
			return out
		}
	}
	return out
}

func TestSequencesAreMonotonicAndGapFree(t *testing.T) {
	bus := NewBus()

	for i := 0; i < 50; i++ {
		bus.Publish("task-1", KindLLMDelta, map[string]any{"i": i})
	}

	events := bus.Events("task-1")
	require.Len(t, events, 50)
	for i, event := range events {
		assert.Equal(t, uint64(i), event.Sequence)
	}
}

func TestLateSubscriberReplaysFromZero(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < 10; i++ {
		bus.Publish("task-1", KindStatusChange, nil)
	}

	ch := bus.Subscribe(ctx, "task-1")
	bus.Publish("task-1", KindStatusChange, nil)
	bus.Publish("task-1", KindError, nil)

	events := collect(ch, 12, time.Second)
	require.Len(t, events, 12)
	for i, event := range events {
		assert.Equal(t, uint64(i), event.Sequence, "no gaps and no reordering")
	}
	assert.Equal(t, KindError, events[11].Kind)
}

func TestConcurrentPublishersKeepSequencesGapFree(t *testing.T) {
	bus := NewBus()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				bus.Publish("task-1", KindToolStart, nil)
			}
		}()
	}
	wg.Wait()

	events := bus.Events("task-1")
	require.Len(t, events, 200)
	for i, event := range events {
		assert.Equal(t, uint64(i), event.Sequence)
	}
}

func TestStreamsAreIsolatedPerTask(t *testing.T) {
	bus := NewBus()
	bus.Publish("task-a", KindStatusChange, nil)
	bus.Publish("task-b", KindStatusChange, nil)
	bus.Publish("task-b", KindStatusChange, nil)

	assert.Len(t, bus.Events("task-a"), 1)
	assert.Len(t, bus.Events("task-b"), 2)
	assert.Equal(t, uint64(0), bus.Events("task-b")[0].Sequence)
}

func TestCloseStreamEndsSubscribers(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := bus.Subscribe(ctx, "task-1")
	bus.Publish("task-1", KindStatusChange, nil)
	bus.CloseStream("task-1")

	events := collect(ch, 2, time.Second)
	assert.Len(t, events, 1)

	// Late subscriber after close still replays the log.
	late := bus.Subscribe(context.Background(), "task-1")
	events = collect(late, 1, time.Second)
	require.Len(t, events, 1)
	assert.Equal(t, uint64(0), events[0].Sequence)
}

func TestDropDiscardsStream(t *testing.T) {
	bus := NewBus()
	bus.Publish("task-1", KindStatusChange, nil)
	bus.Drop("task-1")
	assert.Empty(t, bus.Events("task-1"))
}
