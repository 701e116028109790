package telemetry

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/endstate/pkg/engine"
)

func TestEventBus_DeliversInOrderPerSource(t *testing.T) {
	t.Parallel()

	bus := NewEventBus(EventsConfig{Enabled: true, BufferSize: 4}, "run-1")

	var mu sync.Mutex
	got := map[string][]engine.EventType{}
	bus.Subscribe(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, "run-1", e.RunID)
		assert.NotEmpty(t, e.ID)
		got[e.AppID] = append(got[e.AppID], e.Type)
	}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(app string) {
			defer wg.Done()
			ok := true
			bus.Emit(engine.ProgressEvent{Type: engine.EventAppStarted, AppID: app})
			bus.Emit(engine.ProgressEvent{Type: engine.EventAppCompleted, AppID: app, Success: &ok})
		}(fmt.Sprintf("app%d", i))
	}
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, bus.Close(ctx))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 8)
	for app, types := range got {
		assert.Equal(t, []engine.EventType{engine.EventAppStarted, engine.EventAppCompleted}, types, app)
	}
}

func TestEventBus_FilterAndDisabled(t *testing.T) {
	t.Parallel()

	bus := NewEventBus(EventsConfig{Enabled: true, BufferSize: 8}, "run-2")
	var completed []string
	bus.Subscribe(func(e Event) {
		completed = append(completed, e.AppID)
	}, FilterByType(engine.EventAppCompleted))

	ok := false
	bus.Emit(engine.ProgressEvent{Type: engine.EventAppStarted, AppID: "a"})
	bus.Emit(engine.ProgressEvent{Type: engine.EventAppCompleted, AppID: "a", Success: &ok})
	require.NoError(t, bus.Close(context.Background()))
	assert.Equal(t, []string{"a"}, completed)

	// Emit after close is dropped, not a panic.
	bus.Emit(engine.ProgressEvent{Type: engine.EventAppStarted, AppID: "late"})

	disabled := NewEventBus(EventsConfig{Enabled: false}, "run-3")
	called := false
	disabled.Subscribe(func(Event) { called = true }, nil)
	disabled.Emit(engine.ProgressEvent{Type: engine.EventAppStarted, AppID: "x"})
	require.NoError(t, disabled.Close(context.Background()))
	assert.False(t, called)
}
