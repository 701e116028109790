package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/endstate/pkg/engine"
)

// Event is a progress event enriched for subscribers.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the engine event type (AppStarted, AppCompleted).
	Type engine.EventType `json:"type"`

	// RunID is the run the event belongs to.
	RunID string `json:"run_id,omitempty"`

	// AppID is the app the event refers to.
	AppID string `json:"app_id"`

	// Success is set on completion events.
	Success *bool `json:"success,omitempty"`
}

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be delivered.
type EventFilter func(event Event) bool

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// EventBus fans engine progress events out to subscribers. Emit may be called
// from any worker; a single dispatcher goroutine delivers events in the order
// they were enqueued, so events from one worker stay ordered.
type EventBus struct {
	config      EventsConfig
	runID       string
	buffer      chan Event
	subscribers []subscriberEntry
	mu          sync.RWMutex
	wg          sync.WaitGroup
	closeOnce   sync.Once
	closed      chan struct{}
}

var _ engine.EventSink = (*EventBus)(nil)

// NewEventBus creates an event bus for runID and starts its dispatcher.
func NewEventBus(cfg EventsConfig, runID string) *EventBus {
	size := cfg.BufferSize
	if size <= 0 {
		size = 1
	}

	b := &EventBus{
		config: cfg,
		runID:  runID,
		buffer: make(chan Event, size),
		closed: make(chan struct{}),
	}

	b.wg.Add(1)
	go b.dispatch()

	return b
}

// Emit implements engine.EventSink. It blocks while the buffer is full and
// drops the event once the bus is closed.
func (b *EventBus) Emit(e engine.ProgressEvent) {
	if !b.config.Enabled {
		return
	}

	event := Event{
		ID:        uuid.New().String(),
		Timestamp: e.Timestamp,
		Type:      e.Type,
		RunID:     b.runID,
		AppID:     e.AppID,
		Success:   e.Success,
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case <-b.closed:
		return
	default:
	}

	select {
	case b.buffer <- event:
	case <-b.closed:
	}
}

// Subscribe adds a subscriber. A nil filter accepts every event.
func (b *EventBus) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subscribers = append(b.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// dispatch delivers buffered events until the bus is closed, then drains
// whatever is left.
func (b *EventBus) dispatch() {
	defer b.wg.Done()

	for {
		select {
		case event := <-b.buffer:
			b.deliver(event)
		case <-b.closed:
			for {
				select {
				case event := <-b.buffer:
					b.deliver(event)
				default:
					return
				}
			}
		}
	}
}

// deliver calls every matching subscriber in registration order.
func (b *EventBus) deliver(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, entry := range b.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Close stops accepting events and waits for pending deliveries.
func (b *EventBus) Close(ctx context.Context) error {
	b.closeOnce.Do(func() {
		close(b.closed)
	})

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event bus shutdown timeout")
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...engine.EventType) EventFilter {
	typeSet := make(map[engine.EventType]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// LogSubscriber returns a subscriber that writes progress events to logger.
func LogSubscriber(logger *Logger) EventSubscriber {
	return func(event Event) {
		switch event.Type {
		case engine.EventAppStarted:
			logger.zlog.Info().Str("run_id", event.RunID).Str("app_id", event.AppID).Msg("Installing")
		case engine.EventAppCompleted:
			ok := event.Success != nil && *event.Success
			e := logger.zlog.Info()
			if !ok {
				e = logger.zlog.Warn()
			}
			e.Str("run_id", event.RunID).Str("app_id", event.AppID).Bool("success", ok).Msg("Finished")
		}
	}
}
