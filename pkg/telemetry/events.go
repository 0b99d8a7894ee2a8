package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a notable occurrence in the emulator lifecycle.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies the component that published the event.
	Source string `json:"source"`

	// SessionID is the emulation session the event belongs to, if any.
	SessionID string `json:"session_id,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeCoreReady        = "core.ready"
	EventTypeEmulationStarted = "emulation.started"
	EventTypeEmulationStopped = "emulation.stopped"
	EventTypeStateChanged     = "emu_state.changed"
	EventTypeCommandFailed    = "command.failed"
	EventTypeError            = "error"
)

// Event severity levels.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

var (
	// ErrPublisherStopped is returned by Publish after Shutdown.
	ErrPublisherStopped = errors.New("event publisher stopped")

	// ErrBufferFull is returned when an async publish would block.
	ErrBufferFull = errors.New("event buffer full, event dropped")
)

// EventSubscriber handles delivered events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher delivers events to subscribers. In async mode Publish never
// blocks: events go through a bounded buffer and are dropped when it is full,
// which keeps the engine thread free of subscriber latency.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NopEvents returns a publisher that drops every event.
func NopEvents() *EventPublisher {
	return &EventPublisher{}
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}
	if cfg.BufferSize <= 0 {
		return nil, fmt.Errorf("event buffer size must be positive, got: %d", cfg.BufferSize)
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	ep := &EventPublisher{
		config: cfg,
		buffer: make(chan Event, cfg.BufferSize),
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil
		}
	}
	ep.mu.RUnlock()

	if ep.config.EnableAsync {
		select {
		case <-ep.ctx.Done():
			return ErrPublisherStopped
		default:
		}
		select {
		case ep.buffer <- event:
			return nil
		default:
			return ErrBufferFull
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishCoreReady publishes a core.ready event.
func (ep *EventPublisher) PublishCoreReady() error {
	return ep.Publish(Event{
		Type:    EventTypeCoreReady,
		Source:  "lifecycle",
		Message: "Core initialised",
		Level:   EventLevelInfo,
	})
}

// PublishEmulationStarted publishes an emulation.started event.
func (ep *EventPublisher) PublishEmulationStarted(sessionID string) error {
	return ep.Publish(Event{
		Type:      EventTypeEmulationStarted,
		Source:    "lifecycle",
		SessionID: sessionID,
		Message:   fmt.Sprintf("Emulation session %s started", sessionID),
		Level:     EventLevelInfo,
	})
}

// PublishEmulationStopped publishes an emulation.stopped event.
func (ep *EventPublisher) PublishEmulationStopped(sessionID string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:      EventTypeEmulationStopped,
		Source:    "lifecycle",
		SessionID: sessionID,
		Message:   fmt.Sprintf("Emulation session %s stopped after %s", sessionID, duration.Round(time.Millisecond)),
		Level:     EventLevelInfo,
		Data: map[string]interface{}{
			"duration": duration.Seconds(),
		},
	})
}

// PublishStateChanged publishes an emu_state.changed event.
func (ep *EventPublisher) PublishStateChanged(state string, resolved int) error {
	return ep.Publish(Event{
		Type:    EventTypeStateChanged,
		Source:  "core",
		Message: fmt.Sprintf("Emulation state changed to %s", state),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"state":    state,
			"resolved": resolved,
		},
	})
}

// PublishCommandFailed publishes a command.failed event.
func (ep *EventPublisher) PublishCommandFailed(command, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeCommandFailed,
		Source:  "core",
		Message: fmt.Sprintf("Command %s failed: %s", command, reason),
		Level:   EventLevelWarning,
		Data: map[string]interface{}{
			"command": command,
			"reason":  reason,
		},
	})
}

// PublishError publishes an error event.
func (ep *EventPublisher) PublishError(source string, err error) error {
	return ep.Publish(Event{
		Type:    EventTypeError,
		Source:  source,
		Message: err.Error(),
		Level:   EventLevelError,
	})
}

// Subscribe adds a new event subscriber. filter may be nil.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents delivers buffered events in batches, in publish order.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batch := make([]Event, 0, ep.config.MaxBatchSize)
	flush := func() {
		for _, event := range batch {
			ep.deliverEvent(event)
		}
		batch = batch[:0]
	}

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)
			// Keep batching while more events are immediately available.
			if len(batch) >= ep.config.MaxBatchSize || len(ep.buffer) == 0 {
				flush()
			}
		case <-ep.ctx.Done():
			for {
				select {
				case event := <-ep.buffer:
					batch = append(batch, event)
				default:
					flush()
					return
				}
			}
		}
	}
}

// deliverEvent delivers an event to all matching subscribers.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown delivers any buffered events and stops the publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled || ep.cancel == nil {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown: %w", ctx.Err())
	}
}

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}
	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterBySession creates a filter that only allows events for one session.
func FilterBySession(sessionID string) EventFilter {
	return func(event Event) bool {
		return event.SessionID == sessionID
	}
}
