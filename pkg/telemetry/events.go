package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a telemetry event in the OpenLander system.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// RunID is the associated run ID, if applicable.
	RunID string `json:"run_id,omitempty"`

	// Attempt is the associated attempt sequence, if applicable.
	Attempt int `json:"attempt,omitempty"`

	// Region is the associated target region, if applicable.
	Region string `json:"region,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for common event types.
const (
	EventTypeRunStarted      = "run.started"
	EventTypeRunCompleted    = "run.completed"
	EventTypeRunFailed       = "run.failed"
	EventTypeAttemptStarted  = "attempt.started"
	EventTypeAttemptFailed   = "attempt.failed"
	EventTypeFixApplied      = "fix.applied"
	EventTypeFixGated        = "fix.gated"
	EventTypeRegionResolved  = "region.resolved"
	EventTypeProbeFailed     = "health.probe_failed"
	EventTypePolicyViolation = "policy.violation"
	EventTypeDriftDetected   = "drift.detected"
	EventTypeError           = "error"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher manages event publishing and subscriptions.
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

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config:      cfg,
		buffer:      make(chan Event, cfg.BufferSize),
		subscribers: make([]subscriberEntry, 0),
		filters:     make([]EventFilter, 0),
		ctx:         ctx,
		cancel:      cancel,
	}

	// Start the event processing goroutine
	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	// Start the periodic flush goroutine
	if cfg.FlushInterval > 0 {
		ep.wg.Add(1)
		go ep.periodicFlush()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	// Set ID and timestamp if not already set
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Apply global filters
	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil // Event filtered out
		}
	}
	ep.mu.RUnlock()

	// Send to buffer if async, otherwise process immediately
	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			// Buffer full, drop event or log warning
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	// Synchronous publishing
	ep.deliverEvent(event)
	return nil
}

// PublishRunStarted publishes a run started event.
func (ep *EventPublisher) PublishRunStarted(runID, environment string) error {
	return ep.Publish(Event{
		Type:    EventTypeRunStarted,
		Source:  "engine",
		RunID:   runID,
		Message: fmt.Sprintf("Run %s started for environment %s", runID, environment),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"environment": environment,
		},
	})
}

// PublishRunCompleted publishes a run completed event.
func (ep *EventPublisher) PublishRunCompleted(runID, state string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypeRunCompleted,
		Source:  "engine",
		RunID:   runID,
		Message: fmt.Sprintf("Run %s completed in state: %s", runID, state),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"state":    state,
			"duration": duration.Seconds(),
		},
	})
}

// PublishRunFailed publishes a run failed event.
func (ep *EventPublisher) PublishRunFailed(runID, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeRunFailed,
		Source:  "engine",
		RunID:   runID,
		Message: fmt.Sprintf("Run %s failed: %s", runID, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishAttemptStarted publishes an attempt started event.
func (ep *EventPublisher) PublishAttemptStarted(runID string, attempt int, region, tier string) error {
	return ep.Publish(Event{
		Type:    EventTypeAttemptStarted,
		Source:  "engine",
		RunID:   runID,
		Attempt: attempt,
		Region:  region,
		Message: fmt.Sprintf("Attempt %d started: deploying to %s/%s", attempt, region, tier),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"tier": tier,
		},
	})
}

// PublishAttemptFailed publishes an attempt failed event with its classification.
func (ep *EventPublisher) PublishAttemptFailed(runID string, attempt int, region, errorKind, ruleID string) error {
	return ep.Publish(Event{
		Type:    EventTypeAttemptFailed,
		Source:  "engine",
		RunID:   runID,
		Attempt: attempt,
		Region:  region,
		Message: fmt.Sprintf("Attempt %d failed with %s diagnostic", attempt, errorKind),
		Level:   EventLevelWarning,
		Data: map[string]interface{}{
			"error_kind": errorKind,
			"rule_id":    ruleID,
		},
	})
}

// PublishFixApplied publishes a fix applied event.
func (ep *EventPublisher) PublishFixApplied(runID, ruleID, path, verification string) error {
	return ep.Publish(Event{
		Type:    EventTypeFixApplied,
		Source:  "remediator",
		RunID:   runID,
		Message: fmt.Sprintf("Fix %s applied to %s, verification: %s", ruleID, path, verification),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"rule_id":      ruleID,
			"path":         path,
			"verification": verification,
		},
	})
}

// PublishFixGated publishes a fix gated event.
func (ep *EventPublisher) PublishFixGated(runID, ruleID, risk string) error {
	return ep.Publish(Event{
		Type:    EventTypeFixGated,
		Source:  "remediator",
		RunID:   runID,
		Message: fmt.Sprintf("Fix %s withheld for human review (risk: %s)", ruleID, risk),
		Level:   EventLevelWarning,
		Data: map[string]interface{}{
			"rule_id": ruleID,
			"risk":    risk,
		},
	})
}

// PublishRegionResolved publishes a region resolution event.
func (ep *EventPublisher) PublishRegionResolved(runID, region, tier string, downgrades int) error {
	return ep.Publish(Event{
		Type:    EventTypeRegionResolved,
		Source:  "region-resolver",
		RunID:   runID,
		Region:  region,
		Message: fmt.Sprintf("Resolved target %s/%s with %d downgrades", region, tier, downgrades),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"tier":       tier,
			"downgrades": downgrades,
		},
	})
}

// PublishProbeFailed publishes a health probe failure event.
func (ep *EventPublisher) PublishProbeFailed(runID, probeName, detail string) error {
	return ep.Publish(Event{
		Type:    EventTypeProbeFailed,
		Source:  "health",
		RunID:   runID,
		Message: fmt.Sprintf("Health probe %s failed: %s", probeName, detail),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"probe":  probeName,
			"detail": detail,
		},
	})
}

// PublishPolicyViolation publishes a policy violation event.
func (ep *EventPublisher) PublishPolicyViolation(runID, policyName, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypePolicyViolation,
		Source:  "policy",
		RunID:   runID,
		Message: fmt.Sprintf("Policy violation on run %s: %s - %s", runID, policyName, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"policy": policyName,
			"reason": reason,
		},
	})
}

// PublishDriftDetected publishes a drift detected event.
func (ep *EventPublisher) PublishDriftDetected(environment, resourceGroup string, changeCount int) error {
	return ep.Publish(Event{
		Type:    EventTypeDriftDetected,
		Source:  "drift",
		Message: fmt.Sprintf("Drift detected in %s/%s (%d changes)", environment, resourceGroup, changeCount),
		Level:   EventLevelWarning,
		Data: map[string]interface{}{
			"environment":    environment,
			"resource_group": resourceGroup,
			"change_count":   changeCount,
		},
	})
}

// Subscribe adds a new event subscriber.
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

// processEvents processes events from the buffer asynchronously.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batch := make([]Event, 0, ep.config.MaxBatchSize)

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)

			// Flush batch if it reaches max size
			if len(batch) >= ep.config.MaxBatchSize {
				ep.flushBatch(batch)
				batch = make([]Event, 0, ep.config.MaxBatchSize)
			}

		case <-ep.ctx.Done():
			// Flush remaining events before shutting down
			if len(batch) > 0 {
				ep.flushBatch(batch)
			}
			return
		}
	}
}

// periodicFlush flushes events periodically.
func (ep *EventPublisher) periodicFlush() {
	defer ep.wg.Done()

	ticker := time.NewTicker(ep.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Trigger flush by draining buffer
			// This is handled by the processEvents goroutine
		case <-ep.ctx.Done():
			return
		}
	}
}

// flushBatch delivers a batch of events to subscribers.
func (ep *EventPublisher) flushBatch(events []Event) {
	for _, event := range events {
		ep.deliverEvent(event)
	}
}

// deliverEvent delivers an event to all subscribers.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		// Apply subscriber-specific filter
		if entry.filter != nil && !entry.filter(event) {
			continue
		}

		// Call subscriber in a goroutine to avoid blocking
		go entry.subscriber(event)
	}
}

// Shutdown gracefully shuts down the event publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	// Signal shutdown
	ep.cancel()

	// Wait for processing to complete with timeout
	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// Common event filters.

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
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByRunID creates a filter that only allows events for a specific run.
func FilterByRunID(runID string) EventFilter {
	return func(event Event) bool {
		return event.RunID == runID
	}
}

// FilterByRegion creates a filter that only allows events for a specific region.
func FilterByRegion(region string) EventFilter {
	return func(event Event) bool {
		return event.Region == region
	}
}
