package events

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// subscriberQueueCapacity bounds each subscriber's delivery channel. A slow
// subscriber drops events rather than stalling Append (SPEC_FULL.md §4.7).
const subscriberQueueCapacity = 100

// defaultMaxEvents bounds the in-memory log; the oldest events are evicted
// once the cap is hit, same as the TTL-based cleanup below, whichever comes
// first.
const defaultMaxEvents = 100_000

// defaultTTL is how long an event is retained before cleanup evicts it.
const defaultTTL = 24 * time.Hour

// Filter narrows a Subscription to a subset of the event stream. A zero
// value matches every event.
type Filter struct {
	ExecutionID string
	TenantID    string
	Types       []EventType
}

func (f Filter) matches(e Event) bool {
	if f.ExecutionID != "" && f.ExecutionID != e.ExecutionID {
		return false
	}
	if f.TenantID != "" && f.TenantID != e.TenantID {
		return false
	}
	if len(f.Types) > 0 {
		ok := false
		for _, t := range f.Types {
			if t == e.Type {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// defaultQueryLimit caps a Query call that specifies no Limit, mirroring
// get_events' limit=1000 default.
const defaultQueryLimit = 1000

// Query narrows a GetEvents-style read to a time range and a result cap on
// top of Filter. A zero Since/Until leaves that bound open; Limit<=0 uses
// defaultQueryLimit.
type Query struct {
	Filter
	Since time.Time
	Until time.Time
	Limit int
}

func (q Query) matches(e Event) bool {
	if !q.Filter.matches(e) {
		return false
	}
	if !q.Since.IsZero() && e.Timestamp.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && e.Timestamp.After(q.Until) {
		return false
	}
	return true
}

type subscription struct {
	id     uint64
	filter Filter
	ch     chan Event
}

// Store is the append-only event log every SPEC_FULL.md component writes
// to and reads live progress from.
type Store interface {
	Append(ctx context.Context, e Event) (Event, error)
	GetEvents(executionID string) []Event
	Query(q Query) []Event
	GetWorkflowState(executionID string) (map[string]any, bool)
	Subscribe(filter Filter) (<-chan Event, func())
	Close()
}

// InMemoryStore is the default Store: a single append-only slice plus
// per-execution and per-tenant indexes, and a fan-out of bounded per-
// subscriber channels. Grounded on the event-sourcing-lite design of
// original_source's InMemoryEventStore; each subscriber channel is bounded
// and drops new events when full.
type InMemoryStore struct {
	mu     sync.RWMutex
	log    []Event
	nextID int64

	byExecution map[string][]int
	byTenant    map[string][]int

	subs    map[uint64]*subscription
	nextSub uint64

	maxEvents int
	ttl       time.Duration

	closed bool
	stopCh chan struct{}

	logger *slog.Logger
}

// NewInMemoryStore constructs a store with the default retention policy and
// starts its background TTL-cleanup loop. Call Close to stop it.
func NewInMemoryStore(logger *slog.Logger) *InMemoryStore {
	if logger == nil {
		logger = slog.Default()
	}
	s := &InMemoryStore{
		byExecution: make(map[string][]int),
		byTenant:    make(map[string][]int),
		subs:        make(map[uint64]*subscription),
		maxEvents:   defaultMaxEvents,
		ttl:         defaultTTL,
		stopCh:      make(chan struct{}),
		logger:      logger,
	}
	go s.cleanupLoop()
	return s
}

// Append assigns the next sequence ID and timestamp (if unset), records the
// event, indexes it, and notifies subscribers outside the store's lock.
func (s *InMemoryStore) Append(ctx context.Context, e Event) (Event, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Event{}, ErrStoreClosed
	}
	s.nextID++
	e.ID = s.nextID
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	idx := len(s.log)
	s.log = append(s.log, e)
	if e.ExecutionID != "" {
		s.byExecution[e.ExecutionID] = append(s.byExecution[e.ExecutionID], idx)
	}
	if e.TenantID != "" {
		s.byTenant[e.TenantID] = append(s.byTenant[e.TenantID], idx)
	}
	s.evictLocked()

	subs := make([]*subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	s.notify(subs, e)
	return e, nil
}

func (s *InMemoryStore) notify(subs []*subscription, e Event) {
	for _, sub := range subs {
		if !sub.filter.matches(e) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			s.logger.Warn("events: dropping event for slow subscriber",
				"subscriber_id", sub.id, "event_type", e.Type, "execution_id", e.ExecutionID)
		}
	}
}

// evictLocked drops the oldest events once the log exceeds maxEvents. Must
// be called with mu held.
func (s *InMemoryStore) evictLocked() {
	if len(s.log) <= s.maxEvents {
		return
	}
	drop := len(s.log) - s.maxEvents
	s.log = s.log[drop:]
	s.rebuildIndexesLocked()
}

func (s *InMemoryStore) rebuildIndexesLocked() {
	s.byExecution = make(map[string][]int)
	s.byTenant = make(map[string][]int)
	for i, e := range s.log {
		if e.ExecutionID != "" {
			s.byExecution[e.ExecutionID] = append(s.byExecution[e.ExecutionID], i)
		}
		if e.TenantID != "" {
			s.byTenant[e.TenantID] = append(s.byTenant[e.TenantID], i)
		}
	}
}

// GetEvents returns every recorded event for executionID, oldest first,
// capped at defaultQueryLimit. It is a convenience wrapper around Query for
// the common executionId-only case.
func (s *InMemoryStore) GetEvents(executionID string) []Event {
	return s.Query(Query{Filter: Filter{ExecutionID: executionID}})
}

// Query serves the full getEvents(executionId?, tenantId?, eventTypes?,
// since?, until?, limit=1000) contract: an executionID narrows the scan to
// the byExecution index, a tenantID with no executionID narrows it to
// byTenant, and anything broader (event-type or time-range filtering alone)
// falls back to a linear scan of the log, same as the source. Results are
// oldest first; when more than Limit events match, the most recent Limit
// are kept.
func (s *InMemoryStore) Query(q Query) []Event {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Event
	switch {
	case q.ExecutionID != "":
		for _, i := range s.byExecution[q.ExecutionID] {
			if e := s.log[i]; q.matches(e) {
				out = append(out, e)
			}
		}
	case q.TenantID != "":
		for _, i := range s.byTenant[q.TenantID] {
			if e := s.log[i]; q.matches(e) {
				out = append(out, e)
			}
		}
	default:
		for _, e := range s.log {
			if q.matches(e) {
				out = append(out, e)
			}
		}
	}

	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// GetWorkflowState folds an execution's event history into a coarse status
// snapshot, for callers that want "where is this execution now" without
// replaying the full event list themselves.
func (s *InMemoryStore) GetWorkflowState(executionID string) (map[string]any, bool) {
	evs := s.GetEvents(executionID)
	if len(evs) == 0 {
		return nil, false
	}
	state := map[string]any{
		"execution_id": executionID,
		"status":       "running",
	}
	var completedSteps, failedSteps []string
	for _, e := range evs {
		switch e.Type {
		case EventTypeWorkflowStarted:
			state["status"] = "running"
			if p, ok := e.Payload.(WorkflowStartedEvent); ok {
				state["pipeline_name"] = p.PipelineName
			}
		case EventTypeStepCompleted:
			if p, ok := e.Payload.(StepCompletedEvent); ok {
				completedSteps = append(completedSteps, p.StepName)
			}
		case EventTypeStepFailed:
			if p, ok := e.Payload.(StepFailedEvent); ok {
				failedSteps = append(failedSteps, p.StepName)
			}
		case EventTypeProgressUpdated:
			if p, ok := e.Payload.(ProgressUpdatedEvent); ok {
				state["progress_percent"] = p.PercentComplete
				state["progress_message"] = p.Message
			}
		case EventTypeWorkflowCompleted:
			state["status"] = "completed"
			if p, ok := e.Payload.(WorkflowCompletedEvent); ok {
				state["total_cost_usd"] = p.TotalCostUsd
			}
		case EventTypeWorkflowFailed:
			state["status"] = "failed"
		case EventTypeCompensationCompleted:
			state["compensated"] = true
		}
	}
	state["completed_steps"] = completedSteps
	state["failed_steps"] = failedSteps
	state["last_event_at"] = evs[len(evs)-1].Timestamp
	return state, true
}

// Subscribe registers a new bounded-channel subscriber matching filter. The
// returned cancel func unregisters it and closes the channel; callers must
// call it to avoid leaking the subscription.
func (s *InMemoryStore) Subscribe(filter Filter) (<-chan Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSub++
	id := s.nextSub
	sub := &subscription{id: id, filter: filter, ch: make(chan Event, subscriberQueueCapacity)}
	s.subs[id] = sub

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub.ch)
		}
	}
	return sub.ch, cancel
}

// Close stops the cleanup loop and closes every active subscriber channel.
// Append returns ErrStoreClosed afterward. Subscribe reports no error: a
// subscription made after Close receives no events and its channel closes
// only when its cancel func runs.
func (s *InMemoryStore) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for id, sub := range s.subs {
		close(sub.ch)
		delete(s.subs, id)
	}
	s.mu.Unlock()
	close(s.stopCh)
}

func (s *InMemoryStore) cleanupLoop() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *InMemoryStore) cleanup() {
	cutoff := time.Now().Add(-s.ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	kept := s.log[:0:0]
	for _, e := range s.log {
		if e.Timestamp.After(cutoff) {
			kept = append(kept, e)
		}
	}
	dropped := len(s.log) - len(kept)
	s.log = kept
	s.rebuildIndexesLocked()
	if dropped > 0 {
		s.logger.Info("events: cleanup evicted expired events", "dropped", dropped, "ttl", s.ttl)
	}
}
