package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryStore_AppendAssignsMonotonicIDs(t *testing.T) {
	s := NewInMemoryStore(nil)
	defer s.Close()

	e1, err := s.Append(context.Background(), Event{ExecutionID: "exec-1", Type: EventTypeWorkflowStarted})
	require.NoError(t, err)
	e2, err := s.Append(context.Background(), Event{ExecutionID: "exec-1", Type: EventTypeWorkflowCompleted})
	require.NoError(t, err)

	assert.Equal(t, int64(1), e1.ID)
	assert.Equal(t, int64(2), e2.ID)
	assert.False(t, e1.Timestamp.IsZero())
}

func TestInMemoryStore_GetEventsFiltersByExecution(t *testing.T) {
	s := NewInMemoryStore(nil)
	defer s.Close()
	ctx := context.Background()

	_, _ = s.Append(ctx, Event{ExecutionID: "exec-1", Type: EventTypeWorkflowStarted})
	_, _ = s.Append(ctx, Event{ExecutionID: "exec-2", Type: EventTypeWorkflowStarted})
	_, _ = s.Append(ctx, Event{ExecutionID: "exec-1", Type: EventTypeWorkflowCompleted})

	got := s.GetEvents("exec-1")
	require.Len(t, got, 2)
	assert.Equal(t, EventTypeWorkflowStarted, got[0].Type)
	assert.Equal(t, EventTypeWorkflowCompleted, got[1].Type)
}

func TestInMemoryStore_QueryFiltersByTenantOnly(t *testing.T) {
	s := NewInMemoryStore(nil)
	defer s.Close()
	ctx := context.Background()

	_, _ = s.Append(ctx, Event{ExecutionID: "exec-1", TenantID: "tenant-a", Type: EventTypeWorkflowStarted})
	_, _ = s.Append(ctx, Event{ExecutionID: "exec-2", TenantID: "tenant-b", Type: EventTypeWorkflowStarted})
	_, _ = s.Append(ctx, Event{ExecutionID: "exec-3", TenantID: "tenant-a", Type: EventTypeWorkflowCompleted})

	got := s.Query(Query{Filter: Filter{TenantID: "tenant-a"}})
	require.Len(t, got, 2)
	assert.Equal(t, "exec-1", got[0].ExecutionID)
	assert.Equal(t, "exec-3", got[1].ExecutionID)
}

func TestInMemoryStore_QueryFiltersByEventType(t *testing.T) {
	s := NewInMemoryStore(nil)
	defer s.Close()
	ctx := context.Background()

	_, _ = s.Append(ctx, Event{ExecutionID: "exec-1", Type: EventTypeWorkflowStarted})
	_, _ = s.Append(ctx, Event{ExecutionID: "exec-1", Type: EventTypeCostIncurred})
	_, _ = s.Append(ctx, Event{ExecutionID: "exec-1", Type: EventTypeWorkflowCompleted})

	got := s.Query(Query{Filter: Filter{ExecutionID: "exec-1", Types: []EventType{EventTypeCostIncurred}}})
	require.Len(t, got, 1)
	assert.Equal(t, EventTypeCostIncurred, got[0].Type)
}

func TestInMemoryStore_QueryFiltersByTimeRange(t *testing.T) {
	s := NewInMemoryStore(nil)
	defer s.Close()
	ctx := context.Background()

	now := time.Now()
	_, _ = s.Append(ctx, Event{ExecutionID: "exec-1", Type: EventTypeWorkflowStarted, Timestamp: now.Add(-time.Hour)})
	_, _ = s.Append(ctx, Event{ExecutionID: "exec-1", Type: EventTypeStepCompleted, Timestamp: now})
	_, _ = s.Append(ctx, Event{ExecutionID: "exec-1", Type: EventTypeWorkflowCompleted, Timestamp: now.Add(time.Hour)})

	got := s.Query(Query{Filter: Filter{ExecutionID: "exec-1"}, Since: now.Add(-time.Minute), Until: now.Add(time.Minute)})
	require.Len(t, got, 1)
	assert.Equal(t, EventTypeStepCompleted, got[0].Type)
}

func TestInMemoryStore_QueryAppliesLimit(t *testing.T) {
	s := NewInMemoryStore(nil)
	defer s.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = s.Append(ctx, Event{ExecutionID: "exec-1", Type: EventTypeProgressUpdated})
	}
	_, _ = s.Append(ctx, Event{ExecutionID: "exec-1", Type: EventTypeWorkflowCompleted})

	got := s.Query(Query{Filter: Filter{ExecutionID: "exec-1"}, Limit: 2})
	require.Len(t, got, 2)
	assert.Equal(t, EventTypeWorkflowCompleted, got[1].Type)
}

func TestInMemoryStore_SubscribeMatchesFilter(t *testing.T) {
	s := NewInMemoryStore(nil)
	defer s.Close()
	ctx := context.Background()

	ch, cancel := s.Subscribe(Filter{ExecutionID: "exec-1"})
	defer cancel()

	_, _ = s.Append(ctx, Event{ExecutionID: "exec-2", Type: EventTypeWorkflowStarted})
	_, _ = s.Append(ctx, Event{ExecutionID: "exec-1", Type: EventTypeWorkflowStarted})

	select {
	case e := <-ch:
		assert.Equal(t, "exec-1", e.ExecutionID)
	case <-time.After(time.Second):
		t.Fatal("expected a matching event")
	}

	select {
	case e := <-ch:
		t.Fatalf("unexpected second event: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestInMemoryStore_SubscribeDropsOnFullQueue(t *testing.T) {
	s := NewInMemoryStore(nil)
	defer s.Close()
	ctx := context.Background()

	ch, cancel := s.Subscribe(Filter{ExecutionID: "exec-1"})
	defer cancel()

	for i := 0; i < subscriberQueueCapacity+10; i++ {
		_, err := s.Append(ctx, Event{ExecutionID: "exec-1", Type: EventTypeProgressUpdated})
		require.NoError(t, err)
	}

	assert.Equal(t, subscriberQueueCapacity, len(ch))
}

func TestInMemoryStore_GetWorkflowStateFoldsEvents(t *testing.T) {
	s := NewInMemoryStore(nil)
	defer s.Close()
	ctx := context.Background()

	_, _ = s.Append(ctx, Event{ExecutionID: "exec-1", Type: EventTypeWorkflowStarted, Payload: WorkflowStartedEvent{PipelineName: "transcription"}})
	_, _ = s.Append(ctx, Event{ExecutionID: "exec-1", Type: EventTypeStepCompleted, Payload: StepCompletedEvent{StepName: "transcribe"}})
	_, _ = s.Append(ctx, Event{ExecutionID: "exec-1", Type: EventTypeWorkflowCompleted})

	state, ok := s.GetWorkflowState("exec-1")
	require.True(t, ok)
	assert.Equal(t, "completed", state["status"])
	assert.Equal(t, "transcription", state["pipeline_name"])
	assert.Equal(t, []string{"transcribe"}, state["completed_steps"])
}

func TestInMemoryStore_GetWorkflowStateUnknownExecution(t *testing.T) {
	s := NewInMemoryStore(nil)
	defer s.Close()
	_, ok := s.GetWorkflowState("missing")
	assert.False(t, ok)
}

func TestInMemoryStore_CloseRejectsFurtherAppends(t *testing.T) {
	s := NewInMemoryStore(nil)
	s.Close()
	_, err := s.Append(context.Background(), Event{ExecutionID: "exec-1"})
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func TestPublisher_EmitsThroughStore(t *testing.T) {
	s := NewInMemoryStore(nil)
	defer s.Close()
	pub := NewPublisher(s)

	pub.WorkflowStarted(context.Background(), "exec-1", "tenant-a", WorkflowStartedEvent{PipelineName: "call_analysis"})

	got := s.GetEvents("exec-1")
	require.Len(t, got, 1)
	assert.Equal(t, EventTypeWorkflowStarted, got[0].Type)
	assert.Equal(t, "tenant-a", got[0].TenantID)
}

func TestPublisher_NilStoreIsNoOp(t *testing.T) {
	var pub *Publisher
	assert.NotPanics(t, func() {
		pub.WorkflowStarted(context.Background(), "exec-1", "", WorkflowStartedEvent{})
	})
}
