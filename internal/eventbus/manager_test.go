package eventbus

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerPublishAssignsSequence(t *testing.T) {
	m := NewManager(16)
	taskID := uuid.New()

	ch := m.Subscribe(taskID.String(), 8)
	defer m.Unsubscribe(taskID.String(), ch)

	m.Publish(Event{EventID: uuid.New(), TaskID: taskID, EventType: TypeWorkflowStarted})
	m.Publish(Event{EventID: uuid.New(), TaskID: taskID, EventType: TypeIterationStarted})

	first := <-ch
	second := <-ch
	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, uint64(2), second.Seq)
}

func TestManagerReplaySince(t *testing.T) {
	m := NewManager(16)
	taskID := uuid.New()

	for i := 0; i < 5; i++ {
		m.Publish(Event{EventID: uuid.New(), TaskID: taskID, EventType: TypeIterationStarted})
	}

	replay := m.ReplaySince(taskID.String(), 3)
	require.Len(t, replay, 2)
	assert.Equal(t, uint64(4), replay[0].Seq)
	assert.Equal(t, uint64(5), replay[1].Seq)

	assert.Empty(t, m.ReplaySince(uuid.NewString(), 0), "unknown task has no history")
}

func TestManagerRingEvictsOldest(t *testing.T) {
	m := NewManager(3)
	taskID := uuid.New()

	for i := 0; i < 5; i++ {
		m.Publish(Event{EventID: uuid.New(), TaskID: taskID, EventType: TypeIterationStarted})
	}

	replay := m.ReplaySince(taskID.String(), 0)
	require.Len(t, replay, 3, "capacity bounds the ring")
	assert.Equal(t, uint64(3), replay[0].Seq)
	assert.Equal(t, uint64(5), replay[2].Seq)
}

func TestManagerSlowSubscriberDrops(t *testing.T) {
	m := NewManager(16)
	taskID := uuid.New()

	ch := m.Subscribe(taskID.String(), 1)
	defer m.Unsubscribe(taskID.String(), ch)

	// Second publish overflows the buffer and is dropped, not blocked on.
	m.Publish(Event{EventID: uuid.New(), TaskID: taskID, EventType: TypeWorkflowStarted})
	m.Publish(Event{EventID: uuid.New(), TaskID: taskID, EventType: TypeIterationStarted})

	got := <-ch
	assert.Equal(t, TypeWorkflowStarted, got.EventType)
	select {
	case evt := <-ch:
		t.Fatalf("unexpected buffered event %s", evt.EventType)
	default:
	}
}

func TestManagerDropReleasesHistory(t *testing.T) {
	m := NewManager(16)
	taskID := uuid.New()

	m.Publish(Event{EventID: uuid.New(), TaskID: taskID, EventType: TypeWorkflowCompleted})
	require.NotEmpty(t, m.ReplaySince(taskID.String(), 0))

	m.Drop(taskID.String())
	assert.Empty(t, m.ReplaySince(taskID.String(), 0))
}
