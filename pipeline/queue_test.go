package pipeline

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureSink records delivered events. When gate is set the first Record
// signals entered and every Record blocks until gate is closed, letting tests
// fill the queue behind a stalled sink.
type captureSink struct {
	mu     sync.Mutex
	events []DetectionEvent
	err    error

	entered chan struct{}
	gate    chan struct{}
	once    sync.Once
}

func (s *captureSink) Record(event DetectionEvent) error {
	if s.gate != nil {
		s.once.Do(func() { close(s.entered) })
		<-s.gate
	}
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
	return nil
}

func (s *captureSink) recorded() []DetectionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DetectionEvent, len(s.events))
	copy(out, s.events)
	return out
}

func TestEventQueueDeliversInOrder(t *testing.T) {
	sink := &captureSink{}
	q := NewEventQueue(sink, 64)

	for i := 0; i < 20; i++ {
		q.Push(DetectionEvent{ID: fmt.Sprintf("e%d", i), CameraID: "cam_01"})
	}
	q.Stop()

	events := sink.recorded()
	require.Len(t, events, 20)
	for i, e := range events {
		assert.Equal(t, fmt.Sprintf("e%d", i), e.ID)
	}
	assert.Zero(t, q.Dropped())
	assert.Zero(t, q.SinkErrors())
}

func TestEventQueueDropsOldestWhenFull(t *testing.T) {
	sink := &captureSink{
		entered: make(chan struct{}),
		gate:    make(chan struct{}),
	}
	q := NewEventQueue(sink, 4)

	q.Push(DetectionEvent{ID: "e0"})
	<-sink.entered // flusher is now stalled inside the sink

	// six more events against capacity 4: e1 and e2 give way
	for i := 1; i <= 6; i++ {
		q.Push(DetectionEvent{ID: fmt.Sprintf("e%d", i)})
	}

	close(sink.gate)
	q.Stop()

	var ids []string
	for _, e := range sink.recorded() {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"e0", "e3", "e4", "e5", "e6"}, ids, "newest events survive backpressure")
	assert.Equal(t, uint64(2), q.Dropped())
}

func TestEventQueueCountsSinkErrors(t *testing.T) {
	sink := &captureSink{err: errors.New("db locked")}
	q := NewEventQueue(sink, 8)

	for i := 0; i < 3; i++ {
		q.Push(DetectionEvent{ID: fmt.Sprintf("e%d", i)})
	}
	q.Stop()

	assert.Equal(t, uint64(3), q.SinkErrors())
	assert.Empty(t, sink.recorded())
}

func TestEventQueueConcurrentPushAndStop(t *testing.T) {
	// pushers racing Stop must never touch the closed wakeup channel
	for i := 0; i < 200; i++ {
		sink := &captureSink{}
		q := NewEventQueue(sink, 8)

		var wg sync.WaitGroup
		for p := 0; p < 8; p++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 10; j++ {
					q.Push(DetectionEvent{ID: "e", CameraID: "cam_01"})
				}
			}()
		}
		q.Stop()
		wg.Wait()
	}
}

func TestEventQueuePushAfterStopIsDropped(t *testing.T) {
	sink := &captureSink{}
	q := NewEventQueue(sink, 8)
	q.Stop()

	q.Push(DetectionEvent{ID: "late"})
	assert.Equal(t, uint64(1), q.Dropped())
	assert.Empty(t, sink.recorded())

	// Stop is idempotent
	q.Stop()
}
