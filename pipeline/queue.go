package pipeline

import (
	"log"
	"sync"
	"sync/atomic"
)

// EventQueue decouples camera workers from the event sink: workers push
// without blocking and a single flusher goroutine drains to the sink. Under
// backpressure the oldest queued event is dropped and a counter incremented,
// so a slow sink can delay events but never stall detection. Emission is
// at-most-once from the pipeline's perspective.
type EventQueue struct {
	sink EventSink

	mu      sync.Mutex
	buf     []DetectionEvent
	notify  chan struct{}
	stopped bool

	dropped    atomic.Uint64
	sinkErrors atomic.Uint64

	wg sync.WaitGroup
}

// NewEventQueue creates a queue with the given capacity and starts the
// flusher. Call Stop to drain and shut down.
func NewEventQueue(sink EventSink, capacity int) *EventQueue {
	if capacity <= 0 {
		capacity = 256
	}
	q := &EventQueue{
		sink:   sink,
		buf:    make([]DetectionEvent, 0, capacity),
		notify: make(chan struct{}, 1),
	}
	q.wg.Add(1)
	go q.flush(capacity)
	return q
}

// Push enqueues an event, dropping the oldest queued event if the queue is
// full. Never blocks.
func (q *EventQueue) Push(event DetectionEvent) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		q.dropped.Add(1)
		return
	}
	if len(q.buf) == cap(q.buf) {
		copy(q.buf, q.buf[1:])
		q.buf = q.buf[:len(q.buf)-1]
		q.dropped.Add(1)
		log.Printf("pipeline: event queue full, dropped oldest event (total dropped: %d)", q.dropped.Load())
	}
	q.buf = append(q.buf, event)

	// the wakeup stays under mu: Stop closes notify after flipping stopped,
	// so sending outside the lock could hit a closed channel
	select {
	case q.notify <- struct{}{}:
	default:
	}
	q.mu.Unlock()
}

// Dropped returns the number of events discarded under backpressure.
func (q *EventQueue) Dropped() uint64 { return q.dropped.Load() }

// SinkErrors returns the number of events the sink failed to record.
func (q *EventQueue) SinkErrors() uint64 { return q.sinkErrors.Load() }

// Stop drains the remaining queued events to the sink and stops the flusher.
func (q *EventQueue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	q.mu.Unlock()

	close(q.notify)
	q.wg.Wait()
}

func (q *EventQueue) flush(capacity int) {
	defer q.wg.Done()
	batch := make([]DetectionEvent, 0, capacity)
	for {
		_, open := <-q.notify

		q.mu.Lock()
		batch = append(batch[:0], q.buf...)
		q.buf = q.buf[:0]
		q.mu.Unlock()

		for _, event := range batch {
			if err := q.sink.Record(event); err != nil {
				q.sinkErrors.Add(1)
				log.Printf("pipeline: event sink error for camera %s: %v", event.CameraID, err)
			}
		}

		if !open {
			return
		}
	}
}
