package pipeline

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testImage = image.NewRGBA(image.Rect(0, 0, 640, 480))

// scriptedSource serves a fixed frame sequence, then signals drained and
// blocks until the worker is stopped.
type scriptedSource struct {
	openErr error
	frames  []*Frame

	mu      sync.Mutex
	idx     int
	opened  bool
	closed  bool
	drained chan struct{}
	once    sync.Once
}

func newScriptedSource(base time.Time, offsets ...time.Duration) *scriptedSource {
	s := &scriptedSource{drained: make(chan struct{})}
	for _, off := range offsets {
		s.frames = append(s.frames, &Frame{
			CameraID:   "cam_01",
			CapturedAt: base.Add(off),
			Image:      testImage,
		})
	}
	return s
}

func (s *scriptedSource) Open(ctx context.Context) error {
	if s.openErr != nil {
		return s.openErr
	}
	s.mu.Lock()
	s.opened = true
	s.mu.Unlock()
	return nil
}

func (s *scriptedSource) Acquire(ctx context.Context) (*Frame, error) {
	s.mu.Lock()
	if s.idx < len(s.frames) {
		frame := s.frames[s.idx]
		s.idx++
		s.mu.Unlock()
		return frame, nil
	}
	s.mu.Unlock()
	s.once.Do(func() { close(s.drained) })
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *scriptedSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *scriptedSource) wasClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// scriptProvider delegates each Detect call, numbered from 1, to fn.
type scriptProvider struct {
	mu    sync.Mutex
	calls int
	fn    func(call int, frame *Frame) ([]CandidateFace, error)
}

func (p *scriptProvider) Detect(ctx context.Context, frame *Frame) ([]CandidateFace, error) {
	p.mu.Lock()
	p.calls++
	call := p.calls
	p.mu.Unlock()
	return p.fn(call, frame)
}

func (p *scriptProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type statusRecorder struct {
	mu          sync.Mutex
	transitions []WorkerState
	lastCause   error
}

func (r *statusRecorder) CameraStateChanged(cameraID string, state WorkerState, cause error) {
	r.mu.Lock()
	r.transitions = append(r.transitions, state)
	if cause != nil {
		r.lastCause = cause
	}
	r.mu.Unlock()
}

func (r *statusRecorder) cause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastCause
}

func (r *statusRecorder) seen() []WorkerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]WorkerState, len(r.transitions))
	copy(out, r.transitions)
	return out
}

// goodCandidate is a candidate that passes the default quality gate and
// matches an identity enrolled with reference [1, 0] at similarity sim.
func goodCandidate(sim float64) CandidateFace {
	return CandidateFace{
		Region:    image.Rect(100, 100, 300, 300),
		Embedding: unitVec(sim),
		Metrics:   goodMetrics(),
	}
}

type workerHarness struct {
	worker *Worker
	sink   *captureSink
	queue  *EventQueue
	status *statusRecorder
}

func newWorkerHarness(t *testing.T, cfg WorkerConfig, source FrameSource, provider EmbeddingProvider) *workerHarness {
	t.Helper()

	gate, err := NewQualityGate(DefaultQualityConfig())
	require.NoError(t, err)
	matcher, err := NewMatcher(MatcherConfig{Direction: HigherIsBetter, Threshold: 0.5, Epsilon: 0.01})
	require.NoError(t, err)

	cache := NewRegistryCache(nil)
	cache.Replace([]IdentityEntry{{ID: 1, Name: "alice", Embeddings: [][]float32{{1, 0}}}})

	sink := &captureSink{}
	queue := NewEventQueue(sink, 64)
	status := &statusRecorder{}

	return &workerHarness{
		worker: NewWorker("cam_01", cfg, source, provider, gate, matcher, cache, NewWindow(30*time.Second), queue, nil, status),
		sink:   sink,
		queue:  queue,
		status: status,
	}
}

func (h *workerHarness) finish(t *testing.T, source *scriptedSource) []DetectionEvent {
	t.Helper()
	select {
	case <-source.drained:
	case <-time.After(5 * time.Second):
		t.Fatal("source was not drained in time")
	}
	h.worker.Stop(2 * time.Second)
	h.queue.Stop()
	return h.sink.recorded()
}

// a person continuously in frame for 65 seconds against a 30-second window
// yields exactly three events, at 0s, 30s and 60s of presence
func TestWorkerDedupAcrossContinuousPresence(t *testing.T) {
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	var offsets []time.Duration
	for s := 0; s <= 65; s++ {
		offsets = append(offsets, time.Duration(s)*time.Second)
	}
	source := newScriptedSource(base, offsets...)
	provider := &scriptProvider{fn: func(call int, frame *Frame) ([]CandidateFace, error) {
		return []CandidateFace{goodCandidate(0.82)}, nil
	}}

	h := newWorkerHarness(t, WorkerConfig{FrameSkip: 1}, source, provider)
	require.NoError(t, h.worker.Start(context.Background()))

	events := h.finish(t, source)
	require.Len(t, events, 3)
	for i, wantOffset := range []time.Duration{0, 30 * time.Second, 60 * time.Second} {
		e := events[i]
		assert.Equal(t, "cam_01", e.CameraID)
		assert.True(t, e.Identified)
		require.NotNil(t, e.IdentityID)
		assert.Equal(t, uint(1), *e.IdentityID)
		assert.Equal(t, "alice", e.IdentityName)
		assert.InDelta(t, 0.82, e.Score, 1e-4)
		assert.Equal(t, base.Add(wantOffset), e.CapturedAt, "event %d carries the frame capture time", i)
		assert.NotEmpty(t, e.ID)
	}
	assert.True(t, source.wasClosed())
}

func TestWorkerFrameSkipThrottlesProvider(t *testing.T) {
	base := time.Now()
	var offsets []time.Duration
	for i := 0; i < 6; i++ {
		offsets = append(offsets, time.Duration(i)*time.Second)
	}
	source := newScriptedSource(base, offsets...)
	provider := &scriptProvider{fn: func(call int, frame *Frame) ([]CandidateFace, error) {
		return nil, nil
	}}

	h := newWorkerHarness(t, WorkerConfig{FrameSkip: 2}, source, provider)
	require.NoError(t, h.worker.Start(context.Background()))
	h.finish(t, source)

	assert.Equal(t, 3, provider.callCount(), "every second frame reaches the provider")
	frames, processed, _ := h.worker.Counters()
	assert.Equal(t, uint64(6), frames)
	assert.Equal(t, uint64(3), processed)
}

func TestWorkerNoFacesEmitsNothing(t *testing.T) {
	source := newScriptedSource(time.Now(), 0, time.Second, 2*time.Second)
	provider := &scriptProvider{fn: func(call int, frame *Frame) ([]CandidateFace, error) {
		return nil, nil
	}}

	h := newWorkerHarness(t, WorkerConfig{FrameSkip: 1}, source, provider)
	require.NoError(t, h.worker.Start(context.Background()))

	events := h.finish(t, source)
	assert.Empty(t, events)
	assert.Equal(t, StateStopped, h.worker.State())
}

// a candidate failing the quality gate produces nothing, even though its
// embedding would match an enrolled identity
func TestWorkerLowQualityFaceEmitsNothing(t *testing.T) {
	source := newScriptedSource(time.Now(), 0)
	provider := &scriptProvider{fn: func(call int, frame *Frame) ([]CandidateFace, error) {
		c := goodCandidate(0.95)
		c.Metrics.Region = image.Rect(0, 0, 8, 8) // far below the minimum area band
		c.Metrics.Sharpness = 1
		c.Metrics.Brightness = 10
		return []CandidateFace{c}, nil
	}}

	h := newWorkerHarness(t, WorkerConfig{FrameSkip: 1}, source, provider)
	require.NoError(t, h.worker.Start(context.Background()))

	assert.Empty(t, h.finish(t, source))
}

// an unidentified face still produces an event, deduplicated under the shared
// unknown bucket
func TestWorkerUnknownFaceEmitsUnidentifiedEvent(t *testing.T) {
	source := newScriptedSource(time.Now(), 0, time.Second, 2*time.Second)
	provider := &scriptProvider{fn: func(call int, frame *Frame) ([]CandidateFace, error) {
		return []CandidateFace{goodCandidate(0.2)}, nil // below the 0.5 match threshold
	}}

	h := newWorkerHarness(t, WorkerConfig{FrameSkip: 1}, source, provider)
	require.NoError(t, h.worker.Start(context.Background()))

	events := h.finish(t, source)
	require.Len(t, events, 1)
	assert.False(t, events[0].Identified)
	assert.Nil(t, events[0].IdentityID)
	assert.Empty(t, events[0].IdentityName)
}

// transient provider failures within the budget recover without faulting
func TestWorkerProviderErrorsWithinBudgetRecover(t *testing.T) {
	base := time.Now()
	var offsets []time.Duration
	for i := 0; i < 10; i++ {
		offsets = append(offsets, time.Duration(i)*time.Second)
	}
	source := newScriptedSource(base, offsets...)
	provider := &scriptProvider{fn: func(call int, frame *Frame) ([]CandidateFace, error) {
		if call <= 3 {
			return nil, errors.New("inference backend unavailable")
		}
		return []CandidateFace{goodCandidate(0.82)}, nil
	}}

	cfg := WorkerConfig{
		FrameSkip:              1,
		MaxConsecutiveFailures: 5,
		RetryBackoff:           time.Millisecond,
		MaxRetryBackoff:        2 * time.Millisecond,
	}
	h := newWorkerHarness(t, cfg, source, provider)
	require.NoError(t, h.worker.Start(context.Background()))

	// frames 1-3 burn budget, frame 4 succeeds and emits; frames 5-10 are
	// suppressed by the dedup window
	events := h.finish(t, source)
	require.Len(t, events, 1)
	assert.True(t, events[0].Identified)
	assert.Equal(t, StateStopped, h.worker.State())
}

// one failure past the budget faults the worker; it stays faulted and does
// not restart itself
func TestWorkerFaultsWhenProviderBudgetExhausted(t *testing.T) {
	base := time.Now()
	var offsets []time.Duration
	for i := 0; i < 20; i++ {
		offsets = append(offsets, time.Duration(i)*time.Second)
	}
	source := newScriptedSource(base, offsets...)
	provider := &scriptProvider{fn: func(call int, frame *Frame) ([]CandidateFace, error) {
		return nil, errors.New("inference backend unavailable")
	}}

	cfg := WorkerConfig{
		FrameSkip:              1,
		MaxConsecutiveFailures: 5,
		RetryBackoff:           time.Millisecond,
		MaxRetryBackoff:        2 * time.Millisecond,
	}
	h := newWorkerHarness(t, cfg, source, provider)
	require.NoError(t, h.worker.Start(context.Background()))

	require.Eventually(t, func() bool {
		return h.worker.State() == StateFaulted && h.status.cause() != nil
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, 6, provider.callCount(), "the sixth consecutive failure exhausts a budget of five")
	require.Eventually(t, source.wasClosed, time.Second, 10*time.Millisecond)

	// Stop on a faulted worker is a no-op
	h.worker.Stop(time.Second)
	assert.Equal(t, StateFaulted, h.worker.State())
	h.queue.Stop()
}

func TestWorkerStartFailsWhenSourceCannotOpen(t *testing.T) {
	source := newScriptedSource(time.Now())
	source.openErr = errors.New("device busy")
	provider := &scriptProvider{fn: func(call int, frame *Frame) ([]CandidateFace, error) {
		return nil, nil
	}}

	h := newWorkerHarness(t, WorkerConfig{}, source, provider)
	err := h.worker.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFaulted, h.worker.State())
	h.queue.Stop()
}

func TestWorkerLifecycleTransitions(t *testing.T) {
	source := newScriptedSource(time.Now(), 0)
	provider := &scriptProvider{fn: func(call int, frame *Frame) ([]CandidateFace, error) {
		return nil, nil
	}}

	h := newWorkerHarness(t, WorkerConfig{FrameSkip: 1}, source, provider)

	// double start is rejected
	require.NoError(t, h.worker.Start(context.Background()))
	assert.Error(t, h.worker.Start(context.Background()))

	h.finish(t, source)
	assert.Equal(t, []WorkerState{StateStarting, StateRunning, StateStopping, StateStopped}, h.status.seen())
}
