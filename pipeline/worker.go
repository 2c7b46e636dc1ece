package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// WorkerState is the lifecycle state of one camera worker.
type WorkerState int32

const (
	StateStopped WorkerState = iota
	StateStarting
	StateRunning
	StateStopping
	StateFaulted
)

func (s WorkerState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// WorkerConfig bounds the worker's frame loop.
type WorkerConfig struct {
	// process every Nth acquired frame; values <= 1 process every frame
	FrameSkip int

	AcquireTimeout  time.Duration
	ProviderTimeout time.Duration

	// consecutive transient failures tolerated before the worker faults
	MaxConsecutiveFailures int

	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration
}

// DefaultWorkerConfig returns the bounds used when nothing is configured.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		FrameSkip:              2,
		AcquireTimeout:         5 * time.Second,
		ProviderTimeout:        10 * time.Second,
		MaxConsecutiveFailures: 5,
		RetryBackoff:           250 * time.Millisecond,
		MaxRetryBackoff:        5 * time.Second,
	}
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	def := DefaultWorkerConfig()
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = def.AcquireTimeout
	}
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = def.ProviderTimeout
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = def.MaxConsecutiveFailures
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = def.RetryBackoff
	}
	if c.MaxRetryBackoff < c.RetryBackoff {
		c.MaxRetryBackoff = def.MaxRetryBackoff
	}
	return c
}

// Worker owns one camera: its acquisition loop, frame throttling and the
// gate → match → dedup → emit orchestration. Workers never block on each
// other; the only shared state they touch is the registry cache snapshot and
// the bounded event queue. A single bad frame never crashes a worker; a
// camera that stays broken beyond the failure budget faults the worker until
// the supervisor explicitly restarts it.
type Worker struct {
	cameraID string
	cfg      WorkerConfig

	source    FrameSource
	provider  EmbeddingProvider
	gate      *QualityGate
	matcher   *Matcher
	cache     *RegistryCache
	window    *Window
	queue     *EventQueue
	snapshots SnapshotWriter
	status    StatusListener

	state  atomic.Int32
	cancel context.CancelFunc
	done   chan struct{}

	frames    atomic.Uint64
	processed atomic.Uint64
	emitted   atomic.Uint64
}

// NewWorker wires a worker for one camera. The dedup window is owned by the
// worker and must not be shared.
func NewWorker(cameraID string, cfg WorkerConfig, source FrameSource, provider EmbeddingProvider,
	gate *QualityGate, matcher *Matcher, cache *RegistryCache, window *Window,
	queue *EventQueue, snapshots SnapshotWriter, status StatusListener) *Worker {
	return &Worker{
		cameraID:  cameraID,
		cfg:       cfg.withDefaults(),
		source:    source,
		provider:  provider,
		gate:      gate,
		matcher:   matcher,
		cache:     cache,
		window:    window,
		queue:     queue,
		snapshots: snapshots,
		status:    status,
	}
}

// State returns the worker's current lifecycle state.
func (w *Worker) State() WorkerState {
	return WorkerState(w.state.Load())
}

// Counters returns acquired, processed and emitted totals for the status
// surface.
func (w *Worker) Counters() (frames, processed, emitted uint64) {
	return w.frames.Load(), w.processed.Load(), w.emitted.Load()
}

// Start opens the frame source and launches the acquisition loop. Starting a
// worker that is not stopped is an error; the supervisor guarantees
// idempotency at its own level.
func (w *Worker) Start(ctx context.Context) error {
	if !w.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return fmt.Errorf("camera %s: worker is %s, not stopped", w.cameraID, w.State())
	}
	w.notify(StateStarting, nil)

	if err := w.source.Open(ctx); err != nil {
		w.fault(fmt.Errorf("opening frame source: %w", err))
		return fmt.Errorf("camera %s: %w", w.cameraID, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})

	w.state.Store(int32(StateRunning))
	w.notify(StateRunning, nil)
	log.Printf("pipeline: camera %s worker running (frame skip %d, failure budget %d)",
		w.cameraID, w.cfg.FrameSkip, w.cfg.MaxConsecutiveFailures)

	go w.run(runCtx)
	return nil
}

// Stop asks the worker to finish the frame it is processing and shut down.
// No new acquisition starts after Stop; if the worker does not finish within
// the grace period the call returns anyway and the loop exits on its own.
func (w *Worker) Stop(grace time.Duration) {
	if !w.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return
	}
	w.notify(StateStopping, nil)
	w.cancel()

	select {
	case <-w.done:
	case <-time.After(grace):
		log.Printf("pipeline: camera %s worker did not stop within %s, detaching", w.cameraID, grace)
	}

	w.state.Store(int32(StateStopped))
	w.notify(StateStopped, nil)
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	defer func() {
		if err := w.source.Close(); err != nil {
			log.Printf("pipeline: camera %s: closing frame source: %v", w.cameraID, err)
		}
	}()

	consecutive := 0
	backoff := w.cfg.RetryBackoff

	for {
		if ctx.Err() != nil {
			return
		}

		frame, err := w.acquire(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			consecutive++
			if w.exhausted(consecutive, fmt.Errorf("frame acquisition: %w", err)) {
				return
			}
			log.Printf("pipeline: camera %s: transient acquisition error (%d/%d): %v",
				w.cameraID, consecutive, w.cfg.MaxConsecutiveFailures, err)
			if !w.sleep(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, w.cfg.MaxRetryBackoff)
			continue
		}

		n := w.frames.Add(1)
		if w.cfg.FrameSkip > 1 && n%uint64(w.cfg.FrameSkip) != 0 {
			continue
		}

		candidates, err := w.detect(ctx, frame)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// provider failure means zero candidates for this frame, but it
			// still burns the failure budget so a dead provider faults the
			// worker instead of spinning forever
			consecutive++
			if w.exhausted(consecutive, fmt.Errorf("embedding provider: %w", err)) {
				return
			}
			log.Printf("pipeline: camera %s: provider error (%d/%d): %v",
				w.cameraID, consecutive, w.cfg.MaxConsecutiveFailures, err)
			if !w.sleep(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, w.cfg.MaxRetryBackoff)
			continue
		}

		consecutive = 0
		backoff = w.cfg.RetryBackoff
		w.processed.Add(1)
		w.processFrame(frame, candidates)
	}
}

func (w *Worker) acquire(ctx context.Context) (*Frame, error) {
	actx, cancel := context.WithTimeout(ctx, w.cfg.AcquireTimeout)
	defer cancel()
	frame, err := w.source.Acquire(actx)
	if err != nil {
		return nil, err
	}
	if frame == nil || frame.Image == nil {
		return nil, errors.New("source returned empty frame")
	}
	return frame, nil
}

func (w *Worker) detect(ctx context.Context, frame *Frame) ([]CandidateFace, error) {
	dctx, cancel := context.WithTimeout(ctx, w.cfg.ProviderTimeout)
	defer cancel()
	return w.provider.Detect(dctx, frame)
}

// processFrame runs each candidate through the quality gate, the matcher and
// the dedup window, emitting an event for every sighting that survives. The
// event timestamp is always the frame's capture time, not the time of cache
// lookup.
func (w *Worker) processFrame(frame *Frame, candidates []CandidateFace) {
	if len(candidates) == 0 {
		return
	}
	snap := w.cache.Snapshot()

	for _, candidate := range candidates {
		score := w.gate.Assess(candidate.Metrics)
		if !w.gate.Accept(score, PurposeMatching) {
			continue
		}

		result := w.matcher.Match(candidate.Embedding, snap)

		subject := SubjectUnknown
		var identityID *uint
		if result.Identified {
			subject = strconv.FormatUint(uint64(result.IdentityID), 10)
			id := result.IdentityID
			identityID = &id
		}

		if !w.window.ShouldEmit(subject, frame.CapturedAt) {
			continue
		}

		var snapshotRef string
		if w.snapshots != nil {
			ref, err := w.snapshots.SaveCrop(w.cameraID, frame.Image, candidate.Region, frame.CapturedAt)
			if err != nil {
				log.Printf("pipeline: camera %s: saving event snapshot: %v", w.cameraID, err)
			} else {
				snapshotRef = ref
			}
		}

		w.queue.Push(DetectionEvent{
			ID:           uuid.NewString(),
			CameraID:     w.cameraID,
			CapturedAt:   frame.CapturedAt,
			Identified:   result.Identified,
			IdentityID:   identityID,
			IdentityName: result.IdentityName,
			Score:        result.Score,
			Region:       candidate.Region,
			SnapshotRef:  snapshotRef,
		})
		w.emitted.Add(1)
	}
}

// exhausted faults the worker once the consecutive-failure budget is spent.
func (w *Worker) exhausted(consecutive int, cause error) bool {
	if consecutive <= w.cfg.MaxConsecutiveFailures {
		return false
	}
	w.fault(fmt.Errorf("%d consecutive failures, last: %w", consecutive, cause))
	return true
}

func (w *Worker) fault(cause error) {
	w.state.Store(int32(StateFaulted))
	log.Printf("pipeline: camera %s worker FAULTED: %v", w.cameraID, cause)
	w.notify(StateFaulted, cause)
}

func (w *Worker) notify(state WorkerState, cause error) {
	if w.status != nil {
		w.status.CameraStateChanged(w.cameraID, state, cause)
	}
}

// sleep waits for the backoff duration, returning false if the context is
// cancelled first.
func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}
