package pipeline

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// SupervisorConfig bounds supervisor behaviour.
type SupervisorConfig struct {
	Worker WorkerConfig

	// suppression interval for the per-camera dedup windows
	DedupWindow time.Duration

	// identity-change notifications arriving within this interval collapse
	// into a single cache refresh
	RefreshDebounce time.Duration

	// how long Stop waits for a worker to finish its in-flight frame
	StopGrace time.Duration

	// upper bound on one cache refresh round-trip
	RefreshTimeout time.Duration
}

// DefaultSupervisorConfig returns the bounds used when nothing is configured.
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		Worker:          DefaultWorkerConfig(),
		DedupWindow:     30 * time.Second,
		RefreshDebounce: 2 * time.Second,
		StopGrace:       10 * time.Second,
		RefreshTimeout:  30 * time.Second,
	}
}

// CameraStatus is one camera's view on the status surface.
type CameraStatus struct {
	CameraID  string      `json:"camera_id"`
	Name      string      `json:"name"`
	State     WorkerState `json:"-"`
	StateName string      `json:"state"`
	Frames    uint64      `json:"frames"`
	Processed uint64      `json:"processed"`
	Emitted   uint64      `json:"emitted"`
}

// Supervisor owns the set of running camera workers and the registry cache
// refresh cycle. Starting an already-running camera is a no-op, stopping an
// unknown camera is a no-op, and a faulted worker is never restarted
// automatically: restart is an explicit operator action so a persistently
// broken camera cannot cause a restart storm.
type Supervisor struct {
	cfg       SupervisorConfig
	provider  EmbeddingProvider
	gate      *QualityGate
	matcher   *Matcher
	cache     *RegistryCache
	queue     *EventQueue
	snapshots SnapshotWriter
	status    StatusListener
	sources   SourceFactory

	mu      sync.Mutex
	workers map[string]*Worker
	cameras map[string]CameraConfig

	refreshMu    sync.Mutex
	refreshTimer *time.Timer
}

// NewSupervisor wires a supervisor. The event queue is shared by all workers;
// everything else per-camera is created on Start.
func NewSupervisor(cfg SupervisorConfig, provider EmbeddingProvider, gate *QualityGate,
	matcher *Matcher, cache *RegistryCache, queue *EventQueue,
	snapshots SnapshotWriter, status StatusListener, sources SourceFactory) *Supervisor {
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = DefaultSupervisorConfig().DedupWindow
	}
	if cfg.RefreshDebounce <= 0 {
		cfg.RefreshDebounce = DefaultSupervisorConfig().RefreshDebounce
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = DefaultSupervisorConfig().StopGrace
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = DefaultSupervisorConfig().RefreshTimeout
	}
	return &Supervisor{
		cfg:       cfg,
		provider:  provider,
		gate:      gate,
		matcher:   matcher,
		cache:     cache,
		queue:     queue,
		snapshots: snapshots,
		status:    status,
		sources:   sources,
		workers:   make(map[string]*Worker),
		cameras:   make(map[string]CameraConfig),
	}
}

// Start launches a worker for the camera. No-op if the camera is already
// running; a faulted camera must go through Restart so the fault is an
// explicit operator acknowledgement.
func (s *Supervisor) Start(ctx context.Context, cam CameraConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w, ok := s.workers[cam.ID]; ok {
		switch w.State() {
		case StateStarting, StateRunning, StateStopping:
			log.Printf("pipeline: camera %s already running, start is a no-op", cam.ID)
			return nil
		case StateFaulted:
			return fmt.Errorf("camera %s is faulted; use restart", cam.ID)
		}
		delete(s.workers, cam.ID)
	}

	source, err := s.sources(cam)
	if err != nil {
		return fmt.Errorf("camera %s: building frame source: %w", cam.ID, err)
	}

	worker := NewWorker(cam.ID, s.cfg.Worker, source, s.provider, s.gate, s.matcher,
		s.cache, NewWindow(s.cfg.DedupWindow), s.queue, s.snapshots, s.status)
	if err := worker.Start(ctx); err != nil {
		// keep the faulted worker visible on the status surface
		s.workers[cam.ID] = worker
		s.cameras[cam.ID] = cam
		return err
	}

	s.workers[cam.ID] = worker
	s.cameras[cam.ID] = cam
	return nil
}

// Stop shuts down the camera's worker. No-op for unknown camera IDs.
func (s *Supervisor) Stop(cameraID string) {
	s.mu.Lock()
	worker, ok := s.workers[cameraID]
	if ok {
		delete(s.workers, cameraID)
		delete(s.cameras, cameraID)
	}
	s.mu.Unlock()

	if !ok {
		log.Printf("pipeline: stop for unknown camera %s ignored", cameraID)
		return
	}
	worker.Stop(s.cfg.StopGrace)
}

// Restart tears down the camera's worker, faulted or not, and starts a fresh
// one. This is the only path back from StateFaulted.
func (s *Supervisor) Restart(ctx context.Context, cameraID string) error {
	s.mu.Lock()
	cam, known := s.cameras[cameraID]
	worker := s.workers[cameraID]
	delete(s.workers, cameraID)
	s.mu.Unlock()

	if !known {
		return fmt.Errorf("camera %s is not managed by the supervisor", cameraID)
	}
	if worker != nil {
		worker.Stop(s.cfg.StopGrace)
	}
	return s.Start(ctx, cam)
}

// StopAll stops every worker. Used on shutdown.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	workers := make([]*Worker, 0, len(s.workers))
	for id, w := range s.workers {
		workers = append(workers, w)
		delete(s.workers, id)
		delete(s.cameras, id)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			w.Stop(s.cfg.StopGrace)
		}(w)
	}
	wg.Wait()

	s.refreshMu.Lock()
	if s.refreshTimer != nil {
		s.refreshTimer.Stop()
		s.refreshTimer = nil
	}
	s.refreshMu.Unlock()
}

// OnIdentityChanged schedules a registry cache refresh. Notifications
// arriving in a burst collapse into a single refresh once the debounce
// interval has passed without further changes.
func (s *Supervisor) OnIdentityChanged() {
	s.cache.Invalidate()

	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	if s.refreshTimer != nil {
		s.refreshTimer.Reset(s.cfg.RefreshDebounce)
		return
	}
	s.refreshTimer = time.AfterFunc(s.cfg.RefreshDebounce, s.refreshNow)
}

func (s *Supervisor) refreshNow() {
	s.refreshMu.Lock()
	s.refreshTimer = nil
	s.refreshMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RefreshTimeout)
	defer cancel()
	if err := s.cache.Refresh(ctx); err != nil {
		// cache already logged and flagged degraded mode; matching continues
		// on the stale snapshot
		return
	}
}

// Status returns the current view of every managed camera.
func (s *Supervisor) Status() []CameraStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make([]CameraStatus, 0, len(s.workers))
	for id, w := range s.workers {
		frames, processed, emitted := w.Counters()
		statuses = append(statuses, CameraStatus{
			CameraID:  id,
			Name:      s.cameras[id].Name,
			State:     w.State(),
			StateName: w.State().String(),
			Frames:    frames,
			Processed: processed,
			Emitted:   emitted,
		})
	}
	return statuses
}

// Running reports whether the camera currently has a live worker.
func (s *Supervisor) Running(cameraID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[cameraID]
	return ok && (w.State() == StateStarting || w.State() == StateRunning)
}

// WorkerState returns the state of the camera's worker, or StateStopped for
// unmanaged cameras.
func (s *Supervisor) WorkerState(cameraID string) WorkerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.workers[cameraID]; ok {
		return w.State()
	}
	return StateStopped
}
