package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingSource never yields a frame; Acquire waits for cancellation. Keeps
// workers in StateRunning for as long as a test needs them there.
type blockingSource struct{}

func (blockingSource) Open(ctx context.Context) error { return nil }
func (blockingSource) Acquire(ctx context.Context) (*Frame, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
func (blockingSource) Close() error { return nil }

func newSupervisorHarness(t *testing.T, cfg SupervisorConfig, src *stubSnapshotSource, factory SourceFactory) (*Supervisor, *RegistryCache) {
	t.Helper()

	gate, err := NewQualityGate(DefaultQualityConfig())
	require.NoError(t, err)
	matcher, err := NewMatcher(MatcherConfig{Direction: HigherIsBetter, Threshold: 0.5})
	require.NoError(t, err)

	cache := NewRegistryCache(src)
	queue := NewEventQueue(&captureSink{}, 16)
	t.Cleanup(queue.Stop)

	provider := &scriptProvider{fn: func(call int, frame *Frame) ([]CandidateFace, error) {
		return nil, nil
	}}
	if factory == nil {
		factory = func(cam CameraConfig) (FrameSource, error) { return blockingSource{}, nil }
	}

	sup := NewSupervisor(cfg, provider, gate, matcher, cache, queue, nil, nil, factory)
	t.Cleanup(sup.StopAll)
	return sup, cache
}

func TestSupervisorStartIsIdempotent(t *testing.T) {
	sup, _ := newSupervisorHarness(t, DefaultSupervisorConfig(), &stubSnapshotSource{}, nil)
	cam := CameraConfig{ID: "cam_01", Name: "entrance", Source: "0"}

	require.NoError(t, sup.Start(context.Background(), cam))
	require.True(t, sup.Running("cam_01"))

	// second start leaves the existing worker untouched
	require.NoError(t, sup.Start(context.Background(), cam))
	assert.Len(t, sup.Status(), 1)
}

func TestSupervisorStopUnknownCameraIsNoOp(t *testing.T) {
	sup, _ := newSupervisorHarness(t, DefaultSupervisorConfig(), &stubSnapshotSource{}, nil)
	sup.Stop("never_started")
	assert.Empty(t, sup.Status())
}

func TestSupervisorStopThenStartAgain(t *testing.T) {
	cfg := DefaultSupervisorConfig()
	cfg.StopGrace = time.Second
	sup, _ := newSupervisorHarness(t, cfg, &stubSnapshotSource{}, nil)
	cam := CameraConfig{ID: "cam_01", Name: "entrance", Source: "0"}

	require.NoError(t, sup.Start(context.Background(), cam))
	sup.Stop("cam_01")
	assert.False(t, sup.Running("cam_01"))
	assert.Equal(t, StateStopped, sup.WorkerState("cam_01"))

	require.NoError(t, sup.Start(context.Background(), cam))
	assert.True(t, sup.Running("cam_01"))
}

func TestSupervisorFaultedCameraRequiresRestart(t *testing.T) {
	cfg := DefaultSupervisorConfig()
	attempts := 0
	factory := func(cam CameraConfig) (FrameSource, error) {
		attempts++
		if attempts == 1 {
			src := newScriptedSource(time.Now())
			src.openErr = errors.New("device busy")
			return src, nil
		}
		return blockingSource{}, nil
	}
	sup, _ := newSupervisorHarness(t, cfg, &stubSnapshotSource{}, factory)
	cam := CameraConfig{ID: "cam_01", Name: "entrance", Source: "0"}

	require.Error(t, sup.Start(context.Background(), cam))
	assert.Equal(t, StateFaulted, sup.WorkerState("cam_01"))

	// plain start refuses to touch a faulted camera
	err := sup.Start(context.Background(), cam)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "restart")

	// restart is the explicit path back
	require.NoError(t, sup.Restart(context.Background(), "cam_01"))
	assert.True(t, sup.Running("cam_01"))
}

func TestSupervisorRestartUnknownCamera(t *testing.T) {
	sup, _ := newSupervisorHarness(t, DefaultSupervisorConfig(), &stubSnapshotSource{}, nil)
	assert.Error(t, sup.Restart(context.Background(), "cam_99"))
}

// a burst of identity changes collapses into one cache refresh after the
// debounce interval
func TestSupervisorDebouncesIdentityChangeRefresh(t *testing.T) {
	cfg := DefaultSupervisorConfig()
	cfg.RefreshDebounce = 50 * time.Millisecond

	src := &stubSnapshotSource{}
	src.set([]IdentityEntry{{ID: 1, Name: "alice", Embeddings: [][]float32{{1, 0}}}}, nil)
	sup, cache := newSupervisorHarness(t, cfg, src, nil)

	for i := 0; i < 5; i++ {
		sup.OnIdentityChanged()
		time.Sleep(5 * time.Millisecond)
	}
	assert.True(t, cache.Stale(), "stale until the debounced refresh lands")

	require.Eventually(t, func() bool {
		return src.callCount() == 1 && !cache.Stale()
	}, 2*time.Second, 10*time.Millisecond)

	// quiet period, then one more change triggers exactly one more refresh
	sup.OnIdentityChanged()
	require.Eventually(t, func() bool {
		return src.callCount() == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, cache.Snapshot().Entries, 1)
}

func TestSupervisorStopAllStopsEveryWorker(t *testing.T) {
	cfg := DefaultSupervisorConfig()
	cfg.StopGrace = time.Second
	sup, _ := newSupervisorHarness(t, cfg, &stubSnapshotSource{}, nil)

	for _, id := range []string{"cam_01", "cam_02", "cam_03"} {
		require.NoError(t, sup.Start(context.Background(), CameraConfig{ID: id, Source: "0"}))
	}
	require.Len(t, sup.Status(), 3)

	sup.StopAll()
	assert.Empty(t, sup.Status())
	for _, id := range []string{"cam_01", "cam_02", "cam_03"} {
		assert.False(t, sup.Running(id))
	}
}

func TestSupervisorStatusReportsCounters(t *testing.T) {
	sup, _ := newSupervisorHarness(t, DefaultSupervisorConfig(), &stubSnapshotSource{}, nil)
	require.NoError(t, sup.Start(context.Background(), CameraConfig{ID: "cam_01", Name: "entrance", Source: "0"}))

	statuses := sup.Status()
	require.Len(t, statuses, 1)
	assert.Equal(t, "cam_01", statuses[0].CameraID)
	assert.Equal(t, "entrance", statuses[0].Name)
	assert.Equal(t, "running", statuses[0].StateName)
}
