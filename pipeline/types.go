package pipeline

import (
	"context"
	"image"
	"time"
)

// Frame is a single decoded camera frame handed to the pipeline. The image is
// owned by the worker for the duration of one processing pass and must not be
// retained by collaborators.
type Frame struct {
	CameraID   string
	CapturedAt time.Time
	Image      image.Image
}

// RegionMetrics carries the quality-relevant measurements for one detected
// face region. The embedding provider fills these in; the quality gate scores
// them without touching pixels again.
type RegionMetrics struct {
	FrameWidth  int
	FrameHeight int
	Region      image.Rectangle
	Brightness  float64 // mean luma, 0..255
	Sharpness   float64 // edge-energy proxy (variance of Laplacian)
}

// CandidateFace is one detected face within a frame: region, embedding and
// quality metrics. It lives only for the duration of one frame's processing.
type CandidateFace struct {
	Region     image.Rectangle
	Embedding  []float32
	Confidence float32
	Metrics    RegionMetrics
}

// MatchResult is the outcome of matching a candidate embedding against the
// registry snapshot. Immutable once computed.
type MatchResult struct {
	Identified   bool
	IdentityID   uint
	IdentityName string
	Score        float64
}

// DetectionEvent is the durable output unit of the pipeline. Ownership
// transfers to the event sink on emission; the pipeline never mutates an
// event after handing it off.
type DetectionEvent struct {
	ID           string
	CameraID     string
	CapturedAt   time.Time
	Identified   bool
	IdentityID   *uint
	IdentityName string
	Score        float64
	Region       image.Rectangle
	SnapshotRef  string
}

// FrameSource acquires frames from one camera. Acquire blocks until a frame
// is available, the context is cancelled, or the source fails.
type FrameSource interface {
	Open(ctx context.Context) error
	Acquire(ctx context.Context) (*Frame, error)
	Close() error
}

// EmbeddingProvider detects faces in a frame and returns one candidate per
// detected region, embeddings included. A provider error or timeout is
// treated by the worker as zero candidates plus a transient failure.
type EmbeddingProvider interface {
	Detect(ctx context.Context, frame *Frame) ([]CandidateFace, error)
}

// EventSink receives detection events. Calls are best-effort; the pipeline
// never blocks a camera worker on a slow sink.
type EventSink interface {
	Record(event DetectionEvent) error
}

// SnapshotWriter persists the face crop behind an emitted event and returns a
// storage reference for it. Optional; a nil writer disables crop capture. A
// writer failure costs only the reference, never the event.
type SnapshotWriter interface {
	SaveCrop(cameraID string, img image.Image, region image.Rectangle, capturedAt time.Time) (string, error)
}

// StatusListener is notified of camera worker lifecycle transitions. cause is
// non-nil only for transitions into StateFaulted.
type StatusListener interface {
	CameraStateChanged(cameraID string, state WorkerState, cause error)
}

// SnapshotSource provides the registry cache with the current set of enrolled
// identities. Backed by the persistence layer.
type SnapshotSource interface {
	CurrentSnapshot(ctx context.Context) ([]IdentityEntry, error)
}

// CameraConfig describes one camera the supervisor can run a worker for.
type CameraConfig struct {
	ID     string
	Name   string
	Source string // device index or stream URL
}

// SourceFactory builds a FrameSource for a camera. Injected so the pipeline
// can be exercised without real capture hardware.
type SourceFactory func(cfg CameraConfig) (FrameSource, error)
