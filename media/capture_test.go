package media

import (
	"context"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCaptureSourceAcquireHonorsDeadline(t *testing.T) {
	release := make(chan struct{})
	src := NewCaptureSource("cam_01", "rtsp://10.0.0.9/dead")
	src.mat = gocv.NewMat()
	src.read = func(m *gocv.Mat) bool {
		<-release
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := src.Acquire(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second, "a hung stream read must not block past the deadline")

	// the stream is still hung: the next acquire times out as well instead
	// of starting a second read against the same mat
	ctx2, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel2()
	_, err = src.Acquire(ctx2)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// once the stream comes back the source recovers; the stub leaves the
	// mat empty so the acquire fails on the empty-frame check, not on the
	// watchdog
	close(release)
	src.read = func(m *gocv.Mat) bool { return true }
	_, err = src.Acquire(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty frame")

	require.NoError(t, src.Close())
}

func TestCaptureSourceAcquireNotOpen(t *testing.T) {
	src := NewCaptureSource("cam_01", "0")
	_, err := src.Acquire(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not open")
}
