package media

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"gocv.io/x/gocv"

	"github.com/camden-git/visionsysbackend/pipeline"
)

// CaptureSource acquires frames from one camera via OpenCV video capture.
// The source string is either a device index ("0") or a stream URL
// (rtsp://, http://, or a file path). Owned by a single camera worker; not
// safe for concurrent use.
type CaptureSource struct {
	cameraID string
	source   string

	capture *gocv.VideoCapture
	mat     gocv.Mat
	read    func(m *gocv.Mat) bool
	pending chan bool
}

// how long Close waits for a hung read before abandoning the capture handle
const captureDetachTimeout = 5 * time.Second

// Ensure CaptureSource implements pipeline.FrameSource
var _ pipeline.FrameSource = (*CaptureSource)(nil)

// NewCaptureSource creates an unopened capture source for a camera.
func NewCaptureSource(cameraID, source string) *CaptureSource {
	return &CaptureSource{cameraID: cameraID, source: source}
}

// NewSourceFactory returns a factory building OpenCV capture sources, the
// production wiring for the camera supervisor.
func NewSourceFactory() pipeline.SourceFactory {
	return func(cam pipeline.CameraConfig) (pipeline.FrameSource, error) {
		if cam.Source == "" {
			return nil, fmt.Errorf("camera %s has no source configured", cam.ID)
		}
		return NewCaptureSource(cam.ID, cam.Source), nil
	}
}

// Open connects to the device or stream.
func (s *CaptureSource) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var capture *gocv.VideoCapture
	var err error
	if deviceID, convErr := strconv.Atoi(s.source); convErr == nil {
		capture, err = gocv.OpenVideoCapture(deviceID)
	} else {
		capture, err = gocv.OpenVideoCapture(s.source)
	}
	if err != nil {
		return fmt.Errorf("opening video capture '%s': %w", s.source, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return fmt.Errorf("video capture '%s' did not open", s.source)
	}

	// a one-frame buffer keeps Read returning the newest frame instead of a
	// backlog when processing falls behind the stream
	capture.Set(gocv.VideoCaptureBufferSize, 1)

	s.capture = capture
	s.mat = gocv.NewMat()
	s.read = func(m *gocv.Mat) bool { return capture.Read(m) }
	log.Printf("media.capture: camera %s connected to %s (%.0fx%.0f @ %.1f fps)",
		s.cameraID, s.source,
		capture.Get(gocv.VideoCaptureFrameWidth),
		capture.Get(gocv.VideoCaptureFrameHeight),
		capture.Get(gocv.VideoCaptureFPS))
	return nil
}

// Acquire reads the next frame and stamps it with the capture time. The read
// itself runs on a goroutine so a stream that stops producing cannot block
// past the context deadline.
func (s *CaptureSource) Acquire(ctx context.Context) (*pipeline.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.read == nil {
		return nil, fmt.Errorf("camera %s: capture is not open", s.cameraID)
	}

	// a previous read that outlived its deadline still owns the mat; wait
	// for it to come back before starting another
	if s.pending != nil {
		select {
		case <-s.pending:
			s.pending = nil
		case <-ctx.Done():
			return nil, fmt.Errorf("camera %s: stream read on '%s' still hung: %w", s.cameraID, s.source, ctx.Err())
		}
	}

	done := make(chan bool, 1)
	read := s.read
	go func() { done <- read(&s.mat) }()

	var ok bool
	select {
	case ok = <-done:
	case <-ctx.Done():
		// capture.Read can block indefinitely on a dead stream; report the
		// timeout so the worker's failure budget applies, and leave the mat
		// to the in-flight read until it returns
		s.pending = done
		return nil, fmt.Errorf("camera %s: frame read from '%s' timed out: %w", s.cameraID, s.source, ctx.Err())
	}
	if !ok {
		return nil, fmt.Errorf("camera %s: failed to read frame from '%s'", s.cameraID, s.source)
	}
	if s.mat.Empty() {
		return nil, fmt.Errorf("camera %s: read empty frame", s.cameraID)
	}

	img, err := s.mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("camera %s: converting frame: %w", s.cameraID, err)
	}

	return &pipeline.Frame{
		CameraID:   s.cameraID,
		CapturedAt: time.Now(),
		Image:      img,
	}, nil
}

// Close releases the capture device. If a timed-out read is still blocked on
// the stream the handle is abandoned instead of freed under it.
func (s *CaptureSource) Close() error {
	if s.read == nil && s.capture == nil {
		return nil
	}
	s.read = nil

	if s.pending != nil {
		select {
		case <-s.pending:
			s.pending = nil
		case <-time.After(captureDetachTimeout):
			log.Printf("media.capture: camera %s read on '%s' still hung after %s, abandoning capture handle",
				s.cameraID, s.source, captureDetachTimeout)
			s.capture = nil
			return nil
		}
	}

	s.mat.Close()
	if s.capture == nil {
		return nil
	}
	err := s.capture.Close()
	s.capture = nil
	if err != nil {
		return fmt.Errorf("camera %s: closing capture: %w", s.cameraID, err)
	}
	return nil
}
