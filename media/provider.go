package media

import (
	"context"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/camden-git/visionsysbackend/pipeline"
)

// DNNProvider runs face detection and embedding extraction on camera frames.
// It wraps the RetinaFace detector and the recognition network behind the
// pipeline's provider contract so camera workers never see OpenCV types.
//
// DNN forward passes are not safe for concurrent use, so a single provider is
// shared by all camera workers behind a mutex.
type DNNProvider struct {
	mu       sync.Mutex
	detector *RetinaFaceDetector
	embedder *FaceRecognitionModel
}

var _ pipeline.EmbeddingProvider = (*DNNProvider)(nil)

// NewDNNProvider wires the detector and embedder into a frame provider. Both
// models must have loaded; a disabled model means the pipeline cannot run.
func NewDNNProvider(detector *RetinaFaceDetector, embedder *FaceRecognitionModel) (*DNNProvider, error) {
	if detector == nil || !detector.Enabled {
		return nil, fmt.Errorf("face detector is not available")
	}
	if embedder == nil || !embedder.Enabled {
		return nil, fmt.Errorf("face embedding model is not available")
	}
	return &DNNProvider{detector: detector, embedder: embedder}, nil
}

// Detect finds faces in the frame and returns one candidate per detection,
// complete with embedding and the quality measurements the gate needs.
// Detections the embedder could not produce a vector for are dropped.
func (p *DNNProvider) Detect(ctx context.Context, frame *pipeline.Frame) ([]pipeline.CandidateFace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if frame == nil || frame.Image == nil {
		return nil, fmt.Errorf("frame has no image")
	}

	rgb, err := gocv.ImageToMatRGB(frame.Image)
	if err != nil {
		return nil, fmt.Errorf("converting frame to mat: %w", err)
	}
	defer rgb.Close()

	// the DNNs were trained on BGR input
	bgr := gocv.NewMat()
	defer bgr.Close()
	gocv.CvtColor(rgb, &bgr, gocv.ColorRGBToBGR)

	p.mu.Lock()
	detections := p.detector.DetectFacesAndExtractEmbeddings(bgr, p.embedder)
	p.mu.Unlock()

	if len(detections) == 0 {
		return nil, nil
	}

	frameBounds := image.Rect(0, 0, bgr.Cols(), bgr.Rows())
	candidates := make([]pipeline.CandidateFace, 0, len(detections))
	for _, det := range detections {
		if len(det.Embedding) == 0 {
			continue
		}
		region := image.Rect(det.X, det.Y, det.X+det.W, det.Y+det.H).Intersect(frameBounds)
		if region.Empty() {
			continue
		}
		candidates = append(candidates, pipeline.CandidateFace{
			Region:     region,
			Embedding:  det.Embedding,
			Confidence: det.Confidence,
			Metrics:    measureRegion(bgr, region),
		})
	}
	return candidates, nil
}

// measureRegion computes the brightness and sharpness of one face region.
// Brightness is the mean gray level; sharpness is the variance of the
// Laplacian, which collapses toward zero on defocused or motion-blurred crops.
func measureRegion(bgr gocv.Mat, region image.Rectangle) pipeline.RegionMetrics {
	metrics := pipeline.RegionMetrics{
		FrameWidth:  bgr.Cols(),
		FrameHeight: bgr.Rows(),
		Region:      region,
	}

	roi := bgr.Region(region)
	defer roi.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(roi, &gray, gocv.ColorBGRToGray)

	metrics.Brightness = gray.Mean().Val1

	laplacian := gocv.NewMat()
	defer laplacian.Close()
	gocv.Laplacian(gray, &laplacian, gocv.MatTypeCV64F, 1, 1, 0, gocv.BorderDefault)
	_, stdDev := laplacian.MeanStdDev()
	metrics.Sharpness = stdDev.Val1 * stdDev.Val1

	return metrics
}

// Close releases both networks.
func (p *DNNProvider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.detector.Close()
	p.embedder.Close()
}
