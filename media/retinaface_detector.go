package media

import (
	"image"
	"log"
	"math"

	"gocv.io/x/gocv"
)

// RetinaFace prior box generation and box decoding utilities

// PriorBox defines an anchor box (center_x, center_y, width, height)
type PriorBox struct {
	Cx, Cy, W, H float32
}

// GenerateRetinaFacePriors generates priors for 640x640 RetinaFace
func GenerateRetinaFacePriors(imgW, imgH int) []PriorBox {
	// These settings match the standard RetinaFace/ONNX config
	minSizes := [][]int{{16, 32}, {64, 128}, {256, 512}}
	steps := []int{8, 16, 32}
	featureMapSizes := [][]int{
		{imgH / 8, imgW / 8},
		{imgH / 16, imgW / 16},
		{imgH / 32, imgW / 32},
	}
	priors := []PriorBox{}
	for k, fms := range featureMapSizes {
		fmH, fmW := fms[0], fms[1]
		for i := 0; i < fmH; i++ {
			for j := 0; j < fmW; j++ {
				for _, minSize := range minSizes[k] {
					cx := (float32(j) + 0.5) * float32(steps[k]) / float32(imgW)
					cy := (float32(i) + 0.5) * float32(steps[k]) / float32(imgH)
					w := float32(minSize) / float32(imgW)
					h := float32(minSize) / float32(imgH)
					priors = append(priors, PriorBox{Cx: cx, Cy: cy, W: w, H: h})
				}
			}
		}
	}
	return priors
}

// DecodeBox decodes a single box prediction using the prior and variances
func DecodeBox(rawBox [4]float32, prior PriorBox, variances [2]float32) [4]float32 {
	// rawBox: [dx, dy, dw, dh]
	cx := prior.Cx + rawBox[0]*variances[0]*prior.W
	cy := prior.Cy + rawBox[1]*variances[0]*prior.H
	w := prior.W * float32Exp(rawBox[2]*variances[1])
	h := prior.H * float32Exp(rawBox[3]*variances[1])
	// Convert center to corner
	x1 := cx - w/2
	y1 := cy - h/2
	x2 := cx + w/2
	y2 := cy + h/2
	return [4]float32{x1, y1, x2, y2}
}

// float32Exp is a helper for float32 exponentiation
func float32Exp(x float32) float32 {
	return float32(math.Exp(float64(x)))
}

// RetinaFaceDetector provides high-accuracy face detection using RetinaFace
type RetinaFaceDetector struct {
	Net     gocv.Net
	Enabled bool

	// Configuration parameters
	InputSizeW    int
	InputSizeH    int
	ScaleFactor   float64
	MeanVal       gocv.Scalar
	ConfThreshold float32
	IoUThreshold  float32
}

// NewRetinaFaceDetector loads the RetinaFace model. configPath is optional
// and only needed for formats that split weights and topology.
func NewRetinaFaceDetector(modelPath, configPath string) *RetinaFaceDetector {
	if modelPath == "" {
		log.Println("detection(retinaface): model path is empty, disabling RetinaFace detector")
		return &RetinaFaceDetector{Enabled: false}
	}

	log.Printf("detection(retinaface): Attempting to load model: %s", modelPath)

	net := gocv.ReadNet(modelPath, configPath)
	if net.Empty() {
		log.Printf("detection(retinaface): ERROR - ReadNet returned an empty network. Check file path and integrity.")
		return &RetinaFaceDetector{Enabled: false}
	}

	log.Printf("detection(retinaface): successfully loaded RetinaFace model")

	// Try to use CUDA if available
	cudaBackendErr := net.SetPreferableBackend(gocv.NetBackendCUDA)
	cudaTargetErr := net.SetPreferableTarget(gocv.NetTargetCUDA)

	if cudaBackendErr == nil && cudaTargetErr == nil {
		log.Println("detection(retinaface): Set backend/target to CUDA")
	} else {
		if cudaBackendErr != nil {
			log.Printf("detection(retinaface): CUDA Backend not available: %v. Using default backend.", cudaBackendErr)
		}
		if cudaTargetErr != nil {
			log.Printf("detection(retinaface): CUDA Target not available: %v. Using default target.", cudaTargetErr)
		}

		net.SetPreferableBackend(gocv.NetBackendDefault)
		net.SetPreferableTarget(gocv.NetTargetCPU)
		log.Println("detection(retinaface): Set backend/target to CPU (Default)")
	}

	return &RetinaFaceDetector{
		Net:           net,
		Enabled:       true,
		InputSizeW:    640,
		InputSizeH:    640,
		ScaleFactor:   1.0,
		MeanVal:       gocv.NewScalar(104.0, 117.0, 123.0, 0),
		ConfThreshold: 0.5,
		IoUThreshold:  0.5,
	}
}

func (r *RetinaFaceDetector) Close() {
	if r != nil && r.Enabled {
		r.Net.Close()
		log.Println("detection(retinaface): closed network")
		r.Enabled = false
	}
}

// DetectFaces runs face detection using RetinaFace
func (r *RetinaFaceDetector) DetectFaces(img gocv.Mat) []DetectionResult {
	if r == nil || !r.Enabled || img.Empty() {
		return nil
	}

	imgHeight := float32(img.Rows())
	imgWidth := float32(img.Cols())

	blob := gocv.BlobFromImage(img, 1.0, image.Pt(r.InputSizeW, r.InputSizeH), r.MeanVal, false, false)
	defer blob.Close()

	r.Net.SetInput(blob, "input")

	outputNames := []string{"bbox", "confidence", "landmark"}
	outputs := r.Net.ForwardLayers(outputNames)
	if len(outputs) < 3 {
		log.Printf("detection(retinaface): Expected 3 outputs (boxes, scores, landmarks), got %d", len(outputs))
		return nil
	}
	defer func() {
		for _, mat := range outputs {
			mat.Close()
		}
	}()
	boxes := outputs[0]
	scores := outputs[1]
	landmarks := outputs[2]
	return r.parseRetinaFaceOutput(boxes, scores, landmarks, imgWidth, imgHeight)
}

// parseRetinaFaceOutput parses the RetinaFace model outputs (boxes, scores, landmarks)
func (r *RetinaFaceDetector) parseRetinaFaceOutput(boxes, scores, landmarks gocv.Mat, imgWidth, imgHeight float32) []DetectionResult {
	var detections []DetectionResult

	// All outputs are [1, N, ...], so get N
	numDetections := boxes.Size()[1]

	priors := GenerateRetinaFacePriors(r.InputSizeW, r.InputSizeH)
	if len(priors) != numDetections {
		log.Printf("detection(retinaface): WARNING - priors count (%d) != numDetections (%d)", len(priors), numDetections)
		return nil
	}
	variances := [2]float32{0.1, 0.2}

	for i := 0; i < numDetections; i++ {
		scoreFace := scores.GetFloatAt(0, i*2+1)
		if scoreFace < r.ConfThreshold {
			continue
		}
		// Get and decode box
		var rawBox [4]float32
		for j := 0; j < 4; j++ {
			rawBox[j] = boxes.GetFloatAt(0, i*4+j)
		}
		decoded := DecodeBox(rawBox, priors[i], variances)
		x1 := decoded[0] * imgWidth
		y1 := decoded[1] * imgHeight
		x2 := decoded[2] * imgWidth
		y2 := decoded[3] * imgHeight
		// Clamp to image boundaries
		x1 = maxFloat32(0, x1)
		y1 = maxFloat32(0, y1)
		x2 = minFloat32(imgWidth, x2)
		y2 = minFloat32(imgHeight, y2)
		if x2 <= x1 || y2 <= y1 {
			continue
		}
		// Landmarks (5 points)
		var pts []Point2D
		for j := 0; j < 5; j++ {
			lx := landmarks.GetFloatAt(0, i*10+j*2+0) * imgWidth
			ly := landmarks.GetFloatAt(0, i*10+j*2+1) * imgHeight
			pts = append(pts, Point2D{X: lx, Y: ly})
		}
		detections = append(detections, DetectionResult{
			X:          int(x1),
			Y:          int(y1),
			W:          int(x2 - x1),
			H:          int(y2 - y1),
			Confidence: scoreFace,
			Landmarks:  pts,
			ModelName:  "retinaface",
		})
	}

	// Apply Non-Maximum Suppression to remove overlapping detections
	return r.nonMaxSuppression(detections)
}

// nonMaxSuppression applies NMS to remove overlapping detections
func (r *RetinaFaceDetector) nonMaxSuppression(detections []DetectionResult) []DetectionResult {
	if len(detections) == 0 {
		return detections
	}

	// Sort by confidence (highest first)
	for i := 0; i < len(detections)-1; i++ {
		for j := i + 1; j < len(detections); j++ {
			if detections[i].Confidence < detections[j].Confidence {
				detections[i], detections[j] = detections[j], detections[i]
			}
		}
	}

	var result []DetectionResult
	used := make([]bool, len(detections))

	for i := 0; i < len(detections); i++ {
		if used[i] {
			continue
		}

		result = append(result, detections[i])
		used[i] = true

		for j := i + 1; j < len(detections); j++ {
			if used[j] {
				continue
			}

			iou := r.calculateIoU(detections[i], detections[j])
			if iou > r.IoUThreshold {
				used[j] = true
			}
		}
	}

	return result
}

// calculateIoU calculates the Intersection over Union between two detections
func (r *RetinaFaceDetector) calculateIoU(a, b DetectionResult) float32 {
	x1 := maxInt(a.X, b.X)
	y1 := maxInt(a.Y, b.Y)
	x2 := minInt(a.X+a.W, b.X+b.W)
	y2 := minInt(a.Y+a.H, b.Y+b.H)

	if x2 <= x1 || y2 <= y1 {
		return 0.0
	}

	intersection := float32((x2 - x1) * (y2 - y1))
	areaA := float32(a.W * a.H)
	areaB := float32(b.W * b.H)
	union := areaA + areaB - intersection

	return intersection / union
}

// DetectFacesAndExtractEmbeddings detects faces and extracts embeddings
func (r *RetinaFaceDetector) DetectFacesAndExtractEmbeddings(img gocv.Mat, recognitionModel *FaceRecognitionModel) []DetectionResult {
	detections := r.DetectFaces(img)

	if recognitionModel != nil && recognitionModel.Enabled {
		for i := range detections {
			faceRegion := img.Region(image.Rect(detections[i].X, detections[i].Y,
				detections[i].X+detections[i].W, detections[i].Y+detections[i].H))

			embedding := recognitionModel.ExtractEmbedding(faceRegion)
			faceRegion.Close()
			if embedding != nil {
				detections[i].Embedding = embedding
				detections[i].ModelName = recognitionModel.ModelName
			} else {
				log.Printf("detection(retinaface): WARNING - Failed to extract embedding for face %d", i)
			}
		}
	}

	return detections
}
