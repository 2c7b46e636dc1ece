package media

import (
	"fmt"
	"image"
	"io"
	"log"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/camden-git/visionsysbackend/pipeline"
)

const (
	SnapshotJpegQuality   = 85
	SnapshotFileExtension = ".jpg"
	SnapshotPadFraction   = 0.15

	EnrollmentJpegQuality   = 95
	EnrollmentFileExtension = ".jpg"
)

// Processor turns face regions into stored JPEG crops. it relies on a Store
// implementation for saving the results.
type Processor struct {
	store Store
}

var _ pipeline.SnapshotWriter = (*Processor)(nil)

func NewProcessor(store Store) *Processor {
	return &Processor{store: store}
}

// SaveCrop extracts the face region from a camera frame, pads it for context,
// and stores it as the snapshot behind a detection event. Returns the relative
// path of the saved crop.
func (p *Processor) SaveCrop(cameraID string, img image.Image, region image.Rectangle, capturedAt time.Time) (string, error) {
	crop, err := p.cropPadded(img, region, SnapshotPadFraction)
	if err != nil {
		return "", err
	}

	cropUUID, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate UUID for snapshot: %w", err)
	}
	targetFilename := fmt.Sprintf("%s_%s%s", capturedAt.UTC().Format("20060102T150405"), cropUUID.String(), SnapshotFileExtension)

	savedRelPath, err := p.encodeAndSave(crop, AssetTypeSnapshot, cameraID, targetFilename, SnapshotJpegQuality)
	if err != nil {
		return "", fmt.Errorf("failed to save snapshot via store: %w", err)
	}

	log.Printf("processor: Saved detection snapshot for camera %s at %s", cameraID, savedRelPath)
	return savedRelPath, nil
}

// SaveEnrollmentCrop stores the reference crop behind a newly enrolled
// embedding. Higher quality than event snapshots since these images may be
// re-embedded when the recognition model changes.
func (p *Processor) SaveEnrollmentCrop(identityID uint, img image.Image, region image.Rectangle) (string, error) {
	crop, err := p.cropPadded(img, region, SnapshotPadFraction)
	if err != nil {
		return "", err
	}

	cropUUID, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate UUID for enrollment crop: %w", err)
	}
	targetFilename := cropUUID.String() + EnrollmentFileExtension

	savedRelPath, err := p.encodeAndSave(crop, AssetTypeEnrollment, fmt.Sprintf("identity_%d", identityID), targetFilename, EnrollmentJpegQuality)
	if err != nil {
		return "", fmt.Errorf("failed to save enrollment crop via store: %w", err)
	}

	log.Printf("processor: Saved enrollment crop for identity %d at %s", identityID, savedRelPath)
	return savedRelPath, nil
}

// cropPadded clamps the region to the image bounds after growing it by
// padFraction on every side.
func (p *Processor) cropPadded(img image.Image, region image.Rectangle, padFraction float64) (image.Image, error) {
	bounds := img.Bounds()
	padX := int(float64(region.Dx()) * padFraction)
	padY := int(float64(region.Dy()) * padFraction)

	padded := image.Rect(
		maxInt(bounds.Min.X, region.Min.X-padX),
		maxInt(bounds.Min.Y, region.Min.Y-padY),
		minInt(bounds.Max.X, region.Max.X+padX),
		minInt(bounds.Max.Y, region.Max.Y+padY),
	)
	if padded.Empty() {
		return nil, fmt.Errorf("face region %v lies outside image bounds %v", region, bounds)
	}

	return imaging.Crop(img, padded), nil
}

// encodeAndSave streams a JPEG encode straight into the store without
// buffering the whole file in memory.
func (p *Processor) encodeAndSave(img image.Image, assetType AssetType, dirHint, filename string, quality int) (string, error) {
	reader, writer := io.Pipe()

	go func() {
		defer writer.Close()
		err := imaging.Encode(writer, img, imaging.JPEG, imaging.JPEGQuality(quality))
		if err != nil {
			log.Printf("processor: Failed to encode %s crop: %v", assetType, err)
			writer.CloseWithError(fmt.Errorf("crop encoding failed: %w", err))
		}
	}()

	// reader is drained by io.Copy inside Save, or closed with error by the
	// encoding goroutine
	return p.store.Save(assetType, dirHint, filename, reader)
}
