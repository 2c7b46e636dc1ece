// media/types.go
package media

type AssetType string

const (
	AssetTypeSnapshot   AssetType = "snapshot"   // face crops behind detection events
	AssetTypeEnrollment AssetType = "enrollment" // reference crops saved at enrollment
	AssetTypeExport     AssetType = "export"     // generated CSV exports
	AssetTypeUnknown    AssetType = "unknown"
)

// Point2D is one facial landmark in image coordinates
type Point2D struct {
	X float32
	Y float32
}

type DetectionResult struct {
	X          int
	Y          int
	W          int
	H          int
	Confidence float32
	Landmarks  []Point2D
	Embedding  []float32
	ModelName  string
}
