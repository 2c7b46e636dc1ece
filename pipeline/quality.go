package pipeline

import (
	"fmt"
	"log"
	"math"
)

// Purpose selects which acceptance threshold the quality gate applies.
// Enrollment is stricter than live matching because a bad enrollment sample
// degrades every future match against that identity.
type Purpose string

const (
	PurposeMatching   Purpose = "matching"
	PurposeEnrollment Purpose = "enrollment"
)

// QualityWeights is the weight vector combining the four quality components.
// Weights need not sum to one; the score is normalized by their total.
type QualityWeights struct {
	Size       float64
	Aspect     float64
	Brightness float64
	Sharpness  float64
}

// QualityConfig holds the gate's weight vector, thresholds and the bands the
// component scores are computed against.
type QualityConfig struct {
	Weights QualityWeights

	MatchingThreshold   float64
	EnrollmentThreshold float64

	// face area as a fraction of frame area: full score inside
	// [MinAreaRatio, MaxAreaRatio], tapering to zero outside
	MinAreaRatio float64
	MaxAreaRatio float64

	// canonical frontal width/height ratio and the deviation at which the
	// aspect score reaches zero
	CanonicalAspect float64
	AspectTolerance float64

	// mean-luma band with full score, tapering to zero at 0 and 255
	MinBrightness float64
	MaxBrightness float64

	// Laplacian variance at which the sharpness score saturates at 1.0
	SharpnessRef float64
}

// DefaultQualityConfig mirrors the bands the recognition stack was tuned
// with: area ratio 0.05..0.8, aspect 1.0±0.3, brightness 50..230.
func DefaultQualityConfig() QualityConfig {
	return QualityConfig{
		Weights: QualityWeights{
			Size:       0.35,
			Aspect:     0.20,
			Brightness: 0.20,
			Sharpness:  0.25,
		},
		MatchingThreshold:   0.3,
		EnrollmentThreshold: 0.6,
		MinAreaRatio:        0.05,
		MaxAreaRatio:        0.8,
		CanonicalAspect:     1.0,
		AspectTolerance:     0.3,
		MinBrightness:       50,
		MaxBrightness:       230,
		SharpnessRef:        100,
	}
}

// Validate rejects configurations the gate cannot score with.
func (c QualityConfig) Validate() error {
	total := c.Weights.Size + c.Weights.Aspect + c.Weights.Brightness + c.Weights.Sharpness
	if total <= 0 {
		return fmt.Errorf("quality weight vector must have a positive total, got %f", total)
	}
	if c.Weights.Size < 0 || c.Weights.Aspect < 0 || c.Weights.Brightness < 0 || c.Weights.Sharpness < 0 {
		return fmt.Errorf("quality weights must be non-negative")
	}
	if c.MatchingThreshold < 0 || c.MatchingThreshold > 1 {
		return fmt.Errorf("matching quality threshold %f outside [0,1]", c.MatchingThreshold)
	}
	if c.EnrollmentThreshold < 0 || c.EnrollmentThreshold > 1 {
		return fmt.Errorf("enrollment quality threshold %f outside [0,1]", c.EnrollmentThreshold)
	}
	if c.EnrollmentThreshold < c.MatchingThreshold {
		return fmt.Errorf("enrollment threshold %f must not be below matching threshold %f",
			c.EnrollmentThreshold, c.MatchingThreshold)
	}
	if c.MinAreaRatio <= 0 || c.MaxAreaRatio <= c.MinAreaRatio {
		return fmt.Errorf("invalid area ratio band [%f, %f]", c.MinAreaRatio, c.MaxAreaRatio)
	}
	if c.AspectTolerance <= 0 || c.SharpnessRef <= 0 {
		return fmt.Errorf("aspect tolerance and sharpness reference must be positive")
	}
	return nil
}

// QualityGate scores candidate face regions and accepts or rejects them for
// matching or enrollment. Pure function of the metrics; no side effects.
type QualityGate struct {
	cfg QualityConfig
}

// NewQualityGate validates the configuration and logs the effective weight
// vector so scoring is reproducible from the logs alone.
func NewQualityGate(cfg QualityConfig) (*QualityGate, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("quality gate config: %w", err)
	}
	log.Printf("quality: weight vector size=%.2f aspect=%.2f brightness=%.2f sharpness=%.2f, thresholds matching=%.2f enrollment=%.2f",
		cfg.Weights.Size, cfg.Weights.Aspect, cfg.Weights.Brightness, cfg.Weights.Sharpness,
		cfg.MatchingThreshold, cfg.EnrollmentThreshold)
	return &QualityGate{cfg: cfg}, nil
}

// Assess returns a quality score in [0,1] for the given region metrics.
// Malformed metrics (zero-area region or frame) score 0.
func (g *QualityGate) Assess(m RegionMetrics) float64 {
	w := m.Region.Dx()
	h := m.Region.Dy()
	if w <= 0 || h <= 0 || m.FrameWidth <= 0 || m.FrameHeight <= 0 {
		return 0
	}

	sizeScore := g.sizeScore(float64(w*h) / float64(m.FrameWidth*m.FrameHeight))
	aspectScore := g.aspectScore(float64(w) / float64(h))
	brightScore := g.brightnessScore(m.Brightness)
	sharpScore := clamp01(m.Sharpness / g.cfg.SharpnessRef)

	weights := g.cfg.Weights
	total := weights.Size + weights.Aspect + weights.Brightness + weights.Sharpness
	score := (weights.Size*sizeScore +
		weights.Aspect*aspectScore +
		weights.Brightness*brightScore +
		weights.Sharpness*sharpScore) / total
	return clamp01(score)
}

// Accept reports whether a score passes the threshold for the given purpose.
// Unknown purposes are rejected outright.
func (g *QualityGate) Accept(score float64, purpose Purpose) bool {
	switch purpose {
	case PurposeMatching:
		return score >= g.cfg.MatchingThreshold
	case PurposeEnrollment:
		return score >= g.cfg.EnrollmentThreshold
	default:
		return false
	}
}

func (g *QualityGate) sizeScore(areaRatio float64) float64 {
	c := g.cfg
	switch {
	case areaRatio <= 0:
		return 0
	case areaRatio < c.MinAreaRatio:
		return areaRatio / c.MinAreaRatio
	case areaRatio <= c.MaxAreaRatio:
		return 1
	case areaRatio >= 1:
		return 0
	default:
		return (1 - areaRatio) / (1 - c.MaxAreaRatio)
	}
}

func (g *QualityGate) aspectScore(aspect float64) float64 {
	dev := math.Abs(aspect - g.cfg.CanonicalAspect)
	return clamp01(1 - dev/g.cfg.AspectTolerance)
}

func (g *QualityGate) brightnessScore(brightness float64) float64 {
	c := g.cfg
	switch {
	case brightness <= 0 || brightness >= 255:
		return 0
	case brightness < c.MinBrightness:
		return brightness / c.MinBrightness
	case brightness <= c.MaxBrightness:
		return 1
	default:
		return (255 - brightness) / (255 - c.MaxBrightness)
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
