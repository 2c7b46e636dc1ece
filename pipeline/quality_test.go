package pipeline

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func goodMetrics() RegionMetrics {
	return RegionMetrics{
		FrameWidth:  640,
		FrameHeight: 480,
		Region:      image.Rect(100, 100, 300, 300),
		Brightness:  128,
		Sharpness:   150,
	}
}

func TestQualityGateGoodFaceScoresHigh(t *testing.T) {
	gate, err := NewQualityGate(DefaultQualityConfig())
	require.NoError(t, err)

	score := gate.Assess(goodMetrics())
	assert.Greater(t, score, 0.9)
	assert.LessOrEqual(t, score, 1.0)
	assert.True(t, gate.Accept(score, PurposeMatching))
	assert.True(t, gate.Accept(score, PurposeEnrollment))
}

func TestQualityGateMalformedMetrics(t *testing.T) {
	gate, err := NewQualityGate(DefaultQualityConfig())
	require.NoError(t, err)

	tests := []struct {
		name    string
		metrics RegionMetrics
	}{
		{"zero-area region", RegionMetrics{FrameWidth: 640, FrameHeight: 480, Region: image.Rect(10, 10, 10, 50)}},
		{"inverted region", RegionMetrics{FrameWidth: 640, FrameHeight: 480, Region: image.Rect(50, 50, 10, 10)}},
		{"zero frame", RegionMetrics{Region: image.Rect(0, 0, 100, 100)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score := gate.Assess(tt.metrics)
			assert.Zero(t, score)
			assert.False(t, gate.Accept(score, PurposeMatching))
			assert.False(t, gate.Accept(score, PurposeEnrollment))
		})
	}
}

func TestQualityGateComponentBands(t *testing.T) {
	gate, err := NewQualityGate(DefaultQualityConfig())
	require.NoError(t, err)

	base := goodMetrics()
	baseScore := gate.Assess(base)

	tiny := base
	tiny.Region = image.Rect(0, 0, 8, 8) // well below the minimum area ratio
	assert.Less(t, gate.Assess(tiny), baseScore)

	dark := base
	dark.Brightness = 10
	assert.Less(t, gate.Assess(dark), baseScore)

	blown := base
	blown.Brightness = 250
	assert.Less(t, gate.Assess(blown), baseScore)

	blurred := base
	blurred.Sharpness = 5
	assert.Less(t, gate.Assess(blurred), baseScore)

	stretched := base
	stretched.Region = image.Rect(100, 100, 400, 200) // aspect 3.0
	assert.Less(t, gate.Assess(stretched), baseScore)
}

// a candidate below both thresholds is rejected for both purposes, and a
// score between them is good enough for matching but not for enrollment
func TestQualityGatePurposeThresholds(t *testing.T) {
	cfg := DefaultQualityConfig()
	cfg.MatchingThreshold = 0.3
	cfg.EnrollmentThreshold = 0.6
	gate, err := NewQualityGate(cfg)
	require.NoError(t, err)

	assert.False(t, gate.Accept(0.2, PurposeMatching))
	assert.False(t, gate.Accept(0.2, PurposeEnrollment))

	assert.True(t, gate.Accept(0.45, PurposeMatching))
	assert.False(t, gate.Accept(0.45, PurposeEnrollment))

	assert.True(t, gate.Accept(0.8, PurposeMatching))
	assert.True(t, gate.Accept(0.8, PurposeEnrollment))

	assert.False(t, gate.Accept(0.9, Purpose("resize")))
}

func TestQualityConfigValidation(t *testing.T) {
	zeroWeights := DefaultQualityConfig()
	zeroWeights.Weights = QualityWeights{}
	_, err := NewQualityGate(zeroWeights)
	assert.Error(t, err)

	inverted := DefaultQualityConfig()
	inverted.MatchingThreshold = 0.7
	inverted.EnrollmentThreshold = 0.4
	_, err = NewQualityGate(inverted)
	assert.Error(t, err)

	badBand := DefaultQualityConfig()
	badBand.MinAreaRatio = 0.9
	badBand.MaxAreaRatio = 0.1
	_, err = NewQualityGate(badBand)
	assert.Error(t, err)
}
