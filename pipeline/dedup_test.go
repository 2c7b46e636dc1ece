package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDedupFirstSightingEmits(t *testing.T) {
	w := NewWindow(30 * time.Second)
	now := time.Now()
	assert.True(t, w.ShouldEmit("1", now))
	assert.True(t, w.ShouldEmit("2", now), "distinct subjects do not suppress each other")
	assert.True(t, w.ShouldEmit(SubjectUnknown, now))
}

func TestDedupSuppressesWithinWindow(t *testing.T) {
	w := NewWindow(30 * time.Second)
	base := time.Now()

	assert.True(t, w.ShouldEmit("1", base))
	assert.False(t, w.ShouldEmit("1", base.Add(time.Second)))
	assert.False(t, w.ShouldEmit("1", base.Add(29*time.Second)))
	assert.True(t, w.ShouldEmit("1", base.Add(30*time.Second)), "boundary: exactly one window apart emits")
}

// continuous presence for T seconds with window W yields floor(T/W)+1 events,
// independent of the frame rate
func TestDedupEmissionCountIndependentOfFrameRate(t *testing.T) {
	const window = 30 * time.Second
	const presence = 65 * time.Second

	for _, frameInterval := range []time.Duration{100 * time.Millisecond, time.Second, 5 * time.Second} {
		w := NewWindow(window)
		base := time.Now()
		emitted := 0
		for offset := time.Duration(0); offset <= presence; offset += frameInterval {
			if w.ShouldEmit("1", base.Add(offset)) {
				emitted++
			}
		}
		assert.Equal(t, 3, emitted, "frame interval %v", frameInterval)
	}
}

// suppressed sightings refresh the sighting timestamp but never push the
// emission timestamp forward, so a subject lingering in frame still
// re-emits once per window
func TestDedupSuppressedSightingsDoNotExtendSuppression(t *testing.T) {
	w := NewWindow(30 * time.Second)
	base := time.Now()

	assert.True(t, w.ShouldEmit("1", base))
	for s := 1; s < 30; s++ {
		assert.False(t, w.ShouldEmit("1", base.Add(time.Duration(s)*time.Second)))
	}
	assert.True(t, w.ShouldEmit("1", base.Add(30*time.Second)))
}

func TestDedupOutOfOrderCaptureTimes(t *testing.T) {
	w := NewWindow(30 * time.Second)
	base := time.Now()

	assert.True(t, w.ShouldEmit("1", base.Add(40*time.Second)))
	// an older frame arriving late is inside the window relative to the
	// recorded emission and stays suppressed
	assert.False(t, w.ShouldEmit("1", base.Add(35*time.Second)))
	assert.True(t, w.ShouldEmit("1", base.Add(70*time.Second)))
}

func TestDedupEvictsIdleSubjects(t *testing.T) {
	w := NewWindow(30 * time.Second)
	base := time.Now()

	for i := 0; i < 10; i++ {
		w.ShouldEmit(string(rune('a'+i)), base)
	}
	assert.Equal(t, 10, w.Len())

	// one subject stays active; the rest go idle past the eviction horizon
	w.ShouldEmit("a", base.Add(3*time.Minute))
	w.ShouldEmit("a", base.Add(6*time.Minute))
	assert.Equal(t, 1, w.Len())
}
