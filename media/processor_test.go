package media

import (
	"bytes"
	"image"
	"image/color"
	"strings"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProcessor(t *testing.T) (*Processor, *LocalStorage) {
	t.Helper()
	store, err := NewLocalStorage(t.TempDir(), map[AssetType]string{
		AssetTypeSnapshot:   "snapshots",
		AssetTypeEnrollment: "enrollments",
	})
	require.NoError(t, err)
	return NewProcessor(store), store
}

func testFrameImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 640, 480))
	for y := 0; y < 480; y++ {
		for x := 0; x < 640; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	return img
}

func TestSaveCropWritesJpegUnderCameraDir(t *testing.T) {
	proc, store := newTestProcessor(t)

	relPath, err := proc.SaveCrop("cam_01", testFrameImage(), image.Rect(100, 100, 300, 300), time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(relPath, "snapshots/cam_01/"), "unexpected path %q", relPath)
	assert.True(t, strings.HasSuffix(relPath, SnapshotFileExtension))
	assert.Contains(t, relPath, "20260314T092653")

	reader, info, err := store.Get(relPath)
	require.NoError(t, err)
	defer reader.Close()
	assert.Greater(t, info.Size(), int64(0))

	saved, format, err := image.Decode(reader)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)

	// region grows by the pad fraction on each side before cropping
	assert.Equal(t, 260, saved.Bounds().Dx())
	assert.Equal(t, 260, saved.Bounds().Dy())
}

func TestSaveCropClampsPaddingAtImageEdge(t *testing.T) {
	proc, _ := newTestProcessor(t)

	relPath, err := proc.SaveCrop("cam_01", testFrameImage(), image.Rect(0, 0, 200, 200), time.Now())
	require.NoError(t, err)
	assert.NotEmpty(t, relPath)
}

func TestSaveCropRejectsRegionOutsideBounds(t *testing.T) {
	proc, _ := newTestProcessor(t)

	_, err := proc.SaveCrop("cam_01", testFrameImage(), image.Rect(700, 700, 800, 800), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside image bounds")
}

func TestSaveEnrollmentCropGroupsByIdentity(t *testing.T) {
	proc, _ := newTestProcessor(t)

	relPath, err := proc.SaveEnrollmentCrop(7, testFrameImage(), image.Rect(50, 50, 250, 250))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(relPath, "enrollments/identity_7/"), "unexpected path %q", relPath)
}

func TestLocalStorageRejectsPathTraversal(t *testing.T) {
	_, store := newTestProcessor(t)

	_, err := store.GetFullPath("../../etc/passwd")
	require.Error(t, err)
}

func TestDecodeWithOrientationHandlesPlainJpeg(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, testFrameImage(), imaging.JPEG))

	img, format, err := DecodeWithOrientation(&buf)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 640, img.Bounds().Dx())
	assert.Equal(t, 480, img.Bounds().Dy())
}

func TestApplyOrientationRotatesSideways(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))

	rotated := applyOrientation(img, 6)
	assert.Equal(t, 2, rotated.Bounds().Dx())
	assert.Equal(t, 4, rotated.Bounds().Dy())

	same := applyOrientation(img, 1)
	assert.Equal(t, 4, same.Bounds().Dx())
}
