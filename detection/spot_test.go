package detection

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func blankFrame() gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 480, 640, gocv.MatTypeCV8UC3)
}

func frameWithDot(center image.Point, c color.RGBA) gocv.Mat {
	frame := blankFrame()
	gocv.Circle(&frame, center, 4, c, -1)
	return frame
}

func newTestDetector(t *testing.T) *SpotDetector {
	t.Helper()
	d := NewSpotDetector(DefaultConfig(), nil)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestSpotDetectorFindsRedDot(t *testing.T) {
	d := newTestDetector(t)
	frame := frameWithDot(image.Pt(200, 150), color.RGBA{255, 0, 0, 255})
	defer frame.Close()

	det, annotated := d.Detect(frame, DetectorState{})
	defer annotated.Close()

	require.True(t, det.Found)
	assert.Equal(t, RedChannel, det.Strategy)
	assert.Equal(t, 1.0, det.Confidence)
	assert.InDelta(t, 200, det.Center.X, 3)
	assert.InDelta(t, 150, det.Center.Y, 3)
	assert.GreaterOrEqual(t, det.Threshold, 100)
	assert.LessOrEqual(t, det.Threshold, 255)

	assert.Equal(t, frame.Rows(), annotated.Rows())
	assert.Equal(t, frame.Cols(), annotated.Cols())
}

func TestSpotDetectorTriesHintFirst(t *testing.T) {
	d := newTestDetector(t)
	frame := frameWithDot(image.Pt(400, 300), color.RGBA{0, 255, 0, 255})
	defer frame.Close()

	// grayscale would also isolate a pure green dot
	det, annotated := d.Detect(frame, DetectorState{Strategy: GreenChannel})
	defer annotated.Close()

	require.True(t, det.Found)
	assert.Equal(t, GreenChannel, det.Strategy)
	assert.InDelta(t, 400, det.Center.X, 3)
	assert.InDelta(t, 300, det.Center.Y, 3)
}

func TestSpotDetectorNoLaser(t *testing.T) {
	d := newTestDetector(t)
	frame := blankFrame()
	defer frame.Close()

	det, annotated := d.Detect(frame, DetectorState{Strategy: Grayscale, Threshold: 150})
	defer annotated.Close()

	assert.False(t, det.Found)
	assert.Equal(t, NoStrategy, det.Strategy)
	assert.False(t, annotated.Empty())
}

func TestSpotDetectorEmptyFrame(t *testing.T) {
	d := newTestDetector(t)
	frame := gocv.NewMat()
	defer frame.Close()

	det, annotated := d.Detect(frame, DetectorState{})
	defer annotated.Close()
	assert.False(t, det.Found)
}

func TestBrightness(t *testing.T) {
	frame := blankFrame()
	defer frame.Close()
	assert.Equal(t, 0.0, Brightness(frame))

	white := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 255, 255, 0), 10, 10, gocv.MatTypeCV8UC3)
	defer white.Close()
	assert.InDelta(t, 255, Brightness(white), 0.01)

	gray := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(80, 0, 0, 0), 10, 10, gocv.MatTypeCV8UC1)
	defer gray.Close()
	assert.InDelta(t, 80, Brightness(gray), 0.01)
}
