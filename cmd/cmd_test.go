package cmd

import (
	"context"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"lasertrack/detection"
	"lasertrack/pipeline"
)

type seqDetector struct {
	calls int
}

func (d *seqDetector) Detect(frame gocv.Mat, _ detection.DetectorState) (detection.RawDetection, gocv.Mat) {
	d.calls++
	return detection.RawDetection{Found: true, Center: image.Point{X: d.calls, Y: 7}, Strategy: detection.RedChannel}, gocv.NewMat()
}

func (d *seqDetector) Close() error { return nil }

type testSource struct {
	frames chan pipeline.Frame
	err    error
}

func (s *testSource) Frames() <-chan pipeline.Frame { return s.frames }
func (s *testSource) Err() error                    { return s.err }

func TestSweepVisitsEndsThenMiddle(t *testing.T) {
	var got []float64
	moves := sweep("pan", 30, 150, func(a float64) error {
		got = append(got, a)
		return nil
	})
	require.Len(t, moves, 3)
	for _, m := range moves {
		assert.Equal(t, "pan", m.name)
		require.NoError(t, m.apply(m.angle))
	}
	assert.Equal(t, []float64{30, 150, 90}, got)
}

func TestCaptureSpotSkipsStaleFrames(t *testing.T) {
	src := &testSource{frames: make(chan pipeline.Frame, 3)}
	for i := 0; i < 3; i++ {
		src.frames <- pipeline.Frame{Mat: gocv.NewMat(), Seq: int64(i)}
	}
	det := &seqDetector{}

	spot := captureSpot(src, det, 2)
	p, ok, err := spot(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, image.Point{X: 1, Y: 7}, p)
	assert.Equal(t, 1, det.calls, "only the fresh frame is detected")
}

func TestCaptureSpotSourceClosed(t *testing.T) {
	src := &testSource{frames: make(chan pipeline.Frame)}
	close(src.frames)

	_, _, err := captureSpot(src, &seqDetector{}, 0)(context.Background())
	assert.Error(t, err)
}

func TestCaptureSpotCancelled(t *testing.T) {
	src := &testSource{frames: make(chan pipeline.Frame)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := captureSpot(src, &seqDetector{}, 0)(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
