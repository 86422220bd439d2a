package detection

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseYOLO(t *testing.T) {
	// cx, cy, w, h, objectness, class score
	data := []float32{
		320, 320, 20, 20, 0.9, 0.8,
		100, 100, 10, 10, 0.001, 0.9, // empty anchor
		50, 60, 8, 8, 0.5, 0.2,
	}

	res, err := ParseYOLO(data, 3, 6, 1, 0.75)
	require.NoError(t, err)
	require.Len(t, res.Rects, 2)

	assert.InDelta(t, 0.72, res.Confidences[0], 1e-6)
	assert.Equal(t, image.Rect(310, 232, 330, 247), res.Rects[0])
	assert.InDelta(t, 0.10, res.Confidences[1], 1e-6)
}

func TestParseYOLOPicksBestClass(t *testing.T) {
	data := []float32{10, 10, 4, 4, 1.0, 0.1, 0.6, 0.3}
	res, err := ParseYOLO(data, 1, 8, 1, 1)
	require.NoError(t, err)
	require.Len(t, res.Confidences, 1)
	assert.InDelta(t, 0.6, res.Confidences[0], 1e-6)
}

func TestParseYOLORejectsBadShape(t *testing.T) {
	_, err := ParseYOLO([]float32{1, 2, 3}, 1, 3, 1, 1)
	assert.Error(t, err)

	_, err = ParseYOLO([]float32{1, 2, 3, 4, 5, 6}, 2, 6, 1, 1)
	assert.Error(t, err)
}

func TestBestDetection(t *testing.T) {
	res := &DetectionResult{
		Rects:       make([]image.Rectangle, 4),
		Confidences: []float64{0.05, 0.4, 0.9, 0.3},
	}

	idx, ok := BestDetection(res, 0.10)
	require.True(t, ok)
	assert.Equal(t, 2, idx)

	_, ok = BestDetection(res, 0.95)
	assert.False(t, ok)

	_, ok = BestDetection(nil, 0.1)
	assert.False(t, ok)

	_, ok = BestDetection(&DetectionResult{}, 0)
	assert.False(t, ok)
}
