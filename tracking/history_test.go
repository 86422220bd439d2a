package tracking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHistoryEvictsOldest(t *testing.T) {
	h := NewHistory(3)
	assert.Empty(t, h.Points())
	_, ok := h.Last()
	assert.False(t, ok)

	h.Add(Point{1, 1})
	h.Add(Point{2, 2})
	assert.Equal(t, []Point{{1, 1}, {2, 2}}, h.Points())

	h.Add(Point{3, 3})
	h.Add(Point{4, 4})
	assert.Equal(t, 3, h.Len())
	assert.Equal(t, []Point{{2, 2}, {3, 3}, {4, 4}}, h.Points())

	last, ok := h.Last()
	assert.True(t, ok)
	assert.Equal(t, Point{4, 4}, last)
}

func TestHistoryPointsIsACopy(t *testing.T) {
	h := NewHistory(2)
	h.Add(Point{1, 1})
	pts := h.Points()
	pts[0] = Point{9, 9}
	assert.Equal(t, []Point{{1, 1}}, h.Points())
}

func TestHistoryClear(t *testing.T) {
	h := NewHistory(2)
	h.Add(Point{1, 1})
	h.Add(Point{2, 2})
	h.Add(Point{3, 3})
	h.Clear()
	assert.Equal(t, 0, h.Len())
	assert.Equal(t, 2, h.Cap())

	h.Add(Point{5, 5})
	assert.Equal(t, []Point{{5, 5}}, h.Points())
}
