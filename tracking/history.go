package tracking

// History is a fixed-capacity circular buffer of accepted points.
// Once full, each Add evicts the oldest entry.
type History struct {
	points   []Point
	capacity int
	index    int
	full     bool
}

// NewHistory creates a circular buffer holding at most capacity points
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{
		points:   make([]Point, capacity),
		capacity: capacity,
	}
}

// Add stores a new point, overwriting the oldest when full
func (h *History) Add(p Point) {
	h.points[h.index] = p
	h.index = (h.index + 1) % h.capacity
	if h.index == 0 {
		h.full = true
	}
}

// Len returns the number of stored points
func (h *History) Len() int {
	if h.full {
		return h.capacity
	}
	return h.index
}

// Cap returns the capacity
func (h *History) Cap() int {
	return h.capacity
}

// Points returns a copy of the stored points, oldest first
func (h *History) Points() []Point {
	result := make([]Point, 0, h.Len())
	if h.full {
		// start from current index (oldest)
		for i := 0; i < h.capacity; i++ {
			result = append(result, h.points[(h.index+i)%h.capacity])
		}
		return result
	}
	return append(result, h.points[:h.index]...)
}

// Last returns the newest point
func (h *History) Last() (Point, bool) {
	if h.Len() == 0 {
		return Point{}, false
	}
	return h.points[(h.index-1+h.capacity)%h.capacity], true
}

// Clear empties the buffer
func (h *History) Clear() {
	h.index = 0
	h.full = false
}
