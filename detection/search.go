package detection

import "image"

// Circle is one HoughCircles candidate
type Circle struct {
	Center image.Point
	Radius int
}

// TrialFunc applies threshold to the channel and returns the circles that survive
type TrialFunc func(threshold int) []Circle

// SearchResult is the outcome of SearchThreshold
type SearchResult struct {
	Circle     Circle
	Threshold  int
	Trials     int
	Found      bool
	OutOfRange bool // the search walked off the threshold range
}

// SearchThreshold looks for the threshold that leaves exactly one circle.
// No circles lowers the threshold by half the distance to the minimum, several
// raise it by half the distance to the maximum, with a step of at least 1.
// It never runs more than cfg.MaxTrials trials.
func SearchThreshold(cfg SearchConfig, hint int, trial TrialFunc) SearchResult {
	threshold := (cfg.MinThreshold + cfg.MaxThreshold) / 2
	if hint > cfg.MinThreshold && hint < cfg.MaxThreshold {
		threshold = hint
	}

	var res SearchResult
	for res.Trials < cfg.MaxTrials {
		circles := trial(threshold)
		res.Trials++

		switch {
		case len(circles) == 1:
			res.Circle = circles[0]
			res.Threshold = threshold
			res.Found = true
			return res

		case len(circles) == 0:
			threshold -= max((threshold-cfg.MinThreshold)/2, 1)
			if threshold < cfg.MinThreshold {
				res.OutOfRange = true
				return res
			}

		default:
			threshold += max((cfg.MaxThreshold-threshold)/2, 1)
			if threshold > cfg.MaxThreshold {
				res.OutOfRange = true
				return res
			}
		}
	}
	return res
}
