package detection

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"slices"
	"sort"

	"gocv.io/x/gocv"
)

var (
	colorGreen = color.RGBA{0, 255, 0, 255}
	colorRed   = color.RGBA{255, 0, 0, 255}
	colorWhite = color.RGBA{255, 255, 255, 255}
)

// DefaultStrategies is the classical chain in the order it is tried without a hint
var DefaultStrategies = []Strategy{RedChannel, Grayscale, GreenChannel}

// SpotDetector runs the classical strategies, optionally followed by the neural
// backend. It reuses its work Mats between frames, so one instance must not be
// shared between goroutines.
type SpotDetector struct {
	cfg        Config
	strategies []Strategy
	neural     *NeuralDetector

	kernel      gocv.Mat
	thresholded gocv.Mat
	dilated     gocv.Mat
	circles     gocv.Mat
}

// NewSpotDetector builds the classical chain; a non-nil neural detector is
// appended as the last strategy and closed with the chain
func NewSpotDetector(cfg Config, neural *NeuralDetector) *SpotDetector {
	strategies := slices.Clone(DefaultStrategies)
	if neural != nil {
		strategies = append(strategies, NeuralNet)
	}

	debugMsg("DETECTION", fmt.Sprintf("Spot detector: strategies %v, threshold [%d, %d], %d trials",
		strategies, cfg.Search.MinThreshold, cfg.Search.MaxThreshold, cfg.Search.MaxTrials))

	return &SpotDetector{
		cfg:         cfg,
		strategies:  strategies,
		neural:      neural,
		kernel:      gocv.GetStructuringElement(gocv.MorphRect, image.Pt(cfg.KernelSize, cfg.KernelSize)),
		thresholded: gocv.NewMat(),
		dilated:     gocv.NewMat(),
		circles:     gocv.NewMat(),
	}
}

// Strategies returns the configured chain
func (d *SpotDetector) Strategies() []Strategy {
	return slices.Clone(d.strategies)
}

// Detect tries each strategy, hinted one first, until one isolates a single dot
func (d *SpotDetector) Detect(frame gocv.Mat, hint DetectorState) (RawDetection, gocv.Mat) {
	if frame.Empty() {
		return RawDetection{}, gocv.NewMat()
	}

	brightness := Brightness(frame)
	thresholdHint := hint.Threshold

	for _, strategy := range OrderStrategies(d.strategies, hint.Strategy) {
		if strategy == NeuralNet {
			det, annotated, ok := d.neural.find(frame)
			if ok {
				drawSummary(&annotated, det, brightness)
				return det, annotated
			}
			continue
		}

		channel := extractChannel(frame, strategy)
		res := SearchThreshold(d.cfg.Search, thresholdHint, func(threshold int) []Circle {
			return d.trial(channel, threshold)
		})
		channel.Close()

		if res.OutOfRange {
			// the hint is stale for the remaining strategies too
			thresholdHint = 0
		}
		if !res.Found {
			debugMsg("DETECTION_VERBOSE", fmt.Sprintf("%s: no single circle after %d trials", strategy, res.Trials))
			continue
		}

		det := RawDetection{
			Center:     res.Circle.Center,
			Found:      true,
			Confidence: 1.0,
			Strategy:   strategy,
			Threshold:  res.Threshold,
		}
		annotated := frame.Clone()
		gocv.Circle(&annotated, res.Circle.Center, max(res.Circle.Radius, 3)+4, colorRed, 2)
		drawSummary(&annotated, det, brightness)
		return det, annotated
	}

	annotated := frame.Clone()
	drawSummary(&annotated, RawDetection{}, brightness)
	return RawDetection{}, annotated
}

// Close releases the work Mats and the neural backend
func (d *SpotDetector) Close() error {
	d.kernel.Close()
	d.thresholded.Close()
	d.dilated.Close()
	d.circles.Close()
	if d.neural != nil {
		return d.neural.Close()
	}
	return nil
}

// trial thresholds to zero, dilates to merge the dot and runs HoughCircles
func (d *SpotDetector) trial(channel gocv.Mat, threshold int) []Circle {
	gocv.Threshold(channel, &d.thresholded, float32(threshold), 255, gocv.ThresholdToZero)

	d.thresholded.CopyTo(&d.dilated)
	for i := 0; i < d.cfg.DilateIterations; i++ {
		gocv.Dilate(d.dilated, &d.dilated, d.kernel)
	}

	h := d.cfg.Hough
	gocv.HoughCirclesWithParams(d.dilated, &d.circles, gocv.HoughGradient,
		h.DP, h.MinDist, h.Param1, h.Param2, h.MinRadius, h.MaxRadius)

	if d.circles.Empty() || d.circles.Cols() == 0 {
		return nil
	}

	found := make([]Circle, d.circles.Cols())
	for i := range found {
		found[i] = Circle{
			Center: image.Pt(
				int(d.circles.GetFloatAt(0, i*3)),
				int(d.circles.GetFloatAt(0, i*3+1)),
			),
			Radius: int(d.circles.GetFloatAt(0, i*3+2)),
		}
	}
	return found
}

// OrderStrategies moves the hinted strategy to the front, keeping the rest in order
func OrderStrategies(strategies []Strategy, hint Strategy) []Strategy {
	order := slices.Clone(strategies)
	sort.SliceStable(order, func(i, j int) bool {
		return order[i] == hint && order[j] != hint
	})
	return order
}

// extractChannel returns a new single-channel Mat for the strategy
func extractChannel(frame gocv.Mat, strategy Strategy) gocv.Mat {
	if frame.Channels() == 1 {
		return frame.Clone()
	}

	switch strategy {
	case RedChannel, GreenChannel:
		idx := 2
		if strategy == GreenChannel {
			idx = 1
		}
		channels := gocv.Split(frame)
		for i := range channels {
			if i != idx {
				channels[i].Close()
			}
		}
		return channels[idx]

	default:
		gray := gocv.NewMat()
		defer gray.Close()
		gocv.CvtColor(frame, &gray, gocv.ColorBGRToGray)

		normalized := gocv.NewMat()
		gocv.Normalize(gray, &normalized, 0, 255, gocv.NormMinMax)
		return normalized
	}
}

// Brightness is the mean pixel magnitude of a BGR frame scaled back to 0-255,
// or the mean level of a single-channel one
func Brightness(frame gocv.Mat) float64 {
	if frame.Empty() {
		return 0
	}
	data := frame.ToBytes()
	channels := frame.Channels()
	if len(data) == 0 || channels < 1 {
		return 0
	}

	pixels := len(data) / channels
	sum := 0.0
	if channels < 3 {
		for i := 0; i < len(data); i += channels {
			sum += float64(data[i])
		}
		return sum / float64(pixels)
	}

	for i := 0; i+2 < len(data); i += channels {
		b, g, r := float64(data[i]), float64(data[i+1]), float64(data[i+2])
		sum += math.Sqrt(b*b + g*g + r*r)
	}
	return sum / float64(pixels) / math.Sqrt(3)
}

func drawSummary(img *gocv.Mat, det RawDetection, brightness float64) {
	label := "NO LASER"
	c := colorWhite
	if det.Found {
		c = colorGreen
		label = det.Strategy.String()
		if det.Strategy == NeuralNet {
			label += fmt.Sprintf(" conf=%.2f", det.Confidence)
		} else {
			label += fmt.Sprintf(" THR=%d", det.Threshold)
		}
	}
	gocv.PutText(img, label, image.Pt(10, 40), gocv.FontHersheyComplex, 0.5, c, 1)
	gocv.PutText(img, fmt.Sprintf("Brightness=%d", int(brightness)), image.Pt(10, 60), gocv.FontHersheyComplex, 0.5, c, 1)
}
