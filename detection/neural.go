package detection

import (
	"fmt"
	"image"
	"os"

	"gocv.io/x/gocv"
)

// NeuralDetector finds the laser with a YOLOv5 model exported to ONNX
type NeuralDetector struct {
	cfg     NeuralConfig
	manager *ProviderManager
}

// NewNeuralDetector loads the model on the best available provider
func NewNeuralDetector(cfg NeuralConfig) (*NeuralDetector, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("laser model: %w", err)
	}

	manager := NewProviderManager()
	if err := manager.Initialize(cfg.ModelPath, cfg.InputSize, cfg.PreferGPU); err != nil {
		return nil, err
	}

	info := manager.GetProviderInfo()
	debugMsg("DETECTION", fmt.Sprintf("🎯 Laser model %s running on %s (%s), confidence floor %.2f",
		cfg.ModelPath, info.Type, info.Backend, cfg.ConfidenceFloor))

	return &NeuralDetector{cfg: cfg, manager: manager}, nil
}

// Detect runs the model on its own, without the classical chain
func (n *NeuralDetector) Detect(frame gocv.Mat, _ DetectorState) (RawDetection, gocv.Mat) {
	if frame.Empty() {
		return RawDetection{}, gocv.NewMat()
	}

	det, annotated, ok := n.find(frame)
	if !ok {
		annotated = frame.Clone()
	}
	drawSummary(&annotated, det, Brightness(frame))
	return det, annotated
}

// Info describes the provider the model runs on
func (n *NeuralDetector) Info() ProviderInfo {
	return n.manager.GetProviderInfo()
}

// Close releases the network
func (n *NeuralDetector) Close() error {
	return n.manager.Close()
}

// find returns the best detection above the confidence floor with every box drawn
func (n *NeuralDetector) find(frame gocv.Mat) (RawDetection, gocv.Mat, bool) {
	result, err := n.manager.GetProvider().Detect(frame)
	if err != nil {
		debugMsg("DETECTION_ERROR", fmt.Sprintf("Laser model inference failed: %v", err))
		return RawDetection{}, gocv.Mat{}, false
	}

	best, ok := BestDetection(result, n.cfg.ConfidenceFloor)
	if !ok {
		return RawDetection{}, gocv.Mat{}, false
	}

	annotated := frame.Clone()
	for i, rect := range result.Rects {
		if result.Confidences[i] < n.cfg.ConfidenceFloor {
			continue
		}
		gocv.Rectangle(&annotated, rect, colorGreen, 2)
		gocv.PutText(&annotated, fmt.Sprintf("laser: %.2f", result.Confidences[i]),
			image.Pt(rect.Min.X, rect.Min.Y-5), gocv.FontHersheySimplex, 0.6, colorGreen, 2)
	}

	rect := result.Rects[best]
	center := image.Pt((rect.Min.X+rect.Max.X)/2, (rect.Min.Y+rect.Max.Y)/2)
	gocv.Circle(&annotated, center, 5, colorRed, -1)

	return RawDetection{
		Center:     center,
		Found:      true,
		Confidence: result.Confidences[best],
		Strategy:   NeuralNet,
	}, annotated, true
}

// BestDetection returns the index of the most confident box at or above floor
func BestDetection(result *DetectionResult, floor float64) (int, bool) {
	if result == nil {
		return 0, false
	}
	best := -1
	for i, conf := range result.Confidences {
		if conf < floor {
			continue
		}
		if best < 0 || conf > result.Confidences[best] {
			best = i
		}
	}
	return best, best >= 0
}

// minRawScore drops the bulk of empty anchors before the confidence floor is applied
const minRawScore = 0.01

// ParseYOLO decodes a YOLOv5 output of rows x (5 + classes) floats laid out as
// cx, cy, w, h, objectness, class scores... in network input pixels.
// scaleX and scaleY map input pixels back to the frame.
func ParseYOLO(data []float32, rows, cols int, scaleX, scaleY float64) (*DetectionResult, error) {
	if cols < 6 {
		return nil, fmt.Errorf("unexpected model output width %d", cols)
	}
	if len(data) < rows*cols {
		return nil, fmt.Errorf("model output has %d values, want %d", len(data), rows*cols)
	}

	result := &DetectionResult{}
	for i := 0; i < rows; i++ {
		row := data[i*cols : (i+1)*cols]

		objectness := float64(row[4])
		if objectness < minRawScore {
			continue
		}
		classScore := float64(row[5])
		for _, s := range row[6:] {
			classScore = max(classScore, float64(s))
		}
		score := objectness * classScore
		if score < minRawScore {
			continue
		}

		cx := float64(row[0]) * scaleX
		cy := float64(row[1]) * scaleY
		w := float64(row[2]) * scaleX
		h := float64(row[3]) * scaleY
		left := int(cx - w/2)
		top := int(cy - h/2)

		result.Rects = append(result.Rects, image.Rect(left, top, left+int(w), top+int(h)))
		result.Confidences = append(result.Confidences, score)
	}
	return result, nil
}
