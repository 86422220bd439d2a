package detection

import (
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// onnxNet holds the network shared by the GPU and CPU providers
type onnxNet struct {
	net       gocv.Net
	inputSize int
	mu        sync.Mutex
}

func (o *onnxNet) load(modelPath string, inputSize int, backend gocv.NetBackendType, target gocv.NetTargetType) error {
	o.net = gocv.ReadNetFromONNX(modelPath)
	if o.net.Empty() {
		return fmt.Errorf("failed to load laser model from %s", modelPath)
	}
	o.net.SetPreferableBackend(backend)
	o.net.SetPreferableTarget(target)
	o.inputSize = inputSize
	return nil
}

// Detect performs one forward pass and decodes every candidate box
func (o *onnxNet) Detect(frame gocv.Mat) (*DetectionResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	blob := gocv.BlobFromImage(frame, 1.0/255.0, image.Pt(o.inputSize, o.inputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	o.net.SetInput(blob, "")
	output := o.net.Forward("")
	defer output.Close()

	dims := output.Size()
	var rows, cols int
	switch len(dims) {
	case 3:
		rows, cols = dims[1], dims[2]
	case 2:
		rows, cols = dims[0], dims[1]
	default:
		return nil, fmt.Errorf("unexpected model output shape %v", dims)
	}

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read model output: %w", err)
	}

	scaleX := float64(frame.Cols()) / float64(o.inputSize)
	scaleY := float64(frame.Rows()) / float64(o.inputSize)
	return ParseYOLO(data, rows, cols, scaleX, scaleY)
}

// Close releases the network
func (o *onnxNet) Close() error {
	return o.net.Close()
}

// GPUProvider runs the laser model on the OpenCV CUDA backend
type GPUProvider struct {
	onnxNet
}

// Initialize loads the model with the CUDA backend and target
func (gp *GPUProvider) Initialize(modelPath string, inputSize int) error {
	return gp.load(modelPath, inputSize, gocv.NetBackendCUDA, gocv.NetTargetCUDA)
}

// GetProviderInfo returns information about the GPU provider
func (gp *GPUProvider) GetProviderInfo() ProviderInfo {
	return ProviderInfo{
		Type:    "GPU",
		Backend: "OpenCV CUDA",
		Device:  "NVIDIA GPU",
	}
}
