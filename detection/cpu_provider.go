package detection

import "gocv.io/x/gocv"

// CPUProvider runs the laser model on the default OpenCV backend
type CPUProvider struct {
	onnxNet
}

// Initialize loads the model for CPU inference
func (cp *CPUProvider) Initialize(modelPath string, inputSize int) error {
	return cp.load(modelPath, inputSize, gocv.NetBackendDefault, gocv.NetTargetCPU)
}

// GetProviderInfo returns information about the CPU provider
func (cp *CPUProvider) GetProviderInfo() ProviderInfo {
	return ProviderInfo{
		Type:    "CPU",
		Backend: "OpenCV DNN",
		Device:  "CPU",
	}
}
