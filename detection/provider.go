package detection

import (
	"fmt"
	"image"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"gocv.io/x/gocv"
)

// Global debug function for detection package
var debugMsgFunc func(string, string, ...string)

// SetDebugFunction allows main package to provide debug function
func SetDebugFunction(fn func(string, string, ...string)) {
	debugMsgFunc = fn
}

// debugMsg is a wrapper that handles nil checks
func debugMsg(component, message string, tags ...string) {
	if debugMsgFunc != nil {
		debugMsgFunc(component, message, tags...)
	}
}

// Strategy names one way of locating the laser dot
type Strategy int

const (
	NoStrategy Strategy = iota
	RedChannel
	GreenChannel
	Grayscale
	NeuralNet
)

func (s Strategy) String() string {
	switch s {
	case RedChannel:
		return "red"
	case GreenChannel:
		return "green"
	case Grayscale:
		return "grayscale"
	case NeuralNet:
		return "neural"
	default:
		return "none"
	}
}

// ParseStrategy is the inverse of Strategy.String
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(s) {
	case "red":
		return RedChannel, nil
	case "green":
		return GreenChannel, nil
	case "grayscale", "gray":
		return Grayscale, nil
	case "neural", "nn":
		return NeuralNet, nil
	case "", "none":
		return NoStrategy, nil
	}
	return NoStrategy, fmt.Errorf("unknown strategy %q", s)
}

// RawDetection is the result of looking for the laser in one frame
type RawDetection struct {
	Center     image.Point
	Found      bool
	Confidence float64 // 1.0 for classical strategies, model score for the neural backend
	Strategy   Strategy
	Threshold  int // threshold that isolated exactly one circle, 0 for the neural backend
}

func (d RawDetection) String() string {
	if !d.Found {
		return "no laser"
	}
	if d.Strategy == NeuralNet {
		return fmt.Sprintf("%v via %s (conf %.2f)", d.Center, d.Strategy, d.Confidence)
	}
	return fmt.Sprintf("%v via %s (THR=%d)", d.Center, d.Strategy, d.Threshold)
}

// DetectorState is the hint carried from one frame to the next.
// The zero value means no hint.
type DetectorState struct {
	Strategy  Strategy
	Threshold int
}

// Observe returns the hint to use for the frame after det
func (s DetectorState) Observe(det RawDetection) DetectorState {
	if det.Found {
		return DetectorState{Strategy: det.Strategy, Threshold: det.Threshold}
	}
	return DetectorState{Strategy: s.Strategy}
}

// Detector locates the laser dot in a BGR frame.
// The returned annotated Mat is owned by the caller and must be closed.
type Detector interface {
	Detect(frame gocv.Mat, hint DetectorState) (RawDetection, gocv.Mat)
	Close() error
}

// Backend selects which detector New builds
type Backend string

const (
	BackendClassical Backend = "classical"
	BackendNeural    Backend = "neural"
	BackendAuto      Backend = "auto"
)

// New builds the detector selected by cfg.Backend.
// In auto mode a model that fails to load only costs the neural strategy.
func New(cfg Config) (Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Backend {
	case BackendClassical:
		return NewSpotDetector(cfg, nil), nil

	case BackendNeural:
		nn, err := NewNeuralDetector(cfg.Neural)
		if err != nil {
			return nil, err
		}
		return nn, nil

	case BackendAuto:
		nn, err := NewNeuralDetector(cfg.Neural)
		if err != nil {
			debugMsg("DETECTION", fmt.Sprintf("Neural backend unavailable, using classical chain only: %v", err))
			return NewSpotDetector(cfg, nil), nil
		}
		return NewSpotDetector(cfg, nn), nil
	}

	return nil, fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, cfg.Backend)
}

// InferenceProvider runs the laser model on one execution target
type InferenceProvider interface {
	Initialize(modelPath string, inputSize int) error
	Detect(frame gocv.Mat) (*DetectionResult, error)
	Close() error
	GetProviderInfo() ProviderInfo
}

// DetectionResult represents the raw output of the laser model
type DetectionResult struct {
	Rects       []image.Rectangle
	Confidences []float64
}

// ProviderInfo contains information about the inference provider
type ProviderInfo struct {
	Type     string        // "GPU" or "CPU"
	Backend  string        // "CUDA", "CPU"
	Device   string        // Device identifier
	InitTime time.Duration // Time taken to initialize
}

// ProviderManager handles automatic provider selection and fallback
type ProviderManager struct {
	currentProvider InferenceProvider
	providerInfo    ProviderInfo
}

// NewProviderManager creates a new provider manager with auto-detection
func NewProviderManager() *ProviderManager {
	return &ProviderManager{}
}

// Initialize tries CUDA first and keeps it only if a test inference succeeds,
// otherwise falls back to the CPU
func (pm *ProviderManager) Initialize(modelPath string, inputSize int, preferGPU bool) error {
	debugMsg("PROVIDER", "Auto-detecting best inference provider...")

	if preferGPU && hasGPUCapability() {
		debugMsg("PROVIDER", "GPU capability detected, attempting GPU initialization...")
		gpuProvider := &GPUProvider{}

		startTime := time.Now()
		err := gpuProvider.Initialize(modelPath, inputSize)
		if err == nil {
			if testProvider(gpuProvider, inputSize) {
				pm.currentProvider = gpuProvider
				pm.providerInfo = gpuProvider.GetProviderInfo()
				pm.providerInfo.InitTime = time.Since(startTime)
				debugMsg("PROVIDER", fmt.Sprintf("GPU provider successfully initialized (%v)", pm.providerInfo.InitTime))
				return nil
			}
			debugMsg("PROVIDER", "GPU test inference failed, falling back to CPU")
			gpuProvider.Close()
		} else {
			debugMsg("PROVIDER", fmt.Sprintf("GPU initialization failed: %v, falling back to CPU", err))
		}
	}

	cpuProvider := &CPUProvider{}

	startTime := time.Now()
	if err := cpuProvider.Initialize(modelPath, inputSize); err != nil {
		return fmt.Errorf("no inference provider available: %w", err)
	}

	pm.currentProvider = cpuProvider
	pm.providerInfo = cpuProvider.GetProviderInfo()
	pm.providerInfo.InitTime = time.Since(startTime)
	debugMsg("PROVIDER", fmt.Sprintf("CPU provider initialized (%v)", pm.providerInfo.InitTime))

	return nil
}

// GetProvider returns the current active provider
func (pm *ProviderManager) GetProvider() InferenceProvider {
	return pm.currentProvider
}

// GetProviderInfo returns information about the current provider
func (pm *ProviderManager) GetProviderInfo() ProviderInfo {
	return pm.providerInfo
}

// Close closes the current provider
func (pm *ProviderManager) Close() error {
	if pm.currentProvider != nil {
		return pm.currentProvider.Close()
	}
	return nil
}

// hasGPUCapability checks if GPU inference is possible
func hasGPUCapability() bool {
	// Jetson boards expose the GPU without lspci
	if matches, _ := filepath.Glob("/dev/nvhost-gpu"); len(matches) > 0 {
		return true
	}

	if !hasNVIDIAGPU() {
		debugMsg("GPU_DETECT", "No NVIDIA GPU detected")
		return false
	}
	if !hasNVIDIADriver() {
		debugMsg("GPU_DETECT", "NVIDIA drivers not loaded")
		return false
	}
	return true
}

// hasNVIDIAGPU checks if NVIDIA GPU is present
func hasNVIDIAGPU() bool {
	output, err := exec.Command("lspci").Output()
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(output)), "nvidia")
}

// hasNVIDIADriver checks if NVIDIA drivers are loaded
func hasNVIDIADriver() bool {
	if err := exec.Command("nvidia-smi", "--query-gpu=name", "--format=csv,noheader").Run(); err != nil {
		return false
	}
	matches, _ := filepath.Glob("/dev/nvidia*")
	return len(matches) > 0
}

// testProvider performs a quick test inference to verify the provider works
func testProvider(provider InferenceProvider, inputSize int) bool {
	testFrame := gocv.NewMatWithSize(inputSize, inputSize, gocv.MatTypeCV8UC3)
	defer testFrame.Close()

	_, err := provider.Detect(testFrame)
	return err == nil
}
