package detection

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is returned for unusable detector settings
var ErrInvalidConfig = errors.New("invalid detection config")

// SearchConfig bounds the threshold search of the classical strategies
type SearchConfig struct {
	MinThreshold int
	MaxThreshold int
	MaxTrials    int
}

// HoughConfig holds the circle detection parameters, tuned for a 3-10px dot
type HoughConfig struct {
	DP        float64
	MinDist   float64
	Param1    float64
	Param2    float64
	MinRadius int
	MaxRadius int
}

// NeuralConfig configures the ONNX laser model
type NeuralConfig struct {
	ModelPath       string
	InputSize       int
	ConfidenceFloor float64
	PreferGPU       bool
}

// Config configures the spot detector
type Config struct {
	Backend          Backend
	Search           SearchConfig
	Hough            HoughConfig
	DilateIterations int
	KernelSize       int
	Neural           NeuralConfig
}

// DefaultConfig returns the values that isolate a laser dot on a 640x480 webcam frame
func DefaultConfig() Config {
	return Config{
		Backend: BackendClassical,
		Search: SearchConfig{
			MinThreshold: 100,
			MaxThreshold: 255,
			MaxTrials:    7,
		},
		Hough: HoughConfig{
			DP:        1,
			MinDist:   50,
			Param1:    50,
			Param2:    2,
			MinRadius: 3,
			MaxRadius: 10,
		},
		DilateIterations: 4,
		KernelSize:       3,
		Neural: NeuralConfig{
			ModelPath:       "models/laser_v5.onnx",
			InputSize:       640,
			ConfidenceFloor: 0.10,
			PreferGPU:       true,
		},
	}
}

// Validate checks the settings before any Mat is allocated
func (c Config) Validate() error {
	switch c.Backend {
	case BackendClassical, BackendNeural, BackendAuto:
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, c.Backend)
	}

	s := c.Search
	if s.MinThreshold < 0 || s.MaxThreshold > 255 || s.MinThreshold >= s.MaxThreshold {
		return fmt.Errorf("%w: threshold range [%d, %d]", ErrInvalidConfig, s.MinThreshold, s.MaxThreshold)
	}
	if s.MaxTrials < 1 {
		return fmt.Errorf("%w: max trials %d", ErrInvalidConfig, s.MaxTrials)
	}

	h := c.Hough
	if h.DP <= 0 || h.MinDist <= 0 || h.MinRadius < 0 || h.MaxRadius < h.MinRadius {
		return fmt.Errorf("%w: hough parameters %+v", ErrInvalidConfig, h)
	}
	if c.DilateIterations < 0 || c.KernelSize < 1 {
		return fmt.Errorf("%w: dilate %d iterations with kernel %d", ErrInvalidConfig, c.DilateIterations, c.KernelSize)
	}

	if c.Backend != BackendClassical {
		n := c.Neural
		if n.ModelPath == "" {
			return fmt.Errorf("%w: neural backend needs a model path", ErrInvalidConfig)
		}
		if n.InputSize <= 0 || n.ConfidenceFloor < 0 || n.ConfidenceFloor > 1 {
			return fmt.Errorf("%w: neural input %d, confidence floor %.2f", ErrInvalidConfig, n.InputSize, n.ConfidenceFloor)
		}
	}
	return nil
}
