// Package config loads the YAML settings file and converts it into the
// configuration of each package.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"lasertrack/actuator"
	"lasertrack/detection"
	"lasertrack/ptz"
	"lasertrack/tracking"
)

// ErrInvalidConfig is returned when the file cannot be used
var ErrInvalidConfig = errors.New("invalid configuration")

// Duration is a time.Duration written as "1s", "250ms" in YAML
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Config is the whole settings file
type Config struct {
	Camera     Camera     `yaml:"camera"`
	Detection  Detection  `yaml:"detection"`
	Filter     Filter     `yaml:"filter"`
	Controller Controller `yaml:"controller"`
	Rig        Rig        `yaml:"rig"`
	Telemetry  Telemetry  `yaml:"telemetry"`
	Debug      Debug      `yaml:"debug"`
}

type Camera struct {
	Device string `yaml:"device"` // camera index or file/stream path
	Target string `yaml:"target"` // "center" or "x,y"
}

type Detection struct {
	Backend          string  `yaml:"backend"`
	MinThreshold     int     `yaml:"min_threshold"`
	MaxThreshold     int     `yaml:"max_threshold"`
	MaxTrials        int     `yaml:"max_trials"`
	HoughDP          float64 `yaml:"hough_dp"`
	HoughMinDist     float64 `yaml:"hough_min_dist"`
	HoughParam1      float64 `yaml:"hough_param1"`
	HoughParam2      float64 `yaml:"hough_param2"`
	MinRadius        int     `yaml:"min_radius"`
	MaxRadius        int     `yaml:"max_radius"`
	DilateIterations int     `yaml:"dilate_iterations"`
	KernelSize       int     `yaml:"kernel_size"`
	ModelPath        string  `yaml:"model_path"`
	InputSize        int     `yaml:"input_size"`
	ConfidenceFloor  float64 `yaml:"confidence_floor"`
	PreferGPU        bool    `yaml:"prefer_gpu"`
}

type Filter struct {
	Alpha            float64  `yaml:"alpha"`
	OutlierThreshold float64  `yaml:"outlier_threshold"`
	RecoveryCount    int      `yaml:"recovery_count"`
	RecoveryAlpha    float64  `yaml:"recovery_alpha"`
	MemoryTimeout    Duration `yaml:"memory_timeout"`
	HistorySize      int      `yaml:"history_size"`
}

type Axis struct {
	Min             float64 `yaml:"min"`
	Max             float64 `yaml:"max"`
	PixelsPerDegree float64 `yaml:"pixels_per_degree"`
	Direction       float64 `yaml:"direction"`
}

type Controller struct {
	Pan            Axis    `yaml:"pan"`
	Tilt           Axis    `yaml:"tilt"`
	MinStep        float64 `yaml:"min_step"`
	MaxStep        float64 `yaml:"max_step"`
	DeadbandPx     float64 `yaml:"deadband_px"`
	MaxFrequencyHz float64 `yaml:"max_frequency_hz"`
	LaserEnabled   bool    `yaml:"laser_enabled"`
	// Calibration is an optional pixels-per-degree result that overrides the axes
	Calibration string `yaml:"calibration"`
}

type Rig struct {
	Mode           string   `yaml:"mode"`
	PanPin         string   `yaml:"pan_pin"`
	TiltPin        string   `yaml:"tilt_pin"`
	HeadPin        string   `yaml:"head_pin"`
	LaserPin       string   `yaml:"laser_pin"`
	EyesPin        string   `yaml:"eyes_pin"`
	HeadMin        float64  `yaml:"head_min"`
	HeadMax        float64  `yaml:"head_max"`
	LaserActiveLow bool     `yaml:"laser_active_low"`
	Calibrate      bool     `yaml:"calibrate"`
	Address        string   `yaml:"address"`
	SerialPort     string   `yaml:"serial_port"`
	BaudRate       int      `yaml:"baud_rate"`
	Period         Duration `yaml:"period"`
	Timeout        Duration `yaml:"timeout"`
}

type Telemetry struct {
	Addr string `yaml:"addr"` // empty disables the websocket server
}

type Debug struct {
	Enabled       bool     `yaml:"enabled"`
	Verbose       bool     `yaml:"verbose"`
	Overlay       bool     `yaml:"overlay"`
	Terminal      bool     `yaml:"terminal"`
	LogDir        string   `yaml:"log_dir"`
	FrameDir      string   `yaml:"frame_dir"`
	StatsInterval Duration `yaml:"stats_interval"`
}

// Default returns the settings of the installation
func Default() Config {
	det := detection.DefaultConfig()
	flt := tracking.DefaultConfig()
	ctrl := ptz.DefaultControllerConfig()
	rig := ptz.DefaultRigConfig()

	return Config{
		Camera: Camera{Device: "0", Target: "center"},
		Detection: Detection{
			Backend:          string(det.Backend),
			MinThreshold:     det.Search.MinThreshold,
			MaxThreshold:     det.Search.MaxThreshold,
			MaxTrials:        det.Search.MaxTrials,
			HoughDP:          det.Hough.DP,
			HoughMinDist:     det.Hough.MinDist,
			HoughParam1:      det.Hough.Param1,
			HoughParam2:      det.Hough.Param2,
			MinRadius:        det.Hough.MinRadius,
			MaxRadius:        det.Hough.MaxRadius,
			DilateIterations: det.DilateIterations,
			KernelSize:       det.KernelSize,
			ModelPath:        det.Neural.ModelPath,
			InputSize:        det.Neural.InputSize,
			ConfidenceFloor:  det.Neural.ConfidenceFloor,
			PreferGPU:        det.Neural.PreferGPU,
		},
		Filter: Filter{
			Alpha:            flt.Alpha,
			OutlierThreshold: flt.OutlierThreshold,
			RecoveryCount:    flt.RecoveryCount,
			RecoveryAlpha:    flt.RecoveryAlpha,
			MemoryTimeout:    Duration(flt.MemoryTimeout),
			HistorySize:      flt.HistorySize,
		},
		Controller: Controller{
			Pan:            axisFrom(ctrl.Pan),
			Tilt:           axisFrom(ctrl.Tilt),
			MinStep:        ctrl.MinStep,
			MaxStep:        ctrl.MaxStep,
			DeadbandPx:     ctrl.DeadbandPx,
			MaxFrequencyHz: ctrl.MaxFrequencyHz,
			LaserEnabled:   ctrl.LaserEnabled,
		},
		Rig: Rig{
			Mode:           rig.Mode,
			PanPin:         rig.Direct.PanPin,
			TiltPin:        rig.Direct.TiltPin,
			HeadPin:        rig.Direct.HeadPin,
			LaserPin:       rig.Direct.LaserPin,
			EyesPin:        rig.Direct.EyesPin,
			HeadMin:        rig.Direct.HeadMin,
			HeadMax:        rig.Direct.HeadMax,
			LaserActiveLow: rig.Direct.LaserActiveLow,
			Calibrate:      rig.Direct.Calibrate,
			Address:        rig.Remote.Address,
			BaudRate:       rig.Remote.BaudRate,
			Period:         Duration(rig.Remote.Period),
			Timeout:        Duration(rig.Remote.Timeout),
		},
		Telemetry: Telemetry{Addr: ":8090"},
		Debug: Debug{
			LogDir:        "/tmp/lasertrack",
			FrameDir:      "/tmp/lasertrack/frames",
			StatsInterval: Duration(5 * time.Second),
		},
	}
}

func axisFrom(a ptz.AxisConfig) Axis {
	return Axis{Min: a.Min, Max: a.Max, PixelsPerDegree: a.PixelsPerDegree, Direction: a.Direction}
}

func (a Axis) axis() ptz.AxisConfig {
	return ptz.AxisConfig{Min: a.Min, Max: a.Max, PixelsPerDegree: a.PixelsPerDegree, Direction: a.Direction}
}

// Load reads path over the defaults. Unknown keys are an error.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes YAML from r over the defaults and validates the result
func Parse(r io.Reader) (Config, error) {
	cfg := Default()

	data, err := io.ReadAll(r)
	if err != nil {
		return cfg, err
	}
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Marshal renders cfg as YAML
func Marshal(cfg Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

// Validate checks every section
func (c Config) Validate() error {
	var errs []error
	if c.Camera.Device == "" {
		errs = append(errs, errors.New("camera device is empty"))
	}
	if _, err := c.TargetPoint(); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs,
		c.DetectionConfig().Validate(),
		c.FilterConfig().Validate(),
		c.ControllerConfig().Validate(),
		c.validateRig(),
	)
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func (c Config) validateRig() error {
	switch c.Rig.Mode {
	case ptz.ModeDirect, ptz.ModeSim:
		for _, pin := range []string{c.Rig.PanPin, c.Rig.TiltPin, c.Rig.HeadPin, c.Rig.LaserPin, c.Rig.EyesPin} {
			if pin == "" {
				return fmt.Errorf("%w: direct rig needs all five pins", actuator.ErrInvalidConfig)
			}
		}
		if c.Rig.HeadMin >= c.Rig.HeadMax {
			return fmt.Errorf("%w: head range [%.0f, %.0f]", actuator.ErrInvalidConfig, c.Rig.HeadMin, c.Rig.HeadMax)
		}
	case ptz.ModeRemote:
		if c.Rig.Address == "" && c.Rig.SerialPort == "" {
			return fmt.Errorf("%w: remote rig needs an address or a serial port", ptz.ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown rig mode %q", ptz.ErrInvalidConfig, c.Rig.Mode)
	}
	return nil
}

// TargetPoint parses Camera.Target; nil means the frame centre
func (c Config) TargetPoint() (*tracking.Point, error) {
	t := strings.TrimSpace(c.Camera.Target)
	if t == "" || t == "center" {
		return nil, nil
	}
	parts := strings.Split(t, ",")
	if len(parts) != 2 {
		return nil, fmt.Errorf("target %q must be \"center\" or \"x,y\"", t)
	}
	x, errX := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	y, errY := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if errX != nil || errY != nil {
		return nil, fmt.Errorf("target %q: %w", t, errors.Join(errX, errY))
	}
	return &tracking.Point{X: x, Y: y}, nil
}

// DetectionConfig converts the detection section
func (c Config) DetectionConfig() detection.Config {
	d := c.Detection
	return detection.Config{
		Backend: detection.Backend(d.Backend),
		Search: detection.SearchConfig{
			MinThreshold: d.MinThreshold,
			MaxThreshold: d.MaxThreshold,
			MaxTrials:    d.MaxTrials,
		},
		Hough: detection.HoughConfig{
			DP:        d.HoughDP,
			MinDist:   d.HoughMinDist,
			Param1:    d.HoughParam1,
			Param2:    d.HoughParam2,
			MinRadius: d.MinRadius,
			MaxRadius: d.MaxRadius,
		},
		DilateIterations: d.DilateIterations,
		KernelSize:       d.KernelSize,
		Neural: detection.NeuralConfig{
			ModelPath:       d.ModelPath,
			InputSize:       d.InputSize,
			ConfidenceFloor: d.ConfidenceFloor,
			PreferGPU:       d.PreferGPU,
		},
	}
}

// FilterConfig converts the filter section
func (c Config) FilterConfig() tracking.Config {
	f := c.Filter
	return tracking.Config{
		Alpha:            f.Alpha,
		OutlierThreshold: f.OutlierThreshold,
		RecoveryCount:    f.RecoveryCount,
		RecoveryAlpha:    f.RecoveryAlpha,
		MemoryTimeout:    time.Duration(f.MemoryTimeout),
		HistorySize:      f.HistorySize,
	}
}

// ControllerConfig converts the controller section
func (c Config) ControllerConfig() ptz.ControllerConfig {
	ctrl := c.Controller
	return ptz.ControllerConfig{
		Pan:            ctrl.Pan.axis(),
		Tilt:           ctrl.Tilt.axis(),
		MinStep:        ctrl.MinStep,
		MaxStep:        ctrl.MaxStep,
		DeadbandPx:     ctrl.DeadbandPx,
		MaxFrequencyHz: ctrl.MaxFrequencyHz,
		LaserEnabled:   ctrl.LaserEnabled,
	}
}

// RigConfig converts the rig section. The remote rig falls back to the
// controller axes when the firmware does not report its limits.
func (c Config) RigConfig() ptz.RigConfig {
	r := c.Rig
	ctrl := c.ControllerConfig()
	return ptz.RigConfig{
		Mode: r.Mode,
		Direct: ptz.DirectConfig{
			PanPin:         r.PanPin,
			TiltPin:        r.TiltPin,
			HeadPin:        r.HeadPin,
			LaserPin:       r.LaserPin,
			EyesPin:        r.EyesPin,
			Pan:            ctrl.Pan,
			Tilt:           ctrl.Tilt,
			HeadMin:        r.HeadMin,
			HeadMax:        r.HeadMax,
			LaserActiveLow: r.LaserActiveLow,
			Calibrate:      r.Calibrate,
		},
		Remote: ptz.RemoteConfig{
			Address:      r.Address,
			SerialPort:   r.SerialPort,
			BaudRate:     r.BaudRate,
			Period:       time.Duration(r.Period),
			Timeout:      time.Duration(r.Timeout),
			FallbackPan:  ctrl.Pan,
			FallbackTilt: ctrl.Tilt,
		},
	}
}
