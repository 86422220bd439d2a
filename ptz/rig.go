package ptz

import (
	"errors"
	"fmt"
	"time"

	"lasertrack/actuator"
)

// Limits are the angle ranges a rig accepts
type Limits struct {
	PanMin  float64
	PanMax  float64
	TiltMin float64
	TiltMax float64
}

func (l Limits) String() string {
	return fmt.Sprintf("Pan(%.0f-%.0f) Tilt(%.0f-%.0f)", l.PanMin, l.PanMax, l.TiltMin, l.TiltMax)
}

// Rig is the set of actuators behind the doll: the pan/tilt laser mount,
// the head servo and the eye lights. Writes are last-write-wins and never block
// on the hardware.
type Rig interface {
	SetAngles(pan, tilt float64) error
	SetLaser(on bool) error
	SetHead(angle float64) error
	SetEyes(brightness float64) error
	Limits() Limits
	Close() error
}

// Apply writes an accepted command to the rig
func Apply(rig Rig, cmd Command) error {
	if !cmd.Accepted {
		return nil
	}
	return errors.Join(rig.SetAngles(cmd.Pan, cmd.Tilt), rig.SetLaser(cmd.LaserOn))
}

// Rig modes
const (
	ModeDirect = "direct"
	ModeRemote = "remote"
	ModeSim    = "sim"
)

// RigConfig selects and configures the actuator backend
type RigConfig struct {
	Mode   string
	Direct DirectConfig
	Remote RemoteConfig
}

// DirectConfig wires the actuators to local GPIO lines
type DirectConfig struct {
	PanPin   string
	TiltPin  string
	HeadPin  string
	LaserPin string
	EyesPin  string

	Pan  AxisConfig
	Tilt AxisConfig
	// Head travel
	HeadMin float64
	HeadMax float64

	LaserActiveLow bool
	// Calibrate measures pin switching latency when each servo starts
	Calibrate bool
}

// RemoteConfig reaches the ESP32 firmware either over TCP or a serial line
type RemoteConfig struct {
	Address    string // host:port, used when SerialPort is empty
	SerialPort string
	BaudRate   int
	Period     time.Duration // how often pending state is flushed
	Timeout    time.Duration // per request

	// Used when the firmware does not answer "limits"
	FallbackPan  AxisConfig
	FallbackTilt AxisConfig
}

// DefaultRigConfig returns the pinout and ranges of the Jetson build
func DefaultRigConfig() RigConfig {
	ctrl := DefaultControllerConfig()
	return RigConfig{
		Mode: ModeDirect,
		Direct: DirectConfig{
			PanPin:         "GPIO13",
			TiltPin:        "GPIO22",
			HeadPin:        "GPIO12",
			LaserPin:       "GPIO05",
			EyesPin:        "GPIO23",
			Pan:            ctrl.Pan,
			Tilt:           ctrl.Tilt,
			HeadMin:        0,
			HeadMax:        180,
			LaserActiveLow: true,
			Calibrate:      true,
		},
		Remote: RemoteConfig{
			Address:      "192.168.45.50:15555",
			BaudRate:     115200,
			Period:       100 * time.Millisecond,
			Timeout:      500 * time.Millisecond,
			FallbackPan:  ctrl.Pan,
			FallbackTilt: ctrl.Tilt,
		},
	}
}

// NewRig builds the backend selected by cfg.Mode. The sim mode drives the
// direct rig against an in-memory pin bank.
func NewRig(cfg RigConfig) (Rig, error) {
	switch cfg.Mode {
	case ModeDirect:
		bank, err := actuator.NewPeriphBank()
		if err != nil {
			return nil, err
		}
		return NewDirectRig(bank, cfg.Direct)

	case ModeSim:
		return NewDirectRig(actuator.NewSimBank(), cfg.Direct)

	case ModeRemote:
		return DialRemoteRig(cfg.Remote)
	}
	return nil, fmt.Errorf("%w: unknown rig mode %q", ErrInvalidConfig, cfg.Mode)
}
