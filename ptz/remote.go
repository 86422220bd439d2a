package ptz

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"go.bug.st/serial"

	"lasertrack/actuator"
)

// DefaultRemotePort is where the ESP32 firmware listens
const DefaultRemotePort = 15555

// RemoteRig drives the ESP32 firmware over its text protocol. Requests are
// short ASCII commands, replies are "1", "0" or a tuple, with no terminator:
//
//	(h, v)  move to pan h, tilt v
//	on/off  laser
//	h0/h1   head to either end of its travel
//	angles  -> (h, v)
//	limits  -> ((hmin, hmax), (vmin, vmax))
//	quit    end the session
//
// Setters only record the latest wanted state; a sender goroutine flushes it
// once per period, so intermediate values are skipped rather than queued.
type RemoteRig struct {
	conn    io.ReadWriteCloser
	timeout time.Duration
	period  time.Duration
	limits  Limits
	headMid float64

	ioMutex sync.Mutex
	buf     []byte

	mutex   sync.Mutex
	pending remoteState
	lastErr error
	flushes uint64

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

type remoteState struct {
	angles *[2]float64
	laser  *bool
	head   *bool // true means the far end
}

// DialRemoteRig connects over the serial port when one is configured, TCP otherwise
func DialRemoteRig(cfg RemoteConfig) (*RemoteRig, error) {
	cfg = cfg.withDefaults()

	var conn io.ReadWriteCloser
	if cfg.SerialPort != "" {
		mode := &serial.Mode{
			BaudRate: cfg.BaudRate,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		}
		port, err := serial.Open(cfg.SerialPort, mode)
		if err != nil {
			return nil, fmt.Errorf("%w: open %s: %w", actuator.ErrHardwareIO, cfg.SerialPort, err)
		}
		if err := port.SetReadTimeout(cfg.Timeout); err != nil {
			port.Close()
			return nil, fmt.Errorf("%w: %s read timeout: %w", actuator.ErrHardwareIO, cfg.SerialPort, err)
		}
		debugMsg("RIG", fmt.Sprintf("Connected to ESP32 on %s at %d baud", cfg.SerialPort, cfg.BaudRate))
		conn = port
	} else {
		c, err := net.DialTimeout("tcp", cfg.Address, cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("%w: connect %s: %w", actuator.ErrHardwareIO, cfg.Address, err)
		}
		debugMsg("RIG", fmt.Sprintf("Connected to ESP32 at %s", cfg.Address))
		conn = c
	}

	return NewRemoteRig(conn, cfg), nil
}

func (cfg RemoteConfig) withDefaults() RemoteConfig {
	if cfg.Period <= 0 {
		cfg.Period = 100 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 500 * time.Millisecond
	}
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = 115200
	}
	if cfg.Address != "" && !strings.Contains(cfg.Address, ":") {
		cfg.Address = net.JoinHostPort(cfg.Address, strconv.Itoa(DefaultRemotePort))
	}
	return cfg
}

// NewRemoteRig speaks the protocol over an established connection. The
// firmware limits are queried once; on failure the fallback axes are used.
func NewRemoteRig(conn io.ReadWriteCloser, cfg RemoteConfig) *RemoteRig {
	cfg = cfg.withDefaults()

	r := &RemoteRig{
		conn:    conn,
		timeout: cfg.Timeout,
		period:  cfg.Period,
		limits: Limits{
			PanMin:  cfg.FallbackPan.Min,
			PanMax:  cfg.FallbackPan.Max,
			TiltMin: cfg.FallbackTilt.Min,
			TiltMax: cfg.FallbackTilt.Max,
		},
		headMid: 90,
		buf:     make([]byte, 128),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	if limits, err := r.QueryLimits(); err != nil {
		debugMsg("RIG_WARN", fmt.Sprintf("Failed to get firmware limits, using %s: %v", r.limits, err))
	} else {
		r.limits = limits
		debugMsg("RIG", fmt.Sprintf("Firmware limits: %s", limits))
	}

	go r.sender()
	return r
}

// SetAngles records the wanted pan and tilt; it reports the error of the
// previous flush, if there was one
func (r *RemoteRig) SetAngles(pan, tilt float64) error {
	pan = clamp(pan, r.limits.PanMin, r.limits.PanMax)
	tilt = clamp(tilt, r.limits.TiltMin, r.limits.TiltMax)

	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.pending.angles = &[2]float64{pan, tilt}
	return r.takeErr()
}

// SetLaser records the wanted laser state
func (r *RemoteRig) SetLaser(on bool) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.pending.laser = &on
	return r.takeErr()
}

// SetHead moves the head to whichever end of its travel is closer to angle
func (r *RemoteRig) SetHead(angle float64) error {
	far := angle > r.headMid
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.pending.head = &far
	return r.takeErr()
}

// SetEyes is a no-op: the firmware animates the eyes on its own
func (r *RemoteRig) SetEyes(brightness float64) error {
	return nil
}

// Limits returns the angle ranges reported by the firmware
func (r *RemoteRig) Limits() Limits {
	return r.limits
}

// Flushes returns how many flushes have sent at least one command
func (r *RemoteRig) Flushes() uint64 {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.flushes
}

func (r *RemoteRig) takeErr() error {
	err := r.lastErr
	r.lastErr = nil
	return err
}

// QueryAngles asks the firmware where the servos are
func (r *RemoteRig) QueryAngles() (pan, tilt float64, err error) {
	reply, err := r.request("angles")
	if err != nil {
		return 0, 0, err
	}
	v, err := parseNumbers(reply, 2)
	if err != nil {
		return 0, 0, err
	}
	return v[0], v[1], nil
}

// QueryLimits asks the firmware for its pan and tilt ranges
func (r *RemoteRig) QueryLimits() (Limits, error) {
	reply, err := r.request("limits")
	if err != nil {
		return Limits{}, err
	}
	v, err := parseNumbers(reply, 4)
	if err != nil {
		return Limits{}, err
	}
	return Limits{PanMin: v[0], PanMax: v[1], TiltMin: v[2], TiltMax: v[3]}, nil
}

// Flush sends whatever state is pending
func (r *RemoteRig) Flush() error {
	r.mutex.Lock()
	p := r.pending
	r.pending = remoteState{}
	r.mutex.Unlock()

	if p.angles == nil && p.laser == nil && p.head == nil {
		return nil
	}

	var errs []error
	if p.angles != nil {
		errs = append(errs, r.expectOK(fmt.Sprintf("(%.2f, %.2f)", p.angles[0], p.angles[1])))
	}
	if p.laser != nil {
		cmd := "off"
		if *p.laser {
			cmd = "on"
		}
		errs = append(errs, r.expectOK(cmd))
	}
	if p.head != nil {
		cmd := "h0"
		if *p.head {
			cmd = "h1"
		}
		errs = append(errs, r.expectOK(cmd))
	}

	err := errors.Join(errs...)
	r.mutex.Lock()
	r.flushes++
	if err != nil {
		r.lastErr = err
	}
	r.mutex.Unlock()

	if err != nil {
		debugMsg("RIG_ERROR", fmt.Sprintf("Flush to ESP32 failed: %v", err))
	}
	return err
}

func (r *RemoteRig) sender() {
	defer close(r.done)

	ticker := time.NewTicker(r.period)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.Flush()
		}
	}
}

// Close stops the sender, turns the laser off and ends the session
func (r *RemoteRig) Close() error {
	r.closeOnce.Do(func() {
		close(r.stop)
		<-r.done

		var errs []error
		if err := r.expectOK("off"); err != nil {
			errs = append(errs, fmt.Errorf("laser off: %w", err))
		}
		// the firmware drops the session right after replying
		r.request("quit")
		if err := r.conn.Close(); err != nil {
			errs = append(errs, err)
		}
		r.closeErr = errors.Join(errs...)
		debugMsg("RIG", "Remote rig closed")
	})
	return r.closeErr
}

func (r *RemoteRig) expectOK(cmd string) error {
	reply, err := r.request(cmd)
	if err != nil {
		return err
	}
	if reply != "1" {
		return fmt.Errorf("%w: %s: firmware replied %q", actuator.ErrHardwareIO, cmd, reply)
	}
	return nil
}

// request sends one command and reads one reply
func (r *RemoteRig) request(cmd string) (string, error) {
	r.ioMutex.Lock()
	defer r.ioMutex.Unlock()

	if dc, ok := r.conn.(interface{ SetDeadline(time.Time) error }); ok {
		dc.SetDeadline(time.Now().Add(r.timeout))
	}

	if _, err := r.conn.Write([]byte(cmd)); err != nil {
		return "", fmt.Errorf("%w: send %s: %w", actuator.ErrHardwareIO, cmd, err)
	}
	n, err := r.conn.Read(r.buf)
	if err != nil {
		return "", fmt.Errorf("%w: reply to %s: %w", actuator.ErrHardwareIO, cmd, err)
	}
	if n == 0 {
		return "", fmt.Errorf("%w: no reply to %s", actuator.ErrHardwareIO, cmd)
	}
	return strings.TrimSpace(string(r.buf[:n])), nil
}

// parseNumbers extracts exactly want numbers from a tuple reply
func parseNumbers(reply string, want int) ([]float64, error) {
	fields := strings.FieldsFunc(reply, func(c rune) bool {
		return !unicode.IsDigit(c) && c != '.' && c != '-'
	})
	if len(fields) != want {
		return nil, fmt.Errorf("%w: reply %q has %d numbers, want %d", actuator.ErrHardwareIO, reply, len(fields), want)
	}
	values := make([]float64, want)
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: reply %q: %w", actuator.ErrHardwareIO, reply, err)
		}
		values[i] = v
	}
	return values, nil
}
