package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"lasertrack/broadcast"
	"lasertrack/calibration"
	"lasertrack/debug"
	"lasertrack/detection"
	"lasertrack/overlay"
	"lasertrack/pipeline"
	"lasertrack/ptz"
	"lasertrack/tracking"
)

var runOpts struct {
	Device    string
	Target    string
	RigMode   string
	Backend   string
	Telemetry string
	Overlay   bool
	Terminal  bool
	NoLaser   bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Track the laser dot and steer it onto the target",
	Long: `Captures frames from the camera, finds the laser dot, smooths its position
and moves the pan/tilt mount so the dot lands on the target (the frame centre
unless --target is given). Snapshots are streamed on /ws when telemetry is on.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		flags := cmd.Flags()

		if flags.Changed("device") {
			cfg.Camera.Device = runOpts.Device
		}
		if flags.Changed("target") {
			cfg.Camera.Target = runOpts.Target
		}
		if flags.Changed("rig") {
			cfg.Rig.Mode = runOpts.RigMode
		}
		if flags.Changed("backend") {
			cfg.Detection.Backend = runOpts.Backend
		}
		if flags.Changed("telemetry") {
			cfg.Telemetry.Addr = runOpts.Telemetry
		}
		if flags.Changed("overlay") {
			cfg.Debug.Overlay = runOpts.Overlay
		}
		if flags.Changed("terminal") {
			cfg.Debug.Terminal = runOpts.Terminal
		}
		if runOpts.NoLaser {
			cfg.Controller.LaserEnabled = false
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		target, err := cfg.TargetPoint()
		if err != nil {
			return err
		}

		ctrlCfg := cfg.ControllerConfig()
		if path := cfg.Controller.Calibration; path != "" {
			result, err := calibration.Load(path)
			if err != nil {
				return err
			}
			result.ApplyTo(&ctrlCfg)
			logger.Msg("MAIN", fmt.Sprintf("Loaded calibration from %s (%s)", path, result.Timestamp.Format(time.RFC3339)))
		}

		if cfg.Debug.Enabled {
			name := fmt.Sprintf("session_%s.log", time.Now().Format("20060102_150405"))
			if err := logger.OpenFile(cfg.Debug.LogDir, name); err != nil {
				return err
			}
		}

		detector, err := detection.New(cfg.DetectionConfig())
		if err != nil {
			return fmt.Errorf("failed to create detector: %w", err)
		}
		defer detector.Close()

		filter, err := tracking.NewFilter(cfg.FilterConfig())
		if err != nil {
			return err
		}
		controller, err := ptz.NewController(ctrlCfg)
		if err != nil {
			return err
		}

		rig, err := ptz.NewRig(cfg.RigConfig())
		if err != nil {
			return fmt.Errorf("failed to start %s rig: %w", cfg.Rig.Mode, err)
		}
		defer func() {
			if err := rig.Close(); err != nil {
				logger.Msg("RIG_ERROR", fmt.Sprintf("Rig close: %v", err))
			}
		}()

		stats := pipeline.NewStats()
		src, err := pipeline.OpenCapture(cfg.Camera.Device, stats)
		if err != nil {
			return err
		}
		defer src.Close()

		opts := pipeline.Options{
			Stats:         stats,
			StatsInterval: time.Duration(cfg.Debug.StatsInterval),
		}
		if cfg.Debug.Overlay {
			opts.Renderer = overlay.NewRenderer()
			if cfg.Debug.Terminal {
				opts.Terminal = logger
			}
		}
		if cfg.Debug.Enabled {
			saver, err := debug.NewFrameSaver(cfg.Debug.FrameDir, 2, 60, logger.Msg)
			if err != nil {
				return err
			}
			defer saver.Stop()
			opts.Saver = saver
			if opts.Renderer == nil {
				opts.Renderer = overlay.NewRenderer()
			}
		}
		if addr := cfg.Telemetry.Addr; addr != "" {
			hub := broadcast.NewHub()
			defer hub.Close()
			opts.Publisher = hub
			go func() {
				if err := hub.ListenAndServe(ctx, addr); err != nil {
					logger.Msg("TELEMETRY", fmt.Sprintf("Telemetry server stopped: %v", err))
				}
			}()
		}

		var targets pipeline.TargetSource = pipeline.CenterTarget{}
		if target != nil {
			targets = pipeline.FixedTarget{Point: *target}
		}

		logger.Msg("MAIN", fmt.Sprintf("Tracking on camera %s with %s rig, backend %s, target %s",
			cfg.Camera.Device, cfg.Rig.Mode, cfg.Detection.Backend, cfg.Camera.Target))

		tracker := pipeline.NewTracker(detector, filter, controller, rig, opts)
		if err := tracker.Run(ctx, src, targets); err != nil {
			return err
		}

		logger.Msg("MAIN", fmt.Sprintf("Stopped after frame %d with %d rig errors",
			tracker.Last().Seq, tracker.RigErrors()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runOpts.Device, "device", "d", "", "Camera index, device path or stream URL")
	runCmd.Flags().StringVarP(&runOpts.Target, "target", "t", "", `Target pixel as "x,y", or "center"`)
	runCmd.Flags().StringVar(&runOpts.RigMode, "rig", "", "Actuator backend: direct, remote or sim")
	runCmd.Flags().StringVar(&runOpts.Backend, "backend", "", "Detector backend: classical, neural or auto")
	runCmd.Flags().StringVar(&runOpts.Telemetry, "telemetry", "", "Listen address for the snapshot websocket, empty disables it")
	runCmd.Flags().BoolVar(&runOpts.Overlay, "overlay", false, "Draw tracking overlay on annotated frames")
	runCmd.Flags().BoolVar(&runOpts.Terminal, "terminal", false, "Draw the log terminal on the overlay")
	runCmd.Flags().BoolVar(&runOpts.NoLaser, "no-laser", false, "Move the mount but keep the laser off")
}
