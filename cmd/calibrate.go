package cmd

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/spf13/cobra"

	"lasertrack/calibration"
	"lasertrack/detection"
	"lasertrack/pipeline"
	"lasertrack/ptz"
)

var calibrateOpts struct {
	Device  string
	RigMode string
	Output  string
	Settle  time.Duration
	Frames  int
}

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Measure pixels per degree and direction of both axes",
	Long: `Sweeps pan and then tilt around the centre of their travel with the laser on,
locates the dot after every move and fits pixel position against angle.
The result can be referenced from the controller.calibration setting.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if calibrateOpts.Device != "" {
			cfg.Camera.Device = calibrateOpts.Device
		}
		if calibrateOpts.RigMode != "" {
			cfg.Rig.Mode = calibrateOpts.RigMode
		}

		detector, err := detection.New(cfg.DetectionConfig())
		if err != nil {
			return fmt.Errorf("failed to create detector: %w", err)
		}
		defer detector.Close()

		rig, err := ptz.NewRig(cfg.RigConfig())
		if err != nil {
			return fmt.Errorf("failed to start %s rig: %w", cfg.Rig.Mode, err)
		}
		defer rig.Close()

		src, err := pipeline.OpenCapture(cfg.Camera.Device, nil)
		if err != nil {
			return err
		}
		defer src.Close()

		spot := captureSpot(src, detector, calibrateOpts.Frames)
		calibrator := calibration.NewCalibrator(rig, spot, nil, calibrateOpts.Settle)

		result, err := calibrator.Run(ctx)
		if err != nil {
			return fmt.Errorf("calibration failed: %w", err)
		}

		fmt.Print(result.Table())
		if err := result.Save(calibrateOpts.Output); err != nil {
			return err
		}
		fmt.Printf("Saved to %s\n", calibrateOpts.Output)
		return nil
	},
}

// captureSpot skips frames that may predate the last move and reports the
// spot in the first fresh one
func captureSpot(src pipeline.FrameSource, detector detection.Detector, skip int) calibration.SpotFunc {
	var hint detection.DetectorState
	return func(ctx context.Context) (image.Point, bool, error) {
		for i := 0; ; i++ {
			select {
			case <-ctx.Done():
				return image.Point{}, false, ctx.Err()
			case f, ok := <-src.Frames():
				if !ok {
					if err := src.Err(); err != nil {
						return image.Point{}, false, err
					}
					return image.Point{}, false, errors.New("camera closed")
				}
				if i < skip {
					f.Mat.Close()
					continue
				}
				det, annotated := detector.Detect(f.Mat, hint)
				annotated.Close()
				f.Mat.Close()
				hint = hint.Observe(det)
				return det.Center, det.Found, nil
			}
		}
	}
}

func init() {
	rootCmd.AddCommand(calibrateCmd)

	calibrateCmd.Flags().StringVarP(&calibrateOpts.Device, "device", "d", "", "Camera index, device path or stream URL")
	calibrateCmd.Flags().StringVar(&calibrateOpts.RigMode, "rig", "", "Actuator backend: direct, remote or sim")
	calibrateCmd.Flags().StringVarP(&calibrateOpts.Output, "output", "o", "calibration/pxdeg.json", "Where to write the result")
	calibrateCmd.Flags().DurationVar(&calibrateOpts.Settle, "settle", 400*time.Millisecond, "Time the servos get to reach each angle")
	calibrateCmd.Flags().IntVar(&calibrateOpts.Frames, "skip-frames", 2, "Frames discarded after each move")
}
