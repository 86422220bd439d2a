package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"lasertrack/ptz"
)

var servoOpts struct {
	RigMode string
	Hold    time.Duration
	Laser   bool
}

var servoCmd = &cobra.Command{
	Use:       "servo <pan|tilt|head|all>",
	Short:     "Move one actuator through its travel to check wiring and limits",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"pan", "tilt", "head", "all"},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if servoOpts.RigMode != "" {
			cfg.Rig.Mode = servoOpts.RigMode
		}

		rig, err := ptz.NewRig(cfg.RigConfig())
		if err != nil {
			return fmt.Errorf("failed to start %s rig: %w", cfg.Rig.Mode, err)
		}
		defer rig.Close()

		limits := rig.Limits()
		panMid := (limits.PanMin + limits.PanMax) / 2
		tiltMid := (limits.TiltMin + limits.TiltMax) / 2

		var moves []servoMove
		switch args[0] {
		case "pan":
			moves = sweep("pan", limits.PanMin, limits.PanMax, func(a float64) error { return rig.SetAngles(a, tiltMid) })
		case "tilt":
			moves = sweep("tilt", limits.TiltMin, limits.TiltMax, func(a float64) error { return rig.SetAngles(panMid, a) })
		case "head":
			moves = sweep("head", cfg.Rig.HeadMin, cfg.Rig.HeadMax, rig.SetHead)
		case "all":
			moves = append(moves, sweep("pan", limits.PanMin, limits.PanMax, func(a float64) error { return rig.SetAngles(a, tiltMid) })...)
			moves = append(moves, sweep("tilt", limits.TiltMin, limits.TiltMax, func(a float64) error { return rig.SetAngles(panMid, a) })...)
			moves = append(moves, sweep("head", cfg.Rig.HeadMin, cfg.Rig.HeadMax, rig.SetHead)...)
		default:
			return fmt.Errorf("unknown servo %q", args[0])
		}

		fmt.Printf("Limits: %s\n", limits)
		if servoOpts.Laser {
			if err := rig.SetLaser(true); err != nil {
				return err
			}
			defer rig.SetLaser(false)
		}

		for _, m := range moves {
			fmt.Printf("Moving %s to %.1f°\n", m.name, m.angle)
			if err := m.apply(m.angle); err != nil {
				return fmt.Errorf("%s to %.1f: %w", m.name, m.angle, err)
			}
			if err := sleepCtx(ctx, servoOpts.Hold); err != nil {
				fmt.Println("Interrupted")
				return nil
			}
		}
		fmt.Println("Servo test complete")
		return nil
	},
}

type servoMove struct {
	name  string
	angle float64
	apply func(float64) error
}

// sweep visits min, max and the middle of the travel
func sweep(name string, min, max float64, apply func(float64) error) []servoMove {
	angles := []float64{min, max, (min + max) / 2}
	moves := make([]servoMove, len(angles))
	for i, a := range angles {
		moves[i] = servoMove{name: name, angle: a, apply: apply}
	}
	return moves
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func init() {
	rootCmd.AddCommand(servoCmd)

	servoCmd.Flags().StringVar(&servoOpts.RigMode, "rig", "", "Actuator backend: direct, remote or sim")
	servoCmd.Flags().DurationVar(&servoOpts.Hold, "hold", time.Second, "Time to hold each position")
	servoCmd.Flags().BoolVar(&servoOpts.Laser, "laser", false, "Keep the laser on during the sweep")
}
