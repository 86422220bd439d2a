package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"lasertrack/actuator"
	"lasertrack/broadcast"
	"lasertrack/calibration"
	"lasertrack/config"
	"lasertrack/debug"
	"lasertrack/detection"
	"lasertrack/overlay"
	"lasertrack/pipeline"
	"lasertrack/ptz"
	"lasertrack/tracking"
)

var (
	// cfg is the loaded configuration shared by subcommands
	cfg config.Config
	// logger receives the debug output of every package
	logger *debug.Logger

	configPath string
	debugMode  bool
	verbose    bool
)

// Version is the application version.
const Version = "0.3.0"

var rootCmd = &cobra.Command{
	Use:          "lasertrack",
	Short:        "Laser spot tracker for the pan/tilt doll rig",
	Version:      Version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if configPath != "" {
			cfg, err = config.Load(configPath)
			if err != nil {
				return err
			}
		} else {
			cfg = config.Default()
		}
		if debugMode {
			cfg.Debug.Enabled = true
		}
		if verbose {
			cfg.Debug.Verbose = true
		}

		logger = debug.NewLogger(os.Stdout, cfg.Debug.Verbose)
		wireDebug(logger.Msg)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logger.Close()
		}
	},
}

// wireDebug points every package at the same logger
func wireDebug(fn func(string, string, ...string)) {
	actuator.SetDebugFunction(fn)
	detection.SetDebugFunction(fn)
	tracking.SetDebugFunction(fn)
	ptz.SetDebugFunction(fn)
	overlay.SetDebugFunction(fn)
	pipeline.SetDebugFunction(fn)
	broadcast.SetDebugFunction(fn)
	calibration.SetDebugFunction(fn)
}

func Execute() {
	// Ctrl+C or SIGTERM cancel the command context, which stops the loop and
	// lets the rig switch the laser off
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file (default: built-in settings)")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Write a session log and save annotated frames")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Print per-frame diagnostics")
}
