package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gocv.io/x/gocv"

	"lasertrack/detection"
)

var detectOpts struct {
	Output   string
	Strategy string
	Backend  string
}

var detectCmd = &cobra.Command{
	Use:   "detect <image>...",
	Short: "Run the spot detector on still images",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if detectOpts.Backend != "" {
			cfg.Detection.Backend = detectOpts.Backend
		}
		strategy, err := detection.ParseStrategy(detectOpts.Strategy)
		if err != nil {
			return err
		}

		detector, err := detection.New(cfg.DetectionConfig())
		if err != nil {
			return fmt.Errorf("failed to create detector: %w", err)
		}
		defer detector.Close()

		if detectOpts.Output != "" {
			if err := os.MkdirAll(detectOpts.Output, 0755); err != nil {
				return err
			}
		}

		hint := detection.DetectorState{Strategy: strategy}
		found := 0
		for _, path := range args {
			img := gocv.IMRead(path, gocv.IMReadColor)
			if img.Empty() {
				img.Close()
				return fmt.Errorf("could not read image %s", path)
			}

			det, annotated := detector.Detect(img, hint)
			fmt.Printf("%s: %s\n", path, det)
			if det.Found {
				found++
			}

			if detectOpts.Output != "" && !annotated.Empty() {
				out := filepath.Join(detectOpts.Output, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))+"_detect.jpg")
				if ok := gocv.IMWrite(out, annotated); !ok {
					logger.Msg("DETECT", fmt.Sprintf("Failed to write %s", out))
				}
			}
			annotated.Close()
			img.Close()
		}

		fmt.Printf("Laser found in %d of %d images\n", found, len(args))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(detectCmd)

	detectCmd.Flags().StringVarP(&detectOpts.Output, "output", "o", "", "Directory for annotated images")
	detectCmd.Flags().StringVarP(&detectOpts.Strategy, "strategy", "s", "", "Strategy to try first: red, green, grayscale or neural")
	detectCmd.Flags().StringVar(&detectOpts.Backend, "backend", "", "Detector backend: classical, neural or auto")
}
