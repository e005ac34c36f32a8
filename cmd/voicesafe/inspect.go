package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/skypro1111/voicesafe/internal/audio"
	"github.com/skypro1111/voicesafe/internal/level"
)

func newInspectCmd(flags *globalFlags) *cobra.Command {
	var threshold float32

	cmd := &cobra.Command{
		Use:   "inspect FILE.wav",
		Short: "Show format and level of a WAV file",
		Long:  "Decodes a PCM WAV file and reports its format, peak and RMS level, and whether it would be discarded as silent.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("threshold") {
				cfg, err := loadConfig(cmd, flags)
				if err != nil {
					return err
				}
				threshold = cfg.Policy.SilenceThreshold
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}

			info, err := audio.GetWAVInfo(data)
			if err != nil {
				return fmt.Errorf("invalid WAV file: %w", err)
			}
			samples, _, err := audio.DecodeFloat(data)
			if err != nil {
				return fmt.Errorf("failed to decode %s: %w", args[0], err)
			}

			meter, err := level.NewMeter(threshold)
			if err != nil {
				return err
			}
			reading := meter.Measure(samples)

			return printJSON(cmd.OutOrStdout(), map[string]any{
				"file":      args[0],
				"format":    info,
				"level":     reading,
				"threshold": threshold,
			})
		},
	}

	cmd.Flags().Float32Var(&threshold, "threshold", 0.02, "Silence threshold (defaults to policy.silence_threshold)")

	return cmd
}
