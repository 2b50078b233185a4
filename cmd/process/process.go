// Package process implements the process command.
package process

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rssrn/birdbird/cmd/publish"
	"github.com/rssrn/birdbird/internal/conf"
	"github.com/rssrn/birdbird/internal/pipeline"
)

// Command creates the process command.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		andPublish bool
		mode       publish.ModeFlags
	)

	cmd := &cobra.Command{
		Use:   "process <batch-dir>",
		Short: "Build the highlights reel and best windows for a batch",
		Long: "Read the clips and detector output of a batch directory, cut the active segments into a\n" +
			"highlights reel and pick the best viewing window per species.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			needs := pipeline.NeedTranscoder
			if andPublish {
				needs |= pipeline.NeedStore
			}
			runner, err := pipeline.Open(cmd.Context(), settings, needs)
			if err != nil {
				return err
			}
			defer runner.Close()

			batch, err := runner.Process(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			s := batch.Summary
			fmt.Fprintf(out, "Reel %s: %.1fs from %.1fs of footage (%d of %d clips, %d segments)\n",
				batch.ReelPath, s.HighlightsDuration, s.OriginalDuration, s.ActiveClipCount, s.ClipCount, s.SegmentCount)
			for _, ex := range s.Excluded {
				fmt.Fprintf(out, "  excluded %s: %s\n", ex.ClipID, ex.Reason)
			}

			if !andPublish {
				return nil
			}
			report, err := runner.Publish(cmd.Context(), batch, mode.Mode())
			if err != nil {
				return err
			}
			publish.PrintReport(out, report)
			return nil
		},
	}

	cmd.Flags().BoolVar(&andPublish, "publish", false, "Publish the batch after processing")
	mode.Bind(cmd)
	return cmd
}
