// Package publish implements the publish command.
package publish

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rssrn/birdbird/internal/conf"
	"github.com/rssrn/birdbird/internal/pipeline"
	pub "github.com/rssrn/birdbird/internal/publish"
)

// ModeFlags holds the --new and --replace flags shared by commands that publish.
type ModeFlags struct {
	New     bool
	Replace bool
}

// Bind registers the flags on cmd.
func (f *ModeFlags) Bind(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.New, "new", false, "Always publish as a new batch for the date")
	cmd.Flags().BoolVar(&f.Replace, "replace", false, "Overwrite the latest batch for the date")
	cmd.MarkFlagsMutuallyExclusive("new", "replace")
}

// Mode returns the batch ID mode selected by the flags.
func (f *ModeFlags) Mode() pub.Mode {
	switch {
	case f.New:
		return pub.ModeNew
	case f.Replace:
		return pub.ModeReplace
	default:
		return pub.ModeAuto
	}
}

// Command creates the publish command.
func Command(settings *conf.Settings) *cobra.Command {
	var mode ModeFlags

	cmd := &cobra.Command{
		Use:   "publish <batch-dir>",
		Short: "Upload a processed batch and update the index",
		Long: "Upload the reel, windows and metadata of a batch processed earlier, then add it to the index.\n" +
			"Republishing identical content reuses the existing batch ID.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, err := pipeline.Open(cmd.Context(), settings, pipeline.NeedStore)
			if err != nil {
				return err
			}
			defer runner.Close()

			batch, err := runner.LoadBatch(args[0])
			if err != nil {
				return err
			}
			report, err := runner.Publish(cmd.Context(), batch, mode.Mode())
			if err != nil {
				return err
			}
			PrintReport(cmd.OutOrStdout(), report)
			return nil
		},
	}

	mode.Bind(cmd)
	return cmd
}

// PrintReport writes a short human summary of a publish.
func PrintReport(w io.Writer, report *pipeline.PublishReport) {
	res := report.Result
	switch {
	case res.Reused && len(res.Uploaded) == 0:
		fmt.Fprintf(w, "Batch %s is already published with identical content\n", res.BatchID)
	case res.Reused:
		fmt.Fprintf(w, "Batch %s re-uploaded: %s\n", res.BatchID, strings.Join(res.Uploaded, ", "))
	default:
		fmt.Fprintf(w, "Published batch %s (%d uploaded, %d unchanged)\n", res.BatchID, len(res.Uploaded), len(res.Skipped))
	}
	if res.IndexChanged {
		fmt.Fprintf(w, "Index version %d, latest %s\n", res.Index.Version, res.Index.Latest)
	}

	if report.Retention != nil && len(report.Retention.Delete) > 0 {
		fmt.Fprintf(w, "%d batches exceed the retention limit of %d; run 'birdbird cleanup' to delete:\n",
			len(report.Retention.Delete), report.Retention.Ceiling)
		for _, id := range report.Retention.Delete {
			fmt.Fprintf(w, "  %s\n", id)
		}
	}
}
