// Package index implements the index command.
package index

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rssrn/birdbird/internal/conf"
	"github.com/rssrn/birdbird/internal/pipeline"
)

// Command creates the index command.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index <batch-id>",
		Short: "Add an uploaded batch to the index",
		Long: "Repeat only the index update for a batch whose assets are already uploaded,\n" +
			"for example after a publish that lost an index conflict.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, err := pipeline.Open(cmd.Context(), settings, pipeline.NeedStore)
			if err != nil {
				return err
			}
			defer runner.Close()

			ix, changed, err := runner.Reindex(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if changed {
				fmt.Fprintf(cmd.OutOrStdout(), "Index version %d now lists %s (%d batches)\n", ix.Version, args[0], len(ix.Batches))
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Index already lists %s\n", args[0])
			}
			return nil
		},
	}
	return cmd
}
