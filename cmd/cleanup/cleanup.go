// Package cleanup implements the cleanup command.
package cleanup

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rssrn/birdbird/internal/conf"
	"github.com/rssrn/birdbird/internal/pipeline"
	"github.com/rssrn/birdbird/internal/publish"
)

// Command creates the cleanup command.
func Command(settings *conf.Settings) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete published batches beyond the retention limit",
		Long:  "List the batches beyond publish.retention, newest kept, and delete them after confirmation.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, err := pipeline.Open(cmd.Context(), settings, pipeline.NeedStore)
			if err != nil {
				return err
			}
			defer runner.Close()

			out := cmd.OutOrStdout()
			confirm := Prompt(cmd.InOrStdin(), out)
			if yes {
				confirm = func(*publish.RetentionPlan) (bool, error) { return true, nil }
			}

			plan, deleted, err := runner.Cleanup(cmd.Context(), confirm)
			if err != nil {
				return err
			}
			switch {
			case len(plan.Delete) == 0:
				fmt.Fprintf(out, "%d batches published, within the retention limit of %d\n", len(plan.Keep), plan.Ceiling)
			case deleted:
				fmt.Fprintf(out, "Deleted %d batches\n", len(plan.Delete))
			default:
				fmt.Fprintln(out, "Nothing deleted")
			}
			for _, id := range plan.Incomplete {
				fmt.Fprintf(out, "Incomplete batch %s has no metadata.json; the next publish for that date takes it over\n", id)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Delete without asking for confirmation")
	return cmd
}

// Prompt returns a confirmation that lists the plan on w and reads a yes or
// no answer from r. Anything but y or yes declines.
func Prompt(r io.Reader, w io.Writer) pipeline.ConfirmFunc {
	return func(plan *publish.RetentionPlan) (bool, error) {
		fmt.Fprintf(w, "Keeping the newest %d batches. These will be deleted:\n", plan.Ceiling)
		for _, id := range plan.Delete {
			fmt.Fprintf(w, "  %s\n", id)
		}
		fmt.Fprint(w, "Delete them? [y/N] ")

		line, err := bufio.NewReader(r).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return false, err
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		default:
			return false, nil
		}
	}
}
