package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print one artifact payload",
		Long: `Print the full stored payload of one artifact. Falls back to a
partition scan when the index entry is missing.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(rootOpts, args[0], cmd)
		},
	}
}

func runShow(opts *RootOptions, runID string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	led, err := openLedger(opts)
	if err != nil {
		return err
	}

	art, err := led.GetRun(runID)
	if err != nil {
		return reportLedgerError(formatter, err)
	}

	if formatter.Format == "json" {
		return formatter.Success(art)
	}
	// Text mode still prints the payload as indented JSON; the
	// artifact is the interesting output, not a summary of it.
	data, err := json.MarshalIndent(art, "", "  ")
	if err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}
	return formatter.Success(string(data))
}
