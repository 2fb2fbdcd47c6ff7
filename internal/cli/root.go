// Package cli implements the gantry command tree over the artifact
// ledger, lineage validator and promotion engine.
package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/gantry/internal/ledger"
	"github.com/roach88/gantry/internal/logging"
)

// RootOptions holds global flags shared by all commands.
type RootOptions struct {
	Verbose   bool
	Format    string // "json" | "text"
	Root      string // artifact root directory
	RateLimit int    // max deletes per minute, 0 disables
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the gantry CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "gantry",
		Short: "Run artifact governance and provenance store",
		Long: `gantry stores, queries and governs the immutable artifacts produced
by machining decision runs: classification, lineage, deletion audit
and promotion gating.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			logging.Setup(opts.Verbose, opts.Format, cmd.ErrOrStderr())
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Root, "root", ".", "artifact root directory")

	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewRebuildCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewLineageCommand(opts))
	cmd.AddCommand(NewPromoteCommand(opts))
	cmd.AddCommand(NewAuditCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// openLedger opens the artifact store at the configured root.
func openLedger(opts *RootOptions) (*ledger.Ledger, error) {
	var lopts []ledger.Option
	lopts = append(lopts, ledger.WithLogger(logging.New("ledger")))
	if opts.RateLimit > 0 {
		lopts = append(lopts, ledger.WithDeleteRateLimit(opts.RateLimit, time.Minute))
	}
	led, err := ledger.Open(opts.Root, lopts...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("open artifact root %s", opts.Root), err)
	}
	return led, nil
}

// newFormatter builds the output formatter for a command invocation.
func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}
