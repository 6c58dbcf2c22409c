// Package cmd defines and implements the CLI commands for the chimerad
// executable.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/voxleads/chimera/internal/mission"
)

// Process exit codes. Orchestrators key restart policy off these, so the
// trust gate and queue failures must stay distinguishable from generic
// errors.
const (
	ExitOK          = 0
	ExitError       = 1
	ExitQueueDown   = 6
	ExitGateRefused = 7
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chimerad",
		Short: "Mission dispatch and stealth execution daemon",
		Long: `chimerad runs the lead-enrichment mission pipeline: an HTTP control
plane accepts missions onto a queue, and a pool of stealth browser workers
executes them against data-provider sites, reporting structured results and
telemetry back through the same queue.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSeedCmd())
	cmd.AddCommand(newGateCmd())

	return cmd
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "chimerad:", err)
		switch {
		case errors.Is(err, mission.ErrQueueUnavailable):
			return ExitQueueDown
		case errors.Is(err, mission.ErrTrustGateFailed):
			return ExitGateRefused
		}
		return ExitError
	}
	return ExitOK
}
