// Command shotlink pairs shot timer records with sensor impacts.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set by the release build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "shotlink",
		Short:         "Correlate shot timer events with impact sensor readings.",
		Long:          `shotlink keeps links to a shot timer and motion sensors, detects impacts and reports the delay between each shot and its impact.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
	}
	root.AddCommand(newRunCmd(), newDecodeCmd(), newVersionCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "shotlink:", err)
		os.Exit(1)
	}
}
