// Command zerowire converts Arrow IPC data into protobuf records and sends
// them to an ingest endpoint, reporting per-row failures.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "zerowire",
		Short: "zerowire - columnar batch to protobuf stream ingestion",
		Long: `zerowire converts columnar batches into protobuf wire records and streams
them to an ingest service with retries, per-row failure isolation and optional
rotating debug mirrors of every batch.`,
		SilenceUsage: true,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "zerowire v%s\n", version)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(newSendCommand())
	root.AddCommand(newSchemaCommand())
	root.AddCommand(newDebugCommand())
	root.AddCommand(newConfigCommand())
	return root
}
