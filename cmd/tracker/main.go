// Command tracker drives the storefront telemetry engine outside a browser.
// It replays recorded interaction samples through a session and ships the
// result to the ingest API, using the same local state a page load would.
//
// Usage:
//
//	tracker replay --url https://shop.example/products/shoe samples.jsonl
//	tracker reset
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "tracker",
		Short:        "Storefront behavioral telemetry engine",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newReplayCmd())
	rootCmd.AddCommand(newResetCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
