// Package main is the realtime-gateway command.
//
// COMMANDS:
//   - serve:   run the gateway (default when no command is given)
//   - status:  show a running gateway's sessions and budget
//   - costs:   print a day's ledger straight from storage
//   - end:     end one session, or all of them, on a running gateway
//   - version: print version information
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/compresr/realtime-gateway/internal/gateway"
)

// Set at build time via ldflags.
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	// A missing .env is normal; the environment may already carry the keys.
	_ = godotenv.Load()
	gateway.Version = version

	if err := newRootCmd().Execute(); err != nil {
		printError(err.Error())
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	serve := newServeCmd()

	root := &cobra.Command{
		Use:           "realtime-gateway",
		Short:         "Cost-controlled gateway for realtime voice sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
		// Running without a command serves, with serve's flags.
		RunE: serve.RunE,
	}
	root.Flags().AddFlagSet(serve.Flags())

	root.AddCommand(serve, newStatusCmd(), newCostsCmd(), newEndCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "realtime-gateway %s\n", version)
			fmt.Fprintf(out, "  Commit:  %s\n", commit)
			fmt.Fprintf(out, "  Built:   %s\n", buildDate)
		},
	}
}
