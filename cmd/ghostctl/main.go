// Command ghostctl is a terminal client for a ghost server.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "ghostctl",
	Short:         "ghost messaging CLI",
	Long:          "Command-line client for ghost.\nSend and follow direct messages, list contacts and notifications.",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
