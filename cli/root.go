// Package cli implements the tvremote command-line interface using Cobra.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagDataDir  string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:   "tvremote",
	Short: "Control a networked television from the terminal",
	Long: `tvremote discovers televisions on the local network, pairs with them using
the code shown on screen and sends key presses, pointer movement, text and URLs
over a mutually authenticated TLS channel.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if flagDataDir != "" {
			if err := os.Setenv(dataDirEnv, flagDataDir); err != nil {
				return err
			}
		}
		setupLogging(flagLogLevel)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "data directory (overrides "+dataDirEnv+")")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
