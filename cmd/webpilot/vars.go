package cli

import (
	"github.com/spf13/cobra"

	"github.com/webpilot/webpilot/internal/config"
)

// Shared CLI flags (used across multiple command files)
var (
	verbose  bool
	headless bool
)

// Cfg holds the loaded configuration store (set by main).
var Cfg *config.Store

// SetupRootCmd configures the root command with all subcommands and flags.
func SetupRootCmd(store *config.Store) *cobra.Command {
	Cfg = store

	rootCmd := &cobra.Command{
		Use:   "webpilot",
		Short: "WebPilot - Chrome automation runner",
		Long: `WebPilot drives scripted automation sessions against Chrome instances
exposing a remote debugging port.

Just type 'webpilot' to open the control window.
Use --headless to serve the control UI without a native window.`,
		Run: func(cmd *cobra.Command, args []string) {
			if headless {
				RunHeadless()
			} else {
				RunDesktop()
			}
		},
	}

	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Root-only flags
	rootCmd.Flags().BoolVar(&headless, "headless", false, "serve the control UI without a native window")

	rootCmd.AddCommand(ServeCmd())
	rootCmd.AddCommand(RunCmd())
	rootCmd.AddCommand(DoctorCmd())

	return rootCmd
}
