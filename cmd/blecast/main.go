package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blecast",
		Short: "Discover a Bluetooth LE audio peripheral and keep media flowing to it",
		Long: `blecast scans for nearby Bluetooth Low Energy peripherals, connects to the one
you pick and plays a media clip on the active audio route at a fixed interval
for as long as the connection lasts.

Radio backends: goble (CoreBluetooth/HCI), bluez (D-Bus), tinygo.`,
		Version: fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),
		// Silence Cobra's "Error:" prefix - main() prints clean errors
		SilenceErrors: true,
	}

	// Global flags
	cmd.PersistentFlags().String("config", "", "Path to a YAML config file")
	cmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().Bool("verbose", false, "Enable debug logging")
	cmd.PersistentFlags().String("backend", "", "Radio backend (goble, bluez, tinygo)")

	// Add -v as a short flag for --version
	cmd.Flags().BoolP("version", "v", false, "Show version information")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newScanCmd())
	return cmd
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		// Print user-friendly error message
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}
