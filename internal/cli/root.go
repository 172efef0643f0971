// Package cli wires the flightline command tree.
package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/flightline/flightline/internal/cli.version=1.2.3"
	version = "0.4.1"
	logo    = "\n" +
		"  _____ _ _       _     _   _ _\n" +
		" |  ___| (_) __ _| |__ | |_| (_)_ __   ___\n" +
		" | |_  | | |/ _` | '_ \\| __| | | '_ \\ / _ \\\n" +
		" |  _| | | | (_| | | | | |_| | | | | |  __/\n" +
		" |_|   |_|_|\\__, |_| |_|\\__|_|_|_| |_|\\___|\n" +
		"            |___/\n"
)

var rootCmd = &cobra.Command{
	Use:   "flightline",
	Short: "Flightline - shared plane store and mailbox job relay",
	Long:  color.CyanString(logo) + "\nA shared document store and mailbox job relay for cooperating agents.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func printHeader(title string) {
	fmt.Println(color.CyanString(logo))
	if title != "" {
		fmt.Println(title)
		fmt.Println("─────────────────────")
	}
}
