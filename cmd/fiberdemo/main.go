// Package main provides fiberdemo, a CLI driving a synthetic tree through the fiber scheduler.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "fiberdemo",
		Short: "Drive a synthetic fiber tree through the cooperative scheduler",
		Long: `fiberdemo renders a generated tree on a simulated clock and prints what the
work loop did: every unit of work, every yield, interruption and commit.

Commands:
  run       Render a synthetic tree and print the trace
  config    Print the effective configuration`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a fiber.yaml config file")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newConfigCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
