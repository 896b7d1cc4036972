// Command storyshot snapshots Storybook stories in a headless browser and
// compares them with the baselines on disk.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "storyshot",
	Short:         "Visual regression tests for Storybook stories",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./storyshot.{yaml,toml,json})")
	rootCmd.AddCommand(newRunCmd(), newCaptureCmd(nil), newStoriesCmd(), newListCmd(), newServeCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "storyshot:", err)
		os.Exit(1)
	}
}
