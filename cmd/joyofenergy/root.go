package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// set with -ldflags "-X main.version=..."
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "joyofenergy",
	Short: "Joy of Energy meter readings server",
	Long: `joyofenergy accepts electricity readings from smart meters over HTTP/1.1
and serves them back per meter.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "joyofenergy %s %s/%s %s\n", version, runtime.GOOS, runtime.GOARCH, runtime.Version())
	},
}

func init() {
	rootCmd.SetVersionTemplate("joyofenergy version {{.Version}}\n")
	rootCmd.AddCommand(versionCmd)
}
