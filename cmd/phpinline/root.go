package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "phpinline",
	Short: "Evaluate PHP inline as you type",
	Long: `phpinline runs the PHP statement under your cursor and shows its output, or
the interpreter's error, at the end of the line.

It runs as a language server for editors (lsp), a file watcher for terminals
(watch), a one-shot evaluator (run), or an HTTP API (serve).`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().String("config", defaultConfigPath(), "Path to the YAML config file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error (overrides the config file)")
}

// defaultConfigPath is phpinline/config.yaml under the user config dir.
func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "phpinline.yaml"
	}
	return dir + string(os.PathSeparator) + "phpinline" + string(os.PathSeparator) + "config.yaml"
}
