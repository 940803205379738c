package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "flowsim",
	Short: "Compile and simulate system dynamics models",
	Long:  "flowsim compiles stock-and-flow models to bytecode and runs them on a deterministic virtual machine",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initLogging(logLevel)
	},
}

// initLogging routes zerolog through a console writer on stderr so the
// simulation output on stdout stays machine-readable.
func initLogging(levelName string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	level, err := zerolog.ParseLevel(levelName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level '%s', using 'info'\n", levelName)
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Set log level (trace, debug, info, warn, error)")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
