// Package cli implements the joigov command line.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/itellico/joi-sub010/internal/cli.version=1.2.3"
	version = "0.4.0"
	logo    = "\n" +
		"      _       _                       \n" +
		"     | | ___ (_)   __ _  _____   __   \n" +
		"  _  | |/ _ \\| |  / _` |/ _ \\ \\ / /\n" +
		" | |_| | (_) | | | (_| | (_) \\ V /   \n" +
		"  \\___/ \\___/|_|  \\__, |\\___/ \\_/ \n" +
		"                  |___/               \n"
)

var (
	flagJSON    bool
	flagLogJSON bool
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:           "joigov",
	Short:         "joigov - agent quality and soul governance",
	Long:          color.CyanString(logo) + "\nScores live agent turns, files quality issues and canaries soul changes.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(cmd.ErrOrStderr())
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagJSON {
			return printJSON(cmd.OutOrStdout(), map[string]string{"version": version})
		}
		printHeader(cmd.OutOrStdout(), "joigov version")
		fmt.Fprintf(cmd.OutOrStdout(), "Version: %s\n", version)
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Output machine-readable JSON")
	rootCmd.PersistentFlags().BoolVar(&flagLogJSON, "log-json", false, "Emit logs as JSON")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.AddCommand(versionCmd)
}

func setupLogging(w io.Writer) {
	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewTextHandler(w, opts)
	if flagLogJSON {
		h = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(h))
}
