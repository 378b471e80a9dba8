package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/itellico/joi-sub010/internal/config"
)

var (
	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Static configuration",
	}
	configShowCmd = &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		RunE:  runConfigShow,
	}
	configInitCmd = &cobra.Command{
		Use:   "init",
		Short: "Write a config file holding the default values",
		RunE:  runConfigInit,
	}
)

func init() {
	configShowCmd.Flags().Bool("yaml", false, "Print as YAML")
	configInitCmd.Flags().String("format", "json", "File format: json or yaml")
	configInitCmd.Flags().String("path", "", "Target file (default: next to the active config)")
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing file")
	configCmd.AddCommand(configShowCmd, configInitCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	format := "json"
	if asYAML, _ := cmd.Flags().GetBool("yaml"); asYAML {
		format = "yaml"
	}
	data, err := config.Encode(cfg.Redacted(), format)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), strings.TrimRight(string(data), "\n"))
	return err
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	path, _ := cmd.Flags().GetString("path")
	force, _ := cmd.Flags().GetBool("force")

	var name string
	switch strings.ToLower(format) {
	case "json":
		name = config.ConfigFile
	case "yaml", "yml":
		name = "config.yaml"
	default:
		return fmt.Errorf("unknown format %q (want json or yaml)", format)
	}
	if path == "" {
		current, err := config.ConfigPath()
		if err != nil {
			return err
		}
		path = filepath.Join(filepath.Dir(current), name)
	}
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := config.Save(config.DefaultConfig(), path); err != nil {
		return err
	}
	if flagJSON {
		return printJSON(cmd.OutOrStdout(), map[string]string{"path": path})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}
