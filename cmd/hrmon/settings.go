package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/srg/hrmon/pkg/config"
	"gopkg.in/yaml.v3"
)

// loadSettings reads the --config document and applies HRMON_* overrides.
// A relative webhook file is resolved next to the settings file.
func loadSettings() (*config.Settings, error) {
	s, err := config.LoadSettings(settingsPath)
	if err != nil {
		return nil, err
	}
	if err := s.ApplyEnv(); err != nil {
		return nil, err
	}
	if s.Webhooks.File != "" && !filepath.IsAbs(s.Webhooks.File) {
		s.Webhooks.File = filepath.Join(filepath.Dir(settingsPath), s.Webhooks.File)
	}
	return s, nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or create the settings file",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective settings",
	Long: `Prints the settings after defaults and HRMON_* overrides are applied,
followed by any validation problems.`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a settings file with default values",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

var (
	configFormat string
	configForce  bool
)

func init() {
	configShowCmd.Flags().StringVarP(&configFormat, "format", "f", "json", "Output format (json, yaml)")
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing file")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	if configFormat != "json" && configFormat != "yaml" {
		return fmt.Errorf("invalid format '%s': must be one of [json yaml]", configFormat)
	}
	cmd.SilenceUsage = true

	s, err := loadSettings()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch configFormat {
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(s); err != nil {
			return err
		}
		if err := enc.Close(); err != nil {
			return err
		}
	default:
		if err := writeJSON(out, s); err != nil {
			return err
		}
	}

	if err := s.Validate(); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %s\n", flatten(err))
	}
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	if _, err := os.Stat(settingsPath); err == nil && !configForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", settingsPath)
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	if err := config.SaveSettings(settingsPath, config.DefaultSettings()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote default settings to %s\n", settingsPath)
	return nil
}
