package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teranos/croplink/am"
	"github.com/teranos/croplink/errors"
)

// AmCmd groups configuration commands
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: "Show and validate croplink configuration",
	Long: `am - croplink configuration

Configuration sources (later overrides earlier):
1. Built-in defaults
2. /etc/croplink/croplink.toml
3. ~/.croplink/croplink.toml
4. ./croplink.toml (searched upward from the working directory)
5. CROPLINK_* environment variables

Examples:
  croplink am show                  # Effective configuration as TOML
  croplink am show --format json
  croplink am validate`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration",
	Long:  "Render the merged configuration. Secrets such as agent.api_key are masked.",
	RunE:  runAmShow,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	RunE:  runAmValidate,
}

var configFormat string

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", am.FormatTOML, "Output format: toml, json, yaml")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amValidateCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	out, err := am.Render(am.GetViper(), configFormat)
	if err != nil {
		return err
	}

	if configFormat != am.FormatJSON {
		fmt.Fprintln(cmd.OutOrStdout(), "# croplink configuration")
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "configuration validation failed")
	}

	fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration is valid")
	return nil
}
