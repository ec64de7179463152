package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cellemitter/emitter/internal/config"
)

// NewConfigCommand creates the config command
func NewConfigCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage emitter configuration",
	}

	cmd.AddCommand(NewConfigShowCommand(opts))
	cmd.AddCommand(NewConfigInitCommand())
	cmd.AddCommand(NewConfigValidateCommand(opts))

	return cmd
}

// NewConfigShowCommand creates the config show command
func NewConfigShowCommand(opts *rootOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Long:  `Display the configuration after merging defaults, the config file, environment variables and flags.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}

			data, err := config.Encode(cfg, format)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "toml", "Output format (toml, yaml)")

	return cmd
}

// NewConfigInitCommand creates the config init command
func NewConfigInitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init <path>",
		Short: "Write a default configuration file",
		Long:  `Write the default configuration to path. The format follows the file extension (.toml, .yaml).`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteFile(config.DefaultConfig(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", args[0])
			return nil
		},
	}

	return cmd
}

// NewConfigValidateCommand creates the config validate command
func NewConfigValidateCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, _, err := loadConfig(cmd, opts); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid")
			return nil
		},
	}

	return cmd
}
