package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cellemitter/emitter/internal/config"
	"github.com/cellemitter/emitter/pkg/logger"
)

// rootOptions holds the global flags
type rootOptions struct {
	configPath string
	logLevel   string
}

// NewRootCommand creates the root command for emitter
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "emitter",
		Short: "Search key tip emitter",
		Long: `Emitter tracks registered search keys against a chain indexer.
Each key gets a watcher that advances the key's scanned tip as new blocks
are indexed. Keys are managed over JSON-RPC (register, delete, info).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to a toml or yaml config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override log.level (debug, info, warn, error)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewVersionCommand())
	cmd.AddCommand(NewConfigCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))

	return cmd
}

// loadConfig merges defaults, the config file, EMITTER_* variables and
// flags, in increasing priority
func loadConfig(cmd *cobra.Command, opts *rootOptions) (*config.Config, *viper.Viper, error) {
	v := config.NewViper()
	if flag := cmd.Flags().Lookup("log-level"); flag != nil {
		if err := v.BindPFlag("log.level", flag); err != nil {
			return nil, nil, fmt.Errorf("failed to bind log-level flag: %w", err)
		}
	}

	cfg, err := config.Load(v, opts.configPath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

// newLogger builds the process logger from cfg
func newLogger(cfg config.LogConfig) (*logger.Logger, error) {
	return logger.New(logger.Options{
		Level:      cfg.Level,
		Format:     cfg.Format,
		Color:      cfg.Color,
		TimeFormat: cfg.TimeFormat,
		File:       cfg.File,
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAgeDays: cfg.MaxAgeDays,
	})
}
