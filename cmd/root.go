// File: cmd/root.go
package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/undetectlabs/mimic/internal/config"
	"github.com/undetectlabs/mimic/internal/observability"
)

// appCfg holds the configuration resolved by the root command's
// PersistentPreRunE. Subcommands whose flags are bound into viper
// re-resolve instead, so flag overrides take precedence.
var appCfg *config.Config

// NewRootCommand builds the mimic command tree. Each call returns a fresh
// instance so tests can execute commands in isolation.
func NewRootCommand() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "mimic",
		Short: "Mimic drives browser sessions with human behavioral realism.",
		Long: `Mimic maintains persistent behavioral identities and replays them through
a real browser: curved mouse trajectories, per-character keystroke timing,
occasional typos and corrections, and idle drift between actions. Profiles
learn across sessions and are stored in memory, on disk or in Postgres.`,
		Version:      Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := initializeConfig(cfgFile); err != nil {
				return err
			}

			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				// Fall back to a basic logger so the failure is visible.
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "mimic"})
				return fmt.Errorf("failed to load config: %w", err)
			}
			appCfg = cfg

			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Info("Starting mimic", zap.String("version", Version))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")

	rootCmd.AddCommand(newProfileCmd())
	rootCmd.AddCommand(newRunCmd())

	return rootCmd
}

// Execute runs the command tree with the given signal-aware context.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		observability.GetLogger().Error("Command execution failed", zap.Error(err))
		return err
	}
	return nil
}

// currentConfig returns the configuration loaded by PersistentPreRunE, or
// defaults when a command runs without it (direct invocation in tests).
func currentConfig() *config.Config {
	if appCfg != nil {
		return appCfg
	}
	return config.NewDefaultConfig()
}

// initializeConfig prepares the global viper instance: defaults first, then
// an optional config file, then MIMIC_* environment variables.
func initializeConfig(cfgFile string) error {
	v := viper.GetViper()

	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("MIMIC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// No config file present, defaults and env vars apply.
	}
	return nil
}
