// File: cmd/profile.go
package cmd

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/undetectlabs/mimic/api/schemas"
	"github.com/undetectlabs/mimic/internal/behavior"
	"github.com/undetectlabs/mimic/internal/config"
	"github.com/undetectlabs/mimic/internal/observability"
	"github.com/undetectlabs/mimic/internal/store"
)

// newProfileCmd groups the profile management verbs. Every verb goes through
// the behavior manager rather than the store directly, so the CLI exercises
// the same code paths a session does.
func newProfileCmd() *cobra.Command {
	profileCmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage persistent behavioral profiles",
	}

	profileCmd.AddCommand(newProfileCreateCmd())
	profileCmd.AddCommand(newProfileListCmd())
	profileCmd.AddCommand(newProfileShowCmd())
	profileCmd.AddCommand(newProfileDeleteCmd())
	profileCmd.AddCommand(newProfileExportCmd())
	profileCmd.AddCommand(newProfileImportCmd())

	return profileCmd
}

func newProfileCreateCmd() *cobra.Command {
	var name string

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new behavioral profile",
		Long: `Create a new profile. Characteristics are drawn randomly from the
configured ranges; individual flags pin a characteristic to an exact value.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := currentConfig()
			logger := observability.GetLogger()

			manager, cleanup, err := newProfileManager(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			overrides := overridesFromFlags(cmd)
			profile, err := manager.CreateProfile(ctx, name, overrides)
			if err != nil {
				return fmt.Errorf("failed to create profile: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Profile created. ID: %s\n", profile.ID)
			printProfile(cmd, profile)
			return nil
		},
	}

	createCmd.Flags().StringVar(&name, "name", "", "Human-readable profile name (required)")
	_ = createCmd.MarkFlagRequired("name")

	createCmd.Flags().Float64("mouse-speed", 0, "Pin the mouse speed multiplier instead of drawing it")
	createCmd.Flags().Float64("typing-wpm", 0, "Pin the typing speed in words per minute")
	createCmd.Flags().Float64("reading-wpm", 0, "Pin the reading speed in words per minute")
	createCmd.Flags().Float64("error-rate", 0, "Pin the typo probability per character")
	createCmd.Flags().Float64("attention-span", 0, "Pin the attention span in seconds")
	createCmd.Flags().Float64("impulsiveness", 0, "Pin the impulsiveness factor")

	return createCmd
}

// overridesFromFlags maps only the flags the user actually set, so unset
// characteristics keep their random draw.
func overridesFromFlags(cmd *cobra.Command) *behavior.Overrides {
	overrides := &behavior.Overrides{}
	set := false

	pin := func(flag string, dst **float64) {
		if cmd.Flags().Changed(flag) {
			v, _ := cmd.Flags().GetFloat64(flag)
			*dst = &v
			set = true
		}
	}

	pin("mouse-speed", &overrides.MouseSpeed)
	pin("typing-wpm", &overrides.TypingSpeed)
	pin("reading-wpm", &overrides.ReadingSpeed)
	pin("error-rate", &overrides.ErrorRate)
	pin("attention-span", &overrides.AttentionSpan)
	pin("impulsiveness", &overrides.Impulsiveness)

	if !set {
		return nil
	}
	return overrides
}

func newProfileListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := currentConfig()
			logger := observability.GetLogger()

			manager, cleanup, err := newProfileManager(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			profiles, err := manager.ListProfiles(ctx)
			if err != nil {
				return fmt.Errorf("failed to list profiles: %w", err)
			}
			if len(profiles) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No profiles stored.")
				return nil
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%-36s  %-20s  %-8s  %s\n", "ID", "NAME", "SESSIONS", "LAST USED")
			for _, p := range profiles {
				lastUsed := "never"
				if !p.LastUsedAt.IsZero() {
					lastUsed = p.LastUsedAt.Format(time.RFC3339)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-36s  %-20s  %-8d  %s\n", p.ID, p.Name, p.SessionCount, lastUsed)
			}
			return nil
		},
	}
}

func newProfileShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <profile-id>",
		Short: "Show a profile's characteristics and learning state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := currentConfig()
			logger := observability.GetLogger()

			manager, cleanup, err := newProfileManager(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			profile, err := manager.ExportProfile(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to load profile: %w", err)
			}

			printProfile(cmd, profile)
			return nil
		},
	}
}

func newProfileDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <profile-id>",
		Short: "Delete a stored profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := currentConfig()
			logger := observability.GetLogger()

			manager, cleanup, err := newProfileManager(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := manager.DeleteProfile(ctx, args[0]); err != nil {
				return fmt.Errorf("failed to delete profile: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Profile %s deleted.\n", args[0])
			return nil
		},
	}
}

func newProfileExportCmd() *cobra.Command {
	var output string

	exportCmd := &cobra.Command{
		Use:   "export <profile-id>",
		Short: "Export a profile as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := currentConfig()
			logger := observability.GetLogger()

			manager, cleanup, err := newProfileManager(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			profile, err := manager.ExportProfile(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to export profile: %w", err)
			}

			data, err := json.MarshalIndent(profile, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode profile: %w", err)
			}

			if output == "" {
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}
			if err := os.WriteFile(output, data, 0o600); err != nil {
				return fmt.Errorf("failed to write %s: %w", output, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Profile exported to %s\n", output)
			return nil
		},
	}

	exportCmd.Flags().StringVarP(&output, "output", "o", "", "File to write the profile to. If unset, prints to stdout.")

	return exportCmd
}

func newProfileImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import a previously exported profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := currentConfig()
			logger := observability.GetLogger()

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}
			var profile schemas.BehaviorProfile
			if err := json.Unmarshal(data, &profile); err != nil {
				return fmt.Errorf("failed to decode %s: %w", args[0], err)
			}

			manager, cleanup, err := newProfileManager(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := manager.ImportProfile(ctx, &profile); err != nil {
				return fmt.Errorf("failed to import profile: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Profile imported. ID: %s\n", profile.ID)
			return nil
		},
	}
}

func printProfile(cmd *cobra.Command, p *schemas.BehaviorProfile) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "  Name:           %s\n", p.Name)
	fmt.Fprintf(out, "  Created:        %s\n", p.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "  Sessions:       %d\n", p.Learning.SessionsCompleted)
	fmt.Fprintf(out, "  Mouse speed:    %.2fx\n", p.Characteristics.MouseSpeed)
	fmt.Fprintf(out, "  Typing speed:   %.1f WPM\n", p.Characteristics.TypingSpeed)
	fmt.Fprintf(out, "  Reading speed:  %.1f WPM\n", p.Characteristics.ReadingSpeed)
	fmt.Fprintf(out, "  Error rate:     %.3f\n", p.Characteristics.ErrorRate)
	fmt.Fprintf(out, "  Attention span: %.0fs\n", p.Characteristics.AttentionSpan)
	fmt.Fprintf(out, "  Impulsiveness:  %.2f\n", p.Characteristics.Impulsiveness)
	fmt.Fprintf(out, "  Time of day:    morning %.2f / afternoon %.2f / evening %.2f\n",
		p.TimeOfDay.Morning, p.TimeOfDay.Afternoon, p.TimeOfDay.Evening)
	if p.Learning.SessionsCompleted > 0 {
		fmt.Fprintf(out, "  Avg session:    %.0fms\n", p.Learning.AvgSessionDurationMs)
	}
}

// newProfileStore builds the profile store selected by the configuration and
// returns it with a cleanup function for any held connections.
func newProfileStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (schemas.ProfileStore, func(), error) {
	switch cfg.Store.Backend {
	case "memory":
		return store.NewMemoryStore(logger), func() {}, nil
	case "file":
		fs, err := store.NewFileStore(cfg.Store.Dir, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open file store: %w", err)
		}
		return fs, func() {}, nil
	case "postgres":
		pool, err := store.Connect(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		pg, err := store.NewPostgresStore(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("failed to initialize postgres store: %w", err)
		}
		return pg, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// newProfileManager wires a behavior manager over the configured store.
func newProfileManager(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*behavior.Manager, func(), error) {
	profileStore, cleanup, err := newProfileStore(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	manager := behavior.NewManager(profileStore, behaviorConfig(cfg), newRand(cfg.Behavior.Seed), logger)
	return manager, cleanup, nil
}

// behaviorConfig projects the application configuration onto the behavior
// engine's tunables, leaving the engine defaults in place for everything the
// config file does not expose.
func behaviorConfig(cfg *config.Config) behavior.Config {
	bc := behavior.DefaultConfig()
	if cfg.Behavior.CacheCapacity > 0 {
		bc.CacheCapacity = cfg.Behavior.CacheCapacity
	}
	if cfg.Behavior.CacheTTL > 0 {
		bc.CacheTTL = cfg.Behavior.CacheTTL
	}
	bc.Learning.Enabled = cfg.Behavior.Learning.Enabled
	bc.Learning.PlateauSessions = cfg.Behavior.Learning.PlateauSessions
	bc.Learning.ErrorReductionFactor = cfg.Behavior.Learning.ErrorReductionFactor
	bc.Learning.SpeedImprovementFactor = cfg.Behavior.Learning.SpeedImprovementFactor
	return bc
}

// newRand returns a seeded source for reproducible runs, or nil so the
// behavior components fall back to time-based seeding.
func newRand(seed int64) *rand.Rand {
	if seed == 0 {
		return nil
	}
	return rand.New(rand.NewSource(seed))
}
