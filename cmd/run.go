// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/undetectlabs/mimic/api/schemas"
	"github.com/undetectlabs/mimic/internal/automation"
	"github.com/undetectlabs/mimic/internal/behavior"
	"github.com/undetectlabs/mimic/internal/config"
	"github.com/undetectlabs/mimic/internal/observability"
)

// sessionParams carries the per-session script inputs resolved from flags.
type sessionParams struct {
	Index     int
	TargetURL string
	ProfileID string
	Selector  string
	Text      string
	Idle      time.Duration
}

// newRunCmd creates the `run` command: one or more browser sessions driven
// through the behavioral simulator against a target URL.
func newRunCmd() *cobra.Command {
	var (
		sessions  int
		profileID string
		selector  string
		text      string
		idle      time.Duration
	)

	runCmd := &cobra.Command{
		Use:   "run [url]",
		Short: "Drive one or more humanized browser sessions against a URL",
		Long: `Run launches a browser per session, navigates to the target URL and plays
a short interaction script through the behavioral engine: settle, scroll,
optionally click or type into a selector, then idle. Session outcomes feed
back into the profile's learning state.`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind override flags to their viper keys so the RunE re-resolve
			// applies flag > env > file > default precedence.
			if err := viper.BindPFlag("session.concurrency", cmd.Flags().Lookup("concurrency")); err != nil {
				return err
			}
			return viper.BindPFlag("browser.headless", cmd.Flags().Lookup("headless"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			// Re-resolve the configuration now that the command's flags are
			// bound into viper.
			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return fmt.Errorf("failed to resolve config with flag overrides: %w", err)
			}

			if sessions < 1 {
				return fmt.Errorf("--sessions must be at least 1, got %d", sessions)
			}
			if text != "" && selector == "" {
				return fmt.Errorf("--text requires --selector")
			}

			target := args[0]
			if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
				target = "https://" + target
			}

			logger.Info("Starting run",
				zap.String("target", target),
				zap.Int("sessions", sessions),
				zap.Int("concurrency", cfg.Session.Concurrency),
				zap.Float64("start_rate", cfg.Session.StartRate),
				zap.String("profileID", profileID),
			)

			// One store for the whole run. Sessions stay isolated behind
			// their own managers but share the persisted documents.
			profileStore, cleanup, err := newProfileStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(cfg.Session.Concurrency)
			limiter := rate.NewLimiter(rate.Limit(cfg.Session.StartRate), 1)

			var startErr error
			for i := 0; i < sessions; i++ {
				if err := limiter.Wait(gctx); err != nil {
					startErr = err
					break
				}
				params := sessionParams{
					Index:     i,
					TargetURL: target,
					ProfileID: profileID,
					Selector:  selector,
					Text:      text,
					Idle:      idle,
				}
				g.Go(func() error {
					return runSession(gctx, cfg, profileStore, logger, params)
				})
			}

			if err := g.Wait(); err != nil {
				if errors.Is(err, context.Canceled) {
					logger.Warn("Run aborted", zap.String("target", target))
					return fmt.Errorf("run aborted by user signal")
				}
				return err
			}
			if startErr != nil {
				return fmt.Errorf("run aborted before all sessions started: %w", startErr)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "\nRun complete. %d session(s) against %s\n", sessions, target)
			return nil
		},
	}

	runCmd.Flags().IntVarP(&sessions, "sessions", "n", 1, "Number of sessions to run")
	runCmd.Flags().IntP("concurrency", "j", 0, "Maximum concurrent sessions. (Overrides config/env)")
	runCmd.Flags().Bool("headless", true, "Run the browser headless. (Overrides config/env)")
	runCmd.Flags().StringVarP(&profileID, "profile", "p", "", "Profile ID to replay. If unset, each session creates a fresh profile.")
	runCmd.Flags().StringVar(&selector, "selector", "", "CSS selector to interact with after the page settles")
	runCmd.Flags().StringVar(&text, "text", "", "Text to type into the selector")
	runCmd.Flags().DurationVar(&idle, "idle", 3*time.Second, "Reading pause between scripted actions")

	return runCmd
}

// runSession owns one browser lifecycle: profile, navigation, script, learning.
func runSession(ctx context.Context, cfg *config.Config, profileStore schemas.ProfileStore, logger *zap.Logger, p sessionParams) error {
	sessionID := uuid.New().String()
	log := logger.With(zap.String("sessionID", sessionID), zap.Int("session", p.Index))

	rng := newRand(sessionSeed(cfg.Behavior.Seed, p.Index))
	manager := behavior.NewManager(profileStore, behaviorConfig(cfg), rng, log)

	var (
		profile *schemas.BehaviorProfile
		err     error
	)
	if p.ProfileID != "" {
		profile, err = manager.LoadProfile(ctx, p.ProfileID)
		if err != nil {
			return fmt.Errorf("session %d: failed to load profile %s: %w", p.Index, p.ProfileID, err)
		}
	} else {
		profile, err = manager.CreateProfile(ctx, "session-"+sessionID[:8], nil)
		if err != nil {
			return fmt.Errorf("session %d: failed to create profile: %w", p.Index, err)
		}
	}
	log.Info("Session profile ready",
		zap.String("profileID", profile.ID),
		zap.String("name", profile.Name),
		zap.Float64("typingWPM", profile.Characteristics.TypingSpeed),
		zap.Float64("mouseSpeed", profile.Characteristics.MouseSpeed),
	)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, browserExecOptions(cfg.Browser)...)
	defer cancelAlloc()

	ctxOpts := []chromedp.ContextOption{chromedp.WithErrorf(log.Sugar().Errorf)}
	if cfg.Browser.Debug {
		ctxOpts = append(ctxOpts, chromedp.WithDebugf(log.Sugar().Debugf))
	}
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, ctxOpts...)
	defer cancelBrowser()

	sessionCtx := browserCtx
	if cfg.Session.Timeout > 0 {
		var cancelTimeout context.CancelFunc
		sessionCtx, cancelTimeout = context.WithTimeout(browserCtx, cfg.Session.Timeout)
		defer cancelTimeout()
	}

	start := time.Now()

	navCtx, cancelNav := context.WithTimeout(sessionCtx, cfg.Browser.NavigationTimeout)
	err = chromedp.Run(navCtx, chromedp.Navigate(p.TargetURL))
	cancelNav()
	if err != nil {
		return fmt.Errorf("session %d: navigation to %s failed: %w", p.Index, p.TargetURL, err)
	}

	surface := automation.NewCDPSurface(log)
	sim := behavior.NewSimulator(surface, manager, behaviorConfig(cfg), rng, log)

	if err := driveSession(sessionCtx, sim, manager, p); err != nil {
		return fmt.Errorf("session %d: %w", p.Index, err)
	}

	actions, typos := sim.Stats()
	duration := time.Since(start)
	if err := manager.CompleteSession(sessionCtx, duration, typos, actions); err != nil {
		return fmt.Errorf("session %d: failed to record session outcome: %w", p.Index, err)
	}

	log.Info("Session complete",
		zap.Duration("duration", duration),
		zap.Int("actions", actions),
		zap.Int("typos", typos),
	)
	return nil
}

// driveSession plays the scripted interaction: settle, scroll down and
// partially back, interact with the selector if given, then wind down.
func driveSession(ctx context.Context, sim *behavior.Simulator, manager *behavior.Manager, p sessionParams) error {
	if err := sim.Idle(ctx, p.Idle); err != nil {
		return fmt.Errorf("initial idle: %w", err)
	}

	down := manager.AverageScrollDistance()
	if err := sim.Scroll(ctx, down); err != nil {
		return fmt.Errorf("scroll down: %w", err)
	}
	if err := sim.Scroll(ctx, -down/3); err != nil {
		return fmt.Errorf("scroll back: %w", err)
	}

	if p.Selector != "" {
		if p.Text != "" {
			if err := sim.Type(ctx, p.Selector, p.Text); err != nil {
				return fmt.Errorf("type into %q: %w", p.Selector, err)
			}
		} else {
			if err := sim.Click(ctx, p.Selector); err != nil {
				return fmt.Errorf("click %q: %w", p.Selector, err)
			}
		}
	}

	if err := sim.Idle(ctx, p.Idle/2); err != nil {
		return fmt.Errorf("final idle: %w", err)
	}
	return nil
}

// browserExecOptions maps the browser configuration onto allocator options.
// Config args may be bare flags ("disable-dev-shm-usage") or key=value pairs.
func browserExecOptions(bc config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.DisableGPU,
		chromedp.WindowSize(bc.Viewport.Width, bc.Viewport.Height),
		// Chrome advertises automation through this blink feature. The whole
		// point of the engine is that input pacing should not give us away,
		// so the browser should not either.
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	}
	if bc.Headless {
		opts = append(opts, chromedp.Headless)
	}
	if bc.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(bc.UserAgent))
	}
	for _, arg := range bc.Args {
		key, value, found := strings.Cut(arg, "=")
		if found {
			opts = append(opts, chromedp.Flag(key, value))
		} else {
			opts = append(opts, chromedp.Flag(key, true))
		}
	}
	return opts
}

// sessionSeed derives a distinct deterministic seed per session index.
// A zero base keeps time-based seeding.
func sessionSeed(base int64, index int) int64 {
	if base == 0 {
		return 0
	}
	return base + int64(index)
}
