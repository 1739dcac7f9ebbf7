package behavior

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/aquilax/go-perlin"
	"go.uber.org/zap"

	"github.com/undetectlabs/mimic/api/schemas"
)

// Surface is the low-level automation surface the simulator drives. The
// production implementation speaks CDP; tests supply a scripted double.
//
// ElementBounds returns (nil, nil) when the selector matches nothing, so the
// caller can distinguish an absent element from a transport failure. Wait is
// the only timing primitive: the simulator never sleeps on its own.
type Surface interface {
	PointerMove(ctx context.Context, x, y float64) error
	PointerDown(ctx context.Context) error
	PointerUp(ctx context.Context) error
	KeyDown(ctx context.Context, key rune) error
	KeyUp(ctx context.Context, key rune) error
	ScrollBy(ctx context.Context, dx, dy float64) error
	Wait(ctx context.Context, d time.Duration) error
	ElementBounds(ctx context.Context, selector string) (*schemas.Rect, error)
	ViewportSize(ctx context.Context) (schemas.Size, error)
}

// Simulator composes the trajectory engine, the keystroke model and the
// profile manager into complete human-shaped actions: moves, clicks, typing,
// scrolling and idle wandering. One Simulator serves one session and issues
// primitives strictly sequentially; cancellation is honored at step
// boundaries.
type Simulator struct {
	surface Surface
	profile *Manager
	paths   *TrajectoryEngine
	keys    *KeystrokeModel
	cfg     Config
	rng     *rand.Rand
	log     *zap.Logger

	mu      sync.Mutex
	pos     Vector2D
	fatigue float64
	actions int
	typos   int

	noiseX *perlin.Perlin
	noiseY *perlin.Perlin
	epoch  time.Time
}

// NewSimulator wires a simulator over the given surface and profile manager.
// The session persona is finalized here, so two simulators built from the
// same config still behave like different hands. A nil rng is replaced with
// a time-seeded one.
func NewSimulator(surface Surface, profile *Manager, cfg Config, rng *rand.Rand, logger *zap.Logger) *Simulator {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.FinalizeSessionPersona(rng)

	keys := NewKeystrokeModel(cfg, profile.TypingWPM(), rng, logger)
	keys.SetTypoRate(profile.ErrorRate())

	return &Simulator{
		surface: surface,
		profile: profile,
		paths:   NewTrajectoryEngine(cfg, rng, logger),
		keys:    keys,
		cfg:     cfg,
		rng:     rng,
		log:     logger.Named("simulator"),
		noiseX:  perlin.NewPerlin(2, 2, 3, rng.Int63()),
		noiseY:  perlin.NewPerlin(2, 2, 3, rng.Int63()),
		epoch:   time.Now(),
	}
}

// NewTestSimulator builds a deterministic simulator for tests: default
// config, fixed seed, no logging.
func NewTestSimulator(surface Surface, profile *Manager, seed int64) *Simulator {
	return NewSimulator(surface, profile, DefaultConfig(), rand.New(rand.NewSource(seed)), zap.NewNop())
}

// MoveTo walks the pointer to (x, y) along a generated path, dispatching one
// pointer move per waypoint with the path's own inter-step delays. The
// completed trajectory is recorded against the profile.
func (s *Simulator) MoveTo(ctx context.Context, x, y float64) error {
	start := s.position()
	target := Vector2D{X: x, Y: y}

	path := s.paths.GeneratePath(start, target, PathConstraints{
		SpeedFactor: s.profile.MouseSpeed(),
	})

	var traveled time.Duration
	for _, wp := range path {
		if err := ctx.Err(); err != nil {
			return err
		}
		if wp.Delay > 0 {
			if err := s.surface.Wait(ctx, wp.Delay); err != nil {
				return err
			}
			traveled += wp.Delay
		}
		if err := s.surface.PointerMove(ctx, wp.Point.X, wp.Point.Y); err != nil {
			return fmt.Errorf("simulator: pointer move failed: %w", err)
		}
		s.setPosition(wp.Point)
	}

	s.profile.RecordMouseMovement(ctx, start.Dist(target), traveled, len(path))
	s.updateFatigue(start.Dist(target) / 1000.0)
	s.countAction()
	return nil
}

// Click moves onto the element and presses it: a small random offset inside
// the target's central region, one to three micro-adjustments, a pre-click
// settle, then press, randomized hold and release, and a post-click pause.
func (s *Simulator) Click(ctx context.Context, selector string) error {
	bounds, err := s.surface.ElementBounds(ctx, selector)
	if err != nil {
		return fmt.Errorf("simulator: resolving %q: %w", selector, err)
	}
	if bounds == nil {
		return fmt.Errorf("simulator: element %q not found", selector)
	}

	target := s.clickPoint(*bounds)
	if err := s.MoveTo(ctx, target.X, target.Y); err != nil {
		return err
	}

	// A hand never lands dead still: correct by a few pixels before
	// committing to the press.
	adjustments := 1 + s.rng.Intn(s.cfg.MicroAdjustMax)
	for i := 0; i < adjustments; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		nudge := target.Add(Vector2D{
			X: (s.rng.Float64()*2 - 1) * 3,
			Y: (s.rng.Float64()*2 - 1) * 3,
		})
		if err := s.surface.PointerMove(ctx, nudge.X, nudge.Y); err != nil {
			return fmt.Errorf("simulator: micro adjustment failed: %w", err)
		}
		if err := s.surface.Wait(ctx, s.sampleMs(Range{Min: 10, Max: 30})); err != nil {
			return err
		}
	}
	if err := s.surface.PointerMove(ctx, target.X, target.Y); err != nil {
		return fmt.Errorf("simulator: settling on target failed: %w", err)
	}
	s.setPosition(target)

	if err := s.surface.Wait(ctx, s.scaledPause(s.cfg.PreClickPauseMs)); err != nil {
		return err
	}
	if err := s.surface.PointerDown(ctx); err != nil {
		return fmt.Errorf("simulator: pointer down failed: %w", err)
	}
	if err := s.surface.Wait(ctx, s.sampleMs(s.cfg.ClickHoldMs)); err != nil {
		return err
	}
	if err := s.surface.PointerUp(ctx); err != nil {
		return fmt.Errorf("simulator: pointer up failed: %w", err)
	}

	post := s.scaledPause(s.cfg.PostClickPauseMs)
	if err := s.surface.Wait(ctx, post); err != nil {
		return err
	}

	s.profile.RecordClick(ctx, target.X, target.Y)
	s.profile.RecordPause(ctx, post)
	s.countAction()
	return nil
}

// Type clicks the element to focus it, then streams the keystroke model's
// output as key-down/key-up pairs, including any mistyped neighbors and
// their corrections. Committed digraph timings feed back into the profile.
func (s *Simulator) Type(ctx context.Context, selector, text string) error {
	if err := s.Click(ctx, selector); err != nil {
		return err
	}

	// Pick up whatever the profile has learned since the last action.
	s.keys.SetTypingSpeed(s.profile.TypingWPM())
	s.keys.SetTypoRate(s.profile.ErrorRate())

	var prevCommitted rune
	for _, ks := range s.keys.Keystrokes(text) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if ks.Timing.PressDelay > 0 {
			if err := s.surface.Wait(ctx, ks.Timing.PressDelay); err != nil {
				return err
			}
		}
		if err := s.surface.KeyDown(ctx, ks.Key); err != nil {
			return fmt.Errorf("simulator: key down %q failed: %w", ks.Key, err)
		}
		if err := s.surface.Wait(ctx, ks.Timing.HoldDuration); err != nil {
			return err
		}
		if err := s.surface.KeyUp(ctx, ks.Key); err != nil {
			return fmt.Errorf("simulator: key up %q failed: %w", ks.Key, err)
		}

		if ks.Typo {
			if ks.Key != Backspace {
				s.countTypo()
			}
			prevCommitted = 0
			continue
		}
		if prevCommitted != 0 {
			digraph := string([]rune{prevCommitted, ks.Key})
			s.profile.RecordTyping(ctx, digraph, ks.Timing.PressDelay+ks.Timing.HoldDuration)
		}
		prevCommitted = ks.Key
	}

	s.updateFatigue(float64(len(text)) * 0.05)
	s.countAction()
	return nil
}

// Scroll covers distance in variable-size wheel steps with per-step delays,
// an occasional longer mid-scroll pause and, rarely, a small overshoot that
// gets corrected. Negative distance scrolls up.
func (s *Simulator) Scroll(ctx context.Context, distance float64) error {
	if distance == 0 {
		return nil
	}
	dir := 1.0
	if distance < 0 {
		dir = -1.0
	}
	remaining := math.Abs(distance)

	for remaining > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		step := math.Min(remaining, s.cfg.ScrollStepPx.Sample(s.rng))
		if err := s.surface.ScrollBy(ctx, 0, dir*step); err != nil {
			return fmt.Errorf("simulator: scroll failed: %w", err)
		}
		remaining -= step

		if err := s.surface.Wait(ctx, s.sampleMs(s.cfg.ScrollStepPauseMs)); err != nil {
			return err
		}
		if s.rng.Float64() < s.cfg.ScrollMidPauseProbability {
			pause := s.sampleMs(s.cfg.ScrollMidPauseMs)
			if err := s.surface.Wait(ctx, pause); err != nil {
				return err
			}
			s.profile.RecordPause(ctx, pause)
			s.recoverFatigue(pause)
		}
	}

	if s.rng.Float64() < s.cfg.ScrollOvershootProbability {
		over := s.cfg.ScrollOvershootFraction.Sample(s.rng) * math.Abs(distance)
		over = math.Min(over, s.cfg.ScrollStepPx.Max)
		if err := s.surface.ScrollBy(ctx, 0, dir*over); err != nil {
			return fmt.Errorf("simulator: scroll overshoot failed: %w", err)
		}
		if err := s.surface.Wait(ctx, s.sampleMs(s.cfg.ScrollReturnPauseMs)); err != nil {
			return err
		}
		if err := s.surface.ScrollBy(ctx, 0, -dir*over); err != nil {
			return fmt.Errorf("simulator: scroll correction failed: %w", err)
		}
	}

	s.profile.RecordScroll(ctx, math.Abs(distance))
	s.countAction()
	return nil
}

// Idle wanders for roughly the given duration: short drifting moves to
// nearby viewport points separated by reading-length pauses. Fatigue
// recovers while idling. The duration is honored at step granularity, not
// exactly.
func (s *Simulator) Idle(ctx context.Context, duration time.Duration) error {
	viewport, err := s.surface.ViewportSize(ctx)
	if err != nil {
		return fmt.Errorf("simulator: viewport size: %w", err)
	}

	var elapsed time.Duration
	for elapsed < duration {
		if err := ctx.Err(); err != nil {
			return err
		}

		target := s.idleTarget(viewport, elapsed)
		if err := s.MoveTo(ctx, target.X, target.Y); err != nil {
			return err
		}

		pause := s.scaledPause(s.cfg.IdlePauseMs)
		if elapsed+pause > duration {
			pause = duration - elapsed
		}
		if pause > 0 {
			if err := s.surface.Wait(ctx, pause); err != nil {
				return err
			}
			s.profile.RecordPause(ctx, pause)
			s.recoverFatigue(pause)
		}
		elapsed += pause + 50*time.Millisecond
	}
	s.countAction()
	return nil
}

// Stats reports how many primitive actions completed and how many typos were
// made, the raw inputs for completing a session against the profile.
func (s *Simulator) Stats() (actions, typos int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.actions, s.typos
}

// Position returns the simulator's idea of the pointer location.
func (s *Simulator) Position() Vector2D {
	return s.position()
}

// idleTarget drifts from the current position using low-frequency noise,
// clamped to the viewport.
func (s *Simulator) idleTarget(viewport schemas.Size, elapsed time.Duration) Vector2D {
	t := (time.Since(s.epoch) + elapsed).Seconds() * 0.4
	drift := Vector2D{
		X: s.noiseX.Noise1D(t) * s.cfg.IdleDriftPx,
		Y: s.noiseY.Noise1D(t) * s.cfg.IdleDriftPx,
	}
	wander := Vector2D{
		X: (s.rng.Float64()*2 - 1) * s.cfg.IdleDriftPx,
		Y: (s.rng.Float64()*2 - 1) * s.cfg.IdleDriftPx,
	}

	target := s.position().Add(drift).Add(wander)
	target.X = math.Max(0, math.Min(viewport.Width-1, target.X))
	target.Y = math.Max(0, math.Min(viewport.Height-1, target.Y))
	return target
}

// clickPoint picks a uniformly random point inside the central region of the
// element's bounds.
func (s *Simulator) clickPoint(bounds schemas.Rect) Vector2D {
	cx := bounds.X + bounds.Width/2
	cy := bounds.Y + bounds.Height/2
	halfW := bounds.Width * s.cfg.ClickTargetFraction / 2
	halfH := bounds.Height * s.cfg.ClickTargetFraction / 2
	return Vector2D{
		X: cx + (s.rng.Float64()*2-1)*halfW,
		Y: cy + (s.rng.Float64()*2-1)*halfH,
	}
}

func (s *Simulator) sampleMs(r Range) time.Duration {
	return time.Duration(r.Sample(s.rng) * float64(time.Millisecond))
}

// scaledPause samples a pause and stretches it by accumulated fatigue.
func (s *Simulator) scaledPause(r Range) time.Duration {
	s.mu.Lock()
	factor := 1.0 + s.fatigue
	s.mu.Unlock()
	return time.Duration(r.Sample(s.rng) * factor * float64(time.Millisecond))
}

func (s *Simulator) updateFatigue(intensity float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fatigue = math.Min(1.0, s.fatigue+s.cfg.FatigueIncreaseRate*intensity)
}

func (s *Simulator) recoverFatigue(pause time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fatigue = math.Max(0.0, s.fatigue-s.cfg.FatigueRecoveryRate*pause.Seconds())
}

func (s *Simulator) position() Vector2D {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

func (s *Simulator) setPosition(p Vector2D) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos = p
}

func (s *Simulator) countAction() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions++
}

func (s *Simulator) countTypo() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typos++
}
