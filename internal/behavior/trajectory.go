package behavior

import (
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Waypoint is a single step of a pointer path: the position to move to and
// the pause to observe before dispatching that move.
type Waypoint struct {
	Point Vector2D
	Delay time.Duration
}

// PathConstraints tune a single path generation. The zero value asks for the
// engine defaults.
type PathConstraints struct {
	// SpeedFactor scales movement tempo; the profile's mouse speed
	// multiplier is passed here. Zero means 1.0.
	SpeedFactor float64
	// DurationHint overrides the Fitts-derived target duration when > 0.
	DurationHint time.Duration
}

// TrajectoryEngine builds human-like pointer paths between two points. Paths
// follow a cubic Bezier whose control points are offset from the straight
// line, carry positional jitter at every sampled point and non-uniform
// per-step delays. Near-identical routes are served from a bounded,
// time-expiring cache; every retrieval yields an independently jittered
// copy, so no two generated paths are ever literally identical.
//
// The engine is pure computation: it performs no I/O, cannot fail, and is
// owned by a single session.
type TrajectoryEngine struct {
	cfg   Config
	rng   *rand.Rand
	cache *pathCache
	log   *zap.Logger
}

// NewTrajectoryEngine constructs an engine with its own path cache. A nil
// rng is replaced with a time-seeded one; tests inject a fixed seed.
func NewTrajectoryEngine(cfg Config, rng *rand.Rand, logger *zap.Logger) *TrajectoryEngine {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.FinalizeSessionPersona(rng)
	return &TrajectoryEngine{
		cfg:   cfg,
		rng:   rng,
		cache: newPathCache(cfg.CacheCapacity, cfg.CacheTTL),
		log:   logger.Named("trajectory"),
	}
}

// computeEaseInOutCubic provides a smooth acceleration and deceleration
// profile for movement pacing.
func computeEaseInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - math.Pow(-2*t+2, 3)/2
}

// fittsDuration determines a realistic movement duration from Fitts's Law,
// with slight randomization so repeated moves over the same distance differ.
func (e *TrajectoryEngine) fittsDuration(distance float64) time.Duration {
	const W = 30.0 // assumed target width in pixels
	id := math.Log2(1.0 + distance/W)
	mt := e.cfg.FittsA + e.cfg.FittsB*id
	mt += mt * (e.rng.Float64()*2 - 1) * e.cfg.FittsRandomness
	return time.Duration(mt) * time.Millisecond
}

// GeneratePath returns the waypoint sequence for a pointer movement from
// start to end. Consecutive calls for the same (quantized) endpoints inside
// the cache TTL share a base curve but never an output slice.
func (e *TrajectoryEngine) GeneratePath(start, end Vector2D, constraints PathConstraints) []Waypoint {
	if start.Dist(end) < 1.0 {
		return []Waypoint{{Point: end}}
	}

	key := quantizeKey(start, end, e.cfg.CacheQuantumPx)
	if entry, ok := e.cache.get(key); ok {
		e.log.Debug("path cache hit",
			zap.Float64("distance", start.Dist(end)),
			zap.Int("steps", len(entry.waypoints)))
		return e.variation(entry.waypoints, e.cfg.ReuseJitterPx, e.cfg.ReuseTimingJitter)
	}

	waypoints := e.computePath(start, end, constraints)
	e.cache.put(key, waypoints)

	// The caller gets an independent copy; the stored entry stays pristine
	// for future variations.
	out := make([]Waypoint, len(waypoints))
	copy(out, waypoints)
	return out
}

// computePath samples a fresh jittered curve between start and end.
func (e *TrajectoryEngine) computePath(start, end Vector2D, constraints PathConstraints) []Waypoint {
	dist := start.Dist(end)

	duration := constraints.DurationHint
	if duration <= 0 {
		duration = e.fittsDuration(dist)
	}
	speed := constraints.SpeedFactor
	if speed <= 0 {
		speed = 1.0
	}
	duration = time.Duration(float64(duration) / speed)

	// Step count follows from the target duration and the minimum per-step
	// interval, clamped to the configured band.
	steps := int(float64(duration.Milliseconds()) / e.cfg.StepIntervalMs)
	if steps < e.cfg.MinPathSteps {
		steps = e.cfg.MinPathSteps
	}
	if steps > e.cfg.MaxPathSteps {
		steps = e.cfg.MaxPathSteps
	}

	p0, p3 := start, end
	p1, p2 := e.controlPoints(start, end, dist)

	waypoints := make([]Waypoint, steps)
	prevEase := 0.0
	for i := 0; i < steps; i++ {
		t := float64(i) / float64(steps-1)
		omt := 1.0 - t
		omt2 := omt * omt
		omt3 := omt2 * omt
		t2 := t * t
		t3 := t2 * t

		point := p0.Mul(omt3).Add(p1.Mul(3 * omt2 * t)).Add(p2.Mul(3 * omt * t2)).Add(p3.Mul(t3))
		point = point.Add(e.jitterOffset(e.cfg.PositionJitterPx))

		// Ease the time axis so the pointer accelerates out of the start and
		// settles into the target.
		ease := computeEaseInOutCubic(t)
		delay := time.Duration((ease - prevEase) * float64(duration))
		prevEase = ease

		if i > 0 {
			delay = time.Duration(float64(delay) * (1 + (e.rng.Float64()*2-1)*e.cfg.DelayJitterFrac))
			if e.rng.Float64() < e.cfg.MicroPauseProbability {
				delay += time.Duration(e.cfg.MicroPauseMs.Sample(e.rng)) * time.Millisecond
			}
		} else {
			delay = 0
		}

		waypoints[i] = Waypoint{Point: point, Delay: delay}
	}
	return waypoints
}

// controlPoints derives the two Bezier control points. Both are offset
// perpendicular to the straight line; past the overshoot threshold the
// second one is instead biased beyond the target so the path overshoots and
// settles back, the way a fast hand movement does.
func (e *TrajectoryEngine) controlPoints(start, end Vector2D, dist float64) (Vector2D, Vector2D) {
	dir := end.Sub(start).Normalize()
	perp := dir.Perp()

	sign := 1.0
	if e.rng.Float64() < 0.5 {
		sign = -1.0
	}
	off1 := sign * dist * e.cfg.CurveOffsetFraction * (0.3 + 0.7*e.rng.Float64())
	p1 := start.Add(dir.Mul(dist / 3.0)).Add(perp.Mul(off1))

	if dist > e.cfg.OvershootThresholdPx {
		over := e.cfg.OvershootMin + e.rng.Float64()*(e.cfg.OvershootMax-e.cfg.OvershootMin)
		p2 := end.Add(dir.Mul(dist * over)).Add(perp.Mul(off1 * 0.25))
		return p1, p2
	}

	off2 := sign * dist * e.cfg.CurveOffsetFraction * (0.2 + 0.5*e.rng.Float64())
	p2 := start.Add(dir.Mul(dist * 2.0 / 3.0)).Add(perp.Mul(off2))
	return p1, p2
}

// variation derives an independently jittered copy of a cached path. Source
// waypoints are read only.
func (e *TrajectoryEngine) variation(src []Waypoint, posJitter, timingJitter float64) []Waypoint {
	out := make([]Waypoint, len(src))
	for i, wp := range src {
		scale := 1 + (e.rng.Float64()*2-1)*timingJitter
		out[i] = Waypoint{
			Point: wp.Point.Add(e.jitterOffset(posJitter)),
			Delay: time.Duration(float64(wp.Delay) * scale),
		}
	}
	return out
}

// jitterOffset returns a displacement with uniformly random direction and a
// magnitude strictly below radius. Bounding the magnitude rather than each
// axis keeps any two variations of one base curve within 2*radius of each
// other.
func (e *TrajectoryEngine) jitterOffset(radius float64) Vector2D {
	if radius <= 0 {
		return Vector2D{}
	}
	angle := e.rng.Float64() * 2 * math.Pi
	r := e.rng.Float64() * radius
	return Vector2D{X: math.Cos(angle) * r, Y: math.Sin(angle) * r}
}
