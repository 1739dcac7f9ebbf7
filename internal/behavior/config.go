package behavior

import (
	"math"
	"math/rand"
	"time"
)

// Range is a closed numeric interval used for sampled behavior parameters.
type Range struct {
	Min float64
	Max float64
}

// Sample draws a uniform value from the range. A nil rng returns the
// midpoint, which keeps behavior deterministic in tests that do not care
// about variance.
func (r Range) Sample(rng *rand.Rand) float64 {
	if rng == nil || r.Max <= r.Min {
		return (r.Min + r.Max) / 2
	}
	return r.Min + rng.Float64()*(r.Max-r.Min)
}

// Clamp bounds v to the range.
func (r Range) Clamp(v float64) float64 {
	return math.Max(r.Min, math.Min(r.Max, v))
}

// LearningConfig controls the gradual drift of profile characteristics as
// sessions complete. ErrorReductionFactor must be in (0, 1] and
// SpeedImprovementFactor must be >= 1; drift stops once a profile has
// completed PlateauSessions sessions.
type LearningConfig struct {
	Enabled                bool    `mapstructure:"enabled"`
	PlateauSessions        int     `mapstructure:"plateau_sessions"`
	ErrorReductionFactor   float64 `mapstructure:"error_reduction_factor"`
	SpeedImprovementFactor float64 `mapstructure:"speed_improvement_factor"`
}

// Config holds every tunable parameter of the behavioral core. All values are
// overridable defaults; the zero value is not usable, construct with
// DefaultConfig. Durations suffixed Ms are milliseconds.
type Config struct {
	// Rng drives every stochastic decision. A nil Rng collapses sampled
	// values to their midpoints or means, which tests rely on.
	Rng *rand.Rand

	// Characteristic ranges for newly created profiles.
	MouseSpeedRange    Range
	TypingSpeedRange   Range // words per minute
	ReadingSpeedRange  Range // words per minute
	ErrorRateRange     Range
	AttentionSpanRange Range // seconds
	ImpulsivenessRange Range

	// Time-of-day activity multiplier ranges. The three ranges are disjoint
	// so morning, afternoon and evening personas remain distinguishable.
	MorningRange   Range
	AfternoonRange Range
	EveningRange   Range

	// Fitts's law parameters for movement duration.
	FittsAMean, FittsAStdDev float64
	FittsBMean, FittsBStdDev float64
	FittsRandomness          float64

	// Path geometry.
	CurveOffsetFraction        float64
	OvershootThresholdPx       float64
	OvershootMin, OvershootMax float64
	MinPathSteps, MaxPathSteps int
	StepIntervalMs             float64
	PositionJitterPx           float64
	DelayJitterFrac            float64
	MicroPauseProbability      float64
	MicroPauseMs               Range

	// Path cache.
	CacheQuantumPx    int
	CacheCapacity     int
	CacheTTL          time.Duration
	ReuseJitterPx     float64
	ReuseTimingJitter float64

	// Typing cadence.
	TypoRateMean, TypoRateStdDev          float64
	KeyHoldMeanMs, KeyHoldStdDevMs        float64
	PressJitterFrac, HoldJitterFrac       float64
	CommonBigramFactor, AwkwardPairFactor float64
	SymbolDelayFactor                     float64
	PunctuationPauseMs                    Range
	SpacePauseMs                          Range
	UppercaseHoldMs                       Range
	ThinkingPauseProbability              float64
	ThinkingPauseMs                       Range
	TypoNoticeMs                          Range
	TypingHistoryCap                      int
	FatigueMaxFactor                      float64

	// Instance persona parameters, fixed per session by
	// FinalizeSessionPersona.
	FittsA, FittsB float64
	TypoRate       float64
	KeyHoldMs      float64

	// Clicking.
	ClickHoldMs         Range
	PreClickPauseMs     Range
	PostClickPauseMs    Range
	MicroAdjustMax      int
	ClickTargetFraction float64

	// Scrolling.
	ScrollStepPx               Range
	ScrollStepPauseMs          Range
	ScrollMidPauseProbability  float64
	ScrollMidPauseMs           Range
	ScrollOvershootProbability float64
	ScrollOvershootFraction    Range
	ScrollReturnPauseMs        Range

	// Idle wander.
	IdlePauseMs Range
	IdleDriftPx float64

	// Fatigue accumulation across simulator actions.
	FatigueIncreaseRate float64
	FatigueRecoveryRate float64

	Learning LearningConfig
}

// DefaultConfig returns the parameter set for an average user. Every value
// can be overridden before the config is handed to a Manager or Simulator.
func DefaultConfig() Config {
	return Config{
		MouseSpeedRange:    Range{Min: 0.7, Max: 1.3},
		TypingSpeedRange:   Range{Min: 35, Max: 65},
		ReadingSpeedRange:  Range{Min: 200, Max: 300},
		ErrorRateRange:     Range{Min: 0.01, Max: 0.03},
		AttentionSpanRange: Range{Min: 30, Max: 180},
		ImpulsivenessRange: Range{Min: 0.2, Max: 0.8},

		MorningRange:   Range{Min: 1.05, Max: 1.20},
		AfternoonRange: Range{Min: 0.90, Max: 1.05},
		EveningRange:   Range{Min: 0.70, Max: 0.90},

		FittsAMean: 100.0, FittsAStdDev: 15.0,
		FittsBMean: 120.0, FittsBStdDev: 20.0,
		FittsRandomness: 0.15,

		CurveOffsetFraction:  0.18,
		OvershootThresholdPx: 200.0,
		OvershootMin:         0.05,
		OvershootMax:         0.20,
		MinPathSteps:         10,
		MaxPathSteps:         30,
		StepIntervalMs:       12.0,
		PositionJitterPx:     1.0,
		DelayJitterFrac:      0.20,

		MicroPauseProbability: 0.10,
		MicroPauseMs:          Range{Min: 25, Max: 75},

		CacheQuantumPx:    10,
		CacheCapacity:     64,
		CacheTTL:          5 * time.Minute,
		ReuseJitterPx:     2.5,
		ReuseTimingJitter: 0.10,

		TypoRateMean: 0.03, TypoRateStdDev: 0.008,
		KeyHoldMeanMs: 55.0, KeyHoldStdDevMs: 12.0,
		PressJitterFrac:          0.20,
		HoldJitterFrac:           0.10,
		CommonBigramFactor:       0.8,
		AwkwardPairFactor:        1.3,
		SymbolDelayFactor:        1.4,
		PunctuationPauseMs:       Range{Min: 200, Max: 500},
		SpacePauseMs:             Range{Min: 50, Max: 150},
		UppercaseHoldMs:          Range{Min: 20, Max: 50},
		ThinkingPauseProbability: 0.05,
		ThinkingPauseMs:          Range{Min: 300, Max: 1000},
		TypoNoticeMs:             Range{Min: 100, Max: 200},
		TypingHistoryCap:         100,
		FatigueMaxFactor:         0.20,

		ClickHoldMs:         Range{Min: 30, Max: 120},
		PreClickPauseMs:     Range{Min: 80, Max: 220},
		PostClickPauseMs:    Range{Min: 120, Max: 350},
		MicroAdjustMax:      3,
		ClickTargetFraction: 0.70,

		ScrollStepPx:               Range{Min: 60, Max: 180},
		ScrollStepPauseMs:          Range{Min: 30, Max: 90},
		ScrollMidPauseProbability:  0.10,
		ScrollMidPauseMs:           Range{Min: 500, Max: 2000},
		ScrollOvershootProbability: 0.05,
		ScrollOvershootFraction:    Range{Min: 0.10, Max: 0.25},
		ScrollReturnPauseMs:        Range{Min: 150, Max: 400},

		IdlePauseMs: Range{Min: 800, Max: 2500},
		IdleDriftPx: 120.0,

		FatigueIncreaseRate: 0.005,
		FatigueRecoveryRate: 0.010,

		Learning: LearningConfig{
			Enabled:                true,
			PlateauSessions:        50,
			ErrorReductionFactor:   0.98,
			SpeedImprovementFactor: 1.005,
		},
	}
}

// FinalizeSessionPersona fixes the per-session instance parameters by
// perturbing the population means. Two sessions seeded differently end up
// with distinct motor characteristics even under the same profile.
func (c *Config) FinalizeSessionPersona(rng *rand.Rand) {
	c.Rng = rng
	c.FittsA = sampleGaussian(rng, c.FittsAMean, c.FittsAStdDev)
	c.FittsB = sampleGaussian(rng, c.FittsBMean, c.FittsBStdDev)
	c.TypoRate = sampleGaussian(rng, c.TypoRateMean, c.TypoRateStdDev)
	c.KeyHoldMs = sampleGaussian(rng, c.KeyHoldMeanMs, c.KeyHoldStdDevMs)

	// Keep the sampled persona inside plausible human bounds.
	c.FittsA = math.Max(20.0, c.FittsA)
	c.FittsB = math.Max(40.0, c.FittsB)
	c.TypoRate = math.Max(0.0, math.Min(0.25, c.TypoRate))
	c.KeyHoldMs = math.Max(20.0, c.KeyHoldMs)

	if c.ClickHoldMs.Max <= c.ClickHoldMs.Min {
		c.ClickHoldMs.Max = c.ClickHoldMs.Min + 1
	}
}

// sampleGaussian samples a value from a Gaussian distribution, returning the
// mean when no rng is supplied.
func sampleGaussian(rng *rand.Rand, mean, stdDev float64) float64 {
	if rng == nil {
		return mean
	}
	return mean + rng.NormFloat64()*stdDev
}
