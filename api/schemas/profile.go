// api/schemas/profile.go
package schemas

import (
	"time"

	"github.com/google/uuid"
)

// Buffer bounds for the learned-pattern histories. These are invariants of the
// document shape, not tunables: a profile read back from any store never holds
// more samples than these.
const (
	MaxTrajectorySamples = 100
	MaxClickSamples      = 50
	MaxScrollSamples     = 50
	MaxPauseSamples      = 50
	MaxTrendSamples      = 10
)

// BehaviorProfile is the persisted document for one simulated identity. It is
// the unit of storage, of export/import, and of everything the realism engines
// consume as a baseline. All duration-valued fields inside the document are
// plain milliseconds so the document stays portable across runtimes.
type BehaviorProfile struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	CreatedAt    time.Time `json:"createdAt"`
	LastUsedAt   time.Time `json:"lastUsedAt"`
	SessionCount int       `json:"sessionCount"`

	Characteristics Characteristics  `json:"characteristics"`
	Patterns        BehaviorPatterns `json:"patterns"`
	TimeOfDay       TimeOfDayProfile `json:"timeOfDay"`
	Learning        LearningState    `json:"learning"`
}

// Characteristics are the stable behavioral traits of an identity. MouseSpeed
// is a multiplier over baseline pointer pacing; TypingSpeed and ReadingSpeed
// are words per minute; AttentionSpan is seconds. ErrorRate and Impulsiveness
// are probabilities in [0,1].
type Characteristics struct {
	MouseSpeed    float64 `json:"mouseSpeed"`
	TypingSpeed   float64 `json:"typingSpeed"`
	ReadingSpeed  float64 `json:"readingSpeed"`
	ErrorRate     float64 `json:"errorRate"`
	AttentionSpan float64 `json:"attentionSpan"`
	Impulsiveness float64 `json:"impulsiveness"`
}

// BehaviorPatterns holds the bounded observation histories recorded during
// sessions. Slices are most-recent-last and never exceed the Max*Samples
// bounds. DigraphTimings maps an ordered character pair to its smoothed
// inter-key delay in milliseconds.
type BehaviorPatterns struct {
	DigraphTimings  map[string]float64 `json:"digraphTimings"`
	Trajectories    []TrajectorySample `json:"trajectories"`
	ClickPositions  []Point            `json:"clickPositions"`
	ScrollDistances []float64          `json:"scrollDistances"`
	PauseDurations  []float64          `json:"pauseDurations"`
}

// TrajectorySample is the compact record of one completed pointer movement.
type TrajectorySample struct {
	Distance   float64 `json:"distance"`
	DurationMs float64 `json:"durationMs"`
	Steps      int     `json:"steps"`
}

// TimeOfDayProfile scales activity pacing by local time of day. The three
// multipliers are drawn from disjoint ranges at creation so an identity is
// measurably sharper in the morning than in the evening.
type TimeOfDayProfile struct {
	Morning   float64 `json:"morning"`
	Afternoon float64 `json:"afternoon"`
	Evening   float64 `json:"evening"`
}

// LearningState tracks cross-session "experience". AvgSessionDurationMs is a
// running mean over all completed sessions; the trend slices are bounded by
// MaxTrendSamples.
type LearningState struct {
	SessionsCompleted    int       `json:"sessionsCompleted"`
	AvgSessionDurationMs float64   `json:"avgSessionDurationMs"`
	ErrorTrend           []float64 `json:"errorTrend"`
	SpeedTrend           []float64 `json:"speedTrend"`
}

// NewProfileID returns a globally unique profile identifier. IDs are never
// reused, including after deletion.
func NewProfileID() string {
	return uuid.NewString()
}

// Clone returns a deep copy of the profile. Stores and the manager exchange
// clones only, so no two components ever alias the same mutable document.
func (p *BehaviorProfile) Clone() *BehaviorProfile {
	if p == nil {
		return nil
	}
	cp := *p
	if p.Patterns.DigraphTimings != nil {
		cp.Patterns.DigraphTimings = make(map[string]float64, len(p.Patterns.DigraphTimings))
		for k, v := range p.Patterns.DigraphTimings {
			cp.Patterns.DigraphTimings[k] = v
		}
	}
	cp.Patterns.Trajectories = append([]TrajectorySample(nil), p.Patterns.Trajectories...)
	cp.Patterns.ClickPositions = append([]Point(nil), p.Patterns.ClickPositions...)
	cp.Patterns.ScrollDistances = append([]float64(nil), p.Patterns.ScrollDistances...)
	cp.Patterns.PauseDurations = append([]float64(nil), p.Patterns.PauseDurations...)
	cp.Learning.ErrorTrend = append([]float64(nil), p.Learning.ErrorTrend...)
	cp.Learning.SpeedTrend = append([]float64(nil), p.Learning.SpeedTrend...)
	return &cp
}

// Validate checks that the document carries every required field and that the
// probability-like characteristics are inside [0,1]. It is applied to imported
// documents before they reach a store.
func (p *BehaviorProfile) Validate() error {
	if p == nil {
		return &ValidationError{Field: "profile", Message: "document is empty"}
	}
	if p.ID == "" {
		return &ValidationError{Field: "id", Message: "missing profile id"}
	}
	if p.Name == "" {
		return &ValidationError{Field: "name", Message: "missing profile name"}
	}
	if p.CreatedAt.IsZero() {
		return &ValidationError{Field: "createdAt", Message: "missing creation timestamp"}
	}
	if p.SessionCount < 0 {
		return &ValidationError{Field: "sessionCount", Message: "session count cannot be negative"}
	}
	c := p.Characteristics
	if c.TypingSpeed <= 0 {
		return &ValidationError{Field: "characteristics.typingSpeed", Message: "typing speed must be positive"}
	}
	if c.ReadingSpeed <= 0 {
		return &ValidationError{Field: "characteristics.readingSpeed", Message: "reading speed must be positive"}
	}
	if c.MouseSpeed <= 0 {
		return &ValidationError{Field: "characteristics.mouseSpeed", Message: "mouse speed must be positive"}
	}
	if c.ErrorRate < 0 || c.ErrorRate > 1 {
		return &ValidationError{Field: "characteristics.errorRate", Message: "error rate must be within [0,1]"}
	}
	if c.Impulsiveness < 0 || c.Impulsiveness > 1 {
		return &ValidationError{Field: "characteristics.impulsiveness", Message: "impulsiveness must be within [0,1]"}
	}
	tod := p.TimeOfDay
	if tod.Morning <= 0 || tod.Afternoon <= 0 || tod.Evening <= 0 {
		return &ValidationError{Field: "timeOfDay", Message: "time-of-day multipliers must be positive"}
	}
	return nil
}
