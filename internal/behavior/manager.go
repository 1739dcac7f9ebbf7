package behavior

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/undetectlabs/mimic/api/schemas"
)

// ErrNoCurrentProfile is returned by lifecycle operations that need a
// current profile when none has been created or loaded.
var ErrNoCurrentProfile = errors.New("behavior: no current profile")

// Manager owns the behavior profile driving a session flow: creation,
// loading, observation recording, session completion and the import/export
// lifecycle. Each Manager holds at most one "current" profile; concurrent
// sessions get their own Manager so no behavioral state is ever shared
// between identities.
//
// Observation recording is deliberately forgiving: record calls are silent
// no-ops without a current profile and swallow persistence failures, because
// losing telemetry must never abort an otherwise successful session.
// Lifecycle operations (create, load, complete, import, export, delete)
// surface store errors directly.
type Manager struct {
	mu    sync.RWMutex
	store schemas.ProfileStore
	cfg   Config
	rng   *rand.Rand
	log   *zap.Logger
	nowFn func() time.Time

	current *schemas.BehaviorProfile
	known   map[string]*schemas.BehaviorProfile

	// Live ring views over the current profile's bounded sample buffers.
	// Hydrated on load, flushed back into the document before every persist.
	trajectories *Ring[schemas.TrajectorySample]
	clicks       *Ring[schemas.Point]
	scrolls      *Ring[float64]
	pauses       *Ring[float64]
	errorTrend   *Ring[float64]
	speedTrend   *Ring[float64]
}

// Overrides pins selected characteristics during profile creation instead of
// drawing them from the configured ranges. Nil fields keep the random draw.
type Overrides struct {
	MouseSpeed    *float64
	TypingSpeed   *float64
	ReadingSpeed  *float64
	ErrorRate     *float64
	AttentionSpan *float64
	Impulsiveness *float64
}

// NewManager constructs a Manager over the given store. A nil rng is
// replaced with a time-seeded one; tests inject a fixed seed for exact
// reproducibility.
func NewManager(store schemas.ProfileStore, cfg Config, rng *rand.Rand, logger *zap.Logger) *Manager {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store: store,
		cfg:   cfg,
		rng:   rng,
		log:   logger.Named("profiles"),
		nowFn: time.Now,
		known: make(map[string]*schemas.BehaviorProfile),

		trajectories: NewRing[schemas.TrajectorySample](schemas.MaxTrajectorySamples),
		clicks:       NewRing[schemas.Point](schemas.MaxClickSamples),
		scrolls:      NewRing[float64](schemas.MaxScrollSamples),
		pauses:       NewRing[float64](schemas.MaxPauseSamples),
		errorTrend:   NewRing[float64](schemas.MaxTrendSamples),
		speedTrend:   NewRing[float64](schemas.MaxTrendSamples),
	}
}

// CreateProfile builds a new profile named name, drawing every
// characteristic uniformly from its configured range unless overridden,
// persists it immediately and makes it current. An empty name fails with
// *schemas.ValidationError.
func (m *Manager) CreateProfile(ctx context.Context, name string, overrides *Overrides) (*schemas.BehaviorProfile, error) {
	if name == "" {
		return nil, &schemas.ValidationError{Field: "name", Message: "must not be empty"}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFn()
	p := &schemas.BehaviorProfile{
		ID:         schemas.NewProfileID(),
		Name:       name,
		CreatedAt:  now,
		LastUsedAt: now,
		Characteristics: schemas.Characteristics{
			MouseSpeed:    m.cfg.MouseSpeedRange.Sample(m.rng),
			TypingSpeed:   m.cfg.TypingSpeedRange.Sample(m.rng),
			ReadingSpeed:  m.cfg.ReadingSpeedRange.Sample(m.rng),
			ErrorRate:     m.cfg.ErrorRateRange.Sample(m.rng),
			AttentionSpan: m.cfg.AttentionSpanRange.Sample(m.rng),
			Impulsiveness: m.cfg.ImpulsivenessRange.Sample(m.rng),
		},
		Patterns: schemas.BehaviorPatterns{
			DigraphTimings: make(map[string]float64),
		},
		TimeOfDay: schemas.TimeOfDayProfile{
			Morning:   m.cfg.MorningRange.Sample(m.rng),
			Afternoon: m.cfg.AfternoonRange.Sample(m.rng),
			Evening:   m.cfg.EveningRange.Sample(m.rng),
		},
	}
	applyOverrides(p, overrides)

	if err := m.store.SaveProfile(ctx, p); err != nil {
		return nil, err
	}

	m.known[p.ID] = p
	m.setCurrentLocked(p)
	m.log.Info("profile created",
		zap.String("id", p.ID),
		zap.String("name", p.Name))
	return p.Clone(), nil
}

// LoadProfile makes the identified profile current, preferring the in-memory
// index and falling back to the store. The last-used timestamp is updated
// and persisted before the profile becomes current. Unknown ids fail with
// *schemas.NotFoundError.
func (m *Manager) LoadProfile(ctx context.Context, id string) (*schemas.BehaviorProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.known[id]
	if !ok {
		loaded, err := m.store.GetProfile(ctx, id)
		if err != nil {
			return nil, err
		}
		p = loaded
	}

	p.LastUsedAt = m.nowFn()
	if err := m.store.SaveProfile(ctx, p); err != nil {
		return nil, err
	}

	m.known[p.ID] = p
	m.setCurrentLocked(p)
	m.log.Info("profile loaded", zap.String("id", p.ID), zap.String("name", p.Name))
	return p.Clone(), nil
}

// Current returns a snapshot of the current profile, or nil when none is
// loaded.
func (m *Manager) Current() *schemas.BehaviorProfile {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	m.flushLocked()
	return m.current.Clone()
}

// RecordMouseMovement appends a trajectory observation. Once at least ten
// samples exist, the profile's mouse speed multiplier is recomputed as
// 1000 / mean(trajectory durations in ms).
func (m *Manager) RecordMouseMovement(ctx context.Context, distance float64, duration time.Duration, steps int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return
	}

	m.trajectories.Push(schemas.TrajectorySample{
		Distance:   distance,
		DurationMs: durationMs(duration),
		Steps:      steps,
	})

	if m.trajectories.Len() >= 10 {
		var total float64
		samples := m.trajectories.Items()
		for _, s := range samples {
			total += s.DurationMs
		}
		if avg := total / float64(len(samples)); avg > 0 {
			m.current.Characteristics.MouseSpeed = 1000.0 / avg
		}
	}
	m.persistQuietlyLocked(ctx, "mouse movement")
}

// RecordClick appends a click location observation.
func (m *Manager) RecordClick(ctx context.Context, x, y float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return
	}
	m.clicks.Push(schemas.Point{X: x, Y: y})
	m.persistQuietlyLocked(ctx, "click")
}

// RecordScroll appends a scroll distance observation.
func (m *Manager) RecordScroll(ctx context.Context, distance float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return
	}
	m.scrolls.Push(distance)
	m.persistQuietlyLocked(ctx, "scroll")
}

// RecordPause appends a pause duration observation.
func (m *Manager) RecordPause(ctx context.Context, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return
	}
	m.pauses.Push(durationMs(duration))
	m.persistQuietlyLocked(ctx, "pause")
}

// RecordTyping folds an observed digraph duration into the profile. The
// first observation is stored verbatim; later ones update an exponential
// moving average weighted 0.8 toward the stored value.
func (m *Manager) RecordTyping(ctx context.Context, digraph string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || len(digraph) == 0 {
		return
	}

	ms := durationMs(duration)
	if stored, ok := m.current.Patterns.DigraphTimings[digraph]; ok {
		m.current.Patterns.DigraphTimings[digraph] = stored*0.8 + ms*0.2
	} else {
		m.current.Patterns.DigraphTimings[digraph] = ms
	}
	m.persistQuietlyLocked(ctx, "typing")
}

// CompleteSession closes out one session against the current profile:
// counters advance by one, the running average session duration folds in
// duration, the observed error rate joins the error trend, and, while
// learning is enabled and the profile is below its plateau, the error rate
// and typing speed drift by their configured factors. The updated document
// is persisted; persistence failure surfaces to the caller.
func (m *Manager) CompleteSession(ctx context.Context, duration time.Duration, errorCount, actionCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return ErrNoCurrentProfile
	}
	p := m.current

	p.SessionCount++
	p.Learning.SessionsCompleted++
	n := float64(p.Learning.SessionsCompleted)
	p.Learning.AvgSessionDurationMs = (p.Learning.AvgSessionDurationMs*(n-1) + durationMs(duration)) / n

	observedRate := 0.0
	if actionCount > 0 {
		observedRate = float64(errorCount) / float64(actionCount)
	}
	m.errorTrend.Push(observedRate)

	learning := m.cfg.Learning
	if learning.Enabled && p.Learning.SessionsCompleted < learning.PlateauSessions {
		p.Characteristics.ErrorRate *= learning.ErrorReductionFactor
		p.Characteristics.TypingSpeed *= learning.SpeedImprovementFactor
	}
	m.speedTrend.Push(p.Characteristics.TypingSpeed)

	if err := m.persistLocked(ctx); err != nil {
		return err
	}
	m.log.Info("session completed",
		zap.String("id", p.ID),
		zap.Int("sessions", p.Learning.SessionsCompleted),
		zap.Float64("errorRate", observedRate))
	return nil
}

// TimeOfDayMultiplier returns the current profile's activity multiplier for
// the local hour: morning for [6,12), afternoon for [12,18), evening
// otherwise. Without a current profile it returns the neutral 1.0.
func (m *Manager) TimeOfDayMultiplier() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return 1.0
	}
	hour := m.nowFn().Hour()
	switch {
	case hour >= 6 && hour < 12:
		return m.current.TimeOfDay.Morning
	case hour >= 12 && hour < 18:
		return m.current.TimeOfDay.Afternoon
	default:
		return m.current.TimeOfDay.Evening
	}
}

// DigraphSpeed returns the learned timing for an ordered character pair and
// whether it has been observed yet.
func (m *Manager) DigraphSpeed(digraph string) (time.Duration, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return 0, false
	}
	ms, ok := m.current.Patterns.DigraphTimings[digraph]
	if !ok {
		return 0, false
	}
	return msDuration(ms), true
}

// AverageScrollDistance returns the mean recorded scroll distance, or 400
// units before any sample exists.
func (m *Manager) AverageScrollDistance() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil || m.scrolls.Len() == 0 {
		return 400.0
	}
	var total float64
	for _, d := range m.scrolls.Items() {
		total += d
	}
	return total / float64(m.scrolls.Len())
}

// AveragePauseDuration returns the mean recorded pause, or one second before
// any sample exists.
func (m *Manager) AveragePauseDuration() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil || m.pauses.Len() == 0 {
		return time.Second
	}
	var total float64
	for _, d := range m.pauses.Items() {
		total += d
	}
	return msDuration(total / float64(m.pauses.Len()))
}

// MouseSpeed returns the current profile's mouse speed multiplier, or the
// neutral 1.0 without one.
func (m *Manager) MouseSpeed() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return 1.0
	}
	return m.current.Characteristics.MouseSpeed
}

// TypingWPM returns the current profile's typing speed in words per minute,
// falling back to the midpoint of the configured range.
func (m *Manager) TypingWPM() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return m.cfg.TypingSpeedRange.Sample(nil)
	}
	return m.current.Characteristics.TypingSpeed
}

// ErrorRate returns the current profile's error rate, falling back to the
// midpoint of the configured range.
func (m *Manager) ErrorRate() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return m.cfg.ErrorRateRange.Sample(nil)
	}
	return m.current.Characteristics.ErrorRate
}

// ReadingWPM returns the current profile's reading speed in words per
// minute, falling back to the midpoint of the configured range.
func (m *Manager) ReadingWPM() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return m.cfg.ReadingSpeedRange.Sample(nil)
	}
	return m.current.Characteristics.ReadingSpeed
}

// AttentionSpan returns how long the current profile stays on task before
// drifting, falling back to the midpoint of the configured range.
func (m *Manager) AttentionSpan() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seconds := m.cfg.AttentionSpanRange.Sample(nil)
	if m.current != nil {
		seconds = m.current.Characteristics.AttentionSpan
	}
	return time.Duration(seconds * float64(time.Second))
}

// Impulsiveness returns the current profile's impulsiveness, falling back to
// the midpoint of the configured range.
func (m *Manager) Impulsiveness() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return m.cfg.ImpulsivenessRange.Sample(nil)
	}
	return m.current.Characteristics.Impulsiveness
}

// ExportProfile returns the complete stored document for id as a
// self-contained unit. Unknown ids fail with *schemas.NotFoundError.
func (m *Manager) ExportProfile(ctx context.Context, id string) (*schemas.BehaviorProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil && m.current.ID == id {
		m.flushLocked()
		return m.current.Clone(), nil
	}
	if p, ok := m.known[id]; ok {
		return p.Clone(), nil
	}
	return m.store.GetProfile(ctx, id)
}

// ImportProfile validates and persists a previously exported document,
// overwriting any stored profile with the same id. Malformed documents fail
// with *schemas.ValidationError.
func (m *Manager) ImportProfile(ctx context.Context, doc *schemas.BehaviorProfile) error {
	if doc == nil {
		return &schemas.ValidationError{Field: "profile", Message: "document is nil"}
	}
	if err := doc.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	imported := doc.Clone()
	if err := m.store.SaveProfile(ctx, imported); err != nil {
		return err
	}
	m.known[imported.ID] = imported
	m.log.Info("profile imported",
		zap.String("id", imported.ID),
		zap.String("name", imported.Name))
	return nil
}

// DeleteProfile removes the stored profile. If it was current, the current
// reference is cleared. Unknown ids fail with *schemas.NotFoundError.
func (m *Manager) DeleteProfile(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.DeleteProfile(ctx, id); err != nil {
		return err
	}
	delete(m.known, id)
	if m.current != nil && m.current.ID == id {
		m.current = nil
		m.hydrateLocked(nil)
	}
	m.log.Info("profile deleted", zap.String("id", id))
	return nil
}

// ListProfiles returns every stored profile.
func (m *Manager) ListProfiles(ctx context.Context) ([]*schemas.BehaviorProfile, error) {
	return m.store.ListProfiles(ctx)
}

// setCurrentLocked swaps the current profile and rebinds the ring views to
// its sample buffers.
func (m *Manager) setCurrentLocked(p *schemas.BehaviorProfile) {
	m.current = p
	m.hydrateLocked(p)
}

// hydrateLocked loads the ring views from a profile document. A nil profile
// empties them.
func (m *Manager) hydrateLocked(p *schemas.BehaviorProfile) {
	if p == nil {
		m.trajectories.Replace(nil)
		m.clicks.Replace(nil)
		m.scrolls.Replace(nil)
		m.pauses.Replace(nil)
		m.errorTrend.Replace(nil)
		m.speedTrend.Replace(nil)
		return
	}
	m.trajectories.Replace(p.Patterns.Trajectories)
	m.clicks.Replace(p.Patterns.ClickPositions)
	m.scrolls.Replace(p.Patterns.ScrollDistances)
	m.pauses.Replace(p.Patterns.PauseDurations)
	m.errorTrend.Replace(p.Learning.ErrorTrend)
	m.speedTrend.Replace(p.Learning.SpeedTrend)
}

// flushLocked writes the ring views back into the current document.
func (m *Manager) flushLocked() {
	p := m.current
	if p == nil {
		return
	}
	p.Patterns.Trajectories = m.trajectories.Items()
	p.Patterns.ClickPositions = m.clicks.Items()
	p.Patterns.ScrollDistances = m.scrolls.Items()
	p.Patterns.PauseDurations = m.pauses.Items()
	p.Learning.ErrorTrend = m.errorTrend.Items()
	p.Learning.SpeedTrend = m.speedTrend.Items()
}

// persistLocked flushes ring state and saves the current document.
func (m *Manager) persistLocked(ctx context.Context) error {
	if m.current == nil {
		return nil
	}
	m.flushLocked()
	return m.store.SaveProfile(ctx, m.current)
}

// persistQuietlyLocked saves after an observation, logging instead of
// failing: telemetry loss must not break the session.
func (m *Manager) persistQuietlyLocked(ctx context.Context, what string) {
	if err := m.persistLocked(ctx); err != nil {
		m.log.Warn("failed to persist observation",
			zap.String("observation", what),
			zap.Error(err))
	}
}

func applyOverrides(p *schemas.BehaviorProfile, o *Overrides) {
	if o == nil {
		return
	}
	if o.MouseSpeed != nil {
		p.Characteristics.MouseSpeed = *o.MouseSpeed
	}
	if o.TypingSpeed != nil {
		p.Characteristics.TypingSpeed = *o.TypingSpeed
	}
	if o.ReadingSpeed != nil {
		p.Characteristics.ReadingSpeed = *o.ReadingSpeed
	}
	if o.ErrorRate != nil {
		p.Characteristics.ErrorRate = *o.ErrorRate
	}
	if o.AttentionSpan != nil {
		p.Characteristics.AttentionSpan = *o.AttentionSpan
	}
	if o.Impulsiveness != nil {
		p.Characteristics.Impulsiveness = *o.Impulsiveness
	}
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func msDuration(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}
