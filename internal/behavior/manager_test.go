package behavior

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/undetectlabs/mimic/api/schemas"
)

func newTestManager(t *testing.T, cfg Config, seed int64) (*Manager, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	return NewManager(store, cfg, rand.New(rand.NewSource(seed)), zap.NewNop()), store
}

func TestCreateProfile_SamplesWithinConfiguredRanges(t *testing.T) {
	cfg := DefaultConfig()
	m, store := newTestManager(t, cfg, 1)

	p, err := m.CreateProfile(context.Background(), "alice", nil)
	require.NoError(t, err)
	require.NotNil(t, p)

	assert.Len(t, p.ID, 36)
	assert.Equal(t, "alice", p.Name)
	assert.False(t, p.CreatedAt.IsZero())
	assert.True(t, p.CreatedAt.Equal(p.LastUsedAt))
	assert.NotNil(t, p.Patterns.DigraphTimings)

	c := p.Characteristics
	assert.GreaterOrEqual(t, c.MouseSpeed, cfg.MouseSpeedRange.Min)
	assert.LessOrEqual(t, c.MouseSpeed, cfg.MouseSpeedRange.Max)
	assert.GreaterOrEqual(t, c.TypingSpeed, cfg.TypingSpeedRange.Min)
	assert.LessOrEqual(t, c.TypingSpeed, cfg.TypingSpeedRange.Max)
	assert.GreaterOrEqual(t, c.ReadingSpeed, cfg.ReadingSpeedRange.Min)
	assert.LessOrEqual(t, c.ReadingSpeed, cfg.ReadingSpeedRange.Max)
	assert.GreaterOrEqual(t, c.ErrorRate, cfg.ErrorRateRange.Min)
	assert.LessOrEqual(t, c.ErrorRate, cfg.ErrorRateRange.Max)
	assert.GreaterOrEqual(t, c.AttentionSpan, cfg.AttentionSpanRange.Min)
	assert.LessOrEqual(t, c.AttentionSpan, cfg.AttentionSpanRange.Max)
	assert.GreaterOrEqual(t, c.Impulsiveness, cfg.ImpulsivenessRange.Min)
	assert.LessOrEqual(t, c.Impulsiveness, cfg.ImpulsivenessRange.Max)

	// The three day-part multipliers come from disjoint ranges.
	tod := p.TimeOfDay
	assert.GreaterOrEqual(t, tod.Morning, cfg.MorningRange.Min)
	assert.LessOrEqual(t, tod.Morning, cfg.MorningRange.Max)
	assert.GreaterOrEqual(t, tod.Afternoon, cfg.AfternoonRange.Min)
	assert.LessOrEqual(t, tod.Afternoon, cfg.AfternoonRange.Max)
	assert.GreaterOrEqual(t, tod.Evening, cfg.EveningRange.Min)
	assert.LessOrEqual(t, tod.Evening, cfg.EveningRange.Max)
	assert.Greater(t, tod.Morning, tod.Afternoon)
	assert.Greater(t, tod.Afternoon, tod.Evening)

	// Created profiles persist immediately and become current.
	assert.NotNil(t, store.stored(p.ID))
	assert.Equal(t, 1, store.saves())
	require.NotNil(t, m.Current())
	assert.Equal(t, p.ID, m.Current().ID)
}

func TestCreateProfile_EmptyNameFails(t *testing.T) {
	m, store := newTestManager(t, DefaultConfig(), 2)

	_, err := m.CreateProfile(context.Background(), "", nil)

	var verr *schemas.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "name", verr.Field)
	assert.Equal(t, 0, store.saves())
	assert.Nil(t, m.Current())
}

func TestCreateProfile_OverridesPinCharacteristics(t *testing.T) {
	m, _ := newTestManager(t, DefaultConfig(), 3)

	p, err := m.CreateProfile(context.Background(), "pinned", &Overrides{
		TypingSpeed: fptr(60),
		ErrorRate:   fptr(0.02),
		MouseSpeed:  fptr(1.0),
	})
	require.NoError(t, err)

	assert.InDelta(t, 60.0, p.Characteristics.TypingSpeed, 1e-9)
	assert.InDelta(t, 0.02, p.Characteristics.ErrorRate, 1e-9)
	assert.InDelta(t, 1.0, p.Characteristics.MouseSpeed, 1e-9)

	// Unpinned traits still come from their ranges.
	assert.GreaterOrEqual(t, p.Characteristics.ReadingSpeed, DefaultConfig().ReadingSpeedRange.Min)
	assert.LessOrEqual(t, p.Characteristics.ReadingSpeed, DefaultConfig().ReadingSpeedRange.Max)
}

func TestCreateProfile_ReturnsDetachedClone(t *testing.T) {
	m, _ := newTestManager(t, DefaultConfig(), 4)

	p, err := m.CreateProfile(context.Background(), "detached", nil)
	require.NoError(t, err)

	p.Characteristics.TypingSpeed = 999
	p.Patterns.DigraphTimings["xx"] = 1

	cur := m.Current()
	require.NotNil(t, cur)
	assert.NotEqual(t, 999.0, cur.Characteristics.TypingSpeed)
	assert.NotContains(t, cur.Patterns.DigraphTimings, "xx")
}

func TestLoadProfile_UpdatesLastUsedAndPersistsFirst(t *testing.T) {
	m1, store := newTestManager(t, DefaultConfig(), 5)
	created, err := m1.CreateProfile(context.Background(), "roamer", nil)
	require.NoError(t, err)

	m2 := NewManager(store, DefaultConfig(), rand.New(rand.NewSource(6)), zap.NewNop())
	later := time.Date(2025, time.June, 3, 14, 0, 0, 0, time.UTC)
	m2.nowFn = func() time.Time { return later }

	loaded, err := m2.LoadProfile(context.Background(), created.ID)
	require.NoError(t, err)

	assert.Equal(t, created.ID, loaded.ID)
	assert.True(t, loaded.LastUsedAt.Equal(later))

	// The refreshed timestamp reached the store before the profile became
	// current.
	persisted := store.stored(created.ID)
	require.NotNil(t, persisted)
	assert.True(t, persisted.LastUsedAt.Equal(later))
	require.NotNil(t, m2.Current())
	assert.Equal(t, created.ID, m2.Current().ID)
}

func TestLoadProfile_UnknownIDFails(t *testing.T) {
	m, _ := newTestManager(t, DefaultConfig(), 7)

	_, err := m.LoadProfile(context.Background(), "0b5f4c46-0000-0000-0000-000000000000")

	var nfe *schemas.NotFoundError
	require.ErrorAs(t, err, &nfe)
	assert.Nil(t, m.Current())
}

func TestLoadProfile_SaveFailureLeavesCurrentUnset(t *testing.T) {
	m, store := newTestManager(t, DefaultConfig(), 8)
	doc := validProfileDoc("stranded")
	store.seed(doc)

	boom := &schemas.IOError{Op: "save profile", Err: errors.New("disk full")}
	store.MockSave = func(ctx context.Context, p *schemas.BehaviorProfile) error { return boom }

	_, err := m.LoadProfile(context.Background(), doc.ID)

	var ioe *schemas.IOError
	require.ErrorAs(t, err, &ioe)
	assert.Nil(t, m.Current())
}

func TestLoadProfile_HydratesRecordedPatterns(t *testing.T) {
	m1, store := newTestManager(t, DefaultConfig(), 9)
	created, err := m1.CreateProfile(context.Background(), "scroller", nil)
	require.NoError(t, err)

	ctx := context.Background()
	m1.RecordScroll(ctx, 100)
	m1.RecordScroll(ctx, 200)
	m1.RecordScroll(ctx, 300)

	m2 := NewManager(store, DefaultConfig(), rand.New(rand.NewSource(10)), zap.NewNop())
	_, err = m2.LoadProfile(ctx, created.ID)
	require.NoError(t, err)

	assert.InDelta(t, 200.0, m2.AverageScrollDistance(), 1e-9)
}

func TestRecordObservations_NoCurrentProfileIsSilentNoOp(t *testing.T) {
	m, store := newTestManager(t, DefaultConfig(), 11)
	ctx := context.Background()

	m.RecordMouseMovement(ctx, 500, 300*time.Millisecond, 20)
	m.RecordClick(ctx, 10, 20)
	m.RecordScroll(ctx, 400)
	m.RecordPause(ctx, time.Second)
	m.RecordTyping(ctx, "th", 120*time.Millisecond)

	assert.Equal(t, 0, store.saves())
	assert.Nil(t, m.Current())

	_, ok := m.DigraphSpeed("th")
	assert.False(t, ok)
}

func TestRecordObservations_BuffersAreBounded(t *testing.T) {
	m, _ := newTestManager(t, DefaultConfig(), 12)
	ctx := context.Background()
	_, err := m.CreateProfile(ctx, "sampler", nil)
	require.NoError(t, err)

	for i := 0; i < 120; i++ {
		m.RecordMouseMovement(ctx, float64(i), 150*time.Millisecond, 12)
	}
	for i := 0; i < 60; i++ {
		m.RecordClick(ctx, float64(i), 0)
		m.RecordScroll(ctx, float64(i))
		m.RecordPause(ctx, time.Duration(i)*time.Millisecond)
	}

	cur := m.Current()
	require.NotNil(t, cur)

	require.Len(t, cur.Patterns.Trajectories, schemas.MaxTrajectorySamples)
	assert.InDelta(t, 20.0, cur.Patterns.Trajectories[0].Distance, 1e-9, "oldest samples drop first")

	require.Len(t, cur.Patterns.ClickPositions, schemas.MaxClickSamples)
	assert.InDelta(t, 10.0, cur.Patterns.ClickPositions[0].X, 1e-9)

	require.Len(t, cur.Patterns.ScrollDistances, schemas.MaxScrollSamples)
	assert.InDelta(t, 10.0, cur.Patterns.ScrollDistances[0], 1e-9)

	require.Len(t, cur.Patterns.PauseDurations, schemas.MaxPauseSamples)
	assert.InDelta(t, 10.0, cur.Patterns.PauseDurations[0], 1e-9)
}

func TestRecordMouseMovement_RecalibratesSpeedAtTenSamples(t *testing.T) {
	m, _ := newTestManager(t, DefaultConfig(), 13)
	ctx := context.Background()
	_, err := m.CreateProfile(ctx, "mouser", &Overrides{MouseSpeed: fptr(1.0)})
	require.NoError(t, err)

	for i := 0; i < 9; i++ {
		m.RecordMouseMovement(ctx, 400, 200*time.Millisecond, 15)
	}
	assert.InDelta(t, 1.0, m.MouseSpeed(), 1e-9, "below ten samples the multiplier stays put")

	m.RecordMouseMovement(ctx, 400, 200*time.Millisecond, 15)
	assert.InDelta(t, 5.0, m.MouseSpeed(), 1e-9, "1000 / mean duration in ms")
}

func TestRecordTyping_ExponentialMovingAverage(t *testing.T) {
	m, _ := newTestManager(t, DefaultConfig(), 14)
	ctx := context.Background()
	_, err := m.CreateProfile(ctx, "typist", nil)
	require.NoError(t, err)

	m.RecordTyping(ctx, "th", 100*time.Millisecond)
	d, ok := m.DigraphSpeed("th")
	require.True(t, ok)
	assert.Equal(t, 100*time.Millisecond, d, "first observation lands verbatim")

	m.RecordTyping(ctx, "th", 200*time.Millisecond)
	d, ok = m.DigraphSpeed("th")
	require.True(t, ok)
	assert.Equal(t, 120*time.Millisecond, d, "0.8*stored + 0.2*observed")

	_, ok = m.DigraphSpeed("zz")
	assert.False(t, ok)

	// Empty digraphs are discarded.
	before := len(m.Current().Patterns.DigraphTimings)
	m.RecordTyping(ctx, "", 100*time.Millisecond)
	assert.Len(t, m.Current().Patterns.DigraphTimings, before)
}

func TestCompleteSession_FixedScenario(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Learning.Enabled = false
	m, store := newTestManager(t, cfg, 15)
	ctx := context.Background()

	p, err := m.CreateProfile(ctx, "steady", &Overrides{
		TypingSpeed: fptr(60),
		ErrorRate:   fptr(0.02),
	})
	require.NoError(t, err)

	require.NoError(t, m.CompleteSession(ctx, time.Second, 1, 50))

	cur := m.Current()
	require.NotNil(t, cur)
	assert.Equal(t, 1, cur.SessionCount)
	assert.Equal(t, 1, cur.Learning.SessionsCompleted)
	assert.InDelta(t, 1000.0, cur.Learning.AvgSessionDurationMs, 1e-9)

	require.Len(t, cur.Learning.ErrorTrend, 1)
	assert.InDelta(t, 0.02, cur.Learning.ErrorTrend[0], 1e-12)

	// Learning is off: the characteristics do not drift.
	assert.InDelta(t, 60.0, cur.Characteristics.TypingSpeed, 1e-9)
	assert.InDelta(t, 0.02, cur.Characteristics.ErrorRate, 1e-9)
	require.Len(t, cur.Learning.SpeedTrend, 1)
	assert.InDelta(t, 60.0, cur.Learning.SpeedTrend[0], 1e-9)

	persisted := store.stored(p.ID)
	require.NotNil(t, persisted)
	assert.Equal(t, 1, persisted.SessionCount)
}

func TestCompleteSession_RunningMeanOverSessions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Learning.Enabled = false
	m, _ := newTestManager(t, cfg, 16)
	ctx := context.Background()
	_, err := m.CreateProfile(ctx, "regular", nil)
	require.NoError(t, err)

	for i, d := range []time.Duration{time.Second, 2 * time.Second, 3 * time.Second} {
		require.NoError(t, m.CompleteSession(ctx, d, 0, 10))
		assert.Equal(t, i+1, m.Current().Learning.SessionsCompleted)
	}

	cur := m.Current()
	assert.Equal(t, 3, cur.SessionCount)
	assert.InDelta(t, 2000.0, cur.Learning.AvgSessionDurationMs, 1e-9)
	assert.Equal(t, []float64{0, 0, 0}, cur.Learning.ErrorTrend)
}

func TestCompleteSession_LearningDriftUntilPlateau(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Learning = LearningConfig{
		Enabled:                true,
		PlateauSessions:        2,
		ErrorReductionFactor:   0.98,
		SpeedImprovementFactor: 1.005,
	}
	m, _ := newTestManager(t, cfg, 17)
	ctx := context.Background()
	_, err := m.CreateProfile(ctx, "learner", &Overrides{
		TypingSpeed: fptr(60),
		ErrorRate:   fptr(0.02),
	})
	require.NoError(t, err)

	// Session one sits below the plateau and drifts.
	require.NoError(t, m.CompleteSession(ctx, time.Second, 0, 10))
	cur := m.Current()
	assert.InDelta(t, 0.0196, cur.Characteristics.ErrorRate, 1e-9)
	assert.InDelta(t, 60.3, cur.Characteristics.TypingSpeed, 1e-9)
	require.Len(t, cur.Learning.SpeedTrend, 1)
	assert.InDelta(t, 60.3, cur.Learning.SpeedTrend[0], 1e-9)

	// Session two reaches the plateau: no further drift.
	require.NoError(t, m.CompleteSession(ctx, time.Second, 0, 10))
	cur = m.Current()
	assert.InDelta(t, 0.0196, cur.Characteristics.ErrorRate, 1e-9)
	assert.InDelta(t, 60.3, cur.Characteristics.TypingSpeed, 1e-9)
	require.Len(t, cur.Learning.SpeedTrend, 2)
}

func TestCompleteSession_ZeroActionsMeansZeroErrorRate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Learning.Enabled = false
	m, _ := newTestManager(t, cfg, 18)
	ctx := context.Background()
	_, err := m.CreateProfile(ctx, "idle", nil)
	require.NoError(t, err)

	require.NoError(t, m.CompleteSession(ctx, 500*time.Millisecond, 3, 0))

	trend := m.Current().Learning.ErrorTrend
	require.Len(t, trend, 1)
	assert.Zero(t, trend[0])
}

func TestCompleteSession_NoCurrentProfile(t *testing.T) {
	m, _ := newTestManager(t, DefaultConfig(), 19)

	err := m.CompleteSession(context.Background(), time.Second, 0, 10)
	assert.ErrorIs(t, err, ErrNoCurrentProfile)
}

func TestCompleteSession_PersistFailureSurfaces(t *testing.T) {
	m, store := newTestManager(t, DefaultConfig(), 20)
	ctx := context.Background()
	_, err := m.CreateProfile(ctx, "doomed", nil)
	require.NoError(t, err)

	store.MockSave = func(ctx context.Context, p *schemas.BehaviorProfile) error {
		return &schemas.IOError{Op: "save profile", Err: errors.New("disk full")}
	}

	err = m.CompleteSession(ctx, time.Second, 0, 10)
	var ioe *schemas.IOError
	assert.ErrorAs(t, err, &ioe)
}

func TestTimeOfDayMultiplier_HourBuckets(t *testing.T) {
	m, _ := newTestManager(t, DefaultConfig(), 21)
	p, err := m.CreateProfile(context.Background(), "daywalker", nil)
	require.NoError(t, err)
	tod := p.TimeOfDay

	tests := []struct {
		hour int
		want float64
	}{
		{6, tod.Morning},
		{11, tod.Morning},
		{12, tod.Afternoon},
		{17, tod.Afternoon},
		{18, tod.Evening},
		{23, tod.Evening},
		{0, tod.Evening},
		{5, tod.Evening},
	}
	for _, tc := range tests {
		m.nowFn = func() time.Time {
			return time.Date(2025, time.June, 3, tc.hour, 30, 0, 0, time.UTC)
		}
		assert.InDelta(t, tc.want, m.TimeOfDayMultiplier(), 1e-9, "hour %d", tc.hour)
	}
}

func TestTimeOfDayMultiplier_NeutralWithoutProfile(t *testing.T) {
	m, _ := newTestManager(t, DefaultConfig(), 22)
	assert.InDelta(t, 1.0, m.TimeOfDayMultiplier(), 1e-9)
}

func TestAverages_DefaultsAndRecordedMeans(t *testing.T) {
	m, _ := newTestManager(t, DefaultConfig(), 23)
	ctx := context.Background()

	// Without a profile, and with a fresh profile, the defaults apply.
	assert.InDelta(t, 400.0, m.AverageScrollDistance(), 1e-9)
	assert.Equal(t, time.Second, m.AveragePauseDuration())

	_, err := m.CreateProfile(ctx, "walker", nil)
	require.NoError(t, err)
	assert.InDelta(t, 400.0, m.AverageScrollDistance(), 1e-9)
	assert.Equal(t, time.Second, m.AveragePauseDuration())

	m.RecordScroll(ctx, 100)
	m.RecordScroll(ctx, 300)
	assert.InDelta(t, 200.0, m.AverageScrollDistance(), 1e-9)

	m.RecordPause(ctx, 400*time.Millisecond)
	m.RecordPause(ctx, 800*time.Millisecond)
	assert.Equal(t, 600*time.Millisecond, m.AveragePauseDuration())
}

func TestCharacteristicGetters_MidpointFallbacks(t *testing.T) {
	m, _ := newTestManager(t, DefaultConfig(), 24)

	assert.InDelta(t, 1.0, m.MouseSpeed(), 1e-9)
	assert.InDelta(t, 50.0, m.TypingWPM(), 1e-9)
	assert.InDelta(t, 0.02, m.ErrorRate(), 1e-12)
	assert.InDelta(t, 250.0, m.ReadingWPM(), 1e-9)
	assert.Equal(t, 105*time.Second, m.AttentionSpan())
	assert.InDelta(t, 0.5, m.Impulsiveness(), 1e-9)

	_, err := m.CreateProfile(context.Background(), "present", &Overrides{TypingSpeed: fptr(42)})
	require.NoError(t, err)
	assert.InDelta(t, 42.0, m.TypingWPM(), 1e-9)
}

func TestExportProfile_SnapshotsCurrentState(t *testing.T) {
	m, _ := newTestManager(t, DefaultConfig(), 25)
	ctx := context.Background()
	p, err := m.CreateProfile(ctx, "exported", nil)
	require.NoError(t, err)
	m.RecordScroll(ctx, 120)

	doc, err := m.ExportProfile(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, []float64{120}, doc.Patterns.ScrollDistances)

	// The exported document is detached from live state.
	doc.Patterns.ScrollDistances[0] = 999
	doc.Patterns.DigraphTimings["zz"] = 1

	cur := m.Current()
	assert.Equal(t, []float64{120}, cur.Patterns.ScrollDistances)
	assert.NotContains(t, cur.Patterns.DigraphTimings, "zz")
}

func TestExportProfile_NonCurrentAndUnknown(t *testing.T) {
	m, _ := newTestManager(t, DefaultConfig(), 26)
	ctx := context.Background()

	a, err := m.CreateProfile(ctx, "first", nil)
	require.NoError(t, err)
	_, err = m.CreateProfile(ctx, "second", nil)
	require.NoError(t, err)

	doc, err := m.ExportProfile(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", doc.Name)

	_, err = m.ExportProfile(ctx, "59d7a0c3-0000-0000-0000-000000000000")
	var nfe *schemas.NotFoundError
	assert.ErrorAs(t, err, &nfe)
}

// validProfileDoc builds a minimal document that passes Validate.
func validProfileDoc(name string) *schemas.BehaviorProfile {
	return &schemas.BehaviorProfile{
		ID:         schemas.NewProfileID(),
		Name:       name,
		CreatedAt:  time.Date(2025, time.May, 1, 9, 0, 0, 0, time.UTC),
		LastUsedAt: time.Date(2025, time.May, 1, 9, 0, 0, 0, time.UTC),
		Characteristics: schemas.Characteristics{
			MouseSpeed:    1.1,
			TypingSpeed:   58,
			ReadingSpeed:  240,
			ErrorRate:     0.02,
			AttentionSpan: 90,
			Impulsiveness: 0.4,
		},
		TimeOfDay: schemas.TimeOfDayProfile{Morning: 1.1, Afternoon: 0.95, Evening: 0.8},
	}
}

func TestImportProfile_RoundTrip(t *testing.T) {
	m, store := newTestManager(t, DefaultConfig(), 27)
	ctx := context.Background()

	doc := validProfileDoc("imported")
	require.NoError(t, m.ImportProfile(ctx, doc))

	// Importing persists but does not switch the current profile.
	assert.Nil(t, m.Current())
	assert.NotNil(t, store.stored(doc.ID))

	// The imported identity is immediately loadable.
	loaded, err := m.LoadProfile(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "imported", loaded.Name)
	assert.InDelta(t, 58.0, loaded.Characteristics.TypingSpeed, 1e-9)

	// The caller's document stays detached from what was stored.
	doc.Name = "mutated"
	exported, err := m.ExportProfile(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "imported", exported.Name)
}

func TestImportProfile_RejectsMalformedDocuments(t *testing.T) {
	m, _ := newTestManager(t, DefaultConfig(), 28)
	ctx := context.Background()

	missingName := validProfileDoc("x")
	missingName.Name = ""

	badRate := validProfileDoc("y")
	badRate.Characteristics.ErrorRate = 1.5

	negativeSessions := validProfileDoc("z")
	negativeSessions.SessionCount = -1

	tests := []struct {
		name  string
		doc   *schemas.BehaviorProfile
		field string
	}{
		{"nil document", nil, "profile"},
		{"missing name", missingName, "name"},
		{"error rate out of range", badRate, "characteristics.errorRate"},
		{"negative session count", negativeSessions, "sessionCount"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := m.ImportProfile(ctx, tc.doc)
			var verr *schemas.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
		})
	}
}

func TestDeleteProfile_ClearsCurrent(t *testing.T) {
	m, store := newTestManager(t, DefaultConfig(), 29)
	ctx := context.Background()
	p, err := m.CreateProfile(ctx, "done", nil)
	require.NoError(t, err)

	require.NoError(t, m.DeleteProfile(ctx, p.ID))
	assert.Nil(t, m.Current())
	assert.Nil(t, store.stored(p.ID))

	var nfe *schemas.NotFoundError
	assert.ErrorAs(t, m.DeleteProfile(ctx, p.ID), &nfe)
}

func TestDeleteProfile_KeepsUnrelatedCurrent(t *testing.T) {
	m, _ := newTestManager(t, DefaultConfig(), 30)
	ctx := context.Background()
	a, err := m.CreateProfile(ctx, "first", nil)
	require.NoError(t, err)
	b, err := m.CreateProfile(ctx, "second", nil)
	require.NoError(t, err)

	require.NoError(t, m.DeleteProfile(ctx, a.ID))

	cur := m.Current()
	require.NotNil(t, cur)
	assert.Equal(t, b.ID, cur.ID)
}

func TestListProfiles_ReturnsAllStored(t *testing.T) {
	m, _ := newTestManager(t, DefaultConfig(), 31)
	ctx := context.Background()
	_, err := m.CreateProfile(ctx, "one", nil)
	require.NoError(t, err)
	_, err = m.CreateProfile(ctx, "two", nil)
	require.NoError(t, err)

	all, err := m.ListProfiles(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestManager_ConcurrentRecordingIsSafe(t *testing.T) {
	defer goleak.VerifyNone(t)

	m, _ := newTestManager(t, DefaultConfig(), 32)
	ctx := context.Background()
	_, err := m.CreateProfile(ctx, "crowd", nil)
	require.NoError(t, err)

	const workers = 8
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				m.RecordScroll(ctx, float64(worker*50+j))
				m.RecordPause(ctx, time.Duration(j+1)*time.Millisecond)
				m.RecordClick(ctx, float64(j), float64(worker))
				m.RecordTyping(ctx, fmt.Sprintf("a%d", worker), 120*time.Millisecond)
			}
		}(w)
	}
	wg.Wait()

	cur := m.Current()
	require.NotNil(t, cur)
	assert.Len(t, cur.Patterns.ScrollDistances, schemas.MaxScrollSamples)
	assert.Len(t, cur.Patterns.ClickPositions, schemas.MaxClickSamples)
	assert.Len(t, cur.Patterns.PauseDurations, schemas.MaxPauseSamples)

	require.NoError(t, m.CompleteSession(ctx, time.Minute, 2, 400))
	assert.Equal(t, 0, cur.SessionCount, "snapshots stay detached from live state")
	assert.Equal(t, 1, m.Current().SessionCount)
}
