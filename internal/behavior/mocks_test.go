package behavior

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/undetectlabs/mimic/api/schemas"
)

// surfaceEvent is one primitive dispatched to the mock surface, recorded in
// dispatch order.
type surfaceEvent struct {
	kind string // "move", "down", "up", "keydown", "keyup", "scroll", "wait"
	x, y float64
	key  rune
	wait time.Duration
}

// mockSurface is a scripted Surface double. It records every dispatched
// primitive in order and supports injecting an error on a specific call or
// cancelling a context mid-sequence, so tests can verify that actions abort
// cleanly at step boundaries.
type mockSurface struct {
	t  *testing.T
	mu sync.Mutex

	events   []surfaceEvent
	bounds   map[string]*schemas.Rect
	viewport schemas.Size

	callCount    int
	failOnCall   int
	returnErr    error
	cancelOnCall int
	cancelFunc   context.CancelFunc

	// Overrides for the query methods. When nil, the scripted defaults above
	// are used.
	MockElementBounds func(ctx context.Context, selector string) (*schemas.Rect, error)
	MockViewportSize  func(ctx context.Context) (schemas.Size, error)
}

func newMockSurface(t *testing.T) *mockSurface {
	t.Helper()
	return &mockSurface{
		t:        t,
		bounds:   make(map[string]*schemas.Rect),
		viewport: schemas.Size{Width: 1366, Height: 900},
	}
}

// dispatch records one primitive and applies the scripted injections. The
// failing call is counted and recorded before its error is returned, so tests
// can assert exactly how far a sequence progressed.
func (m *mockSurface) dispatch(ctx context.Context, ev surfaceEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount++
	m.events = append(m.events, ev)

	if m.cancelOnCall > 0 && m.callCount == m.cancelOnCall && m.cancelFunc != nil {
		m.cancelFunc()
	}
	if m.failOnCall > 0 && m.callCount >= m.failOnCall {
		return m.returnErr
	}
	return nil
}

func (m *mockSurface) PointerMove(ctx context.Context, x, y float64) error {
	return m.dispatch(ctx, surfaceEvent{kind: "move", x: x, y: y})
}

func (m *mockSurface) PointerDown(ctx context.Context) error {
	return m.dispatch(ctx, surfaceEvent{kind: "down"})
}

func (m *mockSurface) PointerUp(ctx context.Context) error {
	return m.dispatch(ctx, surfaceEvent{kind: "up"})
}

func (m *mockSurface) KeyDown(ctx context.Context, key rune) error {
	return m.dispatch(ctx, surfaceEvent{kind: "keydown", key: key})
}

func (m *mockSurface) KeyUp(ctx context.Context, key rune) error {
	return m.dispatch(ctx, surfaceEvent{kind: "keyup", key: key})
}

func (m *mockSurface) ScrollBy(ctx context.Context, dx, dy float64) error {
	return m.dispatch(ctx, surfaceEvent{kind: "scroll", x: dx, y: dy})
}

func (m *mockSurface) Wait(ctx context.Context, d time.Duration) error {
	return m.dispatch(ctx, surfaceEvent{kind: "wait", wait: d})
}

func (m *mockSurface) ElementBounds(ctx context.Context, selector string) (*schemas.Rect, error) {
	if m.MockElementBounds != nil {
		return m.MockElementBounds(ctx, selector)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.bounds[selector]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (m *mockSurface) ViewportSize(ctx context.Context) (schemas.Size, error) {
	if m.MockViewportSize != nil {
		return m.MockViewportSize(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewport, nil
}

// recorded returns a copy of the dispatched events.
func (m *mockSurface) recorded() []surfaceEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]surfaceEvent, len(m.events))
	copy(out, m.events)
	return out
}

// eventsOfKind filters the recorded events down to one primitive.
func (m *mockSurface) eventsOfKind(kind string) []surfaceEvent {
	var out []surfaceEvent
	for _, ev := range m.recorded() {
		if ev.kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func (m *mockSurface) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// fakeStore is an in-memory ProfileStore with optional per-operation
// overrides for failure injection. The default behavior clones documents on
// both sides, matching the aliasing contract real stores honor.
type fakeStore struct {
	mu        sync.Mutex
	profiles  map[string]*schemas.BehaviorProfile
	saveCount int

	MockSave   func(ctx context.Context, p *schemas.BehaviorProfile) error
	MockGet    func(ctx context.Context, id string) (*schemas.BehaviorProfile, error)
	MockDelete func(ctx context.Context, id string) error
	MockList   func(ctx context.Context) ([]*schemas.BehaviorProfile, error)
}

func newFakeStore() *fakeStore {
	return &fakeStore{profiles: make(map[string]*schemas.BehaviorProfile)}
}

func (s *fakeStore) SaveProfile(ctx context.Context, p *schemas.BehaviorProfile) error {
	if s.MockSave != nil {
		return s.MockSave(ctx, p)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveCount++
	s.profiles[p.ID] = p.Clone()
	return nil
}

func (s *fakeStore) GetProfile(ctx context.Context, id string) (*schemas.BehaviorProfile, error) {
	if s.MockGet != nil {
		return s.MockGet(ctx, id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, &schemas.NotFoundError{ID: id}
	}
	return p.Clone(), nil
}

func (s *fakeStore) DeleteProfile(ctx context.Context, id string) error {
	if s.MockDelete != nil {
		return s.MockDelete(ctx, id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[id]; !ok {
		return &schemas.NotFoundError{ID: id}
	}
	delete(s.profiles, id)
	return nil
}

func (s *fakeStore) ListProfiles(ctx context.Context) ([]*schemas.BehaviorProfile, error) {
	if s.MockList != nil {
		return s.MockList(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*schemas.BehaviorProfile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p.Clone())
	}
	return out, nil
}

func (s *fakeStore) Close() error { return nil }

// seed places a document directly into the backing map, bypassing SaveProfile
// and its counter.
func (s *fakeStore) seed(p *schemas.BehaviorProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ID] = p.Clone()
}

// stored returns a copy of the persisted document, or nil when absent.
func (s *fakeStore) stored(id string) *schemas.BehaviorProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profiles[id].Clone()
}

func (s *fakeStore) saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveCount
}

func fptr(v float64) *float64 { return &v }
