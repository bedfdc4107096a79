package zone

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sells-group/zonestats/internal/model"
)

// fakeStore is an in-memory Store. Hooks let tests inject failures.
type fakeStore struct {
	mu    sync.Mutex
	docs  map[string]*fakeDoc
	calls struct {
		find, write, count int
	}

	onFind  func(call int) error
	onWrite func(id string) error
	// beforeClaim runs inside WriteZone before the unresolved check, to
	// simulate a concurrent writer.
	beforeClaim func(id string, docs map[string]*fakeDoc)
	onCount     func() error
}

type fakeDoc struct {
	location string
	zone     string
}

func newFakeStore(locations map[string]string) *fakeStore {
	s := &fakeStore{docs: make(map[string]*fakeDoc, len(locations))}
	for id, loc := range locations {
		s.docs[id] = &fakeDoc{location: loc}
	}
	return s
}

func (s *fakeStore) FindUnresolved(_ context.Context, afterID string, limit int) ([]model.UnresolvedListing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls.find++
	if s.onFind != nil {
		if err := s.onFind(s.calls.find); err != nil {
			return nil, err
		}
	}

	ids := make([]string, 0, len(s.docs))
	for id, d := range s.docs {
		if id > afterID && !model.IsResolvedZone(d.zone) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}

	out := make([]model.UnresolvedListing, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.UnresolvedListing{ID: id, LocationText: s.docs[id].location})
	}
	return out, nil
}

func (s *fakeStore) WriteZone(_ context.Context, id, zone string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls.write++
	if s.onWrite != nil {
		if err := s.onWrite(id); err != nil {
			return false, err
		}
	}
	if s.beforeClaim != nil {
		s.beforeClaim(id, s.docs)
	}

	d, ok := s.docs[id]
	if !ok || model.IsResolvedZone(d.zone) {
		return false, nil
	}
	d.zone = zone
	return true, nil
}

func (s *fakeStore) CountByZone(_ context.Context) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls.count++
	if s.onCount != nil {
		if err := s.onCount(); err != nil {
			return nil, err
		}
	}

	counts := make(map[string]int)
	for _, d := range s.docs {
		if d.zone != "" {
			counts[d.zone]++
		}
	}
	return counts, nil
}

func (s *fakeStore) zoneOf(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[id].zone
}

// gaugeStore tracks how many WriteZone calls are in flight. Each write holds
// its slot for delay so concurrent writers overlap.
type gaugeStore struct {
	*fakeStore
	delay time.Duration

	inFlight      atomic.Int32
	maxInFlight   atomic.Int32
	findsMidBatch atomic.Int32
}

func (g *gaugeStore) FindUnresolved(ctx context.Context, afterID string, limit int) ([]model.UnresolvedListing, error) {
	if g.inFlight.Load() != 0 {
		g.findsMidBatch.Add(1)
	}
	return g.fakeStore.FindUnresolved(ctx, afterID, limit)
}

func (g *gaugeStore) WriteZone(ctx context.Context, id, zone string) (bool, error) {
	n := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	for {
		peak := g.maxInFlight.Load()
		if n <= peak || g.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(g.delay)
	return g.fakeStore.WriteZone(ctx, id, zone)
}
