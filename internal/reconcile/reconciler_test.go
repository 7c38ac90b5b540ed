package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/iamwavecut/warden/internal/db"
	werr "github.com/iamwavecut/warden/internal/errors"
)

type fakeModeration struct {
	expired  int
	replayed int
}

func (f *fakeModeration) ExpireDue(context.Context, time.Time) (int, error) {
	return f.expired, nil
}

func (f *fakeModeration) ReplayPending(context.Context) (int, error) {
	return f.replayed, nil
}

type fakeSpaces struct {
	mu       sync.Mutex
	resumed  []string
	repaired map[string]int
	busy     map[string]bool
}

func (f *fakeSpaces) Resume(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy[id] {
		return werr.Conflict("in flight")
	}
	f.resumed = append(f.resumed, id)
	return nil
}

func (f *fakeSpaces) Repair(_ context.Context, id string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy[id] {
		return 0, werr.Conflict("in flight")
	}
	return f.repaired[id], nil
}

type fakeLister struct {
	spaces []*db.EventSpace
}

func (f *fakeLister) ListSpacesInState(_ context.Context, states ...db.SpaceState) ([]*db.EventSpace, error) {
	var out []*db.EventSpace
	for _, sp := range f.spaces {
		for _, st := range states {
			if sp.State == st {
				out = append(out, sp)
				break
			}
		}
	}
	return out, nil
}

func TestRunOnce(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	lister := &fakeLister{spaces: []*db.EventSpace{
		{ID: "stale", State: db.StateProvisioning, UpdatedAt: now.Add(-time.Hour)},
		{ID: "fresh", State: db.StateProvisioning, UpdatedAt: now.Add(-time.Minute)},
		{ID: "queued", State: db.StateRequested, UpdatedAt: now.Add(-time.Hour)},
		{ID: "done", State: db.StateArchived, UpdatedAt: now.Add(-time.Hour)},
		{ID: "live", State: db.StateActive, UpdatedAt: now.Add(-time.Hour)},
	}}
	spaces := &fakeSpaces{repaired: map[string]int{"live": 2}, busy: map[string]bool{}}
	r := NewService(&fakeModeration{expired: 1, replayed: 3}, spaces, lister, time.Minute, 10*time.Minute).(*reconciler)
	r.now = func() time.Time { return now }

	report := r.RunOnce(context.Background())
	want := Report{Expired: 1, Replayed: 3, Resumed: 2, Repaired: 2}
	if report != want {
		t.Errorf("want %+v, got %+v", want, report)
	}
	if len(spaces.resumed) != 2 {
		t.Fatalf("want stale and queued resumed, got %v", spaces.resumed)
	}
	for _, id := range spaces.resumed {
		if id != "stale" && id != "queued" {
			t.Errorf("unexpected resume of %q", id)
		}
	}
}

func TestRunOnceSkipsBusySpaces(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	lister := &fakeLister{spaces: []*db.EventSpace{
		{ID: "stale", State: db.StateDecommissioning, UpdatedAt: now.Add(-time.Hour)},
		{ID: "live", State: db.StateActive, UpdatedAt: now.Add(-time.Hour)},
	}}
	spaces := &fakeSpaces{repaired: map[string]int{}, busy: map[string]bool{"stale": true, "live": true}}
	r := NewService(&fakeModeration{}, spaces, lister, time.Minute, 10*time.Minute).(*reconciler)
	r.now = func() time.Time { return now }

	report := r.RunOnce(context.Background())
	if report.Resumed != 0 || report.Repaired != 0 {
		t.Errorf("busy spaces must be skipped without noise, got %+v", report)
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	r := NewService(&fakeModeration{}, &fakeSpaces{busy: map[string]bool{}}, &fakeLister{}, time.Hour, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := r.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := r.Start(ctx); err != nil {
		t.Fatalf("second start must be a no-op: %v", err)
	}
	if err := r.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := r.Stop(); err != nil {
		t.Fatalf("second stop must be a no-op: %v", err)
	}
}
