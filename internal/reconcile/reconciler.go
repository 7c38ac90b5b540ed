// Package reconcile periodically drives the system back towards its recorded
// intent: overdue sanctions are lifted, failed platform calls replayed, stuck
// event space transitions resumed and drifted resources re-created.
package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/warden/internal/db"
	werr "github.com/iamwavecut/warden/internal/errors"
)

type moderationEngine interface {
	ExpireDue(ctx context.Context, now time.Time) (int, error)
	ReplayPending(ctx context.Context) (int, error)
}

type spaceManager interface {
	Resume(ctx context.Context, id string) error
	Repair(ctx context.Context, id string) (int, error)
}

type spaceLister interface {
	ListSpacesInState(ctx context.Context, states ...db.SpaceState) ([]*db.EventSpace, error)
}

// Report sums what one sweep changed. Safe to log as-is.
type Report struct {
	Expired  int
	Replayed int
	Resumed  int
	Repaired int
}

type Service interface {
	Start(ctx context.Context) error
	Stop() error
	// RunOnce executes a full sweep immediately, outside the timer. Used by
	// the operator command and at startup.
	RunOnce(ctx context.Context) Report
}

type reconciler struct {
	moderation moderationEngine
	spaces     spaceManager
	registry   spaceLister
	interval   time.Duration
	grace      time.Duration
	now        func() time.Time

	runMutex sync.Mutex
	started  bool
	stop     chan struct{}
	wg       sync.WaitGroup

	logger *log.Entry
}

func NewService(moderation moderationEngine, spaces spaceManager, registry spaceLister, interval, grace time.Duration) Service {
	return &reconciler{
		moderation: moderation,
		spaces:     spaces,
		registry:   registry,
		interval:   interval,
		grace:      grace,
		now:        time.Now,
		logger:     log.WithField("context", "reconcile"),
	}
}

func (r *reconciler) Start(ctx context.Context) error {
	r.runMutex.Lock()
	defer r.runMutex.Unlock()
	if r.started {
		return nil
	}
	r.started = true
	r.stop = make(chan struct{})

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stop:
				return
			case <-ticker.C:
				report := r.RunOnce(ctx)
				if report != (Report{}) {
					r.logger.WithField("report", report).Info("sweep done")
				}
			}
		}
	}()
	return nil
}

func (r *reconciler) Stop() error {
	r.runMutex.Lock()
	defer r.runMutex.Unlock()
	if !r.started {
		return nil
	}
	close(r.stop)
	r.wg.Wait()
	r.started = false
	return nil
}

// RunOnce walks the four concerns in order. Every item failure is logged and
// skipped so one broken record never starves the rest of the sweep.
func (r *reconciler) RunOnce(ctx context.Context) Report {
	var report Report
	now := r.now()

	expired, err := r.moderation.ExpireDue(ctx, now)
	if err != nil {
		r.logger.WithError(err).Error("cant expire due sanctions")
	}
	report.Expired = expired

	replayed, err := r.moderation.ReplayPending(ctx)
	if err != nil {
		r.logger.WithError(err).Error("cant replay pending sanctions")
	}
	report.Replayed = replayed

	report.Resumed = r.resumeStuck(ctx, now)
	report.Repaired = r.repairDrift(ctx)
	return report
}

// resumeStuck re-drives transitions that have sat untouched past the grace
// period. Fresh transitions are left alone; their owner is still working.
func (r *reconciler) resumeStuck(ctx context.Context, now time.Time) int {
	stuck, err := r.registry.ListSpacesInState(ctx, db.StateRequested, db.StateProvisioning, db.StateDecommissioning)
	if err != nil {
		r.logger.WithError(err).Error("cant list stuck spaces")
		return 0
	}
	resumed := 0
	for _, sp := range stuck {
		if now.Sub(sp.UpdatedAt) < r.grace {
			continue
		}
		if err := r.spaces.Resume(ctx, sp.ID); err != nil {
			if errors.Is(err, werr.ErrConflict) {
				continue
			}
			r.logger.WithError(err).WithField("space", sp.Name).Warn("cant resume space")
			continue
		}
		resumed++
	}
	return resumed
}

func (r *reconciler) repairDrift(ctx context.Context) int {
	active, err := r.registry.ListSpacesInState(ctx, db.StateActive)
	if err != nil {
		r.logger.WithError(err).Error("cant list active spaces")
		return 0
	}
	repaired := 0
	for _, sp := range active {
		n, err := r.spaces.Repair(ctx, sp.ID)
		repaired += n
		if err != nil && !errors.Is(err, werr.ErrConflict) {
			r.logger.WithError(err).WithField("space", sp.Name).Warn("cant repair space")
		}
	}
	return repaired
}
