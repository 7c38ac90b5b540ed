// Package moderation houses the infraction escalation engine: it turns
// classifier verdicts and moderator commands into durable infraction records
// and platform sanctions.
package moderation

import (
	"context"
	"fmt"
	"time"

	"github.com/pborman/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/warden/internal/db"
	werr "github.com/iamwavecut/warden/internal/errors"
	"github.com/iamwavecut/warden/internal/lease"
	"github.com/iamwavecut/warden/internal/observability"
	"github.com/iamwavecut/warden/internal/platform"
)

const (
	sanctionMaxRetries = 3
	sanctionRetryStep  = 300 * time.Millisecond

	defaultReason = "No reason given ..."

	// IssuedBySystem marks infractions created from classifier verdicts.
	IssuedBySystem = "system"
)

type infractionStore interface {
	InsertInfraction(ctx context.Context, inf *db.Infraction) error
	UpdateInfraction(ctx context.Context, inf *db.Infraction) error
	GetInfraction(ctx context.Context, id string) (*db.Infraction, error)
	ListUserInfractions(ctx context.Context, userID int64, since time.Time) ([]*db.Infraction, error)
	ListPendingActions(ctx context.Context) ([]*db.Infraction, error)
	ListDueExpiries(ctx context.Context, now time.Time) ([]*db.Infraction, error)
}

type sanctioner interface {
	TimeoutMember(ctx context.Context, userID int64, duration time.Duration) error
	UntimeoutMember(ctx context.Context, userID int64) error
	KickMember(ctx context.Context, userID int64) error
	BanMember(ctx context.Context, userID int64, duration time.Duration) error
	UnbanMember(ctx context.Context, userID int64) error
}

type Service interface {
	// Report records an infraction from a verdict or a moderator report and
	// escalates per policy. The record always survives, even when applying
	// the sanction fails.
	Report(ctx context.Context, userID int64, reason string, weight int, issuedBy string) (db.InfractionKind, string, error)
	// Manual applies a sanction directly, bypassing the policy walk, still
	// recording an infraction first.
	Manual(ctx context.Context, userID int64, kind db.InfractionKind, duration time.Duration, reason, issuedBy string) (string, error)
	Revoke(ctx context.Context, infractionID, revokedBy string) error
	Summary(ctx context.Context, userID int64) (int, error)
	History(ctx context.Context, userID int64) ([]*db.Infraction, error)
	ExpireDue(ctx context.Context, now time.Time) (int, error)
	ReplayPending(ctx context.Context) (int, error)
}

type engine struct {
	store   infractionStore
	adapter sanctioner
	policy  *Policy
	window  time.Duration
	leases  *lease.Registry
	now     func() time.Time
	logger  *log.Entry
}

func NewService(store infractionStore, adapter sanctioner, policy *Policy, window time.Duration, leases *lease.Registry) Service {
	return &engine{
		store:   store,
		adapter: adapter,
		policy:  policy,
		window:  window,
		leases:  leases,
		now:     time.Now,
		logger:  log.WithField("context", "escalation"),
	}
}

func userKey(userID int64) string {
	return fmt.Sprintf("user:%d", userID)
}

func (e *engine) Report(ctx context.Context, userID int64, reason string, weight int, issuedBy string) (db.InfractionKind, string, error) {
	if userID <= 0 {
		return "", "", werr.Validation("subject user id must be positive")
	}
	if weight <= 0 {
		return "", "", werr.Validation("severity weight must be positive")
	}
	if reason == "" {
		reason = defaultReason
	}
	if issuedBy == "" {
		issuedBy = IssuedBySystem
	}

	release, err := e.leases.Acquire(ctx, userKey(userID))
	if err != nil {
		return "", "", err
	}

	now := e.now()
	inf := &db.Infraction{
		ID:       uuid.NewRandom().String(),
		UserID:   userID,
		Kind:     db.KindNote,
		Reason:   reason,
		Weight:   weight,
		IssuedBy: issuedBy,
		IssuedAt: now,
	}
	// The record must exist before any platform action; no report is lost.
	if err := e.store.InsertInfraction(ctx, inf); err != nil {
		release()
		return "", "", err
	}

	summary, err := e.summaryLocked(ctx, userID, now)
	if err != nil {
		release()
		return "", "", err
	}

	rule, matched := e.policy.Match(summary)
	if matched {
		inf.Kind = rule.Action
		if rule.Duration > 0 {
			expires := now.Add(rule.Duration)
			inf.ExpiresAt = &expires
		}
		if err := e.store.UpdateInfraction(ctx, inf); err != nil {
			release()
			return "", "", err
		}
	}
	release()

	observability.RecordInfraction(string(inf.Kind))
	if !matched {
		return db.KindNote, inf.ID, nil
	}

	// The decision is durable; the platform call runs without the lease.
	if err := e.applySanction(ctx, rule.Action, userID, rule.Duration); err != nil {
		e.logger.WithError(err).WithField("user_id", userID).Error("sanction failed, leaving for reconciliation")
		if uerr := e.commitOutcome(ctx, userID, inf.ID, func(i *db.Infraction) { i.PendingAction = true }); uerr != nil {
			e.logger.WithError(uerr).Error("cant flag pending action")
		}
	}
	return rule.Action, inf.ID, nil
}

// commitOutcome writes the result of a platform call back to the record. The
// record is re-read under the lease first: a revocation or another correction
// that landed while the call was in flight must never be overwritten by the
// stale in-memory copy.
func (e *engine) commitOutcome(ctx context.Context, userID int64, infractionID string, mutate func(*db.Infraction)) error {
	release, err := e.leases.Acquire(ctx, userKey(userID))
	if err != nil {
		return err
	}
	defer release()

	inf, err := e.store.GetInfraction(ctx, infractionID)
	if err != nil {
		return err
	}
	mutate(inf)
	return e.store.UpdateInfraction(ctx, inf)
}

func (e *engine) Manual(ctx context.Context, userID int64, kind db.InfractionKind, duration time.Duration, reason, issuedBy string) (string, error) {
	switch kind {
	case db.KindWarn, db.KindMute, db.KindKick, db.KindBan:
	default:
		return "", werr.Validation("unknown sanction kind %q", kind)
	}
	if userID <= 0 {
		return "", werr.Validation("subject user id must be positive")
	}
	if issuedBy == "" {
		return "", werr.Validation("manual sanction needs a moderator id")
	}
	if reason == "" {
		reason = defaultReason
	}

	release, err := e.leases.Acquire(ctx, userKey(userID))
	if err != nil {
		return "", err
	}

	now := e.now()
	inf := &db.Infraction{
		ID:       uuid.NewRandom().String(),
		UserID:   userID,
		Kind:     kind,
		Reason:   reason,
		IssuedBy: issuedBy,
		IssuedAt: now,
	}
	if duration > 0 {
		expires := now.Add(duration)
		inf.ExpiresAt = &expires
	}
	if err := e.store.InsertInfraction(ctx, inf); err != nil {
		release()
		return "", err
	}
	release()

	observability.RecordInfraction(string(kind))
	if err := e.applySanction(ctx, kind, userID, duration); err != nil {
		if uerr := e.commitOutcome(ctx, userID, inf.ID, func(i *db.Infraction) { i.PendingAction = true }); uerr != nil {
			e.logger.WithError(uerr).Error("cant flag pending action")
		}
		return inf.ID, err
	}
	return inf.ID, nil
}

func (e *engine) Revoke(ctx context.Context, infractionID, revokedBy string) error {
	inf, err := e.store.GetInfraction(ctx, infractionID)
	if err != nil {
		return err
	}

	release, err := e.leases.Acquire(ctx, userKey(inf.UserID))
	if err != nil {
		return err
	}
	defer release()

	// reload under the lease, a concurrent report may have touched it
	inf, err = e.store.GetInfraction(ctx, infractionID)
	if err != nil {
		return err
	}
	if inf.Revoked {
		return werr.Conflict("infraction %s already revoked", infractionID)
	}
	inf.Revoked = true
	if err := e.store.UpdateInfraction(ctx, inf); err != nil {
		return err
	}
	e.logger.WithField("infraction_id", infractionID).WithField("revoked_by", revokedBy).Info("infraction revoked")
	return nil
}

func (e *engine) Summary(ctx context.Context, userID int64) (int, error) {
	return e.summaryLocked(ctx, userID, e.now())
}

// summaryLocked recomputes the rolling-window weight from the store. Never
// cached: staleness here means inconsistent sanction decisions.
func (e *engine) summaryLocked(ctx context.Context, userID int64, now time.Time) (int, error) {
	infs, err := e.store.ListUserInfractions(ctx, userID, now.Add(-e.window))
	if err != nil {
		return 0, err
	}
	total := 0
	for _, inf := range infs {
		if inf.CountsToward(now) {
			total += inf.Weight
		}
	}
	return total, nil
}

func (e *engine) History(ctx context.Context, userID int64) ([]*db.Infraction, error) {
	return e.store.ListUserInfractions(ctx, userID, time.Time{})
}

// ExpireDue lifts elapsed temporary sanctions and excludes them from future
// summaries. Expiry is distinct from revocation: it is time-driven, not
// human-initiated.
func (e *engine) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	due, err := e.store.ListDueExpiries(ctx, now)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, inf := range due {
		if err := e.liftSanction(ctx, inf.Kind, inf.UserID); err != nil {
			if platform.IsTransient(err) {
				// next sweep retries the lift before marking expired
				e.logger.WithError(err).WithField("infraction_id", inf.ID).Warn("cant lift sanction yet")
				continue
			}
			e.logger.WithError(err).WithField("infraction_id", inf.ID).Error("cant lift sanction")
		}
		err := e.commitOutcome(ctx, inf.UserID, inf.ID, func(i *db.Infraction) {
			i.Expired = true
			i.PendingAction = false
		})
		if err != nil {
			return expired, err
		}
		expired++
	}
	return expired, nil
}

// ReplayPending re-applies sanctions whose platform call failed earlier.
func (e *engine) ReplayPending(ctx context.Context) (int, error) {
	pending, err := e.store.ListPendingActions(ctx)
	if err != nil {
		return 0, err
	}
	replayed := 0
	for _, inf := range pending {
		var duration time.Duration
		if inf.ExpiresAt != nil {
			duration = inf.ExpiresAt.Sub(e.now())
		}
		mutate := func(i *db.Infraction) { i.PendingAction = false }
		if inf.ExpiresAt != nil && duration <= 0 {
			// sanction window already elapsed, nothing left to apply
			mutate = func(i *db.Infraction) {
				i.PendingAction = false
				i.Expired = true
			}
		} else {
			if err := e.applySanction(ctx, inf.Kind, inf.UserID, duration); err != nil {
				e.logger.WithError(err).WithField("infraction_id", inf.ID).Warn("pending sanction still failing")
				continue
			}
		}
		if err := e.commitOutcome(ctx, inf.UserID, inf.ID, mutate); err != nil {
			return replayed, err
		}
		replayed++
	}
	return replayed, nil
}

func (e *engine) applySanction(ctx context.Context, kind db.InfractionKind, userID int64, duration time.Duration) error {
	apply := func(ctx context.Context) error {
		switch kind {
		case db.KindMute:
			return e.adapter.TimeoutMember(ctx, userID, duration)
		case db.KindKick:
			return e.adapter.KickMember(ctx, userID)
		case db.KindBan:
			return e.adapter.BanMember(ctx, userID, duration)
		}
		// warn and note are informational, nothing to apply
		return nil
	}

	var err error
	for attempt := 0; attempt < sanctionMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * sanctionRetryStep):
			}
		}
		if err = apply(ctx); err == nil {
			observability.RecordSanction(string(kind))
			return nil
		}
		if !platform.IsTransient(err) {
			return err
		}
	}
	return err
}

func (e *engine) liftSanction(ctx context.Context, kind db.InfractionKind, userID int64) error {
	switch kind {
	case db.KindMute:
		return e.adapter.UntimeoutMember(ctx, userID)
	case db.KindBan:
		return e.adapter.UnbanMember(ctx, userID)
	}
	return nil
}
