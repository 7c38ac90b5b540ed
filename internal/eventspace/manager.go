// Package eventspace drives the lifecycle of temporary competition spaces:
// multi-step provisioning of interdependent platform resources, resumable
// after interruption, and clean reverse-order teardown.
package eventspace

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/pborman/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/warden/internal/db"
	werr "github.com/iamwavecut/warden/internal/errors"
	"github.com/iamwavecut/warden/internal/lease"
	"github.com/iamwavecut/warden/internal/observability"
	"github.com/iamwavecut/warden/internal/platform"
)

const spaceRules = `Do not attack the competition's backend infrastructure.
Do not attack other participating teams.
Do not brute-force the flag submission form.
Do not exchange flags, write-ups or hints with other teams.
Do not run denial-of-service attacks or highly threaded automated tools against the challenges.
Do not participate in more than one team within the same competition.`

const cancelRetries = 3

type registry interface {
	InsertSpace(ctx context.Context, sp *db.EventSpace) error
	UpdateSpace(ctx context.Context, sp *db.EventSpace) error
	GetSpace(ctx context.Context, id string) (*db.EventSpace, error)
	GetSpaceByName(ctx context.Context, name string) (*db.EventSpace, error)
	ListSpacesInState(ctx context.Context, states ...db.SpaceState) ([]*db.EventSpace, error)
}

type provisioner interface {
	SendMessage(ctx context.Context, channelID, text string) error
	AssignRole(ctx context.Context, userID int64, roleID string) error
	CreateCategory(ctx context.Context, name string) (string, error)
	DeleteCategory(ctx context.Context, id string) error
	CreateChannel(ctx context.Context, name, categoryID string) (string, error)
	DeleteChannel(ctx context.Context, id string) error
	CreateRole(ctx context.Context, name string) (string, error)
	DeleteRole(ctx context.Context, id string) error
	SetPermissionOverwrite(ctx context.Context, ow platform.Overwrite) (string, error)
	DeletePermissionOverwrite(ctx context.Context, id string) error
	ResourceExists(ctx context.Context, kind platform.ResourceKind, id string) (bool, error)
}

type Manager struct {
	registry    registry
	adapter     provisioner
	leases      *lease.Registry
	maxFailures int
	now         func() time.Time
	logger      *log.Entry
}

func NewManager(registry registry, adapter provisioner, leases *lease.Registry, maxFailures int) *Manager {
	return &Manager{
		registry:    registry,
		adapter:     adapter,
		leases:      leases,
		maxFailures: maxFailures,
		now:         time.Now,
		logger:      log.WithField("context", "eventspace"),
	}
}

func spaceKey(id string) string {
	return "space:" + id
}

func passDigest(spaceID, password string) string {
	sum := sha256.Sum256([]byte(spaceID + ":" + password))
	return hex.EncodeToString(sum[:])
}

// persist commits a mutation together with the current state under the
// version guard. A single conflict (e.g. a cancel flag written concurrently)
// is absorbed by re-reading and re-applying the mutation.
func (m *Manager) persist(ctx context.Context, sp *db.EventSpace, mutate func(*db.EventSpace)) (*db.EventSpace, error) {
	mutate(sp)
	sp.UpdatedAt = m.now()
	err := m.registry.UpdateSpace(ctx, sp)
	if err == nil {
		return sp, nil
	}
	if !errors.Is(err, werr.ErrConflict) {
		return nil, err
	}
	fresh, gerr := m.registry.GetSpace(ctx, sp.ID)
	if gerr != nil {
		return nil, gerr
	}
	mutate(fresh)
	fresh.UpdatedAt = m.now()
	if err := m.registry.UpdateSpace(ctx, fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}

// Create registers a new event space and immediately drives provisioning.
// The space survives a provisioning failure; the error reports why driving
// stopped.
func (m *Manager) Create(ctx context.Context, name string, ownerID int64, desired db.DesiredResources, password string) (*db.EventSpace, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return nil, werr.Validation("event space name must not be empty")
	}
	if len(password) < 5 {
		return nil, werr.Validation("the password must be longer than 4 characters")
	}
	if desired.Category == "" {
		desired.Category = name
	}

	if _, err := m.registry.GetSpaceByName(ctx, name); err == nil {
		return nil, werr.Conflict("event space %q already exists", name)
	} else if !errors.Is(err, werr.ErrNotFound) {
		return nil, err
	}

	now := m.now()
	sp := &db.EventSpace{
		ID:        uuid.NewRandom().String(),
		Name:      name,
		OwnerID:   ownerID,
		State:     db.StateRequested,
		Desired:   desired,
		Refs:      db.ResourceRefs{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	sp.PassDigest = passDigest(sp.ID, password)
	if err := m.registry.InsertSpace(ctx, sp); err != nil {
		return nil, err
	}

	if err := m.Provision(ctx, sp.ID); err != nil {
		cur, gerr := m.registry.GetSpace(ctx, sp.ID)
		if gerr == nil {
			sp = cur
		}
		return sp, err
	}
	cur, err := m.registry.GetSpace(ctx, sp.ID)
	if err != nil {
		return sp, nil
	}
	return cur, nil
}

// Provision drives a space to active. Re-entering is cheap: an active space
// causes zero adapter calls, an interrupted one only issues the operations
// its refs are still missing.
func (m *Manager) Provision(ctx context.Context, id string) error {
	release, ok := m.leases.TryAcquire(spaceKey(id))
	if !ok {
		return werr.Conflict("event space %s transition already in flight", id)
	}
	defer release()

	sp, err := m.registry.GetSpace(ctx, id)
	if err != nil {
		return err
	}
	switch sp.State {
	case db.StateRequested:
		if sp, err = m.persist(ctx, sp, func(s *db.EventSpace) { s.State = db.StateProvisioning }); err != nil {
			return err
		}
	case db.StateProvisioning:
		// resuming an interrupted run
	case db.StateActive:
		return nil
	default:
		return werr.Conflict("cannot provision event space in state %s", sp.State)
	}
	return m.driveProvisioning(ctx, sp)
}

func (m *Manager) driveProvisioning(ctx context.Context, sp *db.EventSpace) error {
	for {
		if sp.CancelRequested {
			var err error
			sp, err = m.persist(ctx, sp, func(s *db.EventSpace) {
				s.State = db.StateDecommissioning
				s.CancelRequested = false
				s.Failures = 0
			})
			if err != nil {
				return err
			}
			return m.driveTeardown(ctx, sp)
		}

		steps := provisionSteps(sp.Desired, sp.Refs)
		if len(steps) == 0 {
			break
		}
		step := steps[0]

		resourceID, err := m.createResource(ctx, sp, step)
		if err != nil {
			observability.RecordProvisioningOp(step.String(), "failure")
			return m.recordStepFailure(ctx, sp, step, err)
		}
		observability.RecordProvisioningOp(step.String(), "success")

		// persist the confirmed id before the next operation starts, so an
		// interruption leaves refs matching exactly what exists
		sp, err = m.persist(ctx, sp, func(s *db.EventSpace) {
			setRef(s, step, resourceID)
			s.Failures = 0
		})
		if err != nil {
			return err
		}
	}

	sp, err := m.persist(ctx, sp, func(s *db.EventSpace) {
		s.State = db.StateActive
		s.Failures = 0
	})
	if err != nil {
		return err
	}
	m.postWelcome(ctx, sp)
	m.logger.WithField("space", sp.Name).Info("event space active")
	return nil
}

// Archive moves an active space through decommissioning to archived. Calling
// it on a space already decommissioning resumes the teardown.
func (m *Manager) Archive(ctx context.Context, id string) error {
	release, ok := m.leases.TryAcquire(spaceKey(id))
	if !ok {
		return werr.Conflict("event space %s transition already in flight", id)
	}
	defer release()

	sp, err := m.registry.GetSpace(ctx, id)
	if err != nil {
		return err
	}
	switch sp.State {
	case db.StateActive:
		if sp, err = m.persist(ctx, sp, func(s *db.EventSpace) {
			s.State = db.StateDecommissioning
			s.Failures = 0
		}); err != nil {
			return err
		}
	case db.StateDecommissioning:
	default:
		return werr.Conflict("cannot archive event space in state %s", sp.State)
	}
	return m.driveTeardown(ctx, sp)
}

func (m *Manager) driveTeardown(ctx context.Context, sp *db.EventSpace) error {
	for {
		steps := teardownSteps(sp.Refs)
		if len(steps) == 0 {
			break
		}
		step := steps[0]

		if err := m.deleteResource(ctx, sp, step); err != nil {
			observability.RecordProvisioningOp(step.String(), "failure")
			return m.recordStepFailure(ctx, sp, step, err)
		}
		observability.RecordProvisioningOp(step.String(), "success")

		var err error
		sp, err = m.persist(ctx, sp, func(s *db.EventSpace) {
			clearRef(s, step)
			s.Failures = 0
		})
		if err != nil {
			return err
		}
	}

	_, err := m.persist(ctx, sp, func(s *db.EventSpace) {
		s.State = db.StateArchived
		s.Failures = 0
	})
	if err != nil {
		return err
	}
	m.logger.WithField("space", sp.Name).Info("event space archived")
	return nil
}

// Resume re-enters whichever transition the space was interrupted in. Used by
// the reconciliation sweep.
func (m *Manager) Resume(ctx context.Context, id string) error {
	sp, err := m.registry.GetSpace(ctx, id)
	if err != nil {
		return err
	}
	switch sp.State {
	case db.StateRequested, db.StateProvisioning:
		return m.Provision(ctx, id)
	case db.StateDecommissioning:
		return m.Archive(ctx, id)
	}
	return nil
}

// RequestCancel records the intent flag; the in-flight drive honors it at the
// next step boundary. Deliberately lease-free.
func (m *Manager) RequestCancel(ctx context.Context, id string) error {
	for attempt := 0; attempt < cancelRetries; attempt++ {
		sp, err := m.registry.GetSpace(ctx, id)
		if err != nil {
			return err
		}
		if sp.State != db.StateProvisioning {
			return werr.Conflict("cannot cancel event space in state %s", sp.State)
		}
		sp.CancelRequested = true
		sp.UpdatedAt = m.now()
		err = m.registry.UpdateSpace(ctx, sp)
		if err == nil {
			return nil
		}
		if !errors.Is(err, werr.ErrConflict) {
			return err
		}
	}
	return werr.Conflict("event space %s is changing too fast to cancel", id)
}

// Repair re-creates resources that drifted away from an active space without
// touching the healthy ones. Returns the number of repaired resources.
func (m *Manager) Repair(ctx context.Context, id string) (int, error) {
	release, ok := m.leases.TryAcquire(spaceKey(id))
	if !ok {
		return 0, werr.Conflict("event space %s transition already in flight", id)
	}
	defer release()

	sp, err := m.registry.GetSpace(ctx, id)
	if err != nil {
		return 0, err
	}
	if sp.State != db.StateActive {
		return 0, nil
	}

	missing := m.findMissing(ctx, sp)
	if len(missing) == 0 {
		return 0, nil
	}
	sp, err = m.persist(ctx, sp, func(s *db.EventSpace) {
		for _, step := range missing {
			clearRef(s, step)
		}
	})
	if err != nil {
		return 0, err
	}

	repaired := 0
	for {
		steps := provisionSteps(sp.Desired, sp.Refs)
		if len(steps) == 0 {
			break
		}
		step := steps[0]
		resourceID, err := m.createResource(ctx, sp, step)
		if err != nil {
			return repaired, err
		}
		sp, err = m.persist(ctx, sp, func(s *db.EventSpace) {
			setRef(s, step, resourceID)
		})
		if err != nil {
			return repaired, err
		}
		observability.RecordDriftRepair()
		repaired++
	}
	return repaired, nil
}

func (m *Manager) findMissing(ctx context.Context, sp *db.EventSpace) []Step {
	var missing []Step
	check := func(kind platform.ResourceKind, key, id string) {
		exists, err := m.adapter.ResourceExists(ctx, kind, id)
		if err != nil {
			// can't tell, assume alive rather than churn resources
			m.logger.WithError(err).WithField("resource", id).Warn("cant check resource existence")
			return
		}
		if !exists {
			missing = append(missing, Step{Kind: kind, Key: key})
		}
	}
	if sp.Refs.CategoryID != "" {
		check(platform.ResourceCategory, "", sp.Refs.CategoryID)
	}
	for name, id := range sp.Refs.ChannelIDs {
		check(platform.ResourceChannel, name, id)
	}
	if sp.Refs.RoleID != "" {
		check(platform.ResourceRole, "", sp.Refs.RoleID)
	}
	for key, id := range sp.Refs.OverwriteIDs {
		check(platform.ResourceOverwrite, key, id)
	}
	return missing
}

// Lookup resolves a space by its normalized name.
func (m *Manager) Lookup(ctx context.Context, name string) (*db.EventSpace, error) {
	return m.registry.GetSpaceByName(ctx, strings.ToLower(strings.TrimSpace(name)))
}

// Join grants the space's participant role after password verification.
func (m *Manager) Join(ctx context.Context, name string, userID int64, password string) error {
	sp, err := m.Lookup(ctx, name)
	if err != nil {
		return err
	}
	if sp.State != db.StateActive {
		return werr.Conflict("event space %q is not active", sp.Name)
	}
	if subtle.ConstantTimeCompare([]byte(passDigest(sp.ID, password)), []byte(sp.PassDigest)) != 1 {
		return werr.Validation("wrong password for event space %q", sp.Name)
	}
	if sp.Refs.RoleID == "" {
		return werr.Conflict("event space %q has no participant role", sp.Name)
	}
	return m.adapter.AssignRole(ctx, userID, sp.Refs.RoleID)
}

func (m *Manager) recordStepFailure(ctx context.Context, sp *db.EventSpace, step Step, cause error) error {
	transient := platform.IsTransient(cause)
	if _, perr := m.persist(ctx, sp, func(s *db.EventSpace) {
		s.Failures++
		if transient && s.Failures >= m.maxFailures {
			// partially-created resources stay in place for the scheduler or
			// an operator, never auto-deleted
			s.State = db.StateFailed
		}
	}); perr != nil {
		m.logger.WithError(perr).Error("cant record step failure")
	}
	m.logger.WithError(cause).WithField("space", sp.Name).WithField("step", step.String()).Error("event space operation failed")
	return cause
}

func (m *Manager) createResource(ctx context.Context, sp *db.EventSpace, step Step) (string, error) {
	switch step.Kind {
	case platform.ResourceCategory:
		return m.adapter.CreateCategory(ctx, sp.Desired.Category)
	case platform.ResourceChannel:
		return m.adapter.CreateChannel(ctx, sp.Name+"-"+step.Key, sp.Refs.CategoryID)
	case platform.ResourceRole:
		return m.adapter.CreateRole(ctx, sp.Desired.Role)
	case platform.ResourceOverwrite:
		for i, ow := range sp.Desired.Overwrites {
			if overwriteKey(ow, i) != step.Key {
				continue
			}
			channelID, ok := sp.Refs.ChannelID(ow.Channel)
			if !ok {
				return "", werr.Conflict("overwrite %s references unprovisioned channel %q", step.Key, ow.Channel)
			}
			return m.adapter.SetPermissionOverwrite(ctx, platform.Overwrite{
				ChannelID: channelID,
				RoleID:    sp.Refs.RoleID,
				Allow:     ow.Allow,
				Deny:      ow.Deny,
			})
		}
		return "", werr.NotFound("overwrite spec %s", step.Key)
	}
	return "", werr.Validation("unknown resource kind %q", step.Kind)
}

func (m *Manager) deleteResource(ctx context.Context, sp *db.EventSpace, step Step) error {
	switch step.Kind {
	case platform.ResourceOverwrite:
		return m.adapter.DeletePermissionOverwrite(ctx, sp.Refs.OverwriteIDs[step.Key])
	case platform.ResourceRole:
		return m.adapter.DeleteRole(ctx, sp.Refs.RoleID)
	case platform.ResourceChannel:
		return m.adapter.DeleteChannel(ctx, sp.Refs.ChannelIDs[step.Key])
	case platform.ResourceCategory:
		return m.adapter.DeleteCategory(ctx, sp.Refs.CategoryID)
	}
	return werr.Validation("unknown resource kind %q", step.Kind)
}

func setRef(sp *db.EventSpace, step Step, id string) {
	switch step.Kind {
	case platform.ResourceCategory:
		sp.Refs.CategoryID = id
	case platform.ResourceChannel:
		sp.Refs.SetChannelID(step.Key, id)
	case platform.ResourceRole:
		sp.Refs.RoleID = id
	case platform.ResourceOverwrite:
		sp.Refs.SetOverwriteID(step.Key, id)
	}
}

func clearRef(sp *db.EventSpace, step Step) {
	switch step.Kind {
	case platform.ResourceCategory:
		sp.Refs.CategoryID = ""
	case platform.ResourceChannel:
		delete(sp.Refs.ChannelIDs, step.Key)
	case platform.ResourceRole:
		sp.Refs.RoleID = ""
	case platform.ResourceOverwrite:
		delete(sp.Refs.OverwriteIDs, step.Key)
	}
}

func (m *Manager) postWelcome(ctx context.Context, sp *db.EventSpace) {
	if len(sp.Desired.Channels) == 0 {
		return
	}
	channelID, ok := sp.Refs.ChannelID(sp.Desired.Channels[0])
	if !ok {
		return
	}
	if err := m.adapter.SendMessage(ctx, channelID, spaceRules); err != nil {
		m.logger.WithError(err).WithField("space", sp.Name).Warn("cant post rules message")
	}
}
