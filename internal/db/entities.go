package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type InfractionKind string

const (
	KindNote InfractionKind = "note"
	KindWarn InfractionKind = "warn"
	KindMute InfractionKind = "mute"
	KindKick InfractionKind = "kick"
	KindBan  InfractionKind = "ban"
)

// Infraction is append-only: corrections happen through the revoked flag or a
// new note entry, never by destructive edits.
type Infraction struct {
	ID            string         `db:"id"`
	UserID        int64          `db:"user_id"`
	Kind          InfractionKind `db:"kind"`
	Reason        string         `db:"reason"`
	Weight        int            `db:"weight"`
	IssuedBy      string         `db:"issued_by"`
	IssuedAt      time.Time      `db:"issued_at"`
	ExpiresAt     *time.Time     `db:"expires_at"`
	Revoked       bool           `db:"revoked"`
	Expired       bool           `db:"expired"`
	PendingAction bool           `db:"pending_action"`
}

// CountsToward reports whether the infraction contributes weight to the
// rolling-window summary at the given instant.
func (i *Infraction) CountsToward(now time.Time) bool {
	if i.Revoked || i.Expired {
		return false
	}
	if i.ExpiresAt != nil && !i.ExpiresAt.After(now) {
		return false
	}
	return true
}

type SpaceState string

const (
	StateRequested       SpaceState = "requested"
	StateProvisioning    SpaceState = "provisioning"
	StateActive          SpaceState = "active"
	StateDecommissioning SpaceState = "decommissioning"
	StateArchived        SpaceState = "archived"
	StateFailed          SpaceState = "failed"
)

// OverwriteSpec declares a permission overwrite for the space role on one of
// the space's channels.
type OverwriteSpec struct {
	Channel string   `json:"channel"`
	Allow   []string `json:"allow,omitempty"`
	Deny    []string `json:"deny,omitempty"`
}

// DesiredResources is the declarative half of an event space: what should
// exist on the platform once the space is active.
type DesiredResources struct {
	Category   string          `json:"category"`
	Channels   []string        `json:"channels"`
	Role       string          `json:"role"`
	Overwrites []OverwriteSpec `json:"overwrites,omitempty"`
}

// ResourceRefs holds only confirmed platform identifiers. An id lands here
// strictly after the adapter acknowledged the resource exists.
type ResourceRefs struct {
	CategoryID   string            `json:"category_id,omitempty"`
	RoleID       string            `json:"role_id,omitempty"`
	ChannelIDs   map[string]string `json:"channel_ids,omitempty"`
	OverwriteIDs map[string]string `json:"overwrite_ids,omitempty"`
}

func (r *ResourceRefs) Empty() bool {
	return r.CategoryID == "" && r.RoleID == "" && len(r.ChannelIDs) == 0 && len(r.OverwriteIDs) == 0
}

func (r *ResourceRefs) ChannelID(name string) (string, bool) {
	id, ok := r.ChannelIDs[name]
	return id, ok
}

func (r *ResourceRefs) SetChannelID(name, id string) {
	if r.ChannelIDs == nil {
		r.ChannelIDs = map[string]string{}
	}
	r.ChannelIDs[name] = id
}

func (r *ResourceRefs) OverwriteID(key string) (string, bool) {
	id, ok := r.OverwriteIDs[key]
	return id, ok
}

func (r *ResourceRefs) SetOverwriteID(key, id string) {
	if r.OverwriteIDs == nil {
		r.OverwriteIDs = map[string]string{}
	}
	r.OverwriteIDs[key] = id
}

func (r ResourceRefs) Value() (driver.Value, error) {
	return json.Marshal(r)
}

func (r *ResourceRefs) Scan(v any) error {
	return scanJSON(v, r)
}

func (d DesiredResources) Value() (driver.Value, error) {
	return json.Marshal(d)
}

func (d *DesiredResources) Scan(v any) error {
	return scanJSON(v, d)
}

func scanJSON(v, dst any) error {
	if v == nil {
		return nil
	}
	switch data := v.(type) {
	case string:
		return json.Unmarshal([]byte(data), dst)
	case []byte:
		return json.Unmarshal(data, dst)
	default:
		return fmt.Errorf("cannot scan type %T into %T", v, dst)
	}
}

// EventSpace is owned by the lifecycle manager; state and refs move together,
// guarded by the version column.
type EventSpace struct {
	ID              string           `db:"id"`
	Name            string           `db:"name"`
	OwnerID         int64            `db:"owner_id"`
	State           SpaceState       `db:"state"`
	Desired         DesiredResources `db:"desired"`
	Refs            ResourceRefs     `db:"refs"`
	PassDigest      string           `db:"pass_digest"`
	Failures        int              `db:"failures"`
	CancelRequested bool             `db:"cancel_requested"`
	CreatedAt       time.Time        `db:"created_at"`
	UpdatedAt       time.Time        `db:"updated_at"`
	Version         int64            `db:"version"`
}
