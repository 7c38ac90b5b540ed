package db

import (
	"context"
	"time"
)

type InfractionStore interface {
	InsertInfraction(ctx context.Context, inf *Infraction) error
	UpdateInfraction(ctx context.Context, inf *Infraction) error
	GetInfraction(ctx context.Context, id string) (*Infraction, error)
	ListUserInfractions(ctx context.Context, userID int64, since time.Time) ([]*Infraction, error)
	ListPendingActions(ctx context.Context) ([]*Infraction, error)
	ListDueExpiries(ctx context.Context, now time.Time) ([]*Infraction, error)
}

type SpaceRegistry interface {
	InsertSpace(ctx context.Context, sp *EventSpace) error
	// UpdateSpace persists the space iff its version matches the stored one,
	// then bumps it. Returns ErrConflict on a version mismatch.
	UpdateSpace(ctx context.Context, sp *EventSpace) error
	GetSpace(ctx context.Context, id string) (*EventSpace, error)
	GetSpaceByName(ctx context.Context, name string) (*EventSpace, error)
	ListSpacesInState(ctx context.Context, states ...SpaceState) ([]*EventSpace, error)
}

type Client interface {
	Close() error
	GetKV(ctx context.Context, key string) (string, error)
	SetKV(ctx context.Context, key, value string) error
	InfractionStore
	SpaceRegistry
}
