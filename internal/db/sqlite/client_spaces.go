package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/iamwavecut/warden/internal/db"
	werr "github.com/iamwavecut/warden/internal/errors"
)

func (c *sqliteClient) InsertSpace(ctx context.Context, sp *db.EventSpace) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	query := `
		INSERT INTO event_spaces (id, name, owner_id, state, desired, refs, pass_digest, failures, cancel_requested, created_at, updated_at, version)
		VALUES (:id, :name, :owner_id, :state, :desired, :refs, :pass_digest, :failures, :cancel_requested, :created_at, :updated_at, :version)
	`
	if _, err := c.db.NamedExecContext(ctx, query, sp); err != nil {
		return werr.Persistence(fmt.Errorf("insert event space: %w", err))
	}
	return nil
}

// UpdateSpace commits state and refs together. The version predicate turns a
// concurrent writer into an ErrConflict instead of a lost update.
func (c *sqliteClient) UpdateSpace(ctx context.Context, sp *db.EventSpace) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	query := `
		UPDATE event_spaces SET
			state = :state,
			desired = :desired,
			refs = :refs,
			failures = :failures,
			cancel_requested = :cancel_requested,
			updated_at = :updated_at,
			version = version + 1
		WHERE id = :id AND version = :version
	`
	res, err := c.db.NamedExecContext(ctx, query, sp)
	if err != nil {
		return werr.Persistence(fmt.Errorf("update event space: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return werr.Persistence(fmt.Errorf("update event space rows: %w", err))
	}
	if n == 0 {
		return werr.Conflict("event space %s version %d", sp.ID, sp.Version)
	}
	sp.Version++
	return nil
}

func (c *sqliteClient) GetSpace(ctx context.Context, id string) (*db.EventSpace, error) {
	return c.getSpaceBy(ctx, `SELECT * FROM event_spaces WHERE id = ?`, id)
}

func (c *sqliteClient) GetSpaceByName(ctx context.Context, name string) (*db.EventSpace, error) {
	return c.getSpaceBy(ctx, `SELECT * FROM event_spaces WHERE name = ?`, name)
}

func (c *sqliteClient) getSpaceBy(ctx context.Context, query string, arg any) (*db.EventSpace, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	sp := &db.EventSpace{}
	if err := c.db.GetContext(ctx, sp, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, werr.NotFound("event space %v", arg)
		}
		return nil, werr.Persistence(fmt.Errorf("get event space: %w", err))
	}
	return sp, nil
}

func (c *sqliteClient) ListSpacesInState(ctx context.Context, states ...db.SpaceState) ([]*db.EventSpace, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	query, args, err := sqlx.In(`SELECT * FROM event_spaces WHERE state IN (?) ORDER BY created_at ASC`, states)
	if err != nil {
		return nil, werr.Persistence(fmt.Errorf("build state query: %w", err))
	}
	query = c.db.Rebind(query)

	var spaces []*db.EventSpace
	if err := c.db.SelectContext(ctx, &spaces, query, args...); err != nil {
		return nil, werr.Persistence(fmt.Errorf("list event spaces: %w", err))
	}
	return spaces, nil
}
