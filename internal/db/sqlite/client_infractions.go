package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iamwavecut/tool"

	"github.com/iamwavecut/warden/internal/db"
	werr "github.com/iamwavecut/warden/internal/errors"
)

func (c *sqliteClient) InsertInfraction(ctx context.Context, inf *db.Infraction) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	query := `
		INSERT INTO infractions (id, user_id, kind, reason, weight, issued_by, issued_at, expires_at, revoked, expired, pending_action)
		VALUES (:id, :user_id, :kind, :reason, :weight, :issued_by, :issued_at, :expires_at, :revoked, :expired, :pending_action)
	`
	if err := tool.Err(c.db.NamedExecContext(ctx, query, inf)); err != nil {
		return werr.Persistence(fmt.Errorf("insert infraction: %w", err))
	}
	return nil
}

func (c *sqliteClient) UpdateInfraction(ctx context.Context, inf *db.Infraction) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	query := `
		UPDATE infractions SET
			kind = :kind,
			expires_at = :expires_at,
			revoked = :revoked,
			expired = :expired,
			pending_action = :pending_action
		WHERE id = :id
	`
	res, err := c.db.NamedExecContext(ctx, query, inf)
	if err != nil {
		return werr.Persistence(fmt.Errorf("update infraction: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return werr.NotFound("infraction %s", inf.ID)
	}
	return nil
}

func (c *sqliteClient) GetInfraction(ctx context.Context, id string) (*db.Infraction, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	inf := &db.Infraction{}
	err := c.db.GetContext(ctx, inf, `SELECT * FROM infractions WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, werr.NotFound("infraction %s", id)
		}
		return nil, werr.Persistence(fmt.Errorf("get infraction: %w", err))
	}
	return inf, nil
}

func (c *sqliteClient) ListUserInfractions(ctx context.Context, userID int64, since time.Time) ([]*db.Infraction, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var infs []*db.Infraction
	query := `SELECT * FROM infractions WHERE user_id = ? AND issued_at >= ? ORDER BY issued_at ASC`
	if err := c.db.SelectContext(ctx, &infs, query, userID, since); err != nil {
		return nil, werr.Persistence(fmt.Errorf("list user infractions: %w", err))
	}
	return infs, nil
}

func (c *sqliteClient) ListPendingActions(ctx context.Context) ([]*db.Infraction, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var infs []*db.Infraction
	query := `SELECT * FROM infractions WHERE pending_action = 1 ORDER BY issued_at ASC`
	if err := c.db.SelectContext(ctx, &infs, query); err != nil {
		return nil, werr.Persistence(fmt.Errorf("list pending actions: %w", err))
	}
	return infs, nil
}

func (c *sqliteClient) ListDueExpiries(ctx context.Context, now time.Time) ([]*db.Infraction, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var infs []*db.Infraction
	query := `
		SELECT * FROM infractions
		WHERE expired = 0 AND expires_at IS NOT NULL AND expires_at <= ?
		ORDER BY issued_at ASC
	`
	if err := c.db.SelectContext(ctx, &infs, query, now); err != nil {
		return nil, werr.Persistence(fmt.Errorf("list due expiries: %w", err))
	}
	return infs, nil
}
