package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/iamwavecut/warden/internal/db"
	werr "github.com/iamwavecut/warden/internal/errors"
)

func newTestClient(t *testing.T) *sqliteClient {
	t.Helper()
	client, err := NewSQLiteClient(context.Background(), t.TempDir(), "warden_test.db")
	if err != nil {
		t.Fatalf("open client: %v", err)
	}
	t.Cleanup(func() {
		if err := client.Close(); err != nil {
			t.Errorf("close client: %v", err)
		}
	})
	return client
}

func TestMigrationsApply(t *testing.T) {
	t.Parallel()
	client := newTestClient(t)

	// reopening against the same schema must be a no-op
	if err := client.SetKV(context.Background(), "schema_check", "ok"); err != nil {
		t.Fatalf("kv after migration: %v", err)
	}
}

func TestInfractionRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client := newTestClient(t)

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	expires := now.Add(time.Hour)
	inf := &db.Infraction{
		ID:        "inf-1",
		UserID:    42,
		Kind:      db.KindMute,
		Reason:    "spam",
		Weight:    5,
		IssuedBy:  "1001",
		IssuedAt:  now,
		ExpiresAt: &expires,
	}
	if err := client.InsertInfraction(ctx, inf); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := client.GetInfraction(ctx, "inf-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Kind != db.KindMute || got.Weight != 5 || got.ExpiresAt == nil || !got.ExpiresAt.Equal(expires) {
		t.Errorf("round trip mismatch: %+v", got)
	}

	got.Revoked = true
	if err := client.UpdateInfraction(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ = client.GetInfraction(ctx, "inf-1")
	if !got.Revoked {
		t.Error("revoked flag lost")
	}

	if _, err := client.GetInfraction(ctx, "nope"); !errors.Is(err, werr.ErrNotFound) {
		t.Errorf("missing infraction: got %v", err)
	}
	if err := client.UpdateInfraction(ctx, &db.Infraction{ID: "nope"}); !errors.Is(err, werr.ErrNotFound) {
		t.Errorf("updating missing infraction: got %v", err)
	}
}

func TestInfractionQueries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client := newTestClient(t)

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	for _, inf := range []*db.Infraction{
		{ID: "a", UserID: 42, Kind: db.KindNote, Reason: "r", Weight: 1, IssuedBy: "x", IssuedAt: now.Add(-3 * time.Hour)},
		{ID: "b", UserID: 42, Kind: db.KindNote, Reason: "r", Weight: 2, IssuedBy: "x", IssuedAt: now.Add(-time.Hour)},
		{ID: "c", UserID: 7, Kind: db.KindNote, Reason: "r", Weight: 4, IssuedBy: "x", IssuedAt: now},
		{ID: "d", UserID: 42, Kind: db.KindMute, Reason: "r", Weight: 5, IssuedBy: "x", IssuedAt: now.Add(-2 * time.Hour), ExpiresAt: &past, PendingAction: true},
	} {
		if err := client.InsertInfraction(ctx, inf); err != nil {
			t.Fatalf("insert %s: %v", inf.ID, err)
		}
	}

	infs, err := client.ListUserInfractions(ctx, 42, now.Add(-2*time.Hour))
	if err != nil {
		t.Fatalf("list user: %v", err)
	}
	if len(infs) != 2 || infs[0].ID != "d" || infs[1].ID != "b" {
		t.Errorf("window filter and order broken: %v", ids(infs))
	}

	pending, err := client.ListPendingActions(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "d" {
		t.Errorf("pending filter broken: %v", ids(pending))
	}

	due, err := client.ListDueExpiries(ctx, now)
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	if len(due) != 1 || due[0].ID != "d" {
		t.Errorf("expiry filter broken: %v", ids(due))
	}
}

func ids(infs []*db.Infraction) []string {
	out := make([]string, len(infs))
	for i, inf := range infs {
		out[i] = inf.ID
	}
	return out
}

func TestSpaceVersionGuard(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client := newTestClient(t)

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	sp := &db.EventSpace{
		ID:        "sp-1",
		Name:      "ctf",
		OwnerID:   1001,
		State:     db.StateRequested,
		Desired:   db.DesiredResources{Category: "ctf", Channels: []string{"rules", "general"}, Role: "ctf-participant"},
		Refs:      db.ResourceRefs{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := client.InsertSpace(ctx, sp); err != nil {
		t.Fatalf("insert: %v", err)
	}

	sp.State = db.StateProvisioning
	if err := client.UpdateSpace(ctx, sp); err != nil {
		t.Fatalf("update: %v", err)
	}
	if sp.Version != 1 {
		t.Errorf("version must bump on success, got %d", sp.Version)
	}

	stale := *sp
	stale.Version = 0
	if err := client.UpdateSpace(ctx, &stale); !errors.Is(err, werr.ErrConflict) {
		t.Errorf("stale version must conflict, got %v", err)
	}

	got, err := client.GetSpace(ctx, "sp-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != db.StateProvisioning || got.Version != 1 {
		t.Errorf("unexpected stored space %+v", got)
	}
	if got.Desired.Role != "ctf-participant" || len(got.Desired.Channels) != 2 {
		t.Errorf("desired json round trip broken: %+v", got.Desired)
	}
}

func TestSpaceRefsPersistence(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client := newTestClient(t)

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	sp := &db.EventSpace{ID: "sp-1", Name: "ctf", State: db.StateProvisioning, CreatedAt: now, UpdatedAt: now}
	sp.Refs.CategoryID = "cat-1"
	sp.Refs.SetChannelID("rules", "ch-1")
	sp.Refs.SetOverwriteID("rules/0", "ow-1")
	if err := client.InsertSpace(ctx, sp); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := client.GetSpaceByName(ctx, "ctf")
	if err != nil {
		t.Fatalf("get by name: %v", err)
	}
	if id, ok := got.Refs.ChannelID("rules"); !ok || id != "ch-1" {
		t.Errorf("refs json round trip broken: %+v", got.Refs)
	}
	if _, err := client.GetSpaceByName(ctx, "nope"); !errors.Is(err, werr.ErrNotFound) {
		t.Errorf("missing space: got %v", err)
	}
}

func TestListSpacesInState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client := newTestClient(t)

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, state := range []db.SpaceState{db.StateActive, db.StateProvisioning, db.StateArchived} {
		sp := &db.EventSpace{
			ID:        string(rune('a' + i)),
			Name:      string(state),
			State:     state,
			CreatedAt: now.Add(time.Duration(i) * time.Minute),
			UpdatedAt: now,
		}
		if err := client.InsertSpace(ctx, sp); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	spaces, err := client.ListSpacesInState(ctx, db.StateActive, db.StateProvisioning)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(spaces) != 2 {
		t.Fatalf("want 2 spaces, got %d", len(spaces))
	}
	if spaces[0].State != db.StateActive || spaces[1].State != db.StateProvisioning {
		t.Errorf("order by created_at broken: %v %v", spaces[0].State, spaces[1].State)
	}
}

func TestKVRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client := newTestClient(t)

	v, err := client.GetKV(ctx, "missing")
	if err != nil || v != "" {
		t.Errorf("missing key: v=%q err=%v", v, err)
	}
	if err := client.SetKV(ctx, "k", "v1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := client.SetKV(ctx, "k", "v2"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	v, err = client.GetKV(ctx, "k")
	if err != nil || v != "v2" {
		t.Errorf("get: v=%q err=%v", v, err)
	}
}
