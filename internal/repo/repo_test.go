package repo_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"pactline/internal/db"
	"pactline/internal/domain"
	"pactline/internal/migrate"
	"pactline/internal/repo"
)

func newTestRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}
}

func insertPromise(t *testing.T, r repo.Repo, p domain.Promise) {
	t.Helper()
	tx, err := r.DB.Begin()
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	if err := r.InsertPromiseTx(context.Background(), tx, p); err != nil {
		t.Fatalf("insert promise: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
}

func samplePromise(id, shareCode string) domain.Promise {
	return domain.Promise{
		ID:            id,
		Type:          "promise",
		Title:         "sample",
		Status:        domain.StatusDraft,
		Seriousness:   "normal",
		Visibility:    "link",
		ShareCode:     shareCode,
		Timezone:      "Europe/Istanbul",
		AutoBreach:    domain.AutoBreach{Enabled: true, GraceMinutes: 60},
		PreferredView: "default",
		Participants: []domain.Participant{
			{UserID: "alice", Role: "creator", Status: "accepted"},
			{UserID: "bob", Role: "counterparty", Status: "pending"},
		},
		CreatedAt: "2026-01-02T00:00:00Z",
		UpdatedAt: "2026-01-02T00:00:00Z",
	}
}

func inTx(t *testing.T, r repo.Repo, fn func(tx *sql.Tx) error) error {
	t.Helper()
	tx, err := r.DB.Begin()
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func TestUpdateStatusCAS(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	insertPromise(t, r, samplePromise("p1", "code-1"))

	err := inTx(t, r, func(tx *sql.Tx) error {
		return r.UpdateStatusTx(ctx, tx, "p1", domain.StatusDraft, domain.StatusProposed, "2026-01-02T00:01:00Z")
	})
	if err != nil {
		t.Fatalf("first update: %v", err)
	}

	// Expected status is now stale.
	err = inTx(t, r, func(tx *sql.Tx) error {
		return r.UpdateStatusTx(ctx, tx, "p1", domain.StatusDraft, domain.StatusProposed, "2026-01-02T00:02:00Z")
	})
	if !errors.Is(err, repo.ErrStaleStatus) {
		t.Fatalf("stale update: %v, want ErrStaleStatus", err)
	}

	err = inTx(t, r, func(tx *sql.Tx) error {
		return r.UpdateStatusTx(ctx, tx, "missing", domain.StatusDraft, domain.StatusProposed, "2026-01-02T00:02:00Z")
	})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("missing update: %v, want ErrNotFound", err)
	}

	got, err := r.GetPromise(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusProposed || got.UpdatedAt != "2026-01-02T00:01:00Z" {
		t.Fatalf("promise = %+v", got)
	}
}

func TestSoftDeleteGuardsStatusUpdate(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	insertPromise(t, r, samplePromise("p1", "code-1"))

	if err := r.SoftDelete(ctx, "p1", "2026-01-02T00:05:00Z"); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	err := inTx(t, r, func(tx *sql.Tx) error {
		return r.UpdateStatusTx(ctx, tx, "p1", domain.StatusDraft, domain.StatusProposed, "2026-01-02T00:06:00Z")
	})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("update after delete: %v, want ErrNotFound", err)
	}
	if _, err := r.GetByShareCode(ctx, "code-1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("share lookup after delete: %v", err)
	}
}

func TestAggregateRoundTrip(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	due := "2026-02-01T00:00:00Z"
	p := samplePromise("p1", "code-1")
	p.DueAt = &due
	p.Conditions = []domain.Condition{{
		ID:    "c1",
		Label: "bring receipts",
		Type:  "proof",
		Rule:  domain.ConditionRule{RequiresEvidence: true},
		Consequence: domain.CondConsequence{
			Kind: "penalty",
			Text: "buys dinner",
		},
		CreatedAt: "2026-01-02T00:00:00Z",
		UpdatedAt: "2026-01-02T00:00:00Z",
	}}
	insertPromise(t, r, p)

	got, err := r.GetPromise(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if got.DueAt == nil || *got.DueAt != due {
		t.Fatalf("due_at = %v", got.DueAt)
	}
	if len(got.Participants) != 2 || got.Participants[0].UserID != "alice" || got.Participants[1].UserID != "bob" {
		t.Fatalf("participants = %+v", got.Participants)
	}
	if len(got.Conditions) != 1 {
		t.Fatalf("conditions = %+v", got.Conditions)
	}
	c := got.Conditions[0]
	if c.Label != "bring receipts" || !c.Rule.RequiresEvidence || c.Consequence.Kind != "penalty" || c.Consequence.Text != "buys dinner" {
		t.Fatalf("condition = %+v", c)
	}
	if c.IsMet || c.MetAt != nil {
		t.Fatalf("condition should start unmet: %+v", c)
	}
}

func TestAPIKeys(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	key := domain.APIKey{
		ID:        "k1",
		ActorID:   "alice",
		Name:      "ci",
		KeyHash:   repo.HashAPIKey("pk_secret"),
		CreatedAt: "2026-01-02T00:00:00Z",
	}
	if err := r.InsertAPIKey(ctx, key); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey("pk_secret"))
	if err != nil {
		t.Fatalf("get by hash: %v", err)
	}
	if got.ActorID != "alice" || got.Name != "ci" {
		t.Fatalf("key = %+v", got)
	}
	// Hashing trims surrounding whitespace.
	if _, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey(" pk_secret ")); err != nil {
		t.Fatalf("trimmed lookup: %v", err)
	}
	if _, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey("wrong")); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("wrong key: %v", err)
	}
	if err := r.DeleteAPIKey(ctx, "k1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := r.DeleteAPIKey(ctx, "k1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("double delete: %v", err)
	}
}
