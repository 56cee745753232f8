package sqlite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/aescanero/jobrelay/pkg/domain"
	"go.uber.org/zap"
)

func openTestStore(t *testing.T) *PipelineStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipelines.db")
	st, err := Open(path, zap.NewNop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestFindByAppID(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.Upsert(ctx, domain.PipelineRecord{ID: "app-123", UUID: "pl-abc", Name: "demo"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	rec, err := st.FindByAppID(ctx, "app-123")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if rec.UUID != "pl-abc" || rec.Name != "demo" {
		t.Fatalf("unexpected record: %+v", rec)
	}

	if _, err := st.FindByAppID(ctx, "app-999"); !errors.Is(err, domain.ErrPipelineNotFound) {
		t.Fatalf("expected ErrPipelineNotFound, got %v", err)
	}
}

func TestSeed(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	seed := `
pipelines:
  - id: app-123
    uuid: pl-abc
    name: first
  - id: app-456
    uuid: pl-def
    name: second
    description: second pipeline
`
	path := filepath.Join(t.TempDir(), "pipelines.yaml")
	if err := os.WriteFile(path, []byte(seed), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	n, err := st.Seed(ctx, path)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 pipelines, got %d", n)
	}

	rec, err := st.FindByAppID(ctx, "app-456")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if rec.UUID != "pl-def" || rec.Description != "second pipeline" {
		t.Fatalf("unexpected record: %+v", rec)
	}

	// Re-seeding replaces existing rows
	if _, err := st.Seed(ctx, path); err != nil {
		t.Fatalf("reseed: %v", err)
	}
}

func TestSeedRejectsIncompleteEntries(t *testing.T) {
	if _, err := ParseSeed([]byte("pipelines: [")); err == nil {
		t.Fatalf("expected parse error")
	}

	st := openTestStore(t)
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("pipelines:\n  - id: app-1\n"), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	if _, err := st.Seed(context.Background(), path); err == nil {
		t.Fatalf("expected error for entry without uuid")
	}
}

func TestGetAppFromRegistry(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	if err := st.Upsert(ctx, domain.PipelineRecord{ID: "app-123", UUID: "pl-abc", Name: "aligner"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	app, err := st.GetApp(ctx, "app-123")
	if err != nil || app.ID != "app-123" || app.Name != "aligner" {
		t.Fatalf("unexpected app %+v, %v", app, err)
	}

	if _, err := st.GetApp(ctx, "app-x"); !errors.Is(err, domain.ErrAppNotFound) {
		t.Fatalf("expected ErrAppNotFound, got %v", err)
	}
}
