package registry

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/tmarkov/bankcore/internal/db"
)

func newStore(t *testing.T) *db.Store {
	t.Helper()
	s, err := db.Open(filepath.Join(t.TempDir(), "bank.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema: %v", err)
	}
	return s
}

func TestResolveAndContains(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	adminID, err := store.InsertRole(ctx, "ADMIN")
	if err != nil {
		t.Fatalf("InsertRole: %v", err)
	}

	r := NewRoleRegistry(store)
	if err := r.Rebuild(ctx); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	if got := r.Resolve("ADMIN"); got != adminID {
		t.Fatalf("Resolve(ADMIN)=%d want %d", got, adminID)
	}
	if got := r.Resolve("PRESIDENT"); got != NotFound {
		t.Fatalf("Resolve(PRESIDENT)=%d want NotFound", got)
	}
	if !r.Contains(adminID) {
		t.Fatal("Contains(adminID)=false")
	}
	if r.Contains(adminID + 1) {
		t.Fatal("Contains of unknown id=true")
	}
}

func TestRebuildPicksUpReseededRows(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	rate := decimal.RequireFromString("0.02")
	if _, err := store.InsertAccountType(ctx, "SAVING", rate); err != nil {
		t.Fatalf("InsertAccountType: %v", err)
	}

	r := NewAccountTypeRegistry(store)
	if err := r.Rebuild(ctx); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	oldID := r.Resolve("SAVING")

	// Reinitialize and insert in a different order, shifting the ID.
	if err := store.Reinitialize(ctx); err != nil {
		t.Fatalf("Reinitialize: %v", err)
	}
	if _, err := store.InsertAccountType(ctx, "CHEQUING", decimal.RequireFromString("0.01")); err != nil {
		t.Fatalf("InsertAccountType: %v", err)
	}
	if _, err := store.InsertAccountType(ctx, "SAVING", rate); err != nil {
		t.Fatalf("InsertAccountType: %v", err)
	}

	// Stale until rebuilt.
	if got := r.Resolve("CHEQUING"); got != NotFound {
		t.Fatalf("stale registry resolved CHEQUING to %d", got)
	}

	if err := r.Rebuild(ctx); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	newID := r.Resolve("SAVING")
	if newID == NotFound || newID == oldID {
		t.Fatalf("Resolve(SAVING)=%d, want a fresh id distinct from %d", newID, oldID)
	}
}
