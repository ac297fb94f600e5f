package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/nikhilranga4/online-compiler-backend/internal/terminal"
)

func openTestStore(t *testing.T) *SessionStore {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.EnsureSchema(); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	return NewSessionStore(db)
}

func record(id string, state terminal.State) *terminal.Record {
	now := time.Now().UTC()
	return &terminal.Record{
		ID:             id,
		Language:       "python",
		EnvironmentID:  "env-" + id,
		State:          state,
		LastActivityAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestSessionStoreSaveAndListActive(t *testing.T) {
	store := openTestStore(t)

	if err := store.Save(record("s1", terminal.StateActive)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Save(record("s2", terminal.StateClosing)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Save(record("s3", terminal.StateClosed)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	active, err := store.ListActive()
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("ListActive returned %d records, want 2", len(active))
	}
	for _, rec := range active {
		if rec.State == terminal.StateClosed {
			t.Errorf("closed session %q listed as active", rec.ID)
		}
		if rec.EnvironmentID == "" {
			t.Errorf("session %q lost its environment id", rec.ID)
		}
	}
}

func TestSessionStoreUpsert(t *testing.T) {
	store := openTestStore(t)

	rec := record("s1", terminal.StateActive)
	if err := store.Save(rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	rec.State = terminal.StateClosing
	rec.UpdatedAt = time.Now().UTC()
	if err := store.Save(rec); err != nil {
		t.Fatalf("Save update: %v", err)
	}

	active, err := store.ListActive()
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("ListActive returned %d records, want 1", len(active))
	}
	if active[0].State != terminal.StateClosing {
		t.Errorf("state = %q, want closing", active[0].State)
	}
}

func TestSessionStoreDelete(t *testing.T) {
	store := openTestStore(t)

	if err := store.Save(record("s1", terminal.StateActive)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Delete("s1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	active, err := store.ListActive()
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("ListActive returned %d records after delete", len(active))
	}

	// Deleting an unknown id is a no-op.
	if err := store.Delete("absent"); err != nil {
		t.Errorf("Delete(absent) = %v, want nil", err)
	}
}
