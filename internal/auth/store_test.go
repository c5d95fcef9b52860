package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func newTestWorkbookStore(t *testing.T) *WorkbookStore {
	t.Helper()
	store, err := NewWorkbookStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewWorkbookStore() error: %v", err)
	}
	return store
}

func TestWorkbookStoreCreateAndFind(t *testing.T) {
	store := newTestWorkbookStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, User{Name: "Ana", Email: " ana@example.com ", PasswordHash: "hash", Role: RoleAgent})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if created.ID != 1 || created.Email != "ana@example.com" {
		t.Fatalf("unexpected created user: %#v", created)
	}

	found, err := store.FindByEmailAndRole(ctx, "ana@example.com", RoleAgent)
	if err != nil {
		t.Fatalf("FindByEmailAndRole() error: %v", err)
	}
	if found.PasswordHash != "hash" || found.Name != "Ana" {
		t.Fatalf("unexpected user: %#v", found)
	}

	if _, err := store.FindByEmailAndRole(ctx, "ana@example.com", RoleScout); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound for other role, got %v", err)
	}
	if _, err := store.FindByID(ctx, 99); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestWorkbookStoreDuplicateIsScopedToRole(t *testing.T) {
	store := newTestWorkbookStore(t)
	ctx := context.Background()

	if _, err := store.Create(ctx, User{Name: "Ana", Email: "ana@example.com", PasswordHash: "h1", Role: RoleAgent}); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if _, err := store.Create(ctx, User{Name: "Other", Email: "ana@example.com", PasswordHash: "h2", Role: RoleAgent}); !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
	scout, err := store.Create(ctx, User{Name: "Ana", Email: "ana@example.com", PasswordHash: "h3", Role: RoleScout})
	if err != nil {
		t.Fatalf("Create() for another role error: %v", err)
	}
	if scout.ID != 2 {
		t.Fatalf("expected id 2, got %d", scout.ID)
	}

	original, _ := store.FindByEmailAndRole(ctx, "ana@example.com", RoleAgent)
	if original.Name != "Ana" || original.PasswordHash != "h1" {
		t.Fatalf("existing record modified: %#v", original)
	}
}

func TestWorkbookStoreConcurrentRegistration(t *testing.T) {
	store := newTestWorkbookStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 6)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Create(ctx, User{Name: "Ana", Email: "ana@example.com", PasswordHash: "h", Role: RoleClub})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	ok, dup := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrDuplicateEmail):
			dup++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || dup != 5 {
		t.Fatalf("ok=%d dup=%d", ok, dup)
	}
}

func TestWorkbookStoreUpdateProfile(t *testing.T) {
	store := newTestWorkbookStore(t)
	ctx := context.Background()
	created, _ := store.Create(ctx, User{Name: "Ana", Email: "ana@example.com", PasswordHash: "h", Role: RoleAgent})

	avatar := "/uploads/avatars/1-a.png"
	updated, err := store.UpdateProfile(ctx, created.ID, ProfileUpdate{Avatar: &avatar})
	if err != nil {
		t.Fatalf("UpdateProfile() error: %v", err)
	}
	if updated.Name != "Ana" || updated.Avatar != avatar {
		t.Fatalf("unexpected user: %#v", updated)
	}

	name := "Ana Maria"
	if _, err := store.UpdateProfile(ctx, 42, ProfileUpdate{Name: &name}); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestParseRole(t *testing.T) {
	for _, r := range []string{"agent", "scout", "club", " club "} {
		if _, err := ParseRole(r); err != nil {
			t.Fatalf("ParseRole(%q) error: %v", r, err)
		}
	}
	for _, r := range []string{"", "admin", "club_manager", "Agent"} {
		if _, err := ParseRole(r); !errors.Is(err, ErrInvalidRole) {
			t.Fatalf("ParseRole(%q) expected ErrInvalidRole, got %v", r, err)
		}
	}
}
