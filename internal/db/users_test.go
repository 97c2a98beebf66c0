package db

import (
	"context"
	"errors"
	"testing"

	"storefront/internal/models"
)

func TestCreateUserRejectsDuplicateEmail(t *testing.T) {
	database := openTestDB(t)
	repo := NewUserRepository(database)
	ctx := context.Background()

	if _, err := repo.Create(ctx, NewUser{Name: "A", Email: "dup@example.com"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	_, err := repo.Create(ctx, NewUser{Name: "B", Email: "dup@example.com"})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("Create() error = %v, want ErrDuplicate", err)
	}
}

func TestFindByEmailRoundTripsNullableFields(t *testing.T) {
	database := openTestDB(t)
	repo := NewUserRepository(database)
	ctx := context.Background()

	hash := "$2a$10$hash"
	phone := "+8801700000000"
	created, err := repo.Create(ctx, NewUser{
		Name:         "Guest",
		Email:        "guest@example.com",
		Phone:        &phone,
		PasswordHash: &hash,
		Role:         models.RoleGuest,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	found, err := repo.FindByEmail(ctx, "guest@example.com")
	if err != nil {
		t.Fatalf("FindByEmail() error = %v", err)
	}
	if found.ID != created.ID {
		t.Fatalf("ID = %q, want %q", found.ID, created.ID)
	}
	if found.Role != models.RoleGuest {
		t.Fatalf("Role = %q, want guest", found.Role)
	}
	if found.Phone == nil || *found.Phone != phone {
		t.Fatalf("Phone = %v, want %q", found.Phone, phone)
	}
	if found.EmailVerified() {
		t.Fatal("EmailVerified() = true, want false")
	}

	if _, err := repo.FindByEmail(ctx, "missing@example.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("FindByEmail() error = %v, want ErrNotFound", err)
	}
}

func TestUpgradeGuestOnlyTouchesGuests(t *testing.T) {
	database := openTestDB(t)
	repo := NewUserRepository(database)
	ctx := context.Background()

	placeholder := "!guest"
	guest, err := repo.Create(ctx, NewUser{Name: "Guest", Email: "guest@example.com", PasswordHash: &placeholder, Role: models.RoleGuest})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := repo.Create(ctx, NewUser{Name: "Member", Email: "member@example.com", Role: models.RoleUser}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	upgraded, err := repo.UpgradeGuest(ctx, "guest@example.com", "Real Name", "$2a$10$hash")
	if err != nil {
		t.Fatalf("UpgradeGuest() error = %v", err)
	}
	if upgraded.ID != guest.ID {
		t.Fatalf("ID = %q, want %q", upgraded.ID, guest.ID)
	}
	if upgraded.Role != models.RoleUser || upgraded.Name != "Real Name" {
		t.Fatalf("upgraded = %+v, want role user named Real Name", upgraded)
	}
	if upgraded.PasswordHash == nil || *upgraded.PasswordHash != "$2a$10$hash" {
		t.Fatalf("PasswordHash = %v, want new hash", upgraded.PasswordHash)
	}

	if _, err := repo.UpgradeGuest(ctx, "guest@example.com", "Again", "$2a$10$other"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second UpgradeGuest() error = %v, want ErrNotFound", err)
	}
	if _, err := repo.UpgradeGuest(ctx, "member@example.com", "Taken", "$2a$10$other"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpgradeGuest() on a user error = %v, want ErrNotFound", err)
	}
	member, err := repo.FindByEmail(ctx, "member@example.com")
	if err != nil {
		t.Fatalf("FindByEmail() error = %v", err)
	}
	if member.Name != "Member" {
		t.Fatalf("member Name = %q, want unchanged", member.Name)
	}
}
