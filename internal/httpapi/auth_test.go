package httpapi

import (
	"context"
	"errors"
	"testing"
	"time"

	"farmstall/backend/internal/domain"
	"farmstall/backend/internal/store/memory"
)

func newTestAuth(t *testing.T) *AuthManager {
	t.Helper()
	repo := memory.New()
	auth := NewAuthManager(repo, []byte("test-secret"), time.Hour)
	if err := auth.SeedFirstAdmin(context.Background(), "admin", "correct horse"); err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	return auth
}

func TestLoginAndParseToken(t *testing.T) {
	auth := newTestAuth(t)
	ctx := context.Background()

	resp, err := auth.Login(ctx, "admin", "correct horse")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !resp.OK || resp.Role != domain.RoleAdmin || resp.AccessToken == "" {
		t.Fatalf("unexpected login response %+v", resp)
	}

	actor, err := auth.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.Username != "admin" || actor.Role != domain.RoleAdmin {
		t.Fatalf("unexpected actor %+v", actor)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	auth := newTestAuth(t)
	ctx := context.Background()

	if _, err := auth.Login(ctx, "admin", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := auth.Login(ctx, "ghost", "whatever"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}
}

func TestLoginRejectsInactiveUser(t *testing.T) {
	auth := newTestAuth(t)
	ctx := context.Background()

	inactive := false
	if _, err := auth.CreateUser(ctx, domain.UserCreateRequest{Username: "till", Password: "pw123"}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := auth.UpdateUser(ctx, domain.UserUpdateRequest{Username: "till", Active: &inactive}); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	if _, err := auth.Login(ctx, "till", "pw123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for inactive user, got %v", err)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	auth := newTestAuth(t)
	auth.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	resp, err := auth.Login(context.Background(), "admin", "correct horse")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	auth.now = time.Now
	if _, err := auth.ParseToken(resp.AccessToken); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for expired token, got %v", err)
	}
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	auth := newTestAuth(t)
	resp, err := auth.Login(context.Background(), "admin", "correct horse")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	other := NewAuthManager(memory.New(), []byte("different-secret"), time.Hour)
	if _, err := other.ParseToken(resp.AccessToken); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong secret, got %v", err)
	}
}

func TestSeedFirstAdminIdempotent(t *testing.T) {
	repo := memory.New()
	auth := NewAuthManager(repo, []byte("s"), time.Hour)
	ctx := context.Background()

	if err := auth.SeedFirstAdmin(ctx, "admin", "pw"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := auth.SeedFirstAdmin(ctx, "other", "pw"); err != nil {
		t.Fatalf("second seed: %v", err)
	}
	n, err := repo.CountUsers(ctx)
	if err != nil || n != 1 {
		t.Fatalf("count = %d, %v, want 1", n, err)
	}

	// A blank password never seeds.
	empty := NewAuthManager(memory.New(), []byte("s"), time.Hour)
	if err := empty.SeedFirstAdmin(ctx, "admin", ""); err != nil {
		t.Fatalf("blank seed: %v", err)
	}
}

func TestCreateUserValidation(t *testing.T) {
	auth := newTestAuth(t)
	ctx := context.Background()

	if _, err := auth.CreateUser(ctx, domain.UserCreateRequest{Username: "x", Password: "pw", Role: "owner"}); err == nil {
		t.Fatal("expected error for unknown role")
	}
	if _, err := auth.CreateUser(ctx, domain.UserCreateRequest{Username: "", Password: "pw"}); err == nil {
		t.Fatal("expected error for empty username")
	}
	if _, err := auth.CreateUser(ctx, domain.UserCreateRequest{Username: "x", Password: ""}); err == nil {
		t.Fatal("expected error for empty password")
	}

	user, err := auth.CreateUser(ctx, domain.UserCreateRequest{Username: "Till", Password: "pw"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if user.Role != domain.RoleTeller || user.Username != "till" {
		t.Fatalf("unexpected user %+v", user)
	}
}

func TestAttemptLimiter(t *testing.T) {
	limiter := newAttemptLimiter(3, time.Minute)
	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if !limiter.allow("1.2.3.4") {
			t.Fatalf("attempt %d unexpectedly denied", i+1)
		}
	}
	if limiter.allow("1.2.3.4") {
		t.Fatal("expected fourth attempt to be denied")
	}
	if !limiter.allow("5.6.7.8") {
		t.Fatal("expected different client to be allowed")
	}

	now = now.Add(2 * time.Minute)
	if !limiter.allow("1.2.3.4") {
		t.Fatal("expected attempt after window to be allowed")
	}
}
