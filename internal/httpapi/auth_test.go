package httpapi

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"fueldesk/backend/internal/domain"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	s.users[user.Email] = user
	return nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, email string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[email]
	user.Password = password
	s.users[email] = user
	s.updates++
	return nil
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"owner@pump.example": {
				Email:     "owner@pump.example",
				Password:  "admin123",
				Role:      "admin",
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}

	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, store)
	_, _, err := manager.Login(context.Background(), domain.LoginRequest{
		Email:    "Owner@Pump.example ",
		Password: "admin123",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	users, err := store.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(users))
	}
	if users[0].Password == "admin123" {
		t.Fatalf("expected password to be upgraded from plain-text")
	}
	if !strings.HasPrefix(users[0].Password, "$2") {
		t.Fatalf("expected bcrypt password hash, got %s", users[0].Password)
	}
	if store.updates != 1 {
		t.Fatalf("expected a single password upgrade, got %d", store.updates)
	}
}

func TestLoginRejectsWrongPasswordAndInactiveAccount(t *testing.T) {
	hash, err := hashPassword("right-pass")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	store := &userStoreStub{users: map[string]domain.UserAccount{
		"a@example.com": {Email: "a@example.com", Password: hash, Role: "admin", Active: true},
		"b@example.com": {Email: "b@example.com", Password: hash, Role: "admin", Active: false},
	}}
	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, store)

	_, _, err = manager.Login(context.Background(), domain.LoginRequest{Email: "a@example.com", Password: "wrong"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	_, _, err = manager.Login(context.Background(), domain.LoginRequest{Email: "nobody@example.com", Password: "right-pass"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for unknown email, got %v", err)
	}
	_, _, err = manager.Login(context.Background(), domain.LoginRequest{Email: "b@example.com", Password: "right-pass"})
	if !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("expected inactive account error, got %v", err)
	}
}

func TestTokenRoundTripAndTampering(t *testing.T) {
	store := &userStoreStub{}
	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, store)
	created, err := manager.EnsureAdmin(context.Background(), "ops@example.com", "long-enough-pass")
	if err != nil || !created {
		t.Fatalf("ensure admin: created=%v err=%v", created, err)
	}

	resp, expiresAt, err := manager.Login(context.Background(), domain.LoginRequest{Email: "ops@example.com", Password: "long-enough-pass"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if resp.Message != "Login successful" {
		t.Fatalf("unexpected message %q", resp.Message)
	}
	if time.Until(expiresAt) <= 0 {
		t.Fatalf("expected expiry in the future")
	}

	actor, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.Email != "ops@example.com" || actor.Role != "admin" {
		t.Fatalf("unexpected actor %+v", actor)
	}

	other := NewAuthManager(context.Background(), "another-secret", time.Hour, nil)
	if _, err := other.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}

	none := jwtlib.NewWithClaims(jwtlib.SigningMethodNone, jwtlib.RegisteredClaims{Subject: "ops@example.com", Issuer: "fueldesk"})
	unsigned, err := none.SignedString(jwtlib.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none token: %v", err)
	}
	if _, err := manager.ParseToken(unsigned); err == nil {
		t.Fatalf("expected alg=none token to be rejected")
	}
}

func TestEnsureAdminOnlySeedsEmptyStore(t *testing.T) {
	store := &userStoreStub{users: map[string]domain.UserAccount{
		"existing@example.com": {Email: "existing@example.com", Password: "x", Role: "admin", Active: true},
	}}
	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, store)

	created, err := manager.EnsureAdmin(context.Background(), "new@example.com", "long-enough-pass")
	if err != nil {
		t.Fatalf("ensure admin: %v", err)
	}
	if created {
		t.Fatalf("expected no seed when accounts exist")
	}

	empty := NewAuthManager(context.Background(), "test-secret", time.Hour, &userStoreStub{})
	if _, err := empty.EnsureAdmin(context.Background(), "new@example.com", "short"); err == nil {
		t.Fatalf("expected short seed password to be rejected")
	}
}
