package main

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"fueldesk/backend/internal/config"
	"fueldesk/backend/internal/store/memory"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	cases := []config.Config{
		{AuthSecret: "short"},
		{AuthSecret: "0123456789abcdef0123456789abcdef", Environment: "production", CookieSecure: false},
		{AuthSecret: "0123456789abcdef0123456789abcdef", SeedAdminPassword: "admin"},
	}
	for i, cfg := range cases {
		if err := validateSecurityConfig(cfg); err == nil {
			t.Fatalf("case %d: expected weak security config to be rejected", i)
		}
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{
		AuthSecret:        "0123456789abcdef0123456789abcdef",
		Environment:       "production",
		CookieSecure:      true,
		SeedAdminPassword: "a-long-seed-password",
	})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestOpenRepositoryFallsBackToMemory(t *testing.T) {
	repo, closers, err := openRepository(context.Background(), config.Config{}, zap.NewNop())
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	if _, ok := repo.(*memory.Store); !ok {
		t.Fatalf("expected in-memory store, got %T", repo)
	}
	if len(closers) != 0 {
		t.Fatalf("expected no closers for memory store, got %d", len(closers))
	}
}
