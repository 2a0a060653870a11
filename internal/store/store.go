package store

import (
	"context"
	"errors"
	"fmt"

	"fueldesk/backend/internal/domain"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
)

// ValidationError carries a client facing message and matches ErrValidation.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func Invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// LedgerStore keeps the append-only order and inventory ledgers of each unit.
// Replace swaps every stored field of an existing entry; unknown ids yield
// ErrNotFound and malformed ids ErrValidation.
type LedgerStore interface {
	CreateOrder(ctx context.Context, order domain.Order) (domain.Order, error)
	GetOrder(ctx context.Context, unit domain.BusinessUnit, id string) (domain.Order, error)
	ReplaceOrder(ctx context.Context, order domain.Order) error
	DeleteOrder(ctx context.Context, unit domain.BusinessUnit, id string) error
	ListOrders(ctx context.Context, unit domain.BusinessUnit, filter domain.OrderFilter) ([]domain.Order, error)

	CreateInventory(ctx context.Context, entry domain.InventoryEntry) (domain.InventoryEntry, error)
	GetInventory(ctx context.Context, unit domain.BusinessUnit, id string) (domain.InventoryEntry, error)
	ReplaceInventory(ctx context.Context, entry domain.InventoryEntry) error
	DeleteInventory(ctx context.Context, unit domain.BusinessUnit, id string) error
	ListInventory(ctx context.Context, unit domain.BusinessUnit, filter domain.InventoryFilter) ([]domain.InventoryEntry, error)
	CountInventory(ctx context.Context, unit domain.BusinessUnit) (int64, error)
}

// AggregateStore holds one stats record per unit. ApplyStatsDelta must be an
// atomic increment with upsert semantics, never a read-modify-write.
type AggregateStore interface {
	GetStats(ctx context.Context, unit domain.BusinessUnit) (domain.Stats, error)
	GetOrCreateStats(ctx context.Context, unit domain.BusinessUnit) (domain.Stats, error)
	ApplyStatsDelta(ctx context.Context, unit domain.BusinessUnit, delta domain.StatsDelta) error
	ResetStatsFields(ctx context.Context, unit domain.BusinessUnit, fields []domain.StatField) error
	ReplaceStats(ctx context.Context, stats domain.Stats) error
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, email string, password string) error
}

type Repository interface {
	LedgerStore
	AggregateStore
	UserStore

	// WithinTx runs fn so that its ledger and aggregate writes commit or
	// roll back together where the backend supports it. fn must use the ctx
	// it is given.
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
	Ping(ctx context.Context) error
}
