package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fueldesk/backend/internal/domain"
	"fueldesk/backend/internal/store"
	"fueldesk/backend/internal/xid"
)

func TestGetStatsNotFoundUntilCreated(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.GetStats(ctx, domain.UnitAgency)
	require.ErrorIs(t, err, store.ErrNotFound)

	first, err := s.GetOrCreateStats(ctx, domain.UnitAgency)
	require.NoError(t, err)
	second, err := s.GetOrCreateStats(ctx, domain.UnitAgency)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, domain.UnitAgency, first.Unit)
	assert.Zero(t, first.TotalRevenue)
}

func TestApplyStatsDeltaUpsertsAndIsAtomic(t *testing.T) {
	s := New()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.ApplyStatsDelta(ctx, domain.UnitPetrolPump, domain.StatsDelta{
				domain.FieldTotalOrdersCount: 1,
				domain.FieldTotalRevenue:     10,
			})
		}()
	}
	wg.Wait()

	stats, err := s.GetStats(ctx, domain.UnitPetrolPump)
	require.NoError(t, err)
	assert.Equal(t, 50.0, stats.TotalOrdersCount)
	assert.Equal(t, 500.0, stats.TotalRevenue)

	_, err = s.GetStats(ctx, domain.UnitAgency)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestApplyStatsDeltaRejectsUnknownField(t *testing.T) {
	s := New()
	err := s.ApplyStatsDelta(context.Background(), domain.UnitAgency, domain.StatsDelta{"remainingTyre": 1})
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestOrderLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()
	day := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

	created, err := s.CreateOrder(ctx, domain.Order{Unit: domain.UnitAgency, AgencyName: "North", Date: day, PaidAmount: 10})
	require.NoError(t, err)
	require.True(t, xid.Valid(created.ID))

	_, err = s.GetOrder(ctx, domain.UnitPetrolPump, created.ID)
	assert.ErrorIs(t, err, store.ErrNotFound, "ledgers are separate per unit")

	created.PaidAmount = 25
	require.NoError(t, s.ReplaceOrder(ctx, created))
	got, err := s.GetOrder(ctx, domain.UnitAgency, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 25.0, got.PaidAmount)

	require.NoError(t, s.DeleteOrder(ctx, domain.UnitAgency, created.ID))
	assert.ErrorIs(t, s.DeleteOrder(ctx, domain.UnitAgency, created.ID), store.ErrNotFound)
	assert.ErrorIs(t, s.DeleteOrder(ctx, domain.UnitAgency, "nope"), store.ErrValidation)
}

func TestListOrdersFiltersAndSorts(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	for i, name := range []string{"North", "South", "North"} {
		_, err := s.CreateOrder(ctx, domain.Order{Unit: domain.UnitPetrolPump, AgencyName: name, Date: base.Add(time.Duration(i) * 24 * time.Hour)})
		require.NoError(t, err)
	}

	orders, err := s.ListOrders(ctx, domain.UnitPetrolPump, domain.OrderFilter{AgencyName: "North"})
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.True(t, orders[0].Date.After(orders[1].Date))

	from, to := base, base.Add(24*time.Hour)
	orders, err = s.ListOrders(ctx, domain.UnitPetrolPump, domain.OrderFilter{From: &from, To: &to})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, base, orders[0].Date)
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.CreateInventory(ctx, domain.InventoryEntry{Unit: domain.UnitAgency, FuelType: "Diesel", TotalAdded: 5}); err != nil {
			return err
		}
		if err := s.ApplyStatsDelta(ctx, domain.UnitAgency, domain.StatsDelta{domain.FieldAddedDiesel: 5}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	count, err := s.CountInventory(ctx, domain.UnitAgency)
	require.NoError(t, err)
	assert.Zero(t, count)
	_, err = s.GetStats(ctx, domain.UnitAgency)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestResetStatsFields(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.ApplyStatsDelta(ctx, domain.UnitAgency, domain.StatsDelta{
		domain.FieldRemainingNROil: 9,
		domain.FieldAddedNROil:     9,
	}))
	require.NoError(t, s.ResetStatsFields(ctx, domain.UnitAgency, []domain.StatField{domain.FieldRemainingNROil}))

	stats, err := s.GetStats(ctx, domain.UnitAgency)
	require.NoError(t, err)
	assert.Zero(t, stats.RemainingNROil)
	assert.Equal(t, 9.0, stats.TotalNROilAdded)
}

func TestSeededAdminCanBeListed(t *testing.T) {
	t.Setenv("SEED_ADMIN_EMAIL", "Owner@Example.com")
	t.Setenv("SEED_ADMIN_PASSWORD", "s3cret-pass")
	s := NewSeeded()

	users, err := s.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "owner@example.com", users[0].Email)
	assert.NotEqual(t, "s3cret-pass", users[0].Password)
}
