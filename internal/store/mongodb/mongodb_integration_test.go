package mongodb

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"fueldesk/backend/internal/domain"
	"fueldesk/backend/internal/store"
)

type StoreIntegrationSuite struct {
	suite.Suite
	store *Store
	ctx   context.Context
}

func TestStoreIntegration(t *testing.T) {
	uri := os.Getenv("FUELDESK_TEST_MONGODB_URI")
	if uri == "" {
		t.Skip("set FUELDESK_TEST_MONGODB_URI to run mongodb integration tests")
	}
	suite.Run(t, new(StoreIntegrationSuite))
}

func (s *StoreIntegrationSuite) SetupTest() {
	s.ctx = context.Background()
	st, err := New(s.ctx, Config{
		URI:      os.Getenv("FUELDESK_TEST_MONGODB_URI"),
		Database: fmt.Sprintf("fueldesk_it_%d", time.Now().UnixNano()),
	})
	s.Require().NoError(err)
	s.store = st
}

func (s *StoreIntegrationSuite) TearDownTest() {
	_ = s.store.db.Drop(context.Background())
	_ = s.store.Close()
}

func (s *StoreIntegrationSuite) TestStatsUpsertAndIncrement() {
	_, err := s.store.GetStats(s.ctx, domain.UnitAgency)
	s.Require().ErrorIs(err, store.ErrNotFound)

	first, err := s.store.GetOrCreateStats(s.ctx, domain.UnitAgency)
	s.Require().NoError(err)
	second, err := s.store.GetOrCreateStats(s.ctx, domain.UnitAgency)
	s.Require().NoError(err)
	s.Equal(first.Unit, second.Unit)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.store.ApplyStatsDelta(s.ctx, domain.UnitAgency, domain.StatsDelta{
				domain.FieldTotalOrdersCount: 1,
				domain.FieldTotalRevenue:     5,
			})
		}()
	}
	wg.Wait()

	stats, err := s.store.GetStats(s.ctx, domain.UnitAgency)
	s.Require().NoError(err)
	s.Equal(20.0, stats.TotalOrdersCount)
	s.Equal(100.0, stats.TotalRevenue)

	s.Require().NoError(s.store.ResetStatsFields(s.ctx, domain.UnitAgency, []domain.StatField{domain.FieldTotalRevenue}))
	stats, err = s.store.GetStats(s.ctx, domain.UnitAgency)
	s.Require().NoError(err)
	s.Zero(stats.TotalRevenue)
	s.Equal(20.0, stats.TotalOrdersCount)
}

func (s *StoreIntegrationSuite) TestOrderLedgerRoundTrip() {
	day := time.Date(2024, 7, 3, 8, 0, 0, 0, time.UTC)
	created, err := s.store.CreateOrder(s.ctx, domain.Order{
		Unit:       domain.UnitPetrolPump,
		AgencyName: "Main Road",
		FuelType:   "Diesel",
		Liters:     40,
		PaidAmount: 1200,
		Date:       day,
	})
	s.Require().NoError(err)

	got, err := s.store.GetOrder(s.ctx, domain.UnitPetrolPump, created.ID)
	s.Require().NoError(err)
	s.Equal(40.0, got.Liters)
	s.True(got.Date.Equal(day))

	_, err = s.store.GetOrder(s.ctx, domain.UnitAgency, created.ID)
	s.ErrorIs(err, store.ErrNotFound)

	from, to := day.Truncate(24*time.Hour), day.Truncate(24*time.Hour).Add(24*time.Hour)
	orders, err := s.store.ListOrders(s.ctx, domain.UnitPetrolPump, domain.OrderFilter{AgencyName: "Main Road", From: &from, To: &to})
	s.Require().NoError(err)
	s.Len(orders, 1)

	s.Require().NoError(s.store.DeleteOrder(s.ctx, domain.UnitPetrolPump, created.ID))
	s.ErrorIs(s.store.DeleteOrder(s.ctx, domain.UnitPetrolPump, created.ID), store.ErrNotFound)
	s.ErrorIs(s.store.DeleteOrder(s.ctx, domain.UnitPetrolPump, "bad-id"), store.ErrValidation)
}

func (s *StoreIntegrationSuite) TestInventoryCount() {
	entry, err := s.store.CreateInventory(s.ctx, domain.InventoryEntry{Unit: domain.UnitAgency, FuelType: "NROil", TotalAdded: 12, Date: time.Now().UTC()})
	s.Require().NoError(err)

	n, err := s.store.CountInventory(s.ctx, domain.UnitAgency)
	s.Require().NoError(err)
	s.Equal(int64(1), n)

	s.Require().NoError(s.store.DeleteInventory(s.ctx, domain.UnitAgency, entry.ID))
	n, err = s.store.CountInventory(s.ctx, domain.UnitAgency)
	s.Require().NoError(err)
	s.Zero(n)
}
