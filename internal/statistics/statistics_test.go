package statistics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fueldesk/backend/internal/domain"
)

func TestOrderContributionCountsRecognisedFuel(t *testing.T) {
	delta, ok := OrderContribution(domain.Order{FuelType: "Diesel", Liters: 100, PaidAmount: 5000, PendingAmount: 250})
	require.True(t, ok)
	assert.Equal(t, domain.StatsDelta{
		domain.FieldTotalOrdersCount:   1,
		domain.FieldTotalRevenue:       5000,
		domain.FieldTotalPendingAmount: 250,
		domain.FieldSoldDiesel:         100,
	}, delta)
}

func TestOrderContributionUnknownFuelSkipsFuelCounter(t *testing.T) {
	delta, ok := OrderContribution(domain.Order{FuelType: "Jet A1", Liters: 40, PaidAmount: 900})
	assert.False(t, ok)
	assert.Equal(t, domain.StatsDelta{
		domain.FieldTotalOrdersCount: 1,
		domain.FieldTotalRevenue:     900,
	}, delta)
}

func TestOrderContributionRecognisesAllFuelsForBothUnits(t *testing.T) {
	for _, unit := range domain.BusinessUnits() {
		for _, fuel := range domain.FuelTypes() {
			delta, ok := OrderContribution(domain.Order{Unit: unit, FuelType: string(fuel), Liters: 3})
			require.True(t, ok, "%s/%s", unit, fuel)
			fields, _ := FieldsFor(fuel)
			assert.Equal(t, 3.0, delta[fields.Sold])
		}
	}
}

func TestDeleteDeltaNegatesCreate(t *testing.T) {
	order := domain.Order{FuelType: "Petrol", Liters: 12.5, PaidAmount: 1300, PendingAmount: 20}
	stats := domain.Stats{}
	stats.Apply(OrderCreateDelta(order))
	stats.Apply(OrderDeleteDelta(order))
	assert.Equal(t, domain.Stats{}, stats)

	entry := domain.InventoryEntry{Unit: domain.UnitAgency, FuelType: "Kerosene Oil", TotalAdded: 70}
	stats.Apply(InventoryCreateDelta(entry))
	assert.Equal(t, 70.0, stats.RemainingKeroseneOil)
	stats.Apply(InventoryDeleteDelta(entry))
	assert.Equal(t, domain.Stats{}, stats)
}

func TestOrderEditDeltaReplacesContribution(t *testing.T) {
	prev := domain.Order{FuelType: "Diesel", Liters: 100, PaidAmount: 5000, PendingAmount: 100}
	next := domain.Order{FuelType: "Petrol", Liters: 60, PaidAmount: 4200, PendingAmount: 100}

	delta := OrderEditDelta(prev, next)
	assert.Equal(t, domain.StatsDelta{
		domain.FieldTotalRevenue: -800,
		domain.FieldSoldDiesel:   -100,
		domain.FieldSoldPetrol:   60,
	}, delta)
	_, counted := delta[domain.FieldTotalOrdersCount]
	assert.False(t, counted)
}

func TestEditWithoutChangesIsEmpty(t *testing.T) {
	entry := domain.InventoryEntry{Unit: domain.UnitPetrolPump, TotalPetrolAdded: 200, TotalDieselAdded: 50}
	assert.True(t, InventoryEditDelta(entry, entry).IsZero())
}

func TestPetrolPumpInventoryTouchesPetrolAndDiesel(t *testing.T) {
	delta := InventoryContribution(domain.InventoryEntry{Unit: domain.UnitPetrolPump, TotalPetrolAdded: 200, TotalDieselAdded: 0})
	assert.Equal(t, domain.StatsDelta{
		domain.FieldAddedPetrol:     200,
		domain.FieldRemainingPetrol: 200,
	}, delta)
}

func TestRemainingFields(t *testing.T) {
	assert.ElementsMatch(t,
		[]domain.StatField{domain.FieldRemainingPetrol, domain.FieldRemainingDiesel},
		RemainingFields(domain.UnitPetrolPump))
	assert.Len(t, RemainingFields(domain.UnitAgency), 5)
	assert.Contains(t, RemainingFields(domain.UnitAgency), domain.FieldRemainingTyreOil)
}

func TestRebuildMatchesIncrementalApplication(t *testing.T) {
	orders := []domain.Order{
		{FuelType: "Diesel", Liters: 100, PaidAmount: 5000},
		{FuelType: "TyreOil", Liters: 5, PaidAmount: 700, PendingAmount: 50},
		{FuelType: "unknown", PaidAmount: 10},
	}
	inventory := []domain.InventoryEntry{
		{Unit: domain.UnitAgency, FuelType: "Diesel", TotalAdded: 400},
		{Unit: domain.UnitAgency, FuelType: "NROil", TotalAdded: 30},
	}

	incremental := domain.Stats{Unit: domain.UnitAgency}
	for _, o := range orders {
		incremental.Apply(OrderCreateDelta(o))
	}
	for _, e := range inventory {
		incremental.Apply(InventoryCreateDelta(e))
	}

	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	rebuilt := Rebuild(domain.UnitAgency, orders, inventory, now)
	incremental.UpdatedAt = now
	assert.Equal(t, incremental, rebuilt)
	assert.Equal(t, 3.0, rebuilt.TotalOrdersCount)
	assert.Equal(t, 5710.0, rebuilt.TotalRevenue)
}

func TestSnapshotAvailableIsAddedMinusSold(t *testing.T) {
	stats := domain.Stats{TotalPetrolAdded: 200, RemainingPetrol: 200, TotalFuelSoldByPetrol: 50}
	snap := Snapshot(stats)
	assert.Equal(t, 150.0, snap.Available[domain.FuelPetrol])
	assert.Equal(t, 200.0, snap.RemainingPetrol)
	assert.Equal(t, 0.0, snap.Available[domain.FuelNROil])
}
