// Package statistics holds the rules that turn ledger mutations into
// increments of a unit's aggregate record. Everything here is pure; storage
// applies the resulting deltas atomically.
package statistics

import (
	"time"

	"fueldesk/backend/internal/domain"
)

// FuelFields are the three counters kept for one fuel.
type FuelFields struct {
	Sold      domain.StatField
	Added     domain.StatField
	Remaining domain.StatField
}

var fuelTable = map[domain.FuelType]FuelFields{
	domain.FuelPetrol:      {Sold: domain.FieldSoldPetrol, Added: domain.FieldAddedPetrol, Remaining: domain.FieldRemainingPetrol},
	domain.FuelDiesel:      {Sold: domain.FieldSoldDiesel, Added: domain.FieldAddedDiesel, Remaining: domain.FieldRemainingDiesel},
	domain.FuelKeroseneOil: {Sold: domain.FieldSoldKeroseneOil, Added: domain.FieldAddedKeroseneOil, Remaining: domain.FieldRemainingKeroseneOil},
	domain.FuelNROil:       {Sold: domain.FieldSoldNROil, Added: domain.FieldAddedNROil, Remaining: domain.FieldRemainingNROil},
	domain.FuelTyreOil:     {Sold: domain.FieldSoldTyreOil, Added: domain.FieldAddedTyreOil, Remaining: domain.FieldRemainingTyreOil},
}

func FieldsFor(fuel domain.FuelType) (FuelFields, bool) {
	f, ok := fuelTable[fuel]
	return f, ok
}

// OrderContribution is what a single order adds to its unit's aggregate.
// The second result reports whether the order's fuel type was recognised;
// unrecognised fuels still count toward the order-level totals.
func OrderContribution(o domain.Order) (domain.StatsDelta, bool) {
	d := domain.StatsDelta{}
	d.Add(domain.FieldTotalOrdersCount, 1)
	d.Add(domain.FieldTotalRevenue, o.PaidAmount)
	d.Add(domain.FieldTotalPendingAmount, o.PendingAmount)

	fuel, ok := domain.ParseFuelType(o.FuelType)
	if !ok {
		return d, false
	}
	d.Add(fuelTable[fuel].Sold, o.Liters)
	return d, true
}

// InventoryContribution raises both the added and the remaining counter of
// every fuel the entry brings in.
func InventoryContribution(e domain.InventoryEntry) domain.StatsDelta {
	d := domain.StatsDelta{}
	for fuel, qty := range e.Additions() {
		fields, ok := fuelTable[fuel]
		if !ok {
			continue
		}
		d.Add(fields.Added, qty)
		d.Add(fields.Remaining, qty)
	}
	return d
}

func OrderCreateDelta(o domain.Order) domain.StatsDelta {
	d, _ := OrderContribution(o)
	return d
}

func OrderDeleteDelta(o domain.Order) domain.StatsDelta {
	return OrderCreateDelta(o).Negate()
}

// OrderEditDelta is contribution(next) - contribution(prev), field by field.
func OrderEditDelta(prev, next domain.Order) domain.StatsDelta {
	return OrderCreateDelta(next).Sub(OrderCreateDelta(prev))
}

func InventoryCreateDelta(e domain.InventoryEntry) domain.StatsDelta {
	return InventoryContribution(e)
}

func InventoryDeleteDelta(e domain.InventoryEntry) domain.StatsDelta {
	return InventoryContribution(e).Negate()
}

func InventoryEditDelta(prev, next domain.InventoryEntry) domain.StatsDelta {
	return InventoryContribution(next).Sub(InventoryContribution(prev))
}

// RemainingFields lists the counters zeroed once a unit's inventory ledger
// becomes empty.
func RemainingFields(unit domain.BusinessUnit) []domain.StatField {
	if unit == domain.UnitPetrolPump {
		return []domain.StatField{domain.FieldRemainingPetrol, domain.FieldRemainingDiesel}
	}
	fields := make([]domain.StatField, 0, len(fuelTable))
	for _, fuel := range domain.FuelTypes() {
		fields = append(fields, fuelTable[fuel].Remaining)
	}
	return fields
}

// Rebuild recomputes a unit's aggregate from its full ledgers.
func Rebuild(unit domain.BusinessUnit, orders []domain.Order, inventory []domain.InventoryEntry, now time.Time) domain.Stats {
	stats := domain.Stats{Unit: unit, UpdatedAt: now.UTC()}
	for _, o := range orders {
		stats.Apply(OrderCreateDelta(o))
	}
	for _, e := range inventory {
		stats.Apply(InventoryContribution(e))
	}
	if len(inventory) == 0 {
		stats.Reset(RemainingFields(unit))
	}
	return stats
}

// Snapshot attaches the derived per-fuel availability to a stats record.
func Snapshot(stats domain.Stats) domain.StatsSnapshot {
	available := make(map[domain.FuelType]float64, len(fuelTable))
	for _, fuel := range domain.FuelTypes() {
		fields := fuelTable[fuel]
		available[fuel] = stats.Get(fields.Added) - stats.Get(fields.Sold)
	}
	return domain.StatsSnapshot{Stats: stats, Available: available}
}
