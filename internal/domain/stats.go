package domain

import (
	"sort"
	"time"
)

// StatField names one counter of a unit's aggregate record. The string value
// is the stored and serialized field name.
type StatField string

const (
	FieldTotalOrdersCount   StatField = "totalOrdersCount"
	FieldTotalRevenue       StatField = "totalRevenue"
	FieldTotalPendingAmount StatField = "totalPendingAmount"

	FieldSoldPetrol      StatField = "totalFuelSoldByPetrol"
	FieldSoldDiesel      StatField = "totalFuelSoldByDiesel"
	FieldSoldKeroseneOil StatField = "totalFuelSoldByKeroseneOil"
	FieldSoldNROil       StatField = "totalFuelSoldByNROil"
	FieldSoldTyreOil     StatField = "totalFuelSoldByTyreOil"

	FieldAddedPetrol      StatField = "totalPetrolAdded"
	FieldAddedDiesel      StatField = "totalDieselAdded"
	FieldAddedKeroseneOil StatField = "totalKeroseneOilAdded"
	FieldAddedNROil       StatField = "totalNROilAdded"
	FieldAddedTyreOil     StatField = "totalTyreOilAdded"

	FieldRemainingPetrol      StatField = "remainingPetrol"
	FieldRemainingDiesel      StatField = "remainingDiesel"
	FieldRemainingKeroseneOil StatField = "remainingKeroseneOil"
	FieldRemainingNROil       StatField = "remainingNROil"
	FieldRemainingTyreOil     StatField = "remainingTyreOil"
)

func AllStatFields() []StatField {
	return []StatField{
		FieldTotalOrdersCount, FieldTotalRevenue, FieldTotalPendingAmount,
		FieldSoldPetrol, FieldSoldDiesel, FieldSoldKeroseneOil, FieldSoldNROil, FieldSoldTyreOil,
		FieldAddedPetrol, FieldAddedDiesel, FieldAddedKeroseneOil, FieldAddedNROil, FieldAddedTyreOil,
		FieldRemainingPetrol, FieldRemainingDiesel, FieldRemainingKeroseneOil, FieldRemainingNROil, FieldRemainingTyreOil,
	}
}

func (f StatField) Valid() bool {
	var s Stats
	return s.field(f) != nil
}

// Stats is the incrementally maintained aggregate of one business unit.
// Unit doubles as the record identity.
type Stats struct {
	Unit BusinessUnit `json:"unit" bson:"_id"`

	TotalOrdersCount   float64 `json:"totalOrdersCount" bson:"totalOrdersCount"`
	TotalRevenue       float64 `json:"totalRevenue" bson:"totalRevenue"`
	TotalPendingAmount float64 `json:"totalPendingAmount" bson:"totalPendingAmount"`

	TotalFuelSoldByPetrol      float64 `json:"totalFuelSoldByPetrol" bson:"totalFuelSoldByPetrol"`
	TotalFuelSoldByDiesel      float64 `json:"totalFuelSoldByDiesel" bson:"totalFuelSoldByDiesel"`
	TotalFuelSoldByKeroseneOil float64 `json:"totalFuelSoldByKeroseneOil" bson:"totalFuelSoldByKeroseneOil"`
	TotalFuelSoldByNROil       float64 `json:"totalFuelSoldByNROil" bson:"totalFuelSoldByNROil"`
	TotalFuelSoldByTyreOil     float64 `json:"totalFuelSoldByTyreOil" bson:"totalFuelSoldByTyreOil"`

	TotalPetrolAdded      float64 `json:"totalPetrolAdded" bson:"totalPetrolAdded"`
	TotalDieselAdded      float64 `json:"totalDieselAdded" bson:"totalDieselAdded"`
	TotalKeroseneOilAdded float64 `json:"totalKeroseneOilAdded" bson:"totalKeroseneOilAdded"`
	TotalNROilAdded       float64 `json:"totalNROilAdded" bson:"totalNROilAdded"`
	TotalTyreOilAdded     float64 `json:"totalTyreOilAdded" bson:"totalTyreOilAdded"`

	RemainingPetrol      float64 `json:"remainingPetrol" bson:"remainingPetrol"`
	RemainingDiesel      float64 `json:"remainingDiesel" bson:"remainingDiesel"`
	RemainingKeroseneOil float64 `json:"remainingKeroseneOil" bson:"remainingKeroseneOil"`
	RemainingNROil       float64 `json:"remainingNROil" bson:"remainingNROil"`
	RemainingTyreOil     float64 `json:"remainingTyreOil" bson:"remainingTyreOil"`

	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

func (s *Stats) field(f StatField) *float64 {
	switch f {
	case FieldTotalOrdersCount:
		return &s.TotalOrdersCount
	case FieldTotalRevenue:
		return &s.TotalRevenue
	case FieldTotalPendingAmount:
		return &s.TotalPendingAmount
	case FieldSoldPetrol:
		return &s.TotalFuelSoldByPetrol
	case FieldSoldDiesel:
		return &s.TotalFuelSoldByDiesel
	case FieldSoldKeroseneOil:
		return &s.TotalFuelSoldByKeroseneOil
	case FieldSoldNROil:
		return &s.TotalFuelSoldByNROil
	case FieldSoldTyreOil:
		return &s.TotalFuelSoldByTyreOil
	case FieldAddedPetrol:
		return &s.TotalPetrolAdded
	case FieldAddedDiesel:
		return &s.TotalDieselAdded
	case FieldAddedKeroseneOil:
		return &s.TotalKeroseneOilAdded
	case FieldAddedNROil:
		return &s.TotalNROilAdded
	case FieldAddedTyreOil:
		return &s.TotalTyreOilAdded
	case FieldRemainingPetrol:
		return &s.RemainingPetrol
	case FieldRemainingDiesel:
		return &s.RemainingDiesel
	case FieldRemainingKeroseneOil:
		return &s.RemainingKeroseneOil
	case FieldRemainingNROil:
		return &s.RemainingNROil
	case FieldRemainingTyreOil:
		return &s.RemainingTyreOil
	}
	return nil
}

func (s Stats) Get(f StatField) float64 {
	if p := s.field(f); p != nil {
		return *p
	}
	return 0
}

func (s *Stats) Set(f StatField, v float64) {
	if p := s.field(f); p != nil {
		*p = v
	}
}

func (s *Stats) Apply(delta StatsDelta) {
	for f, v := range delta {
		if p := s.field(f); p != nil {
			*p += v
		}
	}
}

func (s *Stats) Reset(fields []StatField) {
	for _, f := range fields {
		s.Set(f, 0)
	}
}

// StatsDelta maps counters to signed increments.
type StatsDelta map[StatField]float64

func (d StatsDelta) Add(f StatField, v float64) {
	if v == 0 {
		return
	}
	d[f] += v
	if d[f] == 0 {
		delete(d, f)
	}
}

func (d StatsDelta) Negate() StatsDelta {
	out := make(StatsDelta, len(d))
	for f, v := range d {
		out.Add(f, -v)
	}
	return out
}

// Sub returns d - other, without zero entries.
func (d StatsDelta) Sub(other StatsDelta) StatsDelta {
	out := make(StatsDelta, len(d)+len(other))
	for f, v := range d {
		out.Add(f, v)
	}
	for f, v := range other {
		out.Add(f, -v)
	}
	return out
}

func (d StatsDelta) IsZero() bool {
	return len(d) == 0
}

func (d StatsDelta) Fields() []StatField {
	fields := make([]StatField, 0, len(d))
	for f := range d {
		fields = append(fields, f)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i] < fields[j] })
	return fields
}

// StatsSnapshot is the read view of a unit's aggregate. Available is derived
// at read time as added minus sold per fuel.
type StatsSnapshot struct {
	Stats
	Available map[FuelType]float64 `json:"available"`
}
