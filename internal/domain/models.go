package domain

import (
	"strings"
	"time"
)

type BusinessUnit string

const (
	UnitPetrolPump BusinessUnit = "petrol-pump"
	UnitAgency     BusinessUnit = "agency"
)

func BusinessUnits() []BusinessUnit {
	return []BusinessUnit{UnitPetrolPump, UnitAgency}
}

func ParseBusinessUnit(raw string) (BusinessUnit, bool) {
	switch BusinessUnit(strings.ToLower(strings.TrimSpace(raw))) {
	case UnitPetrolPump:
		return UnitPetrolPump, true
	case UnitAgency:
		return UnitAgency, true
	}
	return "", false
}

func (u BusinessUnit) Valid() bool {
	return u == UnitPetrolPump || u == UnitAgency
}

type FuelType string

const (
	FuelDiesel      FuelType = "Diesel"
	FuelPetrol      FuelType = "Petrol"
	FuelKeroseneOil FuelType = "KeroseneOil"
	FuelNROil       FuelType = "NROil"
	FuelTyreOil     FuelType = "TyreOil"
)

func FuelTypes() []FuelType {
	return []FuelType{FuelDiesel, FuelPetrol, FuelKeroseneOil, FuelNROil, FuelTyreOil}
}

// ParseFuelType matches a client supplied label against the fuel enumeration.
// Whitespace is ignored and the comparison is case-insensitive, so
// "Kerosene Oil" resolves to KeroseneOil.
func ParseFuelType(raw string) (FuelType, bool) {
	compact := strings.Join(strings.Fields(raw), "")
	if compact == "" {
		return "", false
	}
	for _, fuel := range FuelTypes() {
		if strings.EqualFold(compact, string(fuel)) {
			return fuel, true
		}
	}
	return "", false
}

type Order struct {
	ID                string       `json:"id" bson:"-"`
	Unit              BusinessUnit `json:"unit" bson:"unit"`
	ClientName        string       `json:"clientName" bson:"clientName"`
	OrderPlace        string       `json:"orderPlace" bson:"orderPlace"`
	FuelType          string       `json:"fuelType" bson:"fuelType"`
	Liters            float64      `json:"liters" bson:"liters"`
	FuelPerLiterPrice float64      `json:"fuelPerLiterPrice" bson:"fuelPerLiterPrice"`
	FuelPrice         float64      `json:"fuelPrice" bson:"fuelPrice"`
	PaidAmount        float64      `json:"paidAmount" bson:"paidAmount"`
	PendingAmount     float64      `json:"pendingAmount" bson:"pendingAmount"`
	Date              time.Time    `json:"date" bson:"date"`
	AgencyName        string       `json:"agencyName" bson:"agencyName"`
	CreatedAt         time.Time    `json:"createdAt" bson:"createdAt"`
	UpdatedAt         time.Time    `json:"updatedAt" bson:"updatedAt"`
}

// InventoryEntry is a stock receipt. The agency records one fuel per entry
// (FuelType, TotalAdded); the petrol pump records petrol and diesel together.
type InventoryEntry struct {
	ID               string       `json:"id" bson:"-"`
	Unit             BusinessUnit `json:"unit" bson:"unit"`
	Date             time.Time    `json:"date" bson:"date"`
	FuelType         string       `json:"fuelType,omitempty" bson:"fuelType,omitempty"`
	TotalAdded       float64      `json:"totalAdded,omitempty" bson:"totalAdded,omitempty"`
	TotalPetrolAdded float64      `json:"totalPetrolAdded,omitempty" bson:"totalPetrolAdded,omitempty"`
	TotalDieselAdded float64      `json:"totalDieselAdded,omitempty" bson:"totalDieselAdded,omitempty"`
	BoughtBy         string       `json:"boughtBy" bson:"boughtBy"`
	AgencyType       string       `json:"agencyType,omitempty" bson:"agencyType,omitempty"`
	FuelAvailable    string       `json:"fuelAvailable,omitempty" bson:"fuelAvailable,omitempty"`
	CreatedAt        time.Time    `json:"createdAt" bson:"createdAt"`
	UpdatedAt        time.Time    `json:"updatedAt" bson:"updatedAt"`
}

// Additions returns the quantity of each recognised fuel this entry brings
// into stock.
func (e InventoryEntry) Additions() map[FuelType]float64 {
	if e.Unit == UnitPetrolPump {
		return map[FuelType]float64{
			FuelPetrol: e.TotalPetrolAdded,
			FuelDiesel: e.TotalDieselAdded,
		}
	}
	fuel, ok := ParseFuelType(e.FuelType)
	if !ok {
		return map[FuelType]float64{}
	}
	return map[FuelType]float64{fuel: e.TotalAdded}
}

type OrderRequest struct {
	ClientName        string     `json:"clientName"`
	OrderPlace        string     `json:"orderPlace"`
	FuelType          string     `json:"fuelType"`
	Liters            FlexNumber `json:"liters"`
	FuelPerLiterPrice FlexNumber `json:"fuelPerLiterPrice"`
	FuelPrice         FlexNumber `json:"fuelPrice"`
	PaidAmount        FlexNumber `json:"paidAmount"`
	PendingAmount     FlexNumber `json:"pendingAmount"`
	Date              string     `json:"date"`
	AgencyName        string     `json:"agencyName"`
}

// InventoryRequest carries both unit variants. BoughtByName is the field name
// the petrol pump clients send.
type InventoryRequest struct {
	Date             string     `json:"date"`
	FuelType         string     `json:"fuelType"`
	TotalAdded       FlexNumber `json:"totalAdded"`
	TotalPetrolAdded FlexNumber `json:"totalPetrolAdded"`
	TotalDieselAdded FlexNumber `json:"totalDieselAdded"`
	BoughtBy         string     `json:"boughtBy"`
	BoughtByName     string     `json:"boughtByName"`
	AgencyType       string     `json:"agencyType"`
	FuelAvailable    string     `json:"fuelAvailable"`
}

func (r InventoryRequest) Buyer() string {
	if buyer := strings.TrimSpace(r.BoughtBy); buyer != "" {
		return buyer
	}
	return strings.TrimSpace(r.BoughtByName)
}

type OrderFilter struct {
	AgencyName string
	From       *time.Time
	To         *time.Time
}

type InventoryFilter struct {
	From *time.Time
	To   *time.Time
}

type OrderResult struct {
	Order Order         `json:"order"`
	Stats StatsSnapshot `json:"stats"`
}

type InventoryResult struct {
	Inventory InventoryEntry `json:"inventory"`
	Stats     StatsSnapshot  `json:"stats"`
}

type Actor struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

type UserAccount struct {
	Email     string    `json:"email" bson:"email"`
	Password  string    `json:"-" bson:"password"`
	Role      string    `json:"role" bson:"role"`
	Active    bool      `json:"active" bson:"active"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Message     string `json:"message"`
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}
