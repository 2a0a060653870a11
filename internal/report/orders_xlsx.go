// Package report renders ledger exports.
package report

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"fueldesk/backend/internal/domain"
)

const ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var orderHeaders = []string{
	"Date", "Client", "Place", "Fuel", "Liters", "Price / Liter", "Fuel Price", "Paid", "Pending", "Agency",
}

// BuildOrdersXLSX writes an orders sheet and a summary sheet with the unit's
// current aggregate.
func BuildOrdersXLSX(unit domain.BusinessUnit, agencyName string, orders []domain.Order, stats domain.StatsSnapshot, loc *time.Location) ([]byte, error) {
	if loc == nil {
		loc = time.UTC
	}
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	ordersSheet := "orders"
	summarySheet := "summary"
	if err := f.SetSheetName("Sheet1", ordersSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(summarySheet); err != nil {
		return nil, err
	}

	for i, h := range orderHeaders {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		_ = f.SetCellValue(ordersSheet, cell, h)
	}

	var liters, paid, pending float64
	for i, o := range orders {
		row := i + 2
		values := []any{
			o.Date.In(loc).Format("2006-01-02 15:04"),
			o.ClientName,
			o.OrderPlace,
			o.FuelType,
			o.Liters,
			o.FuelPerLiterPrice,
			o.FuelPrice,
			o.PaidAmount,
			o.PendingAmount,
			o.AgencyName,
		}
		if err := f.SetSheetRow(ordersSheet, fmt.Sprintf("A%d", row), &values); err != nil {
			return nil, err
		}
		liters += o.Liters
		paid += o.PaidAmount
		pending += o.PendingAmount
	}
	totalRow := len(orders) + 2
	_ = f.SetCellValue(ordersSheet, fmt.Sprintf("A%d", totalRow), "Total")
	_ = f.SetCellValue(ordersSheet, fmt.Sprintf("E%d", totalRow), liters)
	_ = f.SetCellValue(ordersSheet, fmt.Sprintf("H%d", totalRow), paid)
	_ = f.SetCellValue(ordersSheet, fmt.Sprintf("I%d", totalRow), pending)

	_ = f.SetCellValue(summarySheet, "A1", "Orders Export")
	_ = f.SetCellValue(summarySheet, "A3", "Unit")
	_ = f.SetCellValue(summarySheet, "B3", string(unit))
	_ = f.SetCellValue(summarySheet, "A4", "Agency")
	_ = f.SetCellValue(summarySheet, "B4", agencyName)
	_ = f.SetCellValue(summarySheet, "A5", "Orders")
	_ = f.SetCellValue(summarySheet, "B5", len(orders))
	_ = f.SetCellValue(summarySheet, "A6", "Generated")
	_ = f.SetCellValue(summarySheet, "B6", time.Now().In(loc).Format(time.RFC3339))

	_ = f.SetCellValue(summarySheet, "A8", "Unit Totals")
	_ = f.SetCellValue(summarySheet, "A9", "Total Orders")
	_ = f.SetCellValue(summarySheet, "B9", stats.TotalOrdersCount)
	_ = f.SetCellValue(summarySheet, "A10", "Total Revenue")
	_ = f.SetCellValue(summarySheet, "B10", stats.TotalRevenue)
	_ = f.SetCellValue(summarySheet, "A11", "Total Pending")
	_ = f.SetCellValue(summarySheet, "B11", stats.TotalPendingAmount)

	_ = f.SetCellValue(summarySheet, "A13", "Fuel")
	_ = f.SetCellValue(summarySheet, "B13", "Available")
	for i, fuel := range domain.FuelTypes() {
		row := 14 + i
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), string(fuel))
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", row), stats.Available[fuel])
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
