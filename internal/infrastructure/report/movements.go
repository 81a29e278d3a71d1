// Package report renders ledger views as spreadsheets.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/Zhima-Mochi/stockledger/internal/domain/inventory"
)

const movementSheet = "Movements"

var movementHeader = []any{"Timestamp", "Movement ID", "Order ID", "Reason", "Quantity Delta", "Cost At Time", "Value"}

// WriteMovements writes the movement history of item as an XLSX workbook to w.
// The last row totals quantity and value.
func WriteMovements(w io.Writer, item *inventory.StockItem, movements []inventory.StockMovement) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", movementSheet); err != nil {
		return fmt.Errorf("report: rename sheet: %w", err)
	}

	row := 1
	if item != nil {
		title := fmt.Sprintf("%s (%s) tenant %s, unit %s", item.Name, item.ID, item.TenantID, item.Unit)
		if err := setRow(f, row, []any{title}); err != nil {
			return err
		}
		row += 2
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("report: header style: %w", err)
	}
	if err := setRow(f, row, movementHeader); err != nil {
		return err
	}
	if err := f.SetRowStyle(movementSheet, row, row, bold); err != nil {
		return fmt.Errorf("report: header style: %w", err)
	}
	row++

	totalQty, totalValue := decimal.Zero, decimal.Zero
	for _, m := range movements {
		value := m.QuantityDelta.Mul(m.CostAtTime)
		totalQty = totalQty.Add(m.QuantityDelta)
		totalValue = totalValue.Add(value)
		if err := setRow(f, row, []any{
			m.Timestamp.UTC().Format(time.RFC3339),
			m.ID,
			m.OrderID,
			m.Reason,
			m.QuantityDelta.InexactFloat64(),
			m.CostAtTime.InexactFloat64(),
			value.InexactFloat64(),
		}); err != nil {
			return err
		}
		row++
	}

	if err := setRow(f, row, []any{"Total", nil, nil, nil, totalQty.InexactFloat64(), nil, totalValue.InexactFloat64()}); err != nil {
		return err
	}
	if err := f.SetRowStyle(movementSheet, row, row, bold); err != nil {
		return fmt.Errorf("report: total style: %w", err)
	}
	if err := f.SetColWidth(movementSheet, "A", "D", 24); err != nil {
		return fmt.Errorf("report: column width: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("report: write workbook: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("report: row %d: %w", row, err)
	}
	if err := f.SetSheetRow(movementSheet, cell, &values); err != nil {
		return fmt.Errorf("report: row %d: %w", row, err)
	}
	return nil
}
