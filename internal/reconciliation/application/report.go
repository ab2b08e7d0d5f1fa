package application

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"

	reconciliation "supply-billing/internal/reconciliation/domain"
)

const (
	summarySheet = "summary"
	linesSheet   = "lines"
)

func writeReport(path string, result *reconciliation.Result) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return err
	}
	if _, err := f.NewSheet(linesSheet); err != nil {
		return err
	}

	wholesale := ""
	if total, ok := result.DataHubTotal(); ok {
		wholesale = total.StringFixed(2)
	}
	wholesaleID, _ := result.WholesaleSettlementID()
	summary := [][2]string{
		{"Result", result.ID()},
		{"Grid area", result.GridArea()},
		{"Period", result.Period().Key()},
		{"Status", string(result.Status())},
		{"Our total", result.OurTotal().StringFixed(2)},
		{"Wholesale total", wholesale},
		{"Wholesale settlement", wholesaleID},
		{"Difference", result.DifferenceAmount().StringFixed(2)},
		{"Difference %", result.DifferencePercent().StringFixed(2)},
		{"Created", result.CreatedAt().UTC().Format(time.RFC3339)},
	}
	for i, row := range summary {
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", i+1), row[0])
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", i+1), row[1])
	}

	_ = f.SetCellValue(linesSheet, "A1", "Charge ID")
	_ = f.SetCellValue(linesSheet, "B1", "Our amount")
	_ = f.SetCellValue(linesSheet, "C1", "Wholesale amount")
	_ = f.SetCellValue(linesSheet, "D1", "Difference")
	for i, line := range result.Lines() {
		row := i + 2
		_ = f.SetCellValue(linesSheet, fmt.Sprintf("A%d", row), line.ChargeID)
		_ = f.SetCellValue(linesSheet, fmt.Sprintf("B%d", row), line.OurAmount.InexactFloat64())
		_ = f.SetCellValue(linesSheet, fmt.Sprintf("C%d", row), line.DataHubAmount.InexactFloat64())
		_ = f.SetCellValue(linesSheet, fmt.Sprintf("D%d", row), line.Difference.InexactFloat64())
	}
	return f.SaveAs(path)
}
