package interfaces

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"supply-billing/internal/observability/metrics"
	settlement "supply-billing/internal/settlement/domain"
)

const dateLayout = "2006-01-02"

// BuildSettlementPDF renders a settlement document with its lines.
func BuildSettlementPDF(s *settlement.Settlement) (out []byte, err error) {
	start := time.Now()
	defer func() { observeExport("pdf", err, start) }()
	if s == nil {
		return nil, settlement.ErrNilSettlement
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, documentTitle(s))
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	for _, row := range summaryRows(s) {
		pdf.Cell(0, 6, row[0]+": "+row[1])
		pdf.Ln(5)
	}
	pdf.Ln(4)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(70, 6, "Description", "1", 0, "L", false, 0, "")
	pdf.CellFormat(30, 6, "kWh", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Unit price", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Amount", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, line := range s.Lines() {
		pdf.CellFormat(70, 6, line.Description, "1", 0, "L", false, 0, "")
		pdf.CellFormat(30, 6, line.Quantity.String(), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 6, line.UnitPrice.StringFixed(6), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 6, line.Amount.StringFixed(2), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}
	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(130, 6, "Total", "1", 0, "L", false, 0, "")
	pdf.CellFormat(30, 6, s.TotalAmount().Amount.StringFixed(2), "1", 0, "R", false, 0, "")
	pdf.Ln(-1)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildSettlementXLSX renders a settlement as a summary and a lines sheet.
func BuildSettlementXLSX(s *settlement.Settlement) (out []byte, err error) {
	start := time.Now()
	defer func() { observeExport("xlsx", err, start) }()
	if s == nil {
		return nil, settlement.ErrNilSettlement
	}

	f := excelize.NewFile()
	defer f.Close()
	summarySheet := "summary"
	linesSheet := "lines"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(linesSheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(summarySheet, "A1", documentTitle(s))
	for i, row := range summaryRows(s) {
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", i+3), row[0])
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", i+3), row[1])
	}

	_ = f.SetCellValue(linesSheet, "A1", "Description")
	_ = f.SetCellValue(linesSheet, "B1", "Source")
	_ = f.SetCellValue(linesSheet, "C1", "Price ID")
	_ = f.SetCellValue(linesSheet, "D1", "Energy (kWh)")
	_ = f.SetCellValue(linesSheet, "E1", "Unit price")
	_ = f.SetCellValue(linesSheet, "F1", "Amount")
	lines := s.Lines()
	for i, line := range lines {
		row := i + 2
		priceID := ""
		if line.PriceID != nil {
			priceID = string(*line.PriceID)
		}
		_ = f.SetCellValue(linesSheet, fmt.Sprintf("A%d", row), line.Description)
		_ = f.SetCellValue(linesSheet, fmt.Sprintf("B%d", row), string(line.Source))
		_ = f.SetCellValue(linesSheet, fmt.Sprintf("C%d", row), priceID)
		_ = f.SetCellValue(linesSheet, fmt.Sprintf("D%d", row), line.Quantity.KWh().InexactFloat64())
		_ = f.SetCellValue(linesSheet, fmt.Sprintf("E%d", row), line.UnitPrice.InexactFloat64())
		_ = f.SetCellValue(linesSheet, fmt.Sprintf("F%d", row), line.Amount.InexactFloat64())
	}
	totalRow := len(lines) + 2
	_ = f.SetCellValue(linesSheet, fmt.Sprintf("A%d", totalRow), "Total")
	_ = f.SetCellValue(linesSheet, fmt.Sprintf("F%d", totalRow), s.TotalAmount().Amount.InexactFloat64())

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func documentTitle(s *settlement.Settlement) string {
	if s.IsCorrection() {
		return "Settlement Correction " + s.DocumentNumber()
	}
	return "Settlement " + s.DocumentNumber()
}

func summaryRows(s *settlement.Settlement) [][2]string {
	period := s.Period()
	end := "open"
	if e, ok := period.End(); ok {
		end = e.Format(dateLayout)
	}
	rows := [][2]string{
		{"Metering point", s.MeteringPointID()},
		{"Period", period.Start().Format(dateLayout) + " - " + end},
		{"Status", string(s.Status())},
		{"Time series version", fmt.Sprintf("%d", s.TimeSeriesVersion())},
		{"Calculated", s.CalculatedAt().Format(time.RFC3339)},
	}
	if prev, ok := s.PreviousSettlementID(); ok {
		rows = append(rows, [2]string{"Corrects", string(prev)})
	}
	if ref := s.InvoiceReference(); ref != "" {
		rows = append(rows, [2]string{"Invoice", ref})
	}
	rows = append(rows,
		[2]string{"Total energy (kWh)", s.TotalEnergy().String()},
		[2]string{"Total amount (" + s.Currency() + ")", s.TotalAmount().Amount.StringFixed(2)},
	)
	return rows
}

func observeExport(format string, err error, start time.Time) {
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.ObserveDocumentExport(format, result, time.Since(start))
}
