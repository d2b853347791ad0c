package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"energy-recon/internal/invoice"
)

// BuildInvoicePDF renders one invoice record as a PDF document.
func BuildInvoicePDF(rec invoice.Record) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Energy Invoice")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Invoice: %s", rec.ID()))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Location: %s", rec.Location()))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Billing period: %s", rec.BillingPeriod().Format("2006-01")))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Units: %.1f kWh (%s)", rec.Units(), rec.UnitSource()))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", rec.GeneratedAt().Format(time.RFC3339)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(90, 6, "Item", "1", 0, "L", false, 0, "")
	pdf.CellFormat(50, 6, "Amount (ZAR)", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)

	rows := []struct {
		label  string
		amount string
	}{
		{"Energy charge", rec.EnergyCost().StringFixed(2)},
		{"Service charge", rec.ServiceCharge().StringFixed(2)},
		{"VAT", rec.VAT().StringFixed(2)},
		{"Total", rec.Total().StringFixed(2)},
	}
	for _, row := range rows {
		pdf.CellFormat(90, 6, row.label, "1", 0, "L", false, 0, "")
		pdf.CellFormat(50, 6, row.amount, "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildInvoiceXLSX renders a billing period's invoice records as a workbook.
func BuildInvoiceXLSX(records []invoice.Record) ([]byte, error) {
	f := excelize.NewFile()
	sheet := "invoices"
	f.SetSheetName("Sheet1", sheet)

	headers := []string{"Invoice", "Billing period", "Location", "Units (kWh)", "Unit source", "Energy cost", "Service charge", "VAT", "Total", "Generated at"}
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		_ = f.SetCellValue(sheet, cell, h)
	}

	for i, rec := range records {
		row := i + 2
		values := []interface{}{
			rec.ID(),
			rec.BillingPeriod().Format("2006-01"),
			rec.Location(),
			rec.Units(),
			string(rec.UnitSource()),
			rec.EnergyCost().StringFixed(2),
			rec.ServiceCharge().StringFixed(2),
			rec.VAT().StringFixed(2),
			rec.Total().StringFixed(2),
			rec.GeneratedAt().Format(time.RFC3339),
		}
		for col, v := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				return nil, err
			}
			_ = f.SetCellValue(sheet, cell, v)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
