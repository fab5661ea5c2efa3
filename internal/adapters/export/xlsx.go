// Package export renders service requests as spreadsheets.
package export

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"warrantycore/pkg/domain"
)

// SheetName is the worksheet holding the request rows.
const SheetName = "Service Requests"

// ContentType is the media type of the generated workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Headers lists the exported columns in order.
var Headers = []string{"Request ID", "Customer", "IMEI", "Status", "Warranty Decision", "Current Order", "Current Repair", "Created"}

// Row flattens a request into the exported columns.
func Row(req domain.ServiceRequest) []string {
	return []string{
		req.ID,
		req.CustomerID,
		req.ProductIMEI,
		string(req.Status),
		string(req.Decision),
		deref(req.CurrentLogisticsOrderID),
		deref(req.CurrentRepairID),
		req.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// Workbook builds a workbook with one row per request under a styled header.
// The caller closes the returned file.
func Workbook(requests []domain.ServiceRequest) (*excelize.File, error) {
	f := excelize.NewFile()
	index, err := f.NewSheet(SheetName)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("drop default sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#D9E1F2"}, Pattern: 1},
	})
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("header style: %w", err)
	}

	for i, header := range Headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		if err := f.SetCellValue(SheetName, cell, header); err != nil {
			_ = f.Close()
			return nil, err
		}
		if err := f.SetCellStyle(SheetName, cell, cell, headerStyle); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	for r, req := range requests {
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		row := Row(req)
		values := make([]any, len(row))
		for i, v := range row {
			values[i] = v
		}
		if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("write row %d: %w", r+2, err)
		}
	}
	last, err := excelize.ColumnNumberToName(len(Headers))
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := f.SetColWidth(SheetName, "A", last, 22); err != nil {
		_ = f.Close()
		return nil, err
	}
	return f, nil
}

// WriteServiceRequests streams the workbook for requests to w.
func WriteServiceRequests(w io.Writer, requests []domain.ServiceRequest) error {
	f, err := Workbook(requests)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
