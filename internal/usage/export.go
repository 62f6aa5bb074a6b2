package usage

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"gearbase/internal/domain"
)

// UsageExportHeader is the column layout of the usage report workbook.
var UsageExportHeader = []string{
	"Resource",
	"Current",
	"Limit",
	"Usage %",
	"Status",
	"Computed At",
}

// BuildUsageWorkbook renders usage snapshots into an xlsx workbook for
// download from the admin UI.
func BuildUsageWorkbook(tenantName string, snapshots []domain.UsageSnapshot) ([]byte, error) {
	f := excelize.NewFile()
	// Note: no deferred Close() here, WriteTo needs the file open

	sheetName := "Usage"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	f.SetCellValue(sheetName, "A1", fmt.Sprintf("Resource usage - %s", tenantName))
	for i, header := range UsageExportHeader {
		cell, _ := excelize.CoordinatesToCellName(i+1, 2)
		f.SetCellValue(sheetName, cell, header)
	}

	for rowIdx, snap := range snapshots {
		row := rowIdx + 3
		status := "ok"
		if snap.Unavailable {
			status = "unavailable"
		} else if snap.Limit > 0 && snap.Current > snap.Limit {
			status = "over limit"
		}
		values := []any{
			string(snap.Kind),
			snap.Current,
			snap.Limit,
			fmt.Sprintf("%.1f", snap.Percent),
			status,
			snap.ComputedAt.Format("2006-01-02 15:04:05"),
		}
		for colIdx, v := range values {
			cell, _ := excelize.CoordinatesToCellName(colIdx+1, row)
			f.SetCellValue(sheetName, cell, v)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close workbook: %w", err)
	}
	return buf.Bytes(), nil
}
