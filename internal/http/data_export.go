package httpapi

import (
	"bytes"
	"fmt"
	"time"

	"github.com/mandrindraa/bbe-my-eyes/internal/models"

	"github.com/xuri/excelize/v2"
)

// DataExportHeader 融合数据导出表头
var DataExportHeader = []string{
	"Combined Time",
	"Location ID",
	"Longitude",
	"Latitude",
	"Address",
	"Sensor ID",
	"Steps",
	"Calories",
	"Velocity",
	"Temperature",
	"Time Delta (ms)",
	"IDs Aligned",
}

const dataExportSheet = "Data"

// GenerateDataExport 生成融合数据 Excel 文件；pairs 为空时只生成表头
func GenerateDataExport(pairs []*models.PairedRecord) ([]byte, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(dataExportSheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range DataExportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(dataExportSheet, cell, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(dataExportSheet, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}
	}
	if err := f.SetColWidth(dataExportSheet, "A", "A", 22); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to set column width: %w", err)
	}

	for i, p := range pairs {
		row := i + 2
		for col, value := range exportRow(p) {
			if value == nil {
				continue
			}
			if err := setCellValue(f, dataExportSheet, col+1, row, value); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to set cell value at row %d, col %d: %w", row, col+1, err)
			}
		}
	}

	if err := f.SetPanes(dataExportSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to freeze panes: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}

	return buf.Bytes(), nil
}

// exportRow 按表头顺序展开一行；缺失值为 nil
func exportRow(p *models.PairedRecord) []interface{} {
	row := make([]interface{}, len(DataExportHeader))

	if p.CombinedTimestamp > 0 {
		row[0] = time.UnixMilli(p.CombinedTimestamp).UTC().Format("2006-01-02 15:04:05")
	}
	if pos := p.Position; pos != nil {
		row[1] = pos.ID
		row[2] = pos.Longitude
		row[3] = pos.Latitude
		if pos.Address != nil {
			row[4] = *pos.Address
		}
	}
	if s := p.Sensor; s != nil {
		row[5] = s.ID
		row[6] = s.StepCount
		row[7] = floatValue(s.Calories)
		row[8] = floatValue(s.Velocity)
		row[9] = floatValue(s.Temperature)
	}
	if p.TimeDeltaMs != nil {
		row[10] = *p.TimeDeltaMs
	}
	if p.IDsAligned {
		row[11] = "Yes"
	} else {
		row[11] = "No"
	}
	return row
}

func floatValue(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}

func setCellValue(f *excelize.File, sheet string, col, row int, value interface{}) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	return f.SetCellValue(sheet, cell, value)
}
