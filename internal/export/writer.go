package export

import (
	"encoding/csv"
	"fmt"
	"os"

	"github.com/xuri/excelize/v2"

	"card-exporter/internal/models"
)

// Output formats. Anything that is not xlsx is written as CSV.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// SheetName is the worksheet exports are written to.
const SheetName = "Cards"

// WriteFile writes an export to path in the given format. The rows are
// written to a staging file beside the target and promoted by rename
// only once fully written, so a failed run never damages an existing
// export.
func WriteFile(path, format string, columns []string, rows []models.SnapshotRow) error {
	staging := path + ".tmp"

	var err error
	if format == FormatXLSX {
		err = writeXLSX(staging, columns, rows)
	} else {
		err = writeCSV(staging, columns, rows)
	}
	if err != nil {
		os.Remove(staging)
		return err
	}

	if err := os.Rename(staging, path); err != nil {
		os.Remove(staging)
		return fmt.Errorf("failed to promote export file: %w", err)
	}
	return nil
}

func writeCSV(path string, columns []string, rows []models.SnapshotRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}

	writer := csv.NewWriter(file)
	if err := writer.Write(columns); err != nil {
		file.Close()
		return fmt.Errorf("failed to write export header: %w", err)
	}

	cells := make([]string, len(columns))
	for _, row := range rows {
		for i, column := range columns {
			cells[i] = row[column]
		}
		if err := writer.Write(cells); err != nil {
			file.Close()
			return fmt.Errorf("failed to write export row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		file.Close()
		return fmt.Errorf("failed to flush export file: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close export file: %w", err)
	}
	return nil
}

func writeXLSX(path string, columns []string, rows []models.SnapshotRow) error {
	f := excelize.NewFile()

	index, err := f.NewSheet(SheetName)
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
	})
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to create header style: %w", err)
	}

	for col, column := range columns {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(SheetName, cell, column); err != nil {
			f.Close()
			return fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(SheetName, cell, cell, headerStyle); err != nil {
			f.Close()
			return fmt.Errorf("failed to set header style: %w", err)
		}
	}

	for rowIdx, row := range rows {
		for colIdx, column := range columns {
			value := row[column]
			if value == "" {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(colIdx+1, rowIdx+2)
			if err != nil {
				f.Close()
				return fmt.Errorf("failed to convert coordinates: %w", err)
			}
			if err := f.SetCellValue(SheetName, cell, value); err != nil {
				f.Close()
				return fmt.Errorf("failed to set cell %s: %w", cell, err)
			}
		}
	}

	// Keep the header visible when scrolling.
	if err := f.SetPanes(SheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		f.Close()
		return fmt.Errorf("failed to freeze panes: %w", err)
	}

	if err := f.SaveAs(path); err != nil {
		f.Close()
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close workbook: %w", err)
	}
	return nil
}
