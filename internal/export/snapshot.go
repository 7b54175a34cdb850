package export

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"card-exporter/internal/models"
)

// LoadSnapshot reads a previously written export back into memory,
// choosing the format by file extension. Short rows are padded with
// empty cells; cells beyond the header are dropped.
func LoadSnapshot(path string) (*models.Snapshot, error) {
	var header []string
	var records [][]string
	var err error

	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		header, records, err = readXLSX(path)
	} else {
		header, records, err = readCSV(path)
	}
	if err != nil {
		return nil, err
	}

	snapshot := &models.Snapshot{
		Path:    path,
		Columns: header,
		Rows:    make([]models.SnapshotRow, 0, len(records)),
	}
	for _, cells := range records {
		row := make(models.SnapshotRow, len(header))
		for i, column := range header {
			if i < len(cells) {
				row[column] = cells[i]
			} else {
				row[column] = ""
			}
		}
		snapshot.Rows = append(snapshot.Rows, row)
	}
	return snapshot, nil
}

func readCSV(path string) ([]string, [][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, &models.SnapshotError{Path: path, Reason: "cannot open file", Err: err}
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	all, err := reader.ReadAll()
	if err != nil {
		return nil, nil, &models.SnapshotError{Path: path, Reason: "invalid csv", Err: err}
	}
	if len(all) == 0 {
		return nil, nil, &models.SnapshotError{Path: path, Reason: "file has no header row"}
	}
	return all[0], all[1:], nil
}

func readXLSX(path string) ([]string, [][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, nil, &models.SnapshotError{Path: path, Reason: "cannot open workbook", Err: err}
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, nil, &models.SnapshotError{Path: path, Reason: "workbook has no sheets"}
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, nil, &models.SnapshotError{Path: path, Reason: "cannot read rows", Err: err}
	}
	if len(rows) == 0 {
		return nil, nil, &models.SnapshotError{Path: path, Reason: "file has no header row"}
	}
	return rows[0], rows[1:], nil
}
