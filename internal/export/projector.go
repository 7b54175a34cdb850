// Package export renders canonical card records to CSV and XLSX files,
// loads previous exports back as snapshots, and compares exports for
// verification.
package export

import (
	"sort"

	"card-exporter/internal/models"
)

// requiredColumns must appear in every export so a later incremental
// run can key and order against it.
var requiredColumns = []string{"id", "updatedAt"}

// Columns resolves the column list for an export of records. An
// explicit field list is used in the order given, with id and updatedAt
// appended when absent. Without one, the full canonical set is used
// followed by every extra field attached to any record, sorted by name.
func Columns(records []models.CardRecord, fields []string) []string {
	if len(fields) > 0 {
		columns := make([]string, 0, len(fields)+len(requiredColumns))
		seen := make(map[string]bool, len(fields))
		for _, field := range fields {
			seen[field] = true
			columns = append(columns, field)
		}
		for _, required := range requiredColumns {
			if !seen[required] {
				columns = append(columns, required)
			}
		}
		return columns
	}

	columns := append([]string(nil), models.CanonicalColumns...)
	extras := make(map[string]bool)
	for _, record := range records {
		for key := range record.ExtraFields {
			extras[key] = true
		}
	}
	names := make([]string, 0, len(extras))
	for key := range extras {
		names = append(names, key)
	}
	sort.Strings(names)
	return append(columns, names...)
}

// Rows renders records to writable rows in order.
func Rows(records []models.CardRecord) []models.SnapshotRow {
	rows := make([]models.SnapshotRow, len(records))
	for i, record := range records {
		rows[i] = models.SnapshotRow(record.Row())
	}
	return rows
}
