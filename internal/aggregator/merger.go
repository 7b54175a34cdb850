package aggregator

import (
	"fmt"

	"card-exporter/internal/models"
)

// MergeClass classifies one merged row against the prior snapshot.
type MergeClass string

const (
	MergeNew       MergeClass = "NEW"
	MergeUnchanged MergeClass = "UNCHANGED"
	MergeUpdated   MergeClass = "UPDATED"
	MergeMissing   MergeClass = "MISSING"
)

// MergedRow is one output row of an incremental merge.
type MergedRow struct {
	Class MergeClass
	Row   models.SnapshotRow
}

// MergeStats counts the classifications of one merge.
type MergeStats struct {
	New       int
	Updated   int
	Unchanged int
	Missing   int
}

// Merge reconciles the live aggregate against a prior snapshot. Live
// records come first in live order, then every prior row absent from
// the live set is preserved verbatim in prior order; records only ever
// leave an export on positive evidence, never because a query stopped
// returning them.
//
// liveColumns is the column list a fresh export of the live records
// would use. The returned columns are the prior header followed by the
// live columns it lacks, so re-running a merge against its own output
// reproduces it byte for byte.
func Merge(live []models.CardRecord, prior *models.Snapshot, liveColumns []string) ([]MergedRow, []string, MergeStats, error) {
	var stats MergeStats

	priorByID := make(map[string]models.SnapshotRow, len(prior.Rows))
	for i, row := range prior.Rows {
		id := row["id"]
		if id == "" {
			return nil, nil, stats, &models.SnapshotError{
				Path:   prior.Path,
				Reason: fmt.Sprintf("row %d has no id", i+1),
			}
		}
		priorByID[id] = row
	}

	// Classification compares the canonical columns the prior snapshot
	// actually recorded; columns it never held cannot count as changes.
	var shared []string
	for _, column := range prior.Columns {
		if models.IsCanonicalColumn(column) {
			shared = append(shared, column)
		}
	}

	merged := make([]MergedRow, 0, len(live)+len(prior.Rows))
	liveSeen := make(map[string]bool, len(live))

	for _, record := range live {
		liveSeen[record.ID] = true
		priorRow, exists := priorByID[record.ID]
		if !exists {
			merged = append(merged, MergedRow{Class: MergeNew, Row: record.Row()})
			stats.New++
			continue
		}

		fields := record.Fields()
		if canonicalEqual(fields, priorRow, shared) {
			// Prior row wins; live values only fill in where they are
			// set, so externally attached columns survive.
			row := priorRow.Clone()
			for key, value := range record.Row() {
				if value != "" {
					row[key] = value
				}
			}
			merged = append(merged, MergedRow{Class: MergeUnchanged, Row: row})
			stats.Unchanged++
			continue
		}

		// Live values win for every canonical column; columns only the
		// prior snapshot carries are retained.
		row := priorRow.Clone()
		for key, value := range fields {
			row[key] = value
		}
		for key, value := range record.ExtraFields {
			row[key] = value
		}
		merged = append(merged, MergedRow{Class: MergeUpdated, Row: row})
		stats.Updated++
	}

	for _, priorRow := range prior.Rows {
		if liveSeen[priorRow["id"]] {
			continue
		}
		merged = append(merged, MergedRow{Class: MergeMissing, Row: priorRow.Clone()})
		stats.Missing++
	}

	return merged, mergeColumns(prior.Columns, liveColumns), stats, nil
}

func canonicalEqual(fields map[string]string, priorRow models.SnapshotRow, shared []string) bool {
	for _, column := range shared {
		if fields[column] != priorRow[column] {
			return false
		}
	}
	return true
}

func mergeColumns(priorColumns, liveColumns []string) []string {
	columns := make([]string, 0, len(priorColumns)+len(liveColumns))
	seen := make(map[string]bool, len(priorColumns)+len(liveColumns))
	for _, column := range priorColumns {
		if !seen[column] {
			seen[column] = true
			columns = append(columns, column)
		}
	}
	for _, column := range liveColumns {
		if !seen[column] {
			seen[column] = true
			columns = append(columns, column)
		}
	}
	return columns
}
