package models

// Snapshot is a previously written export loaded back into memory, used
// as the prior state for incremental merging and as either side of a
// verification.
type Snapshot struct {
	// Path the snapshot was loaded from, carried for error reporting.
	Path string

	// Columns in the order the file declares them.
	Columns []string

	// Rows in file order.
	Rows []SnapshotRow
}

// SnapshotRow is one export row keyed by column name. Cells absent from
// a row render as the empty string, the same as a null field.
type SnapshotRow map[string]string

// Clone returns an independent copy of the row.
func (r SnapshotRow) Clone() SnapshotRow {
	out := make(SnapshotRow, len(r))
	for key, value := range r {
		out[key] = value
	}
	return out
}
