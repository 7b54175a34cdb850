package export

import (
	"fmt"
	"strconv"
	"strings"

	"card-exporter/internal/models"
)

// Defaults for export verification.
const DefaultVerifyKey = "mifare_id"

var DefaultVerifyFields = []string{"crsid"}

// VerifyOptions configure an export comparison.
type VerifyOptions struct {
	// Key is the column rows are matched on.
	Key string

	// Fields are the columns compared for matched rows.
	Fields []string
}

func (o VerifyOptions) withDefaults() VerifyOptions {
	if o.Key == "" {
		o.Key = DefaultVerifyKey
	}
	if len(o.Fields) == 0 {
		o.Fields = DefaultVerifyFields
	}
	return o
}

// Difference records the divergence found for one key: either the row
// is missing from the actual export, or one or more compared fields
// disagree. FieldsDiffer is parallel to the configured field list.
type Difference struct {
	Key          string
	Missing      bool
	FieldsDiffer []bool
}

// Column names older exports used before the canonical snake_case
// headers.
var legacyAliases = map[string]string{
	"mifare id decimal": "mifare_id",
}

// VerifyExports compares the expected export against the actual one.
// Rows are keyed by the key column; every expected row missing from the
// actual export, and every matched row whose compared fields disagree,
// produces one Difference in expected-file order. Rows only the actual
// export holds are not reported. Values are compared ignoring case.
func VerifyExports(expected, actual *models.Snapshot, opts VerifyOptions) ([]Difference, error) {
	opts = opts.withDefaults()

	expectedKey, ok := resolveColumn(expected.Columns, opts.Key)
	if !ok {
		return nil, &models.SnapshotError{Path: expected.Path, Reason: fmt.Sprintf("no %q column", opts.Key)}
	}
	actualKey, ok := resolveColumn(actual.Columns, opts.Key)
	if !ok {
		return nil, &models.SnapshotError{Path: actual.Path, Reason: fmt.Sprintf("no %q column", opts.Key)}
	}

	// A compared column absent from a file reads as empty cells rather
	// than failing: older exports did not carry every canonical column.
	expectedFields := make([]string, len(opts.Fields))
	actualFields := make([]string, len(opts.Fields))
	for i, field := range opts.Fields {
		expectedFields[i], _ = resolveColumn(expected.Columns, field)
		actualFields[i], _ = resolveColumn(actual.Columns, field)
	}

	actualByKey := make(map[string]models.SnapshotRow, len(actual.Rows))
	for _, row := range actual.Rows {
		actualByKey[row[actualKey]] = row
	}

	var differences []Difference
	for _, row := range expected.Rows {
		key := row[expectedKey]
		actualRow, found := actualByKey[key]
		if !found {
			differences = append(differences, Difference{
				Key:          key,
				Missing:      true,
				FieldsDiffer: make([]bool, len(opts.Fields)),
			})
			continue
		}

		differ := make([]bool, len(opts.Fields))
		any := false
		for i := range opts.Fields {
			if !strings.EqualFold(row[expectedFields[i]], actualRow[actualFields[i]]) {
				differ[i] = true
				any = true
			}
		}
		if any {
			differences = append(differences, Difference{Key: key, FieldsDiffer: differ})
		}
	}
	return differences, nil
}

// WriteDifferences writes the differences as a CSV with one row per
// differing key: the key value, a missing flag, and one flag per
// compared field.
func WriteDifferences(path string, opts VerifyOptions, differences []Difference) error {
	opts = opts.withDefaults()

	columns := []string{opts.Key, "missing"}
	for _, field := range opts.Fields {
		columns = append(columns, field+"_diff")
	}

	rows := make([]models.SnapshotRow, 0, len(differences))
	for _, diff := range differences {
		row := models.SnapshotRow{
			opts.Key:  diff.Key,
			"missing": strconv.FormatBool(diff.Missing),
		}
		for i, field := range opts.Fields {
			row[field+"_diff"] = strconv.FormatBool(i < len(diff.FieldsDiffer) && diff.FieldsDiffer[i])
		}
		rows = append(rows, row)
	}
	return WriteFile(path, FormatCSV, columns, rows)
}

// resolveColumn finds the header a column name refers to: an exact
// match first, then case-insensitive, then the legacy aliases.
func resolveColumn(columns []string, name string) (string, bool) {
	for _, column := range columns {
		if column == name {
			return column, true
		}
	}
	for _, column := range columns {
		if strings.EqualFold(column, name) {
			return column, true
		}
	}
	for _, column := range columns {
		if legacyAliases[strings.ToLower(column)] == name {
			return column, true
		}
	}
	return "", false
}
