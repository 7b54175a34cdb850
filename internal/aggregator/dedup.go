package aggregator

import "card-exporter/internal/models"

// Deduplicate collapses the aggregate to one record per card id. The
// first occurrence wins, so query order and fetch order decide which
// record survives. Input order is otherwise preserved.
func Deduplicate(records []models.CardRecord) []models.CardRecord {
	seen := make(map[string]bool, len(records))
	out := make([]models.CardRecord, 0, len(records))
	for _, record := range records {
		if seen[record.ID] {
			continue
		}
		seen[record.ID] = true
		out = append(out, record)
	}
	return out
}
