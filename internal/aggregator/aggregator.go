// Package aggregator implements the card export pipeline: routing
// configured queries to their upstream sources, normalizing the fetched
// cards into canonical records, and aggregating, deduplicating and
// merging the results.
package aggregator

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"card-exporter/internal/models"
	"card-exporter/internal/upstream"
)

// progressInterval is the number of kept records between progress log
// lines within one query.
const progressInterval = 100

// Fetcher executes one query and returns its raw card/person pairs.
// Router is the production implementation.
type Fetcher interface {
	Fetch(ctx context.Context, index int, query models.QuerySpec) ([]RawRecord, error)
}

// CardDetailAPI fetches the full detail view of one card, used to
// enrich records with their most recent note.
type CardDetailAPI interface {
	CardDetail(ctx context.Context, cardUUID string) (upstream.Card, json.RawMessage, error)
}

// Options control a single aggregation run.
type Options struct {
	// Filter drops records whose rendered field values do not equal
	// every listed value. A key that is neither a canonical column nor
	// an attached extra field drops the record.
	Filter map[string]string

	// FetchNotes enriches each kept record with the card's most recent
	// note via a per-card detail request.
	FetchNotes bool
}

// Aggregator runs the configured queries in order and collects their
// normalized records into one aggregate.
type Aggregator struct {
	fetcher Fetcher
	details CardDetailAPI
	logger  *zap.Logger
}

func New(fetcher Fetcher, details CardDetailAPI, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		fetcher: fetcher,
		details: details,
		logger:  logger,
	}
}

// Run executes the queries sequentially and returns the aggregate in
// query order, fetch order within each query. Any failure aborts the
// run; partial aggregates are never returned.
func (a *Aggregator) Run(ctx context.Context, queries []models.QuerySpec, opts Options) ([]models.CardRecord, error) {
	var aggregate []models.CardRecord

	for i, query := range queries {
		raw, err := a.fetcher.Fetch(ctx, i, query)
		if err != nil {
			return nil, err
		}

		kept := 0
		for _, pair := range raw {
			record, err := Normalize(pair.Card, pair.Person)
			if err != nil {
				return nil, &models.NormalizeError{Query: i, Reason: err.Error()}
			}
			if opts.FetchNotes {
				if err := a.attachLastNote(ctx, &record); err != nil {
					return nil, &models.FetchError{Query: i, Source: string(query.By), Err: err}
				}
			}
			if len(query.ExtraFields) > 0 {
				record.ExtraFields = make(map[string]string, len(query.ExtraFields))
				for key, value := range query.ExtraFields {
					record.ExtraFields[key] = value
				}
			}
			if !MatchesFilter(record, opts.Filter) {
				continue
			}
			aggregate = append(aggregate, record)
			kept++
			if kept%progressInterval == 0 {
				a.logger.Info("Aggregation progress",
					zap.Int("query", i), zap.Int("cards", kept))
			}
		}

		a.logger.Info("Query complete",
			zap.Int("query", i),
			zap.String("by", string(query.By)),
			zap.Int("fetched", len(raw)),
			zap.Int("kept", kept),
		)
	}

	a.logger.Info("Aggregation complete",
		zap.Int("queries", len(queries)),
		zap.Int("cards", len(aggregate)),
	)
	return aggregate, nil
}

// attachLastNote fetches the card's detail view and copies its most
// recent note onto the record. List responses never include notes, so
// this costs one request per card.
func (a *Aggregator) attachLastNote(ctx context.Context, record *models.CardRecord) error {
	detail, _, err := a.details.CardDetail(ctx, record.ID)
	if err != nil {
		return err
	}
	if len(detail.Notes) == 0 {
		return nil
	}
	note := detail.Notes[len(detail.Notes)-1]
	record.Lastnote = ptr(note.Text)
	record.LastnoteAt = optional(note.CreatedAt)
	return nil
}

// MatchesFilter reports whether the record's rendered values equal
// every value the filter lists.
func MatchesFilter(record models.CardRecord, filter map[string]string) bool {
	for key, want := range filter {
		value, ok := record.Field(key)
		if !ok || value != want {
			return false
		}
	}
	return true
}
