// Package service wires the upstream clients and the export pipeline
// behind the CLI commands.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"card-exporter/internal/aggregator"
	"card-exporter/internal/config"
	"card-exporter/internal/export"
	"card-exporter/internal/identifiers"
	"card-exporter/internal/models"
	"card-exporter/internal/upstream"
)

// issuedCardParams select the cards an issued-cards export covers.
var issuedCardParams = map[string]string{
	"status":    models.StatusIssued,
	"card_type": models.CardTypePersonal,
}

// extendedFields are only present on card detail responses; requesting
// them costs one extra request per card.
var extendedFields = map[string]bool{
	"lastnote":   true,
	"lastnoteAt": true,
}

// ExporterService owns the upstream clients and runs the export
// pipeline for each CLI command.
type ExporterService struct {
	config      *config.Config
	logger      *zap.Logger
	redisClient *redis.Client
	cards       *upstream.CardClient
	aggregator  *aggregator.Aggregator
}

// NewExporterService builds the clients and pipeline from configuration.
// The OAuth token cache is Redis-backed when an address is configured,
// in-process memory otherwise.
func NewExporterService(cfg *config.Config, logger *zap.Logger) (*ExporterService, error) {
	// 1. Token cache.
	var tokenCache upstream.TokenCache
	var redisClient *redis.Client
	if addr := cfg.Environment.TokenCache.RedisAddr; addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Environment.TokenCache.RedisPassword,
			DB:       cfg.Environment.TokenCache.RedisDB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		tokenCache = upstream.NewRedisTokenCache(redisClient)
	} else {
		tokenCache = upstream.NewMemoryTokenCache()
	}

	// 2. Upstream clients, each with the per-API settings overlaid on
	// the shared environment.
	cards, err := upstream.NewCardClient(cfg.Environment.ForCardAPI(), tokenCache, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build card api client: %w", err)
	}
	students, err := upstream.NewStudentClient(cfg.Environment.ForStudentAPI(), tokenCache, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build student api client: %w", err)
	}
	hr, err := upstream.NewHRClient(cfg.Environment.ForHRAPI(), tokenCache, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build hr api client: %w", err)
	}
	legacy, err := upstream.NewLegacyClient(cfg.Environment.ForLegacyAPI(), tokenCache, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build legacy cardholder client: %w", err)
	}
	lookup := upstream.NewLookupClient(cfg.Environment.ForLookupAPI(), cfg.LookupCredentials, logger)

	// 3. Pipeline.
	router := aggregator.NewRouter(cards, lookup, students, hr, legacy, logger)

	return &ExporterService{
		config:      cfg,
		logger:      logger,
		redisClient: redisClient,
		cards:       cards,
		aggregator:  aggregator.New(router, cards, logger),
	}, nil
}

// Export runs the configured queries and writes the aggregate to the
// output file. With incremental set, the existing export is loaded
// first and the live records are merged against it, so records the
// queries no longer return are preserved rather than dropped.
func (s *ExporterService) Export(ctx context.Context, incremental bool) error {
	if err := s.config.ValidateQueries(); err != nil {
		return err
	}

	path := s.config.Output.File

	// The prior snapshot is read in full before any fetch starts, so a
	// snapshot problem aborts the run before spending API calls.
	var prior *models.Snapshot
	if incremental {
		var err error
		prior, err = export.LoadSnapshot(path)
		if err != nil {
			return err
		}
	}

	records, err := s.aggregator.Run(ctx, s.config.Queries, aggregator.Options{
		Filter:     s.config.Filter,
		FetchNotes: s.wantsExtendedFields(),
	})
	if err != nil {
		return err
	}

	if s.config.Output.Deduplicate {
		before := len(records)
		records = aggregator.Deduplicate(records)
		s.logger.Info("Deduplicated cards",
			zap.Int("cards", len(records)),
			zap.Int("duplicates", before-len(records)),
		)
	}

	columns := export.Columns(records, s.config.Output.Fields)
	rows := export.Rows(records)

	if prior != nil {
		merged, mergedColumns, stats, err := aggregator.Merge(records, prior, columns)
		if err != nil {
			return err
		}
		columns = mergedColumns
		rows = make([]models.SnapshotRow, len(merged))
		for i, row := range merged {
			rows[i] = row.Row
		}
		s.logger.Info("Incremental merge complete",
			zap.Int("new", stats.New),
			zap.Int("updated", stats.Updated),
			zap.Int("unchanged", stats.Unchanged),
			zap.Int("missing", stats.Missing),
		)
	}

	if err := export.WriteFile(path, s.config.Output.Format, columns, rows); err != nil {
		return err
	}
	s.logger.Info("Export written",
		zap.String("file", path),
		zap.Int("cards", len(rows)),
		zap.Int("columns", len(columns)),
	)
	return nil
}

// ExportIssuedCards writes every issued personal card to the output
// file, or with incremental set updates an existing export in place
// from the cards changed since its most recent record.
func (s *ExporterService) ExportIssuedCards(ctx context.Context, incremental bool) error {
	if incremental {
		return s.updateIssuedCardsExport(ctx)
	}
	return s.exportAllIssuedCards(ctx)
}

func (s *ExporterService) exportAllIssuedCards(ctx context.Context) error {
	path := s.config.Output.File
	s.logger.Info("Writing all issued cards", zap.String("file", path))

	var records []models.CardRecord
	err := s.cards.AllCards(ctx, issuedCardParams, func(card upstream.Card) error {
		record, err := aggregator.Normalize(card, nil)
		if err != nil {
			return &models.NormalizeError{Query: -1, Reason: err.Error()}
		}
		records = append(records, record)
		if len(records)%100 == 0 {
			s.logger.Info("Fetching cards", zap.Int("cards", len(records)))
		}
		return nil
	})
	if err != nil {
		return issuedCardsError(err)
	}

	columns := export.Columns(records, s.config.Output.Fields)
	if err := export.WriteFile(path, s.config.Output.Format, columns, export.Rows(records)); err != nil {
		return err
	}
	s.logger.Info("Export written", zap.String("file", path), zap.Int("cards", len(records)))
	return nil
}

// updateIssuedCardsExport refreshes an existing issued-cards export:
// cards updated since the export's most recent record are fetched, and
// the export is rewritten with non-issued cards removed, changed cards
// updated in place, and newly issued cards appended. The column set is
// taken from the existing file so repeated updates stay stable.
func (s *ExporterService) updateIssuedCardsExport(ctx context.Context) error {
	path := s.config.Output.File
	prior, err := export.LoadSnapshot(path)
	if err != nil {
		return err
	}

	// Every existing row needs id and updatedAt: the id decides which
	// cards to remove or update, the updatedAt fixes the fetch window.
	var latest time.Time
	for i, row := range prior.Rows {
		if row["id"] == "" || row["updatedAt"] == "" {
			return &models.SnapshotError{
				Path:   path,
				Reason: fmt.Sprintf("row %d lacks the id and updatedAt fields required for an incremental update", i+1),
			}
		}
		updatedAt, err := parseUpdatedAt(row["updatedAt"])
		if err != nil {
			return &models.SnapshotError{
				Path:   path,
				Reason: fmt.Sprintf("row %d has an invalid updatedAt value %q", i+1, row["updatedAt"]),
				Err:    err,
			}
		}
		if updatedAt.After(latest) {
			latest = updatedAt
		}
	}
	if latest.IsZero() {
		return &models.SnapshotError{Path: path, Reason: "cannot determine the last update point from the export"}
	}

	s.logger.Info("Querying for cards updated since most recent card in export",
		zap.Time("updated_since", latest))

	removed := make(map[string]bool)
	changed := make(map[string]models.CardRecord)
	var changedOrder []string
	err = s.cards.AllCards(ctx, map[string]string{
		"updated_at__gte": latest.Format("2006-01-02T15:04:05.999999"),
		"card_type":       models.CardTypePersonal,
	}, func(card upstream.Card) error {
		if card.Status != models.StatusIssued {
			removed[card.ID] = true
			return nil
		}
		record, err := aggregator.Normalize(card, nil)
		if err != nil {
			return &models.NormalizeError{Query: -1, Reason: err.Error()}
		}
		if _, seen := changed[card.ID]; !seen {
			changedOrder = append(changedOrder, card.ID)
		}
		changed[card.ID] = record
		return nil
	})
	if err != nil {
		return issuedCardsError(err)
	}

	applied := make(map[string]bool, len(changed))
	rows := make([]models.SnapshotRow, 0, len(prior.Rows)+len(changedOrder))
	removedCount, updatedCount := 0, 0

	for _, row := range prior.Rows {
		id := row["id"]
		if removed[id] {
			removedCount++
			continue
		}
		if record, ok := changed[id]; ok && !applied[id] {
			applied[id] = true
			updatedCount++
			rows = append(rows, models.SnapshotRow(record.Row()))
			continue
		}
		rows = append(rows, row)
	}

	addedCount := 0
	for _, id := range changedOrder {
		if !applied[id] {
			record := changed[id]
			rows = append(rows, models.SnapshotRow(record.Row()))
			addedCount++
		}
	}

	if err := export.WriteFile(path, s.config.Output.Format, prior.Columns, rows); err != nil {
		return err
	}
	s.logger.Info("Newly issued cards have been added", zap.Int("cards", addedCount))
	s.logger.Info("Issued cards have been updated in place", zap.Int("cards", updatedCount))
	s.logger.Info("Cards have been un-issued and removed", zap.Int("cards", removedCount))
	s.logger.Info("Incremental update complete")
	return nil
}

// CardDetail prints the detail view of one or more cards to stdout as a
// JSON array. Without a scheme the identifier must be a card UUID; with
// one, every card carrying that identifier is fetched.
func (s *ExporterService) CardDetail(ctx context.Context, identifier, schemeName string, normalize bool) error {
	var cardUUIDs []string

	if schemeName != "" {
		scheme, ok := identifiers.NamesToSchemes[schemeName]
		if !ok {
			return &models.ConfigError{
				Query:  -1,
				Reason: fmt.Sprintf("%s is not a recognized identifier scheme, must be one of: %s", schemeName, strings.Join(identifiers.Names(), ", ")),
			}
		}
		err := s.cards.CardsForIdentifiers(ctx, []string{identifiers.Format(identifier, scheme)}, func(card upstream.Card) error {
			cardUUIDs = append(cardUUIDs, card.ID)
			return nil
		})
		if err != nil {
			return &models.FetchError{Query: -1, Source: "card_detail", Err: err}
		}
		if len(cardUUIDs) == 0 {
			return fmt.Errorf("no card records for %s %s", schemeName, identifier)
		}
	} else {
		if _, err := uuid.Parse(identifier); err != nil {
			return &models.ConfigError{
				Query:  -1,
				Reason: fmt.Sprintf("%q is not a card uuid; pass --identifier-scheme to look up by identifier", identifier),
			}
		}
		cardUUIDs = []string{identifier}
	}

	var output interface{}
	if normalize {
		records := make([]map[string]string, 0, len(cardUUIDs))
		for _, cardUUID := range cardUUIDs {
			card, _, err := s.cards.CardDetail(ctx, cardUUID)
			if err != nil {
				return &models.FetchError{Query: -1, Source: "card_detail", Err: err}
			}
			record, err := aggregator.Normalize(card, nil)
			if err != nil {
				return &models.NormalizeError{Query: -1, Reason: err.Error()}
			}
			records = append(records, record.Row())
		}
		output = records
	} else {
		raws := make([]json.RawMessage, 0, len(cardUUIDs))
		for _, cardUUID := range cardUUIDs {
			_, raw, err := s.cards.CardDetail(ctx, cardUUID)
			if err != nil {
				return &models.FetchError{Query: -1, Source: "card_detail", Err: err}
			}
			raws = append(raws, raw)
		}
		output = raws
	}

	rendered, err := json.MarshalIndent(output, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to render card detail: %w", err)
	}
	fmt.Println(string(rendered))
	return nil
}

// Close releases the service's connections.
func (s *ExporterService) Close() error {
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			return fmt.Errorf("failed to close redis connection: %w", err)
		}
	}
	return nil
}

// wantsExtendedFields reports whether the configured output fields ask
// for note columns, which only the per-card detail endpoint provides.
func (s *ExporterService) wantsExtendedFields() bool {
	for _, field := range s.config.Output.Fields {
		if extendedFields[field] {
			return true
		}
	}
	return false
}

// issuedCardsError classifies an AllCards failure: errors raised by the
// per-card callback keep their type, transport errors become a
// FetchError.
func issuedCardsError(err error) error {
	var normalizeErr *models.NormalizeError
	if errors.As(err, &normalizeErr) {
		return err
	}
	return &models.FetchError{Query: -1, Source: "issued_cards", Err: err}
}

// parseUpdatedAt parses the updatedAt timestamps the Card API renders,
// with or without a zone designator. Fractional seconds are accepted by
// both layouts.
func parseUpdatedAt(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02T15:04:05", value)
}
