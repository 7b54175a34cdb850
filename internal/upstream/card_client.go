package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"card-exporter/internal/config"
)

const (
	cardAPIDefaultBaseURL = "https://api.apps.cam.ac.uk/card"
	cardAPIDefaultVersion = "v1beta1"

	// The filter endpoint is queried in identifier batches to bound
	// request size and upstream load.
	identifierChunkSize = 50
)

// Card is the card DTO returned by the Card API.
type Card struct {
	ID          string           `json:"id"`
	Status      string           `json:"status"`
	CardType    string           `json:"cardType"`
	IssueNumber *int             `json:"issueNumber"`
	IssuedAt    *string          `json:"issuedAt"`
	ExpiresAt   *string          `json:"expiresAt"`
	RevokedAt   *string          `json:"revokedAt"`
	ReturnedAt  *string          `json:"returnedAt"`
	UpdatedAt   *string          `json:"updatedAt"`
	Identifiers []CardIdentifier `json:"identifiers"`
	// Notes is only populated on the card detail endpoint.
	Notes []CardNote `json:"notes"`
}

// CardIdentifier is one scheme/value pair attached to a card.
type CardIdentifier struct {
	Scheme string `json:"scheme"`
	Value  string `json:"value"`
}

// CardNote is an operator note from the card detail endpoint.
type CardNote struct {
	Text      string `json:"text"`
	CreatedAt string `json:"createdAt"`
}

// IdentifierValue returns the card's identifier value for the given
// scheme, or "" when the card carries none.
func (c Card) IdentifierValue(scheme string) string {
	for _, id := range c.Identifiers {
		if id.Scheme == scheme {
			return id.Value
		}
	}
	return ""
}

// CardClient queries the Card API.
type CardClient struct {
	api *apiClient
}

// NewCardClient builds a Card API client from the card_api environment
// config, filling in the deployment defaults.
func NewCardClient(cfg config.APIConfig, cache TokenCache, logger *zap.Logger) (*CardClient, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = cardAPIDefaultBaseURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = cardAPIDefaultVersion
	}

	tokens, err := NewTokenProvider(cfg, cache, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to configure card api auth: %w", err)
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/") + "/" + cfg.APIVersion
	return &CardClient{api: newAPIClient(cfg, baseURL, tokens, logger)}, nil
}

// CardsForIdentifiers queries the filter endpoint for the given
// identifiers (full "<value>@<scheme>" form), invoking fn for every card
// as pages arrive. Identifiers are sent in chunks of 50.
func (c *CardClient) CardsForIdentifiers(ctx context.Context, identifiers []string, fn func(Card) error) error {
	params := map[string]string{"page_size": strconv.Itoa(c.api.pageSize)}

	for start := 0; start < len(identifiers); start += identifierChunkSize {
		end := start + identifierChunkSize
		if end > len(identifiers) {
			end = len(identifiers)
		}
		body := map[string][]string{"identifiers": identifiers[start:end]}

		err := c.api.forEachPage(ctx, http.MethodPost, "/cards/filter/", body, params, func(raw json.RawMessage) error {
			var card Card
			if err := json.Unmarshal(raw, &card); err != nil {
				return fmt.Errorf("failed to decode card: %w", err)
			}
			return fn(card)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// AllCards walks the full card collection with the given filter params
// (status, card_type, updated_at__gte, ...), invoking fn per card.
func (c *CardClient) AllCards(ctx context.Context, params map[string]string, fn func(Card) error) error {
	merged := map[string]string{"page_size": strconv.Itoa(c.api.pageSize)}
	for key, value := range params {
		merged[key] = value
	}

	return c.api.forEachPage(ctx, http.MethodGet, "/cards/", nil, merged, func(raw json.RawMessage) error {
		var card Card
		if err := json.Unmarshal(raw, &card); err != nil {
			return fmt.Errorf("failed to decode card: %w", err)
		}
		return fn(card)
	})
}

// CardDetail fetches a single card by UUID, returning both the parsed
// card and the raw payload for verbatim output.
func (c *CardClient) CardDetail(ctx context.Context, cardUUID string) (Card, json.RawMessage, error) {
	resp, err := c.api.http.R().SetContext(ctx).Get(fmt.Sprintf("/cards/%s/", cardUUID))
	if err != nil {
		return Card{}, nil, fmt.Errorf("failed to fetch card %s: %w", cardUUID, err)
	}
	if resp.IsError() {
		return Card{}, nil, fmt.Errorf("failed to fetch card %s: status %d: %s",
			cardUUID, resp.StatusCode(), strings.TrimSpace(resp.String()))
	}

	raw := json.RawMessage(resp.Body())
	var card Card
	if err := json.Unmarshal(raw, &card); err != nil {
		return Card{}, nil, fmt.Errorf("failed to decode card %s: %w", cardUUID, err)
	}
	return card, raw, nil
}
