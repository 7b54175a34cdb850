package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"card-exporter/internal/config"
)

func newTestCardClient(t *testing.T, handler http.HandlerFunc) (*CardClient, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewCardClient(config.APIConfig{
		BaseURL:       server.URL,
		PageSize:      500,
		RetryAttempts: 1,
	}, NewMemoryTokenCache(), zap.NewNop())
	require.NoError(t, err)
	return client, server
}

func writeJSON(t *testing.T, w http.ResponseWriter, body string) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(body))
}

func TestCardsForIdentifiers_ChunksRequests(t *testing.T) {
	// Prepare test data
	identifiers := make([]string, 120)
	for i := range identifiers {
		identifiers[i] = fmt.Sprintf("u%03d@person.crs.identifiers.cam.ac.uk", i)
	}

	// Setup a filter endpoint that records each batch
	var batches [][]string
	client, _ := newTestCardClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1beta1/cards/filter/", r.URL.Path)
		assert.Equal(t, "500", r.URL.Query().Get("page_size"))

		var body struct {
			Identifiers []string `json:"identifiers"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		batches = append(batches, body.Identifiers)

		writeJSON(t, w, fmt.Sprintf(
			`{"next": null, "results": [{"id": "card-%d", "status": "ISSUED", "cardType": "MIFARE_PERSONAL"}]}`,
			len(batches)))
	})

	// Execute test
	var seen []string
	err := client.CardsForIdentifiers(context.Background(), identifiers, func(card Card) error {
		seen = append(seen, card.ID)
		return nil
	})

	// Verify results
	require.NoError(t, err)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 50)
	assert.Len(t, batches[1], 50)
	assert.Len(t, batches[2], 20)
	assert.Equal(t, identifiers[0], batches[0][0])
	assert.Equal(t, identifiers[119], batches[2][19])
	assert.Equal(t, []string{"card-1", "card-2", "card-3"}, seen)
}

func TestCardsForIdentifiers_FollowsNextPages(t *testing.T) {
	// Setup a filter endpoint serving two pages
	var server *httptest.Server
	var followUpBody []byte
	client, server := newTestCardClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("cursor") == "" {
			writeJSON(t, w, fmt.Sprintf(
				`{"next": "%s/v1beta1/cards/filter/?cursor=c2", "results": [{"id": "card-1", "status": "ISSUED", "cardType": "MIFARE_PERSONAL"}]}`,
				server.URL))
			return
		}

		// The next URL carries its own parameters; the follow-up request
		// must not resend the identifier body or the page_size param.
		followUpBody, _ = io.ReadAll(r.Body)
		assert.Empty(t, r.URL.Query().Get("page_size"))
		writeJSON(t, w, `{"next": null, "results": [{"id": "card-2", "status": "ISSUED", "cardType": "MIFARE_PERSONAL"}]}`)
	})

	// Execute test
	var seen []string
	err := client.CardsForIdentifiers(context.Background(),
		[]string{"wgd23@person.crs.identifiers.cam.ac.uk"},
		func(card Card) error {
			seen = append(seen, card.ID)
			return nil
		})

	// Verify results
	require.NoError(t, err)
	assert.Equal(t, []string{"card-1", "card-2"}, seen)
	assert.Empty(t, followUpBody)
}

func TestAllCards_SendsFilterParams(t *testing.T) {
	// Setup a collection endpoint
	client, _ := newTestCardClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1beta1/cards/", r.URL.Path)
		assert.Equal(t, "ISSUED", r.URL.Query().Get("status"))
		assert.Equal(t, "MIFARE_PERSONAL", r.URL.Query().Get("card_type"))
		assert.Equal(t, "500", r.URL.Query().Get("page_size"))

		writeJSON(t, w, `{"next": null, "results": [
			{"id": "card-1", "status": "ISSUED", "cardType": "MIFARE_PERSONAL"},
			{"id": "card-2", "status": "ISSUED", "cardType": "MIFARE_PERSONAL"}
		]}`)
	})

	// Execute test
	var seen []string
	err := client.AllCards(context.Background(),
		map[string]string{"status": "ISSUED", "card_type": "MIFARE_PERSONAL"},
		func(card Card) error {
			seen = append(seen, card.ID)
			return nil
		})

	// Verify results
	require.NoError(t, err)
	assert.Equal(t, []string{"card-1", "card-2"}, seen)
}

func TestCardDetail_ReturnsParsedAndRawCard(t *testing.T) {
	// Prepare test data
	payload := `{
		"id": "832e382c-fc3a-4448-a6bd-4a8e2d16d0f6",
		"status": "ISSUED",
		"cardType": "MIFARE_PERSONAL",
		"identifiers": [{"scheme": "person.crs.identifiers.cam.ac.uk", "value": "wgd23"}],
		"notes": [{"text": "Reprinted after damage", "createdAt": "2023-01-18T14:31:22Z"}]
	}`
	client, _ := newTestCardClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta1/cards/832e382c-fc3a-4448-a6bd-4a8e2d16d0f6/", r.URL.Path)
		writeJSON(t, w, payload)
	})

	// Execute test
	card, raw, err := client.CardDetail(context.Background(), "832e382c-fc3a-4448-a6bd-4a8e2d16d0f6")

	// Verify results
	require.NoError(t, err)
	assert.Equal(t, "832e382c-fc3a-4448-a6bd-4a8e2d16d0f6", card.ID)
	assert.Equal(t, "ISSUED", card.Status)
	require.Len(t, card.Notes, 1)
	assert.Equal(t, "Reprinted after damage", card.Notes[0].Text)
	assert.JSONEq(t, payload, string(raw))
}

func TestCardDetail_Error_UpstreamStatus(t *testing.T) {
	client, _ := newTestCardClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"detail": "Not found."}`))
	})

	_, _, err := client.CardDetail(context.Background(), "832e382c-fc3a-4448-a6bd-4a8e2d16d0f6")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestCardIdentifierValue(t *testing.T) {
	card := Card{Identifiers: []CardIdentifier{
		{Scheme: "person.crs.identifiers.cam.ac.uk", Value: "wgd23"},
		{Scheme: "barcode.v1.card.university.identifiers.cam.ac.uk", Value: "VB1231"},
	}}

	assert.Equal(t, "wgd23", card.IdentifierValue("person.crs.identifiers.cam.ac.uk"))
	assert.Equal(t, "", card.IdentifierValue("unknown-scheme"))
}
