package upstream

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"card-exporter/internal/config"
)

const (
	lookupDefaultBaseURL = "https://www.lookup.cam.ac.uk/api/v1"

	// Field set requested for every person fetch.
	lookupFetchFields = "visibleName,surname,firstName,all_identifiers"

	// Chunk size for listing people by crsid, per the Lookup client docs.
	crsidChunkSize = 100
)

// LookupPerson is the person DTO returned by the Lookup web service.
type LookupPerson struct {
	VisibleName string             `json:"visibleName"`
	Surname     string             `json:"surname"`
	Identifiers []LookupIdentifier `json:"identifiers"`
	Attributes  []LookupAttribute  `json:"attributes"`
}

type LookupIdentifier struct {
	Scheme string `json:"scheme"`
	Value  string `json:"value"`
}

type LookupAttribute struct {
	Scheme string `json:"scheme"`
	Value  string `json:"value"`
}

// Crsid returns the person's crsid, or "" when Lookup holds none.
func (p LookupPerson) Crsid() string {
	for _, id := range p.Identifiers {
		if id.Scheme == "crsid" {
			return id.Value
		}
	}
	return ""
}

// FirstName returns the person's firstName attribute, or "".
func (p LookupPerson) FirstName() string {
	for _, attr := range p.Attributes {
		if attr.Scheme == "firstName" {
			return attr.Value
		}
	}
	return ""
}

type lookupEnvelope struct {
	Result struct {
		People []LookupPerson `json:"people"`
	} `json:"result"`
}

// LookupClient queries the Lookup (university directory) web service.
type LookupClient struct {
	api      *apiClient
	pageSize int
}

// NewLookupClient builds a Lookup client. Credentials are optional;
// anonymous queries return a reduced view of the directory.
func NewLookupClient(cfg config.APIConfig, creds config.LookupCredentials, logger *zap.Logger) *LookupClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = lookupDefaultBaseURL
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	api := newAPIClient(cfg, strings.TrimRight(cfg.BaseURL, "/"), nil, logger)
	if creds.Username != "" && creds.Password != "" {
		api.http.SetBasicAuth(creds.Username, creds.Password)
	}

	return &LookupClient{api: api, pageSize: pageSize}
}

// InstitutionMembers fetches the members of one institution.
func (c *LookupClient) InstitutionMembers(ctx context.Context, instID string) ([]LookupPerson, error) {
	return c.fetchPeople(ctx, fmt.Sprintf("/inst/%s/members", instID), nil)
}

// GroupMembers fetches the members of one group.
func (c *LookupClient) GroupMembers(ctx context.Context, groupID string) ([]LookupPerson, error) {
	return c.fetchPeople(ctx, fmt.Sprintf("/group/%s/members", groupID), nil)
}

// Search runs an LQL person search, walking offset pages until a page
// comes back smaller than the page size.
func (c *LookupClient) Search(ctx context.Context, query string) ([]LookupPerson, error) {
	var people []LookupPerson
	offset := 0
	for {
		c.api.logger.Debug("Querying via lql",
			zap.String("query", query), zap.Int("offset", offset))

		page, err := c.fetchPeople(ctx, "/person/search", map[string]string{
			"query":  query,
			"offset": strconv.Itoa(offset),
			"limit":  strconv.Itoa(c.pageSize),
		})
		if err != nil {
			return nil, err
		}
		people = append(people, page...)
		if len(page) < c.pageSize {
			return people, nil
		}
		offset += len(page)
	}
}

// ListPeople fetches people by crsid, chunked per the Lookup guidance.
func (c *LookupClient) ListPeople(ctx context.Context, crsids []string) ([]LookupPerson, error) {
	var people []LookupPerson
	for start := 0; start < len(crsids); start += crsidChunkSize {
		end := start + crsidChunkSize
		if end > len(crsids) {
			end = len(crsids)
		}
		page, err := c.fetchPeople(ctx, "/person/list", map[string]string{
			"crsids": strings.Join(crsids[start:end], ","),
		})
		if err != nil {
			return nil, err
		}
		people = append(people, page...)
	}
	return people, nil
}

func (c *LookupClient) fetchPeople(ctx context.Context, path string, params map[string]string) ([]LookupPerson, error) {
	envelope := lookupEnvelope{}
	req := c.api.http.R().SetContext(ctx).
		SetQueryParam("fetch", lookupFetchFields).
		SetResult(&envelope)
	for key, value := range params {
		req.SetQueryParam(key, value)
	}

	resp, err := req.Execute(http.MethodGet, path)
	if err != nil {
		return nil, fmt.Errorf("lookup request to %s failed: %w", path, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("lookup request to %s failed with status %d: %s",
			path, resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	return envelope.Result.People, nil
}
