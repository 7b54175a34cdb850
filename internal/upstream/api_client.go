package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"card-exporter/internal/config"
)

// Shared client defaults, overridable per API through the environment
// config.
const (
	defaultPageSize      = 500
	defaultRetryAttempts = 10
	defaultTimeout       = 10 * time.Second
)

// apiClient wraps a resty client with the retry policy, auth injection
// and DRF page walking shared by every upstream API client.
type apiClient struct {
	http     *resty.Client
	pageSize int
	logger   *zap.Logger
}

func newAPIClient(cfg config.APIConfig, baseURL string, tokens TokenProvider, logger *zap.Logger) *apiClient {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	retryAttempts := cfg.RetryAttempts
	if retryAttempts <= 0 {
		retryAttempts = defaultRetryAttempts
	}
	timeout := defaultTimeout
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(retryAttempts - 1).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(3 * time.Second).
		SetHeader("Accept", "application/json")

	client.AddRetryCondition(func(resp *resty.Response, err error) bool {
		return err != nil || resp.StatusCode() >= 500
	})

	if tokens != nil {
		client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			token, err := tokens.Token(req.Context())
			if err != nil {
				return fmt.Errorf("failed to authorize request: %w", err)
			}
			req.SetAuthToken(token)
			return nil
		})
	}

	return &apiClient{http: client, pageSize: pageSize, logger: logger}
}

// pagedResponse is the page envelope used by the DRF-style APIs.
type pagedResponse struct {
	Next    *string           `json:"next"`
	Results []json.RawMessage `json:"results"`
}

// forEachPage walks a paged endpoint, following `next` URLs until
// exhausted, and invokes fn for every raw result. Query params and body
// are sent on the first request only; `next` URLs already carry their
// own parameters.
func (c *apiClient) forEachPage(
	ctx context.Context,
	method, requestURL string,
	body interface{},
	params map[string]string,
	fn func(json.RawMessage) error,
) error {
	first := true
	for requestURL != "" {
		page := pagedResponse{}
		req := c.http.R().SetContext(ctx).SetResult(&page)
		if first {
			if len(params) > 0 {
				req.SetQueryParams(params)
			}
			if body != nil {
				req.SetHeader("Content-Type", "application/json").SetBody(body)
			}
		}

		resp, err := req.Execute(method, requestURL)
		if err != nil {
			return fmt.Errorf("request to %s failed: %w", requestURL, err)
		}
		if resp.IsError() {
			return fmt.Errorf("request to %s failed with status %d: %s",
				requestURL, resp.StatusCode(), strings.TrimSpace(resp.String()))
		}

		for _, raw := range page.Results {
			if err := fn(raw); err != nil {
				return err
			}
		}

		if page.Next == nil || *page.Next == "" {
			return nil
		}
		requestURL = *page.Next
		first = false
	}
	return nil
}

// getJSON performs a single GET and decodes the response into result.
func (c *apiClient) getJSON(ctx context.Context, requestURL string, result interface{}) error {
	resp, err := c.http.R().SetContext(ctx).SetResult(result).Get(requestURL)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", requestURL, err)
	}
	if resp.IsError() {
		return fmt.Errorf("request to %s failed with status %d: %s",
			requestURL, resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	return nil
}
