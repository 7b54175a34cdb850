package upstream

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"card-exporter/internal/config"
)

// tokenExpiryMargin is subtracted from a token's lifetime before caching
// so a cached token is never handed out moments before it expires.
const tokenExpiryMargin = 30 * time.Second

// TokenProvider supplies the bearer token for upstream API requests.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenProvider returns a pre-issued bearer token from the
// configuration.
type StaticTokenProvider struct {
	token string
}

func NewStaticTokenProvider(token string) *StaticTokenProvider {
	return &StaticTokenProvider{token: token}
}

func (p *StaticTokenProvider) Token(ctx context.Context) (string, error) {
	return p.token, nil
}

// OAuthTokenProvider fetches API gateway access tokens with the OAuth2
// client credentials grant, consulting a TokenCache first so repeated
// runs reuse a live token.
type OAuthTokenProvider struct {
	conf          *clientcredentials.Config
	cache         TokenCache
	cacheKey      string
	retryAttempts int
	logger        *zap.Logger
}

func NewOAuthTokenProvider(
	clientKey, clientSecret, tokenEndpoint string,
	retryAttempts int,
	cache TokenCache,
	logger *zap.Logger,
) *OAuthTokenProvider {
	conf := &clientcredentials.Config{
		ClientID:     clientKey,
		ClientSecret: clientSecret,
		TokenURL:     tokenEndpoint,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	return &OAuthTokenProvider{
		conf:          conf,
		cache:         cache,
		cacheKey:      fmt.Sprintf("card-exporter:token:%s@%s", clientKey, tokenEndpoint),
		retryAttempts: retryAttempts,
		logger:        logger,
	}
}

func (p *OAuthTokenProvider) Token(ctx context.Context) (string, error) {
	cached, err := p.cache.Get(ctx, p.cacheKey)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, ErrTokenCacheMiss) {
		// A cache outage must not fail the run.
		p.logger.Warn("Token cache read failed", zap.Error(err))
	}

	p.logger.Info("Fetching access token")
	token, err := p.fetchToken(ctx)
	if err != nil {
		return "", err
	}

	if ttl := time.Until(token.Expiry) - tokenExpiryMargin; ttl > 0 {
		if err := p.cache.Set(ctx, p.cacheKey, token.AccessToken, ttl); err != nil {
			p.logger.Warn("Token cache write failed", zap.Error(err))
		}
	}
	return token.AccessToken, nil
}

// fetchToken retries transient token endpoint failures, but gives up
// immediately on a non-5xx response: the client credentials are probably
// bad and retrying will not fix them.
func (p *OAuthTokenProvider) fetchToken(ctx context.Context) (*oauth2.Token, error) {
	var lastErr error
	for attempt := 0; attempt < p.retryAttempts; attempt++ {
		token, err := p.conf.Token(ctx)
		if err == nil {
			return token, nil
		}
		lastErr = err

		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil && retrieveErr.Response.StatusCode < 500 {
			p.logger.Error("Auth request indicates client error",
				zap.Int("status", retrieveErr.Response.StatusCode))
			break
		}

		wait := time.Duration(1000+rand.Intn(2000)) * time.Millisecond
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, fmt.Errorf("unable to authenticate using client credentials: %w", lastErr)
}

// NewTokenProvider builds the TokenProvider for one API from its config:
// client credentials when present, otherwise a static bearer token,
// otherwise nil (requests go out unauthenticated).
func NewTokenProvider(cfg config.APIConfig, cache TokenCache, logger *zap.Logger) (TokenProvider, error) {
	if cfg.ClientKey != "" && cfg.ClientSecret != "" {
		endpoint := cfg.TokenEndpoint
		if endpoint == "" {
			derived, err := deriveTokenEndpoint(cfg.BaseURL)
			if err != nil {
				return nil, err
			}
			endpoint = derived
		}
		retryAttempts := cfg.RetryAttempts
		if retryAttempts <= 0 {
			retryAttempts = defaultRetryAttempts
		}
		return NewOAuthTokenProvider(cfg.ClientKey, cfg.ClientSecret, endpoint, retryAttempts, cache, logger), nil
	}

	if cfg.BearerToken != "" {
		logger.Info("Using bearer token for authorization")
		return NewStaticTokenProvider(cfg.BearerToken), nil
	}

	logger.Warn("No authentication details provided")
	return nil, nil
}

// deriveTokenEndpoint infers the API gateway token endpoint from an API
// base URL when no explicit token_endpoint is configured.
func deriveTokenEndpoint(baseURL string) (string, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Host == "" {
		return "", fmt.Errorf("cannot derive token endpoint from base url %q", baseURL)
	}
	return fmt.Sprintf("%s://%s/oauth2/v1/token", parsed.Scheme, parsed.Host), nil
}
