package upstream

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"card-exporter/internal/config"
)

const legacyAPIDefaultBaseURL = "https://api.apps.cam.ac.uk/legacycardholders"

// LegacyCardholder is one cardholder row from the legacy card system.
type LegacyCardholder struct {
	CamUID      string `json:"cam_uid"`
	DisplayName string `json:"display_name"`
	OrgID       string `json:"org_id"`
}

type legacyCardholderEnvelope struct {
	Records []LegacyCardholder `json:"records"`
}

// LegacyClient queries the legacy cardholder API. The API exposes the
// whole cardholder roll in one response; filtering happens client side.
type LegacyClient struct {
	api *apiClient
}

func NewLegacyClient(cfg config.APIConfig, cache TokenCache, logger *zap.Logger) (*LegacyClient, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = legacyAPIDefaultBaseURL
	}

	tokens, err := NewTokenProvider(cfg, cache, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to configure legacy cardholder api auth: %w", err)
	}

	return &LegacyClient{api: newAPIClient(cfg, strings.TrimRight(cfg.BaseURL, "/"), tokens, logger)}, nil
}

// CardholdersByOrganisation fetches the cardholder roll and keeps the
// records whose org_id contains one of the requested organisation ids.
func (c *LegacyClient) CardholdersByOrganisation(ctx context.Context, orgIDs []string) ([]LegacyCardholder, error) {
	c.api.logger.Info("Fetching legacy cardholders", zap.Strings("org_ids", orgIDs))

	envelope := legacyCardholderEnvelope{}
	if err := c.api.getJSON(ctx, "/", &envelope); err != nil {
		return nil, err
	}

	var matched []LegacyCardholder
	for _, record := range envelope.Records {
		for _, orgID := range orgIDs {
			if strings.Contains(record.OrgID, orgID) {
				matched = append(matched, record)
				break
			}
		}
	}
	return matched, nil
}
