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
	"card-exporter/internal/identifiers"
)

const (
	hrAPIDefaultBaseURL = "https://api.apps.cam.ac.uk/university-human-resources"
	hrAPIDefaultVersion = "v1alpha2"
)

// StaffMember is the normalized staff row used by the pipeline.
type StaffMember struct {
	StaffNumber       string
	AffiliationStatus string
	VisibleName       string
	Forenames         string
	Surname           string
}

// staffRecord is the raw staff entity from the HR API.
type staffRecord struct {
	NamePrefixes string            `json:"namePrefixes"`
	Forenames    string            `json:"forenames"`
	Surname      string            `json:"surname"`
	Identifiers  []CardIdentifier  `json:"identifiers"`
	Affiliations []affiliationInfo `json:"affiliations"`
}

// HRClient queries the University HR API.
type HRClient struct {
	api *apiClient
}

func NewHRClient(cfg config.APIConfig, cache TokenCache, logger *zap.Logger) (*HRClient, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = hrAPIDefaultBaseURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = hrAPIDefaultVersion
	}

	tokens, err := NewTokenProvider(cfg, cache, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to configure hr api auth: %w", err)
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/") + "/" + cfg.APIVersion
	return &HRClient{api: newAPIClient(cfg, baseURL, tokens, logger)}, nil
}

// StaffByInstitution fetches the staff affiliated to one HR institution.
// Members whose affiliation to that institution carries no status, or the
// bare "Member" status, are skipped: they were never part of card
// exports.
func (c *HRClient) StaffByInstitution(ctx context.Context, instID string) ([]StaffMember, error) {
	affiliation := fmt.Sprintf("%s@%s", instID, identifiers.HRInstitutionScheme)
	params := map[string]string{
		"affiliation": affiliation,
		"page_size":   strconv.Itoa(c.api.pageSize),
	}

	var staff []StaffMember
	err := c.api.forEachPage(ctx, http.MethodGet, "/staff", nil, params, func(raw json.RawMessage) error {
		var record staffRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			return fmt.Errorf("failed to decode staff record: %w", err)
		}

		staffNumber := ""
		for _, id := range record.Identifiers {
			if id.Scheme == identifiers.StaffNumberScheme {
				staffNumber = id.Value
				break
			}
		}
		if staffNumber == "" {
			return fmt.Errorf("staff record is missing a staff number identifier")
		}

		status := ""
		for _, aff := range record.Affiliations {
			if aff.Value == instID && aff.Scheme == identifiers.HRInstitutionScheme && aff.Status != "Member" {
				status = aff.Status
				break
			}
		}
		if status == "" {
			return nil
		}

		staff = append(staff, StaffMember{
			StaffNumber:       staffNumber,
			AffiliationStatus: status,
			VisibleName:       joinNameParts(record.NamePrefixes, record.Forenames, record.Surname),
			Forenames:         record.Forenames,
			Surname:           record.Surname,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return staff, nil
}
