package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"card-exporter/internal/config"
	"card-exporter/internal/identifiers"
)

const (
	studentAPIDefaultBaseURL = "https://api.apps.cam.ac.uk/university-student"
	studentAPIDefaultVersion = "v1alpha2"

	// Collections exposed by the student API.
	CollectionStudents        = "students"
	CollectionRecentGraduates = "recent-graduates"
)

// Student is the normalized student row used by the pipeline.
type Student struct {
	USN               string
	AffiliationStatus string
	VisibleName       string
	Forenames         string
	Surname           string
}

// studentRecord is the raw student entity from the API.
type studentRecord struct {
	NamePrefixes string            `json:"namePrefixes"`
	Forenames    string            `json:"forenames"`
	Surname      string            `json:"surname"`
	Identifiers  []CardIdentifier  `json:"identifiers"`
	Affiliations []affiliationInfo `json:"affiliations"`
}

type affiliationInfo struct {
	Value  string `json:"value"`
	Scheme string `json:"scheme"`
	Status string `json:"status"`
}

// StudentClient queries the University Student API.
type StudentClient struct {
	api *apiClient
}

func NewStudentClient(cfg config.APIConfig, cache TokenCache, logger *zap.Logger) (*StudentClient, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = studentAPIDefaultBaseURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = studentAPIDefaultVersion
	}

	tokens, err := NewTokenProvider(cfg, cache, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to configure student api auth: %w", err)
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/") + "/" + cfg.APIVersion
	return &StudentClient{api: newAPIClient(cfg, baseURL, tokens, logger)}, nil
}

// StudentsByAffiliation fetches students or recent graduates holding the
// given affiliation (institution or academic plan scheme), extracting the
// usn and the status of the matching affiliation from each entity.
func (c *StudentClient) StudentsByAffiliation(
	ctx context.Context,
	collection string,
	affiliationValue, affiliationScheme string,
) ([]Student, error) {
	affiliation := fmt.Sprintf("%s@%s", affiliationValue, affiliationScheme)
	params := map[string]string{"affiliation": affiliation}

	var students []Student
	err := c.api.forEachPage(ctx, http.MethodGet, "/"+collection, nil, params, func(raw json.RawMessage) error {
		var record studentRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			return fmt.Errorf("failed to decode student record: %w", err)
		}

		usn := ""
		for _, id := range record.Identifiers {
			if id.Scheme == identifiers.USNScheme {
				usn = id.Value
				break
			}
		}
		if usn == "" {
			return fmt.Errorf("student record is missing a usn identifier")
		}

		status := ""
		for _, aff := range record.Affiliations {
			if aff.Value == affiliationValue && aff.Scheme == affiliationScheme {
				status = aff.Status
				break
			}
		}
		if status == "" {
			return fmt.Errorf("student %s is missing the %s affiliation", usn, affiliation)
		}

		students = append(students, Student{
			USN:               usn,
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
	return students, nil
}

// joinNameParts composes a visible name from its parts, skipping empties.
func joinNameParts(parts ...string) string {
	nonEmpty := parts[:0:0]
	for _, part := range parts {
		if part != "" {
			nonEmpty = append(nonEmpty, part)
		}
	}
	return strings.Join(nonEmpty, " ")
}
