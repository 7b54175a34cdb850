package models

import (
	"fmt"
	"sort"
	"strings"

	"card-exporter/internal/identifiers"
)

// SourceKind discriminates which upstream source a query targets. The set
// is closed: the named kinds below plus one kind per direct identifier
// field name (crsid, usn, staff_number, ...).
type SourceKind string

const (
	SourceLookupInstitution          SourceKind = "lookup_institution"
	SourceLookupGroup                SourceKind = "lookup_group"
	SourceLQL                        SourceKind = "lql"
	SourceCrsid                      SourceKind = "crsid"
	SourceStudentInstitution         SourceKind = "student_institution"
	SourceStudentAcademicPlan        SourceKind = "student_academic_plan"
	SourceRecentGraduateInstitution  SourceKind = "recent_graduate_institution"
	SourceRecentGraduateAcademicPlan SourceKind = "recent_graduate_academic_plan"
	SourceUniversityHRInstitution    SourceKind = "university_hr_institution"
	SourceLegacyOrganisation         SourceKind = "legacy_carddb_organisation_id"
)

var namedSourceKinds = []SourceKind{
	SourceLookupInstitution,
	SourceLookupGroup,
	SourceLQL,
	SourceStudentInstitution,
	SourceStudentAcademicPlan,
	SourceRecentGraduateInstitution,
	SourceRecentGraduateAcademicPlan,
	SourceUniversityHRInstitution,
	SourceLegacyOrganisation,
}

// KnownSourceKinds returns every valid `by` value, sorted, for error
// messages.
func KnownSourceKinds() []string {
	kinds := make([]string, 0, len(namedSourceKinds)+len(identifiers.SchemesToNames))
	for _, kind := range namedSourceKinds {
		kinds = append(kinds, string(kind))
	}
	for _, name := range identifiers.Names() {
		if name != string(SourceCrsid) {
			kinds = append(kinds, name)
		}
	}
	sort.Strings(kinds)
	return kinds
}

// Valid reports whether the kind is a recognized `by` value.
func (k SourceKind) Valid() bool {
	for _, kind := range namedSourceKinds {
		if k == kind {
			return true
		}
	}
	return identifiers.IsName(string(k))
}

// AffiliationCapable reports whether queries against this source may
// carry an affiliation_status filter. These are also the only sources
// that populate the affiliation_status field on records.
func (k SourceKind) AffiliationCapable() bool {
	switch k {
	case SourceStudentInstitution, SourceStudentAcademicPlan,
		SourceRecentGraduateInstitution, SourceRecentGraduateAcademicPlan,
		SourceUniversityHRInstitution:
		return true
	}
	return false
}

// DirectIdentifier reports whether the kind queries the Card API directly
// by an identifier scheme, with no identity directory involved. crsid is
// the exception: it is an identifier name but resolves people via Lookup.
func (k SourceKind) DirectIdentifier() bool {
	return identifiers.IsName(string(k)) && k != SourceCrsid
}

// QuerySpec is one declarative request for cards from an upstream source,
// as configured under `queries`.
type QuerySpec struct {
	By                SourceKind        `mapstructure:"by"`
	ID                string            `mapstructure:"id"`
	IDs               []string          `mapstructure:"ids"`
	LQLQuery          string            `mapstructure:"lql_query"`
	AffiliationStatus string            `mapstructure:"affiliation_status"`
	ExtraFields       map[string]string `mapstructure:"extra_fields_for_results"`
}

// AllIDs folds the single-id form into the list form.
func (q QuerySpec) AllIDs() []string {
	if len(q.IDs) > 0 {
		return q.IDs
	}
	if q.ID != "" {
		return []string{q.ID}
	}
	return nil
}

// Validate checks the query's shape against its source kind. index is the
// query's position in the configuration and is reported in every error so
// the offending query can be found. Validation runs at config load time,
// before any fetch.
func (q QuerySpec) Validate(index int) error {
	if !q.By.Valid() {
		return &ConfigError{
			Query: index,
			Reason: fmt.Sprintf("invalid `by` value %q, available options are: %s",
				string(q.By), strings.Join(KnownSourceKinds(), ", ")),
		}
	}

	if q.By == SourceLQL {
		if q.LQLQuery == "" {
			return &ConfigError{Query: index, Reason: "query by lql must contain an `lql_query` attribute"}
		}
		if q.ID != "" || len(q.IDs) > 0 {
			return &ConfigError{Query: index, Reason: "query by lql cannot also contain `id` or `ids`"}
		}
	} else {
		if q.LQLQuery != "" {
			return &ConfigError{
				Query:  index,
				Reason: fmt.Sprintf("`lql_query` is only valid for lql queries, not %q", string(q.By)),
			}
		}
		if len(q.AllIDs()) == 0 {
			return &ConfigError{Query: index, Reason: "query does not contain an `id` or list of `ids`"}
		}
	}

	if q.AffiliationStatus != "" && !q.By.AffiliationCapable() {
		return &ConfigError{
			Query:  index,
			Reason: fmt.Sprintf("`affiliation_status` is not valid for %q queries", string(q.By)),
		}
	}

	for key := range q.ExtraFields {
		if IsCanonicalColumn(key) {
			return &ConfigError{
				Query:  index,
				Reason: fmt.Sprintf("extra_fields_for_results key %q collides with a card record field", key),
			}
		}
	}

	return nil
}
