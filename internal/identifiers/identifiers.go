package identifiers

import (
	"fmt"
	"sort"
	"strings"
)

// Identifier scheme URIs used by the Card API and the identity directories.
const (
	CrsidScheme               = "person.crs.identifiers.cam.ac.uk"
	USNScheme                 = "person.v1.student-records.university.identifiers.cam.ac.uk"
	StaffNumberScheme         = "person.v1.human-resources.university.identifiers.cam.ac.uk"
	BGSIDScheme               = "person.v1.board-of-graduate-studies.university.identifiers.cam.ac.uk"
	LegacyCardholderScheme    = "person.v1.legacy-card.university.identifiers.cam.ac.uk"
	LegacyCardScheme          = "card.v1.legacy-card.university.identifiers.cam.ac.uk"
	MifareIDScheme            = "mifare-identifier.v1.card.university.identifiers.cam.ac.uk"
	MifareNumberScheme        = "mifare-number.v1.card.university.identifiers.cam.ac.uk"
	BarcodeScheme             = "barcode.v1.card.university.identifiers.cam.ac.uk"
	PhotoScheme               = "photo.v1.photo.university.identifiers.cam.ac.uk"
	StudentInstitutionScheme  = "institution.v1.student-records.university.identifiers.cam.ac.uk"
	StudentAcademicPlanScheme = "academic-plan.v1.student-records.university.identifiers.cam.ac.uk"
	HRInstitutionScheme       = "institution.v1.human-resources.university.identifiers.cam.ac.uk"
)

// SchemesToNames maps a person identifier scheme to the flat field name the
// canonical card record uses for it.
var SchemesToNames = map[string]string{
	CrsidScheme:            "crsid",
	USNScheme:              "usn",
	StaffNumberScheme:      "staff_number",
	BGSIDScheme:            "bgs_id",
	LegacyCardholderScheme: "legacy_card_holder_id",
	MifareIDScheme:         "mifare_id",
	MifareNumberScheme:     "mifare_number",
	LegacyCardScheme:       "legacy_card_id",
	PhotoScheme:            "photo_id",
	BarcodeScheme:          "barcode",
}

// NamesToSchemes is the inverse of SchemesToNames.
var NamesToSchemes = func() map[string]string {
	m := make(map[string]string, len(SchemesToNames))
	for scheme, name := range SchemesToNames {
		m[name] = scheme
	}
	return m
}()

// Names returns the known identifier field names in sorted order, for use
// in error messages.
func Names() []string {
	names := make([]string, 0, len(NamesToSchemes))
	for name := range NamesToSchemes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsName reports whether name is a known identifier field name.
func IsName(name string) bool {
	_, ok := NamesToSchemes[name]
	return ok
}

// Format renders an identifier as "<value>@<scheme>". Identifiers are
// always handled in lower case: the upstream APIs are case insensitive,
// but mixed case keys would produce duplicate map entries on our side.
func Format(value, scheme string) string {
	return strings.ToLower(fmt.Sprintf("%s@%s", value, scheme))
}
