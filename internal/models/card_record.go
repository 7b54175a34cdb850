package models

import "strconv"

// Card status values used by the Card API.
const (
	StatusIssued   = "ISSUED"
	StatusRevoked  = "REVOKED"
	StatusReturned = "RETURNED"
	StatusExpired  = "EXPIRED"
)

// Card type values used by the Card API.
const (
	CardTypePersonal  = "MIFARE_PERSONAL"
	CardTypeTemporary = "MIFARE_TEMPORARY"
)

// CanonicalColumns lists every canonical card record column in output
// order: flattened identifier fields first, then the derived hex mifare
// id, person fields, note fields, and finally the card's own scalars.
var CanonicalColumns = []string{
	"crsid",
	"usn",
	"staff_number",
	"bgs_id",
	"legacy_card_holder_id",
	"mifare_id",
	"mifare_number",
	"legacy_card_id",
	"photo_id",
	"barcode",
	"mifare_id_hex",
	"visible_name",
	"forenames",
	"surname",
	"affiliation_status",
	"lastnote",
	"lastnoteAt",
	"id",
	"status",
	"cardType",
	"issueNumber",
	"issuedAt",
	"expiresAt",
	"revokedAt",
	"returnedAt",
	"updatedAt",
}

var canonicalColumnSet = func() map[string]bool {
	m := make(map[string]bool, len(CanonicalColumns))
	for _, c := range CanonicalColumns {
		m[c] = true
	}
	return m
}()

// IsCanonicalColumn reports whether name is one of the canonical card
// record columns.
func IsCanonicalColumn(name string) bool {
	return canonicalColumnSet[name]
}

// Person holds the identity directory fields joined onto a card. Empty
// strings mean the directory did not supply the field.
type Person struct {
	VisibleName       string
	Forenames         string
	Surname           string
	AffiliationStatus string
}

// CardRecord is the canonical representation of one card. Records are
// built by the normalizer and never mutated afterwards; every pipeline
// step produces new records or drops whole records.
type CardRecord struct {
	ID          string
	Status      string
	CardType    string
	IssueNumber *int

	IssuedAt   *string
	ExpiresAt  *string
	RevokedAt  *string
	ReturnedAt *string
	UpdatedAt  *string

	Crsid              *string
	USN                *string
	StaffNumber        *string
	BGSID              *string
	LegacyCardholderID *string
	LegacyCardID       *string
	MifareID           *string
	MifareIDHex        *string
	MifareNumber       *string
	Barcode            *string
	PhotoID            *string

	VisibleName *string
	Forenames   *string
	Surname     *string

	AffiliationStatus *string

	Lastnote   *string
	LastnoteAt *string

	// ExtraFields carries the per-query extra_fields_for_results values.
	// Keys never collide with canonical columns; config validation
	// rejects colliding queries up front.
	ExtraFields map[string]string
}

// Fields renders every canonical column to its string value, nil fields
// becoming empty strings. The returned map always has identical keys for
// every record, which the field projector relies on.
func (r *CardRecord) Fields() map[string]string {
	issueNumber := ""
	if r.IssueNumber != nil {
		issueNumber = strconv.Itoa(*r.IssueNumber)
	}
	return map[string]string{
		"crsid":                 deref(r.Crsid),
		"usn":                   deref(r.USN),
		"staff_number":          deref(r.StaffNumber),
		"bgs_id":                deref(r.BGSID),
		"legacy_card_holder_id": deref(r.LegacyCardholderID),
		"mifare_id":             deref(r.MifareID),
		"mifare_number":         deref(r.MifareNumber),
		"legacy_card_id":        deref(r.LegacyCardID),
		"photo_id":              deref(r.PhotoID),
		"barcode":               deref(r.Barcode),
		"mifare_id_hex":         deref(r.MifareIDHex),
		"visible_name":          deref(r.VisibleName),
		"forenames":             deref(r.Forenames),
		"surname":               deref(r.Surname),
		"affiliation_status":    deref(r.AffiliationStatus),
		"lastnote":              deref(r.Lastnote),
		"lastnoteAt":            deref(r.LastnoteAt),
		"id":                    r.ID,
		"status":                r.Status,
		"cardType":              r.CardType,
		"issueNumber":           issueNumber,
		"issuedAt":              deref(r.IssuedAt),
		"expiresAt":             deref(r.ExpiresAt),
		"revokedAt":             deref(r.RevokedAt),
		"returnedAt":            deref(r.ReturnedAt),
		"updatedAt":             deref(r.UpdatedAt),
	}
}

// Row renders the record for output: canonical columns plus any extra
// fields attached by the originating query.
func (r *CardRecord) Row() map[string]string {
	row := r.Fields()
	for key, value := range r.ExtraFields {
		row[key] = value
	}
	return row
}

// Field looks up a single rendered field by column name, canonical
// columns first, then extra fields.
func (r *CardRecord) Field(name string) (string, bool) {
	if IsCanonicalColumn(name) {
		return r.Fields()[name], true
	}
	value, ok := r.ExtraFields[name]
	return value, ok
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
