package aggregator

import (
	"fmt"
	"strconv"
	"strings"

	"card-exporter/internal/identifiers"
	"card-exporter/internal/models"
	"card-exporter/internal/upstream"
)

// Normalize converts one raw card and its person information into the
// canonical record shape. The returned error describes the defect; the
// caller attaches the query index.
func Normalize(card upstream.Card, person *models.Person) (models.CardRecord, error) {
	var record models.CardRecord

	// 1. The fields every card record must carry.
	if card.ID == "" {
		return record, fmt.Errorf("card record is missing the mandatory id field")
	}
	if card.Status == "" {
		return record, fmt.Errorf("card %s is missing the mandatory status field", card.ID)
	}
	if card.CardType == "" {
		return record, fmt.Errorf("card %s is missing the mandatory cardType field", card.ID)
	}
	record.ID = card.ID
	record.Status = card.Status
	record.CardType = card.CardType
	record.IssueNumber = copyInt(card.IssueNumber)

	record.IssuedAt = copyString(card.IssuedAt)
	record.ExpiresAt = copyString(card.ExpiresAt)
	record.RevokedAt = copyString(card.RevokedAt)
	record.ReturnedAt = copyString(card.ReturnedAt)
	record.UpdatedAt = copyString(card.UpdatedAt)

	// 2. Flatten the card's identifiers into per-scheme columns,
	// lowercased the way the wire format renders them.
	record.Crsid = identifierValue(card, identifiers.CrsidScheme)
	record.USN = identifierValue(card, identifiers.USNScheme)
	record.StaffNumber = identifierValue(card, identifiers.StaffNumberScheme)
	record.BGSID = identifierValue(card, identifiers.BGSIDScheme)
	record.LegacyCardholderID = identifierValue(card, identifiers.LegacyCardholderScheme)
	record.MifareNumber = identifierValue(card, identifiers.MifareNumberScheme)
	record.LegacyCardID = identifierValue(card, identifiers.LegacyCardScheme)
	record.PhotoID = identifierValue(card, identifiers.PhotoScheme)
	record.Barcode = identifierValue(card, identifiers.BarcodeScheme)

	// 3. The mifare id is issued as a decimal string; derive the
	// zero-padded hex rendering readers use when the value parses.
	if raw := card.IdentifierValue(identifiers.MifareIDScheme); raw != "" {
		if number, err := strconv.ParseUint(raw, 10, 64); err == nil {
			record.MifareID = ptr(strconv.FormatUint(number, 10))
			record.MifareIDHex = ptr(fmt.Sprintf("%08x", number))
		} else {
			record.MifareID = ptr(strings.ToLower(raw))
		}
	}

	// 4. Person information from the query's directory, when present.
	if person != nil {
		record.VisibleName = optional(person.VisibleName)
		record.Forenames = optional(person.Forenames)
		record.Surname = optional(person.Surname)
		record.AffiliationStatus = optional(person.AffiliationStatus)
	}

	// 5. Card notes ride along only on detail responses; the most
	// recent one becomes the lastnote columns.
	if len(card.Notes) > 0 {
		note := card.Notes[len(card.Notes)-1]
		record.Lastnote = ptr(note.Text)
		record.LastnoteAt = optional(note.CreatedAt)
	}

	return record, nil
}

func identifierValue(card upstream.Card, scheme string) *string {
	value := card.IdentifierValue(scheme)
	if value == "" {
		return nil
	}
	return ptr(strings.ToLower(value))
}

func ptr(s string) *string {
	return &s
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func copyString(p *string) *string {
	if p == nil {
		return nil
	}
	value := *p
	return &value
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	value := *p
	return &value
}
