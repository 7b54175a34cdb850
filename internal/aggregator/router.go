package aggregator

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"card-exporter/internal/identifiers"
	"card-exporter/internal/models"
	"card-exporter/internal/upstream"
)

// CardAPI is the slice of the Card API client the pipeline uses
// (interface for test mocking).
type CardAPI interface {
	CardsForIdentifiers(ctx context.Context, identifiers []string, fn func(upstream.Card) error) error
}

// LookupAPI resolves people from the Lookup directory.
type LookupAPI interface {
	InstitutionMembers(ctx context.Context, instID string) ([]upstream.LookupPerson, error)
	GroupMembers(ctx context.Context, groupID string) ([]upstream.LookupPerson, error)
	Search(ctx context.Context, query string) ([]upstream.LookupPerson, error)
	ListPeople(ctx context.Context, crsids []string) ([]upstream.LookupPerson, error)
}

// StudentAPI resolves students and recent graduates by affiliation.
type StudentAPI interface {
	StudentsByAffiliation(ctx context.Context, collection, affiliationValue, affiliationScheme string) ([]upstream.Student, error)
}

// HRAPI resolves staff members by HR institution.
type HRAPI interface {
	StaffByInstitution(ctx context.Context, instID string) ([]upstream.StaffMember, error)
}

// LegacyAPI resolves cardholders from the legacy card system.
type LegacyAPI interface {
	CardholdersByOrganisation(ctx context.Context, orgIDs []string) ([]upstream.LegacyCardholder, error)
}

// RawRecord is one fetched card joined with the person information its
// query's directory holds for it. Person is nil when the directory has
// no entry for the card (or the source involves no directory).
type RawRecord struct {
	Card   upstream.Card
	Person *models.Person
}

// PersonDirectory holds the people resolved for one query, keyed by full
// identifier ("<value>@<scheme>"), in resolution order. The order is
// load-bearing: it fixes the card fetch order and with it every
// downstream tie-break.
type PersonDirectory struct {
	order  []string
	people map[string]models.Person
}

func NewPersonDirectory() *PersonDirectory {
	return &PersonDirectory{people: make(map[string]models.Person)}
}

// Add records person info under the given identifier. A repeated
// identifier keeps its original position but takes the new info.
func (d *PersonDirectory) Add(identifier string, person models.Person) {
	if _, ok := d.people[identifier]; !ok {
		d.order = append(d.order, identifier)
	}
	d.people[identifier] = person
}

// Identifiers returns the identifiers in resolution order.
func (d *PersonDirectory) Identifiers() []string {
	return d.order
}

// Get returns the person info held for identifier.
func (d *PersonDirectory) Get(identifier string) (models.Person, bool) {
	person, ok := d.people[identifier]
	return person, ok
}

// Len returns the number of people held.
func (d *PersonDirectory) Len() int {
	return len(d.order)
}

// Router turns a query specification into the fetch strategy for its
// source kind: resolve people from the right directory, fetch their
// cards, and join the two.
type Router struct {
	cards    CardAPI
	lookup   LookupAPI
	students StudentAPI
	hr       HRAPI
	legacy   LegacyAPI
	logger   *zap.Logger
}

func NewRouter(cards CardAPI, lookup LookupAPI, students StudentAPI, hr HRAPI, legacy LegacyAPI, logger *zap.Logger) *Router {
	return &Router{
		cards:    cards,
		lookup:   lookup,
		students: students,
		hr:       hr,
		legacy:   legacy,
		logger:   logger,
	}
}

// Fetch executes one query end to end and returns its raw card/person
// pairs in fetch order. index is the query's position in the
// configuration, reported in every error.
func (r *Router) Fetch(ctx context.Context, index int, query models.QuerySpec) ([]RawRecord, error) {
	// 1. Re-check the query shape; config load validates too, but no
	// fetch may ever run for an invalid query.
	if err := query.Validate(index); err != nil {
		return nil, err
	}

	// 2. Resolve the people the query targets.
	directory, scheme, err := r.resolvePeople(ctx, query)
	if err != nil {
		return nil, &models.FetchError{Query: index, Source: string(query.By), Err: err}
	}

	r.logger.Info("Fetching cards for query",
		zap.Int("query", index),
		zap.String("by", string(query.By)),
		zap.Int("people", directory.Len()),
	)

	// 3. Fetch the cards held by those people and join each card back to
	// its person via the query's identifier scheme.
	var records []RawRecord
	err = r.cards.CardsForIdentifiers(ctx, directory.Identifiers(), func(card upstream.Card) error {
		var person *models.Person
		if value := card.IdentifierValue(scheme); value != "" {
			if p, ok := directory.Get(identifiers.Format(value, scheme)); ok {
				person = &p
			}
		}
		records = append(records, RawRecord{Card: card, Person: person})
		return nil
	})
	if err != nil {
		return nil, &models.FetchError{Query: index, Source: string(query.By), Err: err}
	}
	return records, nil
}

// resolvePeople dispatches on the query's source kind and returns the
// person directory plus the identifier scheme its keys use.
func (r *Router) resolvePeople(ctx context.Context, query models.QuerySpec) (*PersonDirectory, string, error) {
	switch query.By {
	case models.SourceLookupInstitution, models.SourceLookupGroup:
		return r.lookupMembers(ctx, query)

	case models.SourceLQL:
		return r.lookupByLQL(ctx, query.LQLQuery)

	case models.SourceCrsid:
		return r.lookupByCrsid(ctx, query.AllIDs())

	case models.SourceStudentInstitution, models.SourceStudentAcademicPlan,
		models.SourceRecentGraduateInstitution, models.SourceRecentGraduateAcademicPlan:
		return r.studentsByAffiliation(ctx, query)

	case models.SourceUniversityHRInstitution:
		return r.staffByInstitution(ctx, query)

	case models.SourceLegacyOrganisation:
		return r.legacyCardholders(ctx, query.AllIDs())

	default:
		// Validate has already established this is a direct identifier
		// kind: the Card API is queried directly, no directory involved.
		return r.directIdentifiers(query)
	}
}

// lookupMembers resolves institution or group members from Lookup.
func (r *Router) lookupMembers(ctx context.Context, query models.QuerySpec) (*PersonDirectory, string, error) {
	directory := NewPersonDirectory()
	for _, id := range query.AllIDs() {
		r.logger.Info("Fetching members", zap.String("by", string(query.By)), zap.String("id", id))

		var members []upstream.LookupPerson
		var err error
		if query.By == models.SourceLookupInstitution {
			members, err = r.lookup.InstitutionMembers(ctx, id)
		} else {
			members, err = r.lookup.GroupMembers(ctx, id)
		}
		if err != nil {
			return nil, "", err
		}
		addLookupPeople(directory, members)
	}
	return directory, identifiers.CrsidScheme, nil
}

// lookupByLQL resolves people via an LQL search. Queries without an
// explicit prefix search over people.
func (r *Router) lookupByLQL(ctx context.Context, lql string) (*PersonDirectory, string, error) {
	if !strings.HasPrefix(lql, "person:") {
		lql = "person:" + lql
	}
	r.logger.Info("Fetching people by lql", zap.String("query", lql))

	members, err := r.lookup.Search(ctx, lql)
	if err != nil {
		return nil, "", err
	}
	directory := NewPersonDirectory()
	addLookupPeople(directory, members)
	return directory, identifiers.CrsidScheme, nil
}

// lookupByCrsid resolves people from Lookup by their crsids.
func (r *Router) lookupByCrsid(ctx context.Context, crsids []string) (*PersonDirectory, string, error) {
	r.logger.Info("Fetching people by crsid", zap.Int("count", len(crsids)))

	members, err := r.lookup.ListPeople(ctx, crsids)
	if err != nil {
		return nil, "", err
	}
	directory := NewPersonDirectory()
	addLookupPeople(directory, members)
	return directory, identifiers.CrsidScheme, nil
}

var studentCollections = map[models.SourceKind]struct {
	collection string
	scheme     string
}{
	models.SourceStudentInstitution:         {upstream.CollectionStudents, identifiers.StudentInstitutionScheme},
	models.SourceStudentAcademicPlan:        {upstream.CollectionStudents, identifiers.StudentAcademicPlanScheme},
	models.SourceRecentGraduateInstitution:  {upstream.CollectionRecentGraduates, identifiers.StudentInstitutionScheme},
	models.SourceRecentGraduateAcademicPlan: {upstream.CollectionRecentGraduates, identifiers.StudentAcademicPlanScheme},
}

// studentsByAffiliation resolves students or recent graduates by
// institution or academic plan, applying the query's affiliation_status
// filter.
func (r *Router) studentsByAffiliation(ctx context.Context, query models.QuerySpec) (*PersonDirectory, string, error) {
	target := studentCollections[query.By]
	directory := NewPersonDirectory()

	for _, id := range query.AllIDs() {
		r.logger.Info("Fetching students", zap.String("by", string(query.By)), zap.String("id", id))

		students, err := r.students.StudentsByAffiliation(ctx, target.collection, id, target.scheme)
		if err != nil {
			return nil, "", err
		}
		for _, student := range students {
			if query.AffiliationStatus != "" && student.AffiliationStatus != query.AffiliationStatus {
				continue
			}
			directory.Add(identifiers.Format(student.USN, identifiers.USNScheme), models.Person{
				VisibleName:       student.VisibleName,
				Forenames:         student.Forenames,
				Surname:           student.Surname,
				AffiliationStatus: student.AffiliationStatus,
			})
		}
	}
	return directory, identifiers.USNScheme, nil
}

// staffByInstitution resolves staff members by HR institution, applying
// the query's affiliation_status filter.
func (r *Router) staffByInstitution(ctx context.Context, query models.QuerySpec) (*PersonDirectory, string, error) {
	directory := NewPersonDirectory()
	for _, id := range query.AllIDs() {
		r.logger.Info("Fetching staff members", zap.String("id", id))

		staff, err := r.hr.StaffByInstitution(ctx, id)
		if err != nil {
			return nil, "", err
		}
		for _, member := range staff {
			if query.AffiliationStatus != "" && member.AffiliationStatus != query.AffiliationStatus {
				continue
			}
			directory.Add(identifiers.Format(member.StaffNumber, identifiers.StaffNumberScheme), models.Person{
				VisibleName:       member.VisibleName,
				Forenames:         member.Forenames,
				Surname:           member.Surname,
				AffiliationStatus: member.AffiliationStatus,
			})
		}
	}
	return directory, identifiers.StaffNumberScheme, nil
}

// legacyCardholders resolves cardholders by legacy organisation id.
func (r *Router) legacyCardholders(ctx context.Context, orgIDs []string) (*PersonDirectory, string, error) {
	cardholders, err := r.legacy.CardholdersByOrganisation(ctx, orgIDs)
	if err != nil {
		return nil, "", err
	}
	directory := NewPersonDirectory()
	for _, holder := range cardholders {
		directory.Add(
			identifiers.Format(holder.CamUID, identifiers.LegacyCardholderScheme),
			models.Person{VisibleName: holder.DisplayName},
		)
	}
	return directory, identifiers.LegacyCardholderScheme, nil
}

// directIdentifiers handles identifier-scheme queries: the ids are used
// as-is against the Card API and carry no person information.
func (r *Router) directIdentifiers(query models.QuerySpec) (*PersonDirectory, string, error) {
	scheme := identifiers.NamesToSchemes[string(query.By)]
	ids := query.AllIDs()
	r.logger.Info("Using direct identifiers",
		zap.String("scheme", string(query.By)), zap.Int("count", len(ids)))

	directory := NewPersonDirectory()
	for _, id := range ids {
		directory.Add(identifiers.Format(id, scheme), models.Person{})
	}
	return directory, scheme, nil
}

// addLookupPeople folds Lookup members into the directory, keyed by
// crsid. Members Lookup returns without a crsid are skipped.
func addLookupPeople(directory *PersonDirectory, members []upstream.LookupPerson) {
	for _, member := range members {
		crsid := member.Crsid()
		if crsid == "" {
			continue
		}
		directory.Add(identifiers.Format(crsid, identifiers.CrsidScheme), models.Person{
			VisibleName: member.VisibleName,
			Forenames:   member.FirstName(),
			Surname:     member.Surname,
		})
	}
}
