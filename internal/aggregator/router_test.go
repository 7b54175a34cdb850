package aggregator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"card-exporter/internal/identifiers"
	"card-exporter/internal/models"
	"card-exporter/internal/upstream"
)

// MockCardAPI is a mock implementation of CardAPI. The first expectation
// value is the card list fed through the callback.
type MockCardAPI struct {
	mock.Mock
}

func (m *MockCardAPI) CardsForIdentifiers(ctx context.Context, ids []string, fn func(upstream.Card) error) error {
	args := m.Called(ctx, ids)
	if cards, ok := args.Get(0).([]upstream.Card); ok {
		for _, card := range cards {
			if err := fn(card); err != nil {
				return err
			}
		}
	}
	return args.Error(1)
}

// MockLookupAPI is a mock implementation of LookupAPI
type MockLookupAPI struct {
	mock.Mock
}

func (m *MockLookupAPI) InstitutionMembers(ctx context.Context, instID string) ([]upstream.LookupPerson, error) {
	args := m.Called(ctx, instID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]upstream.LookupPerson), args.Error(1)
}

func (m *MockLookupAPI) GroupMembers(ctx context.Context, groupID string) ([]upstream.LookupPerson, error) {
	args := m.Called(ctx, groupID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]upstream.LookupPerson), args.Error(1)
}

func (m *MockLookupAPI) Search(ctx context.Context, query string) ([]upstream.LookupPerson, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]upstream.LookupPerson), args.Error(1)
}

func (m *MockLookupAPI) ListPeople(ctx context.Context, crsids []string) ([]upstream.LookupPerson, error) {
	args := m.Called(ctx, crsids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]upstream.LookupPerson), args.Error(1)
}

// MockStudentAPI is a mock implementation of StudentAPI
type MockStudentAPI struct {
	mock.Mock
}

func (m *MockStudentAPI) StudentsByAffiliation(ctx context.Context, collection, affiliationValue, affiliationScheme string) ([]upstream.Student, error) {
	args := m.Called(ctx, collection, affiliationValue, affiliationScheme)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]upstream.Student), args.Error(1)
}

// MockHRAPI is a mock implementation of HRAPI
type MockHRAPI struct {
	mock.Mock
}

func (m *MockHRAPI) StaffByInstitution(ctx context.Context, instID string) ([]upstream.StaffMember, error) {
	args := m.Called(ctx, instID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]upstream.StaffMember), args.Error(1)
}

// MockLegacyAPI is a mock implementation of LegacyAPI
type MockLegacyAPI struct {
	mock.Mock
}

func (m *MockLegacyAPI) CardholdersByOrganisation(ctx context.Context, orgIDs []string) ([]upstream.LegacyCardholder, error) {
	args := m.Called(ctx, orgIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]upstream.LegacyCardholder), args.Error(1)
}

type routerMocks struct {
	cards    *MockCardAPI
	lookup   *MockLookupAPI
	students *MockStudentAPI
	hr       *MockHRAPI
	legacy   *MockLegacyAPI
}

func setupRouter() (*Router, *routerMocks) {
	mocks := &routerMocks{
		cards:    new(MockCardAPI),
		lookup:   new(MockLookupAPI),
		students: new(MockStudentAPI),
		hr:       new(MockHRAPI),
		legacy:   new(MockLegacyAPI),
	}
	router := NewRouter(mocks.cards, mocks.lookup, mocks.students, mocks.hr, mocks.legacy, zap.NewNop())
	return router, mocks
}

func crsidCard(id, crsid string) upstream.Card {
	return upstream.Card{
		ID:       id,
		Status:   models.StatusIssued,
		CardType: models.CardTypePersonal,
		Identifiers: []upstream.CardIdentifier{
			{Scheme: identifiers.CrsidScheme, Value: crsid},
		},
	}
}

func TestFetch_ScenarioA_LookupInstitution(t *testing.T) {
	router, mocks := setupRouter()

	// Prepare test data
	members := []upstream.LookupPerson{
		{
			VisibleName: "W. Gates",
			Surname:     "Gates",
			Identifiers: []upstream.LookupIdentifier{{Scheme: "crsid", Value: "wgd23"}},
			Attributes:  []upstream.LookupAttribute{{Scheme: "firstName", Value: "William"}},
		},
		// Members without a crsid cannot hold cards and are skipped.
		{VisibleName: "A. Nonymous"},
	}
	wantIDs := []string{identifiers.Format("wgd23", identifiers.CrsidScheme)}
	cards := []upstream.Card{
		crsidCard("card-1", "wgd23"),
		// A card the directory cannot place keeps a nil person.
		{ID: "card-2", Status: models.StatusIssued, CardType: models.CardTypePersonal},
	}

	// Setup mock expectations
	mocks.lookup.On("InstitutionMembers", mock.Anything, "UIS").Return(members, nil)
	mocks.cards.On("CardsForIdentifiers", mock.Anything, wantIDs).Return(cards, nil)

	// Execute test
	records, err := router.Fetch(context.Background(), 0, models.QuerySpec{
		By: models.SourceLookupInstitution,
		ID: "UIS",
	})

	// Verify results
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "card-1", records[0].Card.ID)
	require.NotNil(t, records[0].Person)
	assert.Equal(t, "W. Gates", records[0].Person.VisibleName)
	assert.Equal(t, "William", records[0].Person.Forenames)
	assert.Equal(t, "Gates", records[0].Person.Surname)
	assert.Nil(t, records[1].Person)

	mocks.lookup.AssertExpectations(t)
	mocks.cards.AssertExpectations(t)
}

func TestFetch_ScenarioB_LookupGroupWithMultipleIDs(t *testing.T) {
	router, mocks := setupRouter()

	// Prepare test data
	groupA := []upstream.LookupPerson{
		{Surname: "Gates", Identifiers: []upstream.LookupIdentifier{{Scheme: "crsid", Value: "wgd23"}}},
	}
	groupB := []upstream.LookupPerson{
		// Already seen in group A; keeps its position, takes the new info.
		{Surname: "Gates-Updated", Identifiers: []upstream.LookupIdentifier{{Scheme: "crsid", Value: "wgd23"}}},
		{Surname: "Lovelace", Identifiers: []upstream.LookupIdentifier{{Scheme: "crsid", Value: "al100"}}},
	}
	wantIDs := []string{
		identifiers.Format("wgd23", identifiers.CrsidScheme),
		identifiers.Format("al100", identifiers.CrsidScheme),
	}

	// Setup mock expectations
	mocks.lookup.On("GroupMembers", mock.Anything, "101324").Return(groupA, nil)
	mocks.lookup.On("GroupMembers", mock.Anything, "101888").Return(groupB, nil)
	mocks.cards.On("CardsForIdentifiers", mock.Anything, wantIDs).
		Return([]upstream.Card{crsidCard("card-1", "wgd23")}, nil)

	// Execute test
	records, err := router.Fetch(context.Background(), 0, models.QuerySpec{
		By:  models.SourceLookupGroup,
		IDs: []string{"101324", "101888"},
	})

	// Verify results
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.NotNil(t, records[0].Person)
	assert.Equal(t, "Gates-Updated", records[0].Person.Surname)

	mocks.lookup.AssertExpectations(t)
	mocks.cards.AssertExpectations(t)
}

func TestFetch_ScenarioC_LQLQueriesArePrefixed(t *testing.T) {
	router, mocks := setupRouter()

	// Setup mock expectations
	mocks.lookup.On("Search", mock.Anything, "person:in inst (UIS)").
		Return([]upstream.LookupPerson{}, nil)
	mocks.cards.On("CardsForIdentifiers", mock.Anything, []string(nil)).
		Return([]upstream.Card{}, nil)

	// Execute test
	_, err := router.Fetch(context.Background(), 0, models.QuerySpec{
		By:       models.SourceLQL,
		LQLQuery: "in inst (UIS)",
	})

	// Verify results
	require.NoError(t, err)
	mocks.lookup.AssertExpectations(t)
}

func TestFetch_ScenarioD_CrsidList(t *testing.T) {
	router, mocks := setupRouter()

	// Prepare test data
	people := []upstream.LookupPerson{
		{Surname: "Gates", Identifiers: []upstream.LookupIdentifier{{Scheme: "crsid", Value: "wgd23"}}},
	}
	wantIDs := []string{identifiers.Format("wgd23", identifiers.CrsidScheme)}

	// Setup mock expectations
	mocks.lookup.On("ListPeople", mock.Anything, []string{"wgd23", "al100"}).Return(people, nil)
	mocks.cards.On("CardsForIdentifiers", mock.Anything, wantIDs).
		Return([]upstream.Card{crsidCard("card-1", "WGD23")}, nil)

	// Execute test
	records, err := router.Fetch(context.Background(), 0, models.QuerySpec{
		By:  models.SourceCrsid,
		IDs: []string{"wgd23", "al100"},
	})

	// Verify results: the join is case insensitive.
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.NotNil(t, records[0].Person)
	assert.Equal(t, "Gates", records[0].Person.Surname)
}

func TestFetch_ScenarioE_StudentInstitutionWithStatusFilter(t *testing.T) {
	router, mocks := setupRouter()

	// Prepare test data
	students := []upstream.Student{
		{USN: "300001", AffiliationStatus: "current", Surname: "Lovelace"},
		{USN: "300002", AffiliationStatus: "dormant", Surname: "Hopper"},
	}
	wantIDs := []string{identifiers.Format("300001", identifiers.USNScheme)}
	card := upstream.Card{
		ID:       "card-1",
		Status:   models.StatusIssued,
		CardType: models.CardTypePersonal,
		Identifiers: []upstream.CardIdentifier{
			{Scheme: identifiers.USNScheme, Value: "300001"},
		},
	}

	// Setup mock expectations
	mocks.students.On("StudentsByAffiliation",
		mock.Anything, upstream.CollectionStudents, "UIS", identifiers.StudentInstitutionScheme).
		Return(students, nil)
	mocks.cards.On("CardsForIdentifiers", mock.Anything, wantIDs).
		Return([]upstream.Card{card}, nil)

	// Execute test
	records, err := router.Fetch(context.Background(), 0, models.QuerySpec{
		By:                models.SourceStudentInstitution,
		ID:                "UIS",
		AffiliationStatus: "current",
	})

	// Verify results
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.NotNil(t, records[0].Person)
	assert.Equal(t, "current", records[0].Person.AffiliationStatus)
	assert.Equal(t, "Lovelace", records[0].Person.Surname)

	mocks.students.AssertExpectations(t)
	mocks.cards.AssertExpectations(t)
}

func TestFetch_ScenarioF_RecentGraduatesByAcademicPlan(t *testing.T) {
	router, mocks := setupRouter()

	// Setup mock expectations
	mocks.students.On("StudentsByAffiliation",
		mock.Anything, upstream.CollectionRecentGraduates, "HIST-PLAN", identifiers.StudentAcademicPlanScheme).
		Return([]upstream.Student{}, nil)
	mocks.cards.On("CardsForIdentifiers", mock.Anything, []string(nil)).
		Return([]upstream.Card{}, nil)

	// Execute test
	_, err := router.Fetch(context.Background(), 0, models.QuerySpec{
		By: models.SourceRecentGraduateAcademicPlan,
		ID: "HIST-PLAN",
	})

	// Verify results
	require.NoError(t, err)
	mocks.students.AssertExpectations(t)
}

func TestFetch_ScenarioG_HRInstitution(t *testing.T) {
	router, mocks := setupRouter()

	// Prepare test data
	staff := []upstream.StaffMember{
		{StaffNumber: "40000123", AffiliationStatus: "Academic", Surname: "Hopper"},
		{StaffNumber: "40000456", AffiliationStatus: "Professional", Surname: "Clarke"},
	}
	wantIDs := []string{
		identifiers.Format("40000123", identifiers.StaffNumberScheme),
		identifiers.Format("40000456", identifiers.StaffNumberScheme),
	}

	// Setup mock expectations
	mocks.hr.On("StaffByInstitution", mock.Anything, "D23").Return(staff, nil)
	mocks.cards.On("CardsForIdentifiers", mock.Anything, wantIDs).
		Return([]upstream.Card{}, nil)

	// Execute test
	_, err := router.Fetch(context.Background(), 0, models.QuerySpec{
		By: models.SourceUniversityHRInstitution,
		ID: "D23",
	})

	// Verify results
	require.NoError(t, err)
	mocks.hr.AssertExpectations(t)
	mocks.cards.AssertExpectations(t)
}

func TestFetch_ScenarioH_LegacyOrganisation(t *testing.T) {
	router, mocks := setupRouter()

	// Prepare test data
	cardholders := []upstream.LegacyCardholder{
		{CamUID: "1000", DisplayName: "W. Gates", OrgID: "ORG1"},
	}
	wantIDs := []string{identifiers.Format("1000", identifiers.LegacyCardholderScheme)}
	card := upstream.Card{
		ID:       "card-1",
		Status:   models.StatusIssued,
		CardType: models.CardTypePersonal,
		Identifiers: []upstream.CardIdentifier{
			{Scheme: identifiers.LegacyCardholderScheme, Value: "1000"},
		},
	}

	// Setup mock expectations
	mocks.legacy.On("CardholdersByOrganisation", mock.Anything, []string{"ORG1"}).
		Return(cardholders, nil)
	mocks.cards.On("CardsForIdentifiers", mock.Anything, wantIDs).
		Return([]upstream.Card{card}, nil)

	// Execute test
	records, err := router.Fetch(context.Background(), 0, models.QuerySpec{
		By: models.SourceLegacyOrganisation,
		ID: "ORG1",
	})

	// Verify results
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.NotNil(t, records[0].Person)
	assert.Equal(t, "W. Gates", records[0].Person.VisibleName)
}

func TestFetch_ScenarioI_DirectIdentifiers(t *testing.T) {
	router, mocks := setupRouter()

	// Prepare test data
	wantIDs := []string{identifiers.Format("VB1231", identifiers.BarcodeScheme)}
	card := upstream.Card{
		ID:       "card-1",
		Status:   models.StatusIssued,
		CardType: models.CardTypePersonal,
		Identifiers: []upstream.CardIdentifier{
			{Scheme: identifiers.BarcodeScheme, Value: "VB1231"},
		},
	}

	// Setup mock expectations
	mocks.cards.On("CardsForIdentifiers", mock.Anything, wantIDs).
		Return([]upstream.Card{card}, nil)

	// Execute test
	records, err := router.Fetch(context.Background(), 0, models.QuerySpec{
		By: models.SourceKind("barcode"),
		ID: "VB1231",
	})

	// Verify results: no directory is involved, so the person carries no
	// name information.
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.NotNil(t, records[0].Person)
	assert.Equal(t, models.Person{}, *records[0].Person)

	mocks.cards.AssertExpectations(t)
}

func TestFetch_Error_InvalidQuery(t *testing.T) {
	router, _ := setupRouter()

	_, err := router.Fetch(context.Background(), 3, models.QuerySpec{
		By: models.SourceKind("students"),
		ID: "UIS",
	})

	var configErr *models.ConfigError
	require.ErrorAs(t, err, &configErr)
	assert.Equal(t, 3, configErr.Query)
}

func TestFetch_Error_DirectoryFailure(t *testing.T) {
	router, mocks := setupRouter()

	// Setup mock expectations
	mocks.lookup.On("InstitutionMembers", mock.Anything, "UIS").
		Return(nil, errors.New("lookup unavailable"))

	// Execute test
	_, err := router.Fetch(context.Background(), 2, models.QuerySpec{
		By: models.SourceLookupInstitution,
		ID: "UIS",
	})

	// Verify results
	var fetchErr *models.FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, 2, fetchErr.Query)
	assert.Equal(t, "lookup_institution", fetchErr.Source)
	assert.Contains(t, err.Error(), "lookup unavailable")
}

func TestFetch_Error_CardAPIFailure(t *testing.T) {
	router, mocks := setupRouter()

	// Setup mock expectations
	mocks.lookup.On("ListPeople", mock.Anything, []string{"wgd23"}).
		Return([]upstream.LookupPerson{}, nil)
	mocks.cards.On("CardsForIdentifiers", mock.Anything, []string(nil)).
		Return(nil, errors.New("card api down"))

	// Execute test
	_, err := router.Fetch(context.Background(), 0, models.QuerySpec{
		By:  models.SourceCrsid,
		IDs: []string{"wgd23"},
	})

	// Verify results
	var fetchErr *models.FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, "crsid", fetchErr.Source)
}

func TestPersonDirectory_RepeatedIdentifierKeepsPosition(t *testing.T) {
	directory := NewPersonDirectory()

	directory.Add("wgd23@crsid", models.Person{Surname: "Gates"})
	directory.Add("al100@crsid", models.Person{Surname: "Lovelace"})
	directory.Add("wgd23@crsid", models.Person{Surname: "Gates-Updated"})

	assert.Equal(t, []string{"wgd23@crsid", "al100@crsid"}, directory.Identifiers())
	assert.Equal(t, 2, directory.Len())

	person, ok := directory.Get("wgd23@crsid")
	require.True(t, ok)
	assert.Equal(t, "Gates-Updated", person.Surname)
}
