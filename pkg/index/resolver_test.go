package index_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dynafind/dynafind/pkg/errors"
	"github.com/dynafind/dynafind/pkg/index"
	"github.com/dynafind/dynafind/pkg/method"
	"github.com/dynafind/dynafind/pkg/model"
)

// Test entities covering every key layout the resolver distinguishes.

type User struct {
	ID   string `dynafind:"pk"`
	Name string
}

type Order struct {
	CustomerID  string    `dynafind:"pk"`
	OrderID     string    `dynafind:"sk"`
	OrderDate   time.Time `dynafind:"lsi:lsi-order-date"`
	Status      string    `dynafind:"lsi:lsi-status"`
	TotalAmount float64   `dynafind:"lsi:lsi-total"`
}

type PlaylistID struct {
	UserName     string `dynafind:"pk"`
	PlaylistName string `dynafind:"sk"`
}

type Playlist struct {
	ID    PlaylistID `dynafind:"id"`
	Genre string
}

// Account has a simple primary key plus a global index on a second
// property, so a tree binding both exercises the rule order between the
// global index rule and the hash-only primary fallback.
type Account struct {
	TenantID string `dynafind:"pk"`
	Email    string `dynafind:"index:gsi-email,pk"`
	Name     string
}

// Assignee participates in two global indexes: one hash-only and one with
// Created as its range key.
type Ticket struct {
	ID       string `dynafind:"pk"`
	Assignee string `dynafind:"index:gsi-assignee-only,pk,index:gsi-assignee-created,pk"`
	Created  string `dynafind:"index:gsi-assignee-created,sk"`
	Priority int
}

func metadataFor(t *testing.T, entity any) *model.Metadata {
	t.Helper()
	registry := model.NewRegistry()
	require.NoError(t, registry.Register(entity))
	meta, err := registry.GetMetadata(entity)
	require.NoError(t, err)
	return meta
}

func resolve(t *testing.T, entity any, name string, flags index.Flags) (*index.Path, error) {
	t.Helper()
	tree, err := method.Parse(name)
	require.NoError(t, err)
	return index.Resolve(tree, metadataFor(t, entity), flags)
}

func TestResolveDirectLoadSimpleKey(t *testing.T) {
	path, err := resolve(t, &User{}, "FindByID", index.Flags{})
	require.NoError(t, err)
	assert.Equal(t, index.DirectLoad, path.Kind)
	assert.Empty(t, path.IndexName)
	require.Len(t, path.KeyConditions, 1)
	assert.Empty(t, path.Filters)
}

func TestResolveDirectLoadCompositeKey(t *testing.T) {
	path, err := resolve(t, &Order{}, "FindByCustomerIDAndOrderID", index.Flags{})
	require.NoError(t, err)
	assert.Equal(t, index.DirectLoad, path.Kind)
	require.Len(t, path.KeyConditions, 2)
	assert.Empty(t, path.Filters)
}

// The two key values of a composite id resolve to the same direct load
// whether bound as separate constituents or as one wrapper argument.
func TestResolveDirectLoadCompositeID(t *testing.T) {
	path, err := resolve(t, &Playlist{}, "FindByIDUserNameAndIDPlaylistName", index.Flags{})
	require.NoError(t, err)
	assert.Equal(t, index.DirectLoad, path.Kind)
	require.Len(t, path.KeyConditions, 2)

	path, err = resolve(t, &Playlist{}, "FindByID", index.Flags{})
	require.NoError(t, err)
	assert.Equal(t, index.DirectLoad, path.Kind)
	require.Len(t, path.KeyConditions, 1)
	assert.True(t, path.KeyConditions[0].Field.IsID)
}

// A composite-id EQUALS with extra predicates still pins both key
// conditions; the rest becomes a filter.
func TestResolveCompositeIDWithResidualFilter(t *testing.T) {
	path, err := resolve(t, &Playlist{}, "FindByIDAndGenre", index.Flags{})
	require.NoError(t, err)
	assert.Equal(t, index.PrimarySortQuery, path.Kind)
	require.Len(t, path.KeyConditions, 1)
	require.Len(t, path.Filters, 1)
	assert.Equal(t, "Genre", path.Filters[0].Field.Name)
}

func TestResolvePrimarySortQuery(t *testing.T) {
	path, err := resolve(t, &Order{}, "FindByCustomerIDAndOrderIDGreaterThan", index.Flags{})
	require.NoError(t, err)
	assert.Equal(t, index.PrimarySortQuery, path.Kind)
	assert.Empty(t, path.IndexName)
	require.Len(t, path.KeyConditions, 2)
	assert.Equal(t, method.GreaterThan, path.KeyConditions[1].Operator)
	assert.Empty(t, path.Filters)
}

// Every predicate lands in exactly one bucket: the two key predicates stay
// key conditions, the extra one becomes a residual filter.
func TestResolveResidualFilterAccounting(t *testing.T) {
	path, err := resolve(t, &Order{}, "FindByCustomerIDAndOrderIDAndStatus", index.Flags{})
	require.NoError(t, err)
	assert.Equal(t, index.PrimarySortQuery, path.Kind)
	require.Len(t, path.KeyConditions, 2)
	require.Len(t, path.Filters, 1)
	assert.Equal(t, "Status", path.Filters[0].Field.Name)
}

func TestResolveHashOnlyPrimaryQuery(t *testing.T) {
	path, err := resolve(t, &Order{}, "FindByCustomerID", index.Flags{})
	require.NoError(t, err)
	assert.Equal(t, index.PrimarySortQuery, path.Kind)
	require.Len(t, path.KeyConditions, 1)
	assert.Empty(t, path.Filters)
}

// The round-trip property: partition key EQUALS plus BETWEEN on an LSI
// range key resolves to a local index query with both as key conditions and
// nothing left over.
func TestResolveLocalIndexQuery(t *testing.T) {
	path, err := resolve(t, &Order{}, "FindByCustomerIDAndOrderDateBetween", index.Flags{})
	require.NoError(t, err)
	assert.Equal(t, index.LocalIndexQuery, path.Kind)
	assert.Equal(t, "lsi-order-date", path.IndexName)
	require.Len(t, path.KeyConditions, 2)
	assert.Equal(t, method.Between, path.KeyConditions[1].Operator)
	assert.Empty(t, path.Filters)
}

// OrderDate is an LSI range key, not the table's sort key, so the primary
// sort rule must not claim it.
func TestResolveLocalIndexBeatsPrimarySortMismatch(t *testing.T) {
	path, err := resolve(t, &Order{}, "FindByCustomerIDAndStatusStartingWith", index.Flags{ScanEnabled: true})
	require.NoError(t, err)
	// STARTING_WITH is not key-capable; it stays a filter on the hash-only
	// primary query rather than promoting an index.
	assert.Equal(t, index.PrimarySortQuery, path.Kind)
	require.Len(t, path.Filters, 1)
}

// Full primary key under EQUALS wins over any index rule.
func TestResolveDirectLoadBeatsLocalIndex(t *testing.T) {
	path, err := resolve(t, &Order{}, "FindByCustomerIDAndOrderID", index.Flags{})
	require.NoError(t, err)
	assert.Equal(t, index.DirectLoad, path.Kind)
}

// An OrderBy naming an LSI range key selects that index even without a
// predicate on it.
func TestResolveLocalIndexFromOrderBy(t *testing.T) {
	path, err := resolve(t, &Order{}, "FindByCustomerIDOrderByOrderDateDesc", index.Flags{})
	require.NoError(t, err)
	assert.Equal(t, index.LocalIndexQuery, path.Kind)
	assert.Equal(t, "lsi-order-date", path.IndexName)
	assert.True(t, path.Descending)
	require.Len(t, path.KeyConditions, 1)
}

// OrderBy targeting several declared LSIs picks the matching one, not the
// first declared.
func TestResolveLocalIndexOrderByPicksMatchingIndex(t *testing.T) {
	path, err := resolve(t, &Order{}, "FindByCustomerIDOrderByTotalAmountDesc", index.Flags{})
	require.NoError(t, err)
	assert.Equal(t, index.LocalIndexQuery, path.Kind)
	assert.Equal(t, "lsi-total", path.IndexName)
}

func TestResolveGlobalIndexFullKeyBeatsHashOnly(t *testing.T) {
	path, err := resolve(t, &Ticket{}, "FindByAssigneeAndCreatedGreaterThan", index.Flags{})
	require.NoError(t, err)
	assert.Equal(t, index.GlobalIndexQuery, path.Kind)
	assert.Equal(t, "gsi-assignee-created", path.IndexName)
	require.Len(t, path.KeyConditions, 2)
	assert.Empty(t, path.Filters)
}

// With only the hash key bound, the first declared matching index wins.
func TestResolveGlobalIndexDeclarationOrderTieBreak(t *testing.T) {
	path, err := resolve(t, &Ticket{}, "FindByAssignee", index.Flags{})
	require.NoError(t, err)
	assert.Equal(t, index.GlobalIndexQuery, path.Kind)
	assert.Equal(t, "gsi-assignee-only", path.IndexName)
	require.Len(t, path.KeyConditions, 1)
}

// OrderBy on a candidate index's range key promotes that index over the
// declaration-order tie-break.
func TestResolveGlobalIndexOrderByPromotesIndex(t *testing.T) {
	path, err := resolve(t, &Ticket{}, "FindByAssigneeOrderByCreatedDesc", index.Flags{})
	require.NoError(t, err)
	assert.Equal(t, index.GlobalIndexQuery, path.Kind)
	assert.Equal(t, "gsi-assignee-created", path.IndexName)
	assert.True(t, path.Descending)
}

// A GSI path always beats the scan fallback, whatever the flags say.
func TestResolveGlobalIndexBeatsScan(t *testing.T) {
	path, err := resolve(t, &Ticket{}, "FindByAssignee", index.Flags{ScanEnabled: true})
	require.NoError(t, err)
	assert.Equal(t, index.GlobalIndexQuery, path.Kind)
}

func TestResolveGlobalIndexResidualFilter(t *testing.T) {
	path, err := resolve(t, &Ticket{}, "FindByAssigneeAndPriority", index.Flags{})
	require.NoError(t, err)
	assert.Equal(t, index.GlobalIndexQuery, path.Kind)
	require.Len(t, path.KeyConditions, 1)
	require.Len(t, path.Filters, 1)
	assert.Equal(t, "Priority", path.Filters[0].Field.Name)
}

// When a predicate can serve as a global index key condition, the index
// query wins over querying the bound partition and filtering inside it.
func TestResolveGlobalIndexBeatsHashOnlyPrimary(t *testing.T) {
	path, err := resolve(t, &Account{}, "FindByTenantIDAndEmail", index.Flags{})
	require.NoError(t, err)
	assert.Equal(t, index.GlobalIndexQuery, path.Kind)
	assert.Equal(t, "gsi-email", path.IndexName)
	require.Len(t, path.KeyConditions, 1)
	assert.Equal(t, "Email", path.KeyConditions[0].Field.Name)
	require.Len(t, path.Filters, 1)
	assert.Equal(t, "TenantID", path.Filters[0].Field.Name)
}

// A bound partition key with unindexed leftover predicates queries that
// one partition with filters; the scan opt-in is not required.
func TestResolveHashOnlyPrimaryUnindexedFilter(t *testing.T) {
	path, err := resolve(t, &Account{}, "FindByTenantIDAndName", index.Flags{})
	require.NoError(t, err)
	assert.Equal(t, index.PrimarySortQuery, path.Kind)
	assert.Empty(t, path.IndexName)
	require.Len(t, path.KeyConditions, 1)
	assert.Equal(t, "TenantID", path.KeyConditions[0].Field.Name)
	require.Len(t, path.Filters, 1)
	assert.Equal(t, "Name", path.Filters[0].Field.Name)
}

func TestResolveHashKeyOperatorRejected(t *testing.T) {
	_, err := resolve(t, &Ticket{}, "FindByAssigneeGreaterThan", index.Flags{ScanEnabled: true})
	assert.ErrorIs(t, err, errors.ErrHashKeyOperator)
}

func TestResolveConsistentReadOnGlobalIndexRejected(t *testing.T) {
	_, err := resolve(t, &Ticket{}, "FindByAssignee", index.Flags{ConsistentRead: true})
	assert.ErrorIs(t, err, errors.ErrConsistentReadOnIndex)
}

func TestResolveOrderByOffKeyRejected(t *testing.T) {
	// Primary sort path with OrderBy on a non-key property.
	_, err := resolve(t, &Order{}, "FindByCustomerIDAndOrderIDGreaterThanOrderByTotalAmount", index.Flags{})
	assert.ErrorIs(t, err, errors.ErrUnsupportedOrderBy)

	// Scan never supports ordering.
	_, err = resolve(t, &User{}, "FindByNameOrderByNameDesc", index.Flags{ScanEnabled: true})
	assert.ErrorIs(t, err, errors.ErrUnsupportedOrderBy)
}

func TestResolveScanGate(t *testing.T) {
	_, err := resolve(t, &User{}, "FindByName", index.Flags{})
	assert.ErrorIs(t, err, errors.ErrScanNotEnabled)

	path, err := resolve(t, &User{}, "FindByName", index.Flags{ScanEnabled: true})
	require.NoError(t, err)
	assert.Equal(t, index.Scan, path.Kind)
	assert.Empty(t, path.KeyConditions)
	require.Len(t, path.Filters, 1)
	assert.Equal(t, "Name", path.Filters[0].Field.Name)
}

// Scan-based counting is a separate opt-in with its own error.
func TestResolveScanCountGate(t *testing.T) {
	_, err := resolve(t, &Playlist{}, "CountByGenre", index.Flags{})
	assert.ErrorIs(t, err, errors.ErrScanCountNotEnabled)
	assert.NotErrorIs(t, err, errors.ErrScanNotEnabled)

	// Enabling plain scan is not enough for counts.
	_, err = resolve(t, &Playlist{}, "CountByGenre", index.Flags{ScanEnabled: true})
	assert.ErrorIs(t, err, errors.ErrScanCountNotEnabled)

	path, err := resolve(t, &Playlist{}, "CountByGenre", index.Flags{ScanCountEnabled: true})
	require.NoError(t, err)
	assert.Equal(t, index.Scan, path.Kind)
}

func TestResolveUnknownProperty(t *testing.T) {
	_, err := resolve(t, &User{}, "FindByEmail", index.Flags{})
	assert.ErrorIs(t, err, errors.ErrUnknownProperty)
}

func TestResolveIgnoreCaseRejected(t *testing.T) {
	_, err := resolve(t, &User{}, "FindByNameIgnoreCase", index.Flags{ScanEnabled: true})
	assert.ErrorIs(t, err, errors.ErrUnsupportedOperator)
}

// A property that merely ends like an operator keyword resolves as EQUALS
// on the full segment.
func TestResolvePropertyEndingLikeKeyword(t *testing.T) {
	type Doc struct {
		ID    string `dynafind:"pk"`
		Notes string
	}
	path, err := resolve(t, &Doc{}, "FindByNotes", index.Flags{ScanEnabled: true})
	require.NoError(t, err)
	assert.Equal(t, index.Scan, path.Kind)
	require.Len(t, path.Filters, 1)
	assert.Equal(t, "Notes", path.Filters[0].Field.Name)
	assert.Equal(t, method.Equals, path.Filters[0].Operator)
}

// Identical inputs yield identical paths; no map iteration leaks into the
// decision.
func TestResolveDeterministic(t *testing.T) {
	meta := metadataFor(t, &Ticket{})
	tree, err := method.Parse("FindByAssigneeAndCreatedGreaterThanAndPriority")
	require.NoError(t, err)

	first, err := index.Resolve(tree, meta, index.Flags{})
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		again, err := index.Resolve(tree, meta, index.Flags{})
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}
