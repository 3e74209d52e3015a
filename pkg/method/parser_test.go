package method_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dynafind/dynafind/pkg/errors"
	"github.com/dynafind/dynafind/pkg/method"
)

func TestParseKinds(t *testing.T) {
	tests := []struct {
		name string
		kind method.Kind
	}{
		{"FindByID", method.KindFind},
		{"GetByID", method.KindFind},
		{"ReadByID", method.KindFind},
		{"QueryByID", method.KindFind},
		{"SearchByID", method.KindFind},
		{"StreamByID", method.KindFind},
		{"CountByID", method.KindCount},
		{"ExistsByID", method.KindExists},
		{"DeleteByID", method.KindDelete},
		{"RemoveByID", method.KindDelete},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree, err := method.Parse(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, tree.Kind)
			require.Len(t, tree.Predicates, 1)
			assert.Equal(t, "ID", tree.Predicates[0].Text)
			assert.Equal(t, method.Equals, tree.Predicates[0].Operator)
		})
	}
}

func TestParseOperators(t *testing.T) {
	tests := []struct {
		name string
		text string
		op   method.Operator
	}{
		{"FindByAge", "Age", method.Equals},
		{"FindByAgeNot", "Age", method.NotEquals},
		{"FindByAgeGreaterThan", "Age", method.GreaterThan},
		{"FindByAgeGreaterThanEqual", "Age", method.GreaterThanEqual},
		{"FindByAgeLessThan", "Age", method.LessThan},
		{"FindByAgeLessThanEqual", "Age", method.LessThanEqual},
		{"FindByAgeBetween", "Age", method.Between},
		{"FindByStatusIn", "Status", method.In},
		{"FindByNameStartingWith", "Name", method.StartingWith},
		{"FindByNameStartsWith", "Name", method.StartingWith},
		{"FindByNameBeginsWith", "Name", method.StartingWith},
		{"FindByTagsContaining", "Tags", method.Containing},
		{"FindByTagsContains", "Tags", method.Containing},
		{"FindByTagsNotContaining", "Tags", method.NotContaining},
		{"FindByDateAfter", "Date", method.GreaterThan},
		{"FindByDateBefore", "Date", method.LessThan},
		{"FindByNoteIsNull", "Note", method.IsNull},
		{"FindByNoteIsNotNull", "Note", method.IsNotNull},
		{"FindByNoteNotNull", "Note", method.IsNotNull},
		{"FindByNoteExists", "Note", method.Exists},
		{"FindByNoteNotExists", "Note", method.NotExists},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree, err := method.Parse(tt.name)
			require.NoError(t, err)
			require.Len(t, tree.Predicates, 1)
			assert.Equal(t, tt.text, tree.Predicates[0].Text)
			assert.Equal(t, tt.op, tree.Predicates[0].Operator)
		})
	}
}

// GreaterThanEqual is longer than GreaterThan; the keyword table must match
// it first rather than leaving a dangling Equal suffix.
func TestParseLongestKeywordWins(t *testing.T) {
	tree, err := method.Parse("FindByScoreGreaterThanEqual")
	require.NoError(t, err)
	require.Len(t, tree.Predicates, 1)
	assert.Equal(t, "Score", tree.Predicates[0].Text)
	assert.Equal(t, method.GreaterThanEqual, tree.Predicates[0].Operator)

	tree, err = method.Parse("FindByNoteIsNotNull")
	require.NoError(t, err)
	assert.Equal(t, method.IsNotNull, tree.Predicates[0].Operator)
	assert.Equal(t, "Note", tree.Predicates[0].Text)
}

func TestParseAndSplitting(t *testing.T) {
	tree, err := method.Parse("FindByCustomerIDAndOrderDateBetween")
	require.NoError(t, err)
	require.Len(t, tree.Predicates, 2)
	assert.Equal(t, "CustomerID", tree.Predicates[0].Text)
	assert.Equal(t, method.Equals, tree.Predicates[0].Operator)
	assert.Equal(t, "OrderDate", tree.Predicates[1].Text)
	assert.Equal(t, method.Between, tree.Predicates[1].Operator)
}

// An And followed by a lowercase letter is part of a property name, not a
// clause separator.
func TestParseAndInsidePropertyName(t *testing.T) {
	tree, err := method.Parse("FindByBrandName")
	require.NoError(t, err)
	require.Len(t, tree.Predicates, 1)
	assert.Equal(t, "BrandName", tree.Predicates[0].Text)
}

func TestParseOrderBy(t *testing.T) {
	tree, err := method.Parse("FindByCustomerIDOrderByOrderDateDesc")
	require.NoError(t, err)
	require.NotNil(t, tree.Sort)
	assert.Equal(t, "OrderDate", tree.Sort.Text)
	assert.Equal(t, method.Descending, tree.Sort.Direction)

	tree, err = method.Parse("FindByCustomerIDOrderByOrderDateAsc")
	require.NoError(t, err)
	assert.Equal(t, method.Ascending, tree.Sort.Direction)

	// Direction defaults to ascending.
	tree, err = method.Parse("FindByCustomerIDOrderByOrderDate")
	require.NoError(t, err)
	assert.Equal(t, "OrderDate", tree.Sort.Text)
	assert.Equal(t, method.Ascending, tree.Sort.Direction)
}

func TestParseLimitMarkers(t *testing.T) {
	tree, err := method.Parse("FindTop10ByStatus")
	require.NoError(t, err)
	assert.Equal(t, 10, tree.Limit)
	require.Len(t, tree.Predicates, 1)
	assert.Equal(t, "Status", tree.Predicates[0].Text)

	tree, err = method.Parse("FindFirstByStatus")
	require.NoError(t, err)
	assert.Equal(t, 1, tree.Limit)

	tree, err = method.Parse("FindFirst5ByStatus")
	require.NoError(t, err)
	assert.Equal(t, 5, tree.Limit)

	// Top as the start of filler text is not a limit marker.
	tree, err = method.Parse("FindTopicsByStatus")
	require.NoError(t, err)
	assert.Equal(t, 0, tree.Limit)

	_, err = method.Parse("FindTop0ByStatus")
	assert.ErrorIs(t, err, errors.ErrInvalidMethodName)

	_, err = method.Parse("CountTop5ByStatus")
	assert.ErrorIs(t, err, errors.ErrInvalidMethodName)
}

func TestParseFillerBetweenPrefixAndBy(t *testing.T) {
	tree, err := method.Parse("FindAllByStatus")
	require.NoError(t, err)
	require.Len(t, tree.Predicates, 1)
	assert.Equal(t, "Status", tree.Predicates[0].Text)

	tree, err = method.Parse("FindOrdersByCustomerID")
	require.NoError(t, err)
	assert.Equal(t, "CustomerID", tree.Predicates[0].Text)
}

func TestParseIgnoreCaseFlag(t *testing.T) {
	tree, err := method.Parse("FindByNameIgnoreCase")
	require.NoError(t, err)
	require.Len(t, tree.Predicates, 1)
	assert.True(t, tree.Predicates[0].IgnoreCase)
	assert.Equal(t, "Name", tree.Predicates[0].Text)

	tree, err = method.Parse("FindByNameStartingWithIgnoreCase")
	require.NoError(t, err)
	assert.True(t, tree.Predicates[0].IgnoreCase)
	assert.Equal(t, method.StartingWith, tree.Predicates[0].Operator)
	assert.Equal(t, "Name", tree.Predicates[0].Text)
}

func TestParseLowercaseFirstRune(t *testing.T) {
	tree, err := method.Parse("findByName")
	require.NoError(t, err)
	assert.Equal(t, method.KindFind, tree.Kind)
	assert.Equal(t, "Name", tree.Predicates[0].Text)
}

func TestParseErrors(t *testing.T) {
	for _, name := range []string{
		"",
		"Fetch",     // unknown prefix
		"FetchByID", // unknown prefix
		"Find",      // no By
		"FindBy",    // empty clause
	} {
		t.Run(name, func(t *testing.T) {
			_, err := method.Parse(name)
			assert.ErrorIs(t, err, errors.ErrInvalidMethodName)
		})
	}
}

func TestArgumentCounts(t *testing.T) {
	tree, err := method.Parse("FindByCustomerIDAndOrderDateBetweenAndStatusIn")
	require.NoError(t, err)
	// EQUALS 1 + BETWEEN 2 + IN 1 collection.
	assert.Equal(t, 4, tree.ArgumentCount())
	assert.Equal(t, []int{0, 1, 3}, tree.ArgOffsets())

	tree, err = method.Parse("FindByNoteIsNull")
	require.NoError(t, err)
	assert.Equal(t, 0, tree.ArgumentCount())
}

// Same name, same tree: parsing is a pure function of the method name.
func TestParseIdempotent(t *testing.T) {
	a, err := method.Parse("FindTop3ByCustomerIDAndTotalGreaterThanOrderByTotalDesc")
	require.NoError(t, err)
	b, err := method.Parse("FindTop3ByCustomerIDAndTotalGreaterThanOrderByTotalDesc")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
