package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dynafind/dynafind/pkg/errors"
	"github.com/dynafind/dynafind/pkg/model"
)

type User struct {
	ID    string `dynafind:"pk"`
	Email string `dynafind:"index:gsi-email,attr:email_address"`
	Name  string
	Notes string `dynafind:"-"`
	age   int    // unexported fields are never mapped
}

type Order struct {
	CustomerID string  `dynafind:"pk,attr:customer_id"`
	OrderID    string  `dynafind:"sk"`
	OrderDate  string  `dynafind:"lsi:lsi-order-date"`
	Assignee   string  `dynafind:"index:gsi-assignee,pk"`
	Created    string  `dynafind:"index:gsi-assignee,sk"`
	Total      float64 `dynafind:"attr:amount"`
}

type PlaylistID struct {
	UserName     string `dynafind:"pk"`
	PlaylistName string `dynafind:"sk"`
}

type Playlist struct {
	ID    PlaylistID `dynafind:"id"`
	Genre string
}

type Invoice struct {
	Number string `dynafind:"pk"`
}

func (Invoice) TableName() string { return "billing-invoices" }

func register(t *testing.T, entity any) *model.Metadata {
	t.Helper()
	registry := model.NewRegistry()
	require.NoError(t, registry.Register(entity))
	meta, err := registry.GetMetadata(entity)
	require.NoError(t, err)
	return meta
}

func TestRegisterSimpleEntity(t *testing.T) {
	meta := register(t, &User{})

	assert.Equal(t, "Users", meta.TableName)
	require.NotNil(t, meta.PrimaryKey)
	assert.Equal(t, "ID", meta.PrimaryKey.PartitionKey.Name)
	assert.Equal(t, "id", meta.PrimaryKey.PartitionKey.DBName)
	assert.Nil(t, meta.PrimaryKey.SortKey)
	assert.Nil(t, meta.ID)

	// dynafind:"-" and unexported fields never become properties.
	_, err := meta.ResolveProperty("Notes")
	assert.ErrorIs(t, err, errors.ErrUnknownProperty)
	_, err = meta.ResolveProperty("age")
	assert.ErrorIs(t, err, errors.ErrUnknownProperty)
}

func TestRegisterCompositeKey(t *testing.T) {
	meta := register(t, &Order{})

	assert.Equal(t, "Orders", meta.TableName)
	assert.Equal(t, "customer_id", meta.PrimaryKey.PartitionKey.DBName)
	require.NotNil(t, meta.PrimaryKey.SortKey)
	assert.Equal(t, "orderID", meta.PrimaryKey.SortKey.DBName)

	amount, err := meta.ResolveProperty("Total")
	require.NoError(t, err)
	assert.Equal(t, "amount", amount.DBName)
}

func TestRegisterIndexes(t *testing.T) {
	meta := register(t, &Order{})
	require.Len(t, meta.Indexes, 2)

	lsi := meta.Indexes[0]
	assert.Equal(t, "lsi-order-date", lsi.Name)
	assert.Equal(t, model.LocalSecondaryIndex, lsi.Type)
	// LSIs share the table's partition key.
	assert.Equal(t, "customer_id", lsi.PartitionKey.DBName)
	assert.Equal(t, "orderDate", lsi.SortKey.DBName)

	gsi := meta.Indexes[1]
	assert.Equal(t, "gsi-assignee", gsi.Name)
	assert.Equal(t, model.GlobalSecondaryIndex, gsi.Type)
	assert.Equal(t, "assignee", gsi.PartitionKey.DBName)
	assert.Equal(t, "created", gsi.SortKey.DBName)
}

// A bare index tag makes the field the index partition key.
func TestRegisterBareIndexTag(t *testing.T) {
	meta := register(t, &User{})
	require.Len(t, meta.Indexes, 1)
	gsi := meta.Indexes[0]
	assert.Equal(t, "gsi-email", gsi.Name)
	assert.Equal(t, model.GlobalSecondaryIndex, gsi.Type)
	assert.Equal(t, "email_address", gsi.PartitionKey.DBName)
	assert.Nil(t, gsi.SortKey)
}

func TestRegisterCompositeID(t *testing.T) {
	meta := register(t, &Playlist{})

	require.NotNil(t, meta.ID)
	assert.Equal(t, "ID", meta.ID.Field.Name)
	assert.Equal(t, "userName", meta.ID.PartitionKey.DBName)
	assert.Equal(t, "playlistName", meta.ID.SortKey.DBName)

	// The wrapper's constituents double as the table's primary key.
	assert.Same(t, meta.ID.PartitionKey, meta.PrimaryKey.PartitionKey)
	assert.Same(t, meta.ID.SortKey, meta.PrimaryKey.SortKey)
}

func TestResolveProperty(t *testing.T) {
	meta := register(t, &Playlist{})

	wrapper, err := meta.ResolveProperty("ID")
	require.NoError(t, err)
	assert.True(t, wrapper.IsID)

	// Constituents resolve both dotted and concatenated.
	dotted, err := meta.ResolveProperty("ID.UserName")
	require.NoError(t, err)
	concat, err := meta.ResolveProperty("IDUserName")
	require.NoError(t, err)
	assert.Same(t, dotted, concat)

	_, err = meta.ResolveProperty("Rating")
	assert.ErrorIs(t, err, errors.ErrUnknownProperty)
	_, err = meta.ResolveProperty("")
	assert.ErrorIs(t, err, errors.ErrUnknownProperty)
}

func TestTableNamer(t *testing.T) {
	meta := register(t, &Invoice{})
	assert.Equal(t, "billing-invoices", meta.TableName)
}

func TestTableNamePluralization(t *testing.T) {
	type Status struct {
		ID string `dynafind:"pk"`
	}
	type Category struct {
		ID string `dynafind:"pk"`
	}
	assert.Equal(t, "Statuses", register(t, &Status{}).TableName)
	assert.Equal(t, "Categories", register(t, &Category{}).TableName)
}

func TestGetMetadataByTable(t *testing.T) {
	registry := model.NewRegistry()
	require.NoError(t, registry.Register(&Order{}))

	meta, err := registry.GetMetadataByTable("Orders")
	require.NoError(t, err)
	assert.Equal(t, "Orders", meta.TableName)

	_, err = registry.GetMetadataByTable("Nothing")
	assert.ErrorIs(t, err, errors.ErrModelNotRegistered)
}

func TestRegisterErrors(t *testing.T) {
	registry := model.NewRegistry()

	type NoKey struct {
		Name string
	}
	assert.ErrorIs(t, registry.Register(&NoKey{}), errors.ErrMissingPartitionKey)

	type TwoPartitionKeys struct {
		A string `dynafind:"pk"`
		B string `dynafind:"pk"`
	}
	assert.ErrorIs(t, registry.Register(&TwoPartitionKeys{}), errors.ErrDuplicateKey)

	type BadTag struct {
		A string `dynafind:"partition"`
	}
	assert.ErrorIs(t, registry.Register(&BadTag{}), errors.ErrInvalidTag)

	type MixedIndex struct {
		A string `dynafind:"pk"`
		B string `dynafind:"lsi:shared"`
		C string `dynafind:"index:shared,pk"`
	}
	assert.ErrorIs(t, registry.Register(&MixedIndex{}), errors.ErrDuplicateIndex)

	// A composite id needs both constituents tagged.
	type HalfID struct {
		OnlyPK string `dynafind:"pk"`
	}
	type BadWrapper struct {
		ID HalfID `dynafind:"id"`
	}
	assert.ErrorIs(t, registry.Register(&BadWrapper{}), errors.ErrInvalidModel)

	assert.ErrorIs(t, registry.Register(nil), errors.ErrInvalidModel)
	assert.ErrorIs(t, registry.Register("not a struct"), errors.ErrInvalidModel)

	_, err := registry.GetMetadata(&NoKey{})
	assert.ErrorIs(t, err, errors.ErrModelNotRegistered)
}

func TestRegisterIdempotent(t *testing.T) {
	registry := model.NewRegistry()
	require.NoError(t, registry.Register(&User{}))
	require.NoError(t, registry.Register(&User{}))

	first, err := registry.GetMetadata(&User{})
	require.NoError(t, err)
	second, err := registry.GetMetadata(User{})
	require.NoError(t, err)
	assert.Same(t, first, second)
}
