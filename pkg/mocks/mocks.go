// Package mocks provides testify mocks for the dynafind storage
// interfaces, for unit testing code that consumes repositories without a
// DynamoDB endpoint.
//
// Example usage:
//
//	ops := new(mocks.MockOperations)
//	ops.On("Load", mock.Anything, mock.Anything, mock.Anything).
//	    Run(func(args mock.Arguments) {
//	        dest := args.Get(2).(*Order)
//	        *dest = Order{CustomerID: "c-1"}
//	    }).
//	    Return(true, nil)
//
// Query and Scan return a core.Pages; PagesOf builds one from canned
// pages:
//
//	ops.On("Query", mock.Anything, mock.Anything).
//	    Return(mocks.PagesOf([]Order{{CustomerID: "c-1"}}))
package mocks

import (
	"context"
	"reflect"

	"github.com/stretchr/testify/mock"

	"github.com/dynafind/dynafind/pkg/core"
)

// MockOperations is a testify mock of core.Operations.
type MockOperations struct {
	mock.Mock
}

// Load mocks the single-item load.
func (m *MockOperations) Load(ctx context.Context, req *core.LoadRequest, dest any) (bool, error) {
	args := m.Called(ctx, req, dest)
	return args.Bool(0), args.Error(1)
}

// Query mocks the paginated query entry point.
func (m *MockOperations) Query(ctx context.Context, req *core.Request) core.Pages {
	args := m.Called(ctx, req)
	return args.Get(0).(core.Pages)
}

// Scan mocks the paginated scan entry point.
func (m *MockOperations) Scan(ctx context.Context, req *core.Request) core.Pages {
	args := m.Called(ctx, req)
	return args.Get(0).(core.Pages)
}

// Count mocks the server-side count.
func (m *MockOperations) Count(ctx context.Context, req *core.Request) (int64, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(int64), args.Error(1)
}

// Put mocks the entity write.
func (m *MockOperations) Put(ctx context.Context, req *core.PutRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

// DeleteKey mocks the single-item delete.
func (m *MockOperations) DeleteKey(ctx context.Context, req *core.LoadRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

// MockPages is a testify mock of core.Pages, for tests that assert on the
// page-by-page consumption itself.
type MockPages struct {
	mock.Mock
}

// Next mocks one page fetch.
func (m *MockPages) Next(ctx context.Context, dest any) (bool, error) {
	args := m.Called(ctx, dest)
	return args.Bool(0), args.Error(1)
}

// PagesOf builds a core.Pages over canned pages. Each argument is one page:
// a slice assignable to the destination slice the consumer drains into.
func PagesOf(pages ...any) core.Pages {
	return &cannedPages{pages: pages}
}

type cannedPages struct {
	pages []any
	at    int
}

func (c *cannedPages) Next(ctx context.Context, dest any) (bool, error) {
	if c.at >= len(c.pages) {
		return false, nil
	}
	page := reflect.ValueOf(c.pages[c.at])
	c.at++
	reflect.ValueOf(dest).Elem().Set(page)
	return true, nil
}

// Helper type aliases for convenience
type (
	// Operations is an alias for MockOperations to allow shorter declarations
	Operations = MockOperations

	// Pages is an alias for MockPages to allow shorter declarations
	Pages = MockPages
)
