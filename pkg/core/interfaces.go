// Package core defines the storage-facing interfaces and request types for dynafind
package core

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Operation names for compiled requests.
const (
	OpQuery = "Query"
	OpScan  = "Scan"
)

// Select modes for compiled requests.
const (
	SelectItems = "" // default: return item attributes
	SelectCount = "COUNT"
)

// Operations is the storage collaborator the derivation engine dispatches
// to. Implementations own marshalling and the wire client; the engine only
// shapes requests. Absence is never an error: Load reports a missing item
// as (false, nil) and empty query or scan results simply yield no pages.
type Operations interface {
	// Load fetches a single item by its full primary key into dest, a
	// pointer to the entity struct. It returns false when the item does
	// not exist.
	Load(ctx context.Context, req *LoadRequest, dest any) (bool, error)

	// Query runs a key-condition query and returns its pages. No network
	// call happens until the first Next.
	Query(ctx context.Context, req *Request) Pages

	// Scan runs a filtered table scan and returns its pages.
	Scan(ctx context.Context, req *Request) Pages

	// Count runs req with a server-side COUNT selection, summing across
	// pages.
	Count(ctx context.Context, req *Request) (int64, error)

	// Put writes an entity, optionally guarded by an
	// attribute_not_exists condition.
	Put(ctx context.Context, req *PutRequest) error

	// DeleteKey removes the single item addressed by req.
	DeleteKey(ctx context.Context, req *LoadRequest) error
}

// Pages is a lazy, finite sequence of result pages. Next unmarshals the
// next page into dest (a pointer to a slice of the entity type) and reports
// whether a page was produced; it fetches each page only when called, so an
// abandoned sequence issues no further reads. A Pages value is not
// restartable and is not safe for concurrent use.
type Pages interface {
	Next(ctx context.Context, dest any) (bool, error)
}

// LoadRequest addresses one item by its complete primary key.
type LoadRequest struct {
	TableName      string
	Key            map[string]types.AttributeValue
	ConsistentRead bool
}

// Request is a compiled Query or Scan ready for execution.
type Request struct {
	Operation string // OpQuery or OpScan
	TableName string
	IndexName string

	// Expression components; names and values are placeholder maps
	// (#nN / :vN) shared by both expressions.
	KeyConditionExpression    string
	FilterExpression          string
	ProjectionExpression      string
	ExpressionAttributeNames  map[string]string
	ExpressionAttributeValues map[string]types.AttributeValue

	Limit            *int32
	ScanIndexForward *bool
	ConsistentRead   bool
	Select           string // SelectItems or SelectCount
}

// PutRequest writes one entity value.
type PutRequest struct {
	TableName string
	Entity    any

	// IfNotExists, when set to a wire attribute name, guards the put
	// with attribute_not_exists on that attribute (create-only writes).
	IfNotExists string
}
