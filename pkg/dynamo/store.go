// Package dynamo implements the storage collaborator on the AWS SDK
// DynamoDB client.
package dynamo

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/dynafind/dynafind/pkg/core"
	dferrors "github.com/dynafind/dynafind/pkg/errors"
)

// DynamoDBAPI is the slice of the DynamoDB client the store depends on.
// *dynamodb.Client satisfies it; tests substitute a stub.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Store executes compiled requests against DynamoDB. It owns item
// marshalling; the derivation layers above it never touch attribute values
// beyond the ones already bound into expressions.
type Store struct {
	client DynamoDBAPI
	log    *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger attaches a logger for per-operation debug records.
func WithLogger(log *zap.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// New builds a Store around a DynamoDB client.
func New(client DynamoDBAPI, opts ...Option) *Store {
	s := &Store{client: client, log: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load fetches one item by its full primary key. A missing item is
// (false, nil), never an error.
func (s *Store) Load(ctx context.Context, req *core.LoadRequest, dest any) (bool, error) {
	input := &dynamodb.GetItemInput{
		TableName: aws.String(req.TableName),
		Key:       req.Key,
	}
	if req.ConsistentRead {
		input.ConsistentRead = aws.Bool(true)
	}

	out, err := s.client.GetItem(ctx, input)
	if err != nil {
		return false, err
	}
	if len(out.Item) == 0 {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(out.Item, dest); err != nil {
		return false, fmt.Errorf("%w: %v", dferrors.ErrUnsupportedType, err)
	}
	s.log.Debug("loaded item", zap.String("table", req.TableName))
	return true, nil
}

// Query returns the lazy page sequence for a compiled query. No request is
// issued until the first Next.
func (s *Store) Query(ctx context.Context, req *core.Request) core.Pages {
	return &pager{store: s, req: req}
}

// Scan returns the lazy page sequence for a compiled scan.
func (s *Store) Scan(ctx context.Context, req *core.Request) core.Pages {
	return &pager{store: s, req: req}
}

// Count runs the request with a server-side COUNT selection, summing the
// per-page counts across the whole result set.
func (s *Store) Count(ctx context.Context, req *core.Request) (int64, error) {
	var total int64
	var startKey map[string]types.AttributeValue

	for {
		page, err := s.fetch(ctx, req, startKey)
		if err != nil {
			return 0, err
		}
		total += int64(page.count)
		if page.lastKey == nil {
			s.log.Debug("counted items", zap.String("table", req.TableName), zap.Int64("count", total))
			return total, nil
		}
		startKey = page.lastKey
	}
}

// Put writes one entity, optionally guarded by attribute_not_exists on a
// key attribute for create-only semantics.
func (s *Store) Put(ctx context.Context, req *core.PutRequest) error {
	item, err := attributevalue.MarshalMap(req.Entity)
	if err != nil {
		return fmt.Errorf("%w: %v", dferrors.ErrUnsupportedType, err)
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(req.TableName),
		Item:      item,
	}
	if req.IfNotExists != "" {
		cond, err := expression.NewBuilder().
			WithCondition(expression.AttributeNotExists(expression.Name(req.IfNotExists))).
			Build()
		if err != nil {
			return err
		}
		input.ConditionExpression = cond.Condition()
		input.ExpressionAttributeNames = cond.Names()
	}

	if _, err := s.client.PutItem(ctx, input); err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if stderrors.As(err, &conditionFailed) {
			return fmt.Errorf("%w: %s", dferrors.ErrConditionFailed, req.TableName)
		}
		return err
	}
	s.log.Debug("put item", zap.String("table", req.TableName))
	return nil
}

// DeleteKey removes the single item addressed by the request. Deleting an
// absent item is not an error.
func (s *Store) DeleteKey(ctx context.Context, req *core.LoadRequest) error {
	input := &dynamodb.DeleteItemInput{
		TableName: aws.String(req.TableName),
		Key:       req.Key,
	}
	if _, err := s.client.DeleteItem(ctx, input); err != nil {
		return err
	}
	s.log.Debug("deleted item", zap.String("table", req.TableName))
	return nil
}
