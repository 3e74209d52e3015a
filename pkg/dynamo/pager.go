package dynamo

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/dynafind/dynafind/pkg/core"
	dferrors "github.com/dynafind/dynafind/pkg/errors"
)

// pager walks LastEvaluatedKey pagination one request per Next call.
// Pages a filter emptied entirely are skipped, so every produced page
// carries at least one item. Not safe for concurrent use.
type pager struct {
	store    *Store
	req      *core.Request
	startKey map[string]types.AttributeValue
	done     bool
}

// page is one raw response worth of results.
type page struct {
	items   []map[string]types.AttributeValue
	count   int32
	lastKey map[string]types.AttributeValue
}

func (p *pager) Next(ctx context.Context, dest any) (bool, error) {
	for !p.done {
		out, err := p.store.fetch(ctx, p.req, p.startKey)
		if err != nil {
			return false, err
		}
		p.startKey = out.lastKey
		p.done = out.lastKey == nil

		if len(out.items) == 0 {
			continue
		}
		if err := attributevalue.UnmarshalListOfMaps(out.items, dest); err != nil {
			return false, fmt.Errorf("%w: %v", dferrors.ErrUnsupportedType, err)
		}
		p.store.log.Debug("fetched page",
			zap.String("table", p.req.TableName),
			zap.String("operation", p.req.Operation),
			zap.Int("items", len(out.items)))
		return true, nil
	}
	return false, nil
}

// fetch issues one Query or Scan request starting at the given key.
func (s *Store) fetch(ctx context.Context, req *core.Request, startKey map[string]types.AttributeValue) (*page, error) {
	if req.Operation == core.OpScan {
		return s.scanPage(ctx, req, startKey)
	}
	return s.queryPage(ctx, req, startKey)
}

func (s *Store) queryPage(ctx context.Context, req *core.Request, startKey map[string]types.AttributeValue) (*page, error) {
	input := &dynamodb.QueryInput{
		TableName:         aws.String(req.TableName),
		ExclusiveStartKey: startKey,
	}
	if req.IndexName != "" {
		input.IndexName = aws.String(req.IndexName)
	}
	if req.KeyConditionExpression != "" {
		input.KeyConditionExpression = aws.String(req.KeyConditionExpression)
	}
	if req.FilterExpression != "" {
		input.FilterExpression = aws.String(req.FilterExpression)
	}
	if req.ProjectionExpression != "" {
		input.ProjectionExpression = aws.String(req.ProjectionExpression)
	}
	if len(req.ExpressionAttributeNames) > 0 {
		input.ExpressionAttributeNames = req.ExpressionAttributeNames
	}
	if len(req.ExpressionAttributeValues) > 0 {
		input.ExpressionAttributeValues = req.ExpressionAttributeValues
	}
	if req.Limit != nil {
		input.Limit = req.Limit
	}
	if req.ScanIndexForward != nil {
		input.ScanIndexForward = req.ScanIndexForward
	}
	if req.ConsistentRead {
		input.ConsistentRead = aws.Bool(true)
	}
	if req.Select == core.SelectCount {
		input.Select = types.SelectCount
	}

	out, err := s.client.Query(ctx, input)
	if err != nil {
		return nil, err
	}
	return &page{items: out.Items, count: out.Count, lastKey: out.LastEvaluatedKey}, nil
}

func (s *Store) scanPage(ctx context.Context, req *core.Request, startKey map[string]types.AttributeValue) (*page, error) {
	input := &dynamodb.ScanInput{
		TableName:         aws.String(req.TableName),
		ExclusiveStartKey: startKey,
	}
	if req.IndexName != "" {
		input.IndexName = aws.String(req.IndexName)
	}
	if req.FilterExpression != "" {
		input.FilterExpression = aws.String(req.FilterExpression)
	}
	if req.ProjectionExpression != "" {
		input.ProjectionExpression = aws.String(req.ProjectionExpression)
	}
	if len(req.ExpressionAttributeNames) > 0 {
		input.ExpressionAttributeNames = req.ExpressionAttributeNames
	}
	if len(req.ExpressionAttributeValues) > 0 {
		input.ExpressionAttributeValues = req.ExpressionAttributeValues
	}
	if req.Limit != nil {
		input.Limit = req.Limit
	}
	if req.ConsistentRead {
		input.ConsistentRead = aws.Bool(true)
	}
	if req.Select == core.SelectCount {
		input.Select = types.SelectCount
	}

	out, err := s.client.Scan(ctx, input)
	if err != nil {
		return nil, err
	}
	return &page{items: out.Items, count: out.Count, lastKey: out.LastEvaluatedKey}, nil
}
