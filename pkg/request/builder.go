// Package request binds invocation arguments to a resolved access path,
// producing the wire-shaped request the storage collaborator executes.
package request

import (
	"fmt"
	"reflect"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/dynafind/dynafind/internal/expr"
	"github.com/dynafind/dynafind/pkg/core"
	"github.com/dynafind/dynafind/pkg/errors"
	"github.com/dynafind/dynafind/pkg/index"
	"github.com/dynafind/dynafind/pkg/method"
	"github.com/dynafind/dynafind/pkg/model"
)

// BuildLoad produces the single-item load request for a DIRECT_LOAD path.
// The key conditions are either the primary key predicates or one
// composite-id predicate whose constituents split into both key attributes.
func BuildLoad(meta *model.Metadata, tree *method.Tree, path *index.Path, args []any, flags index.Flags) (*core.LoadRequest, error) {
	key := make(map[string]types.AttributeValue, 2)
	offsets := tree.ArgOffsets()

	for _, kc := range path.KeyConditions {
		value := args[offsets[kc.TreeIndex]]
		if kc.Field.IsID {
			pk, sk, err := splitCompositeID(meta, value)
			if err != nil {
				return nil, err
			}
			key[meta.PrimaryKey.PartitionKey.DBName] = pk
			key[meta.PrimaryKey.SortKey.DBName] = sk
			continue
		}
		av, err := marshalKeyValue(kc.Field, value)
		if err != nil {
			return nil, err
		}
		key[kc.Field.DBName] = av
	}

	return &core.LoadRequest{
		TableName:      meta.TableName,
		Key:            key,
		ConsistentRead: flags.ConsistentRead,
	}, nil
}

// Build produces the query or scan request for every non-load path. Key
// conditions and residual filters are rendered through the expression
// builder with each property's wire attribute name substituted. A wire
// limit is only set when the path carries no residual filters, because
// DynamoDB applies Limit before filtering; limited-but-filtered methods are
// truncated by the caller instead.
func Build(meta *model.Metadata, tree *method.Tree, path *index.Path, args []any, flags index.Flags) (*core.Request, error) {
	b := expr.NewBuilder()
	offsets := tree.ArgOffsets()

	for _, kc := range path.KeyConditions {
		if kc.Field.IsID {
			pk, sk, err := splitCompositeID(meta, args[offsets[kc.TreeIndex]])
			if err != nil {
				return nil, err
			}
			if err := b.AddKeyCondition(meta.PrimaryKey.PartitionKey.DBName, method.Equals, pk); err != nil {
				return nil, err
			}
			if err := b.AddKeyCondition(meta.PrimaryKey.SortKey.DBName, method.Equals, sk); err != nil {
				return nil, err
			}
			continue
		}
		if err := b.AddKeyCondition(kc.Field.DBName, kc.Operator, predicateArgs(kc, offsets, args)...); err != nil {
			return nil, err
		}
	}

	for _, f := range path.Filters {
		if err := b.AddFilter(f.Field.DBName, f.Operator, predicateArgs(f, offsets, args)...); err != nil {
			return nil, err
		}
	}

	// Exists and delete methods only ever look at keys, so project just
	// the table's key attributes.
	if tree.Kind == method.KindExists || tree.Kind == method.KindDelete {
		b.AddProjection(meta.PrimaryKey.PartitionKey.DBName)
		if meta.PrimaryKey.SortKey != nil {
			b.AddProjection(meta.PrimaryKey.SortKey.DBName)
		}
	}

	components := b.Build()
	req := &core.Request{
		Operation:                 core.OpQuery,
		TableName:                 meta.TableName,
		IndexName:                 path.IndexName,
		KeyConditionExpression:    components.KeyConditionExpression,
		FilterExpression:          components.FilterExpression,
		ProjectionExpression:      components.ProjectionExpression,
		ExpressionAttributeNames:  components.ExpressionAttributeNames,
		ExpressionAttributeValues: components.ExpressionAttributeValues,
		ConsistentRead:            flags.ConsistentRead,
		Select:                    core.SelectItems,
	}
	if path.Kind == index.Scan {
		req.Operation = core.OpScan
	}
	if tree.Kind == method.KindCount {
		req.Select = core.SelectCount
		req.ProjectionExpression = ""
	}

	if tree.Sort != nil && req.Operation == core.OpQuery {
		forward := !path.Descending
		req.ScanIndexForward = &forward
	}

	if len(path.Filters) == 0 {
		switch {
		case tree.Kind == method.KindExists:
			req.Limit = limitOf(1)
		case tree.Kind == method.KindFind && tree.Limit > 0:
			req.Limit = limitOf(tree.Limit)
		}
	}

	return req, nil
}

// Key extracts the primary key attribute map from an entity value, for
// whole-entity deletes and for turning queried items into delete targets.
func Key(meta *model.Metadata, entity any) (map[string]types.AttributeValue, error) {
	rv := reflect.ValueOf(entity)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, fmt.Errorf("%w: nil entity", errors.ErrNilKeyValue)
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct || rv.Type() != meta.Type {
		return nil, fmt.Errorf("%w: expected %s, got %T", errors.ErrInvalidModel, meta.Type.Name(), entity)
	}

	key := make(map[string]types.AttributeValue, 2)
	pkAV, err := marshalKeyValue(meta.PrimaryKey.PartitionKey, fieldValue(rv, meta.PrimaryKey.PartitionKey))
	if err != nil {
		return nil, err
	}
	key[meta.PrimaryKey.PartitionKey.DBName] = pkAV

	if meta.PrimaryKey.SortKey != nil {
		skAV, err := marshalKeyValue(meta.PrimaryKey.SortKey, fieldValue(rv, meta.PrimaryKey.SortKey))
		if err != nil {
			return nil, err
		}
		key[meta.PrimaryKey.SortKey.DBName] = skAV
	}
	return key, nil
}

// predicateArgs slices the flat argument list down to one predicate's
// bound values using the tree's fixed offsets.
func predicateArgs(p index.ResolvedPredicate, offsets []int, args []any) []any {
	at := offsets[p.TreeIndex]
	return args[at : at+p.Operator.ArgumentCount()]
}

// splitCompositeID pulls the partition and sort key values out of a bound
// composite-id value. Both constituents must be set.
func splitCompositeID(meta *model.Metadata, value any) (types.AttributeValue, types.AttributeValue, error) {
	if meta.ID == nil {
		return nil, nil, fmt.Errorf("%w: %s has no composite id", errors.ErrInvalidModel, meta.Type.Name())
	}

	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, nil, fmt.Errorf("%w: nil composite id", errors.ErrNilKeyValue)
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() || rv.Type() != meta.ID.Type {
		return nil, nil, fmt.Errorf("%w: expected %s, got %T", errors.ErrInvalidModel, meta.ID.Type.Name(), value)
	}

	pkIdx := meta.ID.PartitionKey.IndexPath[len(meta.ID.PartitionKey.IndexPath)-1]
	skIdx := meta.ID.SortKey.IndexPath[len(meta.ID.SortKey.IndexPath)-1]

	pk, err := marshalKeyValue(meta.ID.PartitionKey, rv.Field(pkIdx).Interface())
	if err != nil {
		return nil, nil, err
	}
	sk, err := marshalKeyValue(meta.ID.SortKey, rv.Field(skIdx).Interface())
	if err != nil {
		return nil, nil, err
	}
	return pk, sk, nil
}

// marshalKeyValue marshals one key attribute value, rejecting nils and
// empty strings since DynamoDB keys cannot hold either.
func marshalKeyValue(field *model.FieldMetadata, value any) (types.AttributeValue, error) {
	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, fmt.Errorf("%w: %s", errors.ErrNilKeyValue, field.PathString())
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return nil, fmt.Errorf("%w: %s", errors.ErrNilKeyValue, field.PathString())
	}

	av, err := attributevalue.Marshal(rv.Interface())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errors.ErrUnsupportedType, field.PathString(), err)
	}
	switch v := av.(type) {
	case *types.AttributeValueMemberNULL:
		return nil, fmt.Errorf("%w: %s", errors.ErrNilKeyValue, field.PathString())
	case *types.AttributeValueMemberS:
		if v.Value == "" {
			return nil, fmt.Errorf("%w: %s is empty", errors.ErrNilKeyValue, field.PathString())
		}
	}
	return av, nil
}

// fieldValue walks the reflect index path from the entity root.
func fieldValue(root reflect.Value, field *model.FieldMetadata) any {
	v := root
	for _, i := range field.IndexPath {
		v = v.Field(i)
	}
	return v.Interface()
}

func limitOf(n int) *int32 {
	v := int32(n)
	return &v
}
