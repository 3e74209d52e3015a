// Package index resolves predicate trees against entity key metadata,
// choosing exactly one access path per repository method.
package index

import (
	"fmt"

	"github.com/dynafind/dynafind/pkg/errors"
	"github.com/dynafind/dynafind/pkg/method"
	"github.com/dynafind/dynafind/pkg/model"
)

// Kind identifies the chosen access path.
type Kind string

const (
	DirectLoad       Kind = "DIRECT_LOAD"
	PrimarySortQuery Kind = "PRIMARY_SORT_QUERY"
	LocalIndexQuery  Kind = "LOCAL_INDEX_QUERY"
	GlobalIndexQuery Kind = "GLOBAL_INDEX_QUERY"
	Scan             Kind = "SCAN"
)

// Flags carries the per-method declaration switches that gate resolution.
type Flags struct {
	// ScanEnabled permits a full-table scan fallback for this method.
	ScanEnabled bool
	// ScanCountEnabled permits scan-based counting; count methods have
	// their own opt-in, separate from ScanEnabled.
	ScanCountEnabled bool
	// ConsistentRead requests strongly consistent reads. Illegal on
	// global secondary index paths.
	ConsistentRead bool
}

// ResolvedPredicate is a parsed predicate bound to the entity field it
// targets. TreeIndex is the predicate's position in the tree, which fixes
// its slice of the method's argument list.
type ResolvedPredicate struct {
	method.Predicate
	Field     *model.FieldMetadata
	TreeIndex int
}

// Path is the single resolved access path for one method. Every tree
// predicate appears in exactly one of KeyConditions or Filters, in tree
// order. Paths are computed once per method and shared read-only.
type Path struct {
	Kind      Kind
	IndexName string // empty for DIRECT_LOAD, PRIMARY_SORT_QUERY and SCAN

	KeyConditions []ResolvedPredicate
	Filters       []ResolvedPredicate

	// Descending is set when an OrderBy directive targets the path's
	// range key with descending direction.
	Descending bool
}

// Resolve picks the access path for a parsed tree against entity metadata.
// Rules are tried in a fixed priority order: direct load, primary sort-key
// query, local index query, global index query, hash-only primary query,
// scan. The first rule that matches wins, so a scan is never chosen while
// any key-based path exists. Resolution is deterministic: index candidates
// are visited in declaration order and predicates in tree order.
func Resolve(tree *method.Tree, meta *model.Metadata, flags Flags) (*Path, error) {
	preds, err := resolvePredicates(tree, meta)
	if err != nil {
		return nil, err
	}

	var sortField *model.FieldMetadata
	if tree.Sort != nil {
		sortField, err = meta.ResolveProperty(tree.Sort.Text)
		if err != nil {
			return nil, fmt.Errorf("%w: order by %q", errors.ErrUnknownProperty, tree.Sort.Text)
		}
	}

	pk := meta.PrimaryKey.PartitionKey
	sk := meta.PrimaryKey.SortKey

	if idPred := findIDPredicate(preds); idPred != nil {
		return resolveCompositeID(tree, meta, preds, idPred, sortField)
	}

	pkEq := findEquals(preds, pk)

	// Rule: direct load. Exactly the full primary key under EQUALS, with
	// no sort, limit or extra predicates.
	if pkEq != nil && tree.Sort == nil && tree.Limit == 0 {
		if sk == nil && len(preds) == 1 {
			return &Path{Kind: DirectLoad, KeyConditions: preds}, nil
		}
		if sk != nil && len(preds) == 2 && findEquals(preds, sk) != nil {
			return &Path{Kind: DirectLoad, KeyConditions: preds}, nil
		}
	}

	if pkEq != nil {
		// Rule: primary sort-key range query.
		if sk != nil {
			if skPred := findKeyCapable(preds, sk, pkEq); skPred != nil {
				path := &Path{
					Kind:          PrimarySortQuery,
					KeyConditions: []ResolvedPredicate{*pkEq, *skPred},
					Filters:       remaining(preds, pkEq, skPred),
				}
				if err := applySort(path, tree.Sort, sortField, sk); err != nil {
					return nil, err
				}
				return path, nil
			}
		}

		// Rule: local secondary index query.
		if path, err := resolveLocal(tree, meta, preds, pkEq, sortField); path != nil || err != nil {
			return path, err
		}
	}

	// Rule: global secondary index query. Tried before the hash-only
	// primary rule: a predicate servable as an index key condition beats
	// filtering inside the bound partition.
	if path, err := resolveGlobal(tree, meta, preds, sortField, flags); path != nil || err != nil {
		return path, err
	}

	// Rule: hash-only primary query. A bound partition key confines the
	// query to one partition, so unindexed leftover predicates become
	// filters rather than forcing the scan gate below.
	if pkEq != nil {
		path := &Path{
			Kind:          PrimarySortQuery,
			KeyConditions: []ResolvedPredicate{*pkEq},
			Filters:       remaining(preds, pkEq),
		}
		if err := applySort(path, tree.Sort, sortField, sk); err != nil {
			return nil, err
		}
		return path, nil
	}

	// A comparison operator on a property that only ever acts as a hash
	// key can never become a key condition; surface that instead of
	// falling through to a scan.
	for i := range preds {
		if violatesHashKey(&preds[i]) {
			return nil, fmt.Errorf("%w: %s %s", errors.ErrHashKeyOperator, preds[i].Field.PathString(), preds[i].Operator)
		}
	}

	// Rule: scan fallback, gated by per-method opt-in.
	if tree.Sort != nil {
		return nil, fmt.Errorf("%w: order by %q requires a key-based path, scan provides no ordering", errors.ErrUnsupportedOrderBy, tree.Sort.Text)
	}
	if tree.Kind == method.KindCount {
		if !flags.ScanCountEnabled {
			return nil, fmt.Errorf("%w: %s", errors.ErrScanCountNotEnabled, tree.Method)
		}
	} else if !flags.ScanEnabled {
		return nil, fmt.Errorf("%w: %s", errors.ErrScanNotEnabled, tree.Method)
	}
	return &Path{Kind: Scan, Filters: preds}, nil
}

// resolvePredicates binds each parsed predicate to an entity field. When
// the operator-stripped text matches nothing but the full raw segment does,
// the segment is a property that merely ends like a keyword (Notes, Cabin)
// and is treated as EQUALS on that property.
func resolvePredicates(tree *method.Tree, meta *model.Metadata) ([]ResolvedPredicate, error) {
	preds := make([]ResolvedPredicate, 0, len(tree.Predicates))
	for i, p := range tree.Predicates {
		field, err := meta.ResolveProperty(p.Text)
		if err != nil && p.Raw != p.Text {
			if raw, rawErr := meta.ResolveProperty(p.Raw); rawErr == nil {
				field, err = raw, nil
				p = method.Predicate{Raw: p.Raw, Text: p.Raw, Operator: method.Equals}
			}
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %q in %s", errors.ErrUnknownProperty, p.Text, tree.Method)
		}
		if p.IgnoreCase {
			return nil, fmt.Errorf("%w: IgnoreCase on %q", errors.ErrUnsupportedOperator, p.Text)
		}
		preds = append(preds, ResolvedPredicate{Predicate: p, Field: field, TreeIndex: i})
	}
	return preds, nil
}

// resolveCompositeID handles trees that bind the entity's composite-id
// wrapper as one value. Alone it is a direct load; combined with residual
// predicates it fixes both primary key conditions of a query.
func resolveCompositeID(tree *method.Tree, meta *model.Metadata, preds []ResolvedPredicate, idPred *ResolvedPredicate, sortField *model.FieldMetadata) (*Path, error) {
	if idPred.Operator != method.Equals {
		return nil, fmt.Errorf("%w: %s on composite id %s", errors.ErrUnsupportedOperator, idPred.Operator, idPred.Field.Name)
	}
	if len(preds) == 1 && tree.Sort == nil && tree.Limit == 0 {
		return &Path{Kind: DirectLoad, KeyConditions: preds}, nil
	}

	path := &Path{
		Kind:          PrimarySortQuery,
		KeyConditions: []ResolvedPredicate{*idPred},
		Filters:       remaining(preds, idPred),
	}
	if err := applySort(path, tree.Sort, sortField, meta.PrimaryKey.SortKey); err != nil {
		return nil, err
	}
	return path, nil
}

// resolveLocal tries every local secondary index in declaration order.
// When an OrderBy directive is present only indexes whose range key is the
// sort target are eligible; those indexes may be chosen on the strength of
// the OrderBy alone, with the partition key as the sole key condition.
func resolveLocal(tree *method.Tree, meta *model.Metadata, preds []ResolvedPredicate, pkEq *ResolvedPredicate, sortField *model.FieldMetadata) (*Path, error) {
	var chosen *model.IndexSchema
	var chosenPred *ResolvedPredicate

	for i := range meta.Indexes {
		idx := &meta.Indexes[i]
		if idx.Type != model.LocalSecondaryIndex || idx.SortKey == nil {
			continue
		}
		if tree.Sort != nil && sortField != idx.SortKey {
			continue
		}
		rangePred := findKeyCapable(preds, idx.SortKey, pkEq)
		if rangePred == nil && tree.Sort == nil {
			continue
		}
		chosen, chosenPred = idx, rangePred
		break
	}
	if chosen == nil {
		return nil, nil
	}

	path := &Path{
		Kind:          LocalIndexQuery,
		IndexName:     chosen.Name,
		KeyConditions: []ResolvedPredicate{*pkEq},
	}
	if chosenPred != nil {
		path.KeyConditions = append(path.KeyConditions, *chosenPred)
	}
	path.Filters = remaining(preds, pkEq, chosenPred)
	if err := applySort(path, tree.Sort, sortField, chosen.SortKey); err != nil {
		return nil, err
	}
	return path, nil
}

// resolveGlobal tries every global secondary index in declaration order.
// An index whose hash and range keys are both satisfied by predicates
// always beats a hash-only match; within a tier the first declared index
// wins. Consistent reads are rejected here since DynamoDB does not serve
// them from global indexes.
func resolveGlobal(tree *method.Tree, meta *model.Metadata, preds []ResolvedPredicate, sortField *model.FieldMetadata, flags Flags) (*Path, error) {
	var full, hashOnly *model.IndexSchema
	var fullHash, fullRange, hashOnlyHash *ResolvedPredicate

	for i := range meta.Indexes {
		idx := &meta.Indexes[i]
		if idx.Type != model.GlobalSecondaryIndex {
			continue
		}
		hashPred := findEquals(preds, idx.PartitionKey)
		if hashPred == nil {
			continue
		}
		if tree.Sort != nil && sortField != idx.SortKey {
			continue
		}
		var rangePred *ResolvedPredicate
		if idx.SortKey != nil {
			rangePred = findKeyCapable(preds, idx.SortKey, hashPred)
		}
		if rangePred != nil {
			full, fullHash, fullRange = idx, hashPred, rangePred
			break
		}
		if hashOnly == nil {
			hashOnly, hashOnlyHash = idx, hashPred
		}
	}

	var path *Path
	switch {
	case full != nil:
		path = &Path{
			Kind:          GlobalIndexQuery,
			IndexName:     full.Name,
			KeyConditions: []ResolvedPredicate{*fullHash, *fullRange},
			Filters:       remaining(preds, fullHash, fullRange),
		}
	case hashOnly != nil:
		path = &Path{
			Kind:          GlobalIndexQuery,
			IndexName:     hashOnly.Name,
			KeyConditions: []ResolvedPredicate{*hashOnlyHash},
			Filters:       remaining(preds, hashOnlyHash),
		}
	default:
		if tree.Sort == nil {
			return nil, nil
		}
		// The OrderBy names a global index range key but that index's
		// hash key has no equality predicate, so no index can both
		// satisfy the predicates and honor the ordering.
		for i := range meta.Indexes {
			idx := &meta.Indexes[i]
			if idx.Type == model.GlobalSecondaryIndex && idx.SortKey == sortField {
				return nil, fmt.Errorf("%w: order by %q requires an equality predicate on %s", errors.ErrUnsupportedOrderBy, tree.Sort.Text, idx.PartitionKey.PathString())
			}
		}
		return nil, nil
	}

	if flags.ConsistentRead {
		return nil, fmt.Errorf("%w: index %s", errors.ErrConsistentReadOnIndex, path.IndexName)
	}
	if tree.Sort != nil {
		path.Descending = tree.Sort.Direction == method.Descending
	}
	return path, nil
}

// applySort validates an OrderBy directive against the path's range key.
// Query results follow the physical order of the chosen key, so ordering
// by anything else is unsupported rather than silently ignored.
func applySort(path *Path, sort *method.Sort, sortField, rangeKey *model.FieldMetadata) error {
	if sort == nil {
		return nil
	}
	if rangeKey == nil || sortField != rangeKey {
		return fmt.Errorf("%w: order by %q is not the range key of the resolved path", errors.ErrUnsupportedOrderBy, sort.Text)
	}
	path.Descending = sort.Direction == method.Descending
	return nil
}

// keyCapable reports whether an operator can appear in a key condition on
// a range key. STARTING_WITH and CONTAINING are deliberately filter-only,
// as are the null and membership checks.
func keyCapable(op method.Operator) bool {
	switch op {
	case method.Equals, method.GreaterThan, method.GreaterThanEqual,
		method.LessThan, method.LessThanEqual, method.Between:
		return true
	default:
		return false
	}
}

// violatesHashKey reports whether a predicate applies a comparison
// operator to a property whose only key roles are hash roles. Hash key
// conditions must be equality.
func violatesHashKey(pred *ResolvedPredicate) bool {
	switch pred.Operator {
	case method.NotEquals, method.GreaterThan, method.GreaterThanEqual,
		method.LessThan, method.LessThanEqual, method.Between:
	default:
		return false
	}

	f := pred.Field
	hash := f.IsPK
	rng := f.IsSK
	for _, role := range f.IndexInfo {
		hash = hash || role.IsPK
		rng = rng || role.IsSK
	}
	return hash && !rng
}

func findIDPredicate(preds []ResolvedPredicate) *ResolvedPredicate {
	for i := range preds {
		if preds[i].Field.IsID {
			return &preds[i]
		}
	}
	return nil
}

// findEquals returns the first predicate in tree order holding an EQUALS
// condition on the given field.
func findEquals(preds []ResolvedPredicate, field *model.FieldMetadata) *ResolvedPredicate {
	for i := range preds {
		if preds[i].Field == field && preds[i].Operator == method.Equals {
			return &preds[i]
		}
	}
	return nil
}

// findKeyCapable returns the first predicate in tree order holding a
// key-capable condition on the given field, skipping the predicate already
// claimed for the hash condition.
func findKeyCapable(preds []ResolvedPredicate, field *model.FieldMetadata, claimed *ResolvedPredicate) *ResolvedPredicate {
	for i := range preds {
		if claimed != nil && preds[i].TreeIndex == claimed.TreeIndex {
			continue
		}
		if preds[i].Field == field && keyCapable(preds[i].Operator) {
			return &preds[i]
		}
	}
	return nil
}

// remaining returns, in tree order, every predicate not claimed as a key
// condition.
func remaining(preds []ResolvedPredicate, claimed ...*ResolvedPredicate) []ResolvedPredicate {
	taken := make(map[int]bool, len(claimed))
	for _, c := range claimed {
		if c != nil {
			taken[c.TreeIndex] = true
		}
	}
	var rest []ResolvedPredicate
	for i := range preds {
		if !taken[preds[i].TreeIndex] {
			rest = append(rest, preds[i])
		}
	}
	return rest
}
