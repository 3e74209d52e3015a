// Package method parses repository method names into predicate trees
package method

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/dynafind/dynafind/pkg/errors"
)

// Kind is the query kind a method prefix declares.
type Kind int

const (
	KindFind Kind = iota
	KindCount
	KindExists
	KindDelete
)

// String returns the kind name
func (k Kind) String() string {
	switch k {
	case KindFind:
		return "find"
	case KindCount:
		return "count"
	case KindExists:
		return "exists"
	case KindDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Operator is a parsed comparison operator.
type Operator int

const (
	Equals Operator = iota
	NotEquals
	GreaterThan
	GreaterThanEqual
	LessThan
	LessThanEqual
	Between
	In
	StartingWith
	Containing
	NotContaining
	IsNull
	IsNotNull
	Exists
	NotExists
)

// String returns the operator name
func (op Operator) String() string {
	switch op {
	case Equals:
		return "Equals"
	case NotEquals:
		return "NotEquals"
	case GreaterThan:
		return "GreaterThan"
	case GreaterThanEqual:
		return "GreaterThanEqual"
	case LessThan:
		return "LessThan"
	case LessThanEqual:
		return "LessThanEqual"
	case Between:
		return "Between"
	case In:
		return "In"
	case StartingWith:
		return "StartingWith"
	case Containing:
		return "Containing"
	case NotContaining:
		return "NotContaining"
	case IsNull:
		return "IsNull"
	case IsNotNull:
		return "IsNotNull"
	case Exists:
		return "Exists"
	case NotExists:
		return "NotExists"
	default:
		return "Unknown"
	}
}

// ArgumentCount returns the number of bound parameters the operator
// consumes. IN takes a single collection argument.
func (op Operator) ArgumentCount() int {
	switch op {
	case Between:
		return 2
	case IsNull, IsNotNull, Exists, NotExists:
		return 0
	default:
		return 1
	}
}

// Direction is a sort direction.
type Direction int

const (
	Ascending Direction = iota
	Descending
)

// String returns the direction name
func (d Direction) String() string {
	if d == Descending {
		return "Desc"
	}
	return "Asc"
}

// Predicate is one parsed clause: property text plus operator. Property
// text is raw until resolved against entity metadata.
type Predicate struct {
	Raw        string // full clause segment, before operator stripping
	Text       string // property text after operator stripping
	Operator   Operator
	IgnoreCase bool
}

// Sort is a parsed OrderBy directive.
type Sort struct {
	Text      string
	Direction Direction
}

// Tree is the parsed form of one method name: AND-combined predicates in
// declaration order, an optional sort directive, a result limit, and the
// query kind. Trees are built once per method and never mutated.
type Tree struct {
	Method     string
	Kind       Kind
	Predicates []Predicate
	Sort       *Sort
	Limit      int // from Top{N}/First{N}; 0 means unlimited
}

// ArgumentCount returns the total bound parameters the tree consumes.
func (t *Tree) ArgumentCount() int {
	total := 0
	for _, p := range t.Predicates {
		total += p.Operator.ArgumentCount()
	}
	return total
}

// ArgOffsets returns each predicate's offset into the flattened argument
// list, in tree order.
func (t *Tree) ArgOffsets() []int {
	offsets := make([]int, len(t.Predicates))
	next := 0
	for i, p := range t.Predicates {
		offsets[i] = next
		next += p.Operator.ArgumentCount()
	}
	return offsets
}

// prefixes maps method prefixes to kinds.
var prefixes = []struct {
	word string
	kind Kind
}{
	{"Find", KindFind},
	{"Get", KindFind},
	{"Read", KindFind},
	{"Query", KindFind},
	{"Search", KindFind},
	{"Stream", KindFind},
	{"Count", KindCount},
	{"Exists", KindExists},
	{"Delete", KindDelete},
	{"Remove", KindDelete},
}

// operatorKeywords is ordered longest-first so greedy suffix matching never
// truncates a longer keyword into a shorter one (GreaterThanEqual before
// GreaterThan, IsNotNull before NotNull).
var operatorKeywords = []struct {
	word string
	op   Operator
}{
	{"GreaterThanEqual", GreaterThanEqual},
	{"NotContaining", NotContaining},
	{"LessThanEqual", LessThanEqual},
	{"StartingWith", StartingWith},
	{"GreaterThan", GreaterThan},
	{"BeginsWith", StartingWith},
	{"StartsWith", StartingWith},
	{"Containing", Containing},
	{"IsNotNull", IsNotNull},
	{"NotExists", NotExists},
	{"Contains", Containing},
	{"LessThan", LessThan},
	{"Between", Between},
	{"NotNull", IsNotNull},
	{"Before", LessThan},
	{"Exists", Exists},
	{"IsNull", IsNull},
	{"After", GreaterThan},
	{"Not", NotEquals},
	{"In", In},
}

// Parse turns a method name into a Tree. It is a pure function of the
// name: no entity metadata is consulted, and the same name always yields
// the same tree.
func Parse(name string) (*Tree, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", errors.ErrInvalidMethodName)
	}

	rest := exported(name)
	tree := &Tree{Method: name}

	matched := false
	for _, prefix := range prefixes {
		if after, ok := strings.CutPrefix(rest, prefix.word); ok {
			tree.Kind = prefix.kind
			rest = after
			matched = true
			break
		}
	}
	if !matched {
		return nil, fmt.Errorf("%w: %q has no recognized prefix", errors.ErrInvalidMethodName, name)
	}

	rest, limit, err := cutLimit(rest)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", errors.ErrInvalidMethodName, name, err)
	}
	if limit > 0 && tree.Kind != KindFind {
		return nil, fmt.Errorf("%w: %q: limit marker is only valid on find methods", errors.ErrInvalidMethodName, name)
	}
	tree.Limit = limit

	// Anything between the prefix and By is filler (FindAllBy, FindOrdersBy).
	rest, ok := strings.CutPrefix(rest, "By")
	if !ok {
		at := strings.Index(rest, "By")
		if at < 0 {
			return nil, fmt.Errorf("%w: %q has no By separator", errors.ErrInvalidMethodName, name)
		}
		rest = rest[at+len("By"):]
	}

	clause := rest
	if at := strings.Index(rest, "OrderBy"); at > 0 {
		clause = rest[:at]
		sort, err := parseSort(rest[at+len("OrderBy"):])
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", errors.ErrInvalidMethodName, name, err)
		}
		tree.Sort = sort
	}

	if clause == "" {
		return nil, fmt.Errorf("%w: %q has an empty clause", errors.ErrInvalidMethodName, name)
	}

	for _, segment := range splitAnd(clause) {
		if segment == "" {
			return nil, fmt.Errorf("%w: %q has an empty clause segment", errors.ErrInvalidMethodName, name)
		}
		tree.Predicates = append(tree.Predicates, parsePredicate(segment))
	}

	return tree, nil
}

// parsePredicate strips at most one trailing operator keyword from a
// clause segment, defaulting to EQUALS. The full segment is kept so
// property resolution can fall back to it when the stripped text matches
// nothing (a property that merely ends like a keyword, e.g. Notes).
func parsePredicate(segment string) Predicate {
	pred := Predicate{Raw: segment, Text: segment, Operator: Equals}

	text := segment
	if trimmed, ok := strings.CutSuffix(text, "IgnoreCase"); ok && trimmed != "" {
		pred.IgnoreCase = true
		text = trimmed
	} else if trimmed, ok := strings.CutSuffix(text, "IgnoringCase"); ok && trimmed != "" {
		pred.IgnoreCase = true
		text = trimmed
	}

	for _, keyword := range operatorKeywords {
		if trimmed, ok := strings.CutSuffix(text, keyword.word); ok && trimmed != "" {
			pred.Text = trimmed
			pred.Operator = keyword.op
			return pred
		}
	}

	pred.Text = text
	return pred
}

// parseSort reads the OrderBy remainder: a property with an optional
// Asc/Desc suffix.
func parseSort(text string) (*Sort, error) {
	if text == "" {
		return nil, fmt.Errorf("order by names no property")
	}

	sort := &Sort{Text: text, Direction: Ascending}
	if trimmed, ok := strings.CutSuffix(text, "Desc"); ok && trimmed != "" {
		sort.Text = trimmed
		sort.Direction = Descending
	} else if trimmed, ok := strings.CutSuffix(text, "Asc"); ok && trimmed != "" {
		sort.Text = trimmed
	}

	return sort, nil
}

// cutLimit strips a Top{N}/First{N} marker. A bare marker means 1.
func cutLimit(rest string) (string, int, error) {
	orig := rest
	marker := ""
	if after, ok := strings.CutPrefix(rest, "Top"); ok {
		rest, marker = after, "Top"
	} else if after, ok := strings.CutPrefix(rest, "First"); ok {
		rest, marker = after, "First"
	}
	if marker == "" {
		return rest, 0, nil
	}

	digits := 0
	for digits < len(rest) && rest[digits] >= '0' && rest[digits] <= '9' {
		digits++
	}
	rem := rest[digits:]
	// Topics or Firstname: the marker was the start of filler text, not a limit.
	if !strings.HasPrefix(rem, "By") && !startsUpper(rem) {
		return orig, 0, nil
	}
	if digits == 0 {
		return rem, 1, nil
	}

	limit := 0
	for _, ch := range rest[:digits] {
		limit = limit*10 + int(ch-'0')
	}
	if limit == 0 {
		return rem, 0, fmt.Errorf("%s0 is not a valid limit", marker)
	}
	return rem, limit, nil
}

// splitAnd splits a clause on And boundaries. An And only separates
// segments when followed by an uppercase letter, so properties like Brand
// survive intact.
func splitAnd(clause string) []string {
	var segments []string
	start := 0

	for i := 1; i+3 <= len(clause); i++ {
		if clause[i:i+3] != "And" {
			continue
		}
		if i+3 == len(clause) {
			continue // trailing And belongs to the property text
		}
		next, _ := utf8.DecodeRuneInString(clause[i+3:])
		if !unicode.IsUpper(next) {
			continue
		}
		segments = append(segments, clause[start:i])
		start = i + 3
		i += 2
	}

	segments = append(segments, clause[start:])
	return segments
}

// exported uppercases the first rune so the dynamic surface accepts both
// FindByName and findByName.
func exported(name string) string {
	r, size := utf8.DecodeRuneInString(name)
	if r == utf8.RuneError || unicode.IsUpper(r) {
		return name
	}
	return string(unicode.ToUpper(r)) + name[size:]
}

func startsUpper(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return r != utf8.RuneError && unicode.IsUpper(r)
}
