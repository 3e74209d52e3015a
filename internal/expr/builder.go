// Package expr compiles DynamoDB expression strings with placeholder
// substitution for attribute names and values.
package expr

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/dynafind/dynafind/pkg/errors"
	"github.com/dynafind/dynafind/pkg/method"
)

// Reserved words in DynamoDB that need to be escaped
var reservedWords = map[string]bool{
	"ABORT": true, "ABSOLUTE": true, "ACTION": true, "ADD": true, "AFTER": true,
	"AGENT": true, "AGGREGATE": true, "ALL": true, "ALLOCATE": true, "ALTER": true,
	"ANALYZE": true, "AND": true, "ANY": true, "ARCHIVE": true, "ARE": true,
	"ARRAY": true, "AS": true, "ASC": true, "ASCII": true, "ASENSITIVE": true,
	"ASSERTION": true, "ASYMMETRIC": true, "AT": true, "ATOMIC": true, "ATTACH": true,
	"ATTRIBUTE": true, "AUTH": true, "AUTHORIZATION": true, "AUTHORIZE": true, "AUTO": true,
	"AVG": true, "BACK": true, "BACKUP": true, "BASE": true, "BATCH": true,
	"BEFORE": true, "BEGIN": true, "BETWEEN": true, "BIGINT": true, "BINARY": true,
	"BIT": true, "BLOB": true, "BLOCK": true, "BOOLEAN": true, "BOTH": true,
	"BREADTH": true, "BUCKET": true, "BULK": true, "BY": true, "BYTE": true,
	"CALL": true, "CALLED": true, "CALLING": true, "CAPACITY": true, "CASCADE": true,
	"CASCADED": true, "CASE": true, "CAST": true, "CATALOG": true, "CHAR": true,
	"CHARACTER": true, "CHECK": true, "CLASS": true, "CLOB": true, "CLOSE": true,
	"CLUSTER": true, "CLUSTERED": true, "CLUSTERING": true, "CLUSTERS": true, "COALESCE": true,
	"COLLATE": true, "COLLATION": true, "COLLECTION": true, "COLUMN": true, "COLUMNS": true,
	"COMBINE": true, "COMMENT": true, "COMMIT": true, "COMPACT": true, "COMPILE": true,
	"COMPRESS": true, "CONDITION": true, "CONFLICT": true, "CONNECT": true, "CONNECTION": true,
	"CONSISTENCY": true, "CONSISTENT": true, "CONSTRAINT": true, "CONSTRAINTS": true, "CONSTRUCTOR": true,
	"CONSUMED": true, "CONTINUE": true, "CONVERT": true, "COPY": true, "CORRESPONDING": true,
	"COUNT": true, "COUNTER": true, "CREATE": true, "CROSS": true, "CUBE": true,
	"CURRENT": true, "CURSOR": true, "CYCLE": true, "DATA": true, "DATABASE": true,
	"DATE": true, "DATETIME": true, "DAY": true, "DEALLOCATE": true, "DEC": true,
	"DECIMAL": true, "DECLARE": true, "DEFAULT": true, "DEFERRABLE": true, "DEFERRED": true,
	"DEFINE": true, "DEFINED": true, "DEFINITION": true, "DELETE": true, "DELIMITED": true,
	"DEPTH": true, "DEREF": true, "DESC": true, "DESCRIBE": true, "DESCRIPTOR": true,
	"DETACH": true, "DETERMINISTIC": true, "DIAGNOSTICS": true, "DIRECTORIES": true, "DISABLE": true,
	"DISCONNECT": true, "DISTINCT": true, "DISTRIBUTE": true, "DO": true, "DOMAIN": true,
	"DOUBLE": true, "DROP": true, "DUMP": true, "DURATION": true, "DYNAMIC": true,
	"EACH": true, "ELEMENT": true, "ELSE": true, "ELSEIF": true, "EMPTY": true,
	"ENABLE": true, "END": true, "EQUAL": true, "EQUALS": true, "ERROR": true,
	"ESCAPE": true, "ESCAPED": true, "EVAL": true, "EVALUATE": true, "EXCEEDED": true,
	"EXCEPT": true, "EXCEPTION": true, "EXCEPTIONS": true, "EXCLUSIVE": true, "EXEC": true,
	"EXECUTE": true, "EXISTS": true, "EXIT": true, "EXPLAIN": true, "EXPLODE": true,
	"EXPORT": true, "EXPRESSION": true, "EXTENDED": true, "EXTERNAL": true, "EXTRACT": true,
	"FAIL": true, "FALSE": true, "FAMILY": true, "FETCH": true, "FIELDS": true,
	"FILE": true, "FILTER": true, "FILTERING": true, "FINAL": true, "FINISH": true,
	"FIRST": true, "FIXED": true, "FLATTERN": true, "FLOAT": true, "FOR": true,
	"FORCE": true, "FOREIGN": true, "FORMAT": true, "FORWARD": true, "FOUND": true,
	"FREE": true, "FROM": true, "FULL": true, "FUNCTION": true, "FUNCTIONS": true,
	"GENERAL": true, "GENERATE": true, "GET": true, "GLOB": true, "GLOBAL": true,
	"GO": true, "GOTO": true, "GRANT": true, "GREATER": true, "GROUP": true,
	"GROUPING": true, "HANDLER": true, "HASH": true, "HAVE": true, "HAVING": true,
	"HEAP": true, "HIDDEN": true, "HOLD": true, "HOUR": true, "IDENTIFIED": true,
	"IDENTITY": true, "IF": true, "IGNORE": true, "IMMEDIATE": true, "IMPORT": true,
	"IN": true, "INCLUDING": true, "INCLUSIVE": true, "INCREMENT": true, "INCREMENTAL": true,
	"INDEX": true, "INDEXED": true, "INDEXES": true, "INDICATOR": true, "INFINITE": true,
	"INITIALLY": true, "INLINE": true, "INNER": true, "INNTER": true, "INOUT": true,
	"INPUT": true, "INSENSITIVE": true, "INSERT": true, "INSTEAD": true, "INT": true,
	"INTEGER": true, "INTERSECT": true, "INTERVAL": true, "INTO": true, "INVALIDATE": true,
	"IS": true, "ISOLATION": true, "ITEM": true, "ITEMS": true, "ITERATE": true,
	"JOIN": true, "KEY": true, "KEYS": true, "LAG": true, "LANGUAGE": true,
	"LARGE": true, "LAST": true, "LATERAL": true, "LEAD": true, "LEADING": true,
	"LEAVE": true, "LEFT": true, "LENGTH": true, "LESS": true, "LEVEL": true,
	"LIKE": true, "LIMIT": true, "LIMITED": true, "LINES": true, "LIST": true,
	"LOAD": true, "LOCAL": true, "LOCALTIME": true, "LOCALTIMESTAMP": true, "LOCATION": true,
	"LOCATOR": true, "LOCK": true, "LOCKS": true, "LOG": true, "LOGED": true,
	"LONG": true, "LOOP": true, "LOWER": true, "MAP": true, "MATCH": true,
	"MATERIALIZED": true, "MAX": true, "MAXLEN": true, "MEMBER": true, "MERGE": true,
	"METHOD": true, "METRICS": true, "MIN": true, "MINUS": true, "MINUTE": true,
	"MISSING": true, "MOD": true, "MODE": true, "MODIFIES": true, "MODIFY": true,
	"MODULE": true, "MONTH": true, "MULTI": true, "MULTISET": true, "NAME": true,
	"NAMES": true, "NATIONAL": true, "NATURAL": true, "NCHAR": true, "NCLOB": true,
	"NEW": true, "NEXT": true, "NO": true, "NONE": true, "NOT": true,
	"NULL": true, "NULLIF": true, "NUMBER": true, "NUMERIC": true, "OBJECT": true,
	"OF": true, "OFFLINE": true, "OFFSET": true, "OLD": true, "ON": true,
	"ONLINE": true, "ONLY": true, "OPAQUE": true, "OPEN": true, "OPERATOR": true,
	"OPTION": true, "OR": true, "ORDER": true, "ORDINALITY": true, "OTHER": true,
	"OTHERS": true, "OUT": true, "OUTER": true, "OUTPUT": true, "OVER": true,
	"OVERLAPS": true, "OVERRIDE": true, "OWNER": true, "PAD": true, "PARALLEL": true,
	"PARAMETER": true, "PARAMETERS": true, "PARTIAL": true, "PARTITION": true, "PARTITIONED": true,
	"PARTITIONS": true, "PATH": true, "PERCENT": true, "PERCENTILE": true, "PERMISSION": true,
	"PERMISSIONS": true, "PIPE": true, "PIPELINED": true, "PLAN": true, "POOL": true,
	"POSITION": true, "PRECISION": true, "PREPARE": true, "PRESERVE": true, "PRIMARY": true,
	"PRIOR": true, "PRIVATE": true, "PRIVILEGES": true, "PROCEDURE": true, "PROCESSED": true,
	"PROJECT": true, "PROJECTION": true, "PROPERTY": true, "PROVISIONING": true, "PUBLIC": true,
	"PUT": true, "QUERY": true, "QUIT": true, "QUORUM": true, "RAISE": true,
	"RANDOM": true, "RANGE": true, "RANK": true, "RAW": true, "READ": true,
	"READS": true, "REAL": true, "REBUILD": true, "RECORD": true, "RECURSIVE": true,
	"REDUCE": true, "REF": true, "REFERENCE": true, "REFERENCES": true, "REFERENCING": true,
	"REGEXP": true, "REGION": true, "REINDEX": true, "RELATIVE": true, "RELEASE": true,
	"REMAINDER": true, "RENAME": true, "REPEAT": true, "REPLACE": true, "REQUEST": true,
	"RESET": true, "RESIGNAL": true, "RESOURCE": true, "RESPONSE": true, "RESTORE": true,
	"RESTRICT": true, "RESULT": true, "RETURN": true, "RETURNING": true, "RETURNS": true,
	"REVERSE": true, "REVOKE": true, "RIGHT": true, "ROLE": true, "ROLES": true,
	"ROLLBACK": true, "ROLLUP": true, "ROUTINE": true, "ROW": true, "ROWS": true,
	"RULE": true, "RULES": true, "SAMPLE": true, "SATISFIES": true, "SAVE": true,
	"SAVEPOINT": true, "SCAN": true, "SCHEMA": true, "SCOPE": true, "SCROLL": true,
	"SEARCH": true, "SECOND": true, "SECTION": true, "SEGMENT": true, "SEGMENTS": true,
	"SELECT": true, "SELF": true, "SEMI": true, "SENSITIVE": true, "SEPARATE": true,
	"SEQUENCE": true, "SERIALIZABLE": true, "SESSION": true, "SET": true, "SETS": true,
	"SHARD": true, "SHARE": true, "SHARED": true, "SHORT": true, "SHOW": true,
	"SIGNAL": true, "SIMILAR": true, "SIZE": true, "SKEWED": true, "SMALLINT": true,
	"SNAPSHOT": true, "SOME": true, "SOURCE": true, "SPACE": true, "SPACES": true,
	"SPARSE": true, "SPECIFIC": true, "SPECIFICTYPE": true, "SPLIT": true, "SQL": true,
	"SQLCODE": true, "SQLERROR": true, "SQLEXCEPTION": true, "SQLSTATE": true, "SQLWARNING": true,
	"START": true, "STATE": true, "STATIC": true, "STATUS": true, "STORAGE": true,
	"STORE": true, "STORED": true, "STREAM": true, "STRING": true, "STRUCT": true,
	"STYLE": true, "SUB": true, "SUBMULTISET": true, "SUBPARTITION": true, "SUBSTRING": true,
	"SUBTYPE": true, "SUM": true, "SUPER": true, "SYMMETRIC": true, "SYNONYM": true,
	"SYSTEM": true, "TABLE": true, "TABLESAMPLE": true, "TEMP": true, "TEMPORARY": true,
	"TERMINATED": true, "TEXT": true, "THAN": true, "THEN": true, "THROUGHPUT": true,
	"TIME": true, "TIMESTAMP": true, "TIMEZONE": true, "TINYINT": true, "TO": true,
	"TOKEN": true, "TOTAL": true, "TOUCH": true, "TRAILING": true, "TRANSACTION": true,
	"TRANSFORM": true, "TRANSLATE": true, "TRANSLATION": true, "TREAT": true, "TRIGGER": true,
	"TRIM": true, "TRUE": true, "TRUNCATE": true, "TTL": true, "TUPLE": true,
	"TYPE": true, "UNDER": true, "UNDO": true, "UNION": true, "UNIQUE": true,
	"UNIT": true, "UNKNOWN": true, "UNLOGGED": true, "UNNEST": true, "UNPROCESSED": true,
	"UNSIGNED": true, "UNTIL": true, "UPDATE": true, "UPPER": true, "URL": true,
	"USAGE": true, "USE": true, "USER": true, "USERS": true, "USING": true,
	"UUID": true, "VACUUM": true, "VALUE": true, "VALUED": true, "VALUES": true,
	"VARCHAR": true, "VARIABLE": true, "VARIANCE": true, "VARINT": true, "VARYING": true,
	"VIEW": true, "VIEWS": true, "VIRTUAL": true, "VOID": true, "WAIT": true,
	"WHEN": true, "WHENEVER": true, "WHERE": true, "WHILE": true, "WINDOW": true,
	"WITH": true, "WITHIN": true, "WITHOUT": true, "WORK": true, "WRAPPED": true,
	"WRITE": true, "YEAR": true, "ZONE": true,
}

// maxInValues is the DynamoDB cap on IN operands.
const maxInValues = 100

// Builder compiles key condition, filter and projection expressions. Each
// attribute name and bound value is routed through a placeholder so
// reserved words and arbitrary attribute names never reach the expression
// text directly. Builders are single-use and not safe for concurrent use.
type Builder struct {
	keyConditions    []string
	filterConditions []string
	projections      []string

	names  map[string]string
	values map[string]types.AttributeValue

	nameCounter  int
	valueCounter int
}

// NewBuilder creates an empty expression builder.
func NewBuilder() *Builder {
	return &Builder{
		names:  make(map[string]string),
		values: make(map[string]types.AttributeValue),
	}
}

// AddKeyCondition appends a condition to the key condition expression.
func (b *Builder) AddKeyCondition(name string, op method.Operator, args ...any) error {
	cond, err := b.condition(name, op, args)
	if err != nil {
		return err
	}
	b.keyConditions = append(b.keyConditions, cond)
	return nil
}

// AddFilter appends a condition to the filter expression.
func (b *Builder) AddFilter(name string, op method.Operator, args ...any) error {
	cond, err := b.condition(name, op, args)
	if err != nil {
		return err
	}
	b.filterConditions = append(b.filterConditions, cond)
	return nil
}

// AddProjection appends attribute names to the projection expression.
func (b *Builder) AddProjection(names ...string) {
	for _, name := range names {
		b.projections = append(b.projections, b.addName(name))
	}
}

// Components holds the compiled expression strings and their placeholder
// tables. Empty strings mean the expression is absent.
type Components struct {
	KeyConditionExpression    string
	FilterExpression          string
	ProjectionExpression      string
	ExpressionAttributeNames  map[string]string
	ExpressionAttributeValues map[string]types.AttributeValue
}

// Build joins the accumulated conditions. Conditions combine with AND;
// derived queries have no OR form.
func (b *Builder) Build() Components {
	c := Components{}
	if len(b.keyConditions) > 0 {
		c.KeyConditionExpression = strings.Join(b.keyConditions, " AND ")
	}
	if len(b.filterConditions) > 0 {
		c.FilterExpression = strings.Join(b.filterConditions, " AND ")
	}
	if len(b.projections) > 0 {
		c.ProjectionExpression = strings.Join(b.projections, ", ")
	}
	if len(b.names) > 0 {
		c.ExpressionAttributeNames = b.names
	}
	if len(b.values) > 0 {
		c.ExpressionAttributeValues = b.values
	}
	return c
}

// condition renders one comparison. The operator mapping is total over the
// parsed operator set; IN flattens its single collection argument to one
// placeholder per element.
func (b *Builder) condition(name string, op method.Operator, args []any) (string, error) {
	if want := op.ArgumentCount(); len(args) != want {
		return "", fmt.Errorf("%w: %s takes %d argument(s), got %d", errors.ErrParameterCount, op, want, len(args))
	}
	nameRef := b.addName(name)

	switch op {
	case method.Equals:
		ref, err := b.addValue(args[0])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s = %s", nameRef, ref), nil

	case method.NotEquals:
		ref, err := b.addValue(args[0])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s <> %s", nameRef, ref), nil

	case method.GreaterThan:
		ref, err := b.addValue(args[0])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s > %s", nameRef, ref), nil

	case method.GreaterThanEqual:
		ref, err := b.addValue(args[0])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s >= %s", nameRef, ref), nil

	case method.LessThan:
		ref, err := b.addValue(args[0])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s < %s", nameRef, ref), nil

	case method.LessThanEqual:
		ref, err := b.addValue(args[0])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s <= %s", nameRef, ref), nil

	case method.Between:
		lo, err := b.addValue(args[0])
		if err != nil {
			return "", err
		}
		hi, err := b.addValue(args[1])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s BETWEEN %s AND %s", nameRef, lo, hi), nil

	case method.In:
		elems, err := flatten(args[0])
		if err != nil {
			return "", err
		}
		if len(elems) == 0 {
			return "", fmt.Errorf("%w: %s", errors.ErrEmptyInCollection, name)
		}
		if len(elems) > maxInValues {
			return "", fmt.Errorf("%w: IN supports at most %d values", errors.ErrUnsupportedOperator, maxInValues)
		}
		refs := make([]string, len(elems))
		for i, e := range elems {
			if refs[i], err = b.addValue(e); err != nil {
				return "", err
			}
		}
		return fmt.Sprintf("%s IN (%s)", nameRef, strings.Join(refs, ", ")), nil

	case method.StartingWith:
		ref, err := b.addValue(args[0])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("begins_with(%s, %s)", nameRef, ref), nil

	case method.Containing:
		ref, err := b.addValue(args[0])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("contains(%s, %s)", nameRef, ref), nil

	case method.NotContaining:
		ref, err := b.addValue(args[0])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("NOT contains(%s, %s)", nameRef, ref), nil

	case method.Exists:
		return fmt.Sprintf("attribute_exists(%s)", nameRef), nil

	case method.NotExists:
		return fmt.Sprintf("attribute_not_exists(%s)", nameRef), nil

	case method.IsNull:
		ref, err := b.addValue("NULL")
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("attribute_type(%s, %s)", nameRef, ref), nil

	case method.IsNotNull:
		ref, err := b.addValue("NULL")
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("NOT attribute_type(%s, %s)", nameRef, ref), nil

	default:
		return "", fmt.Errorf("%w: %s", errors.ErrUnsupportedOperator, op)
	}
}

// addName registers an attribute name and returns its placeholder.
// Repeated names reuse their placeholder. Reserved words keep a readable
// #Word form; everything else gets a numbered one.
func (b *Builder) addName(name string) string {
	if strings.Contains(name, ".") {
		parts := strings.Split(name, ".")
		for i, part := range parts {
			parts[i] = b.addName(part)
		}
		return strings.Join(parts, ".")
	}

	for placeholder, existing := range b.names {
		if existing == name {
			return placeholder
		}
	}

	var placeholder string
	if reservedWords[strings.ToUpper(name)] {
		placeholder = "#" + name
	} else {
		b.nameCounter++
		placeholder = fmt.Sprintf("#n%d", b.nameCounter)
	}
	b.names[placeholder] = name
	return placeholder
}

// addValue marshals a bound value and returns its placeholder. Values
// arriving pre-marshaled are stored as-is. Values are never deduplicated;
// each occurrence binds its own placeholder.
func (b *Builder) addValue(value any) (string, error) {
	av, ok := value.(types.AttributeValue)
	if !ok {
		var err error
		if av, err = attributevalue.Marshal(value); err != nil {
			return "", fmt.Errorf("%w: %v", errors.ErrUnsupportedType, err)
		}
	}
	b.valueCounter++
	placeholder := fmt.Sprintf(":v%d", b.valueCounter)
	b.values[placeholder] = av
	return placeholder, nil
}

// flatten expands a slice or array argument into its elements.
func flatten(value any) ([]any, error) {
	rv := reflect.ValueOf(value)
	if !rv.IsValid() {
		return nil, fmt.Errorf("%w: IN requires a collection, got nil", errors.ErrUnsupportedType)
	}
	if rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: IN requires a slice, got %T", errors.ErrUnsupportedType, value)
	}
}
