// Package model provides entity registration and key metadata for dynafind
package model

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/dynafind/dynafind/pkg/errors"
	"github.com/dynafind/dynafind/pkg/naming"
)

// TableNamer lets an entity override the table name derived from its type
// name.
type TableNamer interface {
	TableName() string
}

// Registry manages registered entities and their metadata
type Registry struct {
	mu     sync.RWMutex
	models map[reflect.Type]*Metadata
	tables map[string]*Metadata
}

// NewRegistry creates a new entity registry
func NewRegistry() *Registry {
	return &Registry{
		models: make(map[reflect.Type]*Metadata),
		tables: make(map[string]*Metadata),
	}
}

// Register registers an entity and parses its metadata from struct tags
func (r *Registry) Register(model any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	modelType, err := structType(model)
	if err != nil {
		return err
	}

	if _, exists := r.models[modelType]; exists {
		return nil // Already registered
	}

	metadata, err := parseMetadata(modelType)
	if err != nil {
		return err
	}

	r.models[modelType] = metadata
	r.tables[metadata.TableName] = metadata

	return nil
}

// GetMetadata retrieves metadata for an entity
func (r *Registry) GetMetadata(model any) (*Metadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	modelType, err := structType(model)
	if err != nil {
		return nil, err
	}

	metadata, exists := r.models[modelType]
	if !exists {
		return nil, fmt.Errorf("%w: %s", errors.ErrModelNotRegistered, modelType.Name())
	}

	return metadata, nil
}

// GetMetadataByTable retrieves metadata by table name
func (r *Registry) GetMetadataByTable(tableName string) (*Metadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	metadata, exists := r.tables[tableName]
	if !exists {
		return nil, fmt.Errorf("%w: table %s", errors.ErrModelNotRegistered, tableName)
	}

	return metadata, nil
}

func structType(model any) (reflect.Type, error) {
	modelType := reflect.TypeOf(model)
	if modelType == nil {
		return nil, fmt.Errorf("%w: model is nil", errors.ErrInvalidModel)
	}
	if modelType.Kind() == reflect.Ptr {
		modelType = modelType.Elem()
	}
	if modelType.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: model must be a struct", errors.ErrInvalidModel)
	}
	return modelType, nil
}

// Metadata holds the key metadata for one entity type. It is built once at
// registration, immutable afterwards, and shared read-only across all
// queries for the entity.
type Metadata struct {
	Type       reflect.Type
	TableName  string
	PrimaryKey *KeySchema
	ID         *CompositeID  // nil unless the entity declares an id wrapper
	Indexes    []IndexSchema // declaration order; resolution iterates this, never a map

	// Fields is keyed by property path: the Go field name for top-level
	// fields, "Wrapper.Field" for composite-id constituents.
	Fields         map[string]*FieldMetadata
	FieldsByDBName map[string]*FieldMetadata
}

// KeySchema represents a primary key or index key schema
type KeySchema struct {
	PartitionKey *FieldMetadata
	SortKey      *FieldMetadata
}

// CompositeID describes an id wrapper field whose two constituents map to
// the table's partition and sort key.
type CompositeID struct {
	Field        *FieldMetadata // the wrapper field itself
	Type         reflect.Type
	PartitionKey *FieldMetadata
	SortKey      *FieldMetadata
}

// IndexSchema represents a GSI or LSI schema
type IndexSchema struct {
	Name         string
	Type         IndexType
	PartitionKey *FieldMetadata
	SortKey      *FieldMetadata
}

// IndexType represents the type of index
type IndexType string

const (
	GlobalSecondaryIndex IndexType = "GSI"
	LocalSecondaryIndex  IndexType = "LSI"
)

// FieldMetadata holds metadata for a single field
type FieldMetadata struct {
	Name      string       // Go field name (leaf segment)
	Path      []string     // property path segments from the entity root
	Type      reflect.Type // Go type
	DBName    string       // DynamoDB attribute name
	IndexPath []int        // reflect field index chain for value access
	IsPK      bool         // Is partition key
	IsSK      bool         // Is sort key
	IsID      bool         // Is the composite-id wrapper field
	IndexInfo map[string]IndexRole

	indexOrder []string // index names in tag order
}

// PathString returns the dotted property path ("CustomerID", "ID.UserName").
func (f *FieldMetadata) PathString() string {
	return strings.Join(f.Path, ".")
}

// IndexRole represents a field's role in an index
type IndexRole struct {
	IndexName string
	IsPK      bool
	IsSK      bool
	Local     bool
}

// ResolveProperty resolves clause text against the entity's declared
// properties. Matching is case-sensitive over Go field names; composite-id
// constituents resolve both as "ID.UserName" and as the concatenated
// "IDUserName" a method name produces.
func (m *Metadata) ResolveProperty(text string) (*FieldMetadata, error) {
	if text == "" {
		return nil, errors.ErrUnknownProperty
	}

	if fm, ok := m.Fields[text]; ok {
		return fm, nil
	}

	if m.ID != nil {
		wrapper := m.ID.Field.Name
		if rest, ok := strings.CutPrefix(text, wrapper); ok && rest != "" {
			if fm, ok := m.Fields[wrapper+"."+rest]; ok {
				return fm, nil
			}
		}
	}

	return nil, fmt.Errorf("%w: %q is not a property of %s", errors.ErrUnknownProperty, text, m.Type.Name())
}

// parseMetadata parses entity metadata from struct tags
func parseMetadata(modelType reflect.Type) (*Metadata, error) {
	metadata := &Metadata{
		Type:           modelType,
		TableName:      getTableName(modelType),
		Fields:         make(map[string]*FieldMetadata),
		FieldsByDBName: make(map[string]*FieldMetadata),
		Indexes:        make([]IndexSchema, 0),
	}

	indexes := newIndexBuilder()

	for i := 0; i < modelType.NumField(); i++ {
		field := modelType.Field(i)

		if !field.IsExported() {
			continue
		}

		fieldMeta, err := parseFieldMetadata(field, []string{field.Name}, []int{i})
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", field.Name, err)
		}
		if fieldMeta == nil {
			continue // dynafind:"-"
		}

		metadata.Fields[fieldMeta.PathString()] = fieldMeta

		if fieldMeta.IsID {
			if err := parseCompositeID(metadata, fieldMeta, indexes); err != nil {
				return nil, err
			}
			continue
		}

		metadata.FieldsByDBName[fieldMeta.DBName] = fieldMeta
		if err := applyKeyRoles(metadata, fieldMeta, indexes); err != nil {
			return nil, err
		}
	}

	if metadata.PrimaryKey == nil || metadata.PrimaryKey.PartitionKey == nil {
		return nil, fmt.Errorf("%w: %s", errors.ErrMissingPartitionKey, modelType.Name())
	}

	if metadata.ID != nil && metadata.PrimaryKey.SortKey == nil {
		return nil, fmt.Errorf("%w: composite id on %s requires both a partition and a sort key", errors.ErrInvalidModel, modelType.Name())
	}

	indexSchemas, err := indexes.build(metadata.PrimaryKey)
	if err != nil {
		return nil, err
	}
	metadata.Indexes = indexSchemas

	return metadata, nil
}

// parseCompositeID descends into an id wrapper field, promoting its tagged
// constituents to entity-level keys with nested property paths.
func parseCompositeID(metadata *Metadata, wrapper *FieldMetadata, indexes *indexBuilder) error {
	if metadata.ID != nil {
		return fmt.Errorf("%w: multiple id fields on %s", errors.ErrDuplicateKey, metadata.Type.Name())
	}
	if wrapper.Type.Kind() != reflect.Struct {
		return fmt.Errorf("%w: id field %s must be a struct", errors.ErrInvalidTag, wrapper.Name)
	}

	id := &CompositeID{
		Field: wrapper,
		Type:  wrapper.Type,
	}

	for i := 0; i < wrapper.Type.NumField(); i++ {
		field := wrapper.Type.Field(i)
		if !field.IsExported() {
			continue
		}

		path := append(append([]string{}, wrapper.Path...), field.Name)
		indexPath := append(append([]int{}, wrapper.IndexPath...), i)

		fieldMeta, err := parseFieldMetadata(field, path, indexPath)
		if err != nil {
			return fmt.Errorf("field %s.%s: %w", wrapper.Name, field.Name, err)
		}
		if fieldMeta == nil {
			continue
		}
		if fieldMeta.IsID {
			return fmt.Errorf("%w: nested id field %s.%s", errors.ErrInvalidTag, wrapper.Name, field.Name)
		}

		metadata.Fields[fieldMeta.PathString()] = fieldMeta
		metadata.FieldsByDBName[fieldMeta.DBName] = fieldMeta

		if fieldMeta.IsPK {
			id.PartitionKey = fieldMeta
		}
		if fieldMeta.IsSK {
			id.SortKey = fieldMeta
		}

		if err := applyKeyRoles(metadata, fieldMeta, indexes); err != nil {
			return err
		}
	}

	if id.PartitionKey == nil || id.SortKey == nil {
		return fmt.Errorf("%w: id wrapper %s must declare pk and sk fields", errors.ErrInvalidModel, wrapper.Type.Name())
	}

	metadata.ID = id
	return nil
}

// applyKeyRoles folds one field's key and index declarations into the
// entity metadata.
func applyKeyRoles(metadata *Metadata, fieldMeta *FieldMetadata, indexes *indexBuilder) error {
	if fieldMeta.IsPK {
		if metadata.PrimaryKey == nil {
			metadata.PrimaryKey = &KeySchema{}
		}
		if metadata.PrimaryKey.PartitionKey != nil {
			return fmt.Errorf("field %s: %w", fieldMeta.PathString(), errors.ErrDuplicateKey)
		}
		metadata.PrimaryKey.PartitionKey = fieldMeta
	}

	if fieldMeta.IsSK {
		if metadata.PrimaryKey == nil {
			metadata.PrimaryKey = &KeySchema{}
		}
		if metadata.PrimaryKey.SortKey != nil {
			return fmt.Errorf("field %s: duplicate sort key: %w", fieldMeta.PathString(), errors.ErrDuplicateKey)
		}
		metadata.PrimaryKey.SortKey = fieldMeta
	}

	for _, role := range orderedRoles(fieldMeta) {
		if err := indexes.add(fieldMeta, role); err != nil {
			return err
		}
	}

	return nil
}

// orderedRoles returns a field's index roles in tag-declaration order so
// that registration never depends on map iteration order.
func orderedRoles(fieldMeta *FieldMetadata) []IndexRole {
	roles := make([]IndexRole, 0, len(fieldMeta.indexOrder))
	for _, name := range fieldMeta.indexOrder {
		roles = append(roles, fieldMeta.IndexInfo[name])
	}
	return roles
}

// indexBuilder accumulates index declarations in first-appearance order.
type indexBuilder struct {
	order   []string
	entries map[string]*IndexSchema
}

func newIndexBuilder() *indexBuilder {
	return &indexBuilder{entries: make(map[string]*IndexSchema)}
}

func (b *indexBuilder) add(fieldMeta *FieldMetadata, role IndexRole) error {
	entry, exists := b.entries[role.IndexName]
	if !exists {
		indexType := GlobalSecondaryIndex
		if role.Local {
			indexType = LocalSecondaryIndex
		}
		entry = &IndexSchema{Name: role.IndexName, Type: indexType}
		b.entries[role.IndexName] = entry
		b.order = append(b.order, role.IndexName)
	} else {
		declaredLocal := entry.Type == LocalSecondaryIndex
		if declaredLocal != role.Local {
			return fmt.Errorf("%w: index %q declared as both local and global", errors.ErrDuplicateIndex, role.IndexName)
		}
	}

	if role.IsPK {
		if entry.PartitionKey != nil {
			return fmt.Errorf("%w: duplicate partition key for index %q", errors.ErrDuplicateIndex, role.IndexName)
		}
		entry.PartitionKey = fieldMeta
	}
	if role.IsSK {
		if entry.SortKey != nil {
			return fmt.Errorf("%w: duplicate sort key for index %q", errors.ErrDuplicateIndex, role.IndexName)
		}
		entry.SortKey = fieldMeta
	}

	return nil
}

func (b *indexBuilder) build(primary *KeySchema) ([]IndexSchema, error) {
	schemas := make([]IndexSchema, 0, len(b.order))
	for _, name := range b.order {
		entry := b.entries[name]

		// LSIs share the table's partition key.
		if entry.Type == LocalSecondaryIndex {
			entry.PartitionKey = primary.PartitionKey
			if entry.SortKey == nil {
				return nil, fmt.Errorf("%w: local index %q has no range key", errors.ErrDuplicateIndex, name)
			}
		} else if entry.PartitionKey == nil {
			return nil, fmt.Errorf("%w: global index %q has no partition key", errors.ErrDuplicateIndex, name)
		}

		schemas = append(schemas, *entry)
	}
	return schemas, nil
}

// parseFieldMetadata parses metadata for a single field. It returns
// (nil, nil) for fields tagged dynafind:"-".
func parseFieldMetadata(field reflect.StructField, path []string, indexPath []int) (*FieldMetadata, error) {
	meta := &FieldMetadata{
		Name:      field.Name,
		Path:      path,
		Type:      field.Type,
		DBName:    naming.DefaultAttrName(field.Name),
		IndexPath: indexPath,
		IndexInfo: make(map[string]IndexRole),
	}

	tag := field.Tag.Get("dynafind")
	if tag == "" {
		return meta, nil
	}
	if tag == "-" {
		return nil, nil
	}

	for _, part := range splitTags(tag) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if colonIdx := strings.Index(part, ":"); colonIdx > 0 {
			key := part[:colonIdx]
			value := part[colonIdx+1:]

			switch key {
			case "attr":
				if value == "" {
					return nil, fmt.Errorf("%w: empty attr name", errors.ErrInvalidTag)
				}
				meta.DBName = value
			case "index":
				if err := parseIndexTag(meta, value); err != nil {
					return nil, err
				}
			case "lsi":
				if value == "" {
					return nil, fmt.Errorf("%w: lsi requires an index name", errors.ErrInvalidTag)
				}
				if _, dup := meta.IndexInfo[value]; dup {
					return nil, fmt.Errorf("%w: index %q declared twice", errors.ErrDuplicateIndex, value)
				}
				meta.IndexInfo[value] = IndexRole{
					IndexName: value,
					IsSK:      true,
					Local:     true,
				}
				meta.indexOrder = append(meta.indexOrder, value)
			default:
				return nil, fmt.Errorf("%w: unknown tag %q", errors.ErrInvalidTag, key)
			}
		} else {
			switch part {
			case "pk":
				meta.IsPK = true
			case "sk":
				meta.IsSK = true
			case "id":
				meta.IsID = true
			default:
				return nil, fmt.Errorf("%w: unknown tag %q", errors.ErrInvalidTag, part)
			}
		}
	}

	if meta.IsID && (meta.IsPK || meta.IsSK || len(meta.IndexInfo) > 0) {
		return nil, fmt.Errorf("%w: id field cannot carry key or index roles", errors.ErrInvalidTag)
	}

	return meta, nil
}

// parseIndexTag parses an index tag value ("name" or "name,pk" or "name,sk")
func parseIndexTag(meta *FieldMetadata, value string) error {
	parts := strings.Split(value, ",")
	indexName := strings.TrimSpace(parts[0])
	if indexName == "" {
		return fmt.Errorf("%w: index requires a name", errors.ErrInvalidTag)
	}
	if _, dup := meta.IndexInfo[indexName]; dup {
		return fmt.Errorf("%w: index %q declared twice", errors.ErrDuplicateIndex, indexName)
	}

	role := IndexRole{IndexName: indexName}

	// Default behavior: field is the index partition key if no role given
	if len(parts) == 1 {
		role.IsPK = true
	} else {
		for i := 1; i < len(parts); i++ {
			part := strings.TrimSpace(parts[i])
			if part == "" {
				continue
			}
			switch part {
			case "pk":
				role.IsPK = true
			case "sk":
				role.IsSK = true
			default:
				return fmt.Errorf("%w: unknown index tag modifier %q", errors.ErrInvalidTag, part)
			}
		}
	}

	meta.IndexInfo[indexName] = role
	meta.indexOrder = append(meta.indexOrder, indexName)
	return nil
}

// getTableName derives the table name from the entity type
func getTableName(modelType reflect.Type) string {
	if namer, ok := reflect.New(modelType).Interface().(TableNamer); ok {
		return namer.TableName()
	}

	name := modelType.Name()
	// Convert to plural form (simple version)
	if strings.HasSuffix(name, "s") {
		return name + "es"
	}
	if strings.HasSuffix(name, "y") {
		return name[:len(name)-1] + "ies"
	}
	return name + "s"
}

// splitTags splits struct tags while keeping index role modifiers attached
// to the index part they follow ("index:gsi-email,pk" is one part).
func splitTags(tag string) []string {
	raw := strings.Split(tag, ",")
	parts := make([]string, 0, len(raw))

	for _, part := range raw {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if (part == "pk" || part == "sk") && len(parts) > 0 && strings.HasPrefix(parts[len(parts)-1], "index:") {
			parts[len(parts)-1] += "," + part
			continue
		}

		parts = append(parts, part)
	}

	return parts
}
