package model

import (
	"fmt"
	"io"
	"reflect"

	"gopkg.in/yaml.v3"

	"github.com/dynafind/dynafind/pkg/errors"
	"github.com/dynafind/dynafind/pkg/naming"
)

// Schema is the root of a YAML key-schema document. It declares the same
// information the struct tags carry, for codebases that keep table layouts
// in config instead of annotating entity types.
type Schema struct {
	Tables []TableSchema `yaml:"tables"`
}

// TableSchema describes one entity's table and key layout. Key and index
// declarations name Go properties of the entity struct; wire attribute
// names come from the attributes map, defaulting to the usual camelCase
// derivation.
type TableSchema struct {
	Table        string              `yaml:"table"`
	PartitionKey string              `yaml:"partitionKey"`
	SortKey      string              `yaml:"sortKey,omitempty"`
	ID           *IDSchema           `yaml:"id,omitempty"`
	Attributes   map[string]string   `yaml:"attributes,omitempty"`
	LocalIndexes []LocalIndexSchema  `yaml:"localIndexes,omitempty"`
	GSIs         []GlobalIndexSchema `yaml:"gsis,omitempty"`
}

// IDSchema declares a composite-id wrapper property and its constituents.
type IDSchema struct {
	Property     string `yaml:"property"`
	PartitionKey string `yaml:"partitionKey"`
	SortKey      string `yaml:"sortKey"`
}

// LocalIndexSchema describes a Local Secondary Index.
type LocalIndexSchema struct {
	Name     string `yaml:"name"`
	RangeKey string `yaml:"rangeKey"`
}

// GlobalIndexSchema describes a Global Secondary Index.
type GlobalIndexSchema struct {
	Name     string `yaml:"name"`
	HashKey  string `yaml:"hashKey"`
	RangeKey string `yaml:"rangeKey,omitempty"`
}

// LoadSchema parses a YAML schema document.
func LoadSchema(r io.Reader) (*Schema, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}

	var schema Schema
	if err := yaml.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}

	for _, table := range schema.Tables {
		if table.Table == "" {
			return nil, fmt.Errorf("%w: schema table with no name", errors.ErrInvalidModel)
		}
		if table.PartitionKey == "" && table.ID == nil {
			return nil, fmt.Errorf("%w: schema table %q declares no partition key", errors.ErrMissingPartitionKey, table.Table)
		}
	}

	return &schema, nil
}

// Table returns the schema entry for the named table.
func (s *Schema) Table(name string) (*TableSchema, bool) {
	for i := range s.Tables {
		if s.Tables[i].Table == name {
			return &s.Tables[i], true
		}
	}
	return nil, false
}

// RegisterWithSchema registers an entity using a YAML table schema instead
// of struct tags. The entity struct still supplies field names and types;
// the schema supplies key roles, index declarations, and wire names.
func (r *Registry) RegisterWithSchema(model any, table *TableSchema) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	modelType, err := structType(model)
	if err != nil {
		return err
	}

	if _, exists := r.models[modelType]; exists {
		return nil
	}

	metadata, err := buildFromSchema(modelType, table)
	if err != nil {
		return err
	}

	r.models[modelType] = metadata
	r.tables[metadata.TableName] = metadata

	return nil
}

// buildFromSchema assembles Metadata from a schema declaration, resolving
// every named property against the entity struct.
func buildFromSchema(modelType reflect.Type, table *TableSchema) (*Metadata, error) {
	metadata := &Metadata{
		Type:           modelType,
		TableName:      table.Table,
		Fields:         make(map[string]*FieldMetadata),
		FieldsByDBName: make(map[string]*FieldMetadata),
		Indexes:        make([]IndexSchema, 0, len(table.LocalIndexes)+len(table.GSIs)),
	}

	scanSchemaFields(metadata, modelType, table, nil, nil)

	if table.ID != nil {
		if err := applySchemaID(metadata, modelType, table); err != nil {
			return nil, err
		}
	} else {
		pk, err := schemaField(metadata, table.PartitionKey)
		if err != nil {
			return nil, err
		}
		pk.IsPK = true
		metadata.PrimaryKey = &KeySchema{PartitionKey: pk}

		if table.SortKey != "" {
			sk, err := schemaField(metadata, table.SortKey)
			if err != nil {
				return nil, err
			}
			sk.IsSK = true
			metadata.PrimaryKey.SortKey = sk
		}
	}

	seen := make(map[string]bool)

	for _, lsi := range table.LocalIndexes {
		if lsi.Name == "" || seen[lsi.Name] {
			return nil, fmt.Errorf("%w: local index %q", errors.ErrDuplicateIndex, lsi.Name)
		}
		seen[lsi.Name] = true

		rangeKey, err := schemaField(metadata, lsi.RangeKey)
		if err != nil {
			return nil, err
		}
		rangeKey.IndexInfo[lsi.Name] = IndexRole{IndexName: lsi.Name, IsSK: true, Local: true}
		metadata.Indexes = append(metadata.Indexes, IndexSchema{
			Name:         lsi.Name,
			Type:         LocalSecondaryIndex,
			PartitionKey: metadata.PrimaryKey.PartitionKey,
			SortKey:      rangeKey,
		})
	}

	for _, gsi := range table.GSIs {
		if gsi.Name == "" || seen[gsi.Name] {
			return nil, fmt.Errorf("%w: global index %q", errors.ErrDuplicateIndex, gsi.Name)
		}
		seen[gsi.Name] = true

		hashKey, err := schemaField(metadata, gsi.HashKey)
		if err != nil {
			return nil, err
		}
		hashKey.IndexInfo[gsi.Name] = IndexRole{IndexName: gsi.Name, IsPK: true}

		schema := IndexSchema{
			Name:         gsi.Name,
			Type:         GlobalSecondaryIndex,
			PartitionKey: hashKey,
		}

		if gsi.RangeKey != "" {
			rangeKey, err := schemaField(metadata, gsi.RangeKey)
			if err != nil {
				return nil, err
			}
			rangeKey.IndexInfo[gsi.Name] = IndexRole{IndexName: gsi.Name, IsSK: true}
			schema.SortKey = rangeKey
		}

		metadata.Indexes = append(metadata.Indexes, schema)
	}

	return metadata, nil
}

// scanSchemaFields walks the entity struct (and the schema-declared id
// wrapper, when present) building FieldMetadata for every exported field.
func scanSchemaFields(metadata *Metadata, modelType reflect.Type, table *TableSchema, pathPrefix []string, indexPrefix []int) {
	for i := 0; i < modelType.NumField(); i++ {
		field := modelType.Field(i)
		if !field.IsExported() {
			continue
		}

		path := append(append([]string{}, pathPrefix...), field.Name)
		indexPath := append(append([]int{}, indexPrefix...), i)

		fieldMeta := &FieldMetadata{
			Name:      field.Name,
			Path:      path,
			Type:      field.Type,
			DBName:    naming.DefaultAttrName(field.Name),
			IndexPath: indexPath,
			IndexInfo: make(map[string]IndexRole),
		}

		pathString := fieldMeta.PathString()
		if override, ok := table.Attributes[pathString]; ok && override != "" {
			fieldMeta.DBName = override
		}

		metadata.Fields[pathString] = fieldMeta

		isWrapper := table.ID != nil && len(pathPrefix) == 0 && field.Name == table.ID.Property
		if isWrapper && field.Type.Kind() == reflect.Struct {
			fieldMeta.IsID = true
			scanSchemaFields(metadata, field.Type, table, path, indexPath)
			continue
		}

		metadata.FieldsByDBName[fieldMeta.DBName] = fieldMeta
	}
}

// applySchemaID wires a schema-declared composite id: the wrapper property
// plus its partition and sort constituents.
func applySchemaID(metadata *Metadata, modelType reflect.Type, table *TableSchema) error {
	wrapper, ok := metadata.Fields[table.ID.Property]
	if !ok || !wrapper.IsID {
		return fmt.Errorf("%w: id property %q is not a struct field of %s", errors.ErrUnknownProperty, table.ID.Property, modelType.Name())
	}

	pk, err := schemaField(metadata, table.ID.Property+"."+table.ID.PartitionKey)
	if err != nil {
		return err
	}
	sk, err := schemaField(metadata, table.ID.Property+"."+table.ID.SortKey)
	if err != nil {
		return err
	}

	pk.IsPK = true
	sk.IsSK = true
	metadata.PrimaryKey = &KeySchema{PartitionKey: pk, SortKey: sk}
	metadata.ID = &CompositeID{
		Field:        wrapper,
		Type:         wrapper.Type,
		PartitionKey: pk,
		SortKey:      sk,
	}

	return nil
}

func schemaField(metadata *Metadata, property string) (*FieldMetadata, error) {
	if property == "" {
		return nil, fmt.Errorf("%w: empty property in schema", errors.ErrUnknownProperty)
	}
	fieldMeta, ok := metadata.Fields[property]
	if !ok {
		return nil, fmt.Errorf("%w: schema property %q not found on %s", errors.ErrUnknownProperty, property, metadata.Type.Name())
	}
	return fieldMeta, nil
}
