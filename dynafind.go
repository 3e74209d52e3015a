// Package dynafind derives DynamoDB queries from repository method names.
//
// A repository is a struct of func fields. Bind compiles each field's name
// (FindByCustomerIDAndOrderDateBetween, CountByStatus, ...) against the
// entity's key metadata once, picks the access path (GetItem, Query on the
// table or an index, or Scan), and installs an implementation:
//
//	type OrderRepository struct {
//		FindByID            func(ctx context.Context, id string) (*Order, error)
//		FindByCustomerID    func(ctx context.Context, c string) ([]Order, error)
//		CountByCustomerID   func(ctx context.Context, c string) (int64, error)
//		DeleteByCustomerID  func(ctx context.Context, c string) error
//	}
//
//	db, err := dynafind.New(dynafind.Config{Region: "us-east-1"})
//	...
//	var repo OrderRepository
//	if err := db.Bind(&repo, &Order{}); err != nil {
//		log.Fatal(err)
//	}
//	orders, err := repo.FindByCustomerID(ctx, "c-1")
//
// Misdeclared methods fail at Bind, not on first call.
package dynafind

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dynafind/dynafind/pkg/core"
	"github.com/dynafind/dynafind/pkg/dynamo"
	"github.com/dynafind/dynafind/pkg/index"
	"github.com/dynafind/dynafind/pkg/model"
	"github.com/dynafind/dynafind/pkg/repository"
	"github.com/dynafind/dynafind/pkg/request"
	"github.com/dynafind/dynafind/pkg/session"
)

// DB owns one AWS session, one entity registry and one storage layer.
// Repositories bound through the same DB share all three.
type DB struct {
	session  *session.Session
	registry *model.Registry
	ops      core.Operations
	log      *zap.Logger
}

// Option configures a DB beyond its session config.
type Option func(*DB)

// WithLogger routes the storage layer's and binder's debug entries to log.
// The default is zap.NewNop().
func WithLogger(log *zap.Logger) Option {
	return func(db *DB) { db.log = log }
}

// New creates a DB with the given session configuration.
func New(config Config, opts ...Option) (*DB, error) {
	sess, err := session.NewSession(&config)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	db := &DB{
		session:  sess,
		registry: model.NewRegistry(),
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(db)
	}
	db.ops = dynamo.New(sess.Client(), dynamo.WithLogger(db.log))
	return db, nil
}

// NewWithClient creates a DB over an existing low-level client. Tests and
// local-endpoint setups use this to skip AWS config loading.
func NewWithClient(client dynamo.DynamoDBAPI, opts ...Option) *DB {
	db := &DB{
		registry: model.NewRegistry(),
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(db)
	}
	db.ops = dynamo.New(client, dynamo.WithLogger(db.log))
	return db
}

// Register parses and caches key metadata for the given entities. Bind and
// Repository register on demand; registering up front moves tag errors to
// startup.
func (db *DB) Register(entities ...any) error {
	for _, entity := range entities {
		if err := db.registry.Register(entity); err != nil {
			return err
		}
	}
	return nil
}

// Bind compiles and installs every exported func field of repo against the
// entity's metadata. See the package example.
func (db *DB) Bind(repo, entity any) error {
	return repository.Bind(repo, entity, db.registry, db.ops, repository.WithLogger(db.log))
}

// Repository returns the dynamic name-and-arguments surface for an entity,
// for callers that build method names at runtime instead of declaring a
// repository struct.
func (db *DB) Repository(entity any) (*repository.Repository, error) {
	return repository.New(entity, db.registry, db.ops, repository.WithLogger(db.log))
}

// Save writes an entity unconditionally, replacing any existing item with
// the same key.
func (db *DB) Save(ctx context.Context, entity any) error {
	meta, err := db.metadata(entity)
	if err != nil {
		return err
	}
	return db.ops.Put(ctx, &core.PutRequest{
		TableName: meta.TableName,
		Entity:    entity,
	})
}

// Create writes an entity only if no item with its partition key exists,
// returning errors.ErrConditionFailed otherwise.
func (db *DB) Create(ctx context.Context, entity any) error {
	meta, err := db.metadata(entity)
	if err != nil {
		return err
	}
	return db.ops.Put(ctx, &core.PutRequest{
		TableName:   meta.TableName,
		Entity:      entity,
		IfNotExists: meta.PrimaryKey.PartitionKey.DBName,
	})
}

// Delete removes the item addressed by the entity's key values. Deleting an
// absent item is not an error.
func (db *DB) Delete(ctx context.Context, entity any) error {
	meta, err := db.metadata(entity)
	if err != nil {
		return err
	}
	key, err := request.Key(meta, entity)
	if err != nil {
		return err
	}
	return db.ops.DeleteKey(ctx, &core.LoadRequest{
		TableName: meta.TableName,
		Key:       key,
	})
}

// Session exposes the underlying AWS session. It is nil when the DB was
// built with NewWithClient.
func (db *DB) Session() *session.Session {
	return db.session
}

func (db *DB) metadata(entity any) (*model.Metadata, error) {
	if err := db.registry.Register(entity); err != nil {
		return nil, err
	}
	return db.registry.GetMetadata(entity)
}

// Re-export types for convenience
type (
	Config = session.Config
	Flags  = index.Flags
)
