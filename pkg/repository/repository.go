package repository

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/dynafind/dynafind/pkg/core"
	"github.com/dynafind/dynafind/pkg/errors"
	"github.com/dynafind/dynafind/pkg/index"
	"github.com/dynafind/dynafind/pkg/model"
)

// Option configures Bind and New.
type Option func(*settings)

type settings struct {
	log *zap.Logger
}

func newSettings(opts []Option) *settings {
	s := &settings{log: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithLogger routes compile-time debug entries to log.
func WithLogger(log *zap.Logger) Option {
	return func(s *settings) { s.log = log }
}

// Repository is the name-and-arguments surface over one entity: callers
// pass a method name and its ordered argument list instead of declaring a
// struct. Compiled plans are cached per name and flag set; entries are
// immutable once built, so concurrent callers share them freely.
type Repository struct {
	meta *model.Metadata
	ops  core.Operations
	log  *zap.Logger

	mu    sync.RWMutex
	plans map[planKey]*Plan
}

type planKey struct {
	name  string
	flags index.Flags
}

// New builds a Repository for an entity, registering it if needed.
func New(entity any, registry *model.Registry, ops core.Operations, opts ...Option) (*Repository, error) {
	if err := registry.Register(entity); err != nil {
		return nil, err
	}
	meta, err := registry.GetMetadata(entity)
	if err != nil {
		return nil, err
	}
	return &Repository{
		meta:  meta,
		ops:   ops,
		log:   newSettings(opts).log,
		plans: make(map[planKey]*Plan),
	}, nil
}

// Plan returns the compiled plan for a method name under the given flags,
// compiling and caching it on first use.
func (r *Repository) Plan(name string, flags index.Flags) (*Plan, error) {
	key := planKey{name: name, flags: flags}

	r.mu.RLock()
	plan, ok := r.plans[key]
	r.mu.RUnlock()
	if ok {
		return plan, nil
	}

	plan, err := CompileDynamic(name, r.meta, flags)
	if err != nil {
		return nil, errors.New("plan", name, err)
	}
	r.log.Debug("plan compiled",
		zap.String("method", name),
		zap.String("kind", string(plan.Path.Kind)),
		zap.String("index", plan.Path.IndexName))

	r.mu.Lock()
	if cached, ok := r.plans[key]; ok {
		plan = cached
	} else {
		r.plans[key] = plan
	}
	r.mu.Unlock()
	return plan, nil
}

// Call invokes a method name with default flags. Find methods return the
// full result slice, count methods int64, exists methods bool and delete
// methods a nil result.
func (r *Repository) Call(ctx context.Context, name string, args ...any) (any, error) {
	return r.CallWith(ctx, index.Flags{}, name, args...)
}

// CallWith invokes a method name under explicit flags.
func (r *Repository) CallWith(ctx context.Context, flags index.Flags, name string, args ...any) (any, error) {
	plan, err := r.Plan(name, flags)
	if err != nil {
		return nil, err
	}
	if want := plan.Tree.ArgumentCount(); len(args) != want {
		return nil, errors.New("call", name,
			fmt.Errorf("%w: %s binds %d value(s), got %d", errors.ErrParameterCount, name, want, len(args)))
	}

	result, err := plan.run(ctx, r.ops, args)
	if err != nil {
		return nil, err
	}
	if !result.IsValid() {
		return nil, nil
	}
	return result.Interface(), nil
}
