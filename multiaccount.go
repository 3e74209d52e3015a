// multiaccount.go
package dynafind

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// MultiAccount routes operations to per-account DB instances, assuming an
// IAM role in each target account. Instances are cached until their STS
// session nears expiry and rebuilt on the next Account call.
type MultiAccount struct {
	base       *LambdaDB
	baseConfig aws.Config

	mu       sync.RWMutex
	accounts map[string]AccountConfig
	cache    sync.Map // account id -> *accountEntry
}

// AccountConfig holds the role to assume in one target account.
type AccountConfig struct {
	RoleARN    string
	ExternalID string
	Region     string

	// SessionDuration bounds the assumed-role session; the STS default is
	// one hour.
	SessionDuration time.Duration
}

// NewMultiAccount creates a multi-account DB over the given account
// registry. The zero-id account is the caller's own.
func NewMultiAccount(accounts map[string]AccountConfig, opts ...Option) (*MultiAccount, error) {
	base, err := NewLambda(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create base DB: %w", err)
	}

	baseConfig, err := config.LoadDefaultConfig(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to load base AWS config: %w", err)
	}

	if accounts == nil {
		accounts = make(map[string]AccountConfig)
	}
	return &MultiAccount{
		base:       base,
		baseConfig: baseConfig,
		accounts:   accounts,
	}, nil
}

// Account returns the DB for an account id, assuming its role on first use.
// The empty id returns the base DB.
func (m *MultiAccount) Account(id string) (*DB, error) {
	if id == "" {
		return m.base.DB, nil
	}

	if cached, ok := m.cache.Load(id); ok {
		if entry := cached.(*accountEntry); !entry.expired() {
			return entry.db, nil
		}
	}

	m.mu.RLock()
	account, ok := m.accounts[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown account: %s", id)
	}

	return m.assume(id, account)
}

// AddAccount registers or replaces an account configuration.
func (m *MultiAccount) AddAccount(id string, cfg AccountConfig) {
	m.mu.Lock()
	m.accounts[id] = cfg
	m.mu.Unlock()

	m.cache.Delete(id)
}

// RemoveAccount drops an account and its cached instance.
func (m *MultiAccount) RemoveAccount(id string) {
	m.mu.Lock()
	delete(m.accounts, id)
	m.mu.Unlock()

	m.cache.Delete(id)
}

func (m *MultiAccount) assume(id string, account AccountConfig) (*DB, error) {
	stsClient := sts.NewFromConfig(m.baseConfig)

	duration := account.SessionDuration
	if duration == 0 {
		duration = time.Hour
	}

	creds := stscreds.NewAssumeRoleProvider(stsClient, account.RoleARN, func(o *stscreds.AssumeRoleOptions) {
		if account.ExternalID != "" {
			o.ExternalID = aws.String(account.ExternalID)
		}
		o.RoleSessionName = "dynafind-" + id
		o.Duration = duration
	})

	db, err := New(Config{
		Region:              account.Region,
		CredentialsProvider: aws.NewCredentialsCache(creds),
		MaxRetries:          3,
	}, WithLogger(m.base.log))
	if err != nil {
		return nil, fmt.Errorf("failed to create DB for account %s: %w", id, err)
	}

	// Rebuild five minutes before the STS session runs out.
	m.cache.Store(id, &accountEntry{
		db:     db,
		expiry: time.Now().Add(duration - 5*time.Minute),
	})
	return db, nil
}

type accountEntry struct {
	db     *DB
	expiry time.Time
}

func (e *accountEntry) expired() bool {
	return time.Now().After(e.expiry)
}

type accountContextKey struct{}

// AccountContext tags ctx with the account id handling the request, for
// handlers that resolve the target account from their context.
func AccountContext(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, accountContextKey{}, id)
}

// AccountFromContext returns the account id set by AccountContext, or "".
func AccountFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(accountContextKey{}).(string); ok {
		return id
	}
	return ""
}
