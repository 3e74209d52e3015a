// lambda.go
package dynafind

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
)

var (
	// Process-wide instance reused across warm invocations.
	globalLambdaDB *LambdaDB
	lambdaMu       sync.Mutex

	// Swapped in tests.
	newLambdaDB = buildLambdaDB
)

// LambdaDB is a DB tuned for AWS Lambda: one instance per process, created
// on the cold start and reused by every warm invocation, with the HTTP
// connection pool sized to the function's memory allocation.
type LambdaDB struct {
	*DB
}

// NewLambda returns the process-wide instance, creating it on first use.
// Call it from the handler rather than init so a failed cold start surfaces
// as an invocation error.
func NewLambda(opts ...Option) (*LambdaDB, error) {
	lambdaMu.Lock()
	defer lambdaMu.Unlock()
	if globalLambdaDB != nil {
		return globalLambdaDB, nil
	}

	db, err := newLambdaDB(opts)
	if err != nil {
		// Leave the global unset so the next invocation retries the
		// cold start instead of being handed a nil instance.
		return nil, err
	}
	globalLambdaDB = db
	return db, nil
}

func buildLambdaDB(opts []Option) (*LambdaDB, error) {
	maxConns := 10
	switch memoryMB := LambdaMemoryMB(); {
	case memoryMB == 0:
	case memoryMB <= 512:
		maxConns = 5
	case memoryMB > 1024:
		maxConns = 20
	}

	httpClient := &http.Client{
		Timeout: 5 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        maxConns,
			MaxIdleConnsPerHost: maxConns,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	cfg := Config{
		Region:     lambdaRegion(),
		MaxRetries: 3,
		AWSConfigOptions: []func(*config.LoadOptions) error{
			config.WithHTTPClient(httpClient),
			config.WithRetryMode(aws.RetryModeAdaptive),
		},
	}

	db, err := New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &LambdaDB{DB: db}, nil
}

// PreRegister parses entity metadata during the cold start, keeping tag
// parsing out of the first invocation's latency.
func (ldb *LambdaDB) PreRegister(entities ...any) error {
	return ldb.Register(entities...)
}

// WithTimeoutBuffer derives a context that expires one second before the
// invocation deadline, leaving room to return an error instead of being
// killed mid-call. Without a deadline it falls back to WithCancel.
func WithTimeoutBuffer(ctx context.Context) (context.Context, context.CancelFunc) {
	deadline, ok := ctx.Deadline()
	if !ok {
		return context.WithCancel(ctx)
	}
	return context.WithDeadline(ctx, deadline.Add(-time.Second))
}

// IsLambdaEnvironment reports whether the process runs inside AWS Lambda.
func IsLambdaEnvironment() bool {
	return os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != ""
}

// LambdaMemoryMB returns the function's memory allocation in MB, or 0
// outside Lambda.
func LambdaMemoryMB() int {
	mem, err := strconv.Atoi(os.Getenv("AWS_LAMBDA_FUNCTION_MEMORY_SIZE"))
	if err != nil {
		return 0
	}
	return mem
}

func lambdaRegion() string {
	if region := os.Getenv("AWS_REGION"); region != "" {
		return region
	}
	return "us-east-1"
}
