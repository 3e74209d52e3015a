// Package session manages AWS configuration and the DynamoDB client.
package session

import (
	"context"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// configLoadFunc is a variable so tests can substitute config loading.
var configLoadFunc = config.LoadDefaultConfig

// Config holds the connection settings for a dynafind session.
type Config struct {
	CredentialsProvider aws.CredentialsProvider
	Region              string

	// Endpoint overrides the DynamoDB endpoint, for local instances.
	Endpoint string

	AWSConfigOptions []func(*config.LoadOptions) error
	DynamoDBOptions  []func(*dynamodb.Options)
	MaxRetries       int
}

// DefaultConfig returns the default connection settings.
func DefaultConfig() *Config {
	return &Config{
		Region:     "us-east-1",
		MaxRetries: 3,
	}
}

// Session holds the loaded AWS configuration and the DynamoDB client built
// from it.
type Session struct {
	config    *Config
	client    *dynamodb.Client
	awsConfig aws.Config
}

// NewSession loads AWS configuration and constructs the DynamoDB client.
func NewSession(cfg *Config) (*Session, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	options := make([]func(*config.LoadOptions) error, 0, len(cfg.AWSConfigOptions)+4)
	if cfg.Region != "" {
		options = append(options, config.WithRegion(cfg.Region))
	}
	if cfg.CredentialsProvider != nil {
		options = append(options, config.WithCredentialsProvider(cfg.CredentialsProvider))
	}

	maxAttempts := cfg.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	options = append(options, config.WithRetryMode(aws.RetryModeStandard))
	options = append(options, config.WithRetryMaxAttempts(maxAttempts))
	options = append(options, cfg.AWSConfigOptions...)

	awsConfig, err := configLoadFunc(context.Background(), options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if awsConfig.Retryer == nil {
		awsConfig.Retryer = func() aws.Retryer {
			return retry.NewStandard(func(o *retry.StandardOptions) {
				o.MaxAttempts = maxAttempts
			})
		}
	}

	clientOptions := []func(*dynamodb.Options){
		func(o *dynamodb.Options) {
			o.Region = awsConfig.Region
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
			if o.Retryer == nil {
				o.Retryer = awsConfig.Retryer()
			}
			if o.HTTPClient == nil {
				o.HTTPClient = &http.Client{}
			}
		},
	}
	clientOptions = append(clientOptions, cfg.DynamoDBOptions...)

	return &Session{
		config:    cfg,
		awsConfig: awsConfig,
		client:    dynamodb.NewFromConfig(awsConfig, clientOptions...),
	}, nil
}

// Client returns the DynamoDB client.
func (s *Session) Client() *dynamodb.Client {
	return s.client
}

// Config returns the session configuration.
func (s *Session) Config() *Config {
	return s.config
}

// AWSConfig returns the loaded AWS configuration.
func (s *Session) AWSConfig() aws.Config {
	return s.awsConfig
}
