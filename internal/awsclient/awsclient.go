// Package awsclient loads the shared AWS configuration and builds the SNS,
// Secrets Manager, and SSM clients. DynamoDB clients are built by
// internal/dynamo on top of the same configuration.
package awsclient

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// Config holds AWS connection parameters shared by every service client.
type Config struct {
	// Region is the AWS region (e.g. "ap-south-1").
	Region string

	// Endpoint overrides the service endpoint for every client, e.g.
	// "http://localhost:4566" for LocalStack. Static test credentials are
	// used when it is set.
	Endpoint string

	// Timeout bounds each HTTP round trip. Zero keeps the SDK default.
	Timeout time.Duration
}

// Load resolves an aws.Config from cfg and the default credential chain.
func Load(ctx context.Context, cfg Config) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("test", "test", ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}

	if cfg.Timeout > 0 {
		awsCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return awsCfg, nil
}

// NewSNS builds an SNS client honouring cfg.Endpoint.
func NewSNS(awsCfg aws.Config, cfg Config) *sns.Client {
	return sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
}

// NewSecretsManager builds a Secrets Manager client honouring cfg.Endpoint.
func NewSecretsManager(awsCfg aws.Config, cfg Config) *secretsmanager.Client {
	return secretsmanager.NewFromConfig(awsCfg, func(o *secretsmanager.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
}

// NewSSM builds an SSM Parameter Store client honouring cfg.Endpoint.
func NewSSM(awsCfg aws.Config, cfg Config) *ssm.Client {
	return ssm.NewFromConfig(awsCfg, func(o *ssm.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
}
