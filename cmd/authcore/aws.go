package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/ridewise/authcore/internal/config"
)

// loadAWSConfig resolves the SDK config shared by the Secrets Manager, SSM,
// and SNS clients. cfg.AWS.Endpoint overrides the default resolver the same
// way internal/dynamo.NewClient does, for LocalStack-backed development.
func loadAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.AWS.Region),
	}
	if cfg.AWS.Endpoint != "" {
		opts = append(opts, awsconfig.WithBaseEndpoint(cfg.AWS.Endpoint))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load AWS config: %w", err)
	}
	return awsCfg, nil
}
