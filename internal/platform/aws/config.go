package aws

import (
	"context"
	"fmt"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"

	cfgpkg "github.com/fatflowers/cashier-receipts/pkg/config"
)

// LoadAWSConfig resolves credentials the standard way (env, shared config,
// instance role) for the configured region.
func LoadAWSConfig(ctx context.Context, cfg *cfgpkg.Config) (sdkaws.Config, error) {
	region := cfg.DynamoDB.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return awsCfg, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return awsCfg, nil
}
