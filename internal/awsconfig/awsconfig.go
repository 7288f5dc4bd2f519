// Package awsconfig builds the shared AWS configuration and resolves the
// identity of the management account the service runs in.
package awsconfig

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/config"
)

// Load returns the AWS configuration for all service clients. A custom
// endpoint (for example a local emulator) is applied to every client.
func Load(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	opts := []func(*awscfg.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awscfg.WithRegion(cfg.Region))
	}
	if cfg.AWSEndpointURL != "" {
		opts = append(opts, awscfg.WithBaseEndpoint(cfg.AWSEndpointURL))
	}
	if cfg.AWSAccessKeyID != "" && cfg.AWSSecretAccessKey != "" {
		opts = append(opts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
		))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	if awsCfg.Region == "" {
		return aws.Config{}, fmt.Errorf("load aws config: no region configured")
	}
	return awsCfg, nil
}

// STSAPI is the subset of *sts.Client used here.
type STSAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// ManagementAccountID returns configured when set, otherwise the account
// of the caller's credentials.
func ManagementAccountID(ctx context.Context, api STSAPI, configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	out, err := api.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("get caller identity: %w", err)
	}
	account := aws.ToString(out.Account)
	if account == "" {
		return "", fmt.Errorf("get caller identity: empty account")
	}
	return account, nil
}

// AdministrationRoleARN is the Control Tower stack set administration role
// in the management account.
func AdministrationRoleARN(managementAccountID string) string {
	return fmt.Sprintf("arn:aws:iam::%s:role/service-role/AWSControlTowerStackSetRole", managementAccountID)
}
