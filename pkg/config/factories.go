package config

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/mitchellh/mapstructure"

	"github.com/vfsio/workerkit/internal/worker"
	fileworker "github.com/vfsio/workerkit/internal/workers/file"
	s3worker "github.com/vfsio/workerkit/internal/workers/s3"
)

// CreateHandler builds the scheme handler selected by the configuration.
// The Type field picks the implementation; the matching type-specific map
// is decoded into that scheme's settings.
func CreateHandler(ctx context.Context, cfg *SchemeConfig, log *slog.Logger) (worker.Handler, error) {
	switch cfg.Type {
	case "file":
		return fileworker.New(log), nil
	case "s3":
		return createS3Handler(ctx, cfg.S3, log)
	default:
		return nil, fmt.Errorf("unknown scheme type: %q", cfg.Type)
	}
}

// createS3Handler builds the s3 scheme handler and its client.
func createS3Handler(ctx context.Context, options map[string]any, log *slog.Logger) (worker.Handler, error) {
	type S3SchemeConfig struct {
		Region          string `mapstructure:"region"`
		Endpoint        string `mapstructure:"endpoint"`
		AccessKeyID     string `mapstructure:"access_key_id"`
		SecretAccessKey string `mapstructure:"secret_access_key"`
		MaxRetries      int    `mapstructure:"max_retries"`
	}

	var schemeCfg S3SchemeConfig
	if err := mapstructure.Decode(options, &schemeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode s3 scheme config: %w", err)
	}
	if schemeCfg.Region == "" {
		return nil, fmt.Errorf("s3 scheme: region is required")
	}

	var configOptions []func(*awsConfig.LoadOptions) error
	configOptions = append(configOptions, awsConfig.WithRegion(schemeCfg.Region))

	// Custom endpoint supports MinIO, Localstack and other S3-compatible
	// targets.
	if schemeCfg.Endpoint != "" {
		//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
		customResolver := aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
				return aws.Endpoint{
					URL:               schemeCfg.Endpoint,
					HostnameImmutable: true,
					Source:            aws.EndpointSourceCustom,
				}, nil
			},
		)
		//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
		configOptions = append(configOptions, awsConfig.WithEndpointResolverWithOptions(customResolver))
	}

	// Static credentials when given, otherwise the default chain.
	if schemeCfg.AccessKeyID != "" && schemeCfg.SecretAccessKey != "" {
		credProvider := credentials.NewStaticCredentialsProvider(
			schemeCfg.AccessKeyID,
			schemeCfg.SecretAccessKey,
			"",
		)
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(credProvider))
	}

	maxRetries := schemeCfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// Path-style addressing for MinIO/Localstack compatibility.
		if schemeCfg.Endpoint != "" {
			o.UsePathStyle = true
		}
	})

	return s3worker.New(client, log), nil
}
