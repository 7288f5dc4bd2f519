// Package core wires the onboarding components to their AWS and New Relic
// clients. Both binaries build their dependencies through NewServices.
package core

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/rs/zerolog"

	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/awsconfig"
	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/config"
	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/controlplane"
	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/customresource"
	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/model"
	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/nerdgraph"
	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/onboarding"
	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/retry"
	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/secrets"
	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/template"
	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/transport"
)

type Services struct {
	SQS            *sqs.Client
	ControlPlane   *controlplane.CloudFormation
	Publisher      *transport.AWSPublisher
	Trigger        *onboarding.Trigger
	Dispatcher     *onboarding.Dispatcher
	Poller         *onboarding.Poller
	Decommissioner *onboarding.Decommissioner
	CustomResource *customresource.Handler
}

func NewServices(ctx context.Context, cfg *config.Config, awsCfg aws.Config, logger zerolog.Logger) (*Services, error) {
	sqsClient := sqs.NewFromConfig(awsCfg)
	gw := controlplane.NewCloudFormation(cloudformation.NewFromConfig(awsCfg), logger)
	pub := transport.NewAWSPublisher(sns.NewFromConfig(awsCfg), sqsClient, transport.Queues{
		TopicARN:         cfg.StackTopicARN,
		DispatchQueueURL: cfg.StackQueueURL,
		PollQueueURL:     cfg.RegisterQueueURL,
		DeadLetterURL:    cfg.DeadLetterQueueURL,
	}, logger)

	resource, err := NewResource(ctx, cfg, sts.NewFromConfig(awsCfg))
	if err != nil {
		return nil, err
	}

	var verifier onboarding.TemplateVerifier
	if cfg.VerifyTemplate {
		verifier = template.NewVerifier(s3.NewFromConfig(awsCfg), logger)
	}

	tlsConfig, err := cfg.RegistrationTLS()
	if err != nil {
		return nil, fmt.Errorf("configure nerdgraph TLS: %w", err)
	}
	registrar := onboarding.NewRegistrar(
		nerdgraph.NewClient(cfg.NerdGraphEndpoint, tlsConfig, logger),
		secrets.NewSecretsManager(secretsmanager.NewFromConfig(awsCfg)),
		onboarding.RegistrarConfig{
			SecretID:            cfg.NewRelicSecret,
			MonitoringAccountID: cfg.NewRelicAccountID,
			CatalogSource:       cfg.CatalogSource,
		},
		logger,
	)

	trigger := onboarding.NewTrigger(gw, pub, verifier, onboarding.TriggerConfig{
		Resource:     resource,
		SeedAccounts: cfg.SeedAccounts,
		HomeRegion:   cfg.Region,
		SeedDispatch: cfg.SeedDispatch,
		PollDelay:    cfg.PollRetryDelay,
	}, logger)
	decommissioner := onboarding.NewDecommissioner(gw, cfg.DeleteWaitBudget, cfg.DeleteSleep, logger)

	return &Services{
		SQS:            sqsClient,
		ControlPlane:   gw,
		Publisher:      pub,
		Trigger:        trigger,
		Dispatcher:     onboarding.NewDispatcher(gw, pub, retry.Fixed(cfg.DispatchRetryDelay, cfg.DispatchMaxAttempts), cfg.PollRetryDelay, logger),
		Poller:         onboarding.NewPoller(gw, pub, registrar, retry.Fixed(cfg.PollRetryDelay, cfg.PollMaxAttempts), logger),
		Decommissioner: decommissioner,
		CustomResource: customresource.NewHandler(trigger, decommissioner, cfg.StackSetName, logger),
	}, nil
}

// NewResource builds the stack set definition from config. Parameters from
// the parameters file are merged under NewRelicAccountNumber. Without an
// explicit administration role the Control Tower role of the management
// account is used.
func NewResource(ctx context.Context, cfg *config.Config, stsAPI awsconfig.STSAPI) (model.Resource, error) {
	params, err := cfg.LoadParameters()
	if err != nil {
		return model.Resource{}, err
	}
	if params == nil {
		params = map[string]string{}
	}
	params["NewRelicAccountNumber"] = strconv.FormatInt(cfg.NewRelicAccountID, 10)

	adminRole := cfg.AdministrationRoleARN
	if adminRole == "" {
		mgmt, err := awsconfig.ManagementAccountID(ctx, stsAPI, cfg.ManagementAccountID)
		if err != nil {
			return model.Resource{}, fmt.Errorf("resolve management account: %w", err)
		}
		adminRole = awsconfig.AdministrationRoleARN(mgmt)
	}

	return model.Resource{
		Name:                  cfg.StackSetName,
		TemplateURL:           cfg.StackSetURL,
		Description:           cfg.StackSetDescription,
		Parameters:            params,
		Capabilities:          []string{model.CapabilityNamedIAM},
		AdministrationRoleARN: adminRole,
		ExecutionRoleName:     cfg.ExecutionRoleName,
	}, nil
}

// Consumers returns one queue consumer per configured worker queue.
func (s *Services) Consumers(cfg *config.Config, logger zerolog.Logger) []*transport.Consumer {
	opts := transport.ConsumerOptions{Concurrency: cfg.WorkerConcurrency}
	consumers := []*transport.Consumer{
		transport.NewConsumer(s.SQS, cfg.StackQueueURL, s.Dispatcher.HandleBatch, opts, logger.With().Str("queue", "dispatch").Logger()),
		transport.NewConsumer(s.SQS, cfg.RegisterQueueURL, s.Poller.HandleBatch, opts, logger.With().Str("queue", "poll").Logger()),
	}
	if cfg.CustomResourceQueueURL != "" {
		// One event per batch so a failed response only redelivers its own event.
		consumers = append(consumers, transport.NewConsumer(s.SQS, cfg.CustomResourceQueueURL, s.CustomResource.HandleBatch,
			transport.ConsumerOptions{Concurrency: 1, BatchSize: 1},
			logger.With().Str("queue", "custom_resource").Logger()))
	}
	return consumers
}
