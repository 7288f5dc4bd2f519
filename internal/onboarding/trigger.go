// Package onboarding drives stack set provisioning and New Relic account
// registration. Every entry point handles one delivery and keeps no state
// between calls; progress is carried by the messages it publishes.
package onboarding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/config"
	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/controlplane"
	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/model"
	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/transport"
)

// ErrResourceLaunch is returned when a freshly created stack set cannot be
// described.
var ErrResourceLaunch = errors.New("stack set launch failed")

// TemplateVerifier checks that a template can be read before it is used.
type TemplateVerifier interface {
	Verify(ctx context.Context, templateURL string) error
}

// TriggerConfig describes the stack set the Trigger creates and how the
// first accounts are seeded.
type TriggerConfig struct {
	// Resource is the stack set definition. Its Name is replaced by the
	// name passed to Provision.
	Resource     model.Resource
	SeedAccounts []string
	HomeRegion   string
	// SeedDispatch is config.SeedDispatchDirect or config.SeedDispatchFanout.
	SeedDispatch string
	// PollDelay is the delay before the first poll of a seeded launch.
	PollDelay time.Duration
}

// ProvisionResult reports what Provision did.
type ProvisionResult struct {
	ResourceName string `json:"resource_name"`
	Created      bool   `json:"created"`
	// OperationID is set when seed accounts were launched directly.
	OperationID string `json:"operation_id,omitempty"`
	// SeedQueued is set when seed accounts were sent through the fan-out topic.
	SeedQueued bool `json:"seed_queued,omitempty"`
}

// Trigger makes sure a stack set exists and seeds its first instances.
type Trigger struct {
	gw       controlplane.Gateway
	pub      transport.Publisher
	verifier TemplateVerifier
	cfg      TriggerConfig
	logger   zerolog.Logger
}

// NewTrigger creates a Trigger. verifier may be nil.
func NewTrigger(gw controlplane.Gateway, pub transport.Publisher, verifier TemplateVerifier, cfg TriggerConfig, logger zerolog.Logger) *Trigger {
	return &Trigger{
		gw:       gw,
		pub:      pub,
		verifier: verifier,
		cfg:      cfg,
		logger:   logger.With().Str("component", "trigger").Logger(),
	}
}

// Provision creates the stack set if it does not exist yet. An existing
// stack set is reported as success without changes. Errors are returned
// because the caller waits on the outcome.
func (t *Trigger) Provision(ctx context.Context, name string) (*ProvisionResult, error) {
	log := t.logger.With().Str("stackset", name).Logger()

	_, err := t.gw.DescribeResource(ctx, name)
	if err == nil {
		log.Info().Msg("stack set already exists")
		return &ProvisionResult{ResourceName: name}, nil
	}
	if !errors.Is(err, controlplane.ErrResourceNotFound) {
		return nil, fmt.Errorf("provision %s: %w", name, err)
	}

	log.Info().Msg("stack set does not exist, creating it")
	resource := t.cfg.Resource
	resource.Name = name
	if t.verifier != nil {
		if err := t.verifier.Verify(ctx, resource.TemplateURL); err != nil {
			return nil, fmt.Errorf("provision %s: %w", name, err)
		}
	}

	if err := t.gw.CreateResource(ctx, resource); err != nil {
		if errors.Is(err, controlplane.ErrResourceExists) {
			log.Info().Msg("stack set created concurrently")
			return &ProvisionResult{ResourceName: name}, nil
		}
		return nil, fmt.Errorf("provision %s: %w", name, err)
	}

	if _, err := t.gw.DescribeResource(ctx, name); err != nil {
		if errors.Is(err, controlplane.ErrResourceNotFound) {
			return nil, fmt.Errorf("provision %s: %w: %w", name, ErrResourceLaunch, err)
		}
		return nil, fmt.Errorf("provision %s: verify: %w", name, err)
	}
	log.Info().Msg("stack set deployed")

	result := &ProvisionResult{ResourceName: name, Created: true}
	if len(t.cfg.SeedAccounts) == 0 {
		log.Info().Msg("no seed accounts configured")
		return result, nil
	}
	if err := t.seed(ctx, result); err != nil {
		return nil, fmt.Errorf("provision %s: %w", name, err)
	}
	return result, nil
}

func (t *Trigger) seed(ctx context.Context, result *ProvisionResult) error {
	req := model.InstanceRequest{
		ResourceName: result.ResourceName,
		Accounts:     model.Dedup(t.cfg.SeedAccounts),
		Regions:      []string{t.cfg.HomeRegion},
	}
	log := t.logger.With().Str("stackset", req.ResourceName).Strs("accounts", req.Accounts).Logger()

	if t.cfg.SeedDispatch == config.SeedDispatchFanout {
		if err := t.pub.PublishInstanceRequest(ctx, req); err != nil {
			return fmt.Errorf("queue seed accounts: %w", err)
		}
		log.Info().Msg("seed accounts queued for stack instance creation")
		result.SeedQueued = true
		return nil
	}

	token := operationToken(req.ResourceName, append([]string{"seed", t.cfg.HomeRegion}, req.Accounts...))
	opID, err := t.gw.CreateInstances(ctx, req.ResourceName, req.Accounts, req.Regions, token)
	if err != nil {
		if !errors.Is(err, controlplane.ErrOperationExists) {
			return fmt.Errorf("create seed instances: %w", err)
		}
		opID = token
	}
	log.Info().Str("operation_id", opID).Msg("seed stack instances launched")
	result.OperationID = opID

	if err := t.pub.SendPoll(ctx, model.PollMessage{ResourceName: req.ResourceName, OperationID: opID}, t.cfg.PollDelay); err != nil {
		return fmt.Errorf("queue seed operation for polling: %w", err)
	}
	return nil
}
