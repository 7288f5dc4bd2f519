package onboarding

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/controlplane"
	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/metrics"
	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/model"
)

// Decommissioner removes every stack instance and then the stack set.
type Decommissioner struct {
	gw         controlplane.Gateway
	waitBudget time.Duration
	interval   time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
	logger     zerolog.Logger
}

// NewDecommissioner creates a Decommissioner that waits up to waitBudget
// for instance deletion, checking every interval.
func NewDecommissioner(gw controlplane.Gateway, waitBudget, interval time.Duration, logger zerolog.Logger) *Decommissioner {
	return &Decommissioner{
		gw:         gw,
		waitBudget: waitBudget,
		interval:   interval,
		sleep:      sleepContext,
		logger:     logger.With().Str("component", "decommission").Logger(),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Decommission is best effort: failures are logged and the stack set
// deletion is attempted even when instance deletion is not confirmed.
func (d *Decommissioner) Decommission(ctx context.Context, name string) {
	log := d.logger.With().Str("stackset", name).Logger()

	if _, err := d.gw.DescribeResource(ctx, name); err != nil {
		if errors.Is(err, controlplane.ErrResourceNotFound) {
			log.Info().Msg("stack set does not exist, nothing to decommission")
			metrics.DecommissionTotal.WithLabelValues("absent").Inc()
			return
		}
		log.Error().Err(err).Msg("failed to describe stack set")
		metrics.DecommissionTotal.WithLabelValues("failed").Inc()
		return
	}

	instances, err := d.gw.ListInstances(ctx, name)
	if err != nil {
		log.Error().Err(err).Msg("failed to list stack instances")
	}
	if len(instances) > 0 {
		d.deleteInstances(ctx, name, instances, log)
	}

	if err := d.gw.DeleteResource(ctx, name); err != nil {
		log.Warn().Err(err).Msg("stack set still exists")
		metrics.DecommissionTotal.WithLabelValues("failed").Inc()
		return
	}
	log.Info().Msg("stack set deleted")
	metrics.DecommissionTotal.WithLabelValues("deleted").Inc()
}

func (d *Decommissioner) deleteInstances(ctx context.Context, name string, instances []model.Instance, log zerolog.Logger) {
	accounts := make([]string, 0, len(instances))
	regions := make([]string, 0, len(instances))
	for _, inst := range instances {
		accounts = append(accounts, inst.Account)
		regions = append(regions, inst.Region)
	}
	accounts = model.Dedup(accounts)
	regions = model.Dedup(regions)
	log.Info().Strs("accounts", accounts).Strs("regions", regions).Msg("deleting stack instances")

	opID, err := d.gw.DeleteInstances(ctx, name, accounts, regions, false)
	if err != nil {
		log.Error().Err(err).Msg("failed to delete stack instances")
		return
	}
	log = log.With().Str("operation_id", opID).Logger()

	status, err := d.gw.DescribeOperation(ctx, name, opID)
	for remaining := d.waitBudget; err == nil && !status.IsTerminal() && remaining > 0; remaining -= d.interval {
		if err := d.sleep(ctx, d.interval); err != nil {
			log.Warn().Err(err).Msg("stopped waiting for instance deletion")
			return
		}
		status, err = d.gw.DescribeOperation(ctx, name, opID)
		if err == nil {
			log.Info().Str("status", string(status)).Msg("stack instance delete status")
		}
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to fetch instance deletion status")
		return
	}
	if !status.IsTerminal() {
		log.Warn().Str("status", string(status)).Msg("instance deletion still in progress after wait budget")
	}
}
