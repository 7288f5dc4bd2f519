package onboarding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/controlplane"
	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/metrics"
	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/model"
	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/retry"
	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/transport"
)

// Dispatcher launches stack instance creation while keeping at most one
// operation in flight per stack set. The control plane is asked on every
// delivery whether the stack set is busy.
type Dispatcher struct {
	gw        controlplane.Gateway
	pub       transport.Publisher
	policy    retry.Policy
	pollDelay time.Duration
	logger    zerolog.Logger
}

// NewDispatcher creates a Dispatcher. policy governs busy requeues;
// pollDelay is the delay before the first poll of a launched operation.
func NewDispatcher(gw controlplane.Gateway, pub transport.Publisher, policy retry.Policy, pollDelay time.Duration, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		gw:        gw,
		pub:       pub,
		policy:    policy,
		pollDelay: pollDelay,
		logger:    logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Dispatch launches req or requeues it when the stack set is busy or the
// control plane is throttling. A missing stack set is returned as an error
// and is not retried.
func (d *Dispatcher) Dispatch(ctx context.Context, req model.InstanceRequest) error {
	log := d.logger.With().Str("stackset", req.ResourceName).Int("attempt", req.Attempt).Logger()

	if _, err := d.gw.DescribeResource(ctx, req.ResourceName); err != nil {
		if controlplane.IsTransient(err) {
			return d.requeue(ctx, req, err.Error())
		}
		metrics.DispatchTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("dispatch %s: %w", req.ResourceName, err)
	}

	ops, err := d.gw.ListOperations(ctx, req.ResourceName)
	if err != nil {
		if controlplane.IsTransient(err) {
			return d.requeue(ctx, req, err.Error())
		}
		metrics.DispatchTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("dispatch %s: %w", req.ResourceName, err)
	}

	if model.DecideDispatch(ops) == model.DispatchRequeue {
		log.Info().Msg("stack set busy")
		return d.requeue(ctx, req, "stack set busy")
	}

	token := operationToken(req.ResourceName, req.MessageIDs)
	opID, err := d.gw.CreateInstances(ctx, req.ResourceName, req.Accounts, req.Regions, token)
	switch {
	case err == nil:
	case errors.Is(err, controlplane.ErrOperationExists) && token != "":
		log.Info().Str("operation_id", token).Msg("operation already launched for this delivery")
		opID = token
	case controlplane.IsTransient(err):
		return d.requeue(ctx, req, err.Error())
	default:
		metrics.DispatchTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("dispatch %s: %w", req.ResourceName, err)
	}

	log.Info().
		Str("operation_id", opID).
		Strs("accounts", req.Accounts).
		Strs("regions", req.Regions).
		Msg("stack instances launched")
	metrics.DispatchTotal.WithLabelValues("launched").Inc()

	if err := d.pub.SendPoll(ctx, model.PollMessage{ResourceName: req.ResourceName, OperationID: opID}, d.pollDelay); err != nil {
		return fmt.Errorf("dispatch %s: queue operation %s for polling: %w", req.ResourceName, opID, err)
	}
	return nil
}

// requeue puts req back on the dispatch queue with the next attempt
// number, or dead-letters it once the policy is exhausted.
func (d *Dispatcher) requeue(ctx context.Context, req model.InstanceRequest, reason string) error {
	if d.policy.Exhausted(req.Attempt) {
		d.logger.Warn().
			Str("stackset", req.ResourceName).
			Int("attempt", req.Attempt).
			Str("reason", reason).
			Msg("dispatch retries exhausted")
		metrics.DispatchTotal.WithLabelValues("exhausted").Inc()
		metrics.DeadLettersTotal.WithLabelValues("retries_exhausted").Inc()
		return d.pub.SendDeadLetter(ctx, model.DeadLetterRecord{
			ResourceName: req.ResourceName,
			Reason:       fmt.Sprintf("%s after %d attempts: dispatch: %s", DeadLetterRetriesExhausted, req.Attempt, reason),
		})
	}

	delay := d.policy.Backoff(req.Attempt)
	next := req
	next.Attempt++
	next.MessageIDs = nil
	if err := d.pub.SendInstanceRequest(ctx, next, delay); err != nil {
		return fmt.Errorf("requeue %s: %w", req.ResourceName, err)
	}
	d.logger.Info().
		Str("stackset", req.ResourceName).
		Int("attempt", next.Attempt).
		Dur("delay", delay).
		Str("reason", reason).
		Msg("instance request requeued")
	metrics.DispatchTotal.WithLabelValues("requeued").Inc()
	return nil
}

// HandleBatch is the dispatch queue handler. Requests in the batch are
// merged per stack set before dispatching. Failures are logged and the
// batch is acknowledged.
func (d *Dispatcher) HandleBatch(ctx context.Context, msgs []transport.Message) error {
	start := time.Now()
	defer func() { metrics.BatchDuration.WithLabelValues("dispatch").Observe(time.Since(start).Seconds()) }()

	var reqs []model.InstanceRequest
	for _, m := range msgs {
		decoded, err := model.DecodeInstanceRequests(m.Body)
		if err != nil {
			d.logger.Error().Err(err).Str("message_id", m.ID).Msg("dropping undecodable instance request")
			continue
		}
		for i := range decoded {
			decoded[i].MessageIDs = []string{m.ID}
		}
		reqs = append(reqs, decoded...)
	}

	for _, req := range model.MergeInstanceRequests(reqs) {
		if err := d.Dispatch(ctx, req); err != nil {
			d.logger.Error().Err(err).Str("stackset", req.ResourceName).Msg("dispatch failed")
		}
	}
	return nil
}
