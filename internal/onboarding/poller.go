package onboarding

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/controlplane"
	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/metrics"
	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/model"
	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/retry"
	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/transport"
)

// DeadLetterRetriesExhausted prefixes the reason of dead-letter records
// written when a retry policy gives up.
const DeadLetterRetriesExhausted = "retries exhausted"

// AccountRegistrar registers the accounts of one succeeded operation.
type AccountRegistrar interface {
	Begin(ctx context.Context) (*Batch, error)
}

// Poller follows a launched operation until it is terminal, then either
// registers its succeeded accounts or dead-letters it.
type Poller struct {
	gw        controlplane.Gateway
	pub       transport.Publisher
	registrar AccountRegistrar
	policy    retry.Policy
	logger    zerolog.Logger
}

// NewPoller creates a Poller. policy bounds how often an unfinished
// operation is polled again and how long each redelivery waits.
func NewPoller(gw controlplane.Gateway, pub transport.Publisher, registrar AccountRegistrar, policy retry.Policy, logger zerolog.Logger) *Poller {
	return &Poller{
		gw:        gw,
		pub:       pub,
		registrar: registrar,
		policy:    policy,
		logger:    logger.With().Str("component", "poller").Logger(),
	}
}

// Poll handles one poll message. Errors are logged here; the only error
// returned is a failure to republish or dead-letter the message.
func (p *Poller) Poll(ctx context.Context, msg model.PollMessage) error {
	log := p.logger.With().
		Str("stackset", msg.ResourceName).
		Str("operation_id", msg.OperationID).
		Int("attempt", msg.Attempt).
		Logger()

	status, err := p.gw.DescribeOperation(ctx, msg.ResourceName, msg.OperationID)
	if err != nil {
		if controlplane.IsTransient(err) {
			return p.requeue(ctx, msg, err.Error())
		}
		log.Error().Err(err).Msg("failed to fetch operation status")
		metrics.PollTotal.WithLabelValues("error").Inc()
		return nil
	}
	metrics.PollTotal.WithLabelValues(string(status)).Inc()

	action, err := model.DecidePoll(status)
	if err != nil {
		log.Error().Err(err).Msg("no action for operation status")
		return nil
	}
	log.Info().Str("status", string(status)).Str("action", action.String()).Msg("operation polled")

	switch action {
	case model.PollRequeue:
		return p.requeue(ctx, msg, "operation "+string(status))
	case model.PollRegister:
		return p.register(ctx, msg, log)
	case model.PollDeadLetter:
		metrics.DeadLettersTotal.WithLabelValues(strings.ToLower(string(status))).Inc()
		return p.pub.SendDeadLetter(ctx, model.DeadLetterRecord{
			ResourceName: msg.ResourceName,
			OperationID:  msg.OperationID,
			Reason:       "operation " + string(status),
		})
	}
	return nil
}

func (p *Poller) requeue(ctx context.Context, msg model.PollMessage, reason string) error {
	if p.policy.Exhausted(msg.Attempt) {
		p.logger.Warn().
			Str("stackset", msg.ResourceName).
			Str("operation_id", msg.OperationID).
			Int("attempt", msg.Attempt).
			Msg("poll retries exhausted")
		metrics.DeadLettersTotal.WithLabelValues("retries_exhausted").Inc()
		exhausted := fmt.Sprintf("%s after %d attempts over %s", DeadLetterRetriesExhausted, msg.Attempt, p.policy.Span(msg.Attempt))
		return p.pub.SendDeadLetter(ctx, model.DeadLetterRecord{
			ResourceName: msg.ResourceName,
			OperationID:  msg.OperationID,
			Reason:       fmt.Sprintf("%s: poll: %s", exhausted, reason),
		})
	}

	next := msg
	next.Attempt++
	if err := p.pub.SendPoll(ctx, next, p.policy.Backoff(msg.Attempt)); err != nil {
		return fmt.Errorf("requeue poll for %s: %w", msg.OperationID, err)
	}
	return nil
}

// register links every account the operation reports as SUCCEEDED. Other
// per-instance results are left unregistered. A throttled results listing
// polls the operation again; the only error returned is a failed requeue.
func (p *Poller) register(ctx context.Context, msg model.PollMessage, log zerolog.Logger) error {
	results, err := p.gw.ListOperationResults(ctx, msg.ResourceName, msg.OperationID)
	if err != nil {
		if controlplane.IsTransient(err) {
			return p.requeue(ctx, msg, err.Error())
		}
		log.Error().Err(err).Msg("failed to list operation results")
		return nil
	}

	var accounts []string
	for _, r := range results {
		if r.Status == model.ResultSucceeded {
			accounts = append(accounts, r.Account)
			continue
		}
		log.Warn().
			Str("account", r.Account).
			Str("region", r.Region).
			Str("result", r.Status).
			Str("reason", r.StatusReason).
			Msg("stack instance did not succeed, not registering")
	}
	accounts = model.Dedup(accounts)
	if len(accounts) == 0 {
		log.Info().Msg("no succeeded accounts to register")
		return nil
	}

	batch, err := p.registrar.Begin(ctx)
	if err != nil {
		log.Error().Err(err).Msg("cannot start registration")
		metrics.RegistrationsTotal.WithLabelValues("failed").Add(float64(len(accounts)))
		return nil
	}
	for _, account := range accounts {
		if err := batch.Register(ctx, account); err != nil {
			log.Error().Err(err).Str("account", account).Msg("registration failed")
		}
	}
	return nil
}

// HandleBatch is the poll queue handler. Failures are logged and the batch
// is acknowledged.
func (p *Poller) HandleBatch(ctx context.Context, msgs []transport.Message) error {
	start := time.Now()
	defer func() { metrics.BatchDuration.WithLabelValues("poll").Observe(time.Since(start).Seconds()) }()

	for _, m := range msgs {
		polls, err := model.DecodePollMessages(m.Body)
		if err != nil {
			p.logger.Error().Err(err).Str("message_id", m.ID).Msg("dropping undecodable poll message")
			continue
		}
		for _, msg := range polls {
			if err := p.Poll(ctx, msg); err != nil {
				p.logger.Error().Err(err).Str("operation_id", msg.OperationID).Msg("poll failed")
			}
		}
	}
	return nil
}
