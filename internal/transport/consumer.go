package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Message is one received queue message with any SNS envelope removed.
type Message struct {
	ID   string
	Body []byte
}

// Handler processes one received batch. Messages are deleted only when it
// returns nil; otherwise they become visible again after the queue's
// visibility timeout.
type Handler func(ctx context.Context, msgs []Message) error

// ConsumerOptions tunes a Consumer. Zero values select defaults.
type ConsumerOptions struct {
	Concurrency int
	BatchSize   int32
	WaitSeconds int32
}

// Consumer long-polls one SQS queue and hands each batch to a Handler.
// Every batch is independent; nothing is carried between them.
type Consumer struct {
	api      SQSAPI
	queueURL string
	handler  Handler
	opts     ConsumerOptions
	logger   zerolog.Logger
}

func NewConsumer(api SQSAPI, queueURL string, handler Handler, opts ConsumerOptions, logger zerolog.Logger) *Consumer {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.BatchSize <= 0 || opts.BatchSize > 10 {
		opts.BatchSize = 10
	}
	if opts.WaitSeconds <= 0 || opts.WaitSeconds > 20 {
		opts.WaitSeconds = 20
	}
	return &Consumer{
		api:      api,
		queueURL: queueURL,
		handler:  handler,
		opts:     opts,
		logger:   logger.With().Str("component", "consumer").Str("queue", queueURL).Logger(),
	}
}

// Run polls until ctx is cancelled. Receive errors are logged and polling
// continues.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info().Int("concurrency", c.opts.Concurrency).Msg("consumer started")

	g, ctx := errgroup.WithContext(ctx)
	for range c.opts.Concurrency {
		g.Go(func() error {
			for ctx.Err() == nil {
				if _, err := c.PollOnce(ctx); err != nil && ctx.Err() == nil {
					c.logger.Error().Err(err).Msg("poll failed")
				}
			}
			return nil
		})
	}
	err := g.Wait()
	c.logger.Info().Msg("consumer stopped")
	return err
}

// PollOnce receives at most one batch, runs the handler and deletes the
// batch if the handler succeeded. It returns the number of messages
// received.
func (c *Consumer) PollOnce(ctx context.Context) (int, error) {
	out, err := c.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: c.opts.BatchSize,
		WaitTimeSeconds:     c.opts.WaitSeconds,
	})
	if err != nil {
		return 0, fmt.Errorf("receive messages: %w", err)
	}
	if len(out.Messages) == 0 {
		return 0, nil
	}

	msgs := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		msgs = append(msgs, Message{
			ID:   aws.ToString(m.MessageId),
			Body: Unwrap([]byte(aws.ToString(m.Body))),
		})
	}

	if err := c.handler(ctx, msgs); err != nil {
		c.logger.Warn().Err(err).Int("messages", len(msgs)).Msg("handler failed, leaving batch for redelivery")
		return len(msgs), nil
	}

	if err := c.delete(ctx, out.Messages); err != nil {
		return len(msgs), err
	}
	return len(msgs), nil
}

func (c *Consumer) delete(ctx context.Context, received []sqstypes.Message) error {
	entries := make([]sqstypes.DeleteMessageBatchRequestEntry, 0, len(received))
	for i, m := range received {
		entries = append(entries, sqstypes.DeleteMessageBatchRequestEntry{
			Id:            aws.String(strconv.Itoa(i)),
			ReceiptHandle: m.ReceiptHandle,
		})
	}
	out, err := c.api.DeleteMessageBatch(ctx, &sqs.DeleteMessageBatchInput{
		QueueUrl: aws.String(c.queueURL),
		Entries:  entries,
	})
	if err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}

	var errs []error
	for _, f := range out.Failed {
		errs = append(errs, fmt.Errorf("delete entry %s: %s: %s", aws.ToString(f.Id), aws.ToString(f.Code), aws.ToString(f.Message)))
	}
	return errors.Join(errs...)
}

type snsEnvelope struct {
	Type     string `json:"Type"`
	TopicArn string `json:"TopicArn"`
	Message  string `json:"Message"`
}

// Unwrap returns the inner message of an SNS notification delivered to SQS
// without raw message delivery. Any other body is returned unchanged.
func Unwrap(body []byte) []byte {
	var env snsEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return body
	}
	if env.Type != "Notification" || env.TopicArn == "" || env.Message == "" {
		return body
	}
	return []byte(env.Message)
}
