// Package transport moves onboarding messages over SNS and SQS.
package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rs/zerolog"

	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/model"
)

// MaxDelay is the longest delivery delay SQS supports.
const MaxDelay = 15 * time.Minute

// Publisher emits the messages that carry onboarding state between
// deliveries.
type Publisher interface {
	// PublishInstanceRequest sends a new request through the fan-out topic.
	PublishInstanceRequest(ctx context.Context, r model.InstanceRequest) error
	// SendInstanceRequest puts a request on the dispatch queue.
	SendInstanceRequest(ctx context.Context, r model.InstanceRequest, delay time.Duration) error
	// SendPoll puts a poll message on the registration queue.
	SendPoll(ctx context.Context, m model.PollMessage, delay time.Duration) error
	// SendDeadLetter records an operation that needs manual remediation.
	SendDeadLetter(ctx context.Context, r model.DeadLetterRecord) error
}

// SNSAPI is the subset of *sns.Client used here.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SQSAPI is the subset of *sqs.Client used here.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessageBatch(ctx context.Context, params *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error)
}

// Queues names the destinations used by AWSPublisher.
type Queues struct {
	TopicARN         string
	DispatchQueueURL string
	PollQueueURL     string
	DeadLetterURL    string
}

// AWSPublisher implements Publisher with SNS and SQS.
type AWSPublisher struct {
	sns    SNSAPI
	sqs    SQSAPI
	queues Queues
	logger zerolog.Logger
}

func NewAWSPublisher(snsAPI SNSAPI, sqsAPI SQSAPI, queues Queues, logger zerolog.Logger) *AWSPublisher {
	return &AWSPublisher{
		sns:    snsAPI,
		sqs:    sqsAPI,
		queues: queues,
		logger: logger.With().Str("component", "publisher").Logger(),
	}
}

var _ Publisher = (*AWSPublisher)(nil)

func (p *AWSPublisher) PublishInstanceRequest(ctx context.Context, r model.InstanceRequest) error {
	if p.queues.TopicARN == "" {
		return fmt.Errorf("publish instance request: no topic configured")
	}
	body, err := model.EncodeInstanceRequest(r)
	if err != nil {
		return err
	}
	out, err := p.sns.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(p.queues.TopicARN),
		Message:  aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("publish instance request for %s: %w", r.ResourceName, err)
	}
	p.logger.Info().
		Str("stackset", r.ResourceName).
		Str("message_id", aws.ToString(out.MessageId)).
		Msg("instance request published")
	return nil
}

func (p *AWSPublisher) SendInstanceRequest(ctx context.Context, r model.InstanceRequest, delay time.Duration) error {
	body, err := model.EncodeInstanceRequest(r)
	if err != nil {
		return err
	}
	if err := p.send(ctx, p.queues.DispatchQueueURL, body, delay); err != nil {
		return fmt.Errorf("send instance request for %s: %w", r.ResourceName, err)
	}
	return nil
}

func (p *AWSPublisher) SendPoll(ctx context.Context, m model.PollMessage, delay time.Duration) error {
	body, err := model.EncodePollMessage(m)
	if err != nil {
		return err
	}
	if err := p.send(ctx, p.queues.PollQueueURL, body, delay); err != nil {
		return fmt.Errorf("send poll message for %s: %w", m.OperationID, err)
	}
	return nil
}

func (p *AWSPublisher) SendDeadLetter(ctx context.Context, r model.DeadLetterRecord) error {
	body, err := model.EncodeDeadLetter(r)
	if err != nil {
		return err
	}
	if err := p.send(ctx, p.queues.DeadLetterURL, body, 0); err != nil {
		return fmt.Errorf("send dead letter for %s: %w", r.ResourceName, err)
	}
	return nil
}

func (p *AWSPublisher) send(ctx context.Context, queueURL string, body []byte, delay time.Duration) error {
	if queueURL == "" {
		return fmt.Errorf("no queue configured")
	}
	out, err := p.sqs.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:     aws.String(queueURL),
		MessageBody:  aws.String(string(body)),
		DelaySeconds: delaySeconds(delay),
	})
	if err != nil {
		return err
	}
	p.logger.Debug().
		Str("queue", queueURL).
		Str("message_id", aws.ToString(out.MessageId)).
		Dur("delay", delay).
		Msg("message sent")
	return nil
}

// delaySeconds rounds up to whole seconds and clamps to what SQS accepts.
func delaySeconds(d time.Duration) int32 {
	if d <= 0 {
		return 0
	}
	if d > MaxDelay {
		d = MaxDelay
	}
	return int32((d + time.Second - 1) / time.Second)
}
