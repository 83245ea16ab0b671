package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type sqsAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// QueueMessage is one received message.
type QueueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}

// SQSQueue wraps an SQS queue URL.
type SQSQueue struct {
	client   sqsAPI
	queueURL string
}

func NewSQSQueue(client sqsAPI, queueURL string) *SQSQueue {
	if client == nil {
		panic("notify: SQS client cannot be nil")
	}
	if queueURL == "" {
		panic("notify: SQS queueURL cannot be empty")
	}
	return &SQSQueue{client: client, queueURL: queueURL}
}

func (q *SQSQueue) Send(ctx context.Context, body string) error {
	_, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(body),
	})
	if err != nil {
		return fmt.Errorf("notify: failed to send SQS message: %w", err)
	}
	return nil
}

func (q *SQSQueue) Receive(ctx context.Context, maxMessages, waitSeconds int) ([]QueueMessage, error) {
	output, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: int32(maxMessages),
		WaitTimeSeconds:     int32(waitSeconds),
	})
	if err != nil {
		return nil, fmt.Errorf("notify: failed to receive SQS messages: %w", err)
	}

	messages := make([]QueueMessage, 0, len(output.Messages))
	for _, msg := range output.Messages {
		messages = append(messages, QueueMessage{
			ID:            aws.ToString(msg.MessageId),
			Body:          aws.ToString(msg.Body),
			ReceiptHandle: aws.ToString(msg.ReceiptHandle),
		})
	}
	return messages, nil
}

func (q *SQSQueue) Delete(ctx context.Context, receiptHandle string) error {
	if receiptHandle == "" {
		return nil
	}
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("notify: failed to delete SQS message: %w", err)
	}
	return nil
}

// EmailJob is the queued form of one deferred delivery.
type EmailJob struct {
	RecipientID uuid.UUID `json:"recipient_id"`
	Payload     Payload   `json:"payload"`
}

type sender interface {
	Send(ctx context.Context, body string) error
}

// QueueChannel is the deferred channel when delivery is handed to the
// notification worker.
type QueueChannel struct {
	queue sender
}

func NewQueueChannel(queue sender) *QueueChannel {
	return &QueueChannel{queue: queue}
}

func (c *QueueChannel) Name() string { return "email_queue" }

func (c *QueueChannel) Send(ctx context.Context, recipientID uuid.UUID, p Payload) error {
	body, err := json.Marshal(EmailJob{RecipientID: recipientID, Payload: p})
	if err != nil {
		return fmt.Errorf("marshal email job: %w", err)
	}
	return c.queue.Send(ctx, string(body))
}

type receiver interface {
	Receive(ctx context.Context, maxMessages, waitSeconds int) ([]QueueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// Consumer drains EmailJobs into a Channel. A job whose delivery fails is
// left on the queue for redelivery; a malformed one is dropped.
type Consumer struct {
	queue    receiver
	channel  Channel
	logger   zerolog.Logger
	batch    int
	waitSecs int
}

func NewConsumer(queue receiver, channel Channel, logger zerolog.Logger) *Consumer {
	return &Consumer{
		queue:    queue,
		channel:  channel,
		logger:   logger,
		batch:    10,
		waitSecs: 20,
	}
}

// Run polls until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if _, err := c.ProcessOnce(ctx); err != nil && ctx.Err() == nil {
			c.logger.Error().Err(err).Msg("notification poll failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}
}

// ProcessOnce handles one receive batch and returns how many jobs were
// delivered.
func (c *Consumer) ProcessOnce(ctx context.Context) (int, error) {
	messages, err := c.queue.Receive(ctx, c.batch, c.waitSecs)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, msg := range messages {
		var job EmailJob
		if err := json.Unmarshal([]byte(msg.Body), &job); err != nil {
			c.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("dropping malformed email job")
			_ = c.queue.Delete(ctx, msg.ReceiptHandle)
			continue
		}

		if err := c.channel.Send(ctx, job.RecipientID, job.Payload); err != nil {
			c.logger.Warn().Err(err).
				Str("message_id", msg.ID).
				Str("recipient_id", job.RecipientID.String()).
				Msg("email job failed, leaving for redelivery")
			continue
		}

		if err := c.queue.Delete(ctx, msg.ReceiptHandle); err != nil {
			c.logger.Error().Err(err).Str("message_id", msg.ID).Msg("failed to delete delivered job")
		}
		delivered++
	}
	return delivered, nil
}

var _ Channel = (*QueueChannel)(nil)
