package feedback

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// receiveErrorDelay is how long the consumer backs off after a failed
// receive call before polling again.
const receiveErrorDelay = 5 * time.Second

// QueueAPI is the narrow SQS surface the consumer needs. Tests substitute
// a mock implementation.
type QueueAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Consumer long-polls the feedback queue and feeds each notification to the
// Processor once per delivery. Messages are deleted only after successful
// processing; failures stay on the queue for visibility-timeout redelivery,
// which the idempotent handlers tolerate.
type Consumer struct {
	client    QueueAPI
	queueURL  string
	processor *Processor
}

// NewConsumer creates a Consumer for the given queue.
func NewConsumer(client QueueAPI, queueURL string, processor *Processor) *Consumer {
	return &Consumer{client: client, queueURL: queueURL, processor: processor}
}

// Run polls the queue until the context is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	slog.Info("feedback consumer started", "queue", c.queueURL)

	for {
		select {
		case <-ctx.Done():
			slog.Info("feedback consumer stopped")
			return nil
		default:
		}

		out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     20,
		})
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("feedback consumer stopped")
				return nil
			}
			slog.Error("failed to receive feedback messages", "error", err)
			if err := sleepWithContext(ctx, receiveErrorDelay); err != nil {
				return nil
			}
			continue
		}

		for _, msg := range out.Messages {
			if err := c.handleMessage(ctx, msg); err != nil {
				// leave on the queue; redelivery applies the queue's
				// own retry policy
				slog.Warn("feedback message left for redelivery", "error", err)
				continue
			}

			if _, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
				QueueUrl:      aws.String(c.queueURL),
				ReceiptHandle: msg.ReceiptHandle,
			}); err != nil {
				slog.Error("failed to delete feedback message", "error", err)
			}
		}
	}
}

// handleMessage parses and processes one queue delivery.
func (c *Consumer) handleMessage(ctx context.Context, msg types.Message) error {
	n, err := ParseNotification([]byte(aws.ToString(msg.Body)))
	if err != nil {
		return err
	}
	return c.processor.Process(ctx, n)
}

// sleepWithContext waits for the specified duration or until the context is
// cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
