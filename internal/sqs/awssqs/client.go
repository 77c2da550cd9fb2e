// Package awssqs implements the sqs.Client interface on the AWS SDK.
package awssqs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	awssqs "github.com/aws/aws-sdk-go/service/sqs"
	"github.com/google/uuid"

	"sqskit/internal/sqs"
	"sqskit/internal/validator"
)

// SQSAPI defines the subset of the AWS SQS client methods that our code uses.
type SQSAPI interface {
	ReceiveMessageWithContext(ctx aws.Context, input *awssqs.ReceiveMessageInput, opts ...request.Option) (*awssqs.ReceiveMessageOutput, error)
	DeleteMessageBatchWithContext(ctx aws.Context, input *awssqs.DeleteMessageBatchInput, opts ...request.Option) (*awssqs.DeleteMessageBatchOutput, error)
	SendMessageWithContext(ctx aws.Context, input *awssqs.SendMessageInput, opts ...request.Option) (*awssqs.SendMessageOutput, error)
	SendMessageBatchWithContext(ctx aws.Context, input *awssqs.SendMessageBatchInput, opts ...request.Option) (*awssqs.SendMessageBatchOutput, error)
	GetQueueUrlWithContext(ctx aws.Context, input *awssqs.GetQueueUrlInput, opts ...request.Option) (*awssqs.GetQueueUrlOutput, error)
	CreateQueueWithContext(ctx aws.Context, input *awssqs.CreateQueueInput, opts ...request.Option) (*awssqs.CreateQueueOutput, error)
}

// Client adapts the AWS SQS SDK to the sqs.Client interface, classifying SDK
// failures into transient and fatal kinds and caching queue URL lookups.
type Client struct {
	api SQSAPI

	mu   sync.Mutex
	urls map[string]string
}

func NewClient(api SQSAPI) (*Client, error) {
	c := Client{
		api:  api,
		urls: make(map[string]string),
	}

	if err := validator.Validate("sqs client", c.api); err != nil {
		return nil, fmt.Errorf("failed to validate sqs client deps: %w", err)
	}

	return &c, nil
}

// ResolveQueueURL implements sqs.Client.ResolveQueueURL with an in-process
// cache; SQS queue URLs are stable for the queue's lifetime.
func (c *Client) ResolveQueueURL(ctx context.Context, queue string) (string, error) {
	c.mu.Lock()
	if url, ok := c.urls[queue]; ok {
		c.mu.Unlock()
		return url, nil
	}
	c.mu.Unlock()

	out, err := c.api.GetQueueUrlWithContext(ctx, &awssqs.GetQueueUrlInput{
		QueueName: aws.String(queue),
	})
	if err != nil {
		return "", classify(fmt.Errorf("failed to resolve URL for queue %s: %w", queue, err))
	}

	url := aws.StringValue(out.QueueUrl)
	c.mu.Lock()
	c.urls[queue] = url
	c.mu.Unlock()

	return url, nil
}

// CreateQueue implements sqs.Client.CreateQueue. FIFO queue names get the
// FifoQueue attribute the protocol requires.
func (c *Client) CreateQueue(ctx context.Context, queue string) (string, error) {
	input := awssqs.CreateQueueInput{
		QueueName: aws.String(queue),
	}
	if sqs.IsFifoQueue(queue) {
		input.Attributes = map[string]*string{
			"FifoQueue": aws.String("true"),
		}
	}

	out, err := c.api.CreateQueueWithContext(ctx, &input)
	if err != nil {
		return "", classify(fmt.Errorf("failed to create queue %s: %w", queue, err))
	}

	url := aws.StringValue(out.QueueUrl)
	c.mu.Lock()
	c.urls[queue] = url
	c.mu.Unlock()

	return url, nil
}

// Receive implements sqs.Client.Receive with long polling and the system
// attributes FIFO dispatch needs.
func (c *Client) Receive(ctx context.Context, req sqs.ReceiveRequest) ([]sqs.Message, error) {
	out, err := c.api.ReceiveMessageWithContext(ctx, &awssqs.ReceiveMessageInput{
		QueueUrl:              aws.String(req.QueueURL),
		MaxNumberOfMessages:   aws.Int64(int64(req.MaxMessages)),
		WaitTimeSeconds:       aws.Int64(int64(req.WaitTime / time.Second)),
		AttributeNames:        []*string{aws.String(awssqs.QueueAttributeNameAll)},
		MessageAttributeNames: []*string{aws.String("All")},
	})
	if err != nil {
		return nil, classify(fmt.Errorf("failed to receive messages: %w", err))
	}

	msgs := make([]sqs.Message, 0, len(out.Messages))
	now := time.Now()
	for _, m := range out.Messages {
		attrs := make(map[string]string, len(m.Attributes))
		for k, v := range m.Attributes {
			attrs[k] = aws.StringValue(v)
		}

		msgs = append(msgs, sqs.Message{
			ID:            aws.StringValue(m.MessageId),
			Body:          []byte(aws.StringValue(m.Body)),
			ReceiptHandle: aws.StringValue(m.ReceiptHandle),
			GroupID:       attrs[awssqs.MessageSystemAttributeNameMessageGroupId],
			DedupID:       attrs[awssqs.MessageSystemAttributeNameMessageDeduplicationId],
			ReceiveTime:   now,
			Attributes:    attrs,
		})
	}

	return msgs, nil
}

// DeleteBatch implements sqs.Client.DeleteBatch, reporting per-handle
// outcomes for partial failures.
func (c *Client) DeleteBatch(ctx context.Context, queueURL string, handles []string) ([]sqs.DeleteResult, error) {
	if len(handles) == 0 {
		return nil, nil
	}
	if len(handles) > sqs.MaxBatchSize {
		return nil, fmt.Errorf("delete batch of %d exceeds maximum of %d", len(handles), sqs.MaxBatchSize)
	}

	entries := make([]*awssqs.DeleteMessageBatchRequestEntry, len(handles))
	byID := make(map[string]string, len(handles))
	for i, handle := range handles {
		id := strconv.Itoa(i)
		entries[i] = &awssqs.DeleteMessageBatchRequestEntry{
			Id:            aws.String(id),
			ReceiptHandle: aws.String(handle),
		}
		byID[id] = handle
	}

	out, err := c.api.DeleteMessageBatchWithContext(ctx, &awssqs.DeleteMessageBatchInput{
		QueueUrl: aws.String(queueURL),
		Entries:  entries,
	})
	if err != nil {
		return nil, classify(fmt.Errorf("failed to delete message batch: %w", err))
	}

	results := make([]sqs.DeleteResult, 0, len(handles))
	for _, ok := range out.Successful {
		results = append(results, sqs.DeleteResult{
			ReceiptHandle: byID[aws.StringValue(ok.Id)],
		})
	}
	for _, failed := range out.Failed {
		results = append(results, sqs.DeleteResult{
			ReceiptHandle: byID[aws.StringValue(failed.Id)],
			Err: fmt.Errorf("delete rejected with code %s: %s",
				aws.StringValue(failed.Code),
				aws.StringValue(failed.Message),
			),
		})
	}

	return results, nil
}

// Send implements sqs.Client.Send.
func (c *Client) Send(ctx context.Context, queueURL string, msg sqs.OutboundMessage) (sqs.SendResult, error) {
	input := awssqs.SendMessageInput{
		QueueUrl:          aws.String(queueURL),
		MessageBody:       aws.String(string(msg.Body)),
		MessageAttributes: messageAttributes(msg.Attributes),
	}
	if msg.Delay > 0 {
		input.DelaySeconds = aws.Int64(int64(msg.Delay / time.Second))
	}
	if msg.GroupID != "" {
		input.MessageGroupId = aws.String(msg.GroupID)
	}
	if msg.DedupID != "" {
		input.MessageDeduplicationId = aws.String(msg.DedupID)
	}

	out, err := c.api.SendMessageWithContext(ctx, &input)
	if err != nil {
		return sqs.SendResult{}, classify(fmt.Errorf("failed to send message: %w", err))
	}

	return sqs.SendResult{
		MessageID:      aws.StringValue(out.MessageId),
		SequenceNumber: aws.StringValue(out.SequenceNumber),
	}, nil
}

// SendBatch implements sqs.Client.SendBatch, mapping per-entry failures back
// to their original indices.
func (c *Client) SendBatch(ctx context.Context, queueURL string, msgs []sqs.OutboundMessage) (sqs.BatchSendResult, error) {
	if len(msgs) == 0 {
		return sqs.BatchSendResult{}, fmt.Errorf("cannot send empty batch")
	}
	if len(msgs) > sqs.MaxBatchSize {
		return sqs.BatchSendResult{}, fmt.Errorf("batch of %d exceeds maximum of %d", len(msgs), sqs.MaxBatchSize)
	}

	entries := make([]*awssqs.SendMessageBatchRequestEntry, len(msgs))
	indexByID := make(map[string]int, len(msgs))
	for i, msg := range msgs {
		id := uuid.NewString()
		entry := awssqs.SendMessageBatchRequestEntry{
			Id:                aws.String(id),
			MessageBody:       aws.String(string(msg.Body)),
			MessageAttributes: messageAttributes(msg.Attributes),
		}
		if msg.Delay > 0 {
			entry.DelaySeconds = aws.Int64(int64(msg.Delay / time.Second))
		}
		if msg.GroupID != "" {
			entry.MessageGroupId = aws.String(msg.GroupID)
		}
		if msg.DedupID != "" {
			entry.MessageDeduplicationId = aws.String(msg.DedupID)
		}
		entries[i] = &entry
		indexByID[id] = i
	}

	out, err := c.api.SendMessageBatchWithContext(ctx, &awssqs.SendMessageBatchInput{
		QueueUrl: aws.String(queueURL),
		Entries:  entries,
	})
	if err != nil {
		return sqs.BatchSendResult{}, classify(fmt.Errorf("failed to send message batch: %w", err))
	}

	var result sqs.BatchSendResult
	for _, ok := range out.Successful {
		result.Successful = append(result.Successful, sqs.SendResult{
			MessageID:      aws.StringValue(ok.MessageId),
			SequenceNumber: aws.StringValue(ok.SequenceNumber),
		})
	}
	for _, failed := range out.Failed {
		result.Failed = append(result.Failed, sqs.SendFailure{
			Index:       indexByID[aws.StringValue(failed.Id)],
			Code:        aws.StringValue(failed.Code),
			Reason:      aws.StringValue(failed.Message),
			SenderFault: aws.BoolValue(failed.SenderFault),
		})
	}

	return result, nil
}

func messageAttributes(attrs map[string]string) map[string]*awssqs.MessageAttributeValue {
	if len(attrs) == 0 {
		return nil
	}

	out := make(map[string]*awssqs.MessageAttributeValue, len(attrs))
	for k, v := range attrs {
		out[k] = &awssqs.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(v),
		}
	}

	return out
}

// classify maps AWS error codes onto the transient/fatal split the poll loop
// and ack processor act on. Unknown errors stay transient; the poll loop's
// bounded backoff absorbs them.
func classify(err error) error {
	var aerr awserr.Error
	if !errors.As(err, &aerr) {
		return err
	}

	switch aerr.Code() {
	case awssqs.ErrCodeQueueDoesNotExist:
		return sqs.Fatal(fmt.Errorf("%w: %w", sqs.ErrQueueNotFound, err))
	case "AccessDenied", "AccessDeniedException", "InvalidClientTokenId", "UnrecognizedClientException":
		return sqs.Fatal(fmt.Errorf("%w: %w", sqs.ErrAccessDenied, err))
	default:
		return err
	}
}
