package awssqs

import (
	"context"
	"time"

	"sqskit/internal/sqs"
	"sqskit/internal/sqs/metrics"
)

// MetricsClient wraps a sqs.Client with metrics collection
type MetricsClient struct {
	client   sqs.Client
	registry *metrics.Registry
}

// NewMetricsClient creates a new instrumented client
func NewMetricsClient(client sqs.Client, registry *metrics.Registry) sqs.Client {
	return &MetricsClient{
		client:   client,
		registry: registry,
	}
}

func (c *MetricsClient) ResolveQueueURL(ctx context.Context, queue string) (string, error) {
	return c.client.ResolveQueueURL(ctx, queue)
}

func (c *MetricsClient) CreateQueue(ctx context.Context, queue string) (string, error) {
	return c.client.CreateQueue(ctx, queue)
}

func (c *MetricsClient) Receive(ctx context.Context, req sqs.ReceiveRequest) ([]sqs.Message, error) {
	return c.client.Receive(ctx, req)
}

// DeleteBatch implements sqs.Client.DeleteBatch with metrics collection
func (c *MetricsClient) DeleteBatch(ctx context.Context, queueURL string, handles []string) ([]sqs.DeleteResult, error) {
	results, err := c.client.DeleteBatch(ctx, queueURL, handles)

	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
		}
	}
	c.registry.RecordDeleteBatch(queueURL, len(handles), failed, err)

	return results, err
}

// Send implements sqs.Client.Send with metrics collection
func (c *MetricsClient) Send(ctx context.Context, queueURL string, msg sqs.OutboundMessage) (sqs.SendResult, error) {
	start := time.Now()

	result, err := c.client.Send(ctx, queueURL, msg)

	c.registry.RecordSend(queueURL, 1, 0, time.Since(start), err)

	return result, err
}

// SendBatch implements sqs.Client.SendBatch with metrics collection
func (c *MetricsClient) SendBatch(ctx context.Context, queueURL string, msgs []sqs.OutboundMessage) (sqs.BatchSendResult, error) {
	start := time.Now()

	result, err := c.client.SendBatch(ctx, queueURL, msgs)

	c.registry.RecordSend(queueURL, len(msgs), len(result.Failed), time.Since(start), err)

	return result, err
}
