package awssqs

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"sqskit/internal/sqs"
	"sqskit/internal/sqs/tracing"
)

// TracedClient wraps a sqs.Client with distributed tracing
// Layer order: TracedClient -> MetricsClient -> Client (real thing)
type TracedClient struct {
	client sqs.Client
	tracer *tracing.Tracer
}

// NewTracedClient creates a new traced client that wraps a metrics client
func NewTracedClient(client sqs.Client, tracer *tracing.Tracer) sqs.Client {
	return &TracedClient{
		client: client,
		tracer: tracer,
	}
}

func (c *TracedClient) ResolveQueueURL(ctx context.Context, queue string) (string, error) {
	ctx, span := c.tracer.StartSpan(ctx, "sqs.resolve_queue_url")
	defer span.End()

	span.SetAttributes(attribute.String("messaging.destination.name", queue))

	url, err := c.client.ResolveQueueURL(ctx, queue)
	c.finish(ctx, span, err)

	return url, err
}

func (c *TracedClient) CreateQueue(ctx context.Context, queue string) (string, error) {
	ctx, span := c.tracer.StartSpan(ctx, "sqs.create_queue")
	defer span.End()

	span.SetAttributes(attribute.String("messaging.destination.name", queue))

	url, err := c.client.CreateQueue(ctx, queue)
	c.finish(ctx, span, err)

	return url, err
}

// Receive implements sqs.Client.Receive with distributed tracing
func (c *TracedClient) Receive(ctx context.Context, req sqs.ReceiveRequest) ([]sqs.Message, error) {
	ctx, span := c.tracer.StartSpan(ctx, "sqs.receive", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	span.SetAttributes(c.tracer.ReceiveAttributes(req.QueueURL, req.MaxMessages)...)

	msgs, err := c.client.Receive(ctx, req)

	span.SetAttributes(attribute.Int("messaging.batch.received", len(msgs)))
	c.finish(ctx, span, err)

	return msgs, err
}

// DeleteBatch implements sqs.Client.DeleteBatch with distributed tracing
func (c *TracedClient) DeleteBatch(ctx context.Context, queueURL string, handles []string) ([]sqs.DeleteResult, error) {
	ctx, span := c.tracer.StartSpan(ctx, "sqs.delete_batch")
	defer span.End()

	span.SetAttributes(c.tracer.BatchAttributes(queueURL, len(handles))...)

	results, err := c.client.DeleteBatch(ctx, queueURL, handles)
	c.finish(ctx, span, err)

	return results, err
}

// Send implements sqs.Client.Send with distributed tracing
func (c *TracedClient) Send(ctx context.Context, queueURL string, msg sqs.OutboundMessage) (sqs.SendResult, error) {
	ctx, span := c.tracer.StartSpan(ctx, "sqs.send", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()

	span.SetAttributes(c.tracer.QueueAttributes(queueURL)...)

	result, err := c.client.Send(ctx, queueURL, msg)
	c.finish(ctx, span, err)

	return result, err
}

// SendBatch implements sqs.Client.SendBatch with distributed tracing
func (c *TracedClient) SendBatch(ctx context.Context, queueURL string, msgs []sqs.OutboundMessage) (sqs.BatchSendResult, error) {
	ctx, span := c.tracer.StartSpan(ctx, "sqs.send_batch", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()

	span.SetAttributes(c.tracer.BatchAttributes(queueURL, len(msgs))...)

	result, err := c.client.SendBatch(ctx, queueURL, msgs)
	c.finish(ctx, span, err)

	return result, err
}

func (c *TracedClient) finish(ctx context.Context, span trace.Span, err error) {
	if err != nil {
		c.tracer.RecordError(ctx, err)
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.SetAttributes(c.tracer.ErrorAttributes(err)...)
}
