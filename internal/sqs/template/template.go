// Package template is the send-side counterpart of the listener container:
// it serializes payloads and sends them, singly or in batches, through the
// queue client.
package template

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sqskit/internal/sqs"
	"sqskit/internal/validator"
)

// Template sends payloads to queues. FIFO queues require a message group ID;
// batches are bounded by the protocol limit.
type Template struct {
	client    sqs.Client
	converter sqs.Converter
	cfg       sqs.TemplateConfig
	logger    *zap.Logger
}

func NewTemplate(client sqs.Client, converter sqs.Converter, cfg sqs.TemplateConfig, logger *zap.Logger) (*Template, error) {
	t := Template{
		client:    client,
		converter: converter,
		cfg:       cfg,
		logger:    logger,
	}

	if err := validator.Validate("template", t.client, t.converter, t.logger); err != nil {
		return nil, fmt.Errorf("failed to validate template deps: %w", err)
	}
	if t.cfg.BatchFailureMode == "" {
		t.cfg.BatchFailureMode = sqs.SendBatchFailureReturn
	}

	return &t, nil
}

// SendOption customizes a single send.
type SendOption func(*sqs.OutboundMessage)

// WithDelay delays delivery of the message.
func WithDelay(d time.Duration) SendOption {
	return func(m *sqs.OutboundMessage) {
		m.Delay = d
	}
}

// WithAttribute attaches a string message attribute.
func WithAttribute(key, value string) SendOption {
	return func(m *sqs.OutboundMessage) {
		if m.Attributes == nil {
			m.Attributes = make(map[string]string)
		}
		m.Attributes[key] = value
	}
}

// WithGroupID sets the FIFO message group.
func WithGroupID(id string) SendOption {
	return func(m *sqs.OutboundMessage) {
		m.GroupID = id
	}
}

// WithDedupID sets the FIFO deduplication key.
func WithDedupID(id string) SendOption {
	return func(m *sqs.OutboundMessage) {
		m.DedupID = id
	}
}

// Send serializes payload and sends it to the named queue.
func (t *Template) Send(ctx context.Context, queue string, payload any, opts ...SendOption) (sqs.SendResult, error) {
	msg, err := t.build(queue, payload, opts)
	if err != nil {
		return sqs.SendResult{}, err
	}

	queueURL, err := t.client.ResolveQueueURL(ctx, queue)
	if err != nil {
		return sqs.SendResult{}, fmt.Errorf("failed to resolve queue URL: %w", err)
	}

	result, err := t.client.Send(ctx, queueURL, msg)
	if err != nil {
		return sqs.SendResult{}, fmt.Errorf("failed to send message to queue %s: %w", queue, err)
	}

	t.logger.Debug("message sent",
		zap.String("queue", queue),
		zap.String("messageId", result.MessageID),
	)

	return result, nil
}

// SendBatch serializes and sends up to the protocol batch limit of payloads
// in one call. How partial failures are reported depends on the configured
// batch failure strategy.
func (t *Template) SendBatch(ctx context.Context, queue string, payloads []any, opts ...SendOption) (sqs.BatchSendResult, error) {
	if len(payloads) == 0 {
		return sqs.BatchSendResult{}, fmt.Errorf("cannot send empty batch to queue %s", queue)
	}
	if len(payloads) > sqs.MaxBatchSize {
		return sqs.BatchSendResult{}, fmt.Errorf("batch of %d exceeds maximum of %d", len(payloads), sqs.MaxBatchSize)
	}

	msgs := make([]sqs.OutboundMessage, 0, len(payloads))
	for _, payload := range payloads {
		msg, err := t.build(queue, payload, opts)
		if err != nil {
			return sqs.BatchSendResult{}, err
		}
		msgs = append(msgs, msg)
	}

	queueURL, err := t.client.ResolveQueueURL(ctx, queue)
	if err != nil {
		return sqs.BatchSendResult{}, fmt.Errorf("failed to resolve queue URL: %w", err)
	}

	result, err := t.client.SendBatch(ctx, queueURL, msgs)
	if err != nil {
		return sqs.BatchSendResult{}, fmt.Errorf("failed to send batch to queue %s: %w", queue, err)
	}

	if len(result.Failed) > 0 {
		t.logger.Warn("partial batch send failure",
			zap.String("queue", queue),
			zap.Int("failed", len(result.Failed)),
			zap.Int("successful", len(result.Successful)),
		)
		if t.cfg.BatchFailureMode == sqs.SendBatchFailureError {
			return result, fmt.Errorf("failed to send %d of %d messages to queue %s", len(result.Failed), len(payloads), queue)
		}
	}

	return result, nil
}

func (t *Template) build(queue string, payload any, opts []SendOption) (sqs.OutboundMessage, error) {
	body, err := t.converter.Marshal(payload)
	if err != nil {
		return sqs.OutboundMessage{}, fmt.Errorf("failed to convert payload for queue %s: %w", queue, err)
	}

	msg := sqs.OutboundMessage{
		Body:  body,
		Delay: t.cfg.DefaultDelay,
	}
	for _, opt := range opts {
		opt(&msg)
	}

	if sqs.IsFifoQueue(queue) && msg.GroupID == "" {
		return sqs.OutboundMessage{}, fmt.Errorf("message_group_id is required for FIFO queue %s", queue)
	}
	if !sqs.IsFifoQueue(queue) && msg.DedupID != "" {
		return sqs.OutboundMessage{}, fmt.Errorf("deduplication key is only valid for FIFO queues, queue %s is standard", queue)
	}

	return msg, nil
}
