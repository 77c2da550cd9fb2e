package sqs

import (
	"context"
	"fmt"
	"time"
)

// Handler processes a single message. A nil return acknowledges the message
// under AckOnSuccess; any error routes through the listener's error handler.
type Handler interface {
	Process(ctx context.Context, msg Message) error
}

// HandlerFunc is an adapter to allow ordinary functions as Handlers.
type HandlerFunc func(ctx context.Context, msg Message) error

func (f HandlerFunc) Process(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// BatchHandler processes a whole received batch as a unit. Listeners with a
// batch handler hold one concurrency permit per batch instead of one per
// message, and the batch shares a single outcome.
type BatchHandler interface {
	ProcessBatch(ctx context.Context, msgs []Message) error
}

// BatchHandlerFunc is an adapter to allow ordinary functions as BatchHandlers.
type BatchHandlerFunc func(ctx context.Context, msgs []Message) error

func (f BatchHandlerFunc) ProcessBatch(ctx context.Context, msgs []Message) error {
	return f(ctx, msgs)
}

// ErrorHandler receives processing failures and partial batch-delete
// failures for a listener. Handlers must not block for long; they run on the
// worker that produced the failure.
type ErrorHandler interface {
	HandleError(ctx context.Context, msg Message, err error)
}

// ErrorHandlerFunc is an adapter to allow ordinary functions as ErrorHandlers.
type ErrorHandlerFunc func(ctx context.Context, msg Message, err error)

func (f ErrorHandlerFunc) HandleError(ctx context.Context, msg Message, err error) {
	f(ctx, msg, err)
}

// ListenerDefinition binds a queue to processing logic. It is captured by
// value at registration and never mutated afterwards. Exactly one of Handler
// and BatchHandler must be set.
type ListenerDefinition struct {
	// Name identifies the listener in logs, metrics and the registry.
	// Defaults to the queue name.
	Name         string
	Config       ListenerConfig
	Handler      Handler
	BatchHandler BatchHandler
	// ErrorHandler is optional; the default handler only logs.
	ErrorHandler ErrorHandler
}

// Validate checks the definition, including its configuration.
func (d ListenerDefinition) Validate() error {
	if d.Handler == nil && d.BatchHandler == nil {
		return fmt.Errorf("listener %q: a handler is required", d.Name)
	}
	if d.Handler != nil && d.BatchHandler != nil {
		return fmt.Errorf("listener %q: handler and batch handler are mutually exclusive", d.Name)
	}
	if err := d.Config.Validate(); err != nil {
		return fmt.Errorf("listener %q: %w", d.Name, err)
	}

	return nil
}

// WithDefaults returns a copy of the definition with unset fields replaced by
// their defaults, matching what LoadConfigFromEnv would have produced.
func (d ListenerDefinition) WithDefaults() ListenerDefinition {
	if d.Name == "" {
		d.Name = d.Config.Queue
	}
	if d.Config.MaxConcurrentMessages == 0 {
		d.Config.MaxConcurrentMessages = 10
	}
	if d.Config.MaxMessagesPerPoll == 0 {
		d.Config.MaxMessagesPerPoll = MaxBatchSize
	}
	if d.Config.WaitTime == 0 {
		d.Config.WaitTime = 10 * time.Second
	}
	if d.Config.Backpressure == "" {
		d.Config.Backpressure = BackpressureAuto
	}
	if d.Config.MinPollDelay == 0 {
		d.Config.MinPollDelay = 100 * time.Millisecond
	}
	if d.Config.MaxPollDelay == 0 {
		d.Config.MaxPollDelay = 10 * time.Second
	}
	if d.Config.FifoStrategy == "" {
		d.Config.FifoStrategy = FifoStrict
	}
	if d.Config.DedupRetention == 0 {
		d.Config.DedupRetention = 5 * time.Minute
	}
	if d.Config.QueueNotFound == "" {
		d.Config.QueueNotFound = QueueNotFoundFail
	}
	if d.Config.Ack.Mode == "" {
		d.Config.Ack.Mode = AckOnSuccess
	}
	if d.Config.Ack.Ordering == "" {
		d.Config.Ack.Ordering = AckOrderingAny
	}
	if d.Config.Ack.Threshold == 0 {
		d.Config.Ack.Threshold = MaxBatchSize
	}
	if d.Config.Ack.Interval == 0 {
		d.Config.Ack.Interval = time.Second
	}

	return d
}
