package container

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"sqskit/internal/sqs"
	"sqskit/internal/sqs/ack"
	"sqskit/internal/sqs/backpressure"
	"sqskit/internal/sqs/fifo"
	"sqskit/internal/sqs/limiter"
	"sqskit/internal/sqs/metrics"
)

const (
	receiveBaseBackoff = time.Second
	receiveMaxBackoff  = 30 * time.Second
)

// poller is the poll loop for one listener: it repeatedly asks the
// backpressure controller for the next poll, receives a batch, and hands the
// messages to workers through the group dispatcher (FIFO queues) or straight
// to the concurrency limiter (standard queues).
type poller struct {
	def      sqs.ListenerDefinition
	client   sqs.Client
	registry *metrics.Registry
	logger   *zap.Logger

	// workCtx outlives the poll context so in-flight handlers can finish
	// during a graceful stop; it is cancelled at the stop deadline.
	workCtx context.Context

	limiter    *limiter.Limiter
	bp         *backpressure.Controller
	errHandler sqs.ErrorHandler

	queueURL   string
	acks       *ack.Processor
	dispatcher *fifo.Dispatcher

	wg sync.WaitGroup
}

func newPoller(def sqs.ListenerDefinition, client sqs.Client, registry *metrics.Registry, workCtx context.Context, logger *zap.Logger) (*poller, error) {
	lim, err := limiter.New(def.Config.MaxConcurrentMessages)
	if err != nil {
		return nil, fmt.Errorf("failed to create limiter for listener %q: %w", def.Name, err)
	}

	bp, err := backpressure.New(def.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to create backpressure controller for listener %q: %w", def.Name, err)
	}

	p := poller{
		def:        def,
		client:     client,
		registry:   registry,
		logger:     logger.With(zap.String("listener", def.Name), zap.String("queue", def.Config.Queue)),
		workCtx:    workCtx,
		limiter:    lim,
		bp:         bp,
		errHandler: def.ErrorHandler,
	}
	if p.errHandler == nil {
		p.errHandler = sqs.ErrorHandlerFunc(func(_ context.Context, msg sqs.Message, err error) {
			p.logger.Error("message processing failed",
				zap.String("messageId", msg.ID),
				zap.Error(err),
			)
		})
	}

	return &p, nil
}

// run is the listener's poll loop. It returns nil on a normal stop and an
// error only for a fatal listener failure; either way the other listeners
// keep running.
func (p *poller) run(ctx context.Context) error {
	p.logger.Info("attempting to start listener")

	if err := p.resolve(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		p.logger.Error("listener failed to start", zap.Error(err))
		return fmt.Errorf("listener %q: %w", p.def.Name, err)
	}

	acks, err := ack.NewProcessor(p.client, p.queueURL, p.def.Config.Ack, p.errHandler, p.logger)
	if err != nil {
		return fmt.Errorf("listener %q: failed to create ack processor: %w", p.def.Name, err)
	}
	p.acks = acks

	if sqs.IsFifoQueue(p.def.Config.Queue) {
		dispatcher, err := fifo.NewDispatcher(p.def.Config.FifoStrategy, p.def.Config.DedupRetention, p.processUnit, p.logger)
		if err != nil {
			return fmt.Errorf("listener %q: failed to create fifo dispatcher: %w", p.def.Name, err)
		}
		p.dispatcher = dispatcher
	}

	p.logger.Info("listener started")

	failures := 0
	for ctx.Err() == nil {
		poll := p.bp.Next(p.limiter.Free())

		if poll.BatchSize > 0 {
			start := time.Now()
			msgs, err := p.client.Receive(ctx, sqs.ReceiveRequest{
				QueueURL:    p.queueURL,
				MaxMessages: poll.BatchSize,
				WaitTime:    p.def.Config.WaitTime,
			})
			if p.registry != nil {
				p.registry.RecordPoll(p.def.Name, p.def.Config.Queue, len(msgs), time.Since(start), err)
			}
			if err != nil {
				if ctx.Err() != nil {
					break
				}
				if sqs.IsFatal(err) {
					p.logger.Error("fatal listener error, stopping listener", zap.Error(err))
					return fmt.Errorf("listener %q: %w", p.def.Name, err)
				}

				failures++
				delay := receiveBackoff(failures)
				p.logger.Warn("failed to receive messages, backing off",
					zap.Int("failures", failures),
					zap.Duration("delay", delay),
					zap.Error(err),
				)
				if !sleep(ctx, delay) {
					break
				}
				continue
			}

			failures = 0
			p.bp.Observe(len(msgs))
			if len(msgs) > 0 {
				p.logger.Debug("dispatching messages", zap.Int("count", len(msgs)))
				p.dispatch(ctx, msgs)
			}
		}

		if !sleep(ctx, poll.Delay) {
			break
		}
	}

	p.logger.Info("listener stopped polling")

	return nil
}

// resolve maps the listener's queue name to a URL, creating the queue when
// the configuration asks for it.
func (p *poller) resolve(ctx context.Context) error {
	url, err := p.client.ResolveQueueURL(ctx, p.def.Config.Queue)
	switch {
	case err == nil:
		p.queueURL = url
		return nil
	case errors.Is(err, sqs.ErrQueueNotFound) && p.def.Config.QueueNotFound == sqs.QueueNotFoundCreate:
	default:
		return fmt.Errorf("failed to resolve queue URL: %w", err)
	}

	p.logger.Info("queue does not exist, creating it")
	url, err = p.client.CreateQueue(ctx, p.def.Config.Queue)
	if err != nil {
		return fmt.Errorf("failed to create queue: %w", err)
	}
	p.queueURL = url

	return nil
}

// dispatch hands received messages to workers. FIFO queues go through the
// group dispatcher; standard queues submit to the limiter directly, one
// permit per message or one per batch for batch-mode listeners.
func (p *poller) dispatch(ctx context.Context, msgs []sqs.Message) {
	if p.dispatcher != nil {
		p.dispatcher.Dispatch(ctx, msgs)
		return
	}

	if p.def.BatchHandler != nil {
		p.wg.Add(1)
		err := p.limiter.Submit(ctx, func() {
			defer p.wg.Done()
			p.processBatch(msgs)
		})
		if err != nil {
			p.wg.Done()
		}
		return
	}

	for _, msg := range msgs {
		p.wg.Add(1)
		err := p.limiter.Submit(ctx, func() {
			defer p.wg.Done()
			p.processOne(msg)
		})
		if err != nil {
			p.wg.Done()
			return
		}
	}
}

// processUnit runs one dispatch unit for the fifo dispatcher. Batch-mode
// listeners take the whole unit under one permit; otherwise messages within
// the unit run concurrently, each under its own permit. Either way the unit
// returns only once every outcome is recorded.
func (p *poller) processUnit(ctx context.Context, msgs []sqs.Message) {
	if p.def.BatchHandler != nil {
		if err := p.limiter.Acquire(ctx); err != nil {
			return
		}
		defer p.limiter.Release()
		p.processBatch(msgs)
		return
	}

	var wg sync.WaitGroup
	for _, msg := range msgs {
		if err := p.limiter.Acquire(ctx); err != nil {
			break
		}
		wg.Add(1)
		go func(m sqs.Message) {
			defer wg.Done()
			defer p.limiter.Release()
			p.processOne(m)
		}(msg)
	}
	wg.Wait()
}

func (p *poller) processOne(msg sqs.Message) {
	ctx := p.workCtx

	if p.def.Config.Ack.Mode == sqs.AckManual {
		handle := msg
		msg = msg.WithAck(func() error {
			return p.acks.Acknowledge(ctx, handle)
		})
	}

	p.trackInFlight(1)
	err := p.invoke(ctx, msg)
	p.trackInFlight(-1)

	if err != nil {
		p.errHandler.HandleError(ctx, msg, err)
	}
	p.acks.Record(ctx, msg, err)

	if p.registry != nil {
		p.registry.RecordProcessed(p.def.Name, p.def.Config.Queue, err)
		p.registry.SetAckBuffer(p.def.Name, p.acks.BufferLen())
	}
}

func (p *poller) processBatch(msgs []sqs.Message) {
	ctx := p.workCtx

	p.trackInFlight(len(msgs))
	err := p.invokeBatch(ctx, msgs)
	p.trackInFlight(-len(msgs))

	for _, msg := range msgs {
		if err != nil {
			p.errHandler.HandleError(ctx, msg, err)
		}
		p.acks.Record(ctx, msg, err)
		if p.registry != nil {
			p.registry.RecordProcessed(p.def.Name, p.def.Config.Queue, err)
		}
	}
	if p.registry != nil {
		p.registry.SetAckBuffer(p.def.Name, p.acks.BufferLen())
	}
}

// invoke calls user processing logic. Panics are converted into processing
// errors so an uncaught panic can never kill the listener.
func (p *poller) invoke(ctx context.Context, msg sqs.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()

	return p.def.Handler.Process(ctx, msg)
}

func (p *poller) invokeBatch(ctx context.Context, msgs []sqs.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("batch handler panicked: %v", r)
		}
	}()

	return p.def.BatchHandler.ProcessBatch(ctx, msgs)
}

// waitIdle blocks until all of the listener's in-flight work has finished.
func (p *poller) waitIdle() {
	p.wg.Wait()
	if p.dispatcher != nil {
		p.dispatcher.Drain()
	}
}

// shutdown flushes already-recorded acknowledgements and stops the listener's
// ack processor.
func (p *poller) shutdown(ctx context.Context) error {
	if p.acks == nil {
		return nil
	}

	if err := p.acks.Stop(ctx); err != nil {
		return fmt.Errorf("failed to stop ack processor for listener %q: %w", p.def.Name, err)
	}

	return nil
}

func (p *poller) trackInFlight(delta int) {
	if p.registry == nil {
		return
	}
	p.registry.AddInFlight(p.def.Name, delta)
}

func receiveBackoff(failures int) time.Duration {
	delay := receiveBaseBackoff << (failures - 1)
	if delay <= 0 || delay > receiveMaxBackoff {
		delay = receiveMaxBackoff
	}

	return delay
}

// sleep waits for d or until ctx is done, reporting false on cancellation.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
