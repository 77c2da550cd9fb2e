// Package ack buffers per-message completion signals and flushes them to the
// queue as batched delete calls.
package ack

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"sqskit/internal/sqs"
	"sqskit/internal/validator"
)

const (
	// deleteAttempts bounds the retry loop for a transient delete failure.
	deleteAttempts = 3
	retryBaseDelay = 100 * time.Millisecond
)

// Processor is the per-listener acknowledgement processor. Worker goroutines
// append outcomes concurrently; flushes are triggered inline when the buffer
// reaches the configured threshold and by a background timer once the oldest
// entry reaches the configured interval.
type Processor struct {
	client     sqs.Client
	queueURL   string
	cfg        sqs.AckConfig
	errHandler sqs.ErrorHandler
	logger     *zap.Logger

	mu      sync.Mutex
	pending []sqs.Message
	closed  bool

	notify   chan struct{}
	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewProcessor(client sqs.Client, queueURL string, cfg sqs.AckConfig, errHandler sqs.ErrorHandler, logger *zap.Logger) (*Processor, error) {
	p := Processor{
		client:     client,
		queueURL:   queueURL,
		cfg:        cfg,
		errHandler: errHandler,
		logger:     logger,
		notify:     make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}

	if err := validator.Validate("ack processor", p.client, p.queueURL, p.logger); err != nil {
		return nil, fmt.Errorf("failed to validate ack processor deps: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ack config: %w", err)
	}
	if p.errHandler == nil {
		p.errHandler = sqs.ErrorHandlerFunc(func(context.Context, sqs.Message, error) {})
	}

	go p.loop()

	return &p, nil
}

// Record reports a message outcome. Whether the receipt handle is buffered
// for deletion depends on the acknowledgement mode: ON_SUCCESS buffers only
// successful outcomes, ALWAYS buffers unconditionally, MANUAL never buffers
// here.
func (p *Processor) Record(ctx context.Context, msg sqs.Message, procErr error) {
	switch p.cfg.Mode {
	case sqs.AckManual:
		return
	case sqs.AckOnSuccess:
		if procErr != nil {
			return
		}
	case sqs.AckAlways:
	}

	p.append(ctx, msg)
}

// Acknowledge buffers a message for deletion regardless of mode. This is the
// path behind Message.Acknowledge for manual-mode listeners.
func (p *Processor) Acknowledge(ctx context.Context, msg sqs.Message) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return fmt.Errorf("ack processor for queue %s is stopped", p.queueURL)
	}

	p.append(ctx, msg)

	return nil
}

func (p *Processor) append(ctx context.Context, msg sqs.Message) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}

	wasEmpty := len(p.pending) == 0
	p.pending = append(p.pending, msg)
	full := len(p.pending) >= p.cfg.Threshold || len(p.pending) >= sqs.MaxBatchSize
	p.mu.Unlock()

	if wasEmpty {
		select {
		case p.notify <- struct{}{}:
		default:
		}
	}

	if full {
		if err := p.Flush(ctx); err != nil {
			p.logger.Error("failed to flush acknowledgements", zap.Error(err))
		}
	}
}

// BufferLen is the number of receipt handles awaiting deletion.
func (p *Processor) BufferLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.pending)
}

// Flush atomically drains the buffer and issues batched delete calls of up to
// the protocol limit. Partial failures are reported per handle to the error
// handler; succeeded handles are acknowledged and never retried.
func (p *Processor) Flush(ctx context.Context) error {
	p.mu.Lock()
	drained := p.pending
	p.pending = nil
	p.mu.Unlock()

	if len(drained) == 0 {
		return nil
	}

	batches := make([][]sqs.Message, 0, (len(drained)+sqs.MaxBatchSize-1)/sqs.MaxBatchSize)
	for len(drained) > 0 {
		n := min(len(drained), sqs.MaxBatchSize)
		batches = append(batches, drained[:n])
		drained = drained[n:]
	}

	if p.cfg.Ordering == sqs.AckOrderingOrdered {
		for _, batch := range batches {
			if err := p.deleteBatch(ctx, batch); err != nil {
				return err
			}
		}

		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, batch := range batches {
		g.Go(func() error {
			return p.deleteBatch(gctx, batch)
		})
	}

	return g.Wait()
}

func (p *Processor) deleteBatch(ctx context.Context, batch []sqs.Message) error {
	handles := make([]string, len(batch))
	byHandle := make(map[string]sqs.Message, len(batch))
	for i, msg := range batch {
		handles[i] = msg.ReceiptHandle
		byHandle[msg.ReceiptHandle] = msg
	}

	var (
		results []sqs.DeleteResult
		err     error
	)
	for attempt := 0; attempt < deleteAttempts; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		results, err = p.client.DeleteBatch(ctx, p.queueURL, handles)
		if err == nil {
			break
		}
		if sqs.IsFatal(err) || ctx.Err() != nil {
			break
		}
		p.logger.Warn("transient delete failure, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	if err != nil {
		for _, msg := range batch {
			p.errHandler.HandleError(ctx, msg, fmt.Errorf("failed to delete message: %w", err))
		}
		return fmt.Errorf("failed to delete batch of %d messages: %w", len(batch), err)
	}

	for _, res := range results {
		if res.Err == nil {
			continue
		}
		p.errHandler.HandleError(ctx, byHandle[res.ReceiptHandle], fmt.Errorf("failed to delete message: %w", res.Err))
		p.logger.Warn("partial batch delete failure",
			zap.String("receiptHandle", res.ReceiptHandle),
			zap.Error(res.Err),
		)
	}

	return nil
}

// Stop performs a final flush of already-recorded outcomes and shuts the
// background trigger down. Outcomes recorded after Stop returns are dropped.
func (p *Processor) Stop(ctx context.Context) error {
	var flushErr error
	p.stopOnce.Do(func() {
		close(p.stopCh)
		<-p.done

		flushErr = p.Flush(ctx)

		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
	})

	return flushErr
}

// loop fires a time-based flush once the oldest buffered entry reaches the
// configured interval.
func (p *Processor) loop() {
	defer close(p.done)

	timer := time.NewTimer(p.cfg.Interval)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-p.notify:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(p.cfg.Interval)
		case <-timer.C:
			if err := p.Flush(context.Background()); err != nil {
				p.logger.Error("failed to flush acknowledgements", zap.Error(err))
			}
		case <-p.stopCh:
			return
		}
	}
}
