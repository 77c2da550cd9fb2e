// Package fifo dispatches messages from ordered queues into per-group lanes
// so that messages sharing a group key are processed in arrival order while
// different groups proceed in parallel.
package fifo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"sqskit/internal/sqs"
	"sqskit/internal/validator"
)

// ProcessFunc runs one dispatch unit (a single message under the strict
// strategy, a whole per-group batch under the parallel-batches strategy) and
// returns only after the unit's outcome has been recorded.
type ProcessFunc func(ctx context.Context, msgs []sqs.Message)

// Dispatcher owns the lane map for one listener. Lanes are created on the
// first message for a group key and garbage-collected once drained. A lane
// runs at most one unit at a time; pending units within a lane drain in
// arrival order, and a freed lane immediately starts its next pending unit
// (no cross-lane scheduling beyond arrival order).
type Dispatcher struct {
	strategy  sqs.FifoStrategy
	retention time.Duration
	process   ProcessFunc
	logger    *zap.Logger

	mu        sync.Mutex
	lanes     map[string]*lane
	seen      map[string]time.Time
	lastPrune time.Time

	wg sync.WaitGroup
}

type lane struct {
	pending [][]sqs.Message
	busy    bool
}

func NewDispatcher(strategy sqs.FifoStrategy, retention time.Duration, process ProcessFunc, logger *zap.Logger) (*Dispatcher, error) {
	switch strategy {
	case sqs.FifoStrict, sqs.FifoParallelBatchesPerGroup:
	default:
		return nil, fmt.Errorf("unknown fifo strategy %q", strategy)
	}

	d := Dispatcher{
		strategy:  strategy,
		retention: retention,
		process:   process,
		logger:    logger,
		lanes:     make(map[string]*lane),
		seen:      make(map[string]time.Time),
		lastPrune: time.Now(),
	}

	if err := validator.Validate("fifo dispatcher", d.process, d.logger); err != nil {
		return nil, fmt.Errorf("failed to validate fifo dispatcher deps: %w", err)
	}

	return &d, nil
}

// Dispatch partitions a received batch into lanes and starts any idle lane.
// It returns without waiting for processing; saturation is absorbed by the
// concurrency limiter inside the process callback.
func (d *Dispatcher) Dispatch(ctx context.Context, msgs []sqs.Message) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pruneLocked()

	groups := make(map[string][]sqs.Message)
	var order []string
	for _, msg := range msgs {
		if d.duplicateLocked(msg) {
			d.logger.Debug("skipping duplicate message",
				zap.String("messageId", msg.ID),
				zap.String("dedupKey", msg.DedupID),
			)
			continue
		}

		if _, ok := groups[msg.GroupID]; !ok {
			order = append(order, msg.GroupID)
		}
		groups[msg.GroupID] = append(groups[msg.GroupID], msg)
	}

	for _, key := range order {
		ln, ok := d.lanes[key]
		if !ok {
			ln = &lane{}
			d.lanes[key] = ln
		}

		if d.strategy == sqs.FifoParallelBatchesPerGroup {
			ln.pending = append(ln.pending, groups[key])
		} else {
			for _, msg := range groups[key] {
				ln.pending = append(ln.pending, []sqs.Message{msg})
			}
		}

		if !ln.busy {
			d.startLocked(ctx, key, ln)
		}
	}
}

// Drain waits for all in-flight and pending units to finish. Pending units
// are skipped without processing once ctx is done; their messages become
// redeliverable through the queue's visibility timeout.
func (d *Dispatcher) Drain() {
	d.wg.Wait()
}

// Lanes is the number of live group lanes, for tests and metrics.
func (d *Dispatcher) Lanes() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.lanes)
}

// startLocked pops the lane's next unit and runs it on its own goroutine.
// Caller holds d.mu.
func (d *Dispatcher) startLocked(ctx context.Context, key string, ln *lane) {
	unit := ln.pending[0]
	ln.pending = ln.pending[1:]
	ln.busy = true

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		if ctx.Err() == nil {
			d.process(ctx, unit)
		}

		d.mu.Lock()
		defer d.mu.Unlock()

		if len(ln.pending) == 0 {
			ln.busy = false
			delete(d.lanes, key)
			return
		}
		d.startLocked(ctx, key, ln)
	}()
}

// duplicateLocked records the message's dedup key and reports whether it was
// already observed within the retention window. Best effort only; the queue
// backend remains the source of truth for exactly-once delivery.
func (d *Dispatcher) duplicateLocked(msg sqs.Message) bool {
	if msg.DedupID == "" {
		return false
	}

	now := time.Now()
	if at, ok := d.seen[msg.DedupID]; ok && now.Sub(at) < d.retention {
		return true
	}
	d.seen[msg.DedupID] = now

	return false
}

func (d *Dispatcher) pruneLocked() {
	now := time.Now()
	if now.Sub(d.lastPrune) < d.retention {
		return
	}

	for key, at := range d.seen {
		if now.Sub(at) >= d.retention {
			delete(d.seen, key)
		}
	}
	d.lastPrune = now
}
