// Package backpressure computes the requested batch size and inter-poll delay
// for a listener's poll loop based on free processing capacity.
package backpressure

import (
	"fmt"
	"time"

	"sqskit/internal/sqs"
)

// Poll is the controller's decision for the next iteration: request BatchSize
// messages after waiting Delay. A BatchSize of zero means skip the receive
// call entirely and just wait.
type Poll struct {
	BatchSize int
	Delay     time.Duration
}

// Controller implements the FIXED and AUTO throttle policies. It is owned by
// a single poll loop and is not safe for concurrent use.
type Controller struct {
	mode     sqs.BackpressureMode
	maxBatch int
	minDelay time.Duration
	maxDelay time.Duration

	// current AUTO delay; advances while saturated or polling empty,
	// resets on recovery.
	delay     time.Duration
	saturated bool
}

func New(cfg sqs.ListenerConfig) (*Controller, error) {
	switch cfg.Backpressure {
	case sqs.BackpressureFixed, sqs.BackpressureAuto:
	default:
		return nil, fmt.Errorf("unknown backpressure mode %q", cfg.Backpressure)
	}

	maxBatch := cfg.MaxMessagesPerPoll
	if maxBatch > sqs.MaxBatchSize {
		maxBatch = sqs.MaxBatchSize
	}

	return &Controller{
		mode:     cfg.Backpressure,
		maxBatch: maxBatch,
		minDelay: cfg.MinPollDelay,
		maxDelay: cfg.MaxPollDelay,
		delay:    cfg.MinPollDelay,
	}, nil
}

// Next computes the upcoming poll from current free permits. Zero free
// permits under AUTO yields BatchSize 0 with an exponentially increasing
// delay; any free capacity resets the delay to its minimum.
func (c *Controller) Next(freePermits int) Poll {
	if c.mode == sqs.BackpressureFixed {
		return Poll{BatchSize: c.maxBatch, Delay: c.minDelay}
	}

	if freePermits <= 0 {
		p := Poll{BatchSize: 0, Delay: c.delay}
		c.saturated = true
		c.advance()
		return p
	}

	if c.saturated {
		// capacity freed up, recover immediately
		c.saturated = false
		c.delay = c.minDelay
	}

	batch := freePermits
	if batch > c.maxBatch {
		batch = c.maxBatch
	}

	return Poll{BatchSize: batch, Delay: c.delay}
}

// Observe records the outcome of a poll. A non-empty poll resets the AUTO
// delay so the loop recovers immediately once messages flow again; an empty
// poll backs the delay off to avoid tight empty-polling.
func (c *Controller) Observe(received int) {
	if c.mode == sqs.BackpressureFixed {
		return
	}

	if received > 0 {
		c.delay = c.minDelay
		return
	}
	c.advance()
}

func (c *Controller) advance() {
	next := c.delay * 2
	if next <= 0 || next > c.maxDelay {
		next = c.maxDelay
	}
	c.delay = next
}
