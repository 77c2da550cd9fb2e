// Package container owns the set of poll loops for registered listeners and
// orchestrates their coordinated start and stop.
package container

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"sqskit/internal/sqs"
	"sqskit/internal/sqs/metrics"
	"sqskit/internal/validator"
)

// Container drives one poll loop per registered listener. Listeners are
// registered before Start; Start and Stop are idempotent against repeated
// calls per the lifecycle contract.
type Container struct {
	client   sqs.Client
	cfg      sqs.ContainerConfig
	logger   *zap.Logger
	registry *metrics.Registry

	mu       sync.Mutex
	state    sqs.ContainerState
	defs     []sqs.ListenerDefinition
	pollers  []*poller
	group    *errgroup.Group
	stopPoll context.CancelFunc
	stopWork context.CancelFunc
}

// Option configures optional container collaborators.
type Option func(*Container)

// WithMetrics attaches a metrics registry; poll loops and acknowledgement
// processors record into it.
func WithMetrics(registry *metrics.Registry) Option {
	return func(c *Container) {
		c.registry = registry
	}
}

func New(client sqs.Client, cfg sqs.ContainerConfig, logger *zap.Logger, opts ...Option) (*Container, error) {
	c := Container{
		client: client,
		cfg:    cfg,
		logger: logger,
		state:  sqs.ContainerCreated,
	}

	if err := validator.Validate("container", c.client, c.logger); err != nil {
		return nil, fmt.Errorf("failed to validate container deps: %w", err)
	}
	if c.cfg.StopTimeout <= 0 {
		c.cfg.StopTimeout = 20 * time.Second
	}

	for _, opt := range opts {
		opt(&c)
	}

	return &c, nil
}

// Register adds a listener definition. Fails once the container has been
// started.
func (c *Container) Register(def sqs.ListenerDefinition) error {
	def = def.WithDefaults()
	if err := def.Validate(); err != nil {
		return fmt.Errorf("failed to register listener: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != sqs.ContainerCreated && c.state != sqs.ContainerStopped {
		return sqs.ErrContainerStarted
	}
	for _, existing := range c.defs {
		if existing.Name == def.Name {
			return fmt.Errorf("listener %q already registered", def.Name)
		}
	}
	c.defs = append(c.defs, def)

	return nil
}

// RegisterAll registers every definition held by the registry.
func (c *Container) RegisterAll(registry *sqs.Registry) error {
	for _, def := range registry.Listeners() {
		if err := c.Register(def); err != nil {
			return err
		}
	}

	return nil
}

// State returns the container's lifecycle state.
func (c *Container) State() sqs.ContainerState {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Start launches one poll loop per registered listener, each on its own
// goroutine. A fatal error in one listener stops only that listener.
func (c *Container) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case sqs.ContainerRunning, sqs.ContainerStarting:
		return sqs.ErrAlreadyRunning
	case sqs.ContainerStopping:
		return fmt.Errorf("container is stopping")
	}
	if len(c.defs) == 0 {
		return fmt.Errorf("no listeners registered")
	}

	prev := c.state
	c.state = sqs.ContainerStarting
	c.logger.Info("starting listener container", zap.Int("listeners", len(c.defs)))

	// pollCtx gates receive calls and lane starts; workCtx lets in-flight
	// handlers run past stop until the stop deadline.
	pollCtx, stopPoll := context.WithCancel(context.Background())
	workCtx, stopWork := context.WithCancel(context.Background())

	pollers := make([]*poller, 0, len(c.defs))
	for _, def := range c.defs {
		p, err := newPoller(def, c.client, c.registry, workCtx, c.logger)
		if err != nil {
			stopPoll()
			stopWork()
			c.state = prev
			return fmt.Errorf("failed to start container: %w", err)
		}
		pollers = append(pollers, p)
	}

	c.stopPoll = stopPoll
	c.stopWork = stopWork
	c.pollers = pollers
	c.group = new(errgroup.Group)
	for _, p := range pollers {
		c.group.Go(func() error {
			return p.run(pollCtx)
		})
	}

	c.state = sqs.ContainerRunning
	c.logger.Info("listener container running")

	return nil
}

// Stop signals every poll loop to stop polling, waits up to timeout for
// in-flight messages to finish, performs a final acknowledgement flush for
// already-recorded outcomes, then cancels remaining work. Messages still
// mid-flight at the deadline are left to the queue's visibility timeout.
// A second Stop is a no-op.
func (c *Container) Stop(timeout time.Duration) error {
	c.mu.Lock()
	switch c.state {
	case sqs.ContainerCreated, sqs.ContainerStopped, sqs.ContainerStopping:
		c.mu.Unlock()
		return nil
	}
	c.state = sqs.ContainerStopping
	pollers := c.pollers
	group := c.group
	stopPoll := c.stopPoll
	stopWork := c.stopWork
	c.mu.Unlock()

	if timeout <= 0 {
		timeout = c.cfg.StopTimeout
	}
	deadline := time.Now().Add(timeout)

	c.logger.Info("stopping listener container", zap.Duration("timeout", timeout))
	stopPoll()

	var loopErr error
	if group != nil {
		loopErr = group.Wait()
	}

	// wait for in-flight workers, bounded by the stop deadline
	idle := make(chan struct{})
	go func() {
		for _, p := range pollers {
			p.waitIdle()
		}
		close(idle)
	}()

	select {
	case <-idle:
	case <-time.After(time.Until(deadline)):
		c.logger.Warn("stop timeout reached with work still in flight")
	}

	stopWork()

	flushCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	var flushErr error
	for _, p := range pollers {
		if err := p.shutdown(flushCtx); err != nil && flushErr == nil {
			flushErr = err
		}
	}

	c.mu.Lock()
	c.state = sqs.ContainerStopped
	c.mu.Unlock()
	c.logger.Info("listener container stopped")

	if loopErr != nil {
		return fmt.Errorf("listener failed: %w", loopErr)
	}

	return flushErr
}
