package container

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"sqskit/internal/sqs"
)

// The package-level start/stop entry points drive one process-wide container
// built from sqs.DefaultRegistry. Library code should construct and pass a
// Container explicitly; this façade exists for applications that register
// listeners at startup and want a single switch.
var (
	globalMu        sync.Mutex
	globalContainer *Container
)

// StartListeners builds a container from the default registry and starts it.
func StartListeners(client sqs.Client, cfg sqs.ContainerConfig, logger *zap.Logger, opts ...Option) error {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalContainer != nil && globalContainer.State() == sqs.ContainerRunning {
		return sqs.ErrAlreadyRunning
	}

	c, err := New(client, cfg, logger, opts...)
	if err != nil {
		return fmt.Errorf("failed to create container: %w", err)
	}
	if err := c.RegisterAll(sqs.DefaultRegistry); err != nil {
		return fmt.Errorf("failed to register listeners: %w", err)
	}
	if err := c.Start(); err != nil {
		return err
	}
	globalContainer = c

	return nil
}

// StopListeners stops the process-wide container. Calling it without a prior
// StartListeners is a no-op.
func StopListeners(timeout time.Duration) error {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalContainer == nil {
		return nil
	}

	err := globalContainer.Stop(timeout)
	globalContainer = nil

	return err
}
