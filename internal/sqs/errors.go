package sqs

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRunning is returned by Container.Start when the container is
	// already in the RUNNING state.
	ErrAlreadyRunning = errors.New("sqs: container already running")

	// ErrContainerStarted is returned by Container.Register once the
	// container has left the CREATED state.
	ErrContainerStarted = errors.New("sqs: cannot register listener after container start")

	// ErrQueueNotFound indicates the queue does not exist. It is fatal for a
	// listener unless its queue-not-found strategy is QueueNotFoundCreate.
	ErrQueueNotFound = errors.New("sqs: queue does not exist")

	// ErrManualAckNotEnabled is returned by Message.Acknowledge when the
	// listener is not in manual acknowledgement mode.
	ErrManualAckNotEnabled = errors.New("sqs: manual acknowledgement not enabled for this listener")

	// ErrAccessDenied indicates a permanent authorization failure on the
	// queue and is always fatal for the affected listener.
	ErrAccessDenied = errors.New("sqs: access to queue denied")
)

// FatalError marks an error as non-retryable for the poll loop: the affected
// listener stops, other listeners are unaffected.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal listener error: %v", e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Fatal wraps err so that IsFatal reports true for it.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// IsFatal reports whether err should stop the listener that produced it
// rather than be retried. Errors not marked fatal are treated as transient.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
