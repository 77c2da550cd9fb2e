package sqs

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// AckMode controls when a processed message is buffered for deletion.
type AckMode string

const (
	// AckOnSuccess buffers the outcome only when processing returns nil.
	AckOnSuccess AckMode = "ON_SUCCESS"
	// AckAlways buffers the outcome after processing completes regardless of
	// the result. Failed messages are discarded from the queue.
	AckAlways AckMode = "ALWAYS"
	// AckManual never buffers automatically; the handler must call
	// Message.Acknowledge itself.
	AckManual AckMode = "MANUAL"
)

// AckOrdering controls how buffered acknowledgements are flushed.
type AckOrdering string

const (
	// AckOrderingAny allows delete batches for one flush to be issued
	// concurrently.
	AckOrderingAny AckOrdering = "ANY"
	// AckOrderingOrdered issues delete batches sequentially in receipt
	// order, for FIFO queues.
	AckOrderingOrdered AckOrdering = "ORDERED"
)

// BackpressureMode selects the polling throttle policy.
type BackpressureMode string

const (
	// BackpressureFixed always requests the configured maximum batch size
	// with a fixed inter-poll delay.
	BackpressureFixed BackpressureMode = "FIXED"
	// BackpressureAuto sizes each poll to free processing capacity and backs
	// off exponentially while workers are saturated.
	BackpressureAuto BackpressureMode = "AUTO"
)

// FifoStrategy selects how messages sharing a group key are dispatched.
type FifoStrategy string

const (
	// FifoStrict processes at most one message per group at a time.
	FifoStrict FifoStrategy = "STRICT"
	// FifoParallelBatchesPerGroup processes one received batch per group at a
	// time, with messages inside the batch running concurrently.
	FifoParallelBatchesPerGroup FifoStrategy = "PARALLEL_BATCHES_PER_GROUP"
)

// QueueNotFoundStrategy controls what happens when a listener's queue does
// not exist at start.
type QueueNotFoundStrategy string

const (
	QueueNotFoundFail   QueueNotFoundStrategy = "FAIL"
	QueueNotFoundCreate QueueNotFoundStrategy = "CREATE"
)

// SendBatchFailureStrategy controls how the template reports partial batch
// send failures.
type SendBatchFailureStrategy string

const (
	// SendBatchFailureReturn returns partial failures in the result.
	SendBatchFailureReturn SendBatchFailureStrategy = "RETURN"
	// SendBatchFailureError turns any partial failure into an error.
	SendBatchFailureError SendBatchFailureStrategy = "ERROR"
)

// ContainerState is the lifecycle state of a listener container.
type ContainerState int

const (
	ContainerCreated ContainerState = iota
	ContainerStarting
	ContainerRunning
	ContainerStopping
	ContainerStopped
)

func (s ContainerState) String() string {
	switch s {
	case ContainerCreated:
		return "CREATED"
	case ContainerStarting:
		return "STARTING"
	case ContainerRunning:
		return "RUNNING"
	case ContainerStopping:
		return "STOPPING"
	case ContainerStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// AckConfig configures a listener's acknowledgement processor.
type AckConfig struct {
	Mode AckMode `env:"ACK_MODE" envDefault:"ON_SUCCESS"`
	// Interval is the maximum age of the oldest buffered acknowledgement
	// before a time-based flush fires.
	Interval time.Duration `env:"ACK_INTERVAL" envDefault:"1s"`
	// Threshold triggers an inline flush once the buffer reaches this count.
	Threshold int         `env:"ACK_THRESHOLD" envDefault:"10"`
	Ordering  AckOrdering `env:"ACK_ORDERING" envDefault:"ANY"`
}

// ListenerConfig is the immutable per-listener configuration captured at
// registration time.
type ListenerConfig struct {
	Queue                 string                `env:"QUEUE"`
	MaxConcurrentMessages int                   `env:"MAX_CONCURRENT_MESSAGES" envDefault:"10"`
	MaxMessagesPerPoll    int                   `env:"MAX_MESSAGES_PER_POLL" envDefault:"10"`
	WaitTime              time.Duration         `env:"WAIT_TIME" envDefault:"10s"`
	Backpressure          BackpressureMode      `env:"BACKPRESSURE_MODE" envDefault:"AUTO"`
	MinPollDelay          time.Duration         `env:"MIN_DELAY_BETWEEN_POLLS" envDefault:"100ms"`
	MaxPollDelay          time.Duration         `env:"MAX_DELAY_BETWEEN_POLLS" envDefault:"10s"`
	FifoStrategy          FifoStrategy          `env:"FIFO_STRATEGY" envDefault:"STRICT"`
	DedupRetention        time.Duration         `env:"DEDUP_RETENTION" envDefault:"5m"`
	QueueNotFound         QueueNotFoundStrategy `env:"QUEUE_NOT_FOUND_STRATEGY" envDefault:"FAIL"`
	Ack                   AckConfig             `envPrefix:""`
}

// ContainerConfig configures the listener container as a whole.
type ContainerConfig struct {
	// StopTimeout bounds how long Stop waits for in-flight messages before
	// forcing shutdown.
	StopTimeout time.Duration `env:"STOP_TIMEOUT" envDefault:"20s"`
}

// TemplateConfig configures the send-side template.
type TemplateConfig struct {
	DefaultDelay     time.Duration            `env:"TEMPLATE_DEFAULT_DELAY" envDefault:"0s"`
	BatchFailureMode SendBatchFailureStrategy `env:"SEND_BATCH_FAILURE_STRATEGY" envDefault:"RETURN"`
}

// Config is the full environment-driven configuration surface.
type Config struct {
	Endpoint  string          `env:"SQS_ENDPOINT"`
	Region    string          `env:"AWS_REGION" envDefault:"us-east-1"`
	Container ContainerConfig `envPrefix:""`
	Listener  ListenerConfig  `envPrefix:"SQS_LISTENER_"`
	Template  TemplateConfig  `envPrefix:""`
}

// LoadConfigFromEnv parses the configuration surface from environment
// variables, applying defaults where unset.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	return cfg, nil
}

// Validate checks enum values and bounds, applying no mutation.
func (c ListenerConfig) Validate() error {
	if c.Queue == "" {
		return fmt.Errorf("listener queue must not be empty")
	}
	if c.MaxConcurrentMessages < 1 {
		return fmt.Errorf("max concurrent messages must be >= 1, got %d", c.MaxConcurrentMessages)
	}
	if c.MaxMessagesPerPoll < 1 || c.MaxMessagesPerPoll > MaxBatchSize {
		return fmt.Errorf("max messages per poll must be in [1, %d], got %d", MaxBatchSize, c.MaxMessagesPerPoll)
	}
	if c.MinPollDelay < 0 || c.MaxPollDelay < c.MinPollDelay {
		return fmt.Errorf("poll delay bounds invalid: min %s max %s", c.MinPollDelay, c.MaxPollDelay)
	}
	switch c.Backpressure {
	case BackpressureFixed, BackpressureAuto:
	default:
		return fmt.Errorf("unknown backpressure mode %q", c.Backpressure)
	}
	switch c.FifoStrategy {
	case FifoStrict, FifoParallelBatchesPerGroup:
	default:
		return fmt.Errorf("unknown fifo strategy %q", c.FifoStrategy)
	}
	switch c.QueueNotFound {
	case QueueNotFoundFail, QueueNotFoundCreate:
	default:
		return fmt.Errorf("unknown queue-not-found strategy %q", c.QueueNotFound)
	}

	return c.Ack.Validate()
}

// Validate checks acknowledgement configuration bounds.
func (c AckConfig) Validate() error {
	switch c.Mode {
	case AckOnSuccess, AckAlways, AckManual:
	default:
		return fmt.Errorf("unknown acknowledgement mode %q", c.Mode)
	}
	switch c.Ordering {
	case AckOrderingAny, AckOrderingOrdered:
	default:
		return fmt.Errorf("unknown acknowledgement ordering %q", c.Ordering)
	}
	if c.Threshold < 1 {
		return fmt.Errorf("acknowledgement threshold must be >= 1, got %d", c.Threshold)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("acknowledgement interval must be > 0, got %s", c.Interval)
	}

	return nil
}

// IsFifoQueue reports whether the queue name denotes an ordered queue.
func IsFifoQueue(queue string) bool {
	const suffix = ".fifo"
	return len(queue) > len(suffix) && queue[len(queue)-len(suffix):] == suffix
}
