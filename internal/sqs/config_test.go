package sqs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validListenerConfig() ListenerConfig {
	return ListenerConfig{
		Queue:                 "orders",
		MaxConcurrentMessages: 10,
		MaxMessagesPerPoll:    10,
		WaitTime:              10 * time.Second,
		Backpressure:          BackpressureAuto,
		MinPollDelay:          100 * time.Millisecond,
		MaxPollDelay:          10 * time.Second,
		FifoStrategy:          FifoStrict,
		DedupRetention:        5 * time.Minute,
		QueueNotFound:         QueueNotFoundFail,
		Ack: AckConfig{
			Mode:      AckOnSuccess,
			Interval:  time.Second,
			Threshold: 10,
			Ordering:  AckOrderingAny,
		},
	}
}

func TestListenerConfig_Validate(t *testing.T) {
	t.Run("will accept a fully populated config", func(t *testing.T) {
		assert.NoError(t, validListenerConfig().Validate())
	})

	t.Run("will reject invalid values", func(t *testing.T) {
		for name, mutate := range map[string]func(*ListenerConfig){
			"empty queue":            func(c *ListenerConfig) { c.Queue = "" },
			"zero concurrency":       func(c *ListenerConfig) { c.MaxConcurrentMessages = 0 },
			"oversized poll batch":   func(c *ListenerConfig) { c.MaxMessagesPerPoll = MaxBatchSize + 1 },
			"zero poll batch":        func(c *ListenerConfig) { c.MaxMessagesPerPoll = 0 },
			"inverted delay bounds":  func(c *ListenerConfig) { c.MaxPollDelay = c.MinPollDelay - 1 },
			"unknown backpressure":   func(c *ListenerConfig) { c.Backpressure = "MAYBE" },
			"unknown fifo strategy":  func(c *ListenerConfig) { c.FifoStrategy = "LOOSE" },
			"unknown queue strategy": func(c *ListenerConfig) { c.QueueNotFound = "IGNORE" },
			"unknown ack mode":       func(c *ListenerConfig) { c.Ack.Mode = "NEVER" },
			"unknown ack ordering":   func(c *ListenerConfig) { c.Ack.Ordering = "RANDOM" },
			"zero ack threshold":     func(c *ListenerConfig) { c.Ack.Threshold = 0 },
			"zero ack interval":      func(c *ListenerConfig) { c.Ack.Interval = 0 },
		} {
			t.Run(name, func(t *testing.T) {
				cfg := validListenerConfig()
				mutate(&cfg)
				assert.Error(t, cfg.Validate())
			})
		}
	})
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Run("will apply defaults when unset", func(t *testing.T) {
		cfg, err := LoadConfigFromEnv()
		require.NoError(t, err)

		assert.Equal(t, 20*time.Second, cfg.Container.StopTimeout)
		assert.Equal(t, 10, cfg.Listener.MaxConcurrentMessages)
		assert.Equal(t, BackpressureAuto, cfg.Listener.Backpressure)
		assert.Equal(t, AckOnSuccess, cfg.Listener.Ack.Mode)
		assert.Equal(t, SendBatchFailureReturn, cfg.Template.BatchFailureMode)
	})

	t.Run("will read listener settings from the environment", func(t *testing.T) {
		t.Setenv("SQS_LISTENER_QUEUE", "orders")
		t.Setenv("SQS_LISTENER_MAX_CONCURRENT_MESSAGES", "3")
		t.Setenv("SQS_LISTENER_BACKPRESSURE_MODE", "FIXED")
		t.Setenv("SQS_LISTENER_ACK_MODE", "ALWAYS")

		cfg, err := LoadConfigFromEnv()
		require.NoError(t, err)

		assert.Equal(t, "orders", cfg.Listener.Queue)
		assert.Equal(t, 3, cfg.Listener.MaxConcurrentMessages)
		assert.Equal(t, BackpressureFixed, cfg.Listener.Backpressure)
		assert.Equal(t, AckAlways, cfg.Listener.Ack.Mode)
	})
}

func TestIsFifoQueue(t *testing.T) {
	assert.True(t, IsFifoQueue("orders.fifo"))
	assert.False(t, IsFifoQueue("orders"))
	assert.False(t, IsFifoQueue(".fifo"))
	assert.False(t, IsFifoQueue("orders.fifo.dlq"))
}

func TestContainerState_String(t *testing.T) {
	assert.Equal(t, "CREATED", ContainerCreated.String())
	assert.Equal(t, "RUNNING", ContainerRunning.String())
	assert.Equal(t, "STOPPED", ContainerStopped.String())
	assert.Equal(t, "UNKNOWN", ContainerState(42).String())
}
