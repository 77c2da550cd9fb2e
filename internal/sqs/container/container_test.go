package container

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sqskit/internal/sqs"
)

// fakeQueue is one in-memory queue behind the fake client.
type fakeQueue struct {
	pending []sqs.Message
	deleted []string
}

// fakeClient is an in-memory sqs.Client. Queues are seeded by name; receives
// drain the pending slice in order.
type fakeClient struct {
	mu         sync.Mutex
	queues     map[string]*fakeQueue
	created    []string
	resolveErr map[string]error
}

func newFakeClient(queues ...string) *fakeClient {
	f := fakeClient{
		queues:     make(map[string]*fakeQueue),
		resolveErr: make(map[string]error),
	}
	for _, q := range queues {
		f.queues[q] = &fakeQueue{}
	}

	return &f
}

func (f *fakeClient) seed(queue string, msgs ...sqs.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.queues[queue].pending = append(f.queues[queue].pending, msgs...)
}

func (f *fakeClient) deletedCount(queue string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.queues[queue].deleted)
}

func (f *fakeClient) createdQueues() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.created...)
}

func (f *fakeClient) ResolveQueueURL(_ context.Context, queue string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.resolveErr[queue]; err != nil {
		return "", err
	}
	if _, ok := f.queues[queue]; !ok {
		return "", sqs.Fatal(fmt.Errorf("%w: %s", sqs.ErrQueueNotFound, queue))
	}

	return "url/" + queue, nil
}

func (f *fakeClient) CreateQueue(_ context.Context, queue string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.created = append(f.created, queue)
	f.queues[queue] = &fakeQueue{}

	return "url/" + queue, nil
}

func (f *fakeClient) Receive(ctx context.Context, req sqs.ReceiveRequest) ([]sqs.Message, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	queue := req.QueueURL[len("url/"):]
	q, ok := f.queues[queue]
	if !ok {
		return nil, nil
	}

	n := min(len(q.pending), req.MaxMessages)
	msgs := append([]sqs.Message(nil), q.pending[:n]...)
	q.pending = q.pending[n:]

	return msgs, nil
}

func (f *fakeClient) DeleteBatch(_ context.Context, queueURL string, handles []string) ([]sqs.DeleteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	queue := queueURL[len("url/"):]
	q := f.queues[queue]

	results := make([]sqs.DeleteResult, len(handles))
	for i, handle := range handles {
		q.deleted = append(q.deleted, handle)
		results[i] = sqs.DeleteResult{ReceiptHandle: handle}
	}

	return results, nil
}

func (f *fakeClient) Send(context.Context, string, sqs.OutboundMessage) (sqs.SendResult, error) {
	return sqs.SendResult{}, errors.New("not implemented")
}

func (f *fakeClient) SendBatch(context.Context, string, []sqs.OutboundMessage) (sqs.BatchSendResult, error) {
	return sqs.BatchSendResult{}, errors.New("not implemented")
}

func testListenerConfig(queue string) sqs.ListenerConfig {
	return sqs.ListenerConfig{
		Queue:        queue,
		MinPollDelay: time.Millisecond,
		MaxPollDelay: 20 * time.Millisecond,
		Ack: sqs.AckConfig{
			Interval:  10 * time.Millisecond,
			Threshold: 1,
		},
	}
}

func seedMessages(client *fakeClient, queue, group string, count int) {
	for i := 0; i < count; i++ {
		client.seed(queue, sqs.Message{
			ID:            fmt.Sprintf("%s-msg-%02d", queue, i),
			Body:          []byte(`{}`),
			ReceiptHandle: fmt.Sprintf("%s-rh-%02d", queue, i),
			GroupID:       group,
		})
	}
}

func TestContainer_Lifecycle(t *testing.T) {
	t.Run("will fail to start with no listeners", func(t *testing.T) {
		c, err := New(newFakeClient("orders"), sqs.ContainerConfig{}, zap.NewNop())
		require.NoError(t, err)
		assert.Equal(t, sqs.ContainerCreated, c.State())

		assert.Error(t, c.Start())
	})

	t.Run("will walk created running stopped", func(t *testing.T) {
		client := newFakeClient("orders")
		c, err := New(client, sqs.ContainerConfig{}, zap.NewNop())
		require.NoError(t, err)

		require.NoError(t, c.Register(sqs.ListenerDefinition{
			Config:  testListenerConfig("orders"),
			Handler: sqs.HandlerFunc(func(context.Context, sqs.Message) error { return nil }),
		}))

		require.NoError(t, c.Start())
		assert.Equal(t, sqs.ContainerRunning, c.State())

		assert.ErrorIs(t, c.Start(), sqs.ErrAlreadyRunning)

		require.NoError(t, c.Stop(time.Second))
		assert.Equal(t, sqs.ContainerStopped, c.State())

		// second stop is a no-op
		require.NoError(t, c.Stop(time.Second))
	})

	t.Run("will reject registration after start", func(t *testing.T) {
		client := newFakeClient("orders")
		c, err := New(client, sqs.ContainerConfig{}, zap.NewNop())
		require.NoError(t, err)

		require.NoError(t, c.Register(sqs.ListenerDefinition{
			Config:  testListenerConfig("orders"),
			Handler: sqs.HandlerFunc(func(context.Context, sqs.Message) error { return nil }),
		}))
		require.NoError(t, c.Start())
		defer c.Stop(time.Second)

		err = c.Register(sqs.ListenerDefinition{
			Name:    "late",
			Config:  testListenerConfig("orders"),
			Handler: sqs.HandlerFunc(func(context.Context, sqs.Message) error { return nil }),
		})
		assert.ErrorIs(t, err, sqs.ErrContainerStarted)
	})

	t.Run("will reject a duplicate listener name", func(t *testing.T) {
		c, err := New(newFakeClient("orders"), sqs.ContainerConfig{}, zap.NewNop())
		require.NoError(t, err)

		def := sqs.ListenerDefinition{
			Name:    "orders",
			Config:  testListenerConfig("orders"),
			Handler: sqs.HandlerFunc(func(context.Context, sqs.Message) error { return nil }),
		}
		require.NoError(t, c.Register(def))
		assert.Error(t, c.Register(def))
	})

	t.Run("will reject a definition without a handler", func(t *testing.T) {
		c, err := New(newFakeClient("orders"), sqs.ContainerConfig{}, zap.NewNop())
		require.NoError(t, err)

		assert.Error(t, c.Register(sqs.ListenerDefinition{
			Config: testListenerConfig("orders"),
		}))
	})
}

func TestContainer_Processing(t *testing.T) {
	t.Run("will process and delete messages", func(t *testing.T) {
		client := newFakeClient("orders")
		seedMessages(client, "orders", "", 15)

		var processed sync.WaitGroup
		processed.Add(15)

		c, err := New(client, sqs.ContainerConfig{}, zap.NewNop())
		require.NoError(t, err)
		require.NoError(t, c.Register(sqs.ListenerDefinition{
			Config: testListenerConfig("orders"),
			Handler: sqs.HandlerFunc(func(context.Context, sqs.Message) error {
				processed.Done()
				return nil
			}),
		}))

		require.NoError(t, c.Start())
		processed.Wait()
		require.NoError(t, c.Stop(time.Second))

		assert.Equal(t, 15, client.deletedCount("orders"))
	})

	t.Run("will not delete failed messages in on-success mode", func(t *testing.T) {
		client := newFakeClient("orders")
		seedMessages(client, "orders", "", 4)

		var processed sync.WaitGroup
		processed.Add(4)

		var failures sync.Map
		c, err := New(client, sqs.ContainerConfig{}, zap.NewNop())
		require.NoError(t, err)
		require.NoError(t, c.Register(sqs.ListenerDefinition{
			Config: testListenerConfig("orders"),
			Handler: sqs.HandlerFunc(func(_ context.Context, msg sqs.Message) error {
				defer processed.Done()
				if msg.ID == "orders-msg-01" || msg.ID == "orders-msg-03" {
					return errors.New("processing failed")
				}
				return nil
			}),
			ErrorHandler: sqs.ErrorHandlerFunc(func(_ context.Context, msg sqs.Message, err error) {
				failures.Store(msg.ID, err)
			}),
		}))

		require.NoError(t, c.Start())
		processed.Wait()
		require.NoError(t, c.Stop(time.Second))

		assert.Equal(t, 2, client.deletedCount("orders"))

		failed := 0
		failures.Range(func(any, any) bool {
			failed++
			return true
		})
		assert.Equal(t, 2, failed)
	})

	t.Run("will recover a panicking handler as a failure", func(t *testing.T) {
		client := newFakeClient("orders")
		seedMessages(client, "orders", "", 1)

		handled := make(chan error, 1)
		c, err := New(client, sqs.ContainerConfig{}, zap.NewNop())
		require.NoError(t, err)
		require.NoError(t, c.Register(sqs.ListenerDefinition{
			Config: testListenerConfig("orders"),
			Handler: sqs.HandlerFunc(func(context.Context, sqs.Message) error {
				panic("handler exploded")
			}),
			ErrorHandler: sqs.ErrorHandlerFunc(func(_ context.Context, _ sqs.Message, err error) {
				handled <- err
			}),
		}))

		require.NoError(t, c.Start())
		select {
		case err := <-handled:
			assert.ErrorContains(t, err, "handler panicked")
		case <-time.After(time.Second):
			t.Fatal("error handler never invoked")
		}
		require.NoError(t, c.Stop(time.Second))

		assert.Equal(t, 0, client.deletedCount("orders"))
	})

	t.Run("will deliver whole batches to a batch handler", func(t *testing.T) {
		client := newFakeClient("orders")
		seedMessages(client, "orders", "", 10)

		batches := make(chan int, 10)
		c, err := New(client, sqs.ContainerConfig{}, zap.NewNop())
		require.NoError(t, err)
		require.NoError(t, c.Register(sqs.ListenerDefinition{
			Config: testListenerConfig("orders"),
			BatchHandler: sqs.BatchHandlerFunc(func(_ context.Context, msgs []sqs.Message) error {
				batches <- len(msgs)
				return nil
			}),
		}))

		require.NoError(t, c.Start())

		got := 0
		deadline := time.After(time.Second)
		for got < 10 {
			select {
			case n := <-batches:
				assert.Greater(t, n, 1)
				got += n
			case <-deadline:
				t.Fatal("timed out waiting for batches")
			}
		}
		require.NoError(t, c.Stop(time.Second))

		assert.Equal(t, 10, client.deletedCount("orders"))
	})
}

func TestContainer_Stop(t *testing.T) {
	t.Run("will wait for in-flight work and flush before stopping", func(t *testing.T) {
		client := newFakeClient("orders")
		seedMessages(client, "orders", "", 3)

		cfg := testListenerConfig("orders")
		// keep outcomes buffered until the final flush
		cfg.Ack.Threshold = 10
		cfg.Ack.Interval = time.Hour

		started := make(chan struct{}, 3)
		c, err := New(client, sqs.ContainerConfig{}, zap.NewNop())
		require.NoError(t, err)
		require.NoError(t, c.Register(sqs.ListenerDefinition{
			Config: cfg,
			Handler: sqs.HandlerFunc(func(context.Context, sqs.Message) error {
				started <- struct{}{}
				time.Sleep(50 * time.Millisecond)
				return nil
			}),
		}))

		require.NoError(t, c.Start())
		for i := 0; i < 3; i++ {
			select {
			case <-started:
			case <-time.After(time.Second):
				t.Fatal("handlers never started")
			}
		}

		require.NoError(t, c.Stop(2*time.Second))
		assert.Equal(t, sqs.ContainerStopped, c.State())
		assert.Equal(t, 3, client.deletedCount("orders"))
	})

	t.Run("will stop at the deadline and leave slow work unacknowledged", func(t *testing.T) {
		client := newFakeClient("orders")
		seedMessages(client, "orders", "", 3)

		started := make(chan struct{}, 3)
		c, err := New(client, sqs.ContainerConfig{}, zap.NewNop())
		require.NoError(t, err)
		require.NoError(t, c.Register(sqs.ListenerDefinition{
			Config: testListenerConfig("orders"),
			Handler: sqs.HandlerFunc(func(ctx context.Context, _ sqs.Message) error {
				started <- struct{}{}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(10 * time.Second):
					return nil
				}
			}),
		}))

		require.NoError(t, c.Start())
		for i := 0; i < 3; i++ {
			select {
			case <-started:
			case <-time.After(time.Second):
				t.Fatal("handlers never started")
			}
		}

		begin := time.Now()
		require.NoError(t, c.Stop(100*time.Millisecond))

		assert.Less(t, time.Since(begin), 5*time.Second)
		assert.Equal(t, sqs.ContainerStopped, c.State())
		assert.Equal(t, 0, client.deletedCount("orders"))
	})
}

func TestContainer_ManualAck(t *testing.T) {
	t.Run("will only delete explicitly acknowledged messages", func(t *testing.T) {
		client := newFakeClient("orders")
		seedMessages(client, "orders", "", 4)

		cfg := testListenerConfig("orders")
		cfg.Ack.Mode = sqs.AckManual

		var processed sync.WaitGroup
		processed.Add(4)

		c, err := New(client, sqs.ContainerConfig{}, zap.NewNop())
		require.NoError(t, err)
		require.NoError(t, c.Register(sqs.ListenerDefinition{
			Config: cfg,
			Handler: sqs.HandlerFunc(func(_ context.Context, msg sqs.Message) error {
				defer processed.Done()
				if msg.ID == "orders-msg-00" || msg.ID == "orders-msg-02" {
					return msg.Acknowledge()
				}
				return nil
			}),
		}))

		require.NoError(t, c.Start())
		processed.Wait()
		require.NoError(t, c.Stop(time.Second))

		assert.Equal(t, 2, client.deletedCount("orders"))
	})
}

func TestContainer_QueueNotFound(t *testing.T) {
	t.Run("will create a missing queue when configured to", func(t *testing.T) {
		client := newFakeClient()

		cfg := testListenerConfig("orders")
		cfg.QueueNotFound = sqs.QueueNotFoundCreate

		c, err := New(client, sqs.ContainerConfig{}, zap.NewNop())
		require.NoError(t, err)
		require.NoError(t, c.Register(sqs.ListenerDefinition{
			Config:  cfg,
			Handler: sqs.HandlerFunc(func(context.Context, sqs.Message) error { return nil }),
		}))

		require.NoError(t, c.Start())
		assert.Eventually(t, func() bool {
			return len(client.createdQueues()) == 1
		}, time.Second, 5*time.Millisecond)
		require.NoError(t, c.Stop(time.Second))

		assert.Equal(t, []string{"orders"}, client.createdQueues())
	})

	t.Run("will fail the listener by default", func(t *testing.T) {
		client := newFakeClient("healthy")
		seedMessages(client, "healthy", "", 2)

		var processed sync.WaitGroup
		processed.Add(2)

		c, err := New(client, sqs.ContainerConfig{}, zap.NewNop())
		require.NoError(t, err)
		require.NoError(t, c.Register(sqs.ListenerDefinition{
			Name:    "missing",
			Config:  testListenerConfig("missing"),
			Handler: sqs.HandlerFunc(func(context.Context, sqs.Message) error { return nil }),
		}))
		require.NoError(t, c.Register(sqs.ListenerDefinition{
			Name:   "healthy",
			Config: testListenerConfig("healthy"),
			Handler: sqs.HandlerFunc(func(context.Context, sqs.Message) error {
				processed.Done()
				return nil
			}),
		}))

		require.NoError(t, c.Start())

		// the healthy listener is unaffected by its failed sibling
		processed.Wait()

		err = c.Stop(time.Second)
		assert.ErrorIs(t, err, sqs.ErrQueueNotFound)
		assert.Equal(t, sqs.ContainerStopped, c.State())
	})
}

func TestContainer_Fifo(t *testing.T) {
	t.Run("will process a group in order under the strict strategy", func(t *testing.T) {
		client := newFakeClient("orders.fifo")
		seedMessages(client, "orders.fifo", "group-a", 12)

		var (
			mu        sync.Mutex
			order     []string
			processed sync.WaitGroup
		)
		processed.Add(12)

		c, err := New(client, sqs.ContainerConfig{}, zap.NewNop())
		require.NoError(t, err)
		require.NoError(t, c.Register(sqs.ListenerDefinition{
			Config: testListenerConfig("orders.fifo"),
			Handler: sqs.HandlerFunc(func(_ context.Context, msg sqs.Message) error {
				defer processed.Done()
				mu.Lock()
				order = append(order, msg.ID)
				mu.Unlock()
				return nil
			}),
		}))

		require.NoError(t, c.Start())
		processed.Wait()
		require.NoError(t, c.Stop(time.Second))

		want := make([]string, 12)
		for i := range want {
			want[i] = fmt.Sprintf("orders.fifo-msg-%02d", i)
		}
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, want, order)
		assert.Equal(t, 12, client.deletedCount("orders.fifo"))
	})

	t.Run("will deliver group batches to a batch handler", func(t *testing.T) {
		client := newFakeClient("orders.fifo")
		seedMessages(client, "orders.fifo", "group-a", 4)

		cfg := testListenerConfig("orders.fifo")
		cfg.FifoStrategy = sqs.FifoParallelBatchesPerGroup

		var (
			processed sync.WaitGroup
			failures  sync.Map
			mu        sync.Mutex
			units     int
		)
		processed.Add(4)

		c, err := New(client, sqs.ContainerConfig{}, zap.NewNop())
		require.NoError(t, err)
		require.NoError(t, c.Register(sqs.ListenerDefinition{
			Config: cfg,
			BatchHandler: sqs.BatchHandlerFunc(func(_ context.Context, msgs []sqs.Message) error {
				mu.Lock()
				units++
				mu.Unlock()
				for range msgs {
					processed.Done()
				}
				return nil
			}),
			ErrorHandler: sqs.ErrorHandlerFunc(func(_ context.Context, msg sqs.Message, err error) {
				failures.Store(msg.ID, err)
			}),
		}))

		require.NoError(t, c.Start())
		processed.Wait()
		require.NoError(t, c.Stop(time.Second))

		failures.Range(func(id, err any) bool {
			t.Errorf("message %v failed: %v", id, err)
			return true
		})

		mu.Lock()
		defer mu.Unlock()
		assert.GreaterOrEqual(t, units, 1)
		assert.Equal(t, 4, client.deletedCount("orders.fifo"))
	})

	t.Run("will process single message units under a strict batch listener", func(t *testing.T) {
		client := newFakeClient("orders.fifo")
		seedMessages(client, "orders.fifo", "group-a", 3)

		cfg := testListenerConfig("orders.fifo")
		cfg.FifoStrategy = sqs.FifoStrict

		var processed sync.WaitGroup
		processed.Add(3)

		c, err := New(client, sqs.ContainerConfig{}, zap.NewNop())
		require.NoError(t, err)
		require.NoError(t, c.Register(sqs.ListenerDefinition{
			Config: cfg,
			BatchHandler: sqs.BatchHandlerFunc(func(_ context.Context, msgs []sqs.Message) error {
				assert.Len(t, msgs, 1)
				processed.Done()
				return nil
			}),
		}))

		require.NoError(t, c.Start())
		processed.Wait()
		require.NoError(t, c.Stop(time.Second))

		assert.Equal(t, 3, client.deletedCount("orders.fifo"))
	})
}
