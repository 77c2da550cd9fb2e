package sqs

import (
	"context"
	"time"
)

// ReceiveRequest describes one receive call against a queue.
type ReceiveRequest struct {
	QueueURL    string
	MaxMessages int
	// WaitTime bounds the long poll; zero means a short poll.
	WaitTime time.Duration
}

// DeleteResult reports the outcome for a single receipt handle within a
// batched delete. Err is nil for handles that were deleted.
type DeleteResult struct {
	ReceiptHandle string
	Err           error
}

// OutboundMessage is a message to be sent through the template. GroupID is
// required for FIFO queues; DedupID is optional (FIFO queues with content
// based deduplication derive one).
type OutboundMessage struct {
	Body       []byte
	Delay      time.Duration
	Attributes map[string]string
	GroupID    string
	DedupID    string
}

// SendResult is the queue's confirmation for a single sent message.
// SequenceNumber is only populated for FIFO queues.
type SendResult struct {
	MessageID      string
	SequenceNumber string
}

// SendFailure reports one message of a batch send that the queue rejected.
type SendFailure struct {
	Index       int
	Code        string
	Reason      string
	SenderFault bool
}

// BatchSendResult is the per-entry outcome of a batch send.
type BatchSendResult struct {
	Successful []SendResult
	Failed     []SendFailure
}

// Client is the queueing-service client consumed by the container, the
// acknowledgement processor and the template. Implementations classify their
// failures: transient errors are returned as-is and retried by the caller,
// permanent ones are wrapped with Fatal.
type Client interface {
	// ResolveQueueURL maps a queue name to its URL. Returns an error wrapping
	// ErrQueueNotFound when the queue does not exist.
	ResolveQueueURL(ctx context.Context, queue string) (string, error)

	// CreateQueue creates the queue and returns its URL. FIFO queues are
	// created with the FIFO attribute set.
	CreateQueue(ctx context.Context, queue string) (string, error)

	// Receive fetches up to req.MaxMessages messages, blocking for at most
	// req.WaitTime. An empty slice and nil error is a normal empty poll.
	Receive(ctx context.Context, req ReceiveRequest) ([]Message, error)

	// DeleteBatch deletes up to the protocol batch limit of receipt handles
	// in one call and reports per-handle outcomes. The returned slice has one
	// entry per handle even when some deletions fail.
	DeleteBatch(ctx context.Context, queueURL string, handles []string) ([]DeleteResult, error)

	// Send sends a single message.
	Send(ctx context.Context, queueURL string, msg OutboundMessage) (SendResult, error)

	// SendBatch sends up to the protocol batch limit of messages in one call.
	SendBatch(ctx context.Context, queueURL string, msgs []OutboundMessage) (BatchSendResult, error)
}

// MaxBatchSize is the protocol limit on messages per receive, delete or send
// batch call.
const MaxBatchSize = 10
