package sqs

import "time"

// ProcessingState tracks a received message through its lifecycle inside the
// listener container. State transitions are owned by the worker processing
// the message until its outcome is recorded, after which the acknowledgement
// processor owns it.
type ProcessingState int

const (
	StateReceived ProcessingState = iota
	StateProcessing
	StateSucceeded
	StateFailed
	StateAcknowledged
)

func (s ProcessingState) String() string {
	switch s {
	case StateReceived:
		return "RECEIVED"
	case StateProcessing:
		return "PROCESSING"
	case StateSucceeded:
		return "SUCCEEDED"
	case StateFailed:
		return "FAILED"
	case StateAcknowledged:
		return "ACKNOWLEDGED"
	default:
		return "UNKNOWN"
	}
}

// Message is a single delivery received from a queue. The receipt handle
// identifies this delivery and is required to delete the message; GroupID and
// DedupID are only set for FIFO queues.
type Message struct {
	ID            string
	Body          []byte
	ReceiptHandle string
	GroupID       string
	DedupID       string
	ReceiveTime   time.Time
	Attributes    map[string]string

	ack func() error
}

// WithAck returns a copy of the message carrying an acknowledgement callback.
// The container sets this for listeners in manual acknowledgement mode before
// invoking the handler.
func (m Message) WithAck(ack func() error) Message {
	m.ack = ack
	return m
}

// Acknowledge signals that this message should be deleted from the queue.
// Only valid for listeners configured with AckManual; in every other mode the
// container acknowledges on the handler's behalf.
func (m Message) Acknowledge() error {
	if m.ack == nil {
		return ErrManualAckNotEnabled
	}
	return m.ack()
}
