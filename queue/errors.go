package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/finch-technologies/qluent/queue/types"
)

// TransportError is a failed call to the remote queue. It is never retried
// by the client.
type TransportError struct {
	Op    string
	Queue string
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("queue %s: %s failed: %v", e.Queue, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StaleReceiptError is a delete whose receipt no longer holds the lease.
type StaleReceiptError struct {
	Queue     string
	MessageID string
	Err       error
}

func (e *StaleReceiptError) Error() string {
	return fmt.Sprintf("queue %s: receipt for message %s is no longer valid: %v", e.Queue, e.MessageID, e.Err)
}

func (e *StaleReceiptError) Unwrap() error { return e.Err }

// DecodeError is a payload that could not be converted to the message type.
type DecodeError struct {
	Queue        string
	MessageID    string
	DequeueCount int
	Err          error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("queue %s: failed to decode message %s (dequeue count %d): %v", e.Queue, e.MessageID, e.DequeueCount, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

type EncodeError struct {
	Queue string
	Err   error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("queue %s: failed to encode message: %v", e.Queue, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// CancelledError is an operation abandoned because its context ended. A
// cancelled delete may or may not have taken effect remotely.
type CancelledError struct {
	Op    string
	Queue string
	Err   error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("queue %s: %s cancelled: %v", e.Queue, e.Op, e.Err)
}

func (e *CancelledError) Unwrap() error { return e.Err }

func (c *Client[T]) remoteError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if ctxErr == nil {
			ctxErr = err
		}
		return &CancelledError{Op: op, Queue: c.config.QueueName, Err: ctxErr}
	}
	return &TransportError{Op: op, Queue: c.config.QueueName, Err: err}
}

func (c *Client[T]) deleteError(ctx context.Context, id string, err error) error {
	if errors.Is(err, types.ErrStaleReceipt) {
		return &StaleReceiptError{Queue: c.config.QueueName, MessageID: id, Err: err}
	}
	return c.remoteError(ctx, "delete", err)
}

func isCountUnknown(err error) bool {
	return errors.Is(err, types.ErrCountUnknown)
}
