package types

import (
	"errors"
	"time"
)

// Encoding is the payload family a message was written with.
type Encoding int

const (
	EncodingText Encoding = iota
	EncodingBinary
)

func (e Encoding) String() string {
	if e == EncodingBinary {
		return "binary"
	}
	return "text"
}

var (
	// ErrStaleReceipt is returned by drivers when a delete presents a receipt
	// whose lease has expired, was superseded, or whose message is gone.
	ErrStaleReceipt = errors.New("stale receipt")

	// ErrCountUnknown is returned by drivers that cannot estimate a queue's size.
	ErrCountUnknown = errors.New("queue count unknown")

	// ErrQueueNotFound is returned when a queue was never created.
	ErrQueueNotFound = errors.New("queue not found")

	// ErrUnsupported is returned for operations the backing service cannot perform.
	ErrUnsupported = errors.New("operation not supported by queue driver")
)

type EnqueueOptions struct {
	// TimeToLive of zero leaves the service default in place.
	TimeToLive time.Duration
	// InitialVisibilityDelay hides the message for this long after enqueue.
	InitialVisibilityDelay time.Duration
	Encoding               Encoding
}

// Envelope is one delivery of a message as seen on the wire.
type Envelope struct {
	ID string
	// Receipt proves the current lease. Empty for peeked messages.
	Receipt      string
	DequeueCount int
	Body         []byte
	Encoding     Encoding
	InsertedAt   time.Time
}

// Leased reports whether the envelope carries a lease receipt.
func (e Envelope) Leased() bool {
	return e.Receipt != ""
}

func GetEnqueueOptions(options []EnqueueOptions) EnqueueOptions {
	if len(options) == 0 {
		return EnqueueOptions{}
	}
	return options[0]
}
