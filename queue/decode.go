package queue

import (
	"context"

	"github.com/finch-technologies/qluent/metrics"
	"github.com/finch-technologies/qluent/queue/poison"
	"github.com/finch-technologies/qluent/queue/serializer"
	"github.com/finch-technologies/qluent/queue/types"
)

// codec is the serializer family chosen at construction time.
type codec[T any] struct {
	binary serializer.BinarySerializer[T]
	text   serializer.StringSerializer[T]
}

func (c codec[T]) encoding() types.Encoding {
	if c.binary != nil {
		return types.EncodingBinary
	}
	return types.EncodingText
}

func (c codec[T]) encode(message T) ([]byte, error) {
	if c.binary != nil {
		return c.binary.Serialize(message)
	}
	s, err := c.text.Serialize(message)
	if err != nil {
		return nil, err
	}
	return []byte(s), nil
}

func (c codec[T]) decode(body []byte) (T, error) {
	if c.binary != nil {
		return c.binary.Deserialize(body)
	}
	return c.text.Deserialize(string(body))
}

// decode converts an envelope to T. On failure it classifies the delivery
// against the poison policy, quarantines and removes it when it is poison
// and leased, and then applies the policy's disposition: ok is false with a
// nil error when the failure is swallowed.
func (c *Client[T]) decode(ctx context.Context, envelope types.Envelope) (value T, ok bool, err error) {
	value, decodeErr := c.codec.decode(envelope.Body)
	if decodeErr == nil {
		return value, true, nil
	}

	c.increment(ctx, metrics.DecodeFailures, 1)

	failure := &DecodeError{
		Queue:        c.config.QueueName,
		MessageID:    envelope.ID,
		DequeueCount: envelope.DequeueCount,
		Err:          decodeErr,
	}

	// quarantine and removal both need a live receipt, which peeks never have
	if envelope.Leased() && c.policy.Classify(envelope.DequeueCount) == poison.AtOrAboveThreshold {
		c.quarantineAndRemove(ctx, envelope)
	} else {
		c.logger.DebugFields("message failed to decode", map[string]any{
			"queue":        c.config.QueueName,
			"messageId":    envelope.ID,
			"dequeueCount": envelope.DequeueCount,
			"error":        decodeErr.Error(),
		})
	}

	var zero T
	if err := c.policy.Disposition(failure); err != nil {
		return zero, false, err
	}
	return zero, false, nil
}

// quarantineAndRemove copies the raw payload to the quarantine queue (when
// one is configured) and deletes the source message. Both steps are best
// effort and their failures never reach the caller.
func (c *Client[T]) quarantineAndRemove(ctx context.Context, envelope types.Envelope) {
	var steps []poison.Step

	if c.policy.Quarantines() {
		steps = append(steps, poison.Step{Name: "quarantine", Run: func() error {
			_, err := c.mq.Enqueue(ctx, c.policy.QuarantineQueue, envelope.Body, types.EnqueueOptions{
				Encoding: c.codec.encoding(),
			})
			if err == nil {
				c.increment(ctx, metrics.PoisonQuarantined, 1)
			}
			return err
		}})
	}

	steps = append(steps, poison.Step{Name: "remove", Run: func() error {
		err := c.mq.Delete(ctx, c.config.QueueName, envelope.ID, envelope.Receipt)
		if err == nil {
			c.increment(ctx, metrics.PoisonRemoved, 1)
		}
		return err
	}})

	poison.BestEffort(func(step string, err error) {
		c.increment(ctx, metrics.PoisonSideEffectFailure, 1, "step", step)
		c.logger.WarningFields("poison message handling failed", map[string]any{
			"queue":     c.config.QueueName,
			"messageId": envelope.ID,
			"step":      step,
			"error":     err.Error(),
		})
	}, steps...)

	c.logger.WarningFields("poison message handled", map[string]any{
		"queue":           c.config.QueueName,
		"messageId":       envelope.ID,
		"dequeueCount":    envelope.DequeueCount,
		"quarantineQueue": c.policy.QuarantineQueue,
	})
}
