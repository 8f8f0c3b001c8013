package sqs

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/finch-technologies/qluent/queue/types"
)

const (
	// encodingAttribute marks bodies that were base64 encoded from binary payloads.
	encodingAttribute = "qluent-encoding"

	maxBatchSize = 10
	maxDelay     = 15 * time.Minute
)

type SQSConfig struct {
	Region string
	// SQSBaseUrl, when set, is joined with the queue name instead of looking
	// the url up with GetQueueUrl.
	SQSBaseUrl string
	// WaitTimeSeconds enables long polling on receive. Zero is a short poll.
	WaitTimeSeconds int32
}

// sqsAPI is the subset of the SQS client used by the driver.
type sqsAPI interface {
	CreateQueue(ctx context.Context, params *sqs.CreateQueueInput, optFns ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error)
	GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	PurgeQueue(ctx context.Context, params *sqs.PurgeQueueInput, optFns ...func(*sqs.Options)) (*sqs.PurgeQueueOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// SQSMessageQueue implements the queue driver on AWS SQS. SQS cannot look at
// messages without receiving them, so Peek is unsupported.
type SQSMessageQueue struct {
	client sqsAPI
	config SQSConfig
	urls   sync.Map
}

func New(ctx context.Context, cfg SQSConfig) (*SQSMessageQueue, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS SDK config: %w", err)
	}

	return NewWithClient(sqs.NewFromConfig(awsCfg), cfg), nil
}

func NewWithClient(client sqsAPI, cfg SQSConfig) *SQSMessageQueue {
	return &SQSMessageQueue{client: client, config: cfg}
}

func (q *SQSMessageQueue) getQueueURL(ctx context.Context, queueName string) (string, error) {
	if q.config.SQSBaseUrl != "" {
		return fmt.Sprintf("%s/%s", q.config.SQSBaseUrl, queueName), nil
	}

	if url, ok := q.urls.Load(queueName); ok {
		return url.(string), nil
	}

	resp, err := q.client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(queueName)})
	if err != nil {
		var notFound *sqstypes.QueueDoesNotExist
		if errors.As(err, &notFound) {
			return "", fmt.Errorf("%w: %s", types.ErrQueueNotFound, queueName)
		}
		return "", fmt.Errorf("failed to get queue url: %w", err)
	}

	url := aws.ToString(resp.QueueUrl)
	q.urls.Store(queueName, url)
	return url, nil
}

func (q *SQSMessageQueue) CreateIfNotExists(ctx context.Context, queueName string) error {
	resp, err := q.client.CreateQueue(ctx, &sqs.CreateQueueInput{QueueName: aws.String(queueName)})
	if err != nil {
		return fmt.Errorf("failed to create queue: %w", err)
	}

	if url := aws.ToString(resp.QueueUrl); url != "" {
		q.urls.Store(queueName, url)
	}
	return nil
}

// Enqueue sends a message to the specified queue. SQS sets retention per
// queue, so the per-message time to live is not applied.
func (q *SQSMessageQueue) Enqueue(ctx context.Context, queueName string, payload []byte, options ...types.EnqueueOptions) (string, error) {
	url, err := q.getQueueURL(ctx, queueName)
	if err != nil {
		return "", err
	}

	opts := types.GetEnqueueOptions(options)

	input := &sqs.SendMessageInput{
		QueueUrl:     aws.String(url),
		MessageBody:  aws.String(encodeBody(payload, opts.Encoding)),
		DelaySeconds: delaySeconds(opts.InitialVisibilityDelay),
	}

	if opts.Encoding == types.EncodingBinary {
		input.MessageAttributes = map[string]sqstypes.MessageAttributeValue{
			encodingAttribute: {
				DataType:    aws.String("String"),
				StringValue: aws.String(types.EncodingBinary.String()),
			},
		}
	}

	resp, err := q.client.SendMessage(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue message: %w", err)
	}
	return aws.ToString(resp.MessageId), nil
}

func (q *SQSMessageQueue) Peek(ctx context.Context, queueName string, count int) ([]types.Envelope, error) {
	return nil, fmt.Errorf("sqs peek: %w", types.ErrUnsupported)
}

// Lease receives up to count messages. SQS returns at most ten per call, so
// larger batches take several receives and stop early on an empty one.
func (q *SQSMessageQueue) Lease(ctx context.Context, queueName string, count int, visibility time.Duration) ([]types.Envelope, error) {
	url, err := q.getQueueURL(ctx, queueName)
	if err != nil {
		return nil, err
	}

	var envelopes []types.Envelope

	for len(envelopes) < count {
		batch := min(count-len(envelopes), maxBatchSize)

		resp, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(url),
			MaxNumberOfMessages: int32(batch),
			VisibilityTimeout:   seconds(visibility),
			WaitTimeSeconds:     q.config.WaitTimeSeconds,
			MessageAttributeNames: []string{
				encodingAttribute,
			},
			MessageSystemAttributeNames: []sqstypes.MessageSystemAttributeName{
				sqstypes.MessageSystemAttributeNameApproximateReceiveCount,
				sqstypes.MessageSystemAttributeNameSentTimestamp,
			},
		})
		if err != nil {
			return envelopes, fmt.Errorf("failed to receive message: %w", err)
		}

		for _, message := range resp.Messages {
			envelopes = append(envelopes, toEnvelope(message))
		}

		if len(resp.Messages) == 0 {
			break
		}
	}

	return envelopes, nil
}

// Delete removes a received message. SQS reports malformed or foreign
// receipts; a receipt whose visibility timeout has lapsed is usually
// accepted by the service.
func (q *SQSMessageQueue) Delete(ctx context.Context, queueName string, id string, receipt string) error {
	if receipt == "" {
		return fmt.Errorf("%w: message %s has no receipt", types.ErrStaleReceipt, id)
	}

	url, err := q.getQueueURL(ctx, queueName)
	if err != nil {
		return err
	}

	_, err = q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(url),
		ReceiptHandle: aws.String(receipt),
	})
	if err != nil {
		var invalid *sqstypes.ReceiptHandleIsInvalid
		if errors.As(err, &invalid) {
			return fmt.Errorf("%w: %v", types.ErrStaleReceipt, err)
		}
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

func (q *SQSMessageQueue) Clear(ctx context.Context, queueName string) error {
	url, err := q.getQueueURL(ctx, queueName)
	if err != nil {
		return err
	}

	if _, err := q.client.PurgeQueue(ctx, &sqs.PurgeQueueInput{QueueUrl: aws.String(url)}); err != nil {
		return fmt.Errorf("failed to purge queue: %w", err)
	}
	return nil
}

// Count returns the number of messages in the specified queue, including
// in-flight and delayed ones.
func (q *SQSMessageQueue) Count(ctx context.Context, queueName string) (int, error) {
	url, err := q.getQueueURL(ctx, queueName)
	if err != nil {
		return 0, err
	}

	names := []sqstypes.QueueAttributeName{
		sqstypes.QueueAttributeNameApproximateNumberOfMessages,
		sqstypes.QueueAttributeNameApproximateNumberOfMessagesNotVisible,
		sqstypes.QueueAttributeNameApproximateNumberOfMessagesDelayed,
	}

	resp, err := q.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(url),
		AttributeNames: names,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get queue attributes: %w", err)
	}

	total := 0
	for _, name := range names {
		countStr, ok := resp.Attributes[string(name)]
		if !ok {
			return 0, fmt.Errorf("%w: attribute %s missing", types.ErrCountUnknown, name)
		}
		count, err := strconv.Atoi(countStr)
		if err != nil {
			return 0, fmt.Errorf("%w: attribute %s = %q", types.ErrCountUnknown, name, countStr)
		}
		total += count
	}

	return total, nil
}

func toEnvelope(message sqstypes.Message) types.Envelope {
	envelope := types.Envelope{
		ID:       aws.ToString(message.MessageId),
		Receipt:  aws.ToString(message.ReceiptHandle),
		Body:     []byte(aws.ToString(message.Body)),
		Encoding: types.EncodingText,
	}

	if countStr, ok := message.Attributes[string(sqstypes.MessageSystemAttributeNameApproximateReceiveCount)]; ok {
		if count, err := strconv.Atoi(countStr); err == nil {
			envelope.DequeueCount = count
		}
	}

	if sentStr, ok := message.Attributes[string(sqstypes.MessageSystemAttributeNameSentTimestamp)]; ok {
		if millis, err := strconv.ParseInt(sentStr, 10, 64); err == nil {
			envelope.InsertedAt = time.UnixMilli(millis)
		}
	}

	if attr, ok := message.MessageAttributes[encodingAttribute]; ok && aws.ToString(attr.StringValue) == types.EncodingBinary.String() {
		envelope.Encoding = types.EncodingBinary
		// an undecodable body is passed through and fails in the serializer
		if decoded, err := base64.StdEncoding.DecodeString(aws.ToString(message.Body)); err == nil {
			envelope.Body = decoded
		}
	}

	return envelope
}

func encodeBody(payload []byte, encoding types.Encoding) string {
	if encoding == types.EncodingBinary {
		return base64.StdEncoding.EncodeToString(payload)
	}
	return string(payload)
}

// seconds rounds d up to whole seconds.
func seconds(d time.Duration) int32 {
	if d <= 0 {
		return 0
	}
	return int32(math.Ceil(d.Seconds()))
}

func delaySeconds(d time.Duration) int32 {
	return seconds(min(d, maxDelay))
}
