package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"pushengine/internal/types"
)

// sqsBatchLimit is the SQS SendMessageBatch entry limit.
const sqsBatchLimit = 10

// SQSSender abstracts the SQS send operations for testability.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	SendMessageBatch(ctx context.Context, params *sqs.SendMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error)
}

// SQSDispatchPublisher publishes DispatchMessages to the push dispatch queue.
type SQSDispatchPublisher struct {
	client   SQSSender
	queueURL string
	logger   types.Logger
}

// NewSQSDispatchPublisher creates a publisher targeting queueURL.
func NewSQSDispatchPublisher(client SQSSender, queueURL string, logger types.Logger) *SQSDispatchPublisher {
	return &SQSDispatchPublisher{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
	}
}

// Publish sends one message. The job ID is also set as a message attribute
// so queue tooling can filter without parsing bodies.
func (p *SQSDispatchPublisher) Publish(ctx context.Context, msg types.DispatchMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("dispatch publisher: failed to marshal message: %w", err)
	}

	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(p.queueURL),
		MessageBody:       aws.String(string(body)),
		MessageAttributes: jobAttributes(msg),
	})
	if err != nil {
		return fmt.Errorf("dispatch publisher: failed to send message to %s: %w", p.queueURL, err)
	}

	p.logger.Info("dispatch message published",
		"job_id", msg.JobID,
		"reason", msg.Reason,
		"trace_id", msg.TraceID,
	)
	return nil
}

// PublishBatch sends msgs in chunks of ten and returns the job IDs SQS
// rejected. A transport error aborts the remaining chunks.
func (p *SQSDispatchPublisher) PublishBatch(ctx context.Context, msgs []types.DispatchMessage) ([]string, error) {
	var failed []string
	for start := 0; start < len(msgs); start += sqsBatchLimit {
		end := start + sqsBatchLimit
		if end > len(msgs) {
			end = len(msgs)
		}
		chunk := msgs[start:end]

		entries := make([]sqstypes.SendMessageBatchRequestEntry, 0, len(chunk))
		for i, msg := range chunk {
			body, err := json.Marshal(msg)
			if err != nil {
				return failed, fmt.Errorf("dispatch publisher: failed to marshal message: %w", err)
			}
			entries = append(entries, sqstypes.SendMessageBatchRequestEntry{
				Id:                aws.String(strconv.Itoa(i)),
				MessageBody:       aws.String(string(body)),
				MessageAttributes: jobAttributes(msg),
			})
		}

		out, err := p.client.SendMessageBatch(ctx, &sqs.SendMessageBatchInput{
			QueueUrl: aws.String(p.queueURL),
			Entries:  entries,
		})
		if err != nil {
			return failed, fmt.Errorf("dispatch publisher: batch send to %s failed: %w", p.queueURL, err)
		}
		for _, f := range out.Failed {
			idx, convErr := strconv.Atoi(aws.ToString(f.Id))
			if convErr != nil || idx < 0 || idx >= len(chunk) {
				continue
			}
			failed = append(failed, chunk[idx].JobID)
			p.logger.Warn("dispatch message rejected",
				"job_id", chunk[idx].JobID,
				"code", aws.ToString(f.Code),
				"message", aws.ToString(f.Message),
			)
		}
	}
	return failed, nil
}

func jobAttributes(msg types.DispatchMessage) map[string]sqstypes.MessageAttributeValue {
	return map[string]sqstypes.MessageAttributeValue{
		"job_id": {DataType: aws.String("String"), StringValue: aws.String(msg.JobID)},
		"reason": {DataType: aws.String("String"), StringValue: aws.String(msg.Reason)},
	}
}

var _ DispatchPublisher = (*SQSDispatchPublisher)(nil)
