package events

import (
	"context"
	"encoding/json"
	"fmt"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	awsplatform "github.com/fatflowers/cashier-receipts/internal/platform/aws"
)

// SQSPublisher sends each event as one JSON message. Routing attributes are
// duplicated into MessageAttributes so subscribers can filter without
// parsing the body.
type SQSPublisher struct {
	SQS      awsplatform.SQSAPI
	QueueURL string
}

func NewSQSPublisher(client awsplatform.SQSAPI, queueURL string) *SQSPublisher {
	return &SQSPublisher{SQS: client, QueueURL: queueURL}
}

func (p *SQSPublisher) Publish(ctx context.Context, ev *EntitlementChanged) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	attributes := map[string]string{
		"event_type": ev.Type,
		"user_id":    ev.UserID,
		"product_id": ev.ProductID,
		"status":     string(ev.Status),
	}
	input := &sqs.SendMessageInput{
		QueueUrl:          &p.QueueURL,
		MessageBody:       sdkaws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{},
	}
	for k, v := range attributes {
		if v == "" {
			continue
		}
		input.MessageAttributes[k] = sqstypes.MessageAttributeValue{
			DataType:    sdkaws.String("String"),
			StringValue: sdkaws.String(v),
		}
	}

	if _, err := p.SQS.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}
