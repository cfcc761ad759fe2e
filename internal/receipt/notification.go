// Package receipt handles SES receipt notifications that point at stored messages.
package receipt

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
)

// ErrIncomplete is returned when a notification does not name both a bucket and a key.
var ErrIncomplete = errors.New("notification has no bucket or object key")

// ActionS3 is the receipt action type for messages SES stored in S3.
const ActionS3 = "S3"

// Notification is the part of an SES receipt notification the gateway reads.
type Notification struct {
	NotificationType string  `json:"notificationType,omitempty"`
	Receipt          Receipt `json:"receipt"`
}

// Receipt carries the action SES took for the message.
type Receipt struct {
	Action Action `json:"action"`
}

// Action locates the stored message.
type Action struct {
	Type       string `json:"type,omitempty"`
	BucketName string `json:"bucketName"`
	ObjectKey  string `json:"objectKey"`
}

// NewNotification builds a notification for a message stored at bucket/key.
func NewNotification(bucket, key string) Notification {
	return Notification{
		NotificationType: "Received",
		Receipt: Receipt{
			Action: Action{
				Type:       ActionS3,
				BucketName: bucket,
				ObjectKey:  key,
			},
		},
	}
}

// Parse decodes a queue message body. Bodies delivered through SNS without
// raw message delivery are unwrapped first.
func Parse(body string) (Notification, error) {
	payload := body

	var envelope events.SNSEntity
	if err := json.Unmarshal([]byte(body), &envelope); err == nil && envelope.Type == "Notification" && envelope.Message != "" {
		payload = envelope.Message
	}

	var n Notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return Notification{}, fmt.Errorf("parse receipt notification: %w", err)
	}
	if n.Receipt.Action.BucketName == "" || n.Receipt.Action.ObjectKey == "" {
		return Notification{}, ErrIncomplete
	}
	return n, nil
}
