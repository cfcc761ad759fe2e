// Package main implements the SES receipt-rule inbound email gateway Lambda handler.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jarrod-lowe/jmap-service-libs/awsinit"
	"github.com/jarrod-lowe/jmap-service-libs/logging"

	"github.com/jarrod-lowe/odoo-mailgate/internal/config"
	"github.com/jarrod-lowe/odoo-mailgate/internal/mailmeta"
	"github.com/jarrod-lowe/odoo-mailgate/internal/mailstore"
	"github.com/jarrod-lowe/odoo-mailgate/internal/middleware"
	"github.com/jarrod-lowe/odoo-mailgate/internal/odoo"
	"github.com/jarrod-lowe/odoo-mailgate/internal/receipt"
	"github.com/jarrod-lowe/odoo-mailgate/internal/secret"
)

var logger = logging.New()

// MessageStore reads stored messages.
type MessageStore interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
}

// MessageProcessor delivers a message to Odoo.
type MessageProcessor interface {
	MessageProcess(ctx context.Context, content any) (any, error)
}

// Requeuer hands a stored message to the queue-triggered gateway.
type Requeuer interface {
	Publish(ctx context.Context, bucket, key string) error
}

// handler implements the SES receipt gateway logic.
type handler struct {
	store     MessageStore
	odoo      MessageProcessor
	bucket    string
	keyPrefix string
	policy    middleware.Policy
	requeue   Requeuer
}

// newHandler creates a new handler.
func newHandler(store MessageStore, processor MessageProcessor, bucket, keyPrefix string, policy middleware.Policy) *handler {
	return &handler{
		store:     store,
		odoo:      processor,
		bucket:    bucket,
		keyPrefix: keyPrefix,
		policy:    policy,
	}
}

// handle processes an SES receipt event. Messages that fail are requeued when
// a queue is configured; anything left over fails the invocation so Lambda's
// async retry applies. That retry replays the whole event, so messages of the
// same event that were already delivered reach Odoo again. SES receipt rules
// deliver one message per event, which keeps this to the failed message.
func (h *handler) handle(ctx context.Context, event events.SimpleEmailEvent) error {
	failed := middleware.Batch(ctx, logger, h.policy, event.Records, sesMessageID, h.processRecord)
	if len(failed) == 0 {
		return nil
	}

	if h.requeue != nil {
		failed = h.requeueFailed(ctx, failed)
		if len(failed) == 0 {
			return nil
		}
	}

	return fmt.Errorf("%d of %d messages not delivered: %s", len(failed), len(event.Records), strings.Join(failed, ", "))
}

// processRecord delivers one received message.
func (h *handler) processRecord(ctx context.Context, record events.SimpleEmailRecord) error {
	key := h.objectKey(record.SES.Mail.MessageID)

	logger.InfoContext(ctx, "Processing email",
		slog.String("message_id", record.SES.Mail.MessageID),
		slog.String("bucket", h.bucket),
		slog.String("key", key),
	)

	raw, err := h.store.Get(ctx, h.bucket, key)
	if err != nil {
		return err
	}

	if meta, err := mailmeta.Parse(raw); err == nil {
		logger.InfoContext(ctx, "Delivering email to Odoo", meta.LogAttrs()...)
	}

	if _, err := h.odoo.MessageProcess(ctx, odoo.Binary(raw)); err != nil {
		return err
	}

	logger.InfoContext(ctx, "Email delivered",
		slog.String("message_id", record.SES.Mail.MessageID),
		slog.String("key", key),
	)
	return nil
}

// requeueFailed publishes each failed message and returns those that could not be queued.
func (h *handler) requeueFailed(ctx context.Context, messageIDs []string) []string {
	var remaining []string
	for _, id := range messageIDs {
		key := h.objectKey(id)
		if err := h.requeue.Publish(ctx, h.bucket, key); err != nil {
			logger.ErrorContext(ctx, "Failed to requeue email",
				slog.String("message_id", id),
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
			remaining = append(remaining, id)
			continue
		}
		logger.InfoContext(ctx, "Email requeued",
			slog.String("message_id", id),
			slog.String("key", key),
		)
	}
	return remaining
}

func (h *handler) objectKey(messageID string) string {
	return mailstore.Key(h.keyPrefix, messageID)
}

func sesMessageID(record events.SimpleEmailRecord) string {
	return record.SES.Mail.MessageID
}

func main() {
	ctx := context.Background()

	result, err := awsinit.Init(ctx)
	if err != nil {
		logger.Error("FATAL: Failed to initialize", slog.String("error", err.Error()))
		panic(err)
	}
	defer result.Cleanup()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("FATAL: Failed to load config", slog.String("error", err.Error()))
		panic(err)
	}
	if err := cfg.RequireBucket(); err != nil {
		logger.Error("FATAL: Invalid config", slog.String("error", err.Error()))
		panic(err)
	}

	policy, err := middleware.ParsePolicy(cfg.BatchFailurePolicy)
	if err != nil {
		logger.Error("FATAL: Invalid batch failure policy", slog.String("error", err.Error()))
		panic(err)
	}

	odooClient := odoo.NewClient(cfg.Odoo,
		odoo.NewHTTPClient(cfg.Odoo.InsecureSkipVerify),
		secret.NewAWSResolverFromConfig(result.Config),
	)
	store := mailstore.NewStore(s3.NewFromConfig(result.Config))

	h := newHandler(store, odooClient, cfg.Bucket, cfg.KeyPrefix, policy)
	if cfg.RequeueQueueURL != "" {
		h.requeue = receipt.NewSQSPublisher(sqs.NewFromConfig(result.Config), cfg.RequeueQueueURL)
	}

	result.Start(h.handle)
}
