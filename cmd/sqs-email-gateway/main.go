// Package main implements the queue-triggered inbound email gateway Lambda handler.
package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jarrod-lowe/jmap-service-libs/awsinit"
	"github.com/jarrod-lowe/jmap-service-libs/logging"

	"github.com/jarrod-lowe/odoo-mailgate/internal/charset"
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

// handler implements the per-message gateway logic.
type handler struct {
	store MessageStore
	odoo  MessageProcessor
}

// newHandler creates a new handler.
func newHandler(store MessageStore, processor MessageProcessor) *handler {
	return &handler{
		store: store,
		odoo:  processor,
	}
}

// processRecord delivers the message referenced by one SQS record.
func (h *handler) processRecord(ctx context.Context, record events.SQSMessage) error {
	notification, err := receipt.Parse(record.Body)
	if err != nil {
		return err
	}
	bucket := notification.Receipt.Action.BucketName
	key := notification.Receipt.Action.ObjectKey

	logger.InfoContext(ctx, "Processing email",
		slog.String("message_id", record.MessageId),
		slog.String("bucket", bucket),
		slog.String("key", key),
	)

	raw, err := h.store.Get(ctx, bucket, key)
	if err != nil {
		return err
	}

	content, err := charset.DecodeUTF8(raw)
	if err != nil {
		return fmt.Errorf("s3://%s/%s: %w", bucket, key, err)
	}

	if meta, err := mailmeta.Parse(raw); err == nil {
		logger.InfoContext(ctx, "Delivering email to Odoo", meta.LogAttrs()...)
	}

	if _, err := h.odoo.MessageProcess(ctx, content); err != nil {
		return err
	}

	logger.InfoContext(ctx, "Email delivered",
		slog.String("message_id", record.MessageId),
		slog.String("key", key),
	)
	return nil
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

	h := newHandler(store, odooClient)
	result.Start(middleware.SQS(logger, policy, h.processRecord))
}
