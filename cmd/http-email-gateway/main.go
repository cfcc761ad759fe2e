// Package main implements the API Gateway inbound email gateway Lambda handler.
package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"
	"github.com/jarrod-lowe/jmap-service-libs/awsinit"
	"github.com/jarrod-lowe/jmap-service-libs/logging"

	"github.com/jarrod-lowe/odoo-mailgate/internal/config"
	"github.com/jarrod-lowe/odoo-mailgate/internal/mailmeta"
	"github.com/jarrod-lowe/odoo-mailgate/internal/middleware"
	"github.com/jarrod-lowe/odoo-mailgate/internal/odoo"
	"github.com/jarrod-lowe/odoo-mailgate/internal/secret"
)

var logger = logging.New()

// MessageProcessor delivers a message to Odoo.
type MessageProcessor interface {
	MessageProcess(ctx context.Context, content any) (any, error)
}

// handler implements the HTTP gateway logic.
type handler struct {
	odoo MessageProcessor
}

// newHandler creates a new handler.
func newHandler(processor MessageProcessor) *handler {
	return &handler{odoo: processor}
}

// handle delivers the raw message carried in the request body.
func (h *handler) handle(ctx context.Context, request events.APIGatewayProxyRequest) (string, error) {
	raw, err := requestBody(request)
	if err != nil {
		return "", err
	}
	if len(raw) == 0 {
		return "", odoo.Warning("request body is empty")
	}

	if meta, err := mailmeta.Parse(raw); err == nil {
		logger.InfoContext(ctx, "Delivering email to Odoo", meta.LogAttrs()...)
	}

	result, err := h.odoo.MessageProcess(ctx, odoo.Binary(raw))
	if err != nil {
		return "", err
	}

	logger.InfoContext(ctx, "Email delivered",
		slog.String("request_id", request.RequestContext.RequestID),
		slog.Any("result", result),
	)
	return "", nil
}

func requestBody(request events.APIGatewayProxyRequest) ([]byte, error) {
	if !request.IsBase64Encoded {
		return []byte(request.Body), nil
	}
	raw, err := base64.StdEncoding.DecodeString(request.Body)
	if err != nil {
		return nil, odoo.Warning(fmt.Sprintf("request body is not valid base64: %v", err))
	}
	return raw, nil
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

	odooClient := odoo.NewClient(cfg.Odoo,
		odoo.NewHTTPClient(cfg.Odoo.InsecureSkipVerify),
		secret.NewAWSResolverFromConfig(result.Config),
	)

	h := newHandler(odooClient)
	result.Start(middleware.Response(logger, h.handle))
}
