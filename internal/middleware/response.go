// Package middleware adapts plain handler functions to Lambda trigger shapes
// and maps Odoo errors onto what each trigger understands.
package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jarrod-lowe/odoo-mailgate/internal/odoo"
)

// Logger is the subset of *slog.Logger the wrappers write to.
type Logger interface {
	DebugContext(ctx context.Context, msg string, args ...any)
	InfoContext(ctx context.Context, msg string, args ...any)
	WarnContext(ctx context.Context, msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)
}

// RequestFunc handles one API Gateway request and returns a message for the caller.
type RequestFunc func(ctx context.Context, request events.APIGatewayProxyRequest) (string, error)

// ProxyHandler is an API Gateway proxy integration handler.
type ProxyHandler func(ctx context.Context, request events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error)

type responseBody struct {
	Message string `json:"message"`
}

// Response wraps fn so every invocation yields a proxy response with a
// {"message": ...} body. It never returns an error.
func Response(logger Logger, fn RequestFunc) ProxyHandler {
	return func(ctx context.Context, request events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		logger.DebugContext(ctx, "Request received",
			slog.String("request_id", request.RequestContext.RequestID),
			slog.String("method", request.HTTPMethod),
			slog.String("path", request.Path),
		)

		message, code := respond(ctx, logger, fn, request)

		body, _ := json.Marshal(responseBody{Message: message})
		response := events.APIGatewayProxyResponse{
			StatusCode: code,
			Body:       string(body),
		}

		logger.DebugContext(ctx, "Response",
			slog.String("request_id", request.RequestContext.RequestID),
			slog.Int("status_code", response.StatusCode),
			slog.String("body", response.Body),
		)
		return response, nil
	}
}

func respond(ctx context.Context, logger Logger, fn RequestFunc, request events.APIGatewayProxyRequest) (message string, code int) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "Unexpected failure",
				slog.String("error", fmt.Sprint(r)),
				slog.String("stack", string(debug.Stack())),
			)
			message, code = http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError
		}
	}()

	message, err := fn(ctx, request)
	if err == nil {
		if message == "" {
			message = http.StatusText(http.StatusOK)
		}
		return message, http.StatusOK
	}
	return errorResponse(ctx, logger, err)
}

// errorResponse maps err to the message and status returned to the caller.
// Only Odoo faults and protocol errors have their text surfaced.
func errorResponse(ctx context.Context, logger Logger, err error) (string, int) {
	if fault, ok := odoo.AsFault(err); ok {
		logger.ErrorContext(ctx, fault.Message,
			slog.String("fault_code", fault.Code.String()),
		)
		return fault.Message, StatusForFault(fault.Code)
	}

	if perr, ok := odoo.AsProtocolError(err); ok {
		logger.ErrorContext(ctx, perr.Message,
			slog.Int("status_code", perr.Code),
			slog.String("url", perr.URL),
		)
		return perr.Message, perr.Code
	}

	logger.ErrorContext(ctx, "Unexpected failure",
		slog.String("error", err.Error()),
		slog.String("error_type", fmt.Sprintf("%T", err)),
	)
	return http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError
}

// StatusForFault maps an Odoo fault code to an HTTP status.
func StatusForFault(code odoo.FaultCode) int {
	switch code {
	case odoo.FaultWarning:
		return http.StatusBadRequest
	case odoo.FaultAccessDenied:
		return http.StatusUnauthorized
	case odoo.FaultAccessError:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
