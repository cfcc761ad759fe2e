package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/aws/aws-lambda-go/events"
	"github.com/jarrod-lowe/jmap-service-libs/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jarrod-lowe/odoo-mailgate/internal/odoo"
)

// Policy decides which per-record errors cause a record to be redelivered.
type Policy int

const (
	// PolicyApplicationErrors fails the record on Odoo application-error
	// faults. Any other fault is logged at warn and the record is consumed.
	// Protocol errors and unexpected errors fail the record.
	PolicyApplicationErrors Policy = iota
	// PolicyTolerateWarnings consumes only warning faults. Every other
	// error, including access faults, fails the record.
	PolicyTolerateWarnings
	// PolicyFailAll fails the record on any error.
	PolicyFailAll
)

// ParsePolicy parses a BATCH_FAILURE_POLICY value. Empty selects PolicyApplicationErrors.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "application-errors":
		return PolicyApplicationErrors, nil
	case "tolerate-warnings":
		return PolicyTolerateWarnings, nil
	case "fail-all":
		return PolicyFailAll, nil
	default:
		return 0, fmt.Errorf("unknown batch failure policy %q", s)
	}
}

func (p Policy) String() string {
	switch p {
	case PolicyApplicationErrors:
		return "application-errors"
	case PolicyTolerateWarnings:
		return "tolerate-warnings"
	case PolicyFailAll:
		return "fail-all"
	default:
		return fmt.Sprintf("policy-%d", int(p))
	}
}

// Fails reports whether err marks a record as failed under p.
func (p Policy) Fails(err error) bool {
	if err == nil {
		return false
	}
	fault, isFault := odoo.AsFault(err)
	switch p {
	case PolicyApplicationErrors:
		if isFault {
			return fault.Code == odoo.FaultApplicationError
		}
	case PolicyTolerateWarnings:
		if isFault {
			return fault.Code != odoo.FaultWarning
		}
	}
	return true
}

// RecordFunc processes a single record of a batch.
type RecordFunc[T any] func(ctx context.Context, record T) error

// Batch runs fn over records in order and returns the ids of the records that
// failed under policy. A failing or panicking record never stops the batch.
func Batch[T any](ctx context.Context, logger Logger, policy Policy, records []T, id func(T) string, fn RecordFunc[T]) []string {
	logger.InfoContext(ctx, "Processing batch",
		slog.Int("total", len(records)),
		slog.String("policy", policy.String()),
	)

	failed := make([]string, 0)
	for _, record := range records {
		recordID := id(record)
		if !processRecord(ctx, logger, policy, recordID, record, fn) {
			failed = append(failed, recordID)
		}
	}

	logger.InfoContext(ctx, "Batch completed",
		slog.Int("total", len(records)),
		slog.Int("failures", len(failed)),
	)
	return failed
}

// processRecord runs fn for one record and reports whether it was consumed.
func processRecord[T any](ctx context.Context, logger Logger, policy Policy, recordID string, record T, fn RecordFunc[T]) bool {
	tracer := tracing.Tracer("odoo-mailgate")
	ctx, span := tracer.Start(ctx, "ProcessRecord",
		trace.WithAttributes(attribute.String("message_id", recordID)))
	defer span.End()

	logger.InfoContext(ctx, "Processing message", slog.String("message_id", recordID))

	err := runRecord(ctx, record, fn)
	if err == nil {
		return true
	}

	fails := policy.Fails(err)
	logRecordError(ctx, logger, recordID, err, fails)
	if fails {
		tracing.RecordError(span, err)
	}
	return !fails
}

func runRecord[T any](ctx context.Context, record T, fn RecordFunc[T]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx, record)
}

func logRecordError(ctx context.Context, logger Logger, recordID string, err error, fails bool) {
	if fault, ok := odoo.AsFault(err); ok {
		logf := logger.ErrorContext
		if !fails {
			logf = logger.WarnContext
		}
		logf(ctx, fault.Message,
			slog.String("message_id", recordID),
			slog.String("fault_code", fault.Code.String()),
			slog.Bool("retry", fails),
		)
		return
	}

	if perr, ok := odoo.AsProtocolError(err); ok {
		logger.ErrorContext(ctx, perr.Message,
			slog.String("message_id", recordID),
			slog.Int("status_code", perr.Code),
			slog.String("url", perr.URL),
		)
		return
	}

	logger.ErrorContext(ctx, "Unexpected failure",
		slog.String("message_id", recordID),
		slog.String("error", err.Error()),
	)
}

// SQSHandler is an SQS batch handler reporting partial failures.
type SQSHandler func(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error)

// SQS wraps fn as an SQS handler that reports failed messages in
// batchItemFailures. It never returns an error.
func SQS(logger Logger, policy Policy, fn RecordFunc[events.SQSMessage]) SQSHandler {
	return func(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
		failed := Batch(ctx, logger, policy, event.Records, sqsMessageID, fn)

		failures := make([]events.SQSBatchItemFailure, 0, len(failed))
		for _, id := range failed {
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: id})
		}
		return events.SQSEventResponse{BatchItemFailures: failures}, nil
	}
}

func sqsMessageID(m events.SQSMessage) string {
	return m.MessageId
}
