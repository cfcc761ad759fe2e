package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jarrod-lowe/odoo-mailgate/internal/middleware"
	"github.com/jarrod-lowe/odoo-mailgate/internal/odoo"
)

// mockMessageStore implements MessageStore for testing.
type mockMessageStore struct {
	getFunc func(ctx context.Context, bucket, key string) ([]byte, error)
}

func (m *mockMessageStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, bucket, key)
	}
	return []byte("Subject: hi\r\n\r\nbody"), nil
}

// mockMessageProcessor implements MessageProcessor for testing.
type mockMessageProcessor struct {
	processFunc func(ctx context.Context, content any) (any, error)
}

func (m *mockMessageProcessor) MessageProcess(ctx context.Context, content any) (any, error) {
	if m.processFunc != nil {
		return m.processFunc(ctx, content)
	}
	return int64(1), nil
}

// mockRequeuer implements Requeuer for testing.
type mockRequeuer struct {
	published   []string
	publishFunc func(ctx context.Context, bucket, key string) error
}

func (m *mockRequeuer) Publish(ctx context.Context, bucket, key string) error {
	m.published = append(m.published, bucket+"/"+key)
	if m.publishFunc != nil {
		return m.publishFunc(ctx, bucket, key)
	}
	return nil
}

func sesEvent(ids ...string) events.SimpleEmailEvent {
	records := make([]events.SimpleEmailRecord, 0, len(ids))
	for _, id := range ids {
		var record events.SimpleEmailRecord
		record.EventSource = "aws:ses"
		record.SES.Mail.MessageID = id
		records = append(records, record)
	}
	return events.SimpleEmailEvent{Records: records}
}

// failingStore fails every fetch whose key ends in one of the given ids.
func failingStore(failIDs ...string) *mockMessageStore {
	return &mockMessageStore{
		getFunc: func(ctx context.Context, bucket, key string) ([]byte, error) {
			for _, id := range failIDs {
				if strings.HasSuffix(key, id) {
					return nil, errors.New("s3 unavailable")
				}
			}
			return []byte("Subject: hi\r\n\r\nbody"), nil
		},
	}
}

func TestProcessRecord_BuildsKeyFromPrefixAndPassesBinary(t *testing.T) {
	raw := []byte{'S', 'u', 'b', 'j', 'e', 'c', 't', ':', ' ', 0xE9, '\r', '\n', '\r', '\n'}
	var gotBucket, gotKey string
	store := &mockMessageStore{
		getFunc: func(ctx context.Context, bucket, key string) ([]byte, error) {
			gotBucket, gotKey = bucket, key
			return raw, nil
		},
	}
	var gotContent any
	processor := &mockMessageProcessor{
		processFunc: func(ctx context.Context, content any) (any, error) {
			gotContent = content
			return int64(3), nil
		},
	}

	h := newHandler(store, processor, "inbound-mail", "inbox", middleware.PolicyApplicationErrors)
	if err := h.handle(context.Background(), sesEvent("abc123")); err != nil {
		t.Fatalf("handle error = %v", err)
	}

	if gotBucket != "inbound-mail" || gotKey != "inbox/abc123" {
		t.Errorf("fetched %s/%s, want inbound-mail/inbox/abc123", gotBucket, gotKey)
	}
	payload, ok := gotContent.(odoo.Binary)
	if !ok {
		t.Fatalf("content type = %T, want odoo.Binary", gotContent)
	}
	if !bytes.Equal(payload, raw) {
		t.Errorf("payload = %q, want %q", payload, raw)
	}
}

func TestProcessRecord_NoPrefixUsesMessageID(t *testing.T) {
	var gotKey string
	store := &mockMessageStore{
		getFunc: func(ctx context.Context, bucket, key string) ([]byte, error) {
			gotKey = key
			return []byte("Subject: x\r\n\r\n"), nil
		},
	}

	h := newHandler(store, &mockMessageProcessor{}, "b", "", middleware.PolicyApplicationErrors)
	if err := h.handle(context.Background(), sesEvent("abc123")); err != nil {
		t.Fatalf("handle error = %v", err)
	}
	if gotKey != "abc123" {
		t.Errorf("key = %q, want abc123", gotKey)
	}
}

func TestHandle_FailureWithoutRequeueReturnsError(t *testing.T) {
	var processed []string
	store := failingStore("m2")
	processor := &mockMessageProcessor{
		processFunc: func(ctx context.Context, content any) (any, error) {
			processed = append(processed, "ok")
			return int64(1), nil
		},
	}

	h := newHandler(store, processor, "b", "inbox", middleware.PolicyApplicationErrors)
	err := h.handle(context.Background(), sesEvent("m1", "m2", "m3"))
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "m2") || strings.Contains(err.Error(), "m1") {
		t.Errorf("error = %q, want only m2 named", err.Error())
	}
	if len(processed) != 2 {
		t.Errorf("delivered %d messages, want 2", len(processed))
	}
}

func TestHandle_FailuresAreRequeued(t *testing.T) {
	requeuer := &mockRequeuer{}
	h := newHandler(failingStore("m1", "m3"), &mockMessageProcessor{}, "b", "inbox", middleware.PolicyApplicationErrors)
	h.requeue = requeuer

	if err := h.handle(context.Background(), sesEvent("m1", "m2", "m3")); err != nil {
		t.Fatalf("handle error = %v", err)
	}

	want := []string{"b/inbox/m1", "b/inbox/m3"}
	if len(requeuer.published) != len(want) {
		t.Fatalf("published = %v, want %v", requeuer.published, want)
	}
	for i := range want {
		if requeuer.published[i] != want[i] {
			t.Errorf("published[%d] = %q, want %q", i, requeuer.published[i], want[i])
		}
	}
}

func TestHandle_RequeueFailureReturnsError(t *testing.T) {
	requeuer := &mockRequeuer{
		publishFunc: func(ctx context.Context, bucket, key string) error {
			return errors.New("queue unavailable")
		},
	}
	h := newHandler(failingStore("m1"), &mockMessageProcessor{}, "b", "", middleware.PolicyApplicationErrors)
	h.requeue = requeuer

	err := h.handle(context.Background(), sesEvent("m1"))
	if err == nil {
		t.Fatal("expected error when requeue fails")
	}
	if !strings.Contains(err.Error(), "m1") {
		t.Errorf("error = %q, want m1 named", err.Error())
	}
}

func TestHandle_WarningFaultPolicy(t *testing.T) {
	processor := &mockMessageProcessor{
		processFunc: func(ctx context.Context, content any) (any, error) {
			return nil, odoo.Warning("no route for recipient")
		},
	}

	tolerant := newHandler(&mockMessageStore{}, processor, "b", "", middleware.PolicyApplicationErrors)
	if err := tolerant.handle(context.Background(), sesEvent("m1")); err != nil {
		t.Errorf("application-errors handle error = %v, want nil", err)
	}

	strict := newHandler(&mockMessageStore{}, processor, "b", "", middleware.PolicyFailAll)
	if err := strict.handle(context.Background(), sesEvent("m1")); err == nil {
		t.Error("fail-all handle should return an error for a warning fault")
	}
}

func TestHandle_EmptyEvent(t *testing.T) {
	h := newHandler(&mockMessageStore{}, &mockMessageProcessor{}, "b", "", middleware.PolicyFailAll)
	if err := h.handle(context.Background(), events.SimpleEmailEvent{}); err != nil {
		t.Errorf("handle error = %v, want nil", err)
	}
}
