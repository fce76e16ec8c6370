package automation

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeTransport struct {
	calls int
	doFn  func(call int) ([]byte, error)
}

func (t *fakeTransport) Do(ctx context.Context, endpoint string, payload Payload) ([]byte, error) {
	t.calls++
	return t.doFn(t.calls)
}

func newTestClient(t *testing.T, transport Transport, maxRetries int) *Client {
	t.Helper()

	client, err := NewClient(transport, maxRetries, zap.NewNop())
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	client.backoffUnit = time.Millisecond
	client.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return client
}

func TestExecuteExhaustsRetries(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{
		doFn: func(call int) ([]byte, error) {
			return nil, &Error{StatusCode: 503, Message: "unavailable", Transient: true}
		},
	}

	client := newTestClient(t, transport, 3)

	_, err := client.Execute(context.Background(), EndpointGenerate, Payload{Flow: EndpointGenerate})
	if err == nil {
		t.Fatal("expected error from always-failing transport")
	}

	var exhausted *ExhaustedRetriesError
	if !errors.As(err, &exhausted) {
		t.Fatalf("error = %T, want *ExhaustedRetriesError", err)
	}
	if exhausted.Endpoint != EndpointGenerate {
		t.Fatalf("endpoint = %q, want %q", exhausted.Endpoint, EndpointGenerate)
	}
	if exhausted.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", exhausted.Attempts)
	}
	if transport.calls != 3 {
		t.Fatalf("transport calls = %d, want exactly 3", transport.calls)
	}

	var automationErr *Error
	if !errors.As(err, &automationErr) {
		t.Fatal("exhausted error must wrap the last underlying failure")
	}
	if automationErr.StatusCode != 503 {
		t.Fatalf("wrapped status = %d, want 503", automationErr.StatusCode)
	}
}

func TestExecuteSucceedsOnAttemptK(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{
		doFn: func(call int) ([]byte, error) {
			if call < 2 {
				return nil, &Error{StatusCode: 500, Message: "flaky", Transient: true}
			}
			return []byte(`{"success":true,"message":"done","timestampOfCompletion":"2026-05-01T10:00:00Z"}`), nil
		},
	}

	client := newTestClient(t, transport, 3)

	result, err := client.Execute(context.Background(), EndpointMonitor, Payload{Flow: EndpointMonitor})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if transport.calls != 2 {
		t.Fatalf("transport calls = %d, want exactly 2", transport.calls)
	}
	if !result.Success {
		t.Fatal("result should be successful")
	}
	if result.AttemptNumber != 2 {
		t.Fatalf("attempt number = %d, want 2", result.AttemptNumber)
	}
	if result.CompletedAt != "2026-05-01T10:00:00Z" {
		t.Fatalf("completion timestamp = %q", result.CompletedAt)
	}
}

func TestExecuteStopsOnPermanentError(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{
		doFn: func(call int) ([]byte, error) {
			return nil, &Error{StatusCode: 400, Message: "bad payload", Transient: false}
		},
	}

	client := newTestClient(t, transport, 3)

	_, err := client.Execute(context.Background(), EndpointDownload, Payload{Flow: EndpointDownload})
	if err == nil {
		t.Fatal("expected error")
	}
	if transport.calls != 1 {
		t.Fatalf("transport calls = %d, want 1 (no retry on permanent error)", transport.calls)
	}

	var exhausted *ExhaustedRetriesError
	if errors.As(err, &exhausted) {
		t.Fatal("permanent error must not be wrapped as retry exhaustion")
	}
}

func TestExecuteMalformedResponseIsFailedResult(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{
		doFn: func(call int) ([]byte, error) {
			return []byte("definitely not json"), nil
		},
	}

	client := newTestClient(t, transport, 3)

	result, err := client.Execute(context.Background(), EndpointUpload, Payload{Flow: EndpointUpload})
	if err != nil {
		t.Fatalf("Execute() error = %v, want failed result instead", err)
	}
	if result.Success {
		t.Fatal("malformed response must yield a failed result")
	}
	if result.Error != "Invalid JSON response" {
		t.Fatalf("result error = %q", result.Error)
	}
	if transport.calls != 1 {
		t.Fatalf("transport calls = %d, want 1", transport.calls)
	}
}

func TestExecuteBackoffDoubles(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{
		doFn: func(call int) ([]byte, error) {
			return nil, &Error{StatusCode: 500, Transient: true}
		},
	}

	client := newTestClient(t, transport, 3)

	var delays []time.Duration
	client.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	_, _ = client.Execute(context.Background(), EndpointGenerate, Payload{Flow: EndpointGenerate})

	// Two waits for three attempts; none after the final attempt.
	if len(delays) != 2 {
		t.Fatalf("delays = %d, want 2", len(delays))
	}
	if delays[0] != 2*time.Millisecond || delays[1] != 4*time.Millisecond {
		t.Fatalf("delays = %v, want [2ms 4ms]", delays)
	}
}

func TestExecuteRecordsAttempts(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{
		doFn: func(call int) ([]byte, error) {
			if call == 1 {
				return nil, &Error{StatusCode: 500, Transient: true}
			}
			return []byte(`{"success":true}`), nil
		},
	}

	client := newTestClient(t, transport, 3)

	var recorded []bool
	client.SetAttemptRecorder(attemptRecorderFunc(func(endpoint string, success bool, elapsed time.Duration) {
		if endpoint != EndpointGenerate {
			t.Errorf("endpoint = %q, want %q", endpoint, EndpointGenerate)
		}
		recorded = append(recorded, success)
	}))

	var audited []CallAttempt
	client.SetAttemptSink(attemptSinkFunc(func(ctx context.Context, a CallAttempt) error {
		audited = append(audited, a)
		return nil
	}))

	if _, err := client.Execute(context.Background(), EndpointGenerate, Payload{Flow: EndpointGenerate}); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if len(recorded) != 2 || recorded[0] || !recorded[1] {
		t.Fatalf("recorded = %v, want [false true]", recorded)
	}
	if len(audited) != 2 {
		t.Fatalf("audited attempts = %d, want 2", len(audited))
	}
	if audited[0].AttemptNumber != 1 || audited[0].ErrorMessage == "" {
		t.Fatalf("first audit entry = %+v", audited[0])
	}
	if audited[1].AttemptNumber != 2 || !audited[1].Success {
		t.Fatalf("second audit entry = %+v", audited[1])
	}
}

type attemptRecorderFunc func(endpoint string, success bool, elapsed time.Duration)

func (f attemptRecorderFunc) RecordAttempt(endpoint string, success bool, elapsed time.Duration) {
	f(endpoint, success, elapsed)
}

type attemptSinkFunc func(ctx context.Context, a CallAttempt) error

func (f attemptSinkFunc) RecordCallAttempt(ctx context.Context, a CallAttempt) error {
	return f(ctx, a)
}
