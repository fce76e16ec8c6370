package recovery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/kursadbilgin/invoice-pipeline/internal/automation"
	"github.com/kursadbilgin/invoice-pipeline/internal/domain"
	"go.uber.org/zap"
)

type timeoutNetError struct{}

func (timeoutNetError) Error() string   { return "dial timeout" }
func (timeoutNetError) Timeout() bool   { return true }
func (timeoutNetError) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{name: "nil", err: nil, want: ClassUnknown},
		{name: "deadline", err: fmt.Errorf("call: %w", context.DeadlineExceeded), want: ClassTimeout},
		{name: "corruption", err: fmt.Errorf("artifact: %w", ErrCorruption), want: ClassCorruption},
		{name: "validation", err: fmt.Errorf("row: %w", domain.ErrValidation), want: ClassValidation},
		{name: "unauthorized", err: &automation.Error{StatusCode: http.StatusUnauthorized}, want: ClassAuthentication},
		{name: "forbidden", err: &automation.Error{StatusCode: http.StatusForbidden}, want: ClassAuthentication},
		{name: "rate limited", err: &automation.Error{StatusCode: http.StatusTooManyRequests}, want: ClassRateLimit},
		{name: "server error", err: &automation.Error{StatusCode: http.StatusBadGateway}, want: ClassServerError},
		{name: "client error", err: &automation.Error{StatusCode: http.StatusUnprocessableEntity}, want: ClassClientError},
		{name: "transport failure without status", err: &automation.Error{Transient: true}, want: ClassNetwork},
		{name: "wrapped automation error", err: fmt.Errorf("stage: %w", &automation.Error{StatusCode: 500}), want: ClassServerError},
		{name: "net timeout", err: timeoutNetError{}, want: ClassTimeout},
		{name: "plain error", err: errors.New("boom"), want: ClassUnknown},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := Classify(StageGenerate, tt.err); got != tt.want {
				t.Fatalf("Classify() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestPolicyDirectiveLookup(t *testing.T) {
	t.Parallel()

	policy := DefaultPolicy()

	tests := []struct {
		name  string
		stage Stage
		class ErrorClass
		want  Directive
	}{
		{name: "authentication refreshes", stage: StageGenerate, class: ClassAuthentication, want: DirectiveRefreshAndRetry},
		{name: "network backs off", stage: StageMonitor, class: ClassNetwork, want: DirectiveBackoffRetry},
		{name: "rate limit waits", stage: StageGenerate, class: ClassRateLimit, want: DirectiveWaitAndRetry},
		{name: "corruption quarantines", stage: StageDownload, class: ClassCorruption, want: DirectiveQuarantine},
		{name: "unknown defaults to manual review", stage: StageUpload, class: ClassUnknown, want: DirectiveManualReview},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := policy.Directive(tt.stage, tt.class); got != tt.want {
				t.Fatalf("Directive(%s, %s) = %s, want %s", tt.stage, tt.class, got, tt.want)
			}
		})
	}
}

func TestPolicyStageRowOverridesClassRow(t *testing.T) {
	t.Parallel()

	policy := NewPolicy(
		map[PolicyKey]Directive{
			{Stage: StageUpload, Class: ClassServerError}: DirectiveManualReview,
		},
		map[ErrorClass]Directive{
			ClassServerError: DirectiveBackoffRetry,
		},
	)

	if got := policy.Directive(StageUpload, ClassServerError); got != DirectiveManualReview {
		t.Fatalf("stage row lookup = %s, want MANUAL_REVIEW", got)
	}
	if got := policy.Directive(StageDownload, ClassServerError); got != DirectiveBackoffRetry {
		t.Fatalf("class fallback = %s, want BACKOFF_RETRY", got)
	}
}

type fakeStateUpdater struct {
	updateStatusFn func(ctx context.Context, stateID string, status domain.StateStatus, errorMessage *string) error
	retries        int
}

func (f *fakeStateUpdater) UpdateStatus(ctx context.Context, stateID string, status domain.StateStatus, errorMessage *string) error {
	return f.updateStatusFn(ctx, stateID, status, errorMessage)
}

func (f *fakeStateUpdater) IncrementRetry(ctx context.Context, stateID string) (int, error) {
	f.retries++
	return f.retries, nil
}

func TestRecoverWritesStageFailureStatus(t *testing.T) {
	t.Parallel()

	var gotStatus domain.StateStatus
	var gotMessage string

	states := &fakeStateUpdater{
		updateStatusFn: func(ctx context.Context, stateID string, status domain.StateStatus, errorMessage *string) error {
			if stateID != "ps-1" {
				t.Fatalf("state id = %q, want ps-1", stateID)
			}
			gotStatus = status
			if errorMessage != nil {
				gotMessage = *errorMessage
			}
			return nil
		},
	}

	svc, err := NewService(states, DefaultPolicy(), zap.NewNop())
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	svc.now = func() time.Time { return time.Unix(1_800_000_000, 0) }

	failure := &automation.Error{StatusCode: http.StatusServiceUnavailable, Message: "backend down"}
	directive, record, err := svc.Recover(context.Background(), StageMonitor, failure, "ps-1")
	if err != nil {
		t.Fatalf("Recover() error = %v", err)
	}

	if directive != DirectiveBackoffRetry {
		t.Fatalf("directive = %s, want BACKOFF_RETRY", directive)
	}
	if gotStatus != domain.StateFailedMonitoring {
		t.Fatalf("status = %s, want FAILED_MONITORING", gotStatus)
	}
	if gotMessage == "" || gotMessage[:len("SERVER_ERROR: ")] != "SERVER_ERROR: " {
		t.Fatalf("error message = %q, want SERVER_ERROR prefix", gotMessage)
	}
	if record.Class != ClassServerError || record.Stage != StageMonitor || record.Directive != DirectiveBackoffRetry {
		t.Fatalf("audit record = %+v", record)
	}
	if !record.Timestamp.Equal(time.Unix(1_800_000_000, 0).UTC()) {
		t.Fatalf("audit timestamp = %v", record.Timestamp)
	}
	if states.retries != 1 {
		t.Fatalf("retry count = %d, want 1 for a retry directive", states.retries)
	}
}

func TestRecoverSurfacesStoreFailure(t *testing.T) {
	t.Parallel()

	states := &fakeStateUpdater{
		updateStatusFn: func(ctx context.Context, stateID string, status domain.StateStatus, errorMessage *string) error {
			return domain.ErrNotFound
		},
	}

	svc, err := NewService(states, DefaultPolicy(), zap.NewNop())
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	_, _, err = svc.Recover(context.Background(), StageIngest, errors.New("boom"), "ps-missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Recover() error = %v, want ErrNotFound", err)
	}
}
