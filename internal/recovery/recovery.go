package recovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/kursadbilgin/invoice-pipeline/internal/automation"
	"github.com/kursadbilgin/invoice-pipeline/internal/domain"
	"go.uber.org/zap"
)

// ErrorClass is the fixed failure taxonomy. Classification is a pure
// function over error values; recovery policy is data keyed by it.
type ErrorClass string

const (
	ClassAuthentication ErrorClass = "AUTHENTICATION"
	ClassNetwork        ErrorClass = "NETWORK"
	ClassRateLimit      ErrorClass = "RATE_LIMIT"
	ClassCorruption     ErrorClass = "CORRUPTION"
	ClassValidation     ErrorClass = "VALIDATION"
	ClassTimeout        ErrorClass = "TIMEOUT"
	ClassServerError    ErrorClass = "SERVER_ERROR"
	ClassClientError    ErrorClass = "CLIENT_ERROR"
	ClassUnknown        ErrorClass = "UNKNOWN"
)

func (c ErrorClass) String() string { return string(c) }

// Directive is the recovery action chosen for a classified failure.
type Directive string

const (
	DirectiveRefreshAndRetry Directive = "REFRESH_AND_RETRY"
	DirectiveBackoffRetry    Directive = "BACKOFF_RETRY"
	DirectiveWaitAndRetry    Directive = "WAIT_AND_RETRY"
	DirectiveQuarantine      Directive = "QUARANTINE"
	DirectiveManualReview    Directive = "MANUAL_REVIEW"
)

func (d Directive) String() string { return string(d) }

// IsRetry reports whether the directive asks the operator or a later run
// to retry the unit.
func (d Directive) IsRetry() bool {
	switch d {
	case DirectiveRefreshAndRetry, DirectiveBackoffRetry, DirectiveWaitAndRetry:
		return true
	}
	return false
}

// Stage names the pipeline stage observing a failure.
type Stage string

const (
	StageIngest   Stage = "ingest"
	StageExtract  Stage = "extract"
	StageGenerate Stage = "generate"
	StageMonitor  Stage = "monitor"
	StageDownload Stage = "download"
	StageUpload   Stage = "upload"
)

// failureStatusFor maps each stage to the terminal status written when a
// unit fails there.
var failureStatusFor = map[Stage]domain.StateStatus{
	StageIngest:   domain.StateFailedExtraction,
	StageExtract:  domain.StateFailedExtraction,
	StageGenerate: domain.StateFailedGeneration,
	StageMonitor:  domain.StateFailedMonitoring,
	StageDownload: domain.StateFailedDownload,
	StageUpload:   domain.StateFailedUpload,
}

// ErrCorruption marks checksum mismatches and other integrity failures.
var ErrCorruption = errors.New("content corruption detected")

// PolicyKey addresses one row of the recovery table.
type PolicyKey struct {
	Stage Stage
	Class ErrorClass
}

// Policy is an immutable (stage, class) -> directive table. Unmapped
// combinations fall back to the class-wide default, then ManualReview.
// Adding a failure mode is a table edit, not a new branch in a stage.
type Policy struct {
	byStageAndClass map[PolicyKey]Directive
	byClass         map[ErrorClass]Directive
}

func NewPolicy(byStageAndClass map[PolicyKey]Directive, byClass map[ErrorClass]Directive) Policy {
	stageTable := make(map[PolicyKey]Directive, len(byStageAndClass))
	for k, v := range byStageAndClass {
		stageTable[k] = v
	}
	classTable := make(map[ErrorClass]Directive, len(byClass))
	for k, v := range byClass {
		classTable[k] = v
	}
	return Policy{byStageAndClass: stageTable, byClass: classTable}
}

// DefaultPolicy is the standard recovery table.
func DefaultPolicy() Policy {
	return NewPolicy(
		map[PolicyKey]Directive{
			// Downloads that fail integrity checks are quarantined rather
			// than retried: the artifact itself is suspect.
			{Stage: StageDownload, Class: ClassCorruption}: DirectiveQuarantine,
		},
		map[ErrorClass]Directive{
			ClassAuthentication: DirectiveRefreshAndRetry,
			ClassNetwork:        DirectiveBackoffRetry,
			ClassTimeout:        DirectiveBackoffRetry,
			ClassServerError:    DirectiveBackoffRetry,
			ClassRateLimit:      DirectiveWaitAndRetry,
			ClassCorruption:     DirectiveQuarantine,
			ClassValidation:     DirectiveManualReview,
			ClassClientError:    DirectiveManualReview,
		},
	)
}

// Directive resolves the recovery action for a classified failure.
func (p Policy) Directive(stage Stage, class ErrorClass) Directive {
	if d, ok := p.byStageAndClass[PolicyKey{Stage: stage, Class: class}]; ok {
		return d
	}
	if d, ok := p.byClass[class]; ok {
		return d
	}
	return DirectiveManualReview
}

// Classify maps an error to its class. It inspects typed errors only;
// the stage is carried through for audit, not used for classification.
func Classify(stage Stage, err error) ErrorClass {
	if err == nil {
		return ClassUnknown
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	if errors.Is(err, ErrCorruption) {
		return ClassCorruption
	}
	if errors.Is(err, domain.ErrValidation) {
		return ClassValidation
	}

	var automationErr *automation.Error
	if errors.As(err, &automationErr) {
		switch {
		case automationErr.StatusCode == http.StatusUnauthorized,
			automationErr.StatusCode == http.StatusForbidden:
			return ClassAuthentication
		case automationErr.StatusCode == http.StatusTooManyRequests:
			return ClassRateLimit
		case automationErr.StatusCode >= http.StatusInternalServerError:
			return ClassServerError
		case automationErr.StatusCode >= http.StatusBadRequest:
			return ClassClientError
		case automationErr.Transient:
			return ClassNetwork
		}
		return ClassUnknown
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ClassTimeout
		}
		return ClassNetwork
	}

	return ClassUnknown
}

// StateUpdater is the slice of the state store the recovery service needs.
type StateUpdater interface {
	UpdateStatus(ctx context.Context, stateID string, status domain.StateStatus, errorMessage *string) error
	IncrementRetry(ctx context.Context, stateID string) (int, error)
}

// AuditRecord captures one recovery decision for logging and audit.
type AuditRecord struct {
	Class     ErrorClass
	Stage     Stage
	Directive Directive
	Timestamp time.Time
}

// Service translates failures observed at a pipeline stage into a state
// update and a recovery directive consumed by the orchestrator.
type Service struct {
	states StateUpdater
	policy Policy
	logger *zap.Logger
	now    func() time.Time
}

func NewService(states StateUpdater, policy Policy, logger *zap.Logger) (*Service, error) {
	if states == nil {
		return nil, fmt.Errorf("state updater is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		states: states,
		policy: policy,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Recover classifies the failure, writes the stage-appropriate terminal
// status with a "<CLASS>: <message>" error message, and returns the
// directive plus an audit record. Retry-flavored directives also bump the
// state's retry counter.
func (s *Service) Recover(ctx context.Context, stage Stage, failure error, stateID string) (Directive, AuditRecord, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	class := Classify(stage, failure)
	directive := s.policy.Directive(stage, class)

	status, ok := failureStatusFor[stage]
	if !ok {
		return "", AuditRecord{}, fmt.Errorf("unknown pipeline stage %q", stage)
	}

	message := FormatErrorMessage(class, failure)
	if err := s.states.UpdateStatus(ctx, stateID, status, &message); err != nil {
		return "", AuditRecord{}, fmt.Errorf("failed to record %s failure for state %q: %w", stage, stateID, err)
	}

	retries := 0
	if directive.IsRetry() {
		count, err := s.states.IncrementRetry(ctx, stateID)
		if err != nil {
			return "", AuditRecord{}, fmt.Errorf("failed to bump retry count for state %q: %w", stateID, err)
		}
		retries = count
	}

	record := AuditRecord{
		Class:     class,
		Stage:     stage,
		Directive: directive,
		Timestamp: s.now().UTC(),
	}

	s.logger.Warn("stage failure recovered",
		zap.Int("retryCount", retries),
		zap.String("stage", string(stage)),
		zap.String("stateId", stateID),
		zap.String("errorClass", string(class)),
		zap.String("directive", string(directive)),
		zap.Error(failure),
	)

	return directive, record, nil
}

// FormatErrorMessage renders the persisted "<CLASS>: <message>" string.
func FormatErrorMessage(class ErrorClass, err error) string {
	msg := "unknown failure"
	if err != nil {
		msg = strings.TrimSpace(err.Error())
	}
	return fmt.Sprintf("%s: %s", class, msg)
}
