package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kursadbilgin/invoice-pipeline/internal/automation"
	"github.com/kursadbilgin/invoice-pipeline/internal/domain"
	"github.com/kursadbilgin/invoice-pipeline/internal/integrity"
	"github.com/kursadbilgin/invoice-pipeline/internal/observability"
	"github.com/kursadbilgin/invoice-pipeline/internal/recovery"
	"github.com/kursadbilgin/invoice-pipeline/internal/repository"
)

const defaultGroupConcurrency = 4

// AutomationExecutor is the slice of the automation client the pipeline
// consumes.
type AutomationExecutor interface {
	Execute(ctx context.Context, endpoint string, payload automation.Payload) (*automation.Result, error)
}

// Config carries the per-run tunables of the orchestrator.
type Config struct {
	BillableTypes    []string
	ArtifactDir      string
	GroupConcurrency int
}

// Orchestrator drives one batch through ingestion, extraction,
// structuring, the automation stages and the completion report. A group
// or file failure never aborts the run; it is recorded and the remaining
// units keep moving.
type Orchestrator struct {
	states    repository.StateRepository
	groups    repository.GroupRepository
	recoverer *recovery.Service
	executor  AutomationExecutor
	integrity *integrity.Service
	parser    SheetParser
	metrics   *observability.Metrics
	logger    *zap.Logger
	config    Config
	now       func() time.Time
}

func NewOrchestrator(
	states repository.StateRepository,
	groups repository.GroupRepository,
	recoverer *recovery.Service,
	executor AutomationExecutor,
	checker *integrity.Service,
	parser SheetParser,
	config Config,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if states == nil {
		return nil, fmt.Errorf("state repository is required")
	}
	if groups == nil {
		return nil, fmt.Errorf("group repository is required")
	}
	if recoverer == nil {
		return nil, fmt.Errorf("recovery service is required")
	}
	if executor == nil {
		return nil, fmt.Errorf("automation executor is required")
	}
	if checker == nil {
		checker = integrity.NewService()
	}
	if parser == nil {
		return nil, fmt.Errorf("sheet parser is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(config.BillableTypes) == 0 {
		config.BillableTypes = defaultBillableTypes
	}
	if config.GroupConcurrency <= 0 {
		config.GroupConcurrency = defaultGroupConcurrency
	}

	return &Orchestrator{
		states:    states,
		groups:    groups,
		recoverer: recoverer,
		executor:  executor,
		integrity: checker,
		parser:    parser,
		logger:    logger,
		config:    config,
		now:       time.Now,
	}, nil
}

// SetMetrics attaches the metrics collector. Safe to skip; every metrics
// call tolerates a nil collector.
func (o *Orchestrator) SetMetrics(m *observability.Metrics) {
	o.metrics = m
}

// Run executes one batch end to end and returns its completion report.
// The returned error covers batch-level infrastructure failures only
// (the batch row or the group rows could not be persisted); per-file and
// per-group failures are folded into the summary.
func (o *Orchestrator) Run(ctx context.Context, intake Intake) (*RunSummary, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	batch := domain.NewBatch(intake.SourceRef, o.now())
	ctx = observability.WithBatchID(ctx, batch.ID)
	logger := observability.WithContextLogger(o.logger, ctx)

	if err := o.states.CreateBatch(ctx, &batch); err != nil {
		return nil, fmt.Errorf("failed to open batch for %q: %w", intake.SourceRef, err)
	}

	logger.Info("pipeline run started",
		zap.String("sourceRef", intake.SourceRef),
		zap.Int("files", len(intake.Files)),
	)

	summary := &RunSummary{
		BatchID:             batch.ID,
		SourceRef:           intake.SourceRef,
		TotalAmountUploaded: decimal.Zero,
	}

	records, sources, stateIDs := o.ingestFiles(ctx, batch.ID, intake.Files, summary, logger)

	groups := groupRecords(records, batch.ID)
	stateIDsFor := groupSources(records, sources)

	if len(groups) > 0 {
		if err := o.groups.CreateGroups(ctx, groups); err != nil {
			return nil, fmt.Errorf("failed to persist groups for batch %q: %w", batch.ID, err)
		}
	}

	o.runGroupStages(ctx, groups, stateIDsFor, logger)
	o.completeStates(ctx, groups, stateIDs, stateIDsFor, logger)
	o.summarize(groups, summary, logger)

	return summary, nil
}

// ingestFiles runs stages one and two for every file: state creation,
// integrity check, parsing and record extraction. It returns the
// extracted records, a parallel slice with each record's source state id,
// and the ids of every state that survived extraction.
func (o *Orchestrator) ingestFiles(ctx context.Context, batchID string, files []SourceFile, summary *RunSummary, logger *zap.Logger) ([]domain.Record, []string, []string) {
	billable := billableTypeSet(o.config.BillableTypes)

	var records []domain.Record
	var sources []string
	var stateIDs []string

	for _, file := range files {
		flog := logger.With(zap.String("filename", file.Filename))

		stateID, err := o.states.CreateState(ctx, batchID, file.Filename)
		if err != nil {
			flog.Error("failed to create processing state", zap.Error(err))
			summary.FilesFailed++
			o.metrics.IncStageFailed(string(recovery.StageIngest))
			continue
		}

		if err := o.states.UpdateStatus(ctx, stateID, domain.StateProcessing, nil); err != nil {
			flog.Error("failed to mark state processing", zap.Error(err))
		}

		meta, err := o.integrity.Metadata(file.Path)
		if err != nil {
			o.recoverFile(ctx, recovery.StageIngest, fmt.Errorf("%w: %v", recovery.ErrCorruption, err), stateID, flog)
			summary.FilesFailed++
			continue
		}
		if file.SizeBytes > 0 && meta.SizeBytes != file.SizeBytes {
			failure := fmt.Errorf("%w: size changed since intake, expected %d bytes got %d", recovery.ErrCorruption, file.SizeBytes, meta.SizeBytes)
			o.recoverFile(ctx, recovery.StageIngest, failure, stateID, flog)
			summary.FilesFailed++
			continue
		}
		flog.Info("file ingested",
			zap.String("checksum", meta.Checksum),
			zap.Int64("sizeBytes", meta.SizeBytes),
		)

		rows, err := o.parser.Rows(ctx, file.Path)
		if err != nil {
			o.recoverFile(ctx, recovery.StageExtract, err, stateID, flog)
			summary.FilesFailed++
			continue
		}

		ex := extractRecords(rows, billable, flog)
		if err := o.states.SetRecordCount(ctx, stateID, len(ex.records)); err != nil {
			flog.Error("failed to persist record count", zap.Error(err))
		}

		summary.FilesIngested++
		summary.RowsDiscarded += ex.discarded
		summary.RecordsDropped += ex.dropped
		o.metrics.AddRowsDiscarded(ex.discarded)
		o.metrics.IncStageProcessed(string(recovery.StageExtract))

		for _, record := range ex.records {
			records = append(records, record)
			sources = append(sources, stateID)
		}
		stateIDs = append(stateIDs, stateID)
	}

	return records, sources, stateIDs
}

// recoverFile routes a per-file failure through the recovery service and
// keeps going. Recovery bookkeeping errors are logged, never propagated.
func (o *Orchestrator) recoverFile(ctx context.Context, stage recovery.Stage, failure error, stateID string, logger *zap.Logger) {
	o.metrics.IncStageFailed(string(stage))
	if _, _, err := o.recoverer.Recover(ctx, stage, failure, stateID); err != nil {
		logger.Error("recovery bookkeeping failed",
			zap.String("stateId", stateID),
			zap.Error(err),
		)
	}
}

// groupSources maps each parent key to the distinct state ids that
// contributed records to it, so group failures can be written back to
// their source files.
func groupSources(records []domain.Record, sources []string) map[string][]string {
	byKey := make(map[string][]string)
	seen := make(map[string]map[string]bool)

	for i, record := range records {
		if seen[record.ParentKey] == nil {
			seen[record.ParentKey] = make(map[string]bool)
		}
		if seen[record.ParentKey][sources[i]] {
			continue
		}
		seen[record.ParentKey][sources[i]] = true
		byKey[record.ParentKey] = append(byKey[record.ParentKey], sources[i])
	}

	return byKey
}

// runGroupStages drives stages three and four: the batched generation and
// monitoring calls, then download and upload per group under bounded
// concurrency.
func (o *Orchestrator) runGroupStages(ctx context.Context, groups []*domain.Group, stateIDsFor map[string][]string, logger *zap.Logger) {
	if len(groups) == 0 {
		return
	}

	o.runBatchedStage(ctx, groups, automation.EndpointGenerate, recovery.StageGenerate, domain.GroupWaitingMonitoring, automation.BuildGenerationPayload, stateIDsFor, logger)
	o.runBatchedStage(ctx, groups, automation.EndpointMonitor, recovery.StageMonitor, domain.GroupMonitored, automation.BuildMonitoringPayload, stateIDsFor, logger)

	var eg errgroup.Group
	eg.SetLimit(o.config.GroupConcurrency)

	for _, grp := range groups {
		if grp.Status != domain.GroupMonitored {
			continue
		}
		grp := grp
		eg.Go(func() error {
			// failures are recorded per group; returning an error here
			// would cancel the siblings.
			o.finishGroup(ctx, grp, stateIDsFor, logger)
			return nil
		})
	}

	_ = eg.Wait()
}

// runBatchedStage issues one automation call covering every eligible
// group and advances or fails all of them together.
func (o *Orchestrator) runBatchedStage(
	ctx context.Context,
	groups []*domain.Group,
	endpoint string,
	stage recovery.Stage,
	next domain.GroupStatus,
	build func([]*domain.Group) (automation.Payload, []*domain.Group, error),
	stateIDsFor map[string][]string,
	logger *zap.Logger,
) {
	payload, targeted, err := build(groups)
	if err != nil {
		// no group is eligible; earlier failures were already recorded
		return
	}

	result, execErr := o.executor.Execute(ctx, endpoint, payload)
	if failure := callFailure(execErr, result); failure != nil {
		logger.Error("batched stage call failed",
			zap.String("stage", string(stage)),
			zap.Int("groups", len(targeted)),
			zap.Error(failure),
		)
		for _, grp := range targeted {
			o.failGroup(ctx, grp, stage, failure, stateIDsFor, logger)
		}
		return
	}

	for _, grp := range targeted {
		o.advanceGroup(ctx, grp, next, stage, logger)
	}
}

// finishGroup runs download then upload for one group.
func (o *Orchestrator) finishGroup(ctx context.Context, grp *domain.Group, stateIDsFor map[string][]string, logger *zap.Logger) {
	o.metrics.IncGroupsInFlight()
	defer o.metrics.DecGroupsInFlight()

	glog := logger.With(zap.String("parentKey", grp.ParentKey))

	payload, err := automation.BuildDownloadPayload(grp)
	if err != nil {
		o.failGroup(ctx, grp, recovery.StageDownload, err, stateIDsFor, glog)
		return
	}

	result, execErr := o.executor.Execute(ctx, automation.EndpointDownload, payload)
	if failure := callFailure(execErr, result); failure != nil {
		o.failGroup(ctx, grp, recovery.StageDownload, failure, stateIDsFor, glog)
		return
	}

	artifact := o.artifactPath(grp.ParentKey)
	if meta, metaErr := o.integrity.Metadata(artifact); metaErr != nil {
		glog.Warn("downloaded artifact not verifiable",
			zap.String("path", artifact),
			zap.Error(metaErr),
		)
	} else {
		glog.Info("artifact verified",
			zap.String("checksum", meta.Checksum),
			zap.Int64("sizeBytes", meta.SizeBytes),
		)
	}

	if !o.advanceGroup(ctx, grp, domain.GroupDownloaded, recovery.StageDownload, glog) {
		return
	}

	uploadPayload, err := automation.BuildUploadPayload(grp, artifact)
	if err != nil {
		o.failGroup(ctx, grp, recovery.StageUpload, err, stateIDsFor, glog)
		return
	}

	result, execErr = o.executor.Execute(ctx, automation.EndpointUpload, uploadPayload)
	if failure := callFailure(execErr, result); failure != nil {
		o.failGroup(ctx, grp, recovery.StageUpload, failure, stateIDsFor, glog)
		return
	}

	o.advanceGroup(ctx, grp, domain.GroupUploaded, recovery.StageUpload, glog)
}

// advanceGroup persists a forward transition and mirrors it in memory.
// An illegal transition is a defect; it is logged and the group is left
// where it was.
func (o *Orchestrator) advanceGroup(ctx context.Context, grp *domain.Group, to domain.GroupStatus, stage recovery.Stage, logger *zap.Logger) bool {
	if !domain.CanTransition(grp.Status, to) {
		logger.Error("illegal group transition skipped",
			zap.String("parentKey", grp.ParentKey),
			zap.String("from", grp.Status.String()),
			zap.String("to", to.String()),
		)
		return false
	}

	if err := o.groups.UpdateStatus(ctx, grp.BatchID, grp.ParentKey, to); err != nil {
		logger.Error("failed to persist group status",
			zap.String("parentKey", grp.ParentKey),
			zap.String("to", to.String()),
			zap.Error(err),
		)
		o.metrics.IncStageFailed(string(stage))
		return false
	}

	grp.Status = to
	o.metrics.IncStageProcessed(string(stage))
	return true
}

// failGroup moves the group to the failure terminal of its current
// status and routes the failure to every contributing source state.
func (o *Orchestrator) failGroup(ctx context.Context, grp *domain.Group, stage recovery.Stage, failure error, stateIDsFor map[string][]string, logger *zap.Logger) {
	status, ok := grp.Status.FailureStatus()
	if !ok {
		return
	}

	if err := o.groups.UpdateStatus(ctx, grp.BatchID, grp.ParentKey, status); err != nil {
		logger.Error("failed to persist group failure",
			zap.String("parentKey", grp.ParentKey),
			zap.String("to", status.String()),
			zap.Error(err),
		)
	} else {
		grp.Status = status
	}

	o.metrics.IncStageFailed(string(stage))

	for _, stateID := range stateIDsFor[grp.ParentKey] {
		if _, _, err := o.recoverer.Recover(ctx, stage, failure, stateID); err != nil {
			logger.Error("recovery bookkeeping failed",
				zap.String("stateId", stateID),
				zap.Error(err),
			)
		}
	}
}

// completeStates closes out every state whose groups all uploaded. States
// already moved to a failure status by the recovery service are left
// untouched.
func (o *Orchestrator) completeStates(ctx context.Context, groups []*domain.Group, stateIDs []string, stateIDsFor map[string][]string, logger *zap.Logger) {
	failed := make(map[string]bool)
	for _, grp := range groups {
		if grp.Status == domain.GroupUploaded {
			continue
		}
		for _, id := range stateIDsFor[grp.ParentKey] {
			failed[id] = true
		}
	}

	for _, id := range stateIDs {
		if failed[id] {
			continue
		}
		if err := o.states.UpdateStatus(ctx, id, domain.StateCompleted, nil); err != nil {
			logger.Error("failed to complete state",
				zap.String("stateId", id),
				zap.Error(err),
			)
		}
	}
}

// summarize fills the completion report. It cannot fail the batch.
func (o *Orchestrator) summarize(groups []*domain.Group, summary *RunSummary, logger *zap.Logger) {
	summary.GroupsTotal = len(groups)

	for _, grp := range groups {
		summary.Groups = append(summary.Groups, GroupOutcome{
			ParentKey:   grp.ParentKey,
			Status:      grp.Status,
			RecordCount: grp.RecordCount(),
			TotalAmount: grp.TotalAmount,
		})

		if grp.Status == domain.GroupUploaded {
			summary.GroupsUploaded++
			summary.TotalRecordsProcessed += grp.RecordCount()
			summary.TotalAmountUploaded = summary.TotalAmountUploaded.Add(grp.TotalAmount)
		} else {
			summary.GroupsFailed++
		}
	}

	summary.Metrics = o.metrics.Summarize()

	logger.Info("pipeline run finished",
		zap.Int("groupsTotal", summary.GroupsTotal),
		zap.Int("groupsUploaded", summary.GroupsUploaded),
		zap.Int("groupsFailed", summary.GroupsFailed),
		zap.Int("filesFailed", summary.FilesFailed),
		zap.String("totalAmountUploaded", summary.TotalAmountUploaded.String()),
		zap.String("runStatus", string(summary.Metrics.Status)),
	)
}

func (o *Orchestrator) artifactPath(parentKey string) string {
	return filepath.Join(o.config.ArtifactDir, parentKey+".pdf")
}

// callFailure folds a transport error and a failed result envelope into
// a single error, or nil when the call succeeded.
func callFailure(execErr error, result *automation.Result) error {
	if execErr != nil {
		return execErr
	}
	if result == nil {
		return fmt.Errorf("automation call returned no result")
	}
	if result.Success {
		return nil
	}

	msg := result.Error
	if msg == "" {
		msg = result.Message
	}
	if msg == "" {
		msg = "automation flow reported failure"
	}

	return &automation.Error{Message: msg}
}
