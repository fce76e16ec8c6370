package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// GroupStatus represents how far a group has advanced through the
// automation service lifecycle. Transitions are strictly forward.
type GroupStatus string

const (
	GroupPending           GroupStatus = "PENDING"
	GroupWaitingMonitoring GroupStatus = "WAITING_MONITORING"
	GroupMonitored         GroupStatus = "MONITORED"
	GroupDownloaded        GroupStatus = "DOWNLOADED"
	GroupUploaded          GroupStatus = "UPLOADED"
	GroupFailedGeneration  GroupStatus = "FAILED_GENERATION"
	GroupFailedMonitoring  GroupStatus = "FAILED_MONITORING"
	GroupFailedDownload    GroupStatus = "FAILED_DOWNLOAD"
	GroupFailedUpload      GroupStatus = "FAILED_UPLOAD"
)

// GroupForwardSequence is the only successful path through the lifecycle.
var GroupForwardSequence = []GroupStatus{
	GroupPending,
	GroupWaitingMonitoring,
	GroupMonitored,
	GroupDownloaded,
	GroupUploaded,
}

// groupFailureFor maps each in-flight status to the failure terminal
// reachable from it.
var groupFailureFor = map[GroupStatus]GroupStatus{
	GroupPending:           GroupFailedGeneration,
	GroupWaitingMonitoring: GroupFailedMonitoring,
	GroupMonitored:         GroupFailedDownload,
	GroupDownloaded:        GroupFailedUpload,
}

func (s GroupStatus) String() string { return string(s) }

func (s GroupStatus) IsValid() bool {
	switch s {
	case GroupPending, GroupWaitingMonitoring, GroupMonitored,
		GroupDownloaded, GroupUploaded,
		GroupFailedGeneration, GroupFailedMonitoring,
		GroupFailedDownload, GroupFailedUpload:
		return true
	}
	return false
}

func (s GroupStatus) IsFailure() bool {
	return strings.HasPrefix(string(s), "FAILED_")
}

// IsTerminal reports whether the status ends the group's lifecycle.
// UPLOADED is the only success terminal.
func (s GroupStatus) IsTerminal() bool {
	return s == GroupUploaded || s.IsFailure()
}

// FailureStatus returns the failure terminal matching the current
// in-flight stage. Terminal statuses have no further failure.
func (s GroupStatus) FailureStatus() (GroupStatus, bool) {
	failure, ok := groupFailureFor[s]
	return failure, ok
}

// CanTransition reports whether moving from one status to another keeps
// the lifecycle strictly forward: either the next stage in the forward
// sequence or the failure terminal of the current stage.
func CanTransition(from, to GroupStatus) bool {
	for i := 0; i < len(GroupForwardSequence)-1; i++ {
		if GroupForwardSequence[i] == from {
			if GroupForwardSequence[i+1] == to {
				return true
			}
			return groupFailureFor[from] == to
		}
	}
	return false
}

func ParseGroupStatusFromString(raw string) (GroupStatus, error) {
	st := GroupStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid group status %q", ErrValidation, raw)
	}
	return st, nil
}

// Group aggregates all records sharing a parent key within one batch and
// is the unit of automation-service interaction.
type Group struct {
	ParentKey   string
	BatchID     string
	Status      GroupStatus
	TotalAmount decimal.Decimal
	RecordIDs   []string
	PeriodStart time.Time
	PeriodEnd   time.Time

	records []Record
}

// NewGroup allocates an empty group in the PENDING state. A group that
// stays empty is invalid and must be dropped before the pipeline advances.
func NewGroup(parentKey, batchID string) *Group {
	return &Group{
		ParentKey:   parentKey,
		BatchID:     batchID,
		Status:      GroupPending,
		TotalAmount: decimal.Zero,
	}
}

// Add appends a record and recomputes the aggregation invariants:
// total amount and the issue-period bounds.
func (g *Group) Add(r Record) {
	g.records = append(g.records, r)
	g.RecordIDs = append(g.RecordIDs, r.ID)
	g.TotalAmount = g.TotalAmount.Add(r.Amount)

	if g.PeriodStart.IsZero() || r.IssueDate.Before(g.PeriodStart) {
		g.PeriodStart = r.IssueDate
	}
	if g.PeriodEnd.IsZero() || r.IssueDate.After(g.PeriodEnd) {
		g.PeriodEnd = r.IssueDate
	}
}

func (g *Group) Records() []Record { return g.records }

func (g *Group) RecordCount() int { return len(g.records) }

// Validate rejects groups that break the aggregation invariant.
func (g *Group) Validate() error {
	if len(g.records) == 0 {
		return fmt.Errorf("%w: group %q has no records", ErrValidation, g.ParentKey)
	}

	sum := decimal.Zero
	for i := range g.records {
		sum = sum.Add(g.records[i].Amount)
	}
	if !sum.Equal(g.TotalAmount) {
		return fmt.Errorf("%w: group %q total %s does not match member sum %s",
			ErrValidation, g.ParentKey, g.TotalAmount, sum)
	}

	return nil
}
