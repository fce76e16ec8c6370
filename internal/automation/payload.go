package automation

import (
	"fmt"

	"github.com/kursadbilgin/invoice-pipeline/internal/domain"
)

// Endpoints of the automation service, one per pipeline flow.
const (
	EndpointGenerate = "generate"
	EndpointMonitor  = "monitor"
	EndpointDownload = "download"
	EndpointUpload   = "upload"
)

const periodLayout = "2006-01-02"

// Payload is the request wire shape of the automation service.
type Payload struct {
	Flow       string         `json:"flow"`
	Parameters map[string]any `json:"parameters"`
}

// BuildGenerationPayload covers every PENDING group with one batched call.
func BuildGenerationPayload(groups []*domain.Group) (Payload, []*domain.Group, error) {
	targeted := selectByStatus(groups, domain.GroupPending)
	if len(targeted) == 0 {
		return Payload{}, nil, fmt.Errorf("no groups pending generation")
	}

	return Payload{
		Flow: EndpointGenerate,
		Parameters: map[string]any{
			"parentKeys": parentKeys(targeted),
		},
	}, targeted, nil
}

// BuildMonitoringPayload covers every WAITING_MONITORING group with one
// batched call.
func BuildMonitoringPayload(groups []*domain.Group) (Payload, []*domain.Group, error) {
	targeted := selectByStatus(groups, domain.GroupWaitingMonitoring)
	if len(targeted) == 0 {
		return Payload{}, nil, fmt.Errorf("no groups waiting for monitoring")
	}

	return Payload{
		Flow: EndpointMonitor,
		Parameters: map[string]any{
			"parentKeys": parentKeys(targeted),
		},
	}, targeted, nil
}

// BuildDownloadPayload targets one group: each download produces a
// distinct artifact, so the call is never batched.
func BuildDownloadPayload(group *domain.Group) (Payload, error) {
	if group == nil {
		return Payload{}, fmt.Errorf("group is required")
	}

	return Payload{
		Flow: EndpointDownload,
		Parameters: map[string]any{
			"parentKey":   group.ParentKey,
			"recordIds":   append([]string(nil), group.RecordIDs...),
			"totalAmount": group.TotalAmount.String(),
			"periodStart": group.PeriodStart.Format(periodLayout),
			"periodEnd":   group.PeriodEnd.Format(periodLayout),
		},
	}, nil
}

// BuildUploadPayload targets one group and references its downloaded
// artifact.
func BuildUploadPayload(group *domain.Group, filePath string) (Payload, error) {
	if group == nil {
		return Payload{}, fmt.Errorf("group is required")
	}
	if filePath == "" {
		return Payload{}, fmt.Errorf("artifact path is required")
	}

	return Payload{
		Flow: EndpointUpload,
		Parameters: map[string]any{
			"parentKey": group.ParentKey,
			"filePath":  filePath,
		},
	}, nil
}

func selectByStatus(groups []*domain.Group, status domain.GroupStatus) []*domain.Group {
	selected := make([]*domain.Group, 0, len(groups))
	for _, g := range groups {
		if g != nil && g.Status == status {
			selected = append(selected, g)
		}
	}
	return selected
}

func parentKeys(groups []*domain.Group) []string {
	keys := make([]string, 0, len(groups))
	for _, g := range groups {
		keys = append(keys, g.ParentKey)
	}
	return keys
}
