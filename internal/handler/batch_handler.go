package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/kursadbilgin/invoice-pipeline/internal/domain"
	"github.com/kursadbilgin/invoice-pipeline/internal/repository"
)

// StateReader is the read-only slice of the state store the API exposes.
type StateReader interface {
	Get(ctx context.Context, stateID string) (*domain.ProcessingState, error)
	ListByBatch(ctx context.Context, batchID string) ([]domain.ProcessingState, error)
	History(ctx context.Context, stateID string) ([]domain.StatusHistory, error)
}

// GroupReader is the read-only slice of the group store the API exposes.
type GroupReader interface {
	GetByKey(ctx context.Context, batchID string, parentKey string) (*repository.GroupRow, error)
	ListByBatch(ctx context.Context, batchID string) ([]repository.GroupRow, error)
}

type BatchHandler struct {
	states StateReader
	groups GroupReader
}

func NewBatchHandler(states StateReader, groups GroupReader) (*BatchHandler, error) {
	if states == nil {
		return nil, fmt.Errorf("state reader is required")
	}
	if groups == nil {
		return nil, fmt.Errorf("group reader is required")
	}
	return &BatchHandler{states: states, groups: groups}, nil
}

func RegisterBatchRoutes(router fiber.Router, states StateReader, groups GroupReader) error {
	h, err := NewBatchHandler(states, groups)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Get("/batches/:batchId", h.GetBatch)
	v1.Get("/batches/:batchId/groups/:parentKey", h.GetGroup)
	v1.Get("/states/:stateId", h.GetState)

	return nil
}

type stateResponse struct {
	ID             string  `json:"id"`
	SourceFilename string  `json:"sourceFilename"`
	Status         string  `json:"status"`
	RecordCount    int     `json:"recordCount"`
	RetryCount     int     `json:"retryCount"`
	ErrorMessage   *string `json:"errorMessage,omitempty"`
}

type groupResponse struct {
	ParentKey   string   `json:"parentKey"`
	Status      string   `json:"status"`
	RecordCount int      `json:"recordCount"`
	TotalAmount string   `json:"totalAmount"`
	RecordIDs   []string `json:"recordIds,omitempty"`
	PeriodStart string   `json:"periodStart,omitempty"`
	PeriodEnd   string   `json:"periodEnd,omitempty"`
}

type batchResponse struct {
	BatchID        string          `json:"batchId"`
	States         []stateResponse `json:"states"`
	Groups         []groupResponse `json:"groups"`
	GroupsUploaded int             `json:"groupsUploaded"`
	GroupsFailed   int             `json:"groupsFailed"`
}

type historyEntryResponse struct {
	Status       string    `json:"status"`
	ErrorMessage *string   `json:"errorMessage,omitempty"`
	At           time.Time `json:"at"`
}

type stateDetailResponse struct {
	stateResponse
	BatchID string                 `json:"batchId"`
	History []historyEntryResponse `json:"history"`
}

// GetBatch returns every processing state and group of one batch.
func (h *BatchHandler) GetBatch(c *fiber.Ctx) error {
	batchID := strings.TrimSpace(c.Params("batchId"))
	if batchID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "batch id is required")
	}

	states, err := h.states.ListByBatch(c.Context(), batchID)
	if err != nil {
		return mapStoreError(err)
	}
	groups, err := h.groups.ListByBatch(c.Context(), batchID)
	if err != nil {
		return mapStoreError(err)
	}
	if len(states) == 0 && len(groups) == 0 {
		return fiber.NewError(fiber.StatusNotFound, fmt.Sprintf("batch %q not found", batchID))
	}

	resp := batchResponse{
		BatchID: batchID,
		States:  make([]stateResponse, 0, len(states)),
		Groups:  make([]groupResponse, 0, len(groups)),
	}

	for _, st := range states {
		resp.States = append(resp.States, toStateResponse(st))
	}
	for _, g := range groups {
		resp.Groups = append(resp.Groups, toGroupResponse(g))
		switch {
		case g.Status == domain.GroupUploaded:
			resp.GroupsUploaded++
		case g.Status.IsFailure():
			resp.GroupsFailed++
		}
	}

	return c.Status(fiber.StatusOK).JSON(resp)
}

// GetGroup returns one group of a batch, keyed by parent key.
func (h *BatchHandler) GetGroup(c *fiber.Ctx) error {
	batchID := strings.TrimSpace(c.Params("batchId"))
	parentKey := strings.TrimSpace(c.Params("parentKey"))
	if batchID == "" || parentKey == "" {
		return fiber.NewError(fiber.StatusBadRequest, "batch id and parent key are required")
	}

	row, err := h.groups.GetByKey(c.Context(), batchID, parentKey)
	if err != nil {
		return mapStoreError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toGroupResponse(*row))
}

// GetState returns one processing state with its full status history.
func (h *BatchHandler) GetState(c *fiber.Ctx) error {
	stateID := strings.TrimSpace(c.Params("stateId"))
	if stateID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "state id is required")
	}

	st, err := h.states.Get(c.Context(), stateID)
	if err != nil {
		return mapStoreError(err)
	}

	history, err := h.states.History(c.Context(), stateID)
	if err != nil {
		return mapStoreError(err)
	}

	resp := stateDetailResponse{
		stateResponse: toStateResponse(*st),
		BatchID:       st.BatchID,
		History:       make([]historyEntryResponse, 0, len(history)),
	}
	for _, entry := range history {
		resp.History = append(resp.History, historyEntryResponse{
			Status:       entry.Status.String(),
			ErrorMessage: entry.ErrorMessage,
			At:           entry.CreatedAt,
		})
	}

	return c.Status(fiber.StatusOK).JSON(resp)
}

func toStateResponse(st domain.ProcessingState) stateResponse {
	return stateResponse{
		ID:             st.ID,
		SourceFilename: st.SourceFilename,
		Status:         st.Status.String(),
		RecordCount:    st.RecordCount,
		RetryCount:     st.RetryCount,
		ErrorMessage:   st.ErrorMessage,
	}
}

func toGroupResponse(g repository.GroupRow) groupResponse {
	resp := groupResponse{
		ParentKey:   g.ParentKey,
		Status:      g.Status.String(),
		RecordCount: g.RecordCount,
		TotalAmount: g.TotalAmount.String(),
		RecordIDs:   g.RecordIDs,
	}
	if !g.PeriodStart.IsZero() {
		resp.PeriodStart = g.PeriodStart.Format("2006-01-02")
	}
	if !g.PeriodEnd.IsZero() {
		resp.PeriodEnd = g.PeriodEnd.Format("2006-01-02")
	}
	return resp
}

func mapStoreError(err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	default:
		return err
	}
}
