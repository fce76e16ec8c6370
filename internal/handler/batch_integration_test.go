package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kursadbilgin/invoice-pipeline/internal/domain"
	"github.com/kursadbilgin/invoice-pipeline/internal/repository"
	"github.com/kursadbilgin/invoice-pipeline/internal/transport"
)

type stubStateReader struct {
	getFn     func(ctx context.Context, stateID string) (*domain.ProcessingState, error)
	listFn    func(ctx context.Context, batchID string) ([]domain.ProcessingState, error)
	historyFn func(ctx context.Context, stateID string) ([]domain.StatusHistory, error)
}

func (s *stubStateReader) Get(ctx context.Context, stateID string) (*domain.ProcessingState, error) {
	return s.getFn(ctx, stateID)
}

func (s *stubStateReader) ListByBatch(ctx context.Context, batchID string) ([]domain.ProcessingState, error) {
	return s.listFn(ctx, batchID)
}

func (s *stubStateReader) History(ctx context.Context, stateID string) ([]domain.StatusHistory, error) {
	return s.historyFn(ctx, stateID)
}

type stubGroupReader struct {
	getFn  func(ctx context.Context, batchID, parentKey string) (*repository.GroupRow, error)
	listFn func(ctx context.Context, batchID string) ([]repository.GroupRow, error)
}

func (s *stubGroupReader) GetByKey(ctx context.Context, batchID, parentKey string) (*repository.GroupRow, error) {
	return s.getFn(ctx, batchID, parentKey)
}

func (s *stubGroupReader) ListByBatch(ctx context.Context, batchID string) ([]repository.GroupRow, error) {
	return s.listFn(ctx, batchID)
}

func newBatchTestApp(t *testing.T, states StateReader, groups GroupReader) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})

	if err := RegisterBatchRoutes(app, states, groups); err != nil {
		t.Fatalf("RegisterBatchRoutes() error = %v", err)
	}

	return app
}

func performRequest(t *testing.T, app *fiber.App, method string, path string) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, nil)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = resp.Body.Close()

	return resp, respBody
}

func TestBatchIntegration_GetBatch(t *testing.T) {
	t.Parallel()

	errMsg := "SERVER_ERROR: render backend unavailable"
	states := &stubStateReader{
		listFn: func(ctx context.Context, batchID string) ([]domain.ProcessingState, error) {
			if batchID != "batch-1" {
				return nil, nil
			}
			return []domain.ProcessingState{
				{ID: "ps-1", BatchID: batchID, SourceFilename: "a.xlsx", Status: domain.StateCompleted, RecordCount: 3},
				{ID: "ps-2", BatchID: batchID, SourceFilename: "b.xlsx", Status: domain.StateFailedDownload, RetryCount: 1, ErrorMessage: &errMsg},
			}, nil
		},
	}
	groups := &stubGroupReader{
		listFn: func(ctx context.Context, batchID string) ([]repository.GroupRow, error) {
			return []repository.GroupRow{
				{ParentKey: "PO-1", BatchID: batchID, Status: domain.GroupUploaded, RecordCount: 3, TotalAmount: decimal.RequireFromString("150.25")},
				{ParentKey: "PO-2", BatchID: batchID, Status: domain.GroupFailedDownload, RecordCount: 1, TotalAmount: decimal.RequireFromString("10")},
			}, nil
		},
	}

	app := newBatchTestApp(t, states, groups)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/batches/batch-1")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}

	var parsed batchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed.BatchID != "batch-1" {
		t.Fatalf("batchId = %s, want batch-1", parsed.BatchID)
	}
	if len(parsed.States) != 2 || len(parsed.Groups) != 2 {
		t.Fatalf("states/groups = %d/%d, want 2/2", len(parsed.States), len(parsed.Groups))
	}
	if parsed.GroupsUploaded != 1 || parsed.GroupsFailed != 1 {
		t.Fatalf("uploaded/failed = %d/%d, want 1/1", parsed.GroupsUploaded, parsed.GroupsFailed)
	}
	if parsed.Groups[0].TotalAmount != "150.25" {
		t.Fatalf("totalAmount = %s, want 150.25", parsed.Groups[0].TotalAmount)
	}
	if parsed.States[1].ErrorMessage == nil || *parsed.States[1].ErrorMessage != errMsg {
		t.Fatalf("error message = %v, want %q", parsed.States[1].ErrorMessage, errMsg)
	}
}

func TestBatchIntegration_GetBatchNotFound(t *testing.T) {
	t.Parallel()

	states := &stubStateReader{
		listFn: func(ctx context.Context, batchID string) ([]domain.ProcessingState, error) {
			return nil, nil
		},
	}
	groups := &stubGroupReader{
		listFn: func(ctx context.Context, batchID string) ([]repository.GroupRow, error) {
			return nil, nil
		},
	}

	app := newBatchTestApp(t, states, groups)

	resp, _ := performRequest(t, app, http.MethodGet, "/v1/batches/batch-missing")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestBatchIntegration_GetGroup(t *testing.T) {
	t.Parallel()

	states := &stubStateReader{}
	groups := &stubGroupReader{
		getFn: func(ctx context.Context, batchID, parentKey string) (*repository.GroupRow, error) {
			if parentKey != "PO-1" {
				return nil, domain.ErrNotFound
			}
			return &repository.GroupRow{
				ParentKey:   "PO-1",
				BatchID:     batchID,
				Status:      domain.GroupUploaded,
				RecordCount: 2,
				TotalAmount: decimal.RequireFromString("99.90"),
				RecordIDs:   []string{"DOC-1", "DOC-2"},
				PeriodStart: time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
				PeriodEnd:   time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC),
			}, nil
		},
	}

	app := newBatchTestApp(t, states, groups)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/batches/batch-1/groups/PO-1")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}

	var parsed groupResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed.Status != "UPLOADED" || parsed.PeriodStart != "2026-07-01" || parsed.PeriodEnd != "2026-07-15" {
		t.Fatalf("group = %+v", parsed)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/batches/batch-1/groups/PO-404")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404 for unknown group", resp.StatusCode)
	}
}

func TestBatchIntegration_GetStateWithHistory(t *testing.T) {
	t.Parallel()

	errMsg := "CORRUPTION: checksum mismatch"
	states := &stubStateReader{
		getFn: func(ctx context.Context, stateID string) (*domain.ProcessingState, error) {
			if stateID != "ps-1" {
				return nil, domain.ErrNotFound
			}
			return &domain.ProcessingState{
				ID:             "ps-1",
				BatchID:        "batch-1",
				SourceFilename: "a.xlsx",
				Status:         domain.StateFailedExtraction,
				ErrorMessage:   &errMsg,
			}, nil
		},
		historyFn: func(ctx context.Context, stateID string) ([]domain.StatusHistory, error) {
			return []domain.StatusHistory{
				{StateID: stateID, Status: domain.StatePending},
				{StateID: stateID, Status: domain.StateProcessing},
				{StateID: stateID, Status: domain.StateFailedExtraction, ErrorMessage: &errMsg},
			}, nil
		},
	}

	app := newBatchTestApp(t, states, &stubGroupReader{})

	resp, body := performRequest(t, app, http.MethodGet, "/v1/states/ps-1")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}

	var parsed stateDetailResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed.Status != "FAILED_EXTRACTION" || parsed.BatchID != "batch-1" {
		t.Fatalf("state = %+v", parsed)
	}
	if len(parsed.History) != 3 || parsed.History[2].Status != "FAILED_EXTRACTION" {
		t.Fatalf("history = %+v", parsed.History)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/states/ps-404")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404 for unknown state", resp.StatusCode)
	}
}
