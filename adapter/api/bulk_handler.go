package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	bulkApplication "github.com/fitstack/backoffice/internal/bulk/application"
	bulkDomain "github.com/fitstack/backoffice/internal/bulk/domain"
	packagesDomain "github.com/fitstack/backoffice/internal/packages/domain"
)

// BulkHandler handles bulk preview, execution, and job history requests.
type BulkHandler struct {
	engine *bulkApplication.Engine
	logger *slog.Logger
}

// NewBulkHandler creates a new bulk operations handler.
func NewBulkHandler(engine *bulkApplication.Engine, logger *slog.Logger) *BulkHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BulkHandler{engine: engine, logger: logger}
}

// FilterRequest is the wire form of a package selection filter.
type FilterRequest struct {
	Status       *string    `json:"status,omitempty"`
	CatalogID    *uuid.UUID `json:"catalog_id,omitempty"`
	ExpiresFrom  *time.Time `json:"expires_from,omitempty"`
	ExpiresTo    *time.Time `json:"expires_to,omitempty"`
	MinRemaining *int       `json:"min_remaining_sessions,omitempty"`
	MaxRemaining *int       `json:"max_remaining_sessions,omitempty"`
	UserSearch   string     `json:"user_search,omitempty"`
	AutoRenew    *bool      `json:"auto_renew,omitempty"`
}

func (f FilterRequest) toDomain() packagesDomain.Filter {
	out := packagesDomain.Filter{
		CatalogID:    f.CatalogID,
		ExpiresFrom:  f.ExpiresFrom,
		ExpiresTo:    f.ExpiresTo,
		MinRemaining: f.MinRemaining,
		MaxRemaining: f.MaxRemaining,
		UserSearch:   f.UserSearch,
		AutoRenew:    f.AutoRenew,
	}
	if f.Status != nil {
		st := packagesDomain.Status(*f.Status)
		out.Status = &st
	}
	return out
}

type extensionRequest struct {
	Filters   FilterRequest                `json:"filters"`
	Operation packagesDomain.ExtensionSpec `json:"operation"`
	ActorID   uuid.UUID                    `json:"actor_id"`
}

type pricingRequest struct {
	Filters   FilterRequest              `json:"filters"`
	Operation packagesDomain.PricingSpec `json:"operation"`
	ActorID   uuid.UUID                  `json:"actor_id"`
}

// JobDTO is the wire form of one bulk job.
type JobDTO struct {
	ID                 uuid.UUID              `json:"id"`
	Type               string                 `json:"type"`
	Status             string                 `json:"status"`
	TargetCount        int                    `json:"target_count"`
	SuccessfulCount    int                    `json:"successful_count"`
	FailedCount        int                    `json:"failed_count"`
	ProgressPercentage float64                `json:"progress_percentage"`
	Errors             []bulkDomain.ItemError `json:"errors,omitempty"`
	StartedAt          *time.Time             `json:"started_at,omitempty"`
	CompletedAt        *time.Time             `json:"completed_at,omitempty"`
	CreatedAt          time.Time              `json:"created_at"`
}

func jobToDTO(job *bulkDomain.BulkOperation) *JobDTO {
	return &JobDTO{
		ID:                 job.ID(),
		Type:               string(job.Type()),
		Status:             string(job.Status()),
		TargetCount:        job.TargetCount(),
		SuccessfulCount:    job.SuccessfulCount(),
		FailedCount:        job.FailedCount(),
		ProgressPercentage: job.ProgressPercentage(),
		Errors:             job.ItemErrors(),
		StartedAt:          job.StartedAt(),
		CompletedAt:        job.CompletedAt(),
		CreatedAt:          job.CreatedAt(),
	}
}

// PreviewExtension handles POST /api/v1/bulk/extension/preview
func (h *BulkHandler) PreviewExtension(w http.ResponseWriter, r *http.Request) {
	var req extensionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	preview, err := h.engine.Preview(r.Context(), bulkDomain.TypeExtension, req.Filters.toDomain(),
		bulkDomain.OperationSpec{Extension: &req.Operation})
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, preview)
}

// ExecuteExtension handles POST /api/v1/bulk/extension/execute
func (h *BulkHandler) ExecuteExtension(w http.ResponseWriter, r *http.Request) {
	var req extensionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	job, err := h.engine.Execute(r.Context(), bulkDomain.TypeExtension, req.Filters.toDomain(),
		bulkDomain.OperationSpec{Extension: &req.Operation}, req.ActorID)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusAccepted, jobToDTO(job))
}

// PreviewPricing handles POST /api/v1/bulk/pricing/preview
func (h *BulkHandler) PreviewPricing(w http.ResponseWriter, r *http.Request) {
	var req pricingRequest
	if !decodeBody(w, r, &req) {
		return
	}

	preview, err := h.engine.Preview(r.Context(), bulkDomain.TypePricingAdjustment, req.Filters.toDomain(),
		bulkDomain.OperationSpec{Pricing: &req.Operation})
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, preview)
}

// ExecutePricing handles POST /api/v1/bulk/pricing/execute
func (h *BulkHandler) ExecutePricing(w http.ResponseWriter, r *http.Request) {
	var req pricingRequest
	if !decodeBody(w, r, &req) {
		return
	}

	job, err := h.engine.Execute(r.Context(), bulkDomain.TypePricingAdjustment, req.Filters.toDomain(),
		bulkDomain.OperationSpec{Pricing: &req.Operation}, req.ActorID)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusAccepted, jobToDTO(job))
}

// ListOperations handles GET /api/v1/bulk/operations
func (h *BulkHandler) ListOperations(w http.ResponseWriter, r *http.Request) {
	f := bulkDomain.ListFilter{
		Page:    parseIntParam(r, "page", 1),
		PerPage: parseIntParam(r, "per_page", 20),
	}

	if v := r.URL.Query().Get("type"); v != "" {
		t := bulkDomain.OperationType(v)
		f.Type = &t
	}
	if v := r.URL.Query().Get("status"); v != "" {
		s := bulkDomain.OperationStatus(v)
		f.Status = &s
	}
	if v := r.URL.Query().Get("from"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid 'from' timestamp")
			return
		}
		f.From = &ts
	}
	if v := r.URL.Query().Get("to"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid 'to' timestamp")
			return
		}
		f.To = &ts
	}

	jobs, total, err := h.engine.List(r.Context(), f)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	dtos := make([]*JobDTO, len(jobs))
	for i, job := range jobs {
		dtos[i] = jobToDTO(job)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"operations": dtos,
		"total":      total,
		"page":       f.Page,
		"per_page":   f.PerPage,
	})
}

// GetOperation handles GET /api/v1/bulk/operations/{id}
func (h *BulkHandler) GetOperation(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid operation ID")
		return
	}

	status, err := h.engine.Status(r.Context(), id)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// CancelOperation handles POST /api/v1/bulk/operations/{id}/cancel
func (h *BulkHandler) CancelOperation(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid operation ID")
		return
	}

	if err := h.engine.Cancel(r.Context(), id); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	status, err := h.engine.Status(r.Context(), id)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, status)
}
