package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	notificationsApplication "github.com/fitstack/backoffice/internal/notifications/application"
	packagesApplication "github.com/fitstack/backoffice/internal/packages/application"
	packagesDomain "github.com/fitstack/backoffice/internal/packages/domain"
)

// PackageHandler handles single-package lifecycle requests.
type PackageHandler struct {
	ledger *packagesApplication.LedgerService
	sweep  *notificationsApplication.SweepService
	logger *slog.Logger
}

// NewPackageHandler creates a new package handler.
func NewPackageHandler(ledger *packagesApplication.LedgerService, sweep *notificationsApplication.SweepService, logger *slog.Logger) *PackageHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PackageHandler{ledger: ledger, sweep: sweep, logger: logger}
}

// PackageDTO is the read projection of one package, status computed at
// request time.
type PackageDTO struct {
	ID                 uuid.UUID  `json:"id"`
	UserID             uuid.UUID  `json:"user_id"`
	CatalogID          uuid.UUID  `json:"catalog_id"`
	Name               string     `json:"name"`
	TotalSessions      int        `json:"total_sessions"`
	RemainingSessions  int        `json:"remaining_sessions"`
	AssignedAt         time.Time  `json:"assigned_at"`
	ExpiresAt          time.Time  `json:"expires_at"`
	Status             string     `json:"status"`
	Frozen             bool       `json:"frozen"`
	FrozenAt           *time.Time `json:"frozen_at,omitempty"`
	FreezeDurationDays *int       `json:"freeze_duration_days,omitempty"`
	NotificationStage  string     `json:"notification_stage"`
	LastNotifiedAt     *time.Time `json:"last_notified_at,omitempty"`
	AutoRenew          bool       `json:"auto_renew"`
	RenewedFromID      *uuid.UUID `json:"renewed_from_id,omitempty"`
	RenewedAt          *time.Time `json:"renewed_at,omitempty"`
	Version            int        `json:"version"`
}

func packageToDTO(p *packagesDomain.UserPackage) *PackageDTO {
	return &PackageDTO{
		ID:                 p.ID(),
		UserID:             p.UserID(),
		CatalogID:          p.CatalogID(),
		Name:               p.Name(),
		TotalSessions:      p.TotalSessions(),
		RemainingSessions:  p.RemainingSessions(),
		AssignedAt:         p.AssignedAt(),
		ExpiresAt:          p.ExpiresAt(),
		Status:             string(p.Status(time.Now().UTC())),
		Frozen:             p.IsFrozen(),
		FrozenAt:           p.FrozenAt(),
		FreezeDurationDays: p.FreezeDurationDays(),
		NotificationStage:  string(p.Stage()),
		LastNotifiedAt:     p.LastNotifiedAt(),
		AutoRenew:          p.AutoRenew(),
		RenewedFromID:      p.RenewedFromID(),
		RenewedAt:          p.RenewedAt(),
		Version:            p.Version(),
	}
}

// HistoryEntryDTO is one audit log row.
type HistoryEntryDTO struct {
	ID              uuid.UUID  `json:"id"`
	PackageID       uuid.UUID  `json:"package_id"`
	UserID          uuid.UUID  `json:"user_id"`
	Action          string     `json:"action"`
	PreviousStatus  string     `json:"previous_status"`
	NewStatus       string     `json:"new_status"`
	SessionsBefore  int        `json:"sessions_before"`
	SessionsAfter   int        `json:"sessions_after"`
	ExpiryBefore    time.Time  `json:"expiry_before"`
	ExpiryAfter     time.Time  `json:"expiry_after"`
	Notes           string     `json:"notes,omitempty"`
	ActorID         uuid.UUID  `json:"actor_id"`
	BulkOperationID *uuid.UUID `json:"bulk_operation_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// GetPackage handles GET /api/v1/packages/{id}
func (h *PackageHandler) GetPackage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	p, err := h.ledger.GetPackage(r.Context(), id)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, packageToDTO(p))
}

// GetHistory handles GET /api/v1/packages/{id}/history
func (h *PackageHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	entries, err := h.ledger.ListHistory(r.Context(), id)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	dtos := make([]*HistoryEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = &HistoryEntryDTO{
			ID:              e.ID,
			PackageID:       e.PackageID,
			UserID:          e.UserID,
			Action:          e.Action,
			PreviousStatus:  string(e.PreviousStatus),
			NewStatus:       string(e.NewStatus),
			SessionsBefore:  e.SessionsBefore,
			SessionsAfter:   e.SessionsAfter,
			ExpiryBefore:    e.ExpiryBefore,
			ExpiryAfter:     e.ExpiryAfter,
			Notes:           e.Notes,
			ActorID:         e.ActorID,
			BulkOperationID: e.BulkOperationID,
			CreatedAt:       e.CreatedAt,
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"history": dtos,
		"total":   len(dtos),
	})
}

// Freeze handles POST /api/v1/packages/{id}/freeze
func (h *PackageHandler) Freeze(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req struct {
		DurationDays *int      `json:"duration_days"`
		ActorID      uuid.UUID `json:"actor_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.DurationDays != nil && *req.DurationDays <= 0 {
		writeError(w, http.StatusBadRequest, "duration_days must be positive")
		return
	}

	p, err := h.ledger.Freeze(r.Context(), id, req.ActorID, req.DurationDays)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, packageToDTO(p))
}

// Unfreeze handles POST /api/v1/packages/{id}/unfreeze
func (h *PackageHandler) Unfreeze(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req struct {
		ActorID uuid.UUID `json:"actor_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	p, err := h.ledger.Unfreeze(r.Context(), id, req.ActorID)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, packageToDTO(p))
}

// Renew handles POST /api/v1/packages/{id}/renew
func (h *PackageHandler) Renew(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req struct {
		CatalogID     *uuid.UUID `json:"catalog_id"`
		ExtraSessions int        `json:"extra_sessions"`
		ActorID       uuid.UUID  `json:"actor_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ExtraSessions < 0 {
		writeError(w, http.StatusBadRequest, "extra_sessions must not be negative")
		return
	}

	successor, err := h.ledger.Renew(r.Context(), id, req.ActorID, req.CatalogID, req.ExtraSessions)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, packageToDTO(successor))
}

// Notify handles POST /api/v1/packages/{id}/notify. The resend is still
// stage-guarded: a package with nothing due answers 409.
func (h *PackageHandler) Notify(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	log, err := h.sweep.Notify(r.Context(), id)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"package_id": log.PackageID,
		"type":       log.Type,
		"channel":    log.Channel,
		"success":    log.Success,
		"sent_at":    log.SentAt,
	})
}

// pathID parses the {id} segment; a malformed value answers 400.
func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid package ID")
		return uuid.Nil, false
	}
	return id, true
}

// decodeBody decodes a JSON request body. An empty body is allowed and
// leaves the destination zero-valued.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return false
	}
	return true
}
