package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/agendaciudadana/citas/internal/booking"
	"github.com/agendaciudadana/citas/internal/ledger"
	"github.com/agendaciudadana/citas/internal/model"
	"github.com/agendaciudadana/citas/internal/storage"
)

// BookingService is the lifecycle contract this facade adapts to HTTP.
type BookingService interface {
	Create(ctx context.Context, params booking.CreateParams) (string, error)
	Confirm(ctx context.Context, appointmentID, userID string) error
	Reschedule(ctx context.Context, appointmentID, userID string, newSlotID int64, notes string) error
	Cancel(ctx context.Context, appointmentID, userID, reason string) error
	GetByID(ctx context.Context, appointmentID, userID string) (model.Appointment, error)
	ListForUser(ctx context.Context, userID string) ([]model.Appointment, error)
	GetStatus(ctx context.Context, appointmentID, userID string) (model.StatusInfo, error)
}

// Store aborts from lock contention are retried this many extra times before
// surfacing as 503.
const maxTransientRetries = 2

type BookingHandler struct {
	svc    BookingService
	logger *slog.Logger
}

func NewBookingHandler(svc BookingService, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{svc: svc, logger: logger}
}

type createAppointmentRequest struct {
	OfficeID    int64  `json:"office_id"`
	ProcedureID int64  `json:"procedure_id"`
	SlotID      int64  `json:"slot_id"`
	Notes       string `json:"notes"`
}

type createAppointmentResponse struct {
	AppointmentID string `json:"appointment_id"`
}

type rescheduleRequest struct {
	NewSlotID int64  `json:"new_slot_id"`
	Notes     string `json:"notes"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type appointmentResponse struct {
	AppointmentID string `json:"appointment_id"`
	OfficeID      int64  `json:"office_id"`
	OfficeName    string `json:"office_name,omitempty"`
	OfficeAddress string `json:"office_address,omitempty"`
	ProcedureID   int64  `json:"procedure_id"`
	ProcedureName string `json:"procedure_name,omitempty"`
	SlotID        int64  `json:"slot_id"`
	Date          string `json:"date"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	Notes         string `json:"notes,omitempty"`
	Status        string `json:"status"`
	ConfirmedAt   string `json:"confirmed_at,omitempty"`
	CancelledAt   string `json:"cancelled_at,omitempty"`
	CancelReason  string `json:"cancellation_reason,omitempty"`
	CreatedAt     string `json:"created_at"`
}

type statusResponse struct {
	Status    string `json:"status"`
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
}

func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req createAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	params := booking.CreateParams{
		UserID:      userID,
		OfficeID:    req.OfficeID,
		ProcedureID: req.ProcedureID,
		SlotID:      req.SlotID,
		Notes:       strings.TrimSpace(req.Notes),
	}

	var id string
	err := h.withRetry(r.Context(), func() error {
		var err error
		id, err = h.svc.Create(r.Context(), params)
		return err
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createAppointmentResponse{AppointmentID: id})
}

func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	appts, err := h.svc.ListForUser(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	items := make([]appointmentResponse, 0, len(appts))
	for _, appt := range appts {
		items = append(items, toAppointmentResponse(appt))
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *BookingHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	appt, err := h.svc.GetByID(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *BookingHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req rescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	appointmentID := r.PathValue("id")
	err := h.withRetry(r.Context(), func() error {
		return h.svc.Reschedule(r.Context(), appointmentID, userID, req.NewSlotID, strings.TrimSpace(req.Notes))
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "appointment rescheduled"})
}

func (h *BookingHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	appointmentID := r.PathValue("id")
	err := h.withRetry(r.Context(), func() error {
		return h.svc.Confirm(r.Context(), appointmentID, userID)
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "appointment confirmed"})
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	// The reason body is optional on cancel, but a body that is present must
	// be valid JSON.
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	appointmentID := r.PathValue("id")
	err := h.withRetry(r.Context(), func() error {
		return h.svc.Cancel(r.Context(), appointmentID, userID, strings.TrimSpace(req.Reason))
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "appointment cancelled"})
}

func (h *BookingHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	info, err := h.svc.GetStatus(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Status:    string(info.Status),
		Date:      info.Date.Format("2006-01-02"),
		StartTime: info.StartTime,
	})
}

func (h *BookingHandler) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || !storage.IsTransient(err) || attempt >= maxTransientRetries {
			return err
		}
		h.logger.Warn("transient store conflict; retrying", "attempt", attempt+1, "err", err)
		select {
		case <-ctx.Done():
			return err
		default:
		}
	}
}

func (h *BookingHandler) writeError(w http.ResponseWriter, err error) {
	var vErr *booking.ValidationError
	switch {
	case errors.As(err, &vErr):
		http.Error(w, vErr.Reason, http.StatusBadRequest)
	case errors.Is(err, ledger.ErrSlotUnavailable):
		http.Error(w, "slot is no longer available", http.StatusConflict)
	case errors.Is(err, booking.ErrNotFound):
		http.Error(w, "appointment not found", http.StatusNotFound)
	case errors.Is(err, booking.ErrNotConfirmable):
		http.Error(w, "appointment could not be confirmed", http.StatusConflict)
	case errors.Is(err, booking.ErrInvalidState):
		http.Error(w, "appointment state does not allow this operation", http.StatusConflict)
	case storage.IsTransient(err):
		http.Error(w, "conflicting concurrent request, retry", http.StatusServiceUnavailable)
	default:
		h.logger.Error("booking operation failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func toAppointmentResponse(appt model.Appointment) appointmentResponse {
	resp := appointmentResponse{
		AppointmentID: appt.ID,
		OfficeID:      appt.OfficeID,
		OfficeName:    appt.OfficeName,
		OfficeAddress: appt.OfficeAddress,
		ProcedureID:   appt.ProcedureID,
		ProcedureName: appt.ProcedureName,
		SlotID:        appt.SlotID,
		Date:          appt.Date.Format("2006-01-02"),
		StartTime:     appt.StartTime,
		EndTime:       appt.EndTime,
		Notes:         appt.Notes,
		Status:        string(appt.Status),
		CancelReason:  appt.CancelReason,
		CreatedAt:     appt.CreatedAt.UTC().Format(time.RFC3339),
	}
	if appt.ConfirmedAt != nil {
		resp.ConfirmedAt = appt.ConfirmedAt.UTC().Format(time.RFC3339)
	}
	if appt.CancelledAt != nil {
		resp.CancelledAt = appt.CancelledAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
