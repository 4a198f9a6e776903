package handlers_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/agendaciudadana/citas/internal/booking"
	"github.com/agendaciudadana/citas/internal/handlers"
	"github.com/agendaciudadana/citas/internal/ledger"
	"github.com/agendaciudadana/citas/internal/model"
)

// stubService lets each test script the facade's outcome per operation.
type stubService struct {
	createFn  func(booking.CreateParams) (string, error)
	confirmFn func(appointmentID, userID string) error
	cancelFn  func(appointmentID, userID, reason string) error
	reschedFn func(appointmentID, userID string, newSlotID int64, notes string) error
	getFn     func(appointmentID, userID string) (model.Appointment, error)
	listFn    func(userID string) ([]model.Appointment, error)
	statusFn  func(appointmentID, userID string) (model.StatusInfo, error)
}

func (s *stubService) Create(_ context.Context, params booking.CreateParams) (string, error) {
	return s.createFn(params)
}

func (s *stubService) Confirm(_ context.Context, appointmentID, userID string) error {
	return s.confirmFn(appointmentID, userID)
}

func (s *stubService) Reschedule(_ context.Context, appointmentID, userID string, newSlotID int64, notes string) error {
	return s.reschedFn(appointmentID, userID, newSlotID, notes)
}

func (s *stubService) Cancel(_ context.Context, appointmentID, userID, reason string) error {
	return s.cancelFn(appointmentID, userID, reason)
}

func (s *stubService) GetByID(_ context.Context, appointmentID, userID string) (model.Appointment, error) {
	return s.getFn(appointmentID, userID)
}

func (s *stubService) ListForUser(_ context.Context, userID string) ([]model.Appointment, error) {
	return s.listFn(userID)
}

func (s *stubService) GetStatus(_ context.Context, appointmentID, userID string) (model.StatusInfo, error) {
	return s.statusFn(appointmentID, userID)
}

func newHandler(svc *stubService) *handlers.BookingHandler {
	return handlers.NewBookingHandler(svc, discardLogger())
}

// mux wires the handler the way main does, so PathValue lookups work.
func newMux(h *handlers.BookingHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/appointments", h.Create)
	mux.HandleFunc("GET /api/v1/appointments", h.List)
	mux.HandleFunc("GET /api/v1/appointments/{id}", h.Get)
	mux.HandleFunc("PUT /api/v1/appointments/{id}", h.Reschedule)
	mux.HandleFunc("PUT /api/v1/appointments/{id}/confirm", h.Confirm)
	mux.HandleFunc("DELETE /api/v1/appointments/{id}", h.Cancel)
	mux.HandleFunc("GET /api/v1/appointments/{id}/status", h.Status)
	return mux
}

func authedRequest(method, target, body, userID string) *http.Request {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	if userID != "" {
		req = req.WithContext(handlers.ContextWithUserID(req.Context(), userID))
	}
	return req
}

func TestCreateAppointment(t *testing.T) {
	svc := &stubService{
		createFn: func(params booking.CreateParams) (string, error) {
			if params.UserID != "user-1" || params.SlotID != 42 {
				t.Fatalf("unexpected params: %+v", params)
			}
			return "appt-1", nil
		},
	}
	mux := newMux(newHandler(svc))

	req := authedRequest(http.MethodPost, "/api/v1/appointments",
		`{"office_id":1,"procedure_id":2,"slot_id":42,"notes":"  first visit "}`, "user-1")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		AppointmentID string `json:"appointment_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.AppointmentID != "appt-1" {
		t.Fatalf("appointment_id = %q", resp.AppointmentID)
	}
}

func TestCreateRequiresAuth(t *testing.T) {
	mux := newMux(newHandler(&stubService{}))

	req := authedRequest(http.MethodPost, "/api/v1/appointments", `{"slot_id":1}`, "")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestCreateRejectsBadJSON(t *testing.T) {
	mux := newMux(newHandler(&stubService{}))

	req := authedRequest(http.MethodPost, "/api/v1/appointments", `{not json`, "user-1")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", &booking.ValidationError{Reason: "slot id required"}, http.StatusBadRequest},
		{"slot unavailable", ledger.ErrSlotUnavailable, http.StatusConflict},
		{"not found", booking.ErrNotFound, http.StatusNotFound},
		{"invalid state", booking.ErrInvalidState, http.StatusConflict},
		{"transient exhausted", &pgconn.PgError{Code: "40001"}, http.StatusServiceUnavailable},
		{"internal", io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubService{
				createFn: func(booking.CreateParams) (string, error) { return "", tc.err },
			}
			mux := newMux(newHandler(svc))

			req := authedRequest(http.MethodPost, "/api/v1/appointments", `{"slot_id":1}`, "user-1")
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestConfirmNotConfirmableMapsToConflict(t *testing.T) {
	svc := &stubService{
		confirmFn: func(appointmentID, userID string) error { return booking.ErrNotConfirmable },
	}
	mux := newMux(newHandler(svc))

	req := authedRequest(http.MethodPut, "/api/v1/appointments/appt-1/confirm", "", "user-1")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

// A transient store conflict is retried before anything reaches the client.
func TestTransientConflictRetried(t *testing.T) {
	calls := 0
	svc := &stubService{
		createFn: func(booking.CreateParams) (string, error) {
			calls++
			if calls == 1 {
				return "", &pgconn.PgError{Code: "40P01"}
			}
			return "appt-1", nil
		},
	}
	mux := newMux(newHandler(svc))

	req := authedRequest(http.MethodPost, "/api/v1/appointments", `{"slot_id":1}`, "user-1")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 after retry", rec.Code)
	}
	if calls != 2 {
		t.Fatalf("service called %d times, want 2", calls)
	}
}

func TestTransientConflictGivesUp(t *testing.T) {
	calls := 0
	svc := &stubService{
		confirmFn: func(appointmentID, userID string) error {
			calls++
			return &pgconn.PgError{Code: "40001"}
		},
	}
	mux := newMux(newHandler(svc))

	req := authedRequest(http.MethodPut, "/api/v1/appointments/appt-1/confirm", "", "user-1")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if calls != 3 {
		t.Fatalf("service called %d times, want initial attempt plus 2 retries", calls)
	}
}

func TestGetAppointment(t *testing.T) {
	confirmed := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	svc := &stubService{
		getFn: func(appointmentID, userID string) (model.Appointment, error) {
			if appointmentID != "appt-1" || userID != "user-1" {
				t.Fatalf("unexpected lookup: %s %s", appointmentID, userID)
			}
			return model.Appointment{
				ID:          "appt-1",
				UserID:      "user-1",
				OfficeID:    1,
				ProcedureID: 2,
				SlotID:      42,
				Date:        time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC),
				StartTime:   "09:00",
				EndTime:     "09:30",
				Status:      model.StatusConfirmed,
				ConfirmedAt: &confirmed,
				OfficeName:  "Registro Civil Centro",
			}, nil
		},
	}
	mux := newMux(newHandler(svc))

	req := authedRequest(http.MethodGet, "/api/v1/appointments/appt-1", "", "user-1")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["date"] != "2026-09-14" || resp["status"] != "confirmed" {
		t.Fatalf("unexpected body: %v", resp)
	}
	if resp["confirmed_at"] != "2026-09-01T10:00:00Z" {
		t.Fatalf("confirmed_at = %v", resp["confirmed_at"])
	}
	if resp["office_name"] != "Registro Civil Centro" {
		t.Fatalf("office_name = %v", resp["office_name"])
	}
}

func TestListAppointmentsEmpty(t *testing.T) {
	svc := &stubService{
		listFn: func(userID string) ([]model.Appointment, error) { return nil, nil },
	}
	mux := newMux(newHandler(svc))

	req := authedRequest(http.MethodGet, "/api/v1/appointments", "", "user-1")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	// Empty list must serialize as [], not null.
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Fatalf("body = %q, want []", got)
	}
}

func TestCancelPassesReason(t *testing.T) {
	var gotReason string
	svc := &stubService{
		cancelFn: func(appointmentID, userID, reason string) error {
			gotReason = reason
			return nil
		},
	}
	mux := newMux(newHandler(svc))

	req := authedRequest(http.MethodDelete, "/api/v1/appointments/appt-1",
		`{"reason":" moved away "}`, "user-1")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if gotReason != "moved away" {
		t.Fatalf("reason = %q", gotReason)
	}
}

func TestCancelWithoutBody(t *testing.T) {
	svc := &stubService{
		cancelFn: func(appointmentID, userID, reason string) error { return nil },
	}
	mux := newMux(newHandler(svc))

	req := authedRequest(http.MethodDelete, "/api/v1/appointments/appt-1", "", "user-1")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for bodyless cancel", rec.Code)
	}
}

func TestCancelRejectsMalformedBody(t *testing.T) {
	svc := &stubService{
		cancelFn: func(appointmentID, userID, reason string) error {
			t.Fatal("service must not be called for a malformed body")
			return nil
		},
	}
	mux := newMux(newHandler(svc))

	req := authedRequest(http.MethodDelete, "/api/v1/appointments/appt-1", `{not json`, "user-1")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestRescheduleForwardsSlotAndNotes(t *testing.T) {
	var gotSlot int64
	var gotNotes string
	svc := &stubService{
		reschedFn: func(appointmentID, userID string, newSlotID int64, notes string) error {
			gotSlot, gotNotes = newSlotID, notes
			return nil
		},
	}
	mux := newMux(newHandler(svc))

	req := authedRequest(http.MethodPut, "/api/v1/appointments/appt-1",
		`{"new_slot_id":77,"notes":"afternoon works better"}`, "user-1")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if gotSlot != 77 || gotNotes != "afternoon works better" {
		t.Fatalf("forwarded slot=%d notes=%q", gotSlot, gotNotes)
	}
}

func TestStatusEndpoint(t *testing.T) {
	svc := &stubService{
		statusFn: func(appointmentID, userID string) (model.StatusInfo, error) {
			return model.StatusInfo{
				Status:    model.StatusPending,
				Date:      time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC),
				StartTime: "09:00",
			}, nil
		},
	}
	mux := newMux(newHandler(svc))

	req := authedRequest(http.MethodGet, "/api/v1/appointments/appt-1/status", "", "user-1")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Status    string `json:"status"`
		Date      string `json:"date"`
		StartTime string `json:"start_time"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "pending" || resp.Date != "2026-09-14" || resp.StartTime != "09:00" {
		t.Fatalf("unexpected body: %+v", resp)
	}
}
