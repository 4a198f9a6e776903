package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/agendaciudadana/citas/internal/model"
	"github.com/agendaciudadana/citas/internal/outbox"
)

// SlotLedger is the only party allowed to change a slot's reservation count.
// Both methods run inside the transaction passed to them and hold the slot's
// row lock until that transaction finishes.
type SlotLedger interface {
	Acquire(ctx context.Context, tx pgx.Tx, slotID int64) (model.Slot, error)
	Release(ctx context.Context, tx pgx.Tx, slotID int64) error
}

// AppointmentStore persists appointment rows. Mutating methods take the
// transaction of the enclosing unit of work; reads go straight to the pool.
type AppointmentStore interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Insert(ctx context.Context, tx pgx.Tx, appt *model.Appointment) error
	GetForUpdate(ctx context.Context, tx pgx.Tx, appointmentID, userID string) (model.Appointment, error)
	Confirm(ctx context.Context, tx pgx.Tx, appointmentID, userID string) (bool, time.Time, error)
	Reslot(ctx context.Context, tx pgx.Tx, appointmentID string, slot model.Slot, notes string) error
	UpdateNotes(ctx context.Context, tx pgx.Tx, appointmentID, notes string) error
	MarkCancelled(ctx context.Context, tx pgx.Tx, appointmentID, reason string) (time.Time, error)
	GetByID(ctx context.Context, appointmentID, userID string) (model.Appointment, error)
	ListByUser(ctx context.Context, userID string) ([]model.Appointment, error)
	GetStatus(ctx context.Context, appointmentID, userID string) (model.StatusInfo, error)
}

// EventSink records a domain event in the same transaction as the mutation.
type EventSink interface {
	Insert(ctx context.Context, tx pgx.Tx, evt outbox.Event) error
}

// Service owns the appointment state machine. Every mutation runs in exactly
// one transaction: either all of its effects commit (appointment row, slot
// counts, outbox event) or none do.
type Service struct {
	ledger SlotLedger
	appts  AppointmentStore
	events EventSink
	logger *slog.Logger
}

func NewService(ledger SlotLedger, appts AppointmentStore, events EventSink, logger *slog.Logger) *Service {
	return &Service{
		ledger: ledger,
		appts:  appts,
		events: events,
		logger: logger,
	}
}

type CreateParams struct {
	UserID      string
	OfficeID    int64
	ProcedureID int64
	SlotID      int64
	Notes       string
}

func (p CreateParams) validate() error {
	if p.UserID == "" {
		return validationErr("user id required")
	}
	if p.OfficeID <= 0 {
		return validationErr("office id required")
	}
	if p.ProcedureID <= 0 {
		return validationErr("procedure id required")
	}
	if p.SlotID <= 0 {
		return validationErr("slot id required")
	}
	return nil
}

// Create books a new pending appointment on the requested slot. The slot's
// time bounds are copied from the row read under the lock, never from client
// input. On ledger.ErrSlotUnavailable nothing is persisted.
func (s *Service) Create(ctx context.Context, params CreateParams) (string, error) {
	if err := params.validate(); err != nil {
		return "", err
	}

	tx, err := s.appts.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	slot, err := s.ledger.Acquire(ctx, tx, params.SlotID)
	if err != nil {
		return "", err
	}

	appt := &model.Appointment{
		ID:          uuid.NewString(),
		UserID:      params.UserID,
		OfficeID:    params.OfficeID,
		ProcedureID: params.ProcedureID,
		SlotID:      slot.ID,
		Date:        slot.Date,
		StartTime:   slot.StartTime,
		EndTime:     slot.EndTime,
		Notes:       params.Notes,
		Status:      model.StatusPending,
	}
	if err := s.appts.Insert(ctx, tx, appt); err != nil {
		return "", err
	}

	if err := s.emit(ctx, tx, outbox.EventAppointmentBooked, appt.ID, map[string]any{
		"appointment_id": appt.ID,
		"user_id":        appt.UserID,
		"office_id":      appt.OfficeID,
		"procedure_id":   appt.ProcedureID,
		"slot_id":        appt.SlotID,
		"date":           appt.Date.Format("2006-01-02"),
		"start_time":     appt.StartTime,
		"end_time":       appt.EndTime,
	}); err != nil {
		return "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return appt.ID, nil
}

// Confirm moves a pending appointment owned by userID to confirmed. A single
// conditional update carries the ownership and state checks; when it changes
// no row the caller gets ErrNotConfirmable without learning why.
func (s *Service) Confirm(ctx context.Context, appointmentID, userID string) error {
	if appointmentID == "" || userID == "" {
		return validationErr("appointment id and user id required")
	}

	tx, err := s.appts.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ok, confirmedAt, err := s.appts.Confirm(ctx, tx, appointmentID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotConfirmable
	}

	if err := s.emit(ctx, tx, outbox.EventAppointmentConfirmed, appointmentID, map[string]any{
		"appointment_id": appointmentID,
		"user_id":        userID,
		"confirmed_at":   confirmedAt.UTC().Format(time.RFC3339),
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Reschedule moves an active appointment to newSlotID. The new slot is
// acquired before the old one is released, so at every committed point the
// appointment holds exactly one reservation. When only the notes change no
// ledger mutation happens at all.
//
// Two reschedules swapping a pair of slots in opposite directions can take
// the two row locks in opposite orders; the store's deadlock detector aborts
// one side, which surfaces as a transient error the caller retries.
func (s *Service) Reschedule(ctx context.Context, appointmentID, userID string, newSlotID int64, notes string) error {
	if appointmentID == "" || userID == "" {
		return validationErr("appointment id and user id required")
	}
	if newSlotID <= 0 {
		return validationErr("slot id required")
	}

	tx, err := s.appts.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := s.appts.GetForUpdate(ctx, tx, appointmentID, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	if !appt.Status.Active() {
		return ErrInvalidState
	}

	if newSlotID == appt.SlotID {
		if err := s.appts.UpdateNotes(ctx, tx, appointmentID, notes); err != nil {
			return err
		}
		return tx.Commit(ctx)
	}

	newSlot, err := s.ledger.Acquire(ctx, tx, newSlotID)
	if err != nil {
		return err
	}
	if err := s.ledger.Release(ctx, tx, appt.SlotID); err != nil {
		return err
	}
	if err := s.appts.Reslot(ctx, tx, appointmentID, newSlot, notes); err != nil {
		return err
	}

	if err := s.emit(ctx, tx, outbox.EventAppointmentRescheduled, appointmentID, map[string]any{
		"appointment_id": appointmentID,
		"user_id":        userID,
		"old_slot_id":    appt.SlotID,
		"new_slot_id":    newSlot.ID,
		"date":           newSlot.Date.Format("2006-01-02"),
		"start_time":     newSlot.StartTime,
		"end_time":       newSlot.EndTime,
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Cancel moves an active appointment to cancelled and returns its reservation
// to the slot. Cancelling twice fails with ErrInvalidState; the reservation
// is released exactly once.
func (s *Service) Cancel(ctx context.Context, appointmentID, userID, reason string) error {
	if appointmentID == "" || userID == "" {
		return validationErr("appointment id and user id required")
	}

	tx, err := s.appts.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := s.appts.GetForUpdate(ctx, tx, appointmentID, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	if !appt.Status.Active() {
		return ErrInvalidState
	}

	cancelledAt, err := s.appts.MarkCancelled(ctx, tx, appointmentID, reason)
	if err != nil {
		return err
	}
	if err := s.ledger.Release(ctx, tx, appt.SlotID); err != nil {
		return err
	}

	if err := s.emit(ctx, tx, outbox.EventAppointmentCancelled, appointmentID, map[string]any{
		"appointment_id": appointmentID,
		"user_id":        userID,
		"slot_id":        appt.SlotID,
		"cancelled_at":   cancelledAt.UTC().Format(time.RFC3339),
		"reason":         reason,
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Service) GetByID(ctx context.Context, appointmentID, userID string) (model.Appointment, error) {
	if appointmentID == "" || userID == "" {
		return model.Appointment{}, validationErr("appointment id and user id required")
	}
	appt, err := s.appts.GetByID(ctx, appointmentID, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Appointment{}, ErrNotFound
		}
		return model.Appointment{}, err
	}
	return appt, nil
}

func (s *Service) ListForUser(ctx context.Context, userID string) ([]model.Appointment, error) {
	if userID == "" {
		return nil, validationErr("user id required")
	}
	return s.appts.ListByUser(ctx, userID)
}

func (s *Service) GetStatus(ctx context.Context, appointmentID, userID string) (model.StatusInfo, error) {
	if appointmentID == "" || userID == "" {
		return model.StatusInfo{}, validationErr("appointment id and user id required")
	}
	info, err := s.appts.GetStatus(ctx, appointmentID, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.StatusInfo{}, ErrNotFound
		}
		return model.StatusInfo{}, err
	}
	return info, nil
}

func (s *Service) emit(ctx context.Context, tx pgx.Tx, eventType, appointmentID string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return s.events.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appointmentID,
		EventType:     eventType,
		Payload:       body,
	})
}
