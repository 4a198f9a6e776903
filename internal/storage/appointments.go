package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/agendaciudadana/citas/internal/model"
	"github.com/agendaciudadana/citas/libs/db"
)

type AppointmentRepository struct {
	pool *db.Pool
}

func NewAppointmentRepository(pool *db.Pool) *AppointmentRepository {
	return &AppointmentRepository{pool: pool}
}

func (r *AppointmentRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func (r *AppointmentRepository) Insert(ctx context.Context, tx pgx.Tx, appt *model.Appointment) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO appointments
			(id, user_id, office_id, procedure_id, slot_id,
			 appointment_date, start_time, end_time, notes, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7::time, $8::time, $9, $10)
	`, appt.ID, appt.UserID, appt.OfficeID, appt.ProcedureID, appt.SlotID,
		appt.Date, appt.StartTime, appt.EndTime, appt.Notes, appt.Status)
	return err
}

// GetForUpdate loads and locks the appointment row, scoped to the owning user.
// A missing row and a row owned by someone else are indistinguishable here:
// both come back as pgx.ErrNoRows.
func (r *AppointmentRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, appointmentID, userID string) (model.Appointment, error) {
	var appt model.Appointment
	err := tx.QueryRow(ctx, `
		SELECT id, user_id, office_id, procedure_id, slot_id,
			appointment_date,
			to_char(start_time, 'HH24:MI'),
			to_char(end_time, 'HH24:MI'),
			COALESCE(notes, ''), status,
			confirmed_at, cancelled_at, COALESCE(cancellation_reason, ''),
			created_at
		FROM appointments
		WHERE id = $1 AND user_id = $2
		FOR UPDATE
	`, appointmentID, userID).Scan(
		&appt.ID, &appt.UserID, &appt.OfficeID, &appt.ProcedureID, &appt.SlotID,
		&appt.Date, &appt.StartTime, &appt.EndTime,
		&appt.Notes, &appt.Status,
		&appt.ConfirmedAt, &appt.CancelledAt, &appt.CancelReason,
		&appt.CreatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

// Confirm flips pending to confirmed in a single conditional update and
// reports whether any row changed. Ownership and current status are folded into
// the WHERE clause on purpose: the caller cannot tell a missing appointment
// from one in the wrong state.
func (r *AppointmentRepository) Confirm(ctx context.Context, tx pgx.Tx, appointmentID, userID string) (bool, time.Time, error) {
	var confirmedAt time.Time
	err := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'confirmed', confirmed_at = now()
		WHERE id = $1 AND user_id = $2 AND status = 'pending'
		RETURNING confirmed_at
	`, appointmentID, userID).Scan(&confirmedAt)
	if err != nil {
		if IsNotFound(err) {
			return false, time.Time{}, nil
		}
		return false, time.Time{}, err
	}
	return true, confirmedAt, nil
}

// Reslot points the appointment at a different slot, refreshing the
// denormalized time bounds and the notes.
func (r *AppointmentRepository) Reslot(ctx context.Context, tx pgx.Tx, appointmentID string, slot model.Slot, notes string) error {
	_, err := tx.Exec(ctx, `
		UPDATE appointments
		SET slot_id = $2,
			appointment_date = $3,
			start_time = $4::time,
			end_time = $5::time,
			notes = $6
		WHERE id = $1
	`, appointmentID, slot.ID, slot.Date, slot.StartTime, slot.EndTime, notes)
	return err
}

func (r *AppointmentRepository) UpdateNotes(ctx context.Context, tx pgx.Tx, appointmentID, notes string) error {
	_, err := tx.Exec(ctx, `
		UPDATE appointments
		SET notes = $2
		WHERE id = $1
	`, appointmentID, notes)
	return err
}

func (r *AppointmentRepository) MarkCancelled(ctx context.Context, tx pgx.Tx, appointmentID, reason string) (time.Time, error) {
	var cancelledAt time.Time
	err := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'cancelled',
			cancelled_at = now(),
			cancellation_reason = $2
		WHERE id = $1
		RETURNING cancelled_at
	`, appointmentID, reason).Scan(&cancelledAt)
	return cancelledAt, err
}

const appointmentWithRefsSelect = `
	SELECT a.id, a.user_id, a.office_id, a.procedure_id, a.slot_id,
		a.appointment_date,
		to_char(a.start_time, 'HH24:MI'),
		to_char(a.end_time, 'HH24:MI'),
		COALESCE(a.notes, ''), a.status,
		a.confirmed_at, a.cancelled_at, COALESCE(a.cancellation_reason, ''),
		a.created_at,
		o.name, o.address, p.name
	FROM appointments a
	JOIN offices o ON o.id = a.office_id
	JOIN procedures p ON p.id = a.procedure_id
`

func (r *AppointmentRepository) GetByID(ctx context.Context, appointmentID, userID string) (model.Appointment, error) {
	appt, err := scanAppointmentWithRefs(r.pool.QueryRow(ctx,
		appointmentWithRefsSelect+`WHERE a.id = $1 AND a.user_id = $2`,
		appointmentID, userID))
	if err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

func (r *AppointmentRepository) ListByUser(ctx context.Context, userID string) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx,
		appointmentWithRefsSelect+`
		WHERE a.user_id = $1
		ORDER BY a.appointment_date DESC, a.start_time DESC`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointmentWithRefs(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

func (r *AppointmentRepository) GetStatus(ctx context.Context, appointmentID, userID string) (model.StatusInfo, error) {
	var info model.StatusInfo
	err := r.pool.QueryRow(ctx, `
		SELECT status, appointment_date, to_char(start_time, 'HH24:MI')
		FROM appointments
		WHERE id = $1 AND user_id = $2
	`, appointmentID, userID).Scan(&info.Status, &info.Date, &info.StartTime)
	if err != nil {
		return model.StatusInfo{}, err
	}
	return info, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAppointmentWithRefs(row rowScanner) (model.Appointment, error) {
	var appt model.Appointment
	err := row.Scan(
		&appt.ID, &appt.UserID, &appt.OfficeID, &appt.ProcedureID, &appt.SlotID,
		&appt.Date, &appt.StartTime, &appt.EndTime,
		&appt.Notes, &appt.Status,
		&appt.ConfirmedAt, &appt.CancelledAt, &appt.CancelReason,
		&appt.CreatedAt,
		&appt.OfficeName, &appt.OfficeAddress, &appt.ProcedureName,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}
