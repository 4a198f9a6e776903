package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/agendaciudadana/citas/internal/model"
)

// ErrSlotUnavailable means the slot is closed or its capacity is exhausted.
var ErrSlotUnavailable = errors.New("slot unavailable")

// ErrReservationUnderflow means a release was attempted on a slot whose
// reservation count is already zero. That can only happen through a
// bookkeeping bug upstream, so it is surfaced instead of clamped.
var ErrReservationUnderflow = errors.New("slot reservation count underflow")

// SlotLedger owns the reservation count of every slot. All mutations go
// through Acquire/Release inside a caller-managed transaction; nothing else
// in the codebase writes reservations_current.
type SlotLedger struct{}

func NewSlotLedger() *SlotLedger {
	return &SlotLedger{}
}

// Acquire locks the slot row, verifies it is bookable and takes one
// reservation on it. The returned slot carries the time bounds the caller
// denormalizes onto the appointment. The lock is held until the enclosing
// transaction commits or rolls back, so concurrent acquirers of the same slot
// are totally ordered and at most capacity_max of them ever succeed.
func (l *SlotLedger) Acquire(ctx context.Context, tx pgx.Tx, slotID int64) (model.Slot, error) {
	var s model.Slot
	err := tx.QueryRow(ctx, `
		SELECT id, office_id, slot_date,
			to_char(start_time, 'HH24:MI'),
			to_char(end_time, 'HH24:MI'),
			capacity_max, reservations_current, is_open
		FROM slots
		WHERE id = $1
		FOR UPDATE
	`, slotID).Scan(&s.ID, &s.OfficeID, &s.Date, &s.StartTime, &s.EndTime,
		&s.CapacityMax, &s.ReservationsCurrent, &s.IsOpen)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Slot{}, ErrSlotUnavailable
		}
		return model.Slot{}, err
	}

	if !s.Bookable() {
		return model.Slot{}, ErrSlotUnavailable
	}

	if _, err := tx.Exec(ctx, `
		UPDATE slots
		SET reservations_current = reservations_current + 1
		WHERE id = $1
	`, slotID); err != nil {
		return model.Slot{}, err
	}
	s.ReservationsCurrent++
	return s, nil
}

// Release locks the slot row and returns one reservation to it.
func (l *SlotLedger) Release(ctx context.Context, tx pgx.Tx, slotID int64) error {
	var current int
	err := tx.QueryRow(ctx, `
		SELECT reservations_current
		FROM slots
		WHERE id = $1
		FOR UPDATE
	`, slotID).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("release slot %d: %w", slotID, pgx.ErrNoRows)
		}
		return err
	}
	if current <= 0 {
		return fmt.Errorf("release slot %d: %w", slotID, ErrReservationUnderflow)
	}

	_, err = tx.Exec(ctx, `
		UPDATE slots
		SET reservations_current = reservations_current - 1
		WHERE id = $1
	`, slotID)
	return err
}
