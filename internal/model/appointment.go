package model

import "time"

// Status is the closed set of appointment states. Completed has no producing
// operation in this service; a separate batch process moves past appointments
// there, so the value stays in the set but no transition here targets it.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// Active reports whether the appointment currently holds a slot reservation.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

type Appointment struct {
	ID           string
	UserID       string
	OfficeID     int64
	ProcedureID  int64
	SlotID       int64
	Date         time.Time // calendar date of the held slot, copied at booking time
	StartTime    string    // HH:MM, copied from the slot
	EndTime      string    // HH:MM, copied from the slot
	Notes        string
	Status       Status
	ConfirmedAt  *time.Time
	CancelledAt  *time.Time
	CancelReason string
	CreatedAt    time.Time

	// Populated by read queries that join reference data; empty on writes.
	OfficeName    string
	OfficeAddress string
	ProcedureName string
}

// StatusInfo is the trimmed view returned by the status lookup.
type StatusInfo struct {
	Status    Status
	Date      time.Time
	StartTime string
}
