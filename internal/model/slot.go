package model

import "time"

// Slot is a bookable time window at an office. Rows are provisioned externally;
// this service only mutates ReservationsCurrent, and only under a row lock.
type Slot struct {
	ID                  int64
	OfficeID            int64
	Date                time.Time
	StartTime           string // HH:MM
	EndTime             string // HH:MM
	CapacityMax         int
	ReservationsCurrent int
	IsOpen              bool
}

// Bookable reports whether a new reservation may be taken on the slot.
func (s Slot) Bookable() bool {
	return s.IsOpen && s.ReservationsCurrent < s.CapacityMax
}

type Office struct {
	ID              int64
	Name            string
	Address         string
	Phone           string
	TotalProcedures int
}

type Procedure struct {
	ID                   int64
	Name                 string
	Description          string
	EstimatedDurationMin int
	Cost                 string
	RequiredDocuments    string
}

// OfficeDetail is an office with the procedures it currently offers.
type OfficeDetail struct {
	Office
	Procedures []Procedure
}

// SlotAvailability is a slot decorated with derived occupancy for catalog reads.
type SlotAvailability struct {
	Slot
	SpacesAvailable int
	OfficeName      string
	OfficeAddress   string
}
