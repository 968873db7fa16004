package model

import "time"

const (
	StatusBooked            = "booked"
	StatusConfirmed         = "confirmed"
	StatusCompleted         = "completed"
	StatusCancelled         = "cancelled"
	StatusCancelledByClient = "cancelled_by_client"
)

type Appointment struct {
	ID                string
	OrganizationID    string
	ServiceID         string
	EmployeeID        string
	ClientName        string
	ClientEmail       string
	ClientPhone       string
	StartTime         time.Time
	EndTime           time.Time
	Status            string
	SeriesID          string
	OccurrenceNumber  int
	CancellationToken string
	CancelledAt       *time.Time
	CancelReason      string
	CreatedAt         time.Time
}

// Blocking reports whether the appointment occupies its time range.
// Cancelled appointments never count against availability.
func (a Appointment) Blocking() bool {
	switch a.Status {
	case StatusCancelled, StatusCancelledByClient:
		return false
	}
	return true
}
