package model

import "time"

// StatusKind classifies the outcome of one polling tick.
type StatusKind string

// Tick outcomes.
const (
	StatusNoFace     StatusKind = "no_face"
	StatusUnknown    StatusKind = "unknown"
	StatusRecorded   StatusKind = "recorded"
	StatusSuppressed StatusKind = "suppressed"
	StatusError      StatusKind = "error"
)

// Status is published once per polling tick.
type Status struct {
	Kind       StatusKind
	CompanyID  CompanyID
	Facing     Facing
	EmployeeID EmployeeID // set for Recorded and Suppressed
	Distance   float64    // nearest distance when a face was found
	Record     *AttendanceRecord
	Err        error
	At         time.Time
}

// Message returns the error text, or "" when the status carries no error.
func (s Status) Message() string {
	if s.Err == nil {
		return ""
	}
	return s.Err.Error()
}
