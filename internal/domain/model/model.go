// Package model contains domain models passed between layers.
package model

import (
	"time"
)

// CompanyID identifies a company (namespace for employees and attendance).
type CompanyID string

// EmployeeID identifies an enrolled employee. It is the matcher label.
type EmployeeID string

// RecordID identifies an attendance record.
type RecordID string

// Company groups employees and their attendance.
type Company struct {
	ID        CompanyID
	Name      string
	CreatedAt time.Time
}

// Embedding is a fixed-length face descriptor produced by an Extractor.
// Embeddings are never mutated after capture.
type Embedding []float32

// Dim returns the dimensionality of the embedding.
func (e Embedding) Dim() int { return len(e) }

// Employee is an enrolled identity with its reference embeddings,
// one per enrollment capture, in capture order.
type Employee struct {
	ID         EmployeeID
	CompanyID  CompanyID
	Name       string
	Role       string
	Embeddings []Embedding
	CreatedAt  time.Time
}

// Matchable reports whether the employee can take part in matching.
func (e *Employee) Matchable() bool {
	return e != nil && len(e.Embeddings) > 0
}

// EmployeeDraft carries the fields needed to create an Employee.
type EmployeeDraft struct {
	CompanyID CompanyID
	Name      string
	Role      string
}

// AttendanceRecord is an immutable entry of the append-only attendance log.
type AttendanceRecord struct {
	ID         RecordID
	CompanyID  CompanyID
	EmployeeID EmployeeID
	CapturedAt time.Time // capture instant
	Confidence float64   // match distance; lower is more confident
}

// AttendanceFilter narrows attendance scans. Zero values mean "no bound".
type AttendanceFilter struct {
	CompanyID  CompanyID
	EmployeeID EmployeeID
	From       time.Time
	To         time.Time
	Limit      int
}

// MatchResult is the transient outcome of matching one query embedding.
// Known is false for an unknown face; EmployeeID is empty in that case.
type MatchResult struct {
	Known      bool
	EmployeeID EmployeeID
	Distance   float64
}

// Unknown is the MatchResult for a face that matched nobody.
func Unknown(distance float64) MatchResult {
	return MatchResult{Distance: distance}
}
