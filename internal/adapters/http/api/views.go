package api

import (
	"math"
	"time"

	service "github.com/okian/rollcall/internal/app"
	"github.com/okian/rollcall/internal/domain/model"
)

type companyView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func toCompanyView(c model.Company) companyView {
	return companyView{ID: string(c.ID), Name: c.Name, CreatedAt: c.CreatedAt}
}

type employeeView struct {
	ID         string    `json:"id"`
	CompanyID  string    `json:"company_id"`
	Name       string    `json:"name"`
	Role       string    `json:"role,omitempty"`
	References int       `json:"references"`
	CreatedAt  time.Time `json:"created_at"`
}

func toEmployeeView(e model.Employee) employeeView { //nolint:gocritic // hugeParam: read-only conversion
	return employeeView{
		ID:         string(e.ID),
		CompanyID:  string(e.CompanyID),
		Name:       e.Name,
		Role:       e.Role,
		References: len(e.Embeddings),
		CreatedAt:  e.CreatedAt,
	}
}

type enrollView struct {
	Employee employeeView `json:"employee"`
	Captured int          `json:"captured"`
	Skipped  int          `json:"skipped"`
}

func toEnrollView(r service.EnrollResult) enrollView { //nolint:gocritic // hugeParam: read-only conversion
	return enrollView{Employee: toEmployeeView(r.Employee), Captured: r.Captured, Skipped: r.Skipped}
}

type attendanceView struct {
	ID         string    `json:"id"`
	CompanyID  string    `json:"company_id"`
	EmployeeID string    `json:"employee_id"`
	CapturedAt time.Time `json:"captured_at"`
	Confidence float64   `json:"confidence"`
}

func toAttendanceView(r model.AttendanceRecord) attendanceView {
	return attendanceView{
		ID:         string(r.ID),
		CompanyID:  string(r.CompanyID),
		EmployeeID: string(r.EmployeeID),
		CapturedAt: r.CapturedAt,
		Confidence: r.Confidence,
	}
}

type statusView struct {
	Kind       string          `json:"kind"`
	CompanyID  string          `json:"company_id"`
	Facing     string          `json:"facing,omitempty"`
	EmployeeID string          `json:"employee_id,omitempty"`
	Distance   *float64        `json:"distance,omitempty"`
	Record     *attendanceView `json:"record,omitempty"`
	Error      string          `json:"error,omitempty"`
	At         time.Time       `json:"at"`
}

// toStatusView drops the distance when it is not finite; an empty roster
// reports +Inf, which JSON cannot carry.
func toStatusView(s model.Status) statusView { //nolint:gocritic // hugeParam: read-only conversion
	v := statusView{
		Kind:       string(s.Kind),
		CompanyID:  string(s.CompanyID),
		Facing:     string(s.Facing),
		EmployeeID: string(s.EmployeeID),
		Error:      s.Message(),
		At:         s.At,
	}
	if s.Kind == model.StatusUnknown || s.Kind == model.StatusRecorded || s.Kind == model.StatusSuppressed {
		if !math.IsInf(s.Distance, 0) && !math.IsNaN(s.Distance) {
			d := s.Distance
			v.Distance = &d
		}
	}
	if s.Record != nil {
		rec := toAttendanceView(*s.Record)
		v.Record = &rec
	}
	return v
}

type loopView struct {
	Running         bool         `json:"running"`
	CompanyID       string       `json:"company_id,omitempty"`
	Facing          string       `json:"facing,omitempty"`
	IntervalMS      int64        `json:"interval_ms"`
	CooldownMinutes float64      `json:"cooldown_minutes"`
	Threshold       float64      `json:"match_threshold"`
	Ticks           int64        `json:"ticks"`
	LastError       string       `json:"last_error,omitempty"`
	Recent          []statusView `json:"recent"`
}

func toLoopView(st service.LoopState) loopView { //nolint:gocritic // hugeParam: read-only conversion
	v := loopView{
		Running:         st.Running,
		CompanyID:       string(st.CompanyID),
		Facing:          string(st.Facing),
		IntervalMS:      st.Interval.Milliseconds(),
		CooldownMinutes: st.Cooldown.Minutes(),
		Threshold:       st.Threshold,
		Ticks:           st.Ticks,
		Recent:          make([]statusView, 0, len(st.Recent)),
	}
	if st.LastError != nil {
		v.LastError = st.LastError.Error()
	}
	for _, s := range st.Recent {
		v.Recent = append(v.Recent, toStatusView(s))
	}
	return v
}
