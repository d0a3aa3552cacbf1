// Package export renders attendance records as text tables or CSV.
package export

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/okian/rollcall/internal/domain/model"
)

// Format selects the output encoding.
type Format string

// Supported formats.
const (
	FormatTable Format = "table"
	FormatCSV   Format = "csv"
)

// ParseFormat maps a flag or query value to a Format.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatTable:
		return FormatTable, nil
	case FormatCSV:
		return FormatCSV, nil
	}
	return "", model.NewValidationError("format", fmt.Sprintf("unsupported format %q", s))
}

// Row is one attendance record joined with the employee name.
type Row struct {
	RecordID   model.RecordID
	CompanyID  model.CompanyID
	EmployeeID model.EmployeeID
	Name       string
	CapturedAt time.Time
	Confidence float64
}

// Rows joins records with names. Records whose employee is missing from
// names keep an empty name.
func Rows(records []model.AttendanceRecord, names map[model.EmployeeID]string) []Row {
	out := make([]Row, 0, len(records))
	for _, r := range records {
		out = append(out, Row{
			RecordID:   r.ID,
			CompanyID:  r.CompanyID,
			EmployeeID: r.EmployeeID,
			Name:       names[r.EmployeeID],
			CapturedAt: r.CapturedAt,
			Confidence: r.Confidence,
		})
	}
	return out
}

// NamesOf indexes employee names by id.
func NamesOf(employees []model.Employee) map[model.EmployeeID]string {
	names := make(map[model.EmployeeID]string, len(employees))
	for _, e := range employees {
		names[e.ID] = e.Name
	}
	return names
}

var attendanceHeader = table.Row{"Captured At", "Employee", "Employee ID", "Distance", "Record ID"}

// Write renders rows to w in the requested format. Times are written in loc
// (UTC when nil).
func Write(w io.Writer, format Format, rows []Row, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}
	tw := table.NewWriter()
	tw.AppendHeader(attendanceHeader)
	for _, r := range rows {
		tw.AppendRow(table.Row{
			r.CapturedAt.In(loc).Format(time.RFC3339),
			r.Name,
			string(r.EmployeeID),
			strconv.FormatFloat(r.Confidence, 'f', 4, 64),
			string(r.RecordID),
		})
	}

	var out string
	switch format {
	case FormatCSV:
		out = tw.RenderCSV()
	case FormatTable, "":
		tw.SetStyle(table.StyleRounded)
		tw.SetColumnConfigs([]table.ColumnConfig{
			{Number: 4, Align: text.AlignRight, AlignHeader: text.AlignLeft},
		})
		tw.AppendFooter(table.Row{"", "", "Total", len(rows), ""})
		out = tw.Render()
	default:
		return model.NewValidationError("format", fmt.Sprintf("unsupported format %q", format))
	}
	_, err := io.WriteString(w, out+"\n")
	return err
}

// Companies renders a company listing as a table.
func Companies(w io.Writer, companies []model.Company) error {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"ID", "Name", "Created"})
	for _, c := range companies {
		tw.AppendRow(table.Row{string(c.ID), c.Name, c.CreatedAt.UTC().Format(time.RFC3339)})
	}
	_, err := io.WriteString(w, tw.Render()+"\n")
	return err
}

// Employees renders a roster listing as a table.
func Employees(w io.Writer, employees []model.Employee) error {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"ID", "Name", "Role", "References"})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})
	for _, e := range employees {
		tw.AppendRow(table.Row{string(e.ID), e.Name, e.Role, len(e.Embeddings)})
	}
	_, err := io.WriteString(w, tw.Render()+"\n")
	return err
}
