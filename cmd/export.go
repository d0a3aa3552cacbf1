package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/rollcall/internal/domain/model"
	"github.com/okian/rollcall/internal/export"
)

const dateLayout = "2006-01-02"

type exportOptions struct {
	company  string
	employee string
	from     string
	to       string
	format   string
	output   string
	timezone string
	limit    int
}

func newExportCmd(root *rootOptions) *cobra.Command {
	o := &exportOptions{}
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export attendance records",
		Long: `Export attendance records as a table or CSV. --from is inclusive and
--to is exclusive; both accept RFC 3339 timestamps or YYYY-MM-DD dates.

Examples:
  # Today's attendance as a table
  rollcall export --company c1 --from 2024-05-01 --to 2024-05-02

  # Everything for one employee as CSV
  rollcall export --company c1 --employee e1 --format csv --output ana.csv`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd, root)
		},
	}
	cmd.Flags().StringVar(&o.company, "company", "", "company id")
	cmd.Flags().StringVar(&o.employee, "employee", "", "employee id")
	cmd.Flags().StringVar(&o.from, "from", "", "inclusive lower bound")
	cmd.Flags().StringVar(&o.to, "to", "", "exclusive upper bound")
	cmd.Flags().StringVar(&o.format, "format", string(export.FormatTable), "table or csv")
	cmd.Flags().StringVarP(&o.output, "output", "o", "", "write to this file instead of stdout")
	cmd.Flags().StringVar(&o.timezone, "tz", "Local", "timezone for timestamps and dates")
	cmd.Flags().IntVar(&o.limit, "limit", 0, "maximum records (0 = all)")
	return cmd
}

func (o *exportOptions) filter(loc *time.Location) (model.AttendanceFilter, error) {
	f := model.AttendanceFilter{
		CompanyID:  model.CompanyID(o.company),
		EmployeeID: model.EmployeeID(o.employee),
		Limit:      o.limit,
	}
	var err error
	if f.From, err = parseTime(o.from, loc); err != nil {
		return f, fmt.Errorf("--from: %w", err)
	}
	if f.To, err = parseTime(o.to, loc); err != nil {
		return f, fmt.Errorf("--to: %w", err)
	}
	return f, nil
}

func (o *exportOptions) run(cmd *cobra.Command, root *rootOptions) error {
	format, err := export.ParseFormat(o.format)
	if err != nil {
		return err
	}
	loc, err := time.LoadLocation(o.timezone)
	if err != nil {
		return fmt.Errorf("--tz: %w", err)
	}
	filter, err := o.filter(loc)
	if err != nil {
		return err
	}

	svc, err := root.openService(cmd.Context())
	if err != nil {
		return err
	}
	defer svc.Stop()

	rows, err := svc.AttendanceRows(cmd.Context(), filter)
	if err != nil {
		return err
	}

	var w io.Writer = cmd.OutOrStdout()
	if o.output != "" {
		f, err := os.Create(o.output)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		w = f
	}
	return export.Write(w, format, rows, loc)
}

// parseTime accepts RFC 3339 or a bare date in loc. Empty means unbounded.
func parseTime(s string, loc *time.Location) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation(dateLayout, s, loc)
}
