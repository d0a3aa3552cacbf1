package export_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/okian/rollcall/internal/domain/model"
	"github.com/okian/rollcall/internal/export"
	. "github.com/smartystreets/goconvey/convey"
)

func TestWrite(t *testing.T) {
	Convey("Given two attendance records", t, func() {
		at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
		records := []model.AttendanceRecord{
			{ID: "r1", CompanyID: "c1", EmployeeID: "e1", CapturedAt: at, Confidence: 0.3},
			{ID: "r2", CompanyID: "c1", EmployeeID: "e2", CapturedAt: at.Add(time.Hour), Confidence: 0.41},
		}
		names := export.NamesOf([]model.Employee{{ID: "e1", Name: "Ana, Maria"}})
		rows := export.Rows(records, names)

		Convey("Then rows join names and keep unknown ids", func() {
			So(rows, ShouldHaveLength, 2)
			So(rows[0].Name, ShouldEqual, "Ana, Maria")
			So(rows[1].Name, ShouldEqual, "")
		})

		Convey("When rendered as CSV", func() {
			var buf bytes.Buffer
			So(export.Write(&buf, export.FormatCSV, rows, nil), ShouldBeNil)
			lines := strings.Split(strings.TrimSpace(buf.String()), "\n")

			Convey("Then there is a header and one line per record", func() {
				So(lines, ShouldHaveLength, 3)
				So(strings.ToUpper(lines[0]), ShouldContainSubstring, "CAPTURED AT")
				So(lines[1], ShouldContainSubstring, "2026-03-02T09:00:00Z")
				So(lines[1], ShouldContainSubstring, `"Ana, Maria"`)
				So(lines[1], ShouldContainSubstring, "0.3000")
			})
		})

		Convey("When rendered as a table", func() {
			var buf bytes.Buffer
			So(export.Write(&buf, export.FormatTable, rows, time.UTC), ShouldBeNil)

			Convey("Then it has the records and a total", func() {
				out := buf.String()
				So(out, ShouldContainSubstring, "Ana, Maria")
				So(out, ShouldContainSubstring, "0.4100")
				So(strings.ToUpper(out), ShouldContainSubstring, "TOTAL")
			})
		})

		Convey("When the format is unknown", func() {
			err := export.Write(&bytes.Buffer{}, export.Format("xml"), rows, nil)
			So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
		})
	})
}

func TestParseFormat(t *testing.T) {
	Convey("ParseFormat accepts table, csv and empty", t, func() {
		f, err := export.ParseFormat("")
		So(err, ShouldBeNil)
		So(f, ShouldEqual, export.FormatTable)
		f, err = export.ParseFormat("csv")
		So(err, ShouldBeNil)
		So(f, ShouldEqual, export.FormatCSV)
		_, err = export.ParseFormat("json")
		So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
	})
}

func TestListings(t *testing.T) {
	Convey("Company and employee listings render", t, func() {
		var buf bytes.Buffer
		So(export.Companies(&buf, []model.Company{{ID: "c1", Name: "Acme"}}), ShouldBeNil)
		So(buf.String(), ShouldContainSubstring, "Acme")

		buf.Reset()
		emp := model.Employee{ID: "e1", Name: "Ana", Role: "nurse", Embeddings: []model.Embedding{{1}, {2}}}
		So(export.Employees(&buf, []model.Employee{emp}), ShouldBeNil)
		So(buf.String(), ShouldContainSubstring, "nurse")
	})
}
