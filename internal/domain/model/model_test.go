package model_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/okian/rollcall/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestEmployeeMatchable(t *testing.T) {
	convey.Convey("Given employees with and without reference embeddings", t, func() {
		var nilEmployee *model.Employee
		empty := &model.Employee{ID: "e-1"}
		enrolled := &model.Employee{ID: "e-2", Embeddings: []model.Embedding{{0.1, 0.2}}}

		convey.Convey("Then only employees with embeddings are matchable", func() {
			convey.So(nilEmployee.Matchable(), convey.ShouldBeFalse)
			convey.So(empty.Matchable(), convey.ShouldBeFalse)
			convey.So(enrolled.Matchable(), convey.ShouldBeTrue)
		})
	})
}

func TestUnknownMatchResult(t *testing.T) {
	convey.Convey("Given an unknown match", t, func() {
		res := model.Unknown(0.9)

		convey.Convey("Then it carries no label", func() {
			convey.So(res.Known, convey.ShouldBeFalse)
			convey.So(res.EmployeeID, convey.ShouldEqual, model.EmployeeID(""))
			convey.So(res.Distance, convey.ShouldEqual, 0.9)
		})
	})
}

func TestFacing(t *testing.T) {
	convey.Convey("Given camera facings", t, func() {
		convey.So(model.FacingFront.Valid(), convey.ShouldBeTrue)
		convey.So(model.FacingBack.Valid(), convey.ShouldBeTrue)
		convey.So(model.Facing("side").Valid(), convey.ShouldBeFalse)
	})
}

func TestErrorKinds(t *testing.T) {
	convey.Convey("Given a validation error", t, func() {
		err := fmt.Errorf("commit: %w", model.NewValidationError("name", "must not be empty"))

		convey.Convey("Then it matches ErrValidation and exposes the field", func() {
			convey.So(errors.Is(err, model.ErrValidation), convey.ShouldBeTrue)
			var verr *model.ValidationError
			convey.So(errors.As(err, &verr), convey.ShouldBeTrue)
			convey.So(verr.Field, convey.ShouldEqual, "name")
			convey.So(err.Error(), convey.ShouldContainSubstring, "invalid name")
		})
	})

	convey.Convey("Given a wrapped storage error", t, func() {
		cause := errors.New("disk I/O error")
		err := model.StorageError("insert attendance", cause)

		convey.Convey("Then both the kind and the cause are visible", func() {
			convey.So(errors.Is(err, model.ErrStorage), convey.ShouldBeTrue)
			convey.So(errors.Is(err, cause), convey.ShouldBeTrue)
			convey.So(errors.Is(err, model.ErrDuplicateSuppressed), convey.ShouldBeFalse)
		})

		convey.Convey("And a nil cause stays nil", func() {
			convey.So(model.StorageError("noop", nil), convey.ShouldBeNil)
		})
	})
}

func TestStatusMessage(t *testing.T) {
	convey.Convey("Given statuses", t, func() {
		convey.So(model.Status{Kind: model.StatusRecorded}.Message(), convey.ShouldEqual, "")
		convey.So(model.Status{Kind: model.StatusError, Err: model.ErrDevice}.Message(), convey.ShouldEqual, "device unavailable")
	})
}
