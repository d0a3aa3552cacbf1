package matcher_test

import (
	"errors"
	"math"
	"testing"

	"github.com/okian/rollcall/internal/domain/matcher"
	"github.com/okian/rollcall/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestBuild(t *testing.T) {
	Convey("Given a roster", t, func() {
		roster := map[model.EmployeeID][]model.Embedding{
			"ana":   {{0, 0, 0}, {0.1, 0, 0}},
			"bruno": {{1, 1, 1}},
			"ghost": nil,
		}

		Convey("When building with a positive threshold", func() {
			m, err := matcher.Build(roster, 0.55)

			Convey("Then employees without embeddings are skipped", func() {
				So(err, ShouldBeNil)
				So(m.Employees(), ShouldEqual, 2)
				So(m.References(), ShouldEqual, 3)
				So(m.Dim(), ShouldEqual, 3)
				So(m.Threshold(), ShouldEqual, 0.55)
			})
		})

		Convey("When building with a non-positive threshold", func() {
			_, err := matcher.Build(roster, 0)

			Convey("Then it should be rejected", func() {
				So(errors.Is(err, matcher.ErrInvalidThreshold), ShouldBeTrue)
			})
		})

		Convey("When the roster mixes dimensionalities", func() {
			roster["carla"] = []model.Embedding{{1, 2}}
			_, err := matcher.Build(roster, 0.5)

			Convey("Then a DimensionMismatchError is returned", func() {
				var dm *matcher.DimensionMismatchError
				So(errors.As(err, &dm), ShouldBeTrue)
				So(errors.Is(err, matcher.ErrDimensionMismatch), ShouldBeTrue)
			})
		})
	})
}

func TestMatch(t *testing.T) {
	Convey("Given a matcher over two employees", t, func() {
		m, err := matcher.Build(map[model.EmployeeID][]model.Embedding{
			"ana":   {{0, 0}, {3, 4}},
			"bruno": {{10, 0}},
		}, 0.55)
		So(err, ShouldBeNil)

		Convey("When the query is within threshold of ana", func() {
			res, err := m.Match(model.Embedding{0.3, 0})

			Convey("Then ana is returned with the distance", func() {
				So(err, ShouldBeNil)
				So(res.Known, ShouldBeTrue)
				So(res.EmployeeID, ShouldEqual, model.EmployeeID("ana"))
				So(res.Distance, ShouldAlmostEqual, 0.3, 1e-6)
			})
		})

		Convey("When the closest reference is any of the employee's embeddings", func() {
			res, err := m.Match(model.Embedding{3, 4.2})

			Convey("Then the global minimum is used", func() {
				So(err, ShouldBeNil)
				So(res.Known, ShouldBeTrue)
				So(res.EmployeeID, ShouldEqual, model.EmployeeID("ana"))
				So(res.Distance, ShouldAlmostEqual, 0.2, 1e-6)
			})
		})

		Convey("When the distance is far above the threshold", func() {
			res, err := m.Match(model.Embedding{0.9, 0})

			Convey("Then Unknown is returned", func() {
				So(err, ShouldBeNil)
				So(res.Known, ShouldBeFalse)
				So(res.EmployeeID, ShouldEqual, model.EmployeeID(""))
				So(res.Distance, ShouldAlmostEqual, 0.9, 1e-6)
			})
		})

		Convey("When the distance equals the threshold exactly", func() {
			exact, err := matcher.Build(map[model.EmployeeID][]model.Embedding{
				"ana": {{0, 0}},
			}, 0.5)
			So(err, ShouldBeNil)
			res, err := exact.Match(model.Embedding{0.5, 0})

			Convey("Then it is not accepted", func() {
				So(err, ShouldBeNil)
				So(res.Known, ShouldBeFalse)
			})
		})

		Convey("When the query has the wrong dimension", func() {
			_, err := m.Match(model.Embedding{1, 2, 3})

			Convey("Then a DimensionMismatchError is returned", func() {
				var dm *matcher.DimensionMismatchError
				So(errors.As(err, &dm), ShouldBeTrue)
				So(dm.Expected, ShouldEqual, 2)
				So(dm.Actual, ShouldEqual, 3)
			})
		})
	})

	Convey("Given two employees at the same distance", t, func() {
		m, err := matcher.Build(map[model.EmployeeID][]model.Embedding{
			"zed": {{1, 0}},
			"amy": {{-1, 0}},
		}, 2)
		So(err, ShouldBeNil)

		Convey("When matching repeatedly", func() {
			Convey("Then the lowest id always wins", func() {
				for range 20 {
					res, err := m.Match(model.Embedding{0, 0})
					So(err, ShouldBeNil)
					So(res.EmployeeID, ShouldEqual, model.EmployeeID("amy"))
				}
			})
		})
	})

	Convey("Given an empty matcher", t, func() {
		m, err := matcher.Build(nil, 0.55)
		So(err, ShouldBeNil)

		Convey("Then any query is Unknown", func() {
			res, err := m.Match(model.Embedding{1, 2, 3})
			So(err, ShouldBeNil)
			So(res.Known, ShouldBeFalse)
			So(math.IsInf(res.Distance, 1), ShouldBeTrue)
		})
	})

	Convey("Given the roster is mutated after build", t, func() {
		emb := model.Embedding{0, 0}
		m, err := matcher.BuildFromEmployees([]model.Employee{{ID: "ana", Embeddings: []model.Embedding{emb}}}, 0.55)
		So(err, ShouldBeNil)
		emb[0] = 100

		Convey("Then the matcher is unaffected", func() {
			res, err := m.Match(model.Embedding{0, 0})
			So(err, ShouldBeNil)
			So(res.Known, ShouldBeTrue)
		})
	})
}

func TestEuclidean(t *testing.T) {
	Convey("Euclidean distance over odd lengths", t, func() {
		So(matcher.Euclidean([]float32{0, 0, 0, 0, 0}, []float32{1, 1, 1, 1, 0}), ShouldAlmostEqual, 2, 1e-9)
		So(matcher.Euclidean([]float32{3}, []float32{0}), ShouldAlmostEqual, 3, 1e-9)
	})
}
