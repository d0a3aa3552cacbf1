package service_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	service "github.com/okian/rollcall/internal/app"
	"github.com/okian/rollcall/internal/adapters/embedder"
	"github.com/okian/rollcall/internal/adapters/repository"
	"github.com/okian/rollcall/internal/config"
	"github.com/okian/rollcall/internal/domain/model"
	"github.com/okian/rollcall/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	// Initialize logging for tests
	err := logger.Init()
	if err != nil {
		panic(err)
	}
}

// staticSource serves the same frame from every camera.
type staticSource struct {
	mu      sync.Mutex
	frame   model.Frame
	openErr error
	opened  []model.Facing
}

func (s *staticSource) Open(_ context.Context, facing model.Facing) (model.VideoHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return nil, s.openErr
	}
	s.opened = append(s.opened, facing)
	return &staticVideo{src: s}, nil
}

func (s *staticSource) setFrame(f model.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame = f
}

type staticVideo struct{ src *staticSource }

func (v *staticVideo) CurrentFrame(context.Context) (model.Frame, error) {
	v.src.mu.Lock()
	defer v.src.mu.Unlock()
	return v.src.frame, nil
}

func (v *staticVideo) Close() error { return nil }

func testConfig() *config.Config {
	cfg := config.New(context.Background())
	cfg.StoreDriver = config.DriverMemory
	cfg.EmbedderKind = config.EmbedderSimulated
	cfg.EmbedderDim = 32
	cfg.PollIntervalMS = 10
	cfg.ExtractTimeoutMS = 500
	return cfg
}

func newService(src *staticSource, opts ...service.Option) *service.Service {
	base := []service.Option{
		service.WithConfig(testConfig()),
		service.WithExtractor(embedder.NewSimulatedExtractor(embedder.WithDim(32), embedder.WithLatencyRange(0, 0))),
		service.WithSource(src),
	}
	return service.New(append(base, opts...)...)
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a new service", t, func() {
		svc := newService(&staticSource{})
		defer svc.Stop()

		Convey("When it is not started", func() {
			_, err := svc.Companies(context.Background())

			Convey("Then operations fail", func() {
				So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
				So(svc.GetStats()["started"], ShouldEqual, false)
			})
		})

		Convey("When starting the service", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			err := svc.Start(ctx)

			Convey("Then it should start successfully", func() {
				So(err, ShouldBeNil)
				So(svc.Start(ctx), ShouldBeNil)
				stats := svc.GetStats()
				So(stats["started"], ShouldEqual, true)
				So(stats["loopRunning"], ShouldEqual, false)
			})

			Convey("And stopping it twice is safe", func() {
				svc.Stop()
				svc.Stop()
				So(svc.GetStats()["started"], ShouldEqual, false)
			})
		})
	})

	Convey("Given an invalid configuration", t, func() {
		cfg := testConfig()
		cfg.CooldownMinutes = 0
		svc := service.New(service.WithConfig(cfg))

		Convey("Then Start fails", func() {
			err := svc.Start(context.Background())
			So(errors.Is(err, config.ErrInvalidConfig), ShouldBeTrue)
		})
	})
}

func TestService_Enroll(t *testing.T) {
	Convey("Given a started service with a company", t, func() {
		ctx := context.Background()
		svc := newService(&staticSource{})
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()
		company, err := svc.CreateCompany(ctx, "  Acme   Clinic ")
		So(err, ShouldBeNil)
		So(company.Name, ShouldEqual, "Acme Clinic")

		Convey("When enrolling with two faces and one empty frame", func() {
			res, err := svc.Enroll(ctx,
				model.EmployeeDraft{CompanyID: company.ID, Name: "Ana", Role: "nurse"},
				[]model.Frame{{Data: []byte("ana-1")}, {}, {Data: []byte("ana-2")}})

			Convey("Then the employee has two references", func() {
				So(err, ShouldBeNil)
				So(res.Captured, ShouldEqual, 2)
				So(res.Skipped, ShouldEqual, 1)
				So(res.Employee.Embeddings, ShouldHaveLength, 2)

				employees, err := svc.Employees(ctx, company.ID)
				So(err, ShouldBeNil)
				So(employees, ShouldHaveLength, 1)
			})

			Convey("And appending adds another session", func() {
				res2, err := svc.AppendEmbeddings(ctx, company.ID, res.Employee.ID, []model.Frame{{Data: []byte("ana-3")}})
				So(err, ShouldBeNil)
				So(res2.Employee.Embeddings, ShouldHaveLength, 3)
			})
		})

		Convey("When no frame has a face", func() {
			_, err := svc.Enroll(ctx, model.EmployeeDraft{CompanyID: company.ID, Name: "Ana"}, []model.Frame{{}})

			Convey("Then nothing is written", func() {
				So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
				employees, _ := svc.Employees(ctx, company.ID)
				So(employees, ShouldBeEmpty)
			})
		})

		Convey("When the company does not exist", func() {
			_, err := svc.Enroll(ctx, model.EmployeeDraft{CompanyID: "nope", Name: "Ana"}, []model.Frame{{Data: []byte("x")}})
			So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
		})

		Convey("When appending to an unknown employee", func() {
			_, err := svc.AppendEmbeddings(ctx, company.ID, "ghost", []model.Frame{{Data: []byte("x")}})
			So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
		})

		Convey("When creating a company without a name", func() {
			_, err := svc.CreateCompany(ctx, "   ")
			So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
		})
	})
}

func TestService_Loop(t *testing.T) {
	Convey("Given Ana enrolled and in front of the camera", t, func() {
		ctx := context.Background()
		src := &staticSource{}
		store := repository.NewMemoryStore()
		svc := newService(src, service.WithStore(store))
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		company, err := svc.CreateCompany(ctx, "Acme")
		So(err, ShouldBeNil)
		res, err := svc.Enroll(ctx, model.EmployeeDraft{CompanyID: company.ID, Name: "Ana"}, []model.Frame{{Data: []byte("ana")}})
		So(err, ShouldBeNil)
		src.setFrame(model.Frame{Data: []byte("ana")})

		Convey("When the loop runs for a while", func() {
			_, err := svc.StartLoop(ctx, company.ID)
			So(err, ShouldBeNil)

			ok := waitFor(func() bool {
				st, _ := svc.LoopState(0)
				return st.Ticks >= 3
			})
			So(ok, ShouldBeTrue)

			Convey("Then exactly one attendance record is written", func() {
				records, err := svc.Attendance(ctx, model.AttendanceFilter{CompanyID: company.ID})
				So(err, ShouldBeNil)
				So(records, ShouldHaveLength, 1)
				So(records[0].EmployeeID, ShouldEqual, res.Employee.ID)

				rows, err := svc.AttendanceRows(ctx, model.AttendanceFilter{CompanyID: company.ID})
				So(err, ShouldBeNil)
				So(rows[0].Name, ShouldEqual, "Ana")
			})

			Convey("Then later ticks are suppressed", func() {
				st, err := svc.LoopState(0)
				So(err, ShouldBeNil)
				So(st.Running, ShouldBeTrue)
				So(st.CompanyID, ShouldEqual, company.ID)
				So(st.Facing, ShouldEqual, model.FacingFront)
				kinds := map[model.StatusKind]int{}
				for _, s := range st.Recent {
					kinds[s.Kind]++
				}
				So(kinds[model.StatusRecorded], ShouldEqual, 1)
				So(kinds[model.StatusSuppressed], ShouldBeGreaterThan, 0)
			})

			Convey("Then the loop can switch cameras and stop", func() {
				st, err := svc.SwitchFacing(ctx, model.FacingBack)
				So(err, ShouldBeNil)
				So(st.Facing, ShouldEqual, model.FacingBack)

				So(svc.StopLoop(ctx), ShouldBeNil)
				st, _ = svc.LoopState(0)
				So(st.Running, ShouldBeFalse)

				_, err = svc.SwitchFacing(ctx, model.FacingFront)
				So(errors.Is(err, service.ErrLoopNotRunning), ShouldBeTrue)
			})
		})

		Convey("When a stranger is in front of the camera", func() {
			src.setFrame(model.Frame{Data: []byte("stranger")})
			_, err := svc.StartLoop(ctx, company.ID)
			So(err, ShouldBeNil)
			So(waitFor(func() bool {
				st, _ := svc.LoopState(0)
				return st.Ticks >= 2
			}), ShouldBeTrue)

			Convey("Then nothing is recorded", func() {
				records, _ := svc.Attendance(ctx, model.AttendanceFilter{CompanyID: company.ID})
				So(records, ShouldBeEmpty)
				st, _ := svc.LoopState(1)
				So(st.Recent, ShouldHaveLength, 1)
				So(st.Recent[0].Kind, ShouldEqual, model.StatusUnknown)
			})
		})

		Convey("When the loop is started for an unknown company", func() {
			_, err := svc.StartLoop(ctx, "ghost")
			So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
		})

		Convey("When the attendance range is inverted", func() {
			now := time.Now()
			_, err := svc.Attendance(ctx, model.AttendanceFilter{From: now, To: now.Add(-time.Hour)})
			So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
		})
	})

	Convey("Given a camera that cannot be opened and an autostart company", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		company, err := store.InsertCompany(ctx, "Acme")
		So(err, ShouldBeNil)
		cfg := testConfig()
		cfg.CompanyID = string(company.ID)
		svc := service.New(
			service.WithConfig(cfg),
			service.WithStore(store),
			service.WithSource(&staticSource{openErr: errors.New("no camera")}),
		)
		defer svc.Stop()

		Convey("Then Start succeeds and the failure is reported", func() {
			So(svc.Start(ctx), ShouldBeNil)
			st, err := svc.LoopState(0)
			So(err, ShouldBeNil)
			So(st.Running, ShouldBeFalse)
			So(errors.Is(st.LastError, model.ErrDevice), ShouldBeTrue)
		})
	})
}

// gatedSource holds Open until release is closed.
type gatedSource struct {
	entered chan struct{}
	release chan struct{}
	video   closeTracker
}

type closeTracker struct {
	closed atomic.Bool
}

func (v *closeTracker) CurrentFrame(context.Context) (model.Frame, error) {
	return model.Frame{Data: []byte("ana")}, nil
}

func (v *closeTracker) Close() error {
	v.closed.Store(true)
	return nil
}

func (s *gatedSource) Open(context.Context, model.Facing) (model.VideoHandle, error) {
	close(s.entered)
	<-s.release
	return &s.video, nil
}

func TestService_StopDuringStartLoop(t *testing.T) {
	Convey("Given a loop start waiting on the camera", t, func() {
		ctx := context.Background()
		src := &gatedSource{entered: make(chan struct{}), release: make(chan struct{})}
		svc := service.New(
			service.WithConfig(testConfig()),
			service.WithExtractor(embedder.NewSimulatedExtractor(embedder.WithDim(32), embedder.WithLatencyRange(0, 0))),
			service.WithSource(src),
		)
		So(svc.Start(ctx), ShouldBeNil)
		company, err := svc.CreateCompany(ctx, "Acme")
		So(err, ShouldBeNil)

		started := make(chan error, 1)
		go func() {
			_, err := svc.StartLoop(ctx, company.ID)
			started <- err
		}()
		<-src.entered

		Convey("When the service is stopped meanwhile", func() {
			stopped := make(chan struct{})
			go func() {
				svc.Stop()
				close(stopped)
			}()
			time.Sleep(20 * time.Millisecond)
			close(src.release)
			<-stopped
			<-started

			Convey("Then no loop is left running on the released camera", func() {
				So(src.video.closed.Load(), ShouldBeTrue)
				_, err := svc.LoopState(0)
				So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			})
		})
	})
}

func TestHistory(t *testing.T) {
	Convey("Given a history of three", t, func() {
		h := service.NewHistory(3)
		for _, k := range []model.StatusKind{model.StatusNoFace, model.StatusUnknown, model.StatusRecorded, model.StatusSuppressed} {
			h.Add(model.Status{Kind: k})
		}

		Convey("Then it keeps the newest first", func() {
			recent := h.Recent(0)
			So(recent, ShouldHaveLength, 3)
			So(recent[0].Kind, ShouldEqual, model.StatusSuppressed)
			So(recent[2].Kind, ShouldEqual, model.StatusUnknown)
			So(h.Recent(1)[0].Kind, ShouldEqual, model.StatusSuppressed)
			So(h.Total(), ShouldEqual, 4)
		})

		Convey("Then a zero-size history only counts", func() {
			empty := service.NewHistory(0)
			empty.Add(model.Status{})
			So(empty.Recent(5), ShouldBeEmpty)
			So(empty.Total(), ShouldEqual, 1)
		})
	})
}
