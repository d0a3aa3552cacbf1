package poller_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/rollcall/internal/adapters/repository"
	"github.com/okian/rollcall/internal/domain/cooldown"
	"github.com/okian/rollcall/internal/domain/model"
	"github.com/okian/rollcall/internal/domain/poller"
	"github.com/okian/rollcall/internal/domain/roster"
	"github.com/okian/rollcall/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

// fakeVideo serves a fixed frame and remembers whether it was closed.
type fakeVideo struct {
	facing model.Facing
	closed atomic.Bool
	err    error
}

func (v *fakeVideo) CurrentFrame(context.Context) (model.Frame, error) {
	if v.err != nil {
		return model.Frame{}, v.err
	}
	return model.Frame{Data: []byte{1}, ContentType: "image/jpeg"}, nil
}

func (v *fakeVideo) Close() error {
	v.closed.Store(true)
	return nil
}

// fakeSource logs open and close events in order.
type fakeSource struct {
	mu       sync.Mutex
	events   []string
	opened   []*fakeVideo
	openErr  error
	frameErr error
}

func (s *fakeSource) Open(_ context.Context, f model.Facing) (model.VideoHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return nil, s.openErr
	}
	// record the close of every earlier handle that is already closed
	for _, v := range s.opened {
		if v.closed.Load() {
			s.events = append(s.events, "closed:"+string(v.facing))
		}
	}
	s.events = append(s.events, "open:"+string(f))
	v := &fakeVideo{facing: f, err: s.frameErr}
	s.opened = append(s.opened, v)
	return v, nil
}

func (s *fakeSource) handles() []*fakeVideo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*fakeVideo(nil), s.opened...)
}

// fakeExtractor returns a fixed embedding, an error or blocks. delay
// slows every call; maxInFlight tracks overlapping calls.
type fakeExtractor struct {
	emb   model.Embedding
	err   error
	block bool
	delay time.Duration
	calls atomic.Int32

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (e *fakeExtractor) Extract(ctx context.Context, _ model.Frame) (model.Embedding, error) {
	e.calls.Add(1)
	n := e.inFlight.Add(1)
	defer e.inFlight.Add(-1)
	for {
		m := e.maxInFlight.Load()
		if n <= m || e.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}
	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if e.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if e.err != nil {
		return nil, e.err
	}
	return e.emb, nil
}

func (e *fakeExtractor) Dim() int { return len(e.emb) }

// countingRecorder wraps the real recorder.
type countingRecorder struct {
	inner *cooldown.Recorder
	calls atomic.Int32
}

func (r *countingRecorder) TryRecord(ctx context.Context, id model.EmployeeID, c model.CompanyID, now time.Time, conf float64) (cooldown.Result, error) {
	r.calls.Add(1)
	return r.inner.TryRecord(ctx, id, c, now, conf)
}

// collector is a Publisher that keeps every status.
type collector struct {
	mu   sync.Mutex
	seen []model.Status
}

func (c *collector) Publish(_ context.Context, s model.Status) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, s)
	return nil
}

func (c *collector) statuses() []model.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Status(nil), c.seen...)
}

func (c *collector) count(kind model.StatusKind) int {
	n := 0
	for _, s := range c.statuses() {
		if s.Kind == kind {
			n++
		}
	}
	return n
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}

type fixture struct {
	store    *repository.MemoryStore
	company  model.Company
	ana      model.Employee
	source   *fakeSource
	ext      *fakeExtractor
	recorder *countingRecorder
	pub      *collector
	ctrl     *poller.Controller
}

func newFixture(query model.Embedding, opts ...poller.Option) *fixture {
	ctx := context.Background()
	f := &fixture{store: repository.NewMemoryStore(), source: &fakeSource{}, pub: &collector{}}
	f.company, _ = f.store.InsertCompany(ctx, "Acme")
	f.ana, _ = f.store.InsertEmployee(ctx, model.EmployeeDraft{CompanyID: f.company.ID, Name: "Ana"}, []model.Embedding{{0, 0}})
	idx, _ := roster.New(f.store, 0.55)
	rec, _ := cooldown.New(f.store, 20*time.Minute)
	f.recorder = &countingRecorder{inner: rec}
	f.ext = &fakeExtractor{emb: query}
	base := []poller.Option{
		poller.WithInterval(5 * time.Millisecond),
		poller.WithExtractTimeout(50 * time.Millisecond),
		poller.WithPublisher(f.pub),
	}
	f.ctrl, _ = poller.NewController(f.source, f.ext, idx, f.recorder, append(base, opts...)...)
	return f
}

func TestControllerStart(t *testing.T) {
	Convey("Given a controller", t, func() {
		f := newFixture(model.Embedding{0.3, 0})
		ctx := context.Background()

		Convey("When starting without a company", func() {
			_, err := f.ctrl.Start(ctx, "")

			Convey("Then it fails validation", func() {
				So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
			})
		})

		Convey("When the camera cannot be opened", func() {
			f.source.openErr = errors.New("no such device")
			_, err := f.ctrl.Start(ctx, f.company.ID)

			Convey("Then Start fails with ErrDevice and nothing runs", func() {
				So(errors.Is(err, model.ErrDevice), ShouldBeTrue)
				So(f.ctrl.Active(), ShouldBeNil)
			})
		})

		Convey("When a second loop is started", func() {
			first, err := f.ctrl.Start(ctx, f.company.ID)
			So(err, ShouldBeNil)
			second, err := f.ctrl.Start(ctx, f.company.ID)
			So(err, ShouldBeNil)
			defer second.Stop()

			Convey("Then the first loop has exited and released its camera", func() {
				select {
				case <-first.Done():
				default:
					So("first loop still running", ShouldBeEmpty)
				}
				So(f.source.handles()[0].closed.Load(), ShouldBeTrue)
				So(f.ctrl.Active(), ShouldEqual, second)
			})
		})

		Convey("When the caller's context is cancelled after Start", func() {
			cctx, cancel := context.WithCancel(ctx)
			h, err := f.ctrl.Start(cctx, f.company.ID)
			So(err, ShouldBeNil)
			cancel()
			defer h.Stop()

			Convey("Then the loop keeps running", func() {
				So(eventually(func() bool { return f.ext.calls.Load() >= 2 }), ShouldBeTrue)
				select {
				case <-h.Done():
					So("loop exited", ShouldBeEmpty)
				default:
				}
			})
		})
	})
}

func TestLoopOutcomes(t *testing.T) {
	Convey("Given Ana enrolled at the origin", t, func() {
		ctx := context.Background()

		Convey("When the camera sees Ana at distance 0.3", func() {
			f := newFixture(model.Embedding{0.3, 0})
			h, err := f.ctrl.Start(ctx, f.company.ID)
			So(err, ShouldBeNil)

			ok := eventually(func() bool { return f.pub.count(model.StatusSuppressed) >= 2 })
			h.Stop()

			Convey("Then she is recorded once and later ticks are suppressed", func() {
				So(ok, ShouldBeTrue)
				So(f.pub.count(model.StatusRecorded), ShouldEqual, 1)
				first := f.pub.statuses()[0]
				So(first.Kind, ShouldEqual, model.StatusRecorded)
				So(first.EmployeeID, ShouldEqual, f.ana.ID)
				So(first.Distance, ShouldAlmostEqual, 0.3, 1e-6)
				So(first.Record, ShouldNotBeNil)
				all, err := f.store.ListAttendance(ctx, model.AttendanceFilter{EmployeeID: f.ana.ID})
				So(err, ShouldBeNil)
				So(len(all), ShouldEqual, 1)
			})
		})

		Convey("When the camera sees a stranger at distance 0.9", func() {
			f := newFixture(model.Embedding{0.9, 0})
			h, err := f.ctrl.Start(ctx, f.company.ID)
			So(err, ShouldBeNil)
			ok := eventually(func() bool { return f.pub.count(model.StatusUnknown) >= 3 })
			h.Stop()

			Convey("Then the face is Unknown and no write is attempted", func() {
				So(ok, ShouldBeTrue)
				So(f.recorder.calls.Load(), ShouldEqual, 0)
				s := f.pub.statuses()[0]
				So(s.EmployeeID, ShouldEqual, model.EmployeeID(""))
				So(s.Distance, ShouldAlmostEqual, 0.9, 1e-6)
			})
		})

		Convey("When no face is in frame", func() {
			f := newFixture(nil)
			f.ext.err = model.ErrNoFaceDetected
			h, err := f.ctrl.Start(ctx, f.company.ID)
			So(err, ShouldBeNil)
			ok := eventually(func() bool { return f.pub.count(model.StatusNoFace) >= 2 })
			h.Stop()

			Convey("Then NoFace is published", func() {
				So(ok, ShouldBeTrue)
				So(f.recorder.calls.Load(), ShouldEqual, 0)
			})
		})

		Convey("When extraction exceeds the timeout", func() {
			f := newFixture(model.Embedding{0.3, 0}, poller.WithExtractTimeout(5*time.Millisecond))
			f.ext.block = true
			h, err := f.ctrl.Start(ctx, f.company.ID)
			So(err, ShouldBeNil)
			ok := eventually(func() bool { return f.pub.count(model.StatusNoFace) >= 1 })
			h.Stop()

			Convey("Then the tick counts as no face", func() {
				So(ok, ShouldBeTrue)
				So(f.pub.count(model.StatusError), ShouldEqual, 0)
			})
		})

		Convey("When frames fail mid-run", func() {
			f := newFixture(model.Embedding{0.3, 0})
			f.source.frameErr = errors.New("stream reset")
			h, err := f.ctrl.Start(ctx, f.company.ID)
			So(err, ShouldBeNil)
			ok := eventually(func() bool { return f.pub.count(model.StatusError) >= 3 })
			h.Stop()

			Convey("Then errors are published and the loop keeps ticking", func() {
				So(ok, ShouldBeTrue)
				s := f.pub.statuses()[0]
				So(s.Err, ShouldNotBeNil)
				So(s.Message(), ShouldContainSubstring, "stream reset")
			})
		})

		Convey("When the query has the wrong dimension", func() {
			f := newFixture(model.Embedding{0.3, 0, 0})
			h, err := f.ctrl.Start(ctx, f.company.ID)
			So(err, ShouldBeNil)
			ok := eventually(func() bool { return f.pub.count(model.StatusError) >= 1 })
			h.Stop()

			Convey("Then the tick reports an error", func() {
				So(ok, ShouldBeTrue)
				So(f.recorder.calls.Load(), ShouldEqual, 0)
			})
		})
	})
}

func TestStop(t *testing.T) {
	Convey("Given a running loop", t, func() {
		f := newFixture(model.Embedding{0.9, 0})
		h, err := f.ctrl.Start(context.Background(), f.company.ID)
		So(err, ShouldBeNil)
		So(eventually(func() bool { return f.ext.calls.Load() >= 2 }), ShouldBeTrue)

		Convey("When Stop is called concurrently and repeatedly", func() {
			var wg sync.WaitGroup
			for range 5 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					h.Stop()
				}()
			}
			wg.Wait()
			h.Stop()
			f.ctrl.Stop()

			Convey("Then no tick fires afterwards and the camera is closed", func() {
				calls := f.ext.calls.Load()
				published := len(f.pub.statuses())
				time.Sleep(30 * time.Millisecond)
				So(f.ext.calls.Load(), ShouldEqual, calls)
				So(len(f.pub.statuses()), ShouldEqual, published)
				So(f.source.handles()[0].closed.Load(), ShouldBeTrue)
				So(f.ctrl.Active(), ShouldBeNil)
			})
		})

		Convey("When stopped through the controller", func() {
			f.ctrl.Stop()

			Convey("Then the handle is done", func() {
				select {
				case <-h.Done():
				default:
					So("loop still running", ShouldBeEmpty)
				}
			})
		})
	})

	Convey("Given no loop", t, func() {
		var h *poller.Handle
		f := newFixture(model.Embedding{0, 0})

		Convey("Then Stop is a no-op", func() {
			So(func() { h.Stop() }, ShouldNotPanic)
			So(func() { f.ctrl.Stop() }, ShouldNotPanic)
		})
	})
}

func TestSwitchFacing(t *testing.T) {
	Convey("Given a loop on the front camera", t, func() {
		ctx := context.Background()
		f := newFixture(model.Embedding{0.9, 0})
		h, err := f.ctrl.Start(ctx, f.company.ID)
		So(err, ShouldBeNil)
		defer h.Stop()
		So(h.Facing(), ShouldEqual, model.FacingFront)
		So(h.CompanyID(), ShouldEqual, f.company.ID)

		Convey("When switching to the back camera", func() {
			err := h.SwitchFacing(ctx, model.FacingBack)

			Convey("Then the front camera is closed before the back one opens", func() {
				So(err, ShouldBeNil)
				So(h.Facing(), ShouldEqual, model.FacingBack)
				f.source.mu.Lock()
				events := append([]string(nil), f.source.events...)
				f.source.mu.Unlock()
				So(events, ShouldResemble, []string{"open:front", "closed:front", "open:back"})
			})
		})

		Convey("When the loop is restarted after a switch", func() {
			So(h.SwitchFacing(ctx, model.FacingBack), ShouldBeNil)
			h2, err := f.ctrl.Start(ctx, f.company.ID)
			So(err, ShouldBeNil)
			defer h2.Stop()

			Convey("Then the new loop keeps the back camera", func() {
				So(h2.Facing(), ShouldEqual, model.FacingBack)
				So(f.ctrl.Facing(), ShouldEqual, model.FacingBack)
				f.source.mu.Lock()
				events := append([]string(nil), f.source.events...)
				f.source.mu.Unlock()
				So(events[len(events)-1], ShouldEqual, "open:back")
			})
		})

		Convey("When switching to an invalid facing", func() {
			err := h.SwitchFacing(ctx, model.Facing("side"))

			Convey("Then it is rejected", func() {
				So(errors.Is(err, poller.ErrInvalidFacing), ShouldBeTrue)
			})
		})

		Convey("When the new camera cannot be opened", func() {
			f.source.mu.Lock()
			f.source.openErr = errors.New("busy")
			f.source.mu.Unlock()
			err := h.SwitchFacing(ctx, model.FacingBack)

			Convey("Then the switch fails with ErrDevice and ticks report errors", func() {
				So(errors.Is(err, model.ErrDevice), ShouldBeTrue)
				So(f.ctrl.Facing(), ShouldEqual, model.FacingFront)
				So(eventually(func() bool { return f.pub.count(model.StatusError) >= 1 }), ShouldBeTrue)
			})
		})

		Convey("When switching after Stop", func() {
			h.Stop()
			err := h.SwitchFacing(ctx, model.FacingBack)

			Convey("Then ErrStopped is returned", func() {
				So(errors.Is(err, poller.ErrStopped), ShouldBeTrue)
			})
		})
	})
}

func TestSlowTickDefersNext(t *testing.T) {
	Convey("Given extraction that takes three intervals", t, func() {
		ctx := context.Background()
		f := newFixture(model.Embedding{0.3, 0},
			poller.WithInterval(10*time.Millisecond),
			poller.WithExtractTimeout(time.Second))
		f.ext.delay = 30 * time.Millisecond

		Convey("When the loop runs for a while", func() {
			h, err := f.ctrl.Start(ctx, f.company.ID)
			So(err, ShouldBeNil)
			time.Sleep(200 * time.Millisecond)
			h.Stop()

			Convey("Then ticks never overlap and are paced by the slow extraction", func() {
				calls := f.ext.calls.Load()
				So(f.ext.maxInFlight.Load(), ShouldEqual, 1)
				So(calls, ShouldBeGreaterThanOrEqualTo, 2)
				// 200ms / 30ms per tick, plus slack for scheduling
				So(calls, ShouldBeLessThanOrEqualTo, 10)
				So(len(f.pub.statuses()), ShouldBeLessThanOrEqualTo, int(calls))
			})
		})
	})
}
