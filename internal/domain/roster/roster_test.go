package roster_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/rollcall/internal/adapters/repository"
	"github.com/okian/rollcall/internal/domain/model"
	"github.com/okian/rollcall/internal/domain/roster"
	"github.com/okian/rollcall/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

type slowLister struct {
	repository.Store
	calls atomic.Int32
	delay time.Duration
	err   error
}

func (s *slowLister) ListEmployees(ctx context.Context, id model.CompanyID) ([]model.Employee, error) {
	s.calls.Add(1)
	time.Sleep(s.delay)
	if s.err != nil {
		return nil, s.err
	}
	return s.Store.ListEmployees(ctx, id)
}

// gatedLister holds its first load until release is closed.
type gatedLister struct {
	repository.Store
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedLister(store repository.Store) *gatedLister {
	return &gatedLister{Store: store, entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedLister) ListEmployees(ctx context.Context, id model.CompanyID) ([]model.Employee, error) {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return g.Store.ListEmployees(ctx, id)
}

type rebuildResult struct {
	employees int
	err       error
}

func rebuildAsync(ctx context.Context, idx *roster.Index, id model.CompanyID) <-chan rebuildResult {
	out := make(chan rebuildResult, 1)
	go func() {
		m, err := idx.Rebuild(ctx, id)
		if err != nil {
			out <- rebuildResult{err: err}
			return
		}
		out <- rebuildResult{employees: m.Employees()}
	}()
	return out
}

func TestIndexRebuildDuringCommit(t *testing.T) {
	Convey("Given a rebuild that is still reading the roster", t, func() {
		ctx := context.Background()
		mem := repository.NewMemoryStore()
		c, err := mem.InsertCompany(ctx, "Acme")
		So(err, ShouldBeNil)
		_, err = mem.InsertEmployee(ctx, model.EmployeeDraft{CompanyID: c.ID, Name: "Ana"}, []model.Embedding{{0, 0}})
		So(err, ShouldBeNil)
		lister := newGatedLister(mem)
		idx, err := roster.New(lister, 0.55)
		So(err, ShouldBeNil)

		first := rebuildAsync(ctx, idx, c.ID)
		<-lister.entered

		Convey("When Bruno commits and requests his own rebuild", func() {
			_, err := mem.InsertEmployee(ctx, model.EmployeeDraft{CompanyID: c.ID, Name: "Bruno"}, []model.Embedding{{5, 5}})
			So(err, ShouldBeNil)
			second := rebuildAsync(ctx, idx, c.ID)
			time.Sleep(20 * time.Millisecond)
			close(lister.release)

			r1, r2 := <-first, <-second

			Convey("Then his rebuild and the current snapshot include him", func() {
				So(r1.err, ShouldBeNil)
				So(r2.err, ShouldBeNil)
				So(r2.employees, ShouldEqual, 2)
				cur, err := idx.Current(ctx, c.ID)
				So(err, ShouldBeNil)
				So(cur.Employees(), ShouldEqual, 2)
			})
		})

		Convey("When the first caller gives up", func() {
			cctx, cancel := context.WithCancel(ctx)
			close(lister.release)
			<-first
			lister2 := newGatedLister(mem)
			idx2, err := roster.New(lister2, 0.55)
			So(err, ShouldBeNil)
			cancelled := rebuildAsync(cctx, idx2, c.ID)
			<-lister2.entered
			joined := rebuildAsync(ctx, idx2, c.ID)
			cancel()
			time.Sleep(20 * time.Millisecond)
			close(lister2.release)

			Convey("Then the shared load still completes for everyone", func() {
				So((<-cancelled).err, ShouldBeNil)
				r := <-joined
				So(r.err, ShouldBeNil)
				So(r.employees, ShouldEqual, 1)
			})
		})
	})
}

func TestIndex(t *testing.T) {
	Convey("Given a company with one employee", t, func() {
		ctx := context.Background()
		mem := repository.NewMemoryStore()
		c, err := mem.InsertCompany(ctx, "Acme")
		So(err, ShouldBeNil)
		ana, err := mem.InsertEmployee(ctx, model.EmployeeDraft{CompanyID: c.ID, Name: "Ana"}, []model.Embedding{{0, 0}})
		So(err, ShouldBeNil)
		lister := &slowLister{Store: mem, delay: 20 * time.Millisecond}
		idx, err := roster.New(lister, 0.55)
		So(err, ShouldBeNil)

		Convey("When the snapshot is requested", func() {
			m, err := idx.Current(ctx, c.ID)

			Convey("Then it is built lazily and matches", func() {
				So(err, ShouldBeNil)
				res, err := m.Match(model.Embedding{0.3, 0})
				So(err, ShouldBeNil)
				So(res.EmployeeID, ShouldEqual, ana.ID)
			})

			Convey("And a new employee is enrolled then rebuilt", func() {
				bo, err := mem.InsertEmployee(ctx, model.EmployeeDraft{CompanyID: c.ID, Name: "Bo"}, []model.Embedding{{5, 5}})
				So(err, ShouldBeNil)
				old := m
				fresh, err := idx.Rebuild(ctx, c.ID)
				So(err, ShouldBeNil)

				Convey("Then new lookups see Bo and the old snapshot is unchanged", func() {
					res, err := fresh.Match(model.Embedding{5, 5.1})
					So(err, ShouldBeNil)
					So(res.EmployeeID, ShouldEqual, bo.ID)
					res, err = old.Match(model.Embedding{5, 5.1})
					So(err, ShouldBeNil)
					So(res.Known, ShouldBeFalse)
					cur, err := idx.Current(ctx, c.ID)
					So(err, ShouldBeNil)
					So(cur, ShouldEqual, fresh)
				})
			})
		})

		Convey("When many rebuilds are requested at once", func() {
			var wg sync.WaitGroup
			for range 10 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, _ = idx.Rebuild(ctx, c.ID)
				}()
			}
			wg.Wait()

			Convey("Then they collapse into fewer loads", func() {
				So(lister.calls.Load(), ShouldBeLessThan, 10)
			})
		})

		Convey("When the store fails", func() {
			lister.err = model.StorageError("list employees", errors.New("down"))
			_, err := idx.Rebuild(ctx, c.ID)

			Convey("Then the storage error surfaces", func() {
				So(errors.Is(err, model.ErrStorage), ShouldBeTrue)
			})
		})
	})

	Convey("Given invalid construction", t, func() {
		_, err := roster.New(repository.NewMemoryStore(), 0)
		So(err, ShouldNotBeNil)
		_, err = roster.New(nil, 0.5)
		So(err, ShouldNotBeNil)
	})
}
