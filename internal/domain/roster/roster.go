// Package roster keeps an up-to-date matcher snapshot per company.
package roster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/okian/rollcall/internal/domain/matcher"
	"github.com/okian/rollcall/internal/domain/model"
	"github.com/okian/rollcall/pkg/logger"
	"github.com/okian/rollcall/pkg/metrics"
)

// Lister loads the employees of a company.
type Lister interface {
	ListEmployees(ctx context.Context, companyID model.CompanyID) ([]model.Employee, error)
}

// Index holds one immutable matcher per company. Readers get whatever
// snapshot is current; a rebuild swaps in a new one without blocking them.
type Index struct {
	store     Lister
	threshold float64
	log       logger.Logger

	mu        sync.Mutex
	snapshots map[model.CompanyID]*slot
	group     singleflight.Group
}

// slot is one company's snapshot. requested counts rebuild requests; a
// load covers every request counted before it started reading the store.
type slot struct {
	current   atomic.Pointer[matcher.Matcher]
	requested atomic.Uint64
}

type loaded struct {
	m   *matcher.Matcher
	gen uint64
}

// Option configures an Index.
type Option func(*Index)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(i *Index) {
		if l != nil {
			i.log = l
		}
	}
}

// New creates an empty index that builds matchers with threshold.
func New(store Lister, threshold float64, opts ...Option) (*Index, error) {
	if store == nil {
		return nil, errors.New("roster: nil store")
	}
	if threshold <= 0 {
		return nil, matcher.ErrInvalidThreshold
	}
	idx := &Index{
		store:     store,
		threshold: threshold,
		log:       logger.Get().Named("roster"),
		snapshots: make(map[model.CompanyID]*slot),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx, nil
}

func (i *Index) slot(companyID model.CompanyID) *slot {
	i.mu.Lock()
	defer i.mu.Unlock()
	s, ok := i.snapshots[companyID]
	if !ok {
		s = &slot{}
		i.snapshots[companyID] = s
	}
	return s
}

// Current returns the company's matcher, building it on first use.
func (i *Index) Current(ctx context.Context, companyID model.CompanyID) (*matcher.Matcher, error) {
	if m := i.slot(companyID).current.Load(); m != nil {
		return m, nil
	}
	return i.Rebuild(ctx, companyID)
}

// Rebuild reloads the company's roster and swaps in a fresh matcher.
// Concurrent rebuilds for one company share a load, but the returned
// matcher always comes from a load that began after this call, so writes
// committed before Rebuild are visible. The load ignores cancellation of
// ctx since other callers may be waiting on it.
func (i *Index) Rebuild(ctx context.Context, companyID model.CompanyID) (*matcher.Matcher, error) {
	s := i.slot(companyID)
	want := s.requested.Add(1)
	loadCtx := context.WithoutCancel(ctx)

	for {
		v, err, _ := i.group.Do(string(companyID), func() (any, error) {
			return i.load(loadCtx, companyID, s)
		})
		if err != nil {
			return nil, err
		}
		if r := v.(loaded); r.gen >= want {
			return r.m, nil
		}
	}
}

// load runs at most once at a time per company under the singleflight key.
func (i *Index) load(ctx context.Context, companyID model.CompanyID, s *slot) (loaded, error) {
	gen := s.requested.Load()
	start := time.Now()
	employees, err := i.store.ListEmployees(ctx, companyID)
	if err != nil {
		return loaded{}, fmt.Errorf("load roster: %w", err)
	}
	m, err := matcher.BuildFromEmployees(employees, i.threshold)
	if err != nil {
		return loaded{}, fmt.Errorf("build matcher: %w", err)
	}
	s.current.Store(m)

	metrics.RecordRosterRebuild(float64(time.Since(start).Microseconds()) / 1000)
	metrics.UpdateRosterSize(m.Employees(), m.References())
	i.log.Info(ctx, "roster rebuilt",
		logger.String("company_id", string(companyID)),
		logger.Int("employees", m.Employees()),
		logger.Int("references", m.References()),
		logger.Duration("took", time.Since(start)))
	return loaded{m: m, gen: gen}, nil
}

// Threshold returns the acceptance threshold used for new matchers.
func (i *Index) Threshold() float64 { return i.threshold }
