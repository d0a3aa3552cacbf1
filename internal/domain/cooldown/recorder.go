// Package cooldown decides whether a recognised employee gets a new
// attendance record or is suppressed as a repeat sighting of the same
// presence.
package cooldown

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/rollcall/internal/domain/model"
	"github.com/okian/rollcall/pkg/logger"
	"github.com/okian/rollcall/pkg/metrics"
)

// Outcome of a TryRecord call.
type Outcome int

const (
	// Recorded means a new attendance record was written.
	Recorded Outcome = iota + 1
	// Suppressed means the employee was already recorded inside the window.
	Suppressed
)

func (o Outcome) String() string {
	switch o {
	case Recorded:
		return "recorded"
	case Suppressed:
		return "suppressed"
	default:
		return "unknown"
	}
}

// Result describes a TryRecord decision. Record is set when Outcome is
// Recorded; Latest is the record that caused suppression when known.
type Result struct {
	Outcome Outcome
	Record  *model.AttendanceRecord
	Latest  *model.AttendanceRecord
}

// Store is the slice of the roster store the recorder needs.
type Store interface {
	LatestAttendance(ctx context.Context, employeeID model.EmployeeID) (*model.AttendanceRecord, error)
	InsertAttendance(ctx context.Context, rec model.AttendanceRecord, window time.Duration) (model.AttendanceRecord, error)
}

// Recorder enforces one attendance record per employee per window.
// Within a process a per-employee lock makes read-then-write atomic; across
// processes the store's conditional insert has the final say.
type Recorder struct {
	store  Store
	window time.Duration
	locks  *keyLock
	log    logger.Logger
}

// New creates a Recorder with cooldown window w.
func New(store Store, w time.Duration, opts ...Option) (*Recorder, error) {
	if store == nil {
		return nil, errors.New("cooldown: nil store")
	}
	if w < time.Minute {
		return nil, ErrInvalidWindow
	}
	r := &Recorder{
		store:  store,
		window: w,
		locks:  newKeyLock(),
		log:    logger.Get().Named("cooldown"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Window returns the configured cooldown window.
func (r *Recorder) Window() time.Duration { return r.window }

// Eligible reports whether a new record at now is allowed given the
// employee's latest record. Exactly one window after the latest record is
// eligible; a latest record in the future of now is not.
func Eligible(latest *model.AttendanceRecord, now time.Time, window time.Duration) bool {
	if latest == nil {
		return true
	}
	return now.Sub(latest.CapturedAt) >= window
}

// TryRecord records attendance for employeeID at now unless a record
// already exists inside the window. Storage failures wrap model.ErrStorage;
// a cancelled ctx abandons the attempt before any write.
func (r *Recorder) TryRecord(ctx context.Context, employeeID model.EmployeeID, companyID model.CompanyID, now time.Time, confidence float64) (Result, error) {
	if employeeID == "" {
		return Result{}, model.NewValidationError("employee_id", "must not be empty")
	}

	unlock, err := r.locks.Lock(ctx, string(employeeID))
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	latest, err := r.store.LatestAttendance(ctx, employeeID)
	if err != nil {
		return Result{}, storageErr(ctx, "latest attendance", err)
	}
	if !Eligible(latest, now, r.window) {
		metrics.RecordAttendanceSuppressed()
		r.log.Debug(ctx, "attendance suppressed",
			logger.String("employee_id", string(employeeID)),
			logger.Duration("since_latest", now.Sub(latest.CapturedAt)))
		return Result{Outcome: Suppressed, Latest: latest}, nil
	}

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	rec, err := r.store.InsertAttendance(ctx, model.AttendanceRecord{
		CompanyID:  companyID,
		EmployeeID: employeeID,
		CapturedAt: now,
		Confidence: confidence,
	}, r.window)
	if errors.Is(err, model.ErrDuplicateSuppressed) {
		// another process won the race
		metrics.RecordAttendanceSuppressed()
		r.log.Debug(ctx, "attendance suppressed by store",
			logger.String("employee_id", string(employeeID)))
		return Result{Outcome: Suppressed}, nil
	}
	if err != nil {
		return Result{}, storageErr(ctx, "insert attendance", err)
	}

	metrics.RecordAttendanceRecorded()
	r.log.Info(ctx, "attendance recorded",
		logger.String("employee_id", string(employeeID)),
		logger.String("company_id", string(companyID)),
		logger.Float64("distance", confidence))
	return Result{Outcome: Recorded, Record: &rec}, nil
}

// storageErr keeps context errors as they are and makes sure everything
// else matches model.ErrStorage.
func storageErr(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return err
	}
	if errors.Is(err, model.ErrStorage) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return model.StorageError(op, err)
}
